package entities

// DeviceStatus indicates whether an actuator is running.
type DeviceStatus string

const (
	StatusOff DeviceStatus = "OFF"
	StatusOn  DeviceStatus = "ON"
)

// UnknownDeviceType is assigned when no type is given and none can be inferred.
const UnknownDeviceType = "UNKNOWN"

// DeviceState represents a single actuator in the simulated area.
// Type is a plain string: new types only need a catalog entry.
type DeviceState struct {
	ID     string       `json:"id"`
	Type   string       `json:"type"`
	Status DeviceStatus `json:"status"`
	Level  *float64     `json:"level,omitempty"` // intensity; nil means full effect
}

func (d DeviceState) IsOn() bool { return d.Status == StatusOn }

// EffectiveLevel is the multiplier applied to the device effect model.
func (d DeviceState) EffectiveLevel() float64 {
	if d.Level == nil {
		return 1
	}
	return *d.Level
}

// Clone copies the device including its level pointer target.
func (d DeviceState) Clone() DeviceState {
	out := d
	if d.Level != nil {
		l := *d.Level
		out.Level = &l
	}
	return out
}

// DeviceSpec is a static device list entry.
type DeviceSpec struct {
	ID    string   `json:"id" yaml:"id"`
	Type  string   `json:"type" yaml:"type"`
	Level *float64 `json:"level,omitempty" yaml:"level,omitempty"`
}
