package messages

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/LeonardoBeccarini/farm_simulator/internal/model/entities"
)

// DeviceCommand is an inbound actuator command from the backend. Two shapes
// are accepted:
//
//	simple:   {"deviceId": "fan-1", "status": "ON", "level": 0.5}
//	metadata: {"deviceUuid": "x9", "metadata": {"stateName": "power", "newValue": "on", "deviceName": "Grow Light 2"}}
//
// It is never stored: Resolve folds it into a DeviceUpdate.
type DeviceCommand struct {
	DeviceID   string           `json:"deviceId,omitempty"`
	DeviceUUID string           `json:"deviceUuid,omitempty"`
	Status     string           `json:"status,omitempty"`
	Level      *float64         `json:"level,omitempty"`
	Type       string           `json:"type,omitempty"`
	DeviceType string           `json:"deviceType,omitempty"`
	DeviceName string           `json:"deviceName,omitempty"`
	Metadata   *CommandMetadata `json:"metadata,omitempty"`
}

// CommandMetadata is the backend device-state-change envelope.
type CommandMetadata struct {
	DeviceUUID string `json:"deviceUuid,omitempty"`
	StateName  string `json:"stateName,omitempty"`
	NewValue   string `json:"newValue,omitempty"`
	DeviceType string `json:"deviceType,omitempty"`
	DeviceName string `json:"deviceName,omitempty"`
}

// DeviceUpdate is the canonical form of a command, independent of its shape.
type DeviceUpdate struct {
	ID           string
	Status       *entities.DeviceStatus
	Level        *float64
	Type         string
	TypeInferred bool // Type comes from the device name, not from the command
}

// Resolve maps either shape onto a DeviceUpdate. ok is false when the command
// carries no usable device identifier.
func (c DeviceCommand) Resolve() (DeviceUpdate, bool) {
	var u DeviceUpdate
	var name string

	if m := c.Metadata; m != nil {
		u.ID = firstNonEmpty(c.DeviceUUID, m.DeviceUUID)
		u.Status = ParseStatus(m.NewValue)
		u.Type = firstNonEmpty(c.DeviceType, m.DeviceType)
		name = firstNonEmpty(m.DeviceName, c.DeviceName)
	} else {
		u.ID = firstNonEmpty(c.DeviceID, c.DeviceUUID)
		u.Status = ParseStatus(c.Status)
		if c.Level != nil && isFinite(*c.Level) {
			u.Level = c.Level
		}
		u.Type = firstNonEmpty(c.Type, c.DeviceType)
		name = c.DeviceName
	}

	u.ID = strings.TrimSpace(u.ID)
	if u.ID == "" {
		return DeviceUpdate{}, false
	}
	if u.Type == "" && strings.TrimSpace(name) != "" {
		u.Type = InferDeviceType(name)
		u.TypeInferred = true
	}
	return u, true
}

// ParseStatus maps on/true/1 and off/false/0 (any case) to a status; anything
// else yields nil.
func ParseStatus(v string) *entities.DeviceStatus {
	var s entities.DeviceStatus
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "1":
		s = entities.StatusOn
	case "off", "false", "0":
		s = entities.StatusOff
	default:
		return nil
	}
	return &s
}

// keyword table, first match wins
var deviceKeywords = []struct {
	keywords []string
	devType  string
}{
	{[]string{"pump"}, "WATER_PUMP"},
	{[]string{"fan"}, "FAN"},
	{[]string{"air conditioner", "ac"}, "AC"},
	{[]string{"heater"}, "HEATER"},
	{[]string{"humidifier"}, "HUMIDIFIER"},
	{[]string{"light"}, "GROW_LIGHT"},
}

// InferDeviceType guesses a device type from a human readable name.
func InferDeviceType(name string) string {
	n := strings.ToLower(name)
	for _, k := range deviceKeywords {
		for _, kw := range k.keywords {
			if strings.Contains(n, kw) {
				return k.devType
			}
		}
	}
	return entities.UnknownDeviceType
}

// UnmarshalJSON accetta id, level e newValue anche come numeri/booleani/stringhe.
func (c *DeviceCommand) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*c = DeviceCommand{
		DeviceID:   scalarString(m["deviceId"]),
		DeviceUUID: scalarString(m["deviceUuid"]),
		Status:     scalarString(m["status"]),
		Type:       scalarString(m["type"]),
		DeviceType: scalarString(m["deviceType"]),
		DeviceName: scalarString(m["deviceName"]),
	}
	if f, ok := toF64(m["level"]); ok {
		c.Level = &f
	}
	if md, ok := m["metadata"].(map[string]any); ok {
		c.Metadata = &CommandMetadata{
			DeviceUUID: scalarString(md["deviceUuid"]),
			StateName:  scalarString(md["stateName"]),
			NewValue:   scalarString(md["newValue"]),
			DeviceType: scalarString(md["deviceType"]),
			DeviceName: scalarString(md["deviceName"]),
		}
	}
	return nil
}

// ===== Helpers =====

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	}
	return ""
}

func toF64(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, isFinite(t)
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(t), ",", "."), 64)
		if err == nil && isFinite(f) {
			return f, true
		}
	}
	return 0, false
}

func isFinite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
