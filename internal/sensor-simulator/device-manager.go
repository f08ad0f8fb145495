package sensor_simulator

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/farm_simulator/internal/model/entities"
	"github.com/LeonardoBeccarini/farm_simulator/internal/model/messages"
)

// DeviceManager owns the device table. Commands and the failure engine are the
// only writers; everyone else reads copies.
type DeviceManager struct {
	mu      sync.RWMutex
	devices map[string]*entities.DeviceState
	log     zerolog.Logger
}

func NewDeviceManager(log zerolog.Logger) *DeviceManager {
	return &DeviceManager{devices: map[string]*entities.DeviceState{}, log: log}
}

// Initialize registers the static device list, all OFF.
func (m *DeviceManager) Initialize(list []entities.DeviceSpec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range list {
		if s.ID == "" {
			continue
		}
		typ := s.Type
		if typ == "" {
			typ = entities.UnknownDeviceType
		}
		d := &entities.DeviceState{ID: s.ID, Type: typ, Status: entities.StatusOff}
		if s.Level != nil {
			l := *s.Level
			d.Level = &l
		}
		m.devices[s.ID] = d
	}
}

// UpdateDevice folds a command into the table. It returns false, without
// touching anything, only when the command has no usable identifier.
// Unknown ids are provisioned on the fly.
func (m *DeviceManager) UpdateDevice(cmd messages.DeviceCommand) bool {
	u, ok := cmd.Resolve()
	if !ok {
		m.log.Warn().Msg("devices: command missing deviceId/deviceUuid")
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	d, exists := m.devices[u.ID]
	if !exists {
		typ := u.Type
		if typ == "" {
			typ = entities.UnknownDeviceType
		}
		zero := 0.0
		d = &entities.DeviceState{ID: u.ID, Type: typ, Status: entities.StatusOff, Level: &zero}
		m.devices[u.ID] = d
		m.log.Info().Str("device", u.ID).Str("type", typ).Msg("devices: provisioned unknown device")
	} else if u.Type != "" && (!u.TypeInferred || d.Type == entities.UnknownDeviceType) {
		d.Type = u.Type
	}

	if u.Status != nil {
		d.Status = *u.Status
	}
	if u.Level != nil {
		l := *u.Level
		d.Level = &l
	}

	ev := m.log.Info().Str("device", d.ID).Str("type", d.Type).Str("status", string(d.Status))
	if d.Level != nil {
		ev = ev.Float64("level", *d.Level)
	}
	ev.Msg("devices: updated")
	return true
}

// SwitchOff forces a device OFF. It reports whether the device was ON.
func (m *DeviceManager) SwitchOff(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok || !d.IsOn() {
		return false
	}
	d.Status = entities.StatusOff
	return true
}

// List returns copies of every device, sorted by id.
func (m *DeviceManager) List() []entities.DeviceState {
	return m.filter(func(*entities.DeviceState) bool { return true })
}

func (m *DeviceManager) Get(id string) (entities.DeviceState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	if !ok {
		return entities.DeviceState{}, false
	}
	return d.Clone(), true
}

// ByType returns the devices whose type matches t exactly.
func (m *DeviceManager) ByType(t string) []entities.DeviceState {
	return m.filter(func(d *entities.DeviceState) bool { return d.Type == t })
}

// Active returns the ids of the devices currently ON.
func (m *DeviceManager) Active() []string {
	var ids []string
	for _, d := range m.filter(func(d *entities.DeviceState) bool { return d.IsOn() }) {
		ids = append(ids, d.ID)
	}
	return ids
}

func (m *DeviceManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}

// ===== Helpers =====

func (m *DeviceManager) filter(keep func(*entities.DeviceState) bool) []entities.DeviceState {
	m.mu.RLock()
	out := make([]entities.DeviceState, 0, len(m.devices))
	for _, d := range m.devices {
		if keep(d) {
			out = append(out, d.Clone())
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
