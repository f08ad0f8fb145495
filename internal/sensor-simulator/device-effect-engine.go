package sensor_simulator

import (
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/farm_simulator/internal/catalog"
	"github.com/LeonardoBeccarini/farm_simulator/internal/model/entities"
)

// DeviceEffectEngine adds the effect of every running device to the environment.
// Device types without a catalog model are inert.
type DeviceEffectEngine struct {
	cat *catalog.Catalog
	log zerolog.Logger
}

func NewDeviceEffectEngine(cat *catalog.Catalog, log zerolog.Logger) *DeviceEffectEngine {
	return &DeviceEffectEngine{cat: cat, log: log}
}

// Apply sums effect×level for ON devices and clamps once at the end, so the
// result does not depend on device order.
func (e *DeviceEffectEngine) Apply(devices []entities.DeviceState, env *entities.EnvironmentState) {
	for _, d := range devices {
		if !d.IsOn() {
			continue
		}
		m, ok := e.cat.DeviceModel(d.Type)
		if !ok {
			e.log.Debug().Str("device", d.ID).Str("type", d.Type).Msg("effects: no model, device inert")
			continue
		}
		lvl := d.EffectiveLevel()
		for v, delta := range m.Effects {
			env.Add(v, delta*lvl)
		}
	}
	env.Clamp()
}
