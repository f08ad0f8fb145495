package sensor_simulator

import (
	"math/rand/v2"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/farm_simulator/internal/catalog"
	"github.com/LeonardoBeccarini/farm_simulator/internal/model/entities"
	"github.com/LeonardoBeccarini/farm_simulator/internal/model/messages"
)

// TickResult is what one pipeline pass produced.
type TickResult struct {
	Readings      messages.SensorReadings
	EnvFailure    FailureKind
	DeviceFailure string // id of the device switched off, empty if none
}

// Runner chains the engines in a fixed order:
// drift → device effects → env failure → device failure → sensor read → crops.
type Runner struct {
	drift   *DriftEngine
	effects *DeviceEffectEngine
	failure *FailureEngine
	sensor  SensorEngine
	crops   *CropGrowthEngine
}

// NewRunner wires the engines from the catalog. rng must not be shared with
// other goroutines.
func NewRunner(cat *catalog.Catalog, failureProbability float64, rng *rand.Rand, log zerolog.Logger) (*Runner, error) {
	drift, err := NewDriftEngine(cat, rng)
	if err != nil {
		return nil, err
	}
	failure, err := NewFailureEngine(failureProbability, rng, log)
	if err != nil {
		return nil, err
	}
	return &Runner{
		drift:   drift,
		effects: NewDeviceEffectEngine(cat, log),
		failure: failure,
		crops:   NewCropGrowthEngine(cat, log),
	}, nil
}

// Tick runs one pass over env, the device table and crops, in place.
func (r *Runner) Tick(env *entities.EnvironmentState, devices DeviceTable, crops []*entities.CropState) TickResult {
	r.drift.ApplyDrift(env)
	r.effects.Apply(devices.List(), env)

	var res TickResult
	res.EnvFailure = r.failure.Inject(env)
	res.DeviceFailure, _ = r.failure.InjectDeviceFailure(devices)

	res.Readings = r.sensor.Read(*env)

	for _, c := range crops {
		r.crops.Evaluate(c, *env)
	}
	return res
}
