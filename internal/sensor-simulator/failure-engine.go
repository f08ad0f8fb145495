package sensor_simulator

import (
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/farm_simulator/internal/model/entities"
)

// FailureKind names an environment shock.
type FailureKind string

const (
	FailureNone             FailureKind = ""
	FailureSoilStress       FailureKind = "soil_stress"
	FailureTemperatureSpike FailureKind = "temperature_spike"
	FailureHumidityDrop     FailureKind = "humidity_drop"

	// DefaultFailureProbability is the per-tick chance of an environment shock.
	DefaultFailureProbability = 0.01
)

var failureKinds = []FailureKind{FailureSoilStress, FailureTemperatureSpike, FailureHumidityDrop}

// DeviceTable is the part of the device manager the failure path needs.
type DeviceTable interface {
	List() []entities.DeviceState
	SwitchOff(id string) bool
}

// FailureEngine injects random faults: environment shocks with probability p
// and device breakdowns with probability p/2, drawn independently.
type FailureEngine struct {
	p   float64
	rng *rand.Rand
	log zerolog.Logger
}

func NewFailureEngine(p float64, rng *rand.Rand, log zerolog.Logger) (*FailureEngine, error) {
	if p < 0 || p > 1 {
		return nil, fmt.Errorf("failure: probability %g outside [0,1]", p)
	}
	return &FailureEngine{p: p, rng: rng, log: log}, nil
}

func (e *FailureEngine) Probability() float64 { return e.p }

// Inject may apply one of three shocks to env and returns which one.
func (e *FailureEngine) Inject(env *entities.EnvironmentState) FailureKind {
	if e.rng.Float64() >= e.p {
		return FailureNone
	}
	kind := failureKinds[e.rng.IntN(len(failureKinds))]
	switch kind {
	case FailureSoilStress:
		env.SoilMoisture -= 10
	case FailureTemperatureSpike:
		env.Temperature += 5
	case FailureHumidityDrop:
		env.Humidity -= 15
	}
	env.Clamp()
	e.log.Warn().Str("kind", string(kind)).Msg("failure: environment shock injected")
	return kind
}

// InjectDeviceFailure picks one device uniformly and, if it is ON, switches
// it OFF. Returns the id of the device that broke, if any.
func (e *FailureEngine) InjectDeviceFailure(table DeviceTable) (string, bool) {
	if e.rng.Float64() >= e.p*0.5 {
		return "", false
	}
	devices := table.List()
	if len(devices) == 0 {
		return "", false
	}
	d := devices[e.rng.IntN(len(devices))]
	if !d.IsOn() || !table.SwitchOff(d.ID) {
		return "", false
	}
	e.log.Warn().Str("device", d.ID).Str("type", d.Type).Msg("failure: device stopped working")
	return d.ID, true
}
