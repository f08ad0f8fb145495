package sensor_simulator

import (
	"math"

	"github.com/LeonardoBeccarini/farm_simulator/internal/model/entities"
	"github.com/LeonardoBeccarini/farm_simulator/internal/model/messages"
)

// SensorEngine produces rounded readings. It never mutates the environment.
type SensorEngine struct{}

// Precision returns the number of decimals reported for v.
func Precision(v entities.Variable) int {
	if v == entities.LightLux {
		return 0
	}
	return 2
}

func (SensorEngine) Read(env entities.EnvironmentState) messages.SensorReadings {
	var out messages.SensorReadings
	for _, v := range entities.Variables {
		x, _ := env.Get(v)
		out.Set(v, Round(x, Precision(v)))
	}
	return out
}

// ReadSensor reads a single variable with the same precision as Read.
func (SensorEngine) ReadSensor(env entities.EnvironmentState, v entities.Variable) (float64, bool) {
	x, ok := env.Get(v)
	if !ok {
		return 0, false
	}
	return Round(x, Precision(v)), true
}

// Round rounds half away from zero to the given decimals.
func Round(x float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	if math.IsInf(x*p, 0) {
		// already integral at this magnitude
		return x
	}
	return math.Round(x*p) / p
}
