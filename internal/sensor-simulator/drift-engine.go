package sensor_simulator

import (
	"fmt"
	"math/rand/v2"

	"github.com/LeonardoBeccarini/farm_simulator/internal/catalog"
	"github.com/LeonardoBeccarini/farm_simulator/internal/model/entities"
)

// DriftEngine applica la deriva naturale dell'ambiente ad ogni tick.
type DriftEngine struct {
	ranges map[entities.Variable]catalog.Range
	rng    *rand.Rand
}

// NewDriftEngine fails when any of the six variables has no drift range.
func NewDriftEngine(cat *catalog.Catalog, rng *rand.Rand) (*DriftEngine, error) {
	ranges := make(map[entities.Variable]catalog.Range, len(entities.Variables))
	for _, v := range entities.Variables {
		r, ok := cat.Drift[v]
		if !ok {
			return nil, fmt.Errorf("drift: no range for %s", v)
		}
		if r.Min > r.Max {
			return nil, fmt.Errorf("drift: invalid range for %s: [%g, %g]", v, r.Min, r.Max)
		}
		ranges[v] = r
	}
	return &DriftEngine{ranges: ranges, rng: rng}, nil
}

// ApplyDrift adds a uniform delta in [min, max) to every variable, then clamps.
func (e *DriftEngine) ApplyDrift(env *entities.EnvironmentState) {
	for _, v := range entities.Variables {
		r := e.ranges[v]
		env.Add(v, r.Min+e.rng.Float64()*(r.Max-r.Min))
	}
	env.Clamp()
}
