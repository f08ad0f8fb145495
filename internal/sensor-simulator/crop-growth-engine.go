package sensor_simulator

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/farm_simulator/internal/catalog"
	"github.com/LeonardoBeccarini/farm_simulator/internal/model/entities"
)

const (
	// baselineHealth is gained every evaluation before penalties.
	baselineHealth = 0.2
	// lightPenaltyWeight scales the decay when light is out of range.
	lightPenaltyWeight = 0.5
)

type CropGrowthEngine struct {
	cat *catalog.Catalog
	log zerolog.Logger
}

func NewCropGrowthEngine(cat *catalog.Catalog, log zerolog.Logger) *CropGrowthEngine {
	return &CropGrowthEngine{cat: cat, log: log}
}

// Evaluate updates health, growth and yield of crop against env. Unknown crop
// types are logged and left untouched.
func (e *CropGrowthEngine) Evaluate(crop *entities.CropState, env entities.EnvironmentState) {
	m, ok := e.cat.CropModel(crop.CropType)
	if !ok {
		e.log.Warn().Str("crop", crop.CropType).Msg("crop: model not found, skipping")
		return
	}

	delta := baselineHealth
	for v, r := range m.Optimal {
		x, known := env.Get(v)
		if !known || r.Contains(x) {
			continue
		}
		if v == entities.LightLux {
			delta -= m.HealthDecayRate * lightPenaltyWeight
		} else {
			delta -= m.HealthDecayRate
		}
	}

	crop.HealthScore = math.Max(0, math.Min(100, crop.HealthScore+delta))
	crop.GrowthStage = math.Min(1, crop.GrowthStage+m.GrowthRate*crop.HealthScore/100)
	crop.YieldScore = crop.GrowthStage * crop.HealthScore
}
