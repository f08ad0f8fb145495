package entities

// CropState tracks one crop: growth 0 (seed) → 1 (harvest), health 0 → 100.
type CropState struct {
	CropType    string  `json:"crop_type"`
	GrowthStage float64 `json:"growth_stage"`
	HealthScore float64 `json:"health_score"`
	YieldScore  float64 `json:"yield_score"` // GrowthStage × HealthScore
}

func NewCropState(cropType string) CropState {
	return CropState{CropType: cropType, HealthScore: 100}
}
