package entities

import "math"

// Variable names one continuous environment quantity. It is an open string so
// catalogs can key on it without a schema change.
type Variable string

const (
	Temperature  Variable = "temperature"
	Humidity     Variable = "humidity"
	SoilMoisture Variable = "soilMoisture"
	LightLux     Variable = "lightLux"
	OxygenPPM    Variable = "oxygenPPM"
	PH           Variable = "pH"
)

// Variables lists the six environment variables in canonical order.
var Variables = []Variable{Temperature, Humidity, SoilMoisture, LightLux, OxygenPPM, PH}

// Bounds is a closed physical interval; Max may be +Inf.
type Bounds struct {
	Min float64
	Max float64
}

func (b Bounds) Clamp(x float64) float64 {
	if math.IsNaN(x) {
		return b.Min
	}
	if x < b.Min {
		return b.Min
	}
	if x > b.Max {
		return b.Max
	}
	if math.IsInf(x, 1) {
		return math.MaxFloat64
	}
	return x
}

func (b Bounds) Contains(x float64) bool { return x >= b.Min && x <= b.Max }

// PhysicalRanges are the valid ranges every mutation is clamped into.
var PhysicalRanges = map[Variable]Bounds{
	Temperature:  {Min: -10, Max: 50},
	Humidity:     {Min: 0, Max: 100},
	SoilMoisture: {Min: 0, Max: 100},
	LightLux:     {Min: 0, Max: math.Inf(1)},
	OxygenPPM:    {Min: 0, Max: math.Inf(1)},
	PH:           {Min: 0, Max: 14},
}

// EnvironmentState is the single mutable record of the simulated area.
type EnvironmentState struct {
	Temperature  float64 `json:"temperature"`  // °C
	Humidity     float64 `json:"humidity"`     // %
	SoilMoisture float64 `json:"soilMoisture"` // %
	LightLux     float64 `json:"lightLux"`     // lux
	OxygenPPM    float64 `json:"oxygenPPM"`
	PH           float64 `json:"pH"` // 0..14
}

// DefaultEnvironment is used when the simulation catalog has no initial values.
func DefaultEnvironment() EnvironmentState {
	return EnvironmentState{
		Temperature:  22,
		Humidity:     60,
		SoilMoisture: 50,
		LightLux:     10000,
		OxygenPPM:    21,
		PH:           7.0,
	}
}

// field ritorna il puntatore al campo per nome; nil se la variabile non esiste.
func (e *EnvironmentState) field(v Variable) *float64 {
	switch v {
	case Temperature:
		return &e.Temperature
	case Humidity:
		return &e.Humidity
	case SoilMoisture:
		return &e.SoilMoisture
	case LightLux:
		return &e.LightLux
	case OxygenPPM:
		return &e.OxygenPPM
	case PH:
		return &e.PH
	}
	return nil
}

// Get returns the value of v and false when v is not an environment variable.
func (e *EnvironmentState) Get(v Variable) (float64, bool) {
	if p := e.field(v); p != nil {
		return *p, true
	}
	return 0, false
}

// Add adds d to v. Unknown variables and NaN deltas are ignored and reported
// as false; an overflowing sum saturates at ±MaxFloat64.
func (e *EnvironmentState) Add(v Variable, d float64) bool {
	p := e.field(v)
	if p == nil || math.IsNaN(d) {
		return false
	}
	x := *p + d
	switch {
	case math.IsNaN(x):
		return false
	case math.IsInf(x, 1):
		x = math.MaxFloat64
	case math.IsInf(x, -1):
		x = -math.MaxFloat64
	}
	*p = x
	return true
}

func (e *EnvironmentState) Set(v Variable, x float64) bool {
	p := e.field(v)
	if p == nil {
		return false
	}
	*p = x
	return true
}

// Clamp forces every variable into its physical range.
func (e *EnvironmentState) Clamp() {
	for _, v := range Variables {
		p := e.field(v)
		*p = PhysicalRanges[v].Clamp(*p)
	}
}

// InRange reports whether every variable is finite and within its physical range.
func (e EnvironmentState) InRange() bool {
	for _, v := range Variables {
		x, _ := e.Get(v)
		if math.IsNaN(x) || math.IsInf(x, 0) || !PhysicalRanges[v].Contains(x) {
			return false
		}
	}
	return true
}
