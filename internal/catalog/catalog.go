// Package catalog loads the read-only data that drives the simulation: drift
// ranges, device effect models, crop models, the simulation defaults and the
// telemetry bindings. A Catalog is built once at startup and handed to the
// engines; nothing in it changes afterwards.
package catalog

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LeonardoBeccarini/farm_simulator/internal/model/entities"
)

//go:embed defaults
var embedded embed.FS

// ErrNoDrift is returned when the catalog directory has no drift file.
var ErrNoDrift = errors.New("catalog: drift model not found")

var extensions = []string{".json", ".yaml", ".yml"}

// Range is a [min, max] pair, written as a two element array.
type Range struct {
	Min float64
	Max float64
}

func (r *Range) UnmarshalYAML(n *yaml.Node) error {
	var pair []float64
	if err := n.Decode(&pair); err != nil {
		return fmt.Errorf("range: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("range: want [min, max], got %d values", len(pair))
	}
	r.Min, r.Max = pair[0], pair[1]
	return nil
}

func (r Range) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("[%g,%g]", r.Min, r.Max)), nil
}

// Contains is inclusive on both ends.
func (r Range) Contains(x float64) bool { return x >= r.Min && x <= r.Max }

// DeviceModel describes what one active device of a type adds per tick.
type DeviceModel struct {
	Type    string                        `yaml:"type" json:"type"`
	Effects map[entities.Variable]float64 `yaml:"effects" json:"effects"`
}

// CropModel holds the optimal ranges and rates for one crop type.
type CropModel struct {
	Name            string                      `yaml:"name" json:"name"`
	Optimal         map[entities.Variable]Range `yaml:"optimal" json:"optimal"`
	GrowthRate      float64                     `yaml:"growthRate" json:"growthRate"`
	HealthDecayRate float64                     `yaml:"healthDecayRate" json:"healthDecayRate"`
}

// Simulation holds the runtime defaults.
type Simulation struct {
	TickInterval       time.Duration                 `yaml:"tickInterval"`
	FailureProbability float64                       `yaml:"failureProbability"`
	InitialEnvironment map[entities.Variable]float64 `yaml:"initialEnvironment"`
	Devices            []entities.DeviceSpec         `yaml:"devices"`
	Crops              []string                      `yaml:"crops"`
}

// DefaultSimulation is used for every key the simulation file leaves out.
func DefaultSimulation() Simulation {
	return Simulation{
		TickInterval:       5 * time.Second,
		FailureProbability: 0.01,
		Devices: []entities.DeviceSpec{
			{ID: "waterPump-1", Type: "WATER_PUMP"},
			{ID: "humidifier-1", Type: "HUMIDIFIER"},
			{ID: "fan-1", Type: "FAN"},
			{ID: "heater-1", Type: "HEATER"},
			{ID: "growLight-1", Type: "GROW_LIGHT"},
		},
	}
}

// Environment returns the initial state: defaults overridden by the catalog.
func (s Simulation) Environment() entities.EnvironmentState {
	env := entities.DefaultEnvironment()
	for v, x := range s.InitialEnvironment {
		env.Set(v, x)
	}
	env.Clamp()
	return env
}

// TelemetryBinding maps one backend variable onto an environment reading.
type TelemetryBinding struct {
	VariableName string            `yaml:"variableName"`
	Source       entities.Variable `yaml:"source"`
	Decimals     int               `yaml:"decimals"`
	Scale        float64           `yaml:"scale"`
}

// Factor is the multiplier applied to the reading; zero means 1.
func (b TelemetryBinding) Factor() float64 {
	if b.Scale == 0 {
		return 1
	}
	return b.Scale
}

// SensorBinding lists the variables one backend sensor reports.
type SensorBinding struct {
	SensorID   string             `yaml:"sensorId"`
	SensorName string             `yaml:"sensorName"`
	Telemetry  []TelemetryBinding `yaml:"telemetry"`
}

// Catalog is immutable after Load.
type Catalog struct {
	Drift      map[entities.Variable]Range
	Simulation Simulation
	Sensors    []SensorBinding

	devices map[string]DeviceModel
	crops   map[string]CropModel
}

// Default loads the catalog compiled into the binary.
func Default() (*Catalog, error) {
	sub, err := fs.Sub(embedded, "defaults")
	if err != nil {
		return nil, err
	}
	return LoadFS(sub)
}

// Load reads a catalog directory from disk.
func Load(dir string) (*Catalog, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("catalog: %s is not a directory", dir)
	}
	return LoadFS(os.DirFS(dir))
}

// LoadFS reads drift, simulation, sensors and the devices/ and crops/
// directories from fsys. Only the drift model is mandatory.
func LoadFS(fsys fs.FS) (*Catalog, error) {
	c := &Catalog{
		Simulation: DefaultSimulation(),
		devices:    map[string]DeviceModel{},
		crops:      map[string]CropModel{},
	}

	raw, name, err := readAny(fsys, "drift")
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNoDrift
	}
	if err := validateDrift(raw); err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", name, err)
	}
	if err := yaml.Unmarshal(raw, &c.Drift); err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", name, err)
	}
	for _, v := range entities.Variables {
		r := c.Drift[v]
		if r.Min > r.Max || math.IsNaN(r.Min) || math.IsNaN(r.Max) {
			return nil, fmt.Errorf("catalog: %s: invalid range for %s: [%g, %g]", name, v, r.Min, r.Max)
		}
	}

	if raw, name, err = readAny(fsys, "simulation"); err != nil {
		return nil, err
	} else if raw != nil {
		if err := yaml.Unmarshal(raw, &c.Simulation); err != nil {
			return nil, fmt.Errorf("catalog: %s: %w", name, err)
		}
	}
	if c.Simulation.FailureProbability < 0 || c.Simulation.FailureProbability > 1 {
		return nil, fmt.Errorf("catalog: failureProbability %g outside [0,1]", c.Simulation.FailureProbability)
	}

	if raw, name, err = readAny(fsys, "sensors"); err != nil {
		return nil, err
	} else if raw != nil {
		if err := yaml.Unmarshal(raw, &c.Sensors); err != nil {
			return nil, fmt.Errorf("catalog: %s: %w", name, err)
		}
	}

	err = eachFile(fsys, "devices", func(stem string, raw []byte) error {
		var m DeviceModel
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return err
		}
		key := m.Type
		if key == "" {
			key = stem
		}
		c.devices[NormalizeDeviceType(key)] = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = eachFile(fsys, "crops", func(stem string, raw []byte) error {
		var m CropModel
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return err
		}
		key := m.Name
		if key == "" {
			key = stem
		}
		c.crops[strings.ToLower(key)] = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// NormalizeDeviceType lower-cases t and strips '_' and '-', so WATER_PUMP,
// water-pump and waterPump all resolve to the same model.
func NormalizeDeviceType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	return strings.NewReplacer("_", "", "-", "").Replace(t)
}

// DeviceModel returns the effect model for a device type.
func (c *Catalog) DeviceModel(deviceType string) (DeviceModel, bool) {
	m, ok := c.devices[NormalizeDeviceType(deviceType)]
	return m, ok
}

// CropModel looks a crop up case-insensitively.
func (c *Catalog) CropModel(cropType string) (CropModel, bool) {
	m, ok := c.crops[strings.ToLower(strings.TrimSpace(cropType))]
	return m, ok
}

// DeviceTypes lists the normalized device types with a model, sorted.
func (c *Catalog) DeviceTypes() []string {
	return sortedKeys(c.devices)
}

// CropTypes lists the known crop types, sorted.
func (c *Catalog) CropTypes() []string {
	return sortedKeys(c.crops)
}

// ===== Helpers =====

// readAny returns the first of name.json/.yaml/.yml; nil data when none exists.
func readAny(fsys fs.FS, name string) ([]byte, string, error) {
	for _, ext := range extensions {
		p := name + ext
		b, err := fs.ReadFile(fsys, p)
		if err == nil {
			return b, p, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, p, fmt.Errorf("catalog: read %s: %w", p, err)
		}
	}
	return nil, "", nil
}

func eachFile(fsys fs.FS, dir string, fn func(stem string, raw []byte) error) error {
	entries, err := fs.ReadDir(fsys, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("catalog: read %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := path.Ext(e.Name())
		if !knownExt(ext) {
			continue
		}
		p := path.Join(dir, e.Name())
		raw, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("catalog: read %s: %w", p, err)
		}
		if err := fn(strings.TrimSuffix(e.Name(), ext), raw); err != nil {
			return fmt.Errorf("catalog: %s: %w", p, err)
		}
	}
	return nil
}

func knownExt(ext string) bool {
	for _, e := range extensions {
		if e == ext {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
