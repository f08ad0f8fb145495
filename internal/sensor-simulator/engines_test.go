package sensor_simulator

import (
	"math"
	"math/rand/v2"
	"testing"
	"testing/fstest"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/farm_simulator/internal/catalog"
	"github.com/LeonardoBeccarini/farm_simulator/internal/model/entities"
)

const zeroDrift = `{"temperature":[0,0],"humidity":[0,0],"soilMoisture":[0,0],"lightLux":[0,0],"oxygenPPM":[0,0],"pH":[0,0]}`

// testCatalog builds a catalog with three device models and one crop.
func testCatalog(t *testing.T, drift string) *catalog.Catalog {
	t.Helper()
	c, err := catalog.LoadFS(fstest.MapFS{
		"drift.json":             {Data: []byte(drift)},
		"simulation.json":        {Data: []byte(`{"crops":["tomato"],"failureProbability":0}`)},
		"devices/fan.json":       {Data: []byte(`{"type":"FAN","effects":{"temperature":-0.5,"humidity":-0.3}}`)},
		"devices/heater.json":    {Data: []byte(`{"type":"HEATER","effects":{"temperature":1.0}}`)},
		"devices/waterpump.json": {Data: []byte(`{"type":"WATER_PUMP","effects":{"soilMoisture":2.0}}`)},
		"crops/tomato.json": {Data: []byte(`{"name":"tomato","optimal":{"temperature":[18,27],"humidity":[60,80],` +
			`"soilMoisture":[40,70],"lightLux":[8000,30000]},"growthRate":0.01,"healthDecayRate":1.0}`)},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return c
}

func seeded() *rand.Rand { return rand.New(rand.NewPCG(1, 2)) }

func level(x float64) *float64 { return &x }

func TestDriftEngineStaysInRange(t *testing.T) {
	c := testCatalog(t, `{"temperature":[-3,3],"humidity":[-5,5],"soilMoisture":[-5,5],"lightLux":[-5000,5000],"oxygenPPM":[-2,2],"pH":[-1,1]}`)
	e, err := NewDriftEngine(c, seeded())
	if err != nil {
		t.Fatal(err)
	}
	env := entities.DefaultEnvironment()
	for i := 0; i < 5000; i++ {
		e.ApplyDrift(&env)
		if !env.InRange() {
			t.Fatalf("iteration %d: out of range %+v", i, env)
		}
	}
}

func TestDriftEngineDeltaWithinRange(t *testing.T) {
	c := testCatalog(t, `{"temperature":[0.5,1],"humidity":[0,0],"soilMoisture":[0,0],"lightLux":[0,0],"oxygenPPM":[0,0],"pH":[0,0]}`)
	e, err := NewDriftEngine(c, seeded())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		env := entities.DefaultEnvironment()
		e.ApplyDrift(&env)
		d := env.Temperature - 22
		if d < 0.5 || d >= 1 {
			t.Fatalf("delta %v outside [0.5, 1)", d)
		}
		if env.Humidity != 60 {
			t.Fatalf("zero-width range changed humidity: %v", env.Humidity)
		}
	}
}

func TestNewDriftEngineMissingVariable(t *testing.T) {
	c := &catalog.Catalog{Drift: map[entities.Variable]catalog.Range{entities.Temperature: {Min: 0, Max: 1}}}
	if _, err := NewDriftEngine(c, seeded()); err == nil {
		t.Fatal("expected error for incomplete drift model")
	}
}

func TestDeviceEffectEngine(t *testing.T) {
	e := NewDeviceEffectEngine(testCatalog(t, zeroDrift), zerolog.Nop())

	tests := []struct {
		name    string
		devices []entities.DeviceState
		check   func(t *testing.T, env entities.EnvironmentState)
	}{
		{
			name:    "off device is inert",
			devices: []entities.DeviceState{{ID: "h", Type: "HEATER", Status: entities.StatusOff, Level: level(1)}},
			check: func(t *testing.T, env entities.EnvironmentState) {
				if env != entities.DefaultEnvironment() {
					t.Errorf("env changed: %+v", env)
				}
			},
		},
		{
			name:    "unset level applies full effect",
			devices: []entities.DeviceState{{ID: "f", Type: "FAN", Status: entities.StatusOn}},
			check: func(t *testing.T, env entities.EnvironmentState) {
				if env.Temperature != 21.5 || math.Abs(env.Humidity-59.7) > 1e-9 {
					t.Errorf("env = %+v", env)
				}
			},
		},
		{
			name:    "level scales effect",
			devices: []entities.DeviceState{{ID: "p", Type: "water_pump", Status: entities.StatusOn, Level: level(0.5)}},
			check: func(t *testing.T, env entities.EnvironmentState) {
				if env.SoilMoisture != 51 {
					t.Errorf("soil = %v, want 51", env.SoilMoisture)
				}
			},
		},
		{
			name:    "level zero is inert",
			devices: []entities.DeviceState{{ID: "h", Type: "HEATER", Status: entities.StatusOn, Level: level(0)}},
			check: func(t *testing.T, env entities.EnvironmentState) {
				if env.Temperature != 22 {
					t.Errorf("temperature = %v", env.Temperature)
				}
			},
		},
		{
			name:    "unknown type is inert",
			devices: []entities.DeviceState{{ID: "x", Type: "SPRINKLER", Status: entities.StatusOn}},
			check: func(t *testing.T, env entities.EnvironmentState) {
				if env != entities.DefaultEnvironment() {
					t.Errorf("env changed: %+v", env)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := entities.DefaultEnvironment()
			e.Apply(tt.devices, &env)
			tt.check(t, env)
		})
	}
}

func TestDeviceEffectEngineOrderIndependent(t *testing.T) {
	e := NewDeviceEffectEngine(testCatalog(t, zeroDrift), zerolog.Nop())
	a := []entities.DeviceState{
		{ID: "h", Type: "HEATER", Status: entities.StatusOn, Level: level(30)},
		{ID: "f", Type: "FAN", Status: entities.StatusOn, Level: level(20)},
		{ID: "p", Type: "WATER_PUMP", Status: entities.StatusOn},
	}
	b := []entities.DeviceState{a[2], a[1], a[0]}

	envA, envB := entities.DefaultEnvironment(), entities.DefaultEnvironment()
	envA.Temperature, envB.Temperature = 45, 45
	e.Apply(a, &envA)
	e.Apply(b, &envB)
	if envA != envB {
		t.Fatalf("order dependent result: %+v vs %+v", envA, envB)
	}
	// 45 + 30 - 10 = 65 is clamped only after all effects are summed
	if envA.Temperature != 50 {
		t.Fatalf("temperature = %v, want 50", envA.Temperature)
	}
	if !envA.InRange() {
		t.Fatal("out of range after effects")
	}
}

func TestCropGrowthEngine(t *testing.T) {
	e := NewCropGrowthEngine(testCatalog(t, zeroDrift), zerolog.Nop())
	optimal := entities.EnvironmentState{Temperature: 22, Humidity: 70, SoilMoisture: 50, LightLux: 10000, OxygenPPM: 21, PH: 7}

	t.Run("baseline gain in optimal conditions", func(t *testing.T) {
		c := entities.CropState{CropType: "Tomato", HealthScore: 50}
		e.Evaluate(&c, optimal)
		if math.Abs(c.HealthScore-50.2) > 1e-9 {
			t.Errorf("health = %v, want 50.2", c.HealthScore)
		}
		if math.Abs(c.GrowthStage-0.01*0.502) > 1e-12 {
			t.Errorf("growth = %v", c.GrowthStage)
		}
		if math.Abs(c.YieldScore-c.GrowthStage*c.HealthScore) > 1e-12 {
			t.Errorf("yield = %v", c.YieldScore)
		}
	})

	t.Run("light counts half", func(t *testing.T) {
		env := optimal
		env.LightLux = 100
		c := entities.CropState{CropType: "tomato", HealthScore: 50}
		e.Evaluate(&c, env)
		if math.Abs(c.HealthScore-(50+0.2-0.5)) > 1e-9 {
			t.Errorf("health = %v", c.HealthScore)
		}
	})

	t.Run("every bad variable decays", func(t *testing.T) {
		env := entities.EnvironmentState{Temperature: 40, Humidity: 10, SoilMoisture: 5, LightLux: 0}
		c := entities.CropState{CropType: "tomato", HealthScore: 50}
		e.Evaluate(&c, env)
		if math.Abs(c.HealthScore-(50+0.2-3.5)) > 1e-9 {
			t.Errorf("health = %v", c.HealthScore)
		}
	})

	t.Run("bounds hold", func(t *testing.T) {
		top := entities.CropState{CropType: "tomato", HealthScore: 100, GrowthStage: 0.999}
		e.Evaluate(&top, optimal)
		if top.HealthScore != 100 || top.GrowthStage != 1 {
			t.Errorf("top = %+v", top)
		}
		bottom := entities.CropState{CropType: "tomato", HealthScore: 1, GrowthStage: 0.3}
		bad := entities.EnvironmentState{Temperature: 49, Humidity: 0, SoilMoisture: 0}
		e.Evaluate(&bottom, bad)
		if bottom.HealthScore != 0 || bottom.GrowthStage != 0.3 || bottom.YieldScore != 0 {
			t.Errorf("bottom = %+v", bottom)
		}
	})

	t.Run("unknown crop untouched", func(t *testing.T) {
		c := entities.NewCropState("cactus")
		e.Evaluate(&c, optimal)
		if c != entities.NewCropState("cactus") {
			t.Errorf("crop changed: %+v", c)
		}
	})
}

func TestFailureEngineProbabilityBounds(t *testing.T) {
	if _, err := NewFailureEngine(1.5, seeded(), zerolog.Nop()); err == nil {
		t.Fatal("expected error for p > 1")
	}
	if _, err := NewFailureEngine(-0.1, seeded(), zerolog.Nop()); err == nil {
		t.Fatal("expected error for p < 0")
	}
}

func TestFailureEngineInject(t *testing.T) {
	never, _ := NewFailureEngine(0, seeded(), zerolog.Nop())
	env := entities.DefaultEnvironment()
	for i := 0; i < 1000; i++ {
		if k := never.Inject(&env); k != FailureNone {
			t.Fatalf("p=0 injected %s", k)
		}
	}

	always, _ := NewFailureEngine(1, seeded(), zerolog.Nop())
	seen := map[FailureKind]bool{}
	for i := 0; i < 300; i++ {
		env := entities.DefaultEnvironment()
		env.Temperature = 48
		env.SoilMoisture = 4
		env.Humidity = 60
		k := always.Inject(&env)
		seen[k] = true
		switch k {
		case FailureSoilStress:
			if env.SoilMoisture != 0 {
				t.Fatalf("soil = %v, want 0", env.SoilMoisture)
			}
		case FailureTemperatureSpike:
			if env.Temperature != 50 {
				t.Fatalf("temperature = %v, want clamped 50", env.Temperature)
			}
		case FailureHumidityDrop:
			if env.Humidity != 45 {
				t.Fatalf("humidity = %v, want 45", env.Humidity)
			}
		default:
			t.Fatalf("p=1 injected nothing")
		}
		if !env.InRange() {
			t.Fatalf("out of range after %s: %+v", k, env)
		}
	}
	if len(seen) != 3 {
		t.Fatalf("expected all three shocks, saw %v", seen)
	}
}

func TestFailureEngineDeviceFailure(t *testing.T) {
	always, _ := NewFailureEngine(1, seeded(), zerolog.Nop())

	dm := NewDeviceManager(zerolog.Nop())
	dm.Initialize([]entities.DeviceSpec{{ID: "fan-1", Type: "FAN"}})
	if id, ok := always.InjectDeviceFailure(dm); ok {
		t.Fatalf("OFF device reported as failed: %s", id)
	}

	dm.UpdateDevice(cmd(`{"deviceId":"fan-1","status":"ON"}`))
	// p=1 gives a device failure chance of 0.5 per call
	var failed bool
	for i := 0; i < 64 && !failed; i++ {
		_, failed = always.InjectDeviceFailure(dm)
	}
	if !failed {
		t.Fatal("device never failed")
	}
	if d, _ := dm.Get("fan-1"); d.IsOn() {
		t.Fatal("failed device still ON")
	}

	never, _ := NewFailureEngine(0, seeded(), zerolog.Nop())
	dm.UpdateDevice(cmd(`{"deviceId":"fan-1","status":"ON"}`))
	for i := 0; i < 100; i++ {
		if _, ok := never.InjectDeviceFailure(dm); ok {
			t.Fatal("p=0 switched a device off")
		}
	}
	empty := NewDeviceManager(zerolog.Nop())
	if _, ok := always.InjectDeviceFailure(empty); ok {
		t.Fatal("empty table cannot fail")
	}
}

func TestSensorEngine(t *testing.T) {
	env := entities.EnvironmentState{
		Temperature:  21.456,
		Humidity:     60.004,
		SoilMoisture: 49.996,
		LightLux:     10000.6,
		OxygenPPM:    20.999,
		PH:           6.786,
	}
	before := env
	r := SensorEngine{}.Read(env)
	want := entities.EnvironmentState{Temperature: 21.46, Humidity: 60, SoilMoisture: 50, LightLux: 10001, OxygenPPM: 21, PH: 6.79}
	for _, v := range entities.Variables {
		got, _ := r.Get(v)
		exp, _ := want.Get(v)
		if math.Abs(got-exp) > 1e-9 {
			t.Errorf("%s = %v, want %v", v, got, exp)
		}
	}
	if env != before {
		t.Fatal("Read mutated the environment")
	}

	if x, ok := (SensorEngine{}).ReadSensor(env, entities.LightLux); !ok || x != 10001 {
		t.Errorf("ReadSensor(lightLux) = %v, %v", x, ok)
	}
	if x, ok := (SensorEngine{}).ReadSensor(env, entities.PH); !ok || math.Abs(x-6.79) > 1e-9 {
		t.Errorf("ReadSensor(pH) = %v, %v", x, ok)
	}
	if _, ok := (SensorEngine{}).ReadSensor(env, "co2"); ok {
		t.Error("ReadSensor on unknown variable must fail")
	}
}

func TestRunnerTickOrder(t *testing.T) {
	c := testCatalog(t, `{"temperature":[1,1],"humidity":[0,0],"soilMoisture":[0,0],"lightLux":[0,0],"oxygenPPM":[0,0],"pH":[0,0]}`)
	r, err := NewRunner(c, 0, seeded(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	dm := NewDeviceManager(zerolog.Nop())
	dm.Initialize([]entities.DeviceSpec{{ID: "heater-1", Type: "HEATER"}})
	dm.UpdateDevice(cmd(`{"deviceId":"heater-1","status":"on"}`))

	env := entities.DefaultEnvironment()
	env.Temperature = 48.5
	crop := entities.NewCropState("tomato")
	res := r.Tick(&env, dm, []*entities.CropState{&crop})

	// drift clamps to 49.5, heater pushes to 50.5, clamped to 50
	if env.Temperature != 50 || res.Readings.Temperature != 50 {
		t.Fatalf("temperature env=%v reading=%v", env.Temperature, res.Readings.Temperature)
	}
	if res.EnvFailure != FailureNone || res.DeviceFailure != "" {
		t.Fatalf("unexpected failure %+v", res)
	}
	// crops see the post-effect environment: temperature out of range
	if math.Abs(crop.HealthScore-(100+0.2-1)) > 1e-9 {
		t.Fatalf("crop health = %v", crop.HealthScore)
	}
}
