package sensor_simulator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/farm_simulator/internal/catalog"
	"github.com/LeonardoBeccarini/farm_simulator/internal/model/entities"
	"github.com/LeonardoBeccarini/farm_simulator/internal/model/messages"
)

type recordingForwarder struct {
	mu       sync.Mutex
	readings []messages.SensorReadings
	err      error
	panics   bool
}

func (f *recordingForwarder) Forward(_ context.Context, r messages.SensorReadings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		panic("boom")
	}
	f.readings = append(f.readings, r)
	return f.err
}

func (f *recordingForwarder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.readings)
}

type countingRecorder struct {
	ticks, failures, applied, rejected atomic.Int64
}

func (r *countingRecorder) TickCompleted(time.Duration, entities.EnvironmentState, []entities.CropState) {
	r.ticks.Add(1)
}
func (r *countingRecorder) FailureInjected(string) { r.failures.Add(1) }
func (r *countingRecorder) CommandProcessed(applied bool) {
	if applied {
		r.applied.Add(1)
	} else {
		r.rejected.Add(1)
	}
}

func newSim(t *testing.T, cat *catalog.Catalog, p float64, fw Forwarder, rec Recorder) *ClosedLoopSimulation {
	t.Helper()
	s, err := NewClosedLoopSimulation(Options{
		Catalog:            cat,
		FailureProbability: &p,
		Rand:               seeded(),
		Forwarder:          fw,
		Recorder:           rec,
		Logger:             zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestNewClosedLoopSimulationFromCatalog(t *testing.T) {
	cat, err := catalog.Default()
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewClosedLoopSimulation(Options{Catalog: cat, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	if s.GetEnvironment() != entities.DefaultEnvironment() {
		t.Errorf("initial env = %+v", s.GetEnvironment())
	}
	if len(s.GetDevices()) != 5 {
		t.Errorf("devices = %d", len(s.GetDevices()))
	}
	if crops := s.GetCrops(); len(crops) != 2 || crops[0].HealthScore != 100 {
		t.Errorf("crops = %+v", crops)
	}
	if s.RunID() == "" {
		t.Error("missing run id")
	}

	if _, err := NewClosedLoopSimulation(Options{}); err == nil {
		t.Error("expected error without catalog")
	}
	bad := 3.0
	if _, err := NewClosedLoopSimulation(Options{Catalog: cat, FailureProbability: &bad}); err == nil {
		t.Error("expected error for probability > 1")
	}
}

func TestTickForwardsReadingsAfterCommand(t *testing.T) {
	fw := &recordingForwarder{}
	rec := &countingRecorder{}
	s := newSim(t, testCatalog(t, zeroDrift), 0, fw, rec)

	var seen []messages.DeviceCommand
	s.SetDeviceCommandHandler(func(c messages.DeviceCommand) { seen = append(seen, c) })

	if !s.ProcessCommand(cmd(`{"deviceUuid":"pump-9","metadata":{"newValue":"on","deviceName":"Water Pump"}}`)) {
		t.Fatal("command rejected")
	}
	if s.ProcessCommand(cmd(`{"status":"on"}`)) {
		t.Fatal("command without id accepted")
	}
	// auto-provisioned devices start at level 0 and stay inert until a level arrives
	s.ProcessCommand(cmd(`{"deviceId":"pump-9","level":1}`))

	if _, err := s.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fw.count() != 1 {
		t.Fatalf("forwarded %d times", fw.count())
	}
	if got := fw.readings[0].SoilMoisture; got != 52 {
		t.Fatalf("soil reading = %v, want 52", got)
	}
	if len(seen) != 2 {
		t.Fatalf("handler calls = %d, want 2", len(seen))
	}
	if rec.applied.Load() != 2 || rec.rejected.Load() != 1 || rec.ticks.Load() != 1 {
		t.Fatalf("recorder applied=%d rejected=%d ticks=%d", rec.applied.Load(), rec.rejected.Load(), rec.ticks.Load())
	}
	last := s.LastTick()
	if last.Tick != 1 || len(last.ActiveDevices) != 1 || last.ActiveDevices[0] != "pump-9" {
		t.Fatalf("last tick = %+v", last)
	}
}

func TestOffDevicesNeverChangeEnvironment(t *testing.T) {
	s := newSim(t, testCatalog(t, zeroDrift), 0, nil, nil)
	before := s.GetEnvironment()
	for i := 0; i < 20; i++ {
		if _, err := s.Tick(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if s.GetEnvironment() != before {
		t.Fatalf("environment drifted with zero drift and no active devices: %+v", s.GetEnvironment())
	}
}

func TestTickForwardErrorDoesNotStopSimulation(t *testing.T) {
	fw := &recordingForwarder{err: errors.New("backend down")}
	s := newSim(t, testCatalog(t, zeroDrift), 0, fw, nil)
	for i := 0; i < 3; i++ {
		if _, err := s.Tick(context.Background()); err == nil {
			t.Fatal("expected forwarding error")
		}
	}
	if s.TickCount() != 3 || fw.count() != 3 {
		t.Fatalf("ticks=%d forwards=%d", s.TickCount(), fw.count())
	}
	if s.LastForwardErrorAge() > time.Minute {
		t.Fatal("forward error not tracked")
	}
}

func TestTickRecoversPanic(t *testing.T) {
	fw := &recordingForwarder{panics: true}
	s := newSim(t, testCatalog(t, zeroDrift), 0, fw, nil)
	if _, err := s.Tick(context.Background()); err == nil {
		t.Fatal("expected panic to surface as error")
	}
	// the state lock must have been released
	_ = s.GetEnvironment()
	if s.TickCount() != 1 {
		t.Fatalf("ticks = %d", s.TickCount())
	}
}

func TestStartStop(t *testing.T) {
	fw := &recordingForwarder{}
	s := newSim(t, testCatalog(t, zeroDrift), 0, fw, nil)

	s.Start(5 * time.Millisecond)
	if !s.Running() {
		t.Fatal("not running after Start")
	}
	if s.TickCount() < 1 {
		t.Fatal("first tick must run immediately")
	}
	s.Start(time.Millisecond) // second call is ignored

	deadline := time.Now().Add(2 * time.Second)
	for s.TickCount() < 4 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if s.TickCount() < 4 {
		t.Fatalf("loop did not tick: %d", s.TickCount())
	}

	// commands are accepted while running
	if !s.ProcessCommand(cmd(`{"deviceId":"fan-1","status":"ON"}`)) {
		t.Fatal("command rejected while running")
	}

	s.Stop()
	if s.Running() {
		t.Fatal("still running after Stop")
	}
	n := s.TickCount()
	time.Sleep(20 * time.Millisecond)
	if s.TickCount() != n {
		t.Fatal("ticks continued after Stop")
	}
	s.Stop() // no-op

	// and while stopped
	if !s.ProcessCommand(cmd(`{"deviceId":"fan-1","status":"OFF"}`)) {
		t.Fatal("command rejected while stopped")
	}
}

func TestEnvironmentStaysInRangeUnderLoad(t *testing.T) {
	c, err := catalog.Default()
	if err != nil {
		t.Fatal(err)
	}
	rec := &countingRecorder{}
	s := newSim(t, c, 1, nil, rec)
	cmds := []string{
		`{"deviceId":"heater-1","status":"ON","level":5}`,
		`{"deviceId":"waterPump-1","status":"ON","level":3}`,
		`{"deviceId":"growLight-1","status":"ON"}`,
		`{"deviceId":"fan-1","status":"ON","level":10}`,
	}
	for i := 0; i < 500; i++ {
		s.ProcessCommand(cmd(cmds[i%len(cmds)]))
		if _, err := s.Tick(context.Background()); err != nil {
			t.Fatal(err)
		}
		if env := s.GetEnvironment(); !env.InRange() {
			t.Fatalf("tick %d: out of range %+v", i, env)
		}
		for _, cr := range s.GetCrops() {
			if cr.HealthScore < 0 || cr.HealthScore > 100 || cr.GrowthStage < 0 || cr.GrowthStage > 1 {
				t.Fatalf("tick %d: crop out of bounds %+v", i, cr)
			}
		}
	}
	if rec.failures.Load() < 500 {
		t.Fatalf("p=1 must inject an environment shock every tick, got %d", rec.failures.Load())
	}
}

func TestExtremeLevelsKeepEnvironmentSerialisable(t *testing.T) {
	c, err := catalog.Default()
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		cmds []string
	}{
		{"opposite huge levels", []string{
			`{"deviceId":"growLight-1","status":"ON","level":1e308}`,
			`{"deviceId":"growLight-2","type":"GROW_LIGHT","status":"ON","level":-1e308}`,
		}},
		{"huge level alone", []string{`{"deviceId":"heater-1","status":"ON","level":1e308}`}},
		{"infinite level string", []string{`{"deviceId":"growLight-1","status":"ON","level":"Inf"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fw := &recordingForwarder{}
			s := newSim(t, c, 0, fw, nil)
			for _, raw := range tt.cmds {
				s.ProcessCommand(cmd(raw))
			}
			for i := 0; i < 3; i++ {
				if _, err := s.Tick(context.Background()); err != nil {
					t.Fatal(err)
				}
				env := s.GetEnvironment()
				if !env.InRange() {
					t.Fatalf("tick %d: out of range %+v", i, env)
				}
				if _, err := json.Marshal(env); err != nil {
					t.Fatalf("tick %d: marshal env: %v", i, err)
				}
			}
			if _, err := json.Marshal(fw.readings); err != nil {
				t.Fatalf("marshal readings: %v", err)
			}
		})
	}
}

type blockingForwarder struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (f *blockingForwarder) Forward(ctx context.Context, _ messages.SensorReadings) error {
	f.once.Do(func() {
		close(f.entered)
		<-f.release
	})
	return nil
}

func TestRunningDoesNotWaitForFirstTick(t *testing.T) {
	fw := &blockingForwarder{entered: make(chan struct{}), release: make(chan struct{})}
	s := newSim(t, testCatalog(t, zeroDrift), 0, fw, nil)

	started := make(chan struct{})
	go func() {
		s.Start(time.Hour)
		close(started)
	}()
	<-fw.entered

	running := make(chan bool, 1)
	go func() { running <- s.Running() }()
	select {
	case r := <-running:
		if !r {
			t.Fatal("Running() = false during the first tick")
		}
	case <-time.After(time.Second):
		close(fw.release)
		t.Fatal("Running() blocked on the first tick")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	close(fw.release)
	<-started
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the first tick")
	}
	if s.Running() {
		t.Fatal("still running after Stop")
	}
}
