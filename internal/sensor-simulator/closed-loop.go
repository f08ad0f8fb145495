package sensor_simulator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/LeonardoBeccarini/farm_simulator/internal/catalog"
	"github.com/LeonardoBeccarini/farm_simulator/internal/model/entities"
	"github.com/LeonardoBeccarini/farm_simulator/internal/model/messages"
)

// Forwarder ships the readings of one tick to the outside world.
type Forwarder interface {
	Forward(ctx context.Context, readings messages.SensorReadings) error
}

// Recorder receives simulation metrics.
type Recorder interface {
	TickCompleted(d time.Duration, env entities.EnvironmentState, crops []entities.CropState)
	FailureInjected(kind string)
	CommandProcessed(applied bool)
}

type nopRecorder struct{}

func (nopRecorder) TickCompleted(time.Duration, entities.EnvironmentState, []entities.CropState) {}
func (nopRecorder) FailureInjected(string)                                                      {}
func (nopRecorder) CommandProcessed(bool)                                                       {}

// Options configures a ClosedLoopSimulation. Only Catalog is required.
type Options struct {
	Catalog            *catalog.Catalog
	FailureProbability *float64 // nil: catalog value
	Rand               *rand.Rand
	Forwarder          Forwarder
	Recorder           Recorder
	Logger             zerolog.Logger
}

// ClosedLoopSimulation owns the environment, the crops and the device table
// and drives the tick pipeline. Commands may arrive at any time, also while
// the loop is stopped.
type ClosedLoopSimulation struct {
	mu    sync.Mutex // env, crops, tick counter, last report
	env   entities.EnvironmentState
	crops []*entities.CropState
	ticks uint64
	last  messages.TickReport

	devices   *DeviceManager
	runner    *Runner
	forwarder Forwarder
	recorder  Recorder
	tracer    trace.Tracer
	log       zerolog.Logger
	runID     string

	onCommand atomic.Pointer[func(messages.DeviceCommand)]
	lastFwErr atomic.Int64 // unix nanos of the last forwarding error

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewClosedLoopSimulation(opts Options) (*ClosedLoopSimulation, error) {
	if opts.Catalog == nil {
		return nil, errors.New("simulation: nil catalog")
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}
	p := opts.Catalog.Simulation.FailureProbability
	if opts.FailureProbability != nil {
		p = *opts.FailureProbability
	}
	runID := uuid.NewString()
	log := opts.Logger.With().Str("run_id", runID).Logger()

	runner, err := NewRunner(opts.Catalog, p, rng, log)
	if err != nil {
		return nil, fmt.Errorf("simulation: %w", err)
	}
	rec := opts.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}

	s := &ClosedLoopSimulation{
		env:       opts.Catalog.Simulation.Environment(),
		devices:   NewDeviceManager(log),
		runner:    runner,
		forwarder: opts.Forwarder,
		recorder:  rec,
		tracer:    otel.Tracer("farm_simulator/sensor-simulator"),
		log:       log,
		runID:     runID,
	}
	s.devices.Initialize(opts.Catalog.Simulation.Devices)
	for _, name := range opts.Catalog.Simulation.Crops {
		c := entities.NewCropState(name)
		s.crops = append(s.crops, &c)
	}
	return s, nil
}

// SetDeviceCommandHandler registers a callback invoked after every applied command.
func (s *ClosedLoopSimulation) SetDeviceCommandHandler(fn func(messages.DeviceCommand)) {
	if fn == nil {
		s.onCommand.Store(nil)
		return
	}
	s.onCommand.Store(&fn)
}

// ProcessCommand is the single entry point for every command channel.
func (s *ClosedLoopSimulation) ProcessCommand(cmd messages.DeviceCommand) bool {
	applied := s.devices.UpdateDevice(cmd)
	s.recorder.CommandProcessed(applied)
	if applied {
		if fn := s.onCommand.Load(); fn != nil {
			(*fn)(cmd)
		}
	}
	return applied
}

// Start runs one tick right away and then one every interval until Stop.
// The first tick runs outside runMu, so Running and Stop never wait on it.
func (s *ClosedLoopSimulation) Start(interval time.Duration) {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		s.log.Warn().Msg("simulation: already running")
		return
	}
	if interval <= 0 {
		interval = catalog.DefaultSimulation().TickInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.running = true
	s.runMu.Unlock()

	env := s.GetEnvironment()
	s.log.Info().
		Dur("interval", interval).
		Float64("temperature", env.Temperature).
		Float64("humidity", env.Humidity).
		Float64("soil_moisture", env.SoilMoisture).
		Float64("ph", env.PH).
		Msg("simulation: starting closed loop")

	s.safeTick(ctx)
	go s.loop(ctx, interval, done)
}

func (s *ClosedLoopSimulation) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.safeTick(ctx)
		}
	}
}

// Stop halts the loop and waits for the in-flight tick. No-op when stopped.
func (s *ClosedLoopSimulation) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	done := s.done
	s.runMu.Unlock()

	<-done
	s.log.Info().Uint64("ticks", s.TickCount()).Msg("simulation: stopped")
}

func (s *ClosedLoopSimulation) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

func (s *ClosedLoopSimulation) safeTick(ctx context.Context) {
	if _, err := s.Tick(ctx); err != nil {
		s.log.Error().Err(err).Msg("simulation: tick error")
	}
}

// Tick runs one pipeline pass and forwards the readings. Forwarding errors and
// panics are returned, never propagated further.
func (s *ClosedLoopSimulation) Tick(ctx context.Context) (res TickResult, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "simulation.tick")
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("simulation: tick panic: %v", r)
			span.SetStatus(codes.Error, "panic")
		}
	}()

	res, n, env, crops := s.enginePass()
	span.SetAttributes(attribute.Int64("tick", int64(n)))

	if res.EnvFailure != FailureNone {
		s.recorder.FailureInjected(string(res.EnvFailure))
		span.AddEvent("failure", trace.WithAttributes(attribute.String("kind", string(res.EnvFailure))))
	}
	if res.DeviceFailure != "" {
		s.recorder.FailureInjected("device")
		span.AddEvent("failure", trace.WithAttributes(attribute.String("device", res.DeviceFailure)))
	}

	active := s.devices.Active()
	r := res.Readings
	s.log.Info().
		Uint64("tick", n).
		Float64("temperature", r.Temperature).
		Float64("humidity", r.Humidity).
		Float64("soil_moisture", r.SoilMoisture).
		Float64("light_lux", r.LightLux).
		Float64("oxygen_ppm", r.OxygenPPM).
		Float64("ph", r.PH).
		Strs("active_devices", active).
		Msg("simulation: sensor readings")

	if s.forwarder != nil {
		if ferr := s.forwarder.Forward(ctx, r); ferr != nil {
			s.lastFwErr.Store(time.Now().UnixNano())
			span.RecordError(ferr)
			err = fmt.Errorf("simulation: forward: %w", ferr)
		}
	}

	d := time.Since(start)
	s.mu.Lock()
	s.last = messages.TickReport{
		Tick:          n,
		Readings:      r,
		EnvFailure:    string(res.EnvFailure),
		DeviceFailure: res.DeviceFailure,
		ActiveDevices: active,
		Duration:      d,
	}
	s.mu.Unlock()
	s.recorder.TickCompleted(d, env, crops)
	return res, err
}

func (s *ClosedLoopSimulation) enginePass() (TickResult, uint64, entities.EnvironmentState, []entities.CropState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.runner.Tick(&s.env, s.devices, s.crops)
	s.ticks++
	return res, s.ticks, s.env, s.cropsLocked()
}

// GetEnvironment returns a copy of the current environment.
func (s *ClosedLoopSimulation) GetEnvironment() entities.EnvironmentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.env
}

func (s *ClosedLoopSimulation) GetDevices() []entities.DeviceState { return s.devices.List() }

func (s *ClosedLoopSimulation) Devices() *DeviceManager { return s.devices }

func (s *ClosedLoopSimulation) GetCrops() []entities.CropState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cropsLocked()
}

func (s *ClosedLoopSimulation) TickCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// LastTick returns the report of the most recent tick.
func (s *ClosedLoopSimulation) LastTick() messages.TickReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// LastForwardErrorAge is the time since the last forwarding error; a very
// large duration when none happened.
func (s *ClosedLoopSimulation) LastForwardErrorAge() time.Duration {
	ts := s.lastFwErr.Load()
	if ts == 0 {
		return time.Duration(1<<63 - 1)
	}
	return time.Since(time.Unix(0, ts))
}

func (s *ClosedLoopSimulation) RunID() string { return s.runID }

func (s *ClosedLoopSimulation) cropsLocked() []entities.CropState {
	out := make([]entities.CropState, len(s.crops))
	for i, c := range s.crops {
		out[i] = *c
	}
	return out
}
