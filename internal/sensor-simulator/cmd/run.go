package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/LeonardoBeccarini/farm_simulator/internal/catalog"
	"github.com/LeonardoBeccarini/farm_simulator/internal/model/messages"
	sensor_simulator "github.com/LeonardoBeccarini/farm_simulator/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/farm_simulator/internal/services/api"
	"github.com/LeonardoBeccarini/farm_simulator/internal/services/auth"
	"github.com/LeonardoBeccarini/farm_simulator/internal/services/command"
	"github.com/LeonardoBeccarini/farm_simulator/internal/services/telemetry"
	"github.com/LeonardoBeccarini/farm_simulator/pkg/breaker"
	"github.com/LeonardoBeccarini/farm_simulator/pkg/dedup"
	"github.com/LeonardoBeccarini/farm_simulator/pkg/logging"
	"github.com/LeonardoBeccarini/farm_simulator/pkg/metrics"
	"github.com/LeonardoBeccarini/farm_simulator/pkg/rabbitmq"
	"github.com/LeonardoBeccarini/farm_simulator/pkg/tracing"
)

func newRunCommand(cfg *Config) *cobra.Command {
	var failureP float64
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the simulation loop, telemetry forwarding and command channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("failure-probability") {
				cfg.FailureProbability = &failureP
			}
			return runSimulator(cmd.Context(), *cfg)
		},
	}
	f := cmd.Flags()
	f.DurationVar(&cfg.TickInterval, "tick-interval", cfg.TickInterval, "tick interval (0: catalog value)")
	f.Float64Var(&failureP, "failure-probability", 0, "per-tick failure probability in [0,1] (default: catalog value)")
	f.StringVar(&cfg.Protocol, "protocol", cfg.Protocol, "telemetry protocol: http|mqtt|influx|log")
	f.BoolVar(&cfg.TelemetryBatch, "batch", cfg.TelemetryBatch, "send one batch per device and tick")
	f.StringSliceVar(&cfg.SensorIDs, "sensor-ids", cfg.SensorIDs, "backend sensor ids (default: all catalog sensors)")
	f.StringVar(&cfg.BackendBaseURL, "backend-url", cfg.BackendBaseURL, "backend base URL")
	f.StringSliceVar(&cfg.CommandTopics, "command-topics", cfg.CommandTopics, "MQTT command topic filters")
	f.StringVar(&cfg.CommandWSURL, "command-ws-url", cfg.CommandWSURL, "websocket command endpoint")
	f.IntVar(&cfg.GRPCPort, "grpc-port", cfg.GRPCPort, "gRPC command port (0 disables)")
	f.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "HTTP API port (0 disables)")
	f.BoolVar(&cfg.TracingEnabled, "tracing", cfg.TracingEnabled, "export tick spans to stderr")
	return cmd
}

func runSimulator(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(cfg.TracingEnabled, "farm-sim", os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	cat, err := loadCatalog(cfg.CatalogDir)
	if err != nil {
		return err
	}
	rec := metrics.New()

	var mqttClient mqtt.Client
	if cfg.needsMQTT() {
		mqttClient, err = rabbitmq.NewRabbitMQConn(&rabbitmq.RabbitMQConfig{
			Host:     cfg.RabbitHost,
			Port:     cfg.RabbitPort,
			User:     cfg.RabbitUser,
			Password: cfg.RabbitPassword,
			ClientID: cfg.MQTTClientID,
			Log:      logging.Component(log, "mqtt"),
		}, ctx)
		if err != nil {
			return err
		}
	}

	contexts, err := deviceContexts(ctx, cfg, sensorIDs(cfg, cat), log)
	if err != nil {
		return err
	}
	sender, err := newSender(cfg, mqttClient, log)
	if err != nil {
		return err
	}
	adapter, err := telemetry.NewAdapter(telemetry.Config{
		Sender:   sender,
		Contexts: contexts,
		Sensors:  cat.Sensors,
		Batch:    cfg.TelemetryBatch,
		Recorder: rec,
		Logger:   logging.Component(log, "telemetry"),
	})
	if err != nil {
		return err
	}
	defer adapter.Close()

	sim, err := sensor_simulator.NewClosedLoopSimulation(sensor_simulator.Options{
		Catalog:            cat,
		FailureProbability: cfg.FailureProbability,
		Forwarder:          adapter,
		Recorder:           rec,
		Logger:             logging.Component(log, "simulation"),
	})
	if err != nil {
		return err
	}
	cmdLog := logging.Component(log, "command")
	sim.SetDeviceCommandHandler(func(c messages.DeviceCommand) {
		if u, ok := c.Resolve(); ok {
			cmdLog.Info().Str("device_id", u.ID).Str("type", u.Type).Msg("command: applied")
		}
	})

	var wg sync.WaitGroup

	if mqttClient != nil && len(cfg.CommandTopics) > 0 {
		h := command.NewMQTTHandler(sim, dedup.New(30*time.Second, 0), cmdLog)
		consumer := rabbitmq.NewMultiConsumer(mqttClient, cfg.CommandTopics, h.Handle, logging.Component(log, "mqtt"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumer.ConsumeMessage(ctx)
		}()
	}

	if cfg.CommandWSURL != "" {
		header := http.Header{}
		if cfg.CommandWSToken != "" {
			header.Set("Authorization", "Bearer "+cfg.CommandWSToken)
		}
		l := command.NewWSListener(command.WSConfig{
			URL:    cfg.CommandWSURL,
			Events: cfg.CommandWSEvents,
			Header: header,
		}, sim, logging.Component(log, "ws"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Run(ctx)
		}()
	}

	var grpcSrv *grpc.Server
	if cfg.GRPCPort > 0 {
		lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.GRPCPort))
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcLog := logging.Component(log, "grpc")
		grpcSrv = grpc.NewServer(grpc.UnaryInterceptor(command.LoggingInterceptor(grpcLog)))
		command.RegisterCommandService(grpcSrv, command.NewGrpcHandler(sim, grpcLog))
		go func() {
			grpcLog.Info().Int("port", cfg.GRPCPort).Msg("grpc: listening")
			if err := grpcSrv.Serve(lis); err != nil {
				grpcLog.Error().Err(err).Msg("grpc: serve")
			}
		}()
	}

	var httpSrv *http.Server
	if cfg.HTTPPort > 0 {
		apiLog := logging.Component(log, "api")
		httpSrv = &http.Server{
			Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
			Handler:           api.NewHTTPMux(sim, rec.Handler(), apiLog),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			apiLog.Info().Str("addr", httpSrv.Addr).Msg("api: listening")
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				apiLog.Error().Err(err).Msg("api: serve")
			}
		}()
	}

	interval := cfg.TickInterval
	if interval <= 0 {
		interval = cat.Simulation.TickInterval
	}
	log.Info().
		Str("run_id", sim.RunID()).
		Dur("tick_interval", interval).
		Str("protocol", cfg.Protocol).
		Int("devices", len(contexts)).
		Msg("farm-sim: started")
	sim.Start(interval)

	<-ctx.Done()
	log.Info().Msg("farm-sim: shutting down")

	sim.Stop()
	if httpSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpSrv.Shutdown(sctx)
		cancel()
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	wg.Wait()
	return nil
}

// ===== Helpers =====

func loadCatalog(dir string) (*catalog.Catalog, error) {
	if dir == "" {
		return catalog.Default()
	}
	return catalog.Load(dir)
}

func sensorIDs(cfg Config, cat *catalog.Catalog) []string {
	if len(cfg.SensorIDs) > 0 {
		return cfg.SensorIDs
	}
	ids := make([]string, 0, len(cat.Sensors))
	for _, s := range cat.Sensors {
		ids = append(ids, s.SensorID)
	}
	return ids
}

func deviceContexts(ctx context.Context, cfg Config, ids []string, log zerolog.Logger) ([]messages.DeviceContext, error) {
	if !cfg.needsBackend() {
		return auth.OfflineContexts(ids), nil
	}
	authLog := logging.Component(log, "auth")
	client := auth.NewClient(auth.Options{
		BaseURL:  cfg.BackendBaseURL,
		Email:    cfg.BackendEmail,
		Password: cfg.BackendPassword,
		Breaker:  breaker.New(breaker.Settings{Name: "auth", Fails: 5, OpenFor: 10 * time.Second}, authLog),
		Logger:   authLog,
	})
	return auth.Contexts(ctx, client, ids)
}

func newSender(cfg Config, client mqtt.Client, log zerolog.Logger) (telemetry.Sender, error) {
	l := logging.Component(log, "telemetry")
	switch cfg.Protocol {
	case ProtocolHTTP:
		cb := breaker.New(breaker.Settings{Name: "datastreams", Fails: 5, OpenFor: 15 * time.Second}, l)
		return telemetry.NewHTTPSender(cfg.BackendBaseURL, 10*time.Second, cb, l), nil
	case ProtocolMQTT:
		if client == nil {
			return nil, errors.New("mqtt sender: no broker connection")
		}
		return telemetry.NewMQTTSender(client, l), nil
	case ProtocolInflux:
		return telemetry.NewInfluxSender(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket, l), nil
	case ProtocolLog:
		return telemetry.NewLogSender(l), nil
	}
	return nil, fmt.Errorf("unknown telemetry protocol %q", cfg.Protocol)
}
