package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	ProtocolHTTP   = "http"
	ProtocolMQTT   = "mqtt"
	ProtocolInflux = "influx"
	ProtocolLog    = "log"
)

// Config is read from the environment; cobra flags override it.
type Config struct {
	TickInterval       time.Duration `validate:"gte=0"` // 0: catalog value
	FailureProbability *float64      `validate:"omitempty,gte=0,lte=1"`
	CatalogDir         string        // empty: embedded catalogs

	Protocol        string   `validate:"oneof=http mqtt influx log"`
	TelemetryBatch  bool     // http/influx only
	SensorIDs       []string // empty: every sensor in the catalog
	BackendBaseURL  string   `validate:"omitempty,url"`
	BackendEmail    string
	BackendPassword string

	RabbitHost     string
	RabbitPort     int `validate:"min=1,max=65535"`
	RabbitUser     string
	RabbitPassword string
	MQTTClientID   string `validate:"required"`
	CommandTopics  []string

	CommandWSURL    string `validate:"omitempty,url"`
	CommandWSToken  string
	CommandWSEvents []string

	GRPCPort int `validate:"min=0,max=65535"` // 0 disables
	HTTPPort int `validate:"min=0,max=65535"` // 0 disables

	InfluxURL    string `validate:"required_if=Protocol influx,omitempty,url"`
	InfluxToken  string
	InfluxOrg    string `validate:"required_if=Protocol influx"`
	InfluxBucket string `validate:"required_if=Protocol influx"`

	LogLevel       string `validate:"oneof=trace debug info warn error"`
	LogFormat      string `validate:"oneof=json console"`
	TracingEnabled bool
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.needsBackend() && c.BackendBaseURL == "" {
		return fmt.Errorf("invalid config: BACKEND_BASE_URL is required for protocol %s", c.Protocol)
	}
	if c.Protocol == ProtocolMQTT && c.RabbitHost == "" {
		return errors.New("invalid config: RABBITMQ_HOST is required for protocol mqtt")
	}
	return nil
}

// device tokens come from the backend only for http and mqtt
func (c Config) needsBackend() bool {
	return c.Protocol == ProtocolHTTP || c.Protocol == ProtocolMQTT
}

// MQTT is used for mqtt telemetry and, when a broker is set, for commands.
func (c Config) needsMQTT() bool {
	return c.Protocol == ProtocolMQTT || (c.RabbitHost != "" && len(c.CommandTopics) > 0)
}

func loadConfig() Config { return loadConfigFrom(os.Getenv) }

func loadConfigFrom(getenv func(string) string) Config {
	e := env(getenv)
	base := e.str("BACKEND_BASE_URL", "")
	protocol := ProtocolLog
	if base != "" {
		protocol = ProtocolHTTP
	}
	cfg := Config{
		TickInterval:       e.dur("SIM_TICK_INTERVAL", 0),
		FailureProbability: e.optFloat("SIM_FAILURE_PROBABILITY"),
		CatalogDir:         e.str("SIM_CATALOG_DIR", ""),

		Protocol:        strings.ToLower(e.str("TELEMETRY_PROTOCOL", protocol)),
		TelemetryBatch:  e.flag("TELEMETRY_BATCH", false),
		SensorIDs:       e.list("SENSOR_IDS", nil),
		BackendBaseURL:  base,
		BackendEmail:    e.str("BACKEND_EMAIL", ""),
		BackendPassword: e.str("BACKEND_PASSWORD", ""),

		RabbitHost:     e.str("RABBITMQ_HOST", ""),
		RabbitPort:     e.num("RABBITMQ_PORT", 1883),
		RabbitUser:     e.str("RABBITMQ_USER", "guest"),
		RabbitPassword: e.str("RABBITMQ_PASSWORD", "guest"),
		MQTTClientID:   e.str("MQTT_CLIENT_ID", "farm-sim"),
		CommandTopics:  e.list("COMMAND_TOPICS", []string{"devices/+/commands", "device-state-change"}),

		CommandWSURL:    e.str("COMMAND_WS_URL", ""),
		CommandWSToken:  e.str("COMMAND_WS_TOKEN", ""),
		CommandWSEvents: e.list("COMMAND_WS_EVENTS", []string{"device-command", "device-state-change"}),

		GRPCPort: e.num("GRPC_PORT", 50051),
		HTTPPort: e.num("HTTP_PORT", 8080),

		InfluxURL:    e.str("INFLUX_URL", "http://influxdb:8086"),
		InfluxToken:  e.str("INFLUX_TOKEN", ""),
		InfluxOrg:    e.str("INFLUX_ORG", "farm"),
		InfluxBucket: e.str("INFLUX_BUCKET", "telemetry"),

		LogLevel:       strings.ToLower(e.str("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(e.str("LOG_FORMAT", "json")),
		TracingEnabled: e.flag("TRACING_ENABLED", false),
	}
	return cfg
}

// ===== Helpers =====

type env func(string) string

func (e env) str(k, d string) string {
	if v := strings.TrimSpace(e(k)); v != "" {
		return v
	}
	return d
}

func (e env) num(k string, d int) int {
	if n, err := strconv.Atoi(e.str(k, "")); err == nil {
		return n
	}
	return d
}

func (e env) flag(k string, d bool) bool {
	if b, err := strconv.ParseBool(e.str(k, "")); err == nil {
		return b
	}
	return d
}

// "5s" oppure millisecondi ("5000")
func (e env) dur(k string, d time.Duration) time.Duration {
	v := e.str(k, "")
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}

func (e env) optFloat(k string) *float64 {
	f, err := strconv.ParseFloat(e.str(k, ""), 64)
	if err != nil {
		return nil
	}
	return &f
}

func (e env) list(k string, d []string) []string {
	v := e.str(k, "")
	if v == "" {
		return d
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
