package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/farm_simulator/internal/model"
	"github.com/LeonardoBeccarini/farm_simulator/internal/services/command"
)

// maxCommandBody limits POST /devices/commands.
const maxCommandBody = 64 << 10

// Simulation is the read side of the simulator plus the command entry point.
type Simulation interface {
	command.CommandProcessor
	GetEnvironment() model.EnvironmentState
	GetDevices() []model.DeviceState
	GetCrops() []model.CropState
	LastTick() model.TickReport
	LastForwardErrorAge() time.Duration
	TickCount() uint64
	Running() bool
	RunID() string
}

type statusResponse struct {
	RunID         string               `json:"run_id"`
	Running       bool                 `json:"running"`
	Tick          uint64               `json:"tick"`
	Readings      model.SensorReadings `json:"readings"`
	EnvFailure    string               `json:"env_failure,omitempty"`
	DeviceFailure string               `json:"device_failure,omitempty"`
	ActiveDevices []string             `json:"active_devices"`
	DurationMs    float64              `json:"duration_ms"`
}

// NewHTTPMux espone stato, health e comandi. metrics may be nil.
func NewHTTPMux(sim Simulation, metrics http.Handler, log zerolog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/healthz", NewHealthHandler(sim, 30*time.Second))
	mux.Handle("/readyz", NewReadyHandler(sim))
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	// GET /environment
	mux.HandleFunc("/environment", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, sim.GetEnvironment())
	})

	// GET /devices
	mux.HandleFunc("/devices", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, sim.GetDevices())
	})

	// GET /crops
	mux.HandleFunc("/crops", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, sim.GetCrops())
	})

	// GET /status: ultimo tick
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodGet) {
			return
		}
		last := sim.LastTick()
		active := last.ActiveDevices
		if active == nil {
			active = []string{}
		}
		writeJSON(w, http.StatusOK, statusResponse{
			RunID:         sim.RunID(),
			Running:       sim.Running(),
			Tick:          last.Tick,
			Readings:      last.Readings,
			EnvFailure:    last.EnvFailure,
			DeviceFailure: last.DeviceFailure,
			ActiveDevices: active,
			DurationMs:    float64(last.Duration.Microseconds()) / 1000,
		})
	})

	// POST /devices/commands
	// Body: either command shape; response {"applied": bool}
	mux.HandleFunc("/devices/commands", func(w http.ResponseWriter, r *http.Request) {
		if !allow(w, r, http.MethodPost) {
			return
		}
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBody))
		if err != nil {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
			return
		}
		cmd, err := command.Decode(raw, "")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		applied := sim.ProcessCommand(cmd)
		log.Debug().Bool("applied", applied).Msg("api: command")
		writeJSON(w, http.StatusOK, map[string]bool{"applied": applied})
	})

	return mux
}

// ===== Helpers =====

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "encode: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(append(b, '\n'))
}
