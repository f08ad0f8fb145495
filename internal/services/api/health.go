package api

import (
	"net/http"
	"time"
)

type healthHandler struct {
	sim      Simulation
	minError time.Duration
}

// NewHealthHandler: ok se la simulazione gira e nessun errore di invio recente.
func NewHealthHandler(sim Simulation, minOkErrorAge time.Duration) http.Handler {
	return &healthHandler{sim: sim, minError: minOkErrorAge}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	type status struct {
		Status             string  `json:"status"`
		Running            bool    `json:"running"`
		Ticks              uint64  `json:"ticks"`
		LastForwardErrorS  float64 `json:"last_forward_error_age_sec,omitempty"`
		ForwardErrorRecent bool    `json:"forward_error_recent"`
	}
	age := h.sim.LastForwardErrorAge()
	st := status{
		Running:            h.sim.Running(),
		Ticks:              h.sim.TickCount(),
		ForwardErrorRecent: age <= h.minError,
	}
	if age < 24*time.Hour {
		st.LastForwardErrorS = age.Seconds()
	}

	switch {
	case st.Running && !st.ForwardErrorRecent:
		st.Status = "ok"
	case st.Running:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}
	writeJSON(w, http.StatusOK, st)
}

// Handler /readyz: 200 solo dopo il primo tick con il loop attivo.
type readyHandler struct{ sim Simulation }

func NewReadyHandler(sim Simulation) http.Handler { return &readyHandler{sim: sim} }

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	ready := h.sim.Running() && h.sim.TickCount() > 0
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]bool{"ready": ready})
}
