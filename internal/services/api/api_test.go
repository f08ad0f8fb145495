package api

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/farm_simulator/internal/catalog"
	"github.com/LeonardoBeccarini/farm_simulator/internal/model/entities"
	sensor_simulator "github.com/LeonardoBeccarini/farm_simulator/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/farm_simulator/pkg/metrics"
)

func newServer(t *testing.T) (*httptest.Server, *sensor_simulator.ClosedLoopSimulation) {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatal(err)
	}
	p := 0.0
	sim, err := sensor_simulator.NewClosedLoopSimulation(sensor_simulator.Options{
		Catalog:            cat,
		FailureProbability: &p,
		Logger:             zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(NewHTTPMux(sim, metrics.New().Handler(), zerolog.Nop()))
	t.Cleanup(srv.Close)
	t.Cleanup(sim.Stop)
	return srv, sim
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestStateEndpoints(t *testing.T) {
	srv, _ := newServer(t)

	var env entities.EnvironmentState
	if code := getJSON(t, srv.URL+"/environment", &env); code != http.StatusOK || env != entities.DefaultEnvironment() {
		t.Fatalf("environment %d %+v", code, env)
	}
	var devices []entities.DeviceState
	if getJSON(t, srv.URL+"/devices", &devices); len(devices) != 5 {
		t.Fatalf("devices = %+v", devices)
	}
	var crops []entities.CropState
	if getJSON(t, srv.URL+"/crops", &crops); len(crops) != 2 {
		t.Fatalf("crops = %+v", crops)
	}

	resp, err := http.Post(srv.URL+"/environment", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST /environment = %d", resp.StatusCode)
	}
}

func TestHealthAndReady(t *testing.T) {
	srv, sim := newServer(t)

	var h map[string]any
	getJSON(t, srv.URL+"/healthz", &h)
	if h["status"] != "down" {
		t.Fatalf("health before start = %v", h)
	}
	if code := getJSON(t, srv.URL+"/readyz", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("ready before start = %d", code)
	}

	sim.Start(time.Hour)
	getJSON(t, srv.URL+"/healthz", &h)
	if h["status"] != "ok" {
		t.Fatalf("health after start = %v", h)
	}
	if code := getJSON(t, srv.URL+"/readyz", nil); code != http.StatusOK {
		t.Fatalf("ready after start = %d", code)
	}

	var st statusResponse
	getJSON(t, srv.URL+"/status", &st)
	if st.Tick != 1 || !st.Running || st.RunID != sim.RunID() || st.ActiveDevices == nil {
		t.Fatalf("status = %+v", st)
	}
}

func TestPostCommand(t *testing.T) {
	srv, sim := newServer(t)

	tests := []struct {
		body    string
		code    int
		applied bool
	}{
		{`{"deviceId":"heater-1","status":"ON","level":0.5}`, http.StatusOK, true},
		{`{"deviceUuid":"new-1","metadata":{"newValue":"on","deviceName":"Fan 3"}}`, http.StatusOK, true},
		{`{"status":"ON"}`, http.StatusOK, false},
		{`not json`, http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		resp, err := http.Post(srv.URL+"/devices/commands", "application/json", strings.NewReader(tt.body))
		if err != nil {
			t.Fatal(err)
		}
		var out map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if resp.StatusCode != tt.code {
			t.Errorf("%s: code %d, want %d", tt.body, resp.StatusCode, tt.code)
		}
		if tt.code == http.StatusOK && out["applied"] != tt.applied {
			t.Errorf("%s: out %v", tt.body, out)
		}
	}

	d, ok := sim.Devices().Get("heater-1")
	if !ok || !d.IsOn() || *d.Level != 0.5 {
		t.Fatalf("heater = %+v", d)
	}
	if d, ok := sim.Devices().Get("new-1"); !ok || d.Type != "FAN" {
		t.Fatalf("provisioned = %+v", d)
	}

	resp, err := http.Get(srv.URL + "/devices/commands")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET /devices/commands = %d", resp.StatusCode)
	}
}

func TestMetricsMounted(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/metrics = %d", resp.StatusCode)
	}
}

func TestWriteJSONEncodeFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]float64{"lightLux": math.Inf(1)})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("empty body on encode failure")
	}

	rec = httptest.NewRecorder()
	writeJSON(rec, http.StatusCreated, map[string]bool{"applied": true})
	if rec.Code != http.StatusCreated || strings.TrimSpace(rec.Body.String()) != `{"applied":true}` {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
}
