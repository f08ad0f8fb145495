// Package metrics exposes the simulator counters and gauges on a private
// Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LeonardoBeccarini/farm_simulator/internal/model/entities"
)

const namespace = "farmsim"

// Recorder is the Prometheus backed recorder.
type Recorder struct {
	registry *prometheus.Registry

	ticks          prometheus.Counter
	tickDuration   prometheus.Histogram
	commands       *prometheus.CounterVec
	failures       *prometheus.CounterVec
	telemetrySends *prometheus.CounterVec
	environment    *prometheus.GaugeVec
	cropHealth     *prometheus.GaugeVec
	cropGrowth     *prometheus.GaugeVec
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Simulation ticks completed",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of one pipeline pass including forwarding",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Device commands received, by outcome",
		}, []string{"result"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_injected_total",
			Help:      "Faults injected by the failure engine",
		}, []string{"kind"}),
		telemetrySends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_sends_total",
			Help:      "Telemetry payloads forwarded, by outcome",
		}, []string{"result"}),
		environment: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "environment",
			Help:      "Current value of each environment variable",
		}, []string{"variable"}),
		cropHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "crop_health",
			Help:      "Crop health score 0..100",
		}, []string{"crop"}),
		cropGrowth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "crop_growth",
			Help:      "Crop growth stage 0..1",
		}, []string{"crop"}),
	}
	r.registry.MustRegister(
		r.ticks, r.tickDuration, r.commands, r.failures, r.telemetrySends,
		r.environment, r.cropHealth, r.cropGrowth,
	)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) TickCompleted(d time.Duration, env entities.EnvironmentState, crops []entities.CropState) {
	r.ticks.Inc()
	r.tickDuration.Observe(d.Seconds())
	for _, v := range entities.Variables {
		x, _ := env.Get(v)
		r.environment.WithLabelValues(string(v)).Set(x)
	}
	for _, c := range crops {
		r.cropHealth.WithLabelValues(c.CropType).Set(c.HealthScore)
		r.cropGrowth.WithLabelValues(c.CropType).Set(c.GrowthStage)
	}
}

func (r *Recorder) FailureInjected(kind string) {
	r.failures.WithLabelValues(kind).Inc()
}

func (r *Recorder) CommandProcessed(applied bool) {
	r.commands.WithLabelValues(result(applied, "applied", "rejected")).Inc()
}

func (r *Recorder) TelemetrySent(ok bool) {
	r.telemetrySends.WithLabelValues(result(ok, "ok", "error")).Inc()
}

func result(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

// Nop discards everything.
type Nop struct{}

func (Nop) TickCompleted(time.Duration, entities.EnvironmentState, []entities.CropState) {}
func (Nop) FailureInjected(string)                                                      {}
func (Nop) CommandProcessed(bool)                                                       {}
func (Nop) TelemetrySent(bool)                                                          {}
