package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/farm_simulator/internal/catalog"
	"github.com/LeonardoBeccarini/farm_simulator/internal/model"
	"github.com/LeonardoBeccarini/farm_simulator/internal/model/messages"
	sensor_simulator "github.com/LeonardoBeccarini/farm_simulator/internal/sensor-simulator"
)

// Sender delivers one payload on behalf of one backend device.
type Sender interface {
	Send(ctx context.Context, dc model.DeviceContext, p model.TelemetryPayload) error
	Close() error
}

// BatchSender is implemented by senders that can ship several payloads at once.
type BatchSender interface {
	SendBatch(ctx context.Context, dc model.DeviceContext, ps []model.TelemetryPayload) error
}

// SendRecorder counts delivery outcomes.
type SendRecorder interface {
	TelemetrySent(ok bool)
}

type nopSendRecorder struct{}

func (nopSendRecorder) TelemetrySent(bool) {}

type Config struct {
	Sender   Sender
	Contexts []model.DeviceContext
	Sensors  []catalog.SensorBinding
	Batch    bool // use SendBatch when the sender supports it
	Recorder SendRecorder
	Logger   zerolog.Logger
}

// Adapter turns sensor readings into per-device payloads and hands them to a Sender.
type Adapter struct {
	sender   Sender
	contexts []model.DeviceContext
	bindings map[string]catalog.SensorBinding
	batch    BatchSender
	rec      SendRecorder
	log      zerolog.Logger
	now      func() time.Time
}

var _ sensor_simulator.Forwarder = (*Adapter)(nil)

func NewAdapter(cfg Config) (*Adapter, error) {
	if cfg.Sender == nil {
		return nil, errors.New("telemetry: sender is required")
	}
	a := &Adapter{
		sender:   cfg.Sender,
		contexts: append([]model.DeviceContext(nil), cfg.Contexts...),
		bindings: make(map[string]catalog.SensorBinding, len(cfg.Sensors)),
		rec:      cfg.Recorder,
		log:      cfg.Logger,
		now:      time.Now,
	}
	if a.rec == nil {
		a.rec = nopSendRecorder{}
	}
	for _, b := range cfg.Sensors {
		a.bindings[b.SensorID] = b
	}
	if bs, ok := cfg.Sender.(BatchSender); ok && cfg.Batch {
		a.batch = bs
	}
	for _, dc := range a.contexts {
		if _, ok := a.bindings[dc.SensorID]; !ok {
			a.log.Warn().Str("sensor_id", dc.SensorID).Msg("telemetry: no sensor binding, device will not report")
		}
	}
	return a, nil
}

// Forward sends every bound variable of every device. A failed payload is
// logged and counted; the remaining ones are still attempted.
func (a *Adapter) Forward(ctx context.Context, readings model.SensorReadings) error {
	now := a.now()
	var errs []error
	for _, dc := range a.contexts {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		b, ok := a.bindings[dc.SensorID]
		if !ok {
			continue
		}
		payloads := BuildPayloads(readings, b, now)
		if len(payloads) == 0 {
			continue
		}

		if a.batch != nil {
			err := a.batch.SendBatch(ctx, dc, payloads)
			a.rec.TelemetrySent(err == nil)
			if err != nil {
				a.log.Warn().Err(err).Str("device_uuid", dc.DeviceUUID).Int("payloads", len(payloads)).Msg("telemetry: batch send failed")
				errs = append(errs, fmt.Errorf("device %s: %w", dc.DeviceUUID, err))
			}
			continue
		}

		for _, p := range payloads {
			err := a.sender.Send(ctx, dc, p)
			a.rec.TelemetrySent(err == nil)
			if err != nil {
				a.log.Warn().Err(err).
					Str("device_uuid", dc.DeviceUUID).
					Str("variable", p.VariableName).
					Msg("telemetry: send failed")
				errs = append(errs, fmt.Errorf("device %s %s: %w", dc.DeviceUUID, p.VariableName, err))
				continue
			}
			a.log.Debug().Str("device_uuid", dc.DeviceUUID).Str("variable", p.VariableName).Str("value", p.Value).Msg("telemetry: sent")
		}
	}
	return errors.Join(errs...)
}

// Close closes the underlying sender.
func (a *Adapter) Close() error { return a.sender.Close() }

// BuildPayloads renders the bound variables of one sensor as backend payloads.
func BuildPayloads(readings model.SensorReadings, b catalog.SensorBinding, t time.Time) []model.TelemetryPayload {
	out := make([]model.TelemetryPayload, 0, len(b.Telemetry))
	for _, tb := range b.Telemetry {
		x, ok := readings.Get(tb.Source)
		if !ok {
			continue
		}
		out = append(out, messages.NewTelemetryPayload(tb.VariableName, FormatValue(x, tb), t))
	}
	return out
}

// FormatValue scales, rounds and prints x with exactly tb.Decimals digits.
func FormatValue(x float64, tb catalog.TelemetryBinding) string {
	dec := tb.Decimals
	if dec < 0 {
		dec = 0
	}
	return strconv.FormatFloat(sensor_simulator.Round(x*tb.Factor(), dec), 'f', dec, 64)
}
