package telemetry

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/farm_simulator/internal/model"
)

// LogSender only logs what would be sent.
type LogSender struct{ log zerolog.Logger }

func NewLogSender(log zerolog.Logger) *LogSender { return &LogSender{log: log} }

func (s *LogSender) Send(_ context.Context, dc model.DeviceContext, p model.TelemetryPayload) error {
	s.log.Info().
		Str("sensor_id", dc.SensorID).
		Str("device_uuid", dc.DeviceUUID).
		Str("variable", p.VariableName).
		Str("value", p.Value).
		Str("recieved_at", p.ReceivedAt).
		Msg("telemetry: datastream")
	return nil
}

func (s *LogSender) Close() error { return nil }
