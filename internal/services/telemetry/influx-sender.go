package telemetry

import (
	"context"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/farm_simulator/internal/model"
	"github.com/LeonardoBeccarini/farm_simulator/internal/model/messages"
)

const influxMeasurement = "telemetry"

// PointWriter is the subset of api.WriteAPIBlocking the sender needs.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSender writes each payload as a point; it never reads back.
type InfluxSender struct {
	w     PointWriter
	close func()
	log   zerolog.Logger
}

var _ BatchSender = (*InfluxSender)(nil)

func NewInfluxSender(url, token, org, bucket string, log zerolog.Logger) *InfluxSender {
	client := influxdb2.NewClient(url, token)
	return &InfluxSender{w: client.WriteAPIBlocking(org, bucket), close: client.Close, log: log}
}

func NewInfluxSenderWithWriter(w PointWriter, log zerolog.Logger) *InfluxSender {
	return &InfluxSender{w: w, close: func() {}, log: log}
}

func (s *InfluxSender) Send(ctx context.Context, dc model.DeviceContext, p model.TelemetryPayload) error {
	return s.w.WritePoint(ctx, PayloadToPoint(dc, p))
}

func (s *InfluxSender) SendBatch(ctx context.Context, dc model.DeviceContext, ps []model.TelemetryPayload) error {
	points := make([]*write.Point, 0, len(ps))
	for _, p := range ps {
		points = append(points, PayloadToPoint(dc, p))
	}
	return s.w.WritePoint(ctx, points...)
}

func (s *InfluxSender) Close() error {
	s.close()
	return nil
}

// PayloadToPoint normalizza un payload in un *write.Point.
func PayloadToPoint(dc model.DeviceContext, p model.TelemetryPayload) *write.Point {
	tags := map[string]string{
		"device_uuid": dc.DeviceUUID,
		"variable":    p.VariableName,
	}
	if dc.SensorID != "" {
		tags["sensor_id"] = dc.SensorID
	}

	fields := map[string]interface{}{}
	if f, err := strconv.ParseFloat(p.Value, 64); err == nil {
		fields["value"] = f
	} else {
		fields["raw"] = p.Value
	}

	ts, err := time.Parse(messages.TimestampLayout, p.ReceivedAt)
	if err != nil {
		ts = time.Now().UTC()
	}
	return influxdb2.NewPoint(influxMeasurement, tags, fields, ts)
}
