package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/farm_simulator/internal/model"
	"github.com/LeonardoBeccarini/farm_simulator/pkg/rabbitmq"
)

// PublisherFactory returns a publisher bound to topic.
type PublisherFactory func(topic string) rabbitmq.IPublisher

// MQTTSender publishes {payload..., token} to devices/{uuid}/datastream.
type MQTTSender struct {
	makePublisher PublisherFactory
	log           zerolog.Logger
}

func NewMQTTSender(client mqtt.Client, log zerolog.Logger) *MQTTSender {
	return NewMQTTSenderWithFactory(func(topic string) rabbitmq.IPublisher {
		return rabbitmq.NewPublisher(client, topic, 1, log)
	}, log)
}

func NewMQTTSenderWithFactory(f PublisherFactory, log zerolog.Logger) *MQTTSender {
	return &MQTTSender{makePublisher: f, log: log}
}

// DatastreamTopic is the per-device telemetry topic.
func DatastreamTopic(deviceUUID string) string {
	return fmt.Sprintf("devices/%s/datastream", deviceUUID)
}

type mqttDatastream struct {
	model.TelemetryPayload
	Token string `json:"token"`
}

func (s *MQTTSender) Send(ctx context.Context, dc model.DeviceContext, p model.TelemetryPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dc.DeviceUUID == "" {
		return errors.New("mqtt sender: missing device uuid")
	}
	b, err := json.Marshal(mqttDatastream{TelemetryPayload: p, Token: dc.DeviceToken})
	if err != nil {
		return err
	}
	return s.makePublisher(DatastreamTopic(dc.DeviceUUID)).PublishMessageQos(1, false, string(b))
}

// Close is a no-op: the connection belongs to the caller.
func (s *MQTTSender) Close() error { return nil }
