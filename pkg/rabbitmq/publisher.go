package rabbitmq

import (
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// IPublisher interface defines the method to publish a message
type IPublisher interface {
	PublishMessage(message interface{}) error
	PublishMessageQos(qos byte, retained bool, message interface{}) error
	Close()
}

// Publisher is bound to a single topic on a shared client.
type Publisher struct {
	client mqtt.Client
	topic  string
	qos    byte
	log    zerolog.Logger
}

func NewPublisher(client mqtt.Client, topic string, qos byte, log zerolog.Logger) *Publisher {
	return &Publisher{client: client, topic: topic, qos: qos, log: log}
}

// PublishMessage publishes with the publisher's default QoS.
func (p *Publisher) PublishMessage(message interface{}) error {
	return p.PublishMessageQos(p.qos, false, message)
}

// PublishMessageQos accepts string or []byte payloads.
func (p *Publisher) PublishMessageQos(qos byte, retained bool, message interface{}) error {
	switch message.(type) {
	case string, []byte:
	default:
		return fmt.Errorf("invalid message format %T, expected string or []byte", message)
	}

	token := p.client.Publish(p.topic, qos, retained, message)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish message on %s: %w", p.topic, err)
	}
	p.log.Debug().Str("topic", p.topic).Uint8("qos", qos).Msg("mqtt: published")
	return nil
}

// Close disconnects the shared client.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		p.log.Info().Msg("mqtt: client disconnected")
	}
}
