package rabbitmq

import (
	"context"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// IConsumer interface defines the ConsumeMessage method with dependencies T
type IConsumer[T any] interface {
	ConsumeMessage(ctx context.Context)
	SetHandler(handler func(queue string, message T) error)
}

// commands must not be lost: QoS 1 for command and state-change topics
func qosFor(topic string) byte {
	t := strings.TrimSpace(topic)
	if strings.HasPrefix(t, "devices/") ||
		strings.HasPrefix(t, "device-state-change") ||
		strings.HasPrefix(t, "device-command") {
		return 1
	}
	return 0
}

// MultiConsumer subscribes to several topic filters with one handler.
type MultiConsumer struct {
	client  mqtt.Client
	topics  []string
	handler func(queue string, message mqtt.Message) error
	log     zerolog.Logger
}

var _ IConsumer[mqtt.Message] = (*MultiConsumer)(nil)

func NewMultiConsumer(client mqtt.Client, topics []string, handler func(queue string, message mqtt.Message) error, log zerolog.Logger) *MultiConsumer {
	return &MultiConsumer{client: client, topics: topics, handler: handler, log: log}
}

// NewConsumer is a MultiConsumer on a single topic.
func NewConsumer(client mqtt.Client, topic string, handler func(queue string, message mqtt.Message) error, log zerolog.Logger) *MultiConsumer {
	return NewMultiConsumer(client, []string{topic}, handler, log)
}

func (m *MultiConsumer) SetHandler(handler func(queue string, message mqtt.Message) error) {
	m.handler = handler
}

// ConsumeMessage subscribes and blocks until ctx is cancelled, then unsubscribes.
func (m *MultiConsumer) ConsumeMessage(ctx context.Context) {
	for _, topic := range m.topics {
		topic := topic
		token := m.client.Subscribe(topic, qosFor(topic), func(_ mqtt.Client, msg mqtt.Message) {
			m.dispatch(topic, msg)
		})
		token.Wait()
		if err := token.Error(); err != nil {
			m.log.Error().Err(err).Str("topic", topic).Msg("mqtt: subscribe failed")
			continue
		}
		m.log.Info().Str("topic", topic).Msg("mqtt: subscribed")
	}

	<-ctx.Done()

	if len(m.topics) > 0 {
		m.client.Unsubscribe(m.topics...).Wait()
	}
}

func (m *MultiConsumer) dispatch(topic string, msg mqtt.Message) {
	if m.handler == nil {
		m.log.Warn().Str("topic", topic).Msg("mqtt: no handler set")
		return
	}
	if err := m.handler(topic, msg); err != nil {
		m.log.Warn().Err(err).Str("topic", msg.Topic()).Msg("mqtt: error handling message")
	}
}
