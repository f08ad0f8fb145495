// Package mqtttest provides in-memory paho fakes for tests.
package mqtttest

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Token is an already-completed paho token.
type Token struct{ Err error }

func (t *Token) Wait() bool                     { return true }
func (t *Token) WaitTimeout(time.Duration) bool { return true }
func (t *Token) Error() error                   { return t.Err }
func (t *Token) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Message is a static inbound message.
type Message struct {
	TopicName string
	ID        uint16
	QoS       byte
	Body      []byte
	Dup       bool
}

func (m *Message) Duplicate() bool   { return m.Dup }
func (m *Message) Qos() byte         { return m.QoS }
func (m *Message) Retained() bool    { return false }
func (m *Message) Topic() string     { return m.TopicName }
func (m *Message) MessageID() uint16 { return m.ID }
func (m *Message) Payload() []byte   { return m.Body }
func (m *Message) Ack()              {}

// Published is one recorded Publish call.
type Published struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// Client records publishes and subscriptions. Methods not overridden panic.
type Client struct {
	mqtt.Client

	mu         sync.Mutex
	PublishErr error
	Published  []Published
	Subs       map[string]byte
	handlers   map[string]mqtt.MessageHandler
	connected  bool
}

func NewClient() *Client {
	return &Client{Subs: map[string]byte{}, handlers: map[string]mqtt.MessageHandler{}, connected: true}
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) IsConnectionOpen() bool { return c.IsConnected() }

func (c *Client) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *Client) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PublishErr != nil {
		return &Token{Err: c.PublishErr}
	}
	var b []byte
	switch p := payload.(type) {
	case string:
		b = []byte(p)
	case []byte:
		b = p
	}
	c.Published = append(c.Published, Published{Topic: topic, QoS: qos, Retained: retained, Payload: b})
	return &Token{}
}

func (c *Client) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Subs[topic] = qos
	c.handlers[topic] = cb
	return &Token{}
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.Subs, t)
		delete(c.handlers, t)
	}
	return &Token{}
}

// Deliver invokes the handler registered for filter, as the broker would.
func (c *Client) Deliver(filter string, msg mqtt.Message) bool {
	c.mu.Lock()
	h, ok := c.handlers[filter]
	c.mu.Unlock()
	if !ok {
		return false
	}
	h(c, msg)
	return true
}

// Messages returns a copy of the recorded publishes.
func (c *Client) Messages() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Published(nil), c.Published...)
}

// Subscribed reports whether filter is currently subscribed.
func (c *Client) Subscribed(filter string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.Subs[filter]
	return ok
}
