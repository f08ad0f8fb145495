package command

import (
	"strconv"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/farm_simulator/pkg/dedup"
)

// MQTTHandler decodes broker messages into commands. QoS 1 redeliveries are
// dropped by key topic|messageID|sha256(payload).
type MQTTHandler struct {
	proc  CommandProcessor
	dedup *dedup.Deduper
	log   zerolog.Logger
}

func NewMQTTHandler(proc CommandProcessor, d *dedup.Deduper, log zerolog.Logger) *MQTTHandler {
	if d == nil {
		d = dedup.New(0, 0)
	}
	return &MQTTHandler{proc: proc, dedup: d, log: log}
}

// Handle has the rabbitmq consumer handler signature.
func (h *MQTTHandler) Handle(_ string, msg mqtt.Message) error {
	if msg.Qos() > 0 {
		key := dedup.Key(msg.Payload(), msg.Topic(), strconv.Itoa(int(msg.MessageID())))
		if !h.dedup.ShouldProcess(key) {
			h.log.Debug().Str("topic", msg.Topic()).Uint16("msg_id", msg.MessageID()).Msg("command: duplicate dropped")
			return nil
		}
	}

	cmd, err := Decode(msg.Payload(), DeviceIDFromTopic(msg.Topic()))
	if err != nil {
		return err
	}
	if !h.proc.ProcessCommand(cmd) {
		h.log.Warn().Str("topic", msg.Topic()).Msg("command: rejected, no device id")
	}
	return nil
}

// DeviceIDFromTopic returns {uuid} from devices/{uuid}/..., or "".
func DeviceIDFromTopic(topic string) string {
	parts := strings.Split(strings.TrimSpace(topic), "/")
	if len(parts) < 3 || parts[0] != "devices" {
		return ""
	}
	id := strings.TrimSpace(parts[1])
	if id == "+" || id == "#" {
		return ""
	}
	return id
}
