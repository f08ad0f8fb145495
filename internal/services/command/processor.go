package command

import (
	"encoding/json"
	"fmt"

	"github.com/LeonardoBeccarini/farm_simulator/internal/model/messages"
)

// CommandProcessor is the single entry point every channel feeds.
type CommandProcessor interface {
	ProcessCommand(cmd messages.DeviceCommand) bool
}

// Decode parses a JSON command. fallbackID is used as device id when the
// payload carries none (e.g. the id taken from the topic).
func Decode(raw []byte, fallbackID string) (messages.DeviceCommand, error) {
	var c messages.DeviceCommand
	if err := json.Unmarshal(raw, &c); err != nil {
		return messages.DeviceCommand{}, fmt.Errorf("invalid command payload: %w", err)
	}
	if _, ok := c.Resolve(); !ok && fallbackID != "" {
		c.DeviceUUID = fallbackID
	}
	return c, nil
}
