package messages

import (
	"time"

	"github.com/LeonardoBeccarini/farm_simulator/internal/model/entities"
)

// TimestampLayout is ISO-8601 UTC with milliseconds, as the backend expects.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// SensorReadings is a rounded snapshot of the environment produced once per tick.
type SensorReadings = entities.EnvironmentState

// TelemetryPayload is one datastream value sent to the backend.
// The "recievedAt" spelling is part of the backend contract.
type TelemetryPayload struct {
	VariableName string `json:"variableName"`
	Value        string `json:"value"`
	ReceivedAt   string `json:"recievedAt"`
}

// NewTelemetryPayload stamps the payload with t in the backend layout.
func NewTelemetryPayload(variable, value string, t time.Time) TelemetryPayload {
	return TelemetryPayload{
		VariableName: variable,
		Value:        value,
		ReceivedAt:   t.UTC().Format(TimestampLayout),
	}
}

// DeviceContext holds the credentials of one backend device.
type DeviceContext struct {
	SensorID    string `json:"sensorId"`
	DeviceToken string `json:"deviceToken"`
	DeviceUUID  string `json:"deviceUuid"`
}

// TickReport summarises one pipeline pass for logs and observers.
type TickReport struct {
	Tick          uint64
	Readings      SensorReadings
	EnvFailure    string
	DeviceFailure string
	ActiveDevices []string
	Duration      time.Duration
}
