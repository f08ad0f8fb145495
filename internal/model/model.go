package model

import (
	"github.com/LeonardoBeccarini/farm_simulator/internal/model/entities"
	"github.com/LeonardoBeccarini/farm_simulator/internal/model/messages"
)

// Alias per esporre tipi comuni ai servizi

type (
	EnvironmentState = entities.EnvironmentState
	DeviceState      = entities.DeviceState
	DeviceSpec       = entities.DeviceSpec
	CropState        = entities.CropState
	Variable         = entities.Variable
	DeviceCommand    = messages.DeviceCommand
	DeviceUpdate     = messages.DeviceUpdate
	SensorReadings   = messages.SensorReadings
	TelemetryPayload = messages.TelemetryPayload
	DeviceContext    = messages.DeviceContext
	TickReport       = messages.TickReport
)

const (
	StatusOn  = entities.StatusOn
	StatusOff = entities.StatusOff
)
