package soil

import (
	shared "github.com/pauricg23/SOIL-TEMP/shared/types"
)

// MQTTSubscriber interface for attaching message handlers
type MQTTSubscriber interface {
	SetMessageHandler(handler func(telemetry shared.Telemetry) error)
}

// TelemetryHandler consumes telemetry from the broker.
type TelemetryHandler interface {
	HandleTelemetry(telemetry shared.Telemetry) error
}

// registerMQTTHandler routes every subscribed message into the service.
func registerMQTTHandler(subscriber MQTTSubscriber, handler TelemetryHandler) {
	subscriber.SetMessageHandler(handler.HandleTelemetry)
}
