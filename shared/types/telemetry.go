package types

import "time"

// Telemetry is the MQTT payload a soil probe poller publishes per sample.
type Telemetry struct {
	SensorID    string    `json:"sensor_id"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature *float64  `json:"temperature_c,omitempty"`
	Battery     *float64  `json:"battery_v,omitempty"`
	// BatteryStatus is the probe's own label for Battery, e.g. "ok" or "low".
	BatteryStatus string `json:"battery_status,omitempty"`
}

// TelemetryTopic is the topic a poller publishes a sensor's telemetry on.
func TelemetryTopic(sensorID string) string {
	return "soil/" + sensorID + "/telemetry"
}
