package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	shared "github.com/pauricg23/SOIL-TEMP/shared/types"
)

const telemetryTimeout = 5 * time.Second

// HandleTelemetry records one MQTT telemetry message. A message without a
// temperature is rejected with ErrInvalidValue.
func (s *Service) HandleTelemetry(t shared.Telemetry) error {
	if t.Temperature == nil {
		s.metrics.ReadingRejected("invalid_value")
		return fmt.Errorf("%w: temperature_c missing", ErrInvalidValue)
	}

	ctx, cancel := context.WithTimeout(context.Background(), telemetryTimeout)
	defer cancel()

	s.logger.Debug("processing telemetry message",
		"sensor_id", t.SensorID,
		"timestamp", t.Timestamp,
	)

	_, err := s.Record(ctx, *t.Temperature,
		WithSensorID(t.SensorID),
		WithTimestamp(t.Timestamp),
		WithSource("mqtt"),
		WithBattery(t.Battery, t.BatteryStatus),
	)
	if err != nil {
		if !errors.Is(err, ErrInvalidValue) {
			s.logger.Error("failed to store telemetry",
				"sensor_id", t.SensorID,
				"error", err,
			)
		}
		return err
	}
	return nil
}
