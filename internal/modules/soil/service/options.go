package service

import (
	"log/slog"
	"time"

	"github.com/pauricg23/SOIL-TEMP/internal/metrics"
)

// Option configures a Service.
type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDefaultSensor names the sensor used when a call passes none.
func WithDefaultSensor(id string) Option {
	return func(s *Service) {
		if id != "" {
			s.defaultSensor = id
		}
	}
}

// RecordOption adjusts a single Record call.
type RecordOption func(*recordParams)

type recordParams struct {
	ts            time.Time
	sensorID      string
	source        string
	batteryV      *float64
	batteryStatus string
}

// WithTimestamp stamps the reading with t instead of the clock's now.
// A zero t is ignored.
func WithTimestamp(t time.Time) RecordOption {
	return func(p *recordParams) { p.ts = t }
}

func WithSensorID(id string) RecordOption {
	return func(p *recordParams) { p.sensorID = id }
}

// WithSource labels where the reading came from (http, mqtt, cli) in metrics and logs.
func WithSource(source string) RecordOption {
	return func(p *recordParams) { p.source = source }
}

// WithBattery attaches the probe's battery report. A nil volts with an
// empty status records no battery data.
func WithBattery(volts *float64, status string) RecordOption {
	return func(p *recordParams) {
		p.batteryV = volts
		p.batteryStatus = status
	}
}
