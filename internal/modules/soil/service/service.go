package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pauricg23/SOIL-TEMP/internal/clock"
	"github.com/pauricg23/SOIL-TEMP/internal/metrics"
	"github.com/pauricg23/SOIL-TEMP/internal/modules/soil/repository"
	"github.com/pauricg23/SOIL-TEMP/internal/modules/soil/types"
)

// Service is the ingestion and query facade over the Store. It holds no
// state of its own.
type Service struct {
	store         repository.Store
	clock         clock.Clock
	metrics       *metrics.Metrics
	logger        *slog.Logger
	defaultSensor string
}

func New(store repository.Store, c clock.Clock, opts ...Option) *Service {
	if c == nil {
		c = clock.System{}
	}
	s := &Service{
		store:         store,
		clock:         c,
		logger:        slog.Default(),
		defaultSensor: types.DefaultSensorID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultSensor is the sensor used when callers pass an empty id.
func (s *Service) DefaultSensor() string {
	return s.defaultSensor
}

// Now is the service clock's current time.
func (s *Service) Now() time.Time {
	return s.clock.Now().UTC()
}

// Record validates value and appends it. It fails with ErrInvalidValue for
// NaN or ±Inf, for a non-finite battery voltage and for a timestamp outside
// types.MinTime..types.MaxTime. Any other number is stored as is.
func (s *Service) Record(ctx context.Context, value float64, opts ...RecordOption) (types.Reading, error) {
	p := recordParams{source: "api"}
	for _, opt := range opts {
		opt(&p)
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		s.metrics.ReadingRejected("invalid_value")
		return types.Reading{}, fmt.Errorf("%w: %v", ErrInvalidValue, value)
	}
	if p.batteryV != nil && (math.IsNaN(*p.batteryV) || math.IsInf(*p.batteryV, 0)) {
		s.metrics.ReadingRejected("invalid_value")
		return types.Reading{}, fmt.Errorf("%w: battery %v", ErrInvalidValue, *p.batteryV)
	}

	ts := p.ts
	if ts.IsZero() {
		ts = s.clock.Now()
	}
	ts = ts.UTC()
	if ts.Before(types.MinTime) || ts.After(types.MaxTime) {
		s.metrics.ReadingRejected("invalid_value")
		return types.Reading{}, fmt.Errorf("%w: timestamp %s out of range", ErrInvalidValue, ts)
	}
	reading := types.Reading{
		SensorID:      s.sensor(p.sensorID),
		Time:          ts,
		Value:         value,
		BatteryV:      p.batteryV,
		BatteryStatus: p.batteryStatus,
	}

	if err := s.store.Append(ctx, reading); err != nil {
		s.metrics.ReadingRejected("storage")
		return types.Reading{}, err
	}

	s.metrics.ReadingRecorded(reading.SensorID, p.source, reading.Value, reading.Time)
	s.logger.Debug("reading recorded",
		"sensor_id", reading.SensorID,
		"time", reading.Time,
		"value", reading.Value,
		"source", p.source,
	)
	return reading, nil
}

// CurrentStatus returns the newest reading, or ErrNoData when there is none.
func (s *Service) CurrentStatus(ctx context.Context, sensorID string) (types.Reading, error) {
	r, ok, err := s.store.Latest(ctx, s.sensor(sensorID))
	if err != nil {
		return types.Reading{}, err
	}
	if !ok {
		return types.Reading{}, ErrNoData
	}
	return r, nil
}

// History returns the readings of the last window, oldest first.
func (s *Service) History(ctx context.Context, sensorID string, window time.Duration) ([]types.Reading, error) {
	if window <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWindow, window)
	}
	return s.store.Recent(ctx, s.sensor(sensorID), window)
}

// Stats summarises History(window). ErrNoData when the window is empty.
func (s *Service) Stats(ctx context.Context, sensorID string, window time.Duration) (types.Stats, error) {
	readings, err := s.History(ctx, sensorID, window)
	if err != nil {
		return types.Stats{}, err
	}
	if len(readings) == 0 {
		return types.Stats{}, ErrNoData
	}

	st := types.Stats{
		SensorID: s.sensor(sensorID),
		Window:   window,
		Count:    len(readings),
		Min:      readings[0].Value,
		MinTime:  readings[0].Time,
		Max:      readings[0].Value,
		MaxTime:  readings[0].Time,
	}
	var sum float64
	for _, r := range readings {
		sum += r.Value
		// First occurrence wins on ties.
		if r.Value < st.Min {
			st.Min, st.MinTime = r.Value, r.Time
		}
		if r.Value > st.Max {
			st.Max, st.MaxTime = r.Value, r.Time
		}
	}
	last := readings[len(readings)-1]
	st.Avg = math.Round(sum/float64(len(readings))*100) / 100
	st.Current = last.Value
	st.Latest = last.Time
	return st, nil
}

// TotalReadings counts every stored reading across all sensors.
func (s *Service) TotalReadings(ctx context.Context) (int, error) {
	sensors, err := s.store.Sensors(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, id := range sensors {
		n, err := s.store.Count(ctx, id, types.MinTime, types.MaxTime)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Sensors lists every sensor id that has at least one reading.
func (s *Service) Sensors(ctx context.Context) ([]string, error) {
	return s.store.Sensors(ctx)
}

// ParseValue turns a decoded JSON value into a temperature. Numbers and
// numeric strings are accepted; anything else is ErrInvalidValue.
func ParseValue(v any) (float64, error) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, t)
		}
		f = parsed
	case nil:
		return 0, fmt.Errorf("%w: missing", ErrInvalidValue)
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidValue, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidValue, f)
	}
	return f, nil
}

// IsClientError reports whether err is the caller's fault rather than storage's.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidValue) || errors.Is(err, ErrInvalidWindow)
}

func (s *Service) sensor(id string) string {
	if id == "" {
		return s.defaultSensor
	}
	return id
}
