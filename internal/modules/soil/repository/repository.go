package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pauricg23/SOIL-TEMP/internal/clock"
	"github.com/pauricg23/SOIL-TEMP/internal/modules/soil/types"
)

//go:embed sql/insert-reading.sql
var insertReadingSQL string

//go:embed sql/get-latest-reading.sql
var getLatestReadingSQL string

//go:embed sql/get-readings.sql
var getReadingsSQL string

//go:embed sql/get-readings-count.sql
var getReadingsCountSQL string

//go:embed sql/get-sensors.sql
var getSensorsSQL string

// ErrStorage marks an I/O or engine failure. It is never retried here.
var ErrStorage = errors.New("storage error")

// tsLayout is fixed width so that text order in SQLite is time order. That
// holds for types.MinTime through types.MaxTime only.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// Store persists readings. Rows are append-only: there is no update or delete.
// An empty sensorID means types.DefaultSensorID.
type Store interface {
	Append(ctx context.Context, reading types.Reading) error
	Latest(ctx context.Context, sensorID string) (types.Reading, bool, error)
	Range(ctx context.Context, sensorID string, start, end time.Time) ([]types.Reading, error)
	Recent(ctx context.Context, sensorID string, d time.Duration) ([]types.Reading, error)
	Count(ctx context.Context, sensorID string, start, end time.Time) (int, error)
	Sensors(ctx context.Context) ([]string, error)
}

type storeImpl struct {
	db    *sql.DB
	clock clock.Clock
}

func NewStore(db *sql.DB, c clock.Clock) Store {
	if c == nil {
		c = clock.System{}
	}
	return &storeImpl{db: db, clock: c}
}

func (s *storeImpl) Append(ctx context.Context, reading types.Reading) error {
	sensorID := sensorOrDefault(reading.SensorID)
	var batteryStatus sql.NullString
	if reading.BatteryStatus != "" {
		batteryStatus = sql.NullString{String: reading.BatteryStatus, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, insertReadingSQL,
		sensorID, formatTS(reading.Time), reading.Value, reading.BatteryV, batteryStatus)
	if err != nil {
		return fmt.Errorf("%w: insert reading: %w", ErrStorage, err)
	}
	return nil
}

func (s *storeImpl) Latest(ctx context.Context, sensorID string) (types.Reading, bool, error) {
	row := s.db.QueryRowContext(ctx, getLatestReadingSQL, sensorOrDefault(sensorID))
	rec, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Reading{}, false, nil
	}
	if err != nil {
		return types.Reading{}, false, fmt.Errorf("%w: latest reading: %w", ErrStorage, err)
	}
	return rec, true, nil
}

func (s *storeImpl) Range(ctx context.Context, sensorID string, start, end time.Time) ([]types.Reading, error) {
	rows, err := s.db.QueryContext(ctx, getReadingsSQL, sensorOrDefault(sensorID), formatTS(start), formatTS(end))
	if err != nil {
		return nil, fmt.Errorf("%w: query readings: %w", ErrStorage, err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close readings rows", "error", err)
		}
	}()

	out := []types.Reading{}
	for rows.Next() {
		rec, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan reading: %w", ErrStorage, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate readings: %w", ErrStorage, err)
	}
	return out, nil
}

func (s *storeImpl) Recent(ctx context.Context, sensorID string, d time.Duration) ([]types.Reading, error) {
	now := s.clock.Now()
	return s.Range(ctx, sensorID, now.Add(-d), now)
}

func (s *storeImpl) Count(ctx context.Context, sensorID string, start, end time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, getReadingsCountSQL, sensorOrDefault(sensorID), formatTS(start), formatTS(end)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count readings: %w", ErrStorage, err)
	}
	return n, nil
}

func (s *storeImpl) Sensors(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, getSensorsSQL)
	if err != nil {
		return nil, fmt.Errorf("%w: query sensors: %w", ErrStorage, err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close sensors rows", "error", err)
		}
	}()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan sensor: %w", ErrStorage, err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate sensors: %w", ErrStorage, err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReading(row rowScanner) (types.Reading, error) {
	var rec types.Reading
	var ts string
	var batteryV sql.NullFloat64
	var batteryStatus sql.NullString
	if err := row.Scan(&rec.SensorID, &ts, &rec.Value, &batteryV, &batteryStatus); err != nil {
		return types.Reading{}, err
	}
	if batteryV.Valid {
		v := batteryV.Float64
		rec.BatteryV = &v
	}
	rec.BatteryStatus = batteryStatus.String
	t, err := parseTS(ts)
	if err != nil {
		return types.Reading{}, err
	}
	rec.Time = t
	return rec, nil
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func sensorOrDefault(id string) string {
	if id == "" {
		return types.DefaultSensorID
	}
	return id
}
