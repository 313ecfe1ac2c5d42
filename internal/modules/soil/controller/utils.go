package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pauricg23/SOIL-TEMP/internal/modules/soil/service"
	"github.com/pauricg23/SOIL-TEMP/internal/modules/soil/types"
)

const (
	defaultHistoryRangeKey = "24h"
	defaultWindow          = 24 * time.Hour
	maxWindow              = 31 * 24 * time.Hour
	historyPageSize        = 20
	maxSubmitBytes         = 1 << 16
)

type historyRange struct {
	Key      string
	Duration time.Duration
	Label    string
}

// historyRangeOrder is the order of the dashboard range selector.
var historyRangeOrder = []string{"1h", "6h", "24h", "7d", "30d"}

var historyRanges = map[string]historyRange{
	"1h":  {Key: "1h", Duration: time.Hour, Label: "Last 1 hour"},
	"6h":  {Key: "6h", Duration: 6 * time.Hour, Label: "Last 6 hours"},
	"24h": {Key: "24h", Duration: 24 * time.Hour, Label: "Last 24 hours"},
	"7d":  {Key: "7d", Duration: 7 * 24 * time.Hour, Label: "Last 7 days"},
	"30d": {Key: "30d", Duration: 30 * 24 * time.Hour, Label: "Last 30 days"},
}

// submitRequest is the ingest body. temperature (alias t1) is the top probe;
// t2 and t3 are deeper probes on the same stake. Values may be numbers or
// numeric strings. ts is kept raw so a null or malformed value falls back
// to server time instead of failing the request.
type submitRequest struct {
	Temperature   any             `json:"temperature"`
	T1            any             `json:"t1"`
	T2            any             `json:"t2"`
	T3            any             `json:"t3"`
	Battery       any             `json:"battery"`
	BatteryStatus string          `json:"battery_status"`
	TS            json.RawMessage `json:"ts"`
	SensorID      string          `json:"sensor_id"`
}

func (r submitRequest) value() any {
	if r.Temperature != nil {
		return r.Temperature
	}
	return r.T1
}

// probeValue is one temperature of a submission and the sensor it is stored under.
type probeValue struct {
	sensorID string
	value    float64
}

// probes parses every temperature present in the body, top probe first.
// Depth probes are stored under types.DepthSensorID(sensorID, "t2"|"t3").
// It fails when any present value is invalid or when none is present.
func (r submitRequest) probes(sensorID string) ([]probeValue, error) {
	fields := []struct {
		name  string
		id    string
		value any
	}{
		{name: "temperature", id: sensorID, value: r.value()},
		{name: "t2", id: types.DepthSensorID(sensorID, "t2"), value: r.T2},
		{name: "t3", id: types.DepthSensorID(sensorID, "t3"), value: r.T3},
	}

	var out []probeValue
	for _, f := range fields {
		if f.value == nil {
			continue
		}
		v, err := service.ParseValue(f.value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
		out = append(out, probeValue{sensorID: f.id, value: v})
	}
	if len(out) == 0 {
		_, err := service.ParseValue(nil)
		return nil, fmt.Errorf("temperature: %w", err)
	}
	return out, nil
}

// battery returns the reported battery voltage, nil when absent.
func (r submitRequest) battery() (*float64, error) {
	if r.Battery == nil {
		return nil, nil
	}
	v, err := service.ParseValue(r.Battery)
	if err != nil {
		return nil, fmt.Errorf("battery: %w", err)
	}
	return &v, nil
}

var tsLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// timestamp returns the client time in UTC, or the zero time when ts is
// absent, null or not understood. Zone-less layouts are read as UTC.
func (r submitRequest) timestamp() time.Time {
	if len(r.TS) == 0 {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(r.TS, &s); err != nil {
		return time.Time{}
	}
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return time.Time{}
	}
	for _, layout := range tsLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// parseWindow reads the query window: window=<Go duration> wins over
// hours=<int>, which wins over range=<selector key>. Default 24h, max 31 days.
func parseWindow(r *http.Request) (time.Duration, error) {
	q := r.URL.Query()

	var window time.Duration
	switch {
	case q.Get("window") != "":
		d, err := time.ParseDuration(q.Get("window"))
		if err != nil {
			return 0, errors.New("invalid 'window' (expected duration such as 30m or 6h)")
		}
		window = d
	case q.Get("hours") != "":
		n, err := strconv.Atoi(q.Get("hours"))
		if err != nil {
			return 0, errors.New("invalid 'hours' (expected integer)")
		}
		// Bounded before multiplying so large values cannot wrap around.
		if n <= 0 {
			return 0, errors.New("window must be > 0")
		}
		if n > int(maxWindow/time.Hour) {
			return 0, fmt.Errorf("window must be <= %s", maxWindow)
		}
		window = time.Duration(n) * time.Hour
	case q.Get("range") != "":
		info, ok := historyRanges[q.Get("range")]
		if !ok {
			return 0, fmt.Errorf("invalid 'range' %q", q.Get("range"))
		}
		window = info.Duration
	default:
		return defaultWindow, nil
	}

	if window <= 0 {
		return 0, errors.New("window must be > 0")
	}
	if window > maxWindow {
		return 0, fmt.Errorf("window must be <= %s", maxWindow)
	}
	return window, nil
}

func resolveHistoryRange(key string) (historyRange, bool) {
	if key == "" {
		return historyRanges[defaultHistoryRangeKey], true
	}
	info, ok := historyRanges[key]
	if ok {
		return info, true
	}
	return historyRanges[defaultHistoryRangeKey], false
}

// parseHistoryPage returns the 1-based page number from the request (default 1, min 1).
func parseHistoryPage(r *http.Request) int {
	s := r.URL.Query().Get("page")
	if s == "" {
		return 1
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func sensorParam(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("sensor_id"))
}
