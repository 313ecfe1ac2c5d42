package types

import "time"

// DefaultSensorID names the implicit sensor used when a reading carries none.
const DefaultSensorID = "default"

// Readings are stored with fixed-width four-digit years, so only times in
// [MinTime, MaxTime] keep text order equal to time order.
var (
	MinTime = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	MaxTime = time.Date(9999, time.December, 31, 23, 59, 59, 999999999, time.UTC)
)

// Reading is one timestamped temperature sample. Immutable once stored.
// BatteryV and BatteryStatus are what the probe reported alongside it, if anything.
type Reading struct {
	SensorID      string    `json:"sensorId"`
	Time          time.Time `json:"time"`
	Value         float64   `json:"value"`
	BatteryV      *float64  `json:"batteryV,omitempty"`
	BatteryStatus string    `json:"batteryStatus,omitempty"`
}

// DepthSensorID names the sensor that holds the readings of a deeper probe
// (t2, t3) mounted next to sensor base.
func DepthSensorID(base, depth string) string {
	if base == "" {
		base = DefaultSensorID
	}
	return base + "-" + depth
}

// Point is the charting projection of a Reading.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

func (r Reading) Point() Point {
	return Point{Time: r.Time, Value: r.Value}
}

// Stats summarises a window of readings.
type Stats struct {
	SensorID string        `json:"sensorId"`
	Window   time.Duration `json:"-"`
	Count    int           `json:"count"`
	Min      float64       `json:"min"`
	MinTime  time.Time     `json:"minTime"`
	Max      float64       `json:"max"`
	MaxTime  time.Time     `json:"maxTime"`
	Avg      float64       `json:"avg"`
	Current  float64       `json:"current"`
	Latest   time.Time     `json:"latest"`
}
