package monitoring

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Reading is a single temperature observation reported by a sensor.
// A nil Temperature means the sensor reported no value.
type Reading struct {
	SensorID    string    `json:"sensorId"`
	ObservedAt  time.Time `json:"observedAt"` // always UTC
	Temperature *float64  `json:"temperature"`
}

// Validate checks the reading's shape. It is meant to be called where readings
// enter the system (sources, ingest), not at every use site.
func (r Reading) Validate() error {
	if strings.TrimSpace(r.SensorID) == "" {
		return fmt.Errorf("%w: empty sensor id", ErrInvalidReading)
	}
	if r.ObservedAt.IsZero() {
		return fmt.Errorf("%w: sensor %s", ErrInvalidTimestamp, r.SensorID)
	}
	if r.Temperature != nil && !isFinite(*r.Temperature) {
		return fmt.Errorf("%w: sensor %s at %s", ErrInvalidTemperature, r.SensorID, r.ObservedAt.Format(time.RFC3339))
	}
	return nil
}

// Sensor is static reference data describing a temperature probe.
type Sensor struct {
	ID           string  `json:"id"`
	OrgID        string  `json:"orgId,omitempty"`
	Name         string  `json:"name"`
	LocationName *string `json:"locationName"`
	Active       bool    `json:"active"`
}

// Validate checks the sensor's required fields.
func (s Sensor) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: empty sensor id", ErrInvalidSensor)
	}
	return nil
}

// DisplayName is the label used for the sensor's chart series.
func (s Sensor) DisplayName() string {
	name := s.Name
	if name == "" {
		name = s.ID
	}
	if s.LocationName != nil && *s.LocationName != "" {
		return name + " (" + *s.LocationName + ")"
	}
	return name
}

// SampledPoint is the averaged temperature of one sensor over one bucket.
type SampledPoint struct {
	SensorID       string    `json:"sensorId"`
	BucketStart    time.Time `json:"bucketStart"`
	AvgTemperature float64   `json:"avgTemperature"`
}

// TimeWindow is an inclusive [Start, End] range.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t lies within the window, bounds included.
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// WindowEndingAt returns [now-rangeDur, now]. The caller computes now once so
// every reading in a pass is judged against the same bounds.
func WindowEndingAt(now time.Time, rangeDur time.Duration) TimeWindow {
	now = now.UTC()
	return TimeWindow{Start: now.Add(-rangeDur), End: now}
}

// ChartDataPoint is one row of a line chart: a timestamp plus one value per
// series that has a reading at exactly that timestamp.
type ChartDataPoint struct {
	Time   time.Time
	Values map[string]float64
}

// MarshalJSON flattens the point into {"time": <unix ms>, "<seriesKey>": value}.
func (p ChartDataPoint) MarshalJSON() ([]byte, error) {
	row := make(map[string]any, len(p.Values)+1)
	for k, v := range p.Values {
		row[k] = v
	}
	row["time"] = p.Time.UnixMilli()
	return json.Marshal(row)
}

// LineSeries describes one line of the chart.
type LineSeries struct {
	Key      string `json:"key"`
	SensorID string `json:"sensorId"`
	Name     string `json:"name"`
	Color    string `json:"color"`
}

// ChartData is the complete input for rendering a temperature chart.
type ChartData struct {
	Window TimeWindow       `json:"window"`
	Points []ChartDataPoint `json:"points"`
	Series []LineSeries     `json:"series"`
	// IntervalMinutes is the sampling interval used; zero for raw readings.
	IntervalMinutes int `json:"intervalMinutes,omitempty"`
}

// SeriesKey returns the field name used for a sensor in chart rows.
func SeriesKey(sensorID string) string {
	return "sensor_" + sensorID
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
