package monitoring

import (
	"fmt"
	"sort"
)

// BuildSeries merges the readings of the selected sensors into chart rows
// keyed by timestamp, restricted to window (bounds included).
//
// Rows are sparse: a sensor without a reading at a row's exact timestamp has
// no field in that row. One LineSeries is emitted per selected sensor, in
// selection order, and colors follow that order. sensors is only used for
// display names; unknown sensors are labelled with their ID.
func BuildSeries(readings []Reading, sensors []Sensor, selected []string, window TimeWindow, palette Palette) (ChartData, error) {
	if window.End.Before(window.Start) {
		return ChartData{}, fmt.Errorf("%w: %s > %s", ErrInvalidWindow, window.Start, window.End)
	}

	order := dedupe(selected)
	chosen := make(map[string]struct{}, len(order))
	for _, id := range order {
		chosen[id] = struct{}{}
	}

	filtered := make([]Reading, 0, len(readings))
	for _, r := range readings {
		if _, ok := chosen[r.SensorID]; !ok || r.Temperature == nil {
			continue
		}
		if r.ObservedAt.IsZero() {
			return ChartData{}, fmt.Errorf("%w: sensor %s", ErrInvalidTimestamp, r.SensorID)
		}
		if !window.Contains(r.ObservedAt) {
			continue
		}
		filtered = append(filtered, r)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].ObservedAt.Before(filtered[j].ObservedAt)
	})

	points := make([]ChartDataPoint, 0)
	for _, r := range filtered {
		n := len(points)
		if n == 0 || !points[n-1].Time.Equal(r.ObservedAt) {
			points = append(points, ChartDataPoint{
				Time:   r.ObservedAt.UTC(),
				Values: make(map[string]float64),
			})
			n++
		}
		points[n-1].Values[SeriesKey(r.SensorID)] = *r.Temperature
	}

	names := make(map[string]string, len(sensors))
	for _, s := range sensors {
		names[s.ID] = s.DisplayName()
	}

	if palette == nil {
		palette = DefaultPalette
	}
	series := make([]LineSeries, 0, len(order))
	for i, id := range order {
		name, ok := names[id]
		if !ok {
			name = id
		}
		series = append(series, LineSeries{
			Key:      SeriesKey(id),
			SensorID: id,
			Name:     name,
			Color:    palette.ColorAt(i),
		})
	}

	return ChartData{Window: window, Points: points, Series: series}, nil
}

// dedupe keeps the first occurrence of every ID, preserving order.
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
