package monitoring

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// bucketKey identifies one (sensor, bucket) group.
type bucketKey struct {
	sensorID    string
	bucketStart int64 // unix ms
}

// Sample groups readings into fixed-width buckets per sensor and averages them.
// Readings without a temperature are ignored. Each point is stamped with the
// bucket start, not the time of any contributing reading, so all points of a
// run sit on the same grid. Output is sorted by bucket start, then sensor ID.
func Sample(readings []Reading, intervalMinutes int) ([]SampledPoint, error) {
	if intervalMinutes <= 0 {
		return nil, fmt.Errorf("%w: got %d minutes", ErrInvalidInterval, intervalMinutes)
	}
	intervalMs := int64(intervalMinutes) * int64(time.Minute/time.Millisecond)

	var (
		sums   = make(map[bucketKey]float64)
		counts = make(map[bucketKey]int)
	)

	for _, r := range readings {
		if r.Temperature == nil {
			continue
		}
		if r.ObservedAt.IsZero() {
			return nil, fmt.Errorf("%w: sensor %s", ErrInvalidTimestamp, r.SensorID)
		}
		if !isFinite(*r.Temperature) {
			return nil, fmt.Errorf("%w: sensor %s", ErrInvalidTemperature, r.SensorID)
		}

		k := bucketKey{
			sensorID:    r.SensorID,
			bucketStart: BucketStart(r.ObservedAt.UnixMilli(), intervalMs),
		}
		sums[k] += *r.Temperature
		counts[k]++
	}

	points := make([]SampledPoint, 0, len(sums))
	for k, sum := range sums {
		points = append(points, SampledPoint{
			SensorID:       k.sensorID,
			BucketStart:    time.UnixMilli(k.bucketStart).UTC(),
			AvgTemperature: roundTenth(sum / float64(counts[k])),
		})
	}

	sort.Slice(points, func(i, j int) bool {
		if !points[i].BucketStart.Equal(points[j].BucketStart) {
			return points[i].BucketStart.Before(points[j].BucketStart)
		}
		return points[i].SensorID < points[j].SensorID
	})

	return points, nil
}

// BucketStart returns floor(ms / intervalMs) * intervalMs, flooring towards
// negative infinity for pre-epoch timestamps.
func BucketStart(ms, intervalMs int64) int64 {
	q := ms / intervalMs
	if ms%intervalMs != 0 && ms < 0 {
		q--
	}
	return q * intervalMs
}

// SampledReadings turns sampled points back into readings so they can be fed
// to BuildSeries in place of raw data.
func SampledReadings(points []SampledPoint) []Reading {
	out := make([]Reading, 0, len(points))
	for _, p := range points {
		avg := p.AvgTemperature
		out = append(out, Reading{
			SensorID:    p.SensorID,
			ObservedAt:  p.BucketStart,
			Temperature: &avg,
		})
	}
	return out
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
