package monitoring

import (
	"fmt"
	"time"
)

// intervalSteps maps the upper bound of a requested time range to the
// sampling interval used for it. Ranges above the last bound use fallbackInterval.
var intervalSteps = []struct {
	maxRange time.Duration
	minutes  int
}{
	{1 * time.Hour, 5},
	{6 * time.Hour, 30},
	{12 * time.Hour, 60},
	{48 * time.Hour, 120},
}

const fallbackInterval = 240

// IntervalForRange picks the sampling interval, in minutes, for a chart that
// covers rangeDur.
func IntervalForRange(rangeDur time.Duration) (int, error) {
	if rangeDur <= 0 {
		return 0, fmt.Errorf("%w: got %s", ErrInvalidRange, rangeDur)
	}
	for _, step := range intervalSteps {
		if rangeDur <= step.maxRange {
			return step.minutes, nil
		}
	}
	return fallbackInterval, nil
}
