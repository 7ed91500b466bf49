package monitoring

import (
	"context"
	"time"
)

// ReadingQuery selects readings by sensor (or by organization when SensorIDs
// is empty) within the inclusive [From, To] range.
type ReadingQuery struct {
	OrgID     string
	SensorIDs []string
	From      time.Time
	To        time.Time
}

// ReadingSource returns every reading matching the query. Order is not guaranteed.
type ReadingSource interface {
	FetchReadings(ctx context.Context, q ReadingQuery) ([]Reading, error)
}

// SensorDirectory lists the sensors of an organization.
type SensorDirectory interface {
	FetchSensors(ctx context.Context, orgID string) ([]Sensor, error)
}

// Upstream is the hosted database: the system of record for sensors and readings.
type Upstream interface {
	ReadingSource
	SensorDirectory
}

// ReadingStore is the local store the charts are served from (in-memory or redis).
type ReadingStore interface {
	ReadingSource
	SaveReadings(ctx context.Context, readings []Reading) error
	Latest(ctx context.Context, sensorID string) (Reading, error)
}

// OrgAssigner is implemented by stores that can answer org-wide queries once
// they know which organization each sensor belongs to.
type OrgAssigner interface {
	AssignOrg(ctx context.Context, sensors []Sensor) error
}
