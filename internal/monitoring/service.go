package monitoring

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Service loads data from its collaborators and runs the chart transforms on
// it. It holds no per-request state and is safe for concurrent use.
type Service struct {
	store    ReadingStore
	upstream Upstream
	palette  Palette
}

// NewService creates a new Service. Charts are read from store; sensors come
// from upstream, which is also the source for Sync.
func NewService(store ReadingStore, upstream Upstream, palette Palette) *Service {
	if palette == nil {
		palette = DefaultPalette
	}
	return &Service{
		store:    store,
		upstream: upstream,
		palette:  palette,
	}
}

// ChartRequest describes one chart load.
type ChartRequest struct {
	OrgID     string
	SensorIDs []string
	Range     time.Duration

	// IntervalMinutes overrides the interval picked from Range. Zero means auto.
	IntervalMinutes int
	// Raw skips sampling and charts the readings as stored.
	Raw bool
	// Now anchors the window. Zero means time.Now().
	Now time.Time
}

// LoadChart fetches sensors and readings for the request and builds the chart.
// The window is fixed once, before any fetch, so that all readings of the
// load are judged against the same bounds.
func (s *Service) LoadChart(ctx context.Context, req ChartRequest) (ChartData, error) {
	now := req.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if req.Range <= 0 {
		return ChartData{}, fmt.Errorf("%w: got %s", ErrInvalidRange, req.Range)
	}
	window := WindowEndingAt(now, req.Range)

	interval := req.IntervalMinutes
	if interval == 0 && !req.Raw {
		var err error
		interval, err = IntervalForRange(req.Range)
		if err != nil {
			return ChartData{}, err
		}
	}

	if len(req.SensorIDs) == 0 {
		chart := ChartData{Window: window, Points: []ChartDataPoint{}, Series: []LineSeries{}}
		if !req.Raw {
			chart.IntervalMinutes = interval
		}
		return chart, nil
	}

	sensors, err := s.Sensors(ctx, req.OrgID)
	if err != nil {
		return ChartData{}, err
	}

	readings, err := s.windowReadings(ctx, ReadingQuery{
		OrgID:     req.OrgID,
		SensorIDs: req.SensorIDs,
		From:      window.Start,
		To:        window.End,
	})
	if err != nil {
		return ChartData{}, err
	}

	if !req.Raw {
		sampled, err := Sample(readings, interval)
		if err != nil {
			return ChartData{}, err
		}
		readings = SampledReadings(sampled)
	}

	chart, err := BuildSeries(readings, sensors, req.SensorIDs, window, s.palette)
	if err != nil {
		return ChartData{}, err
	}
	if !req.Raw {
		chart.IntervalMinutes = interval
	}
	return chart, nil
}

// windowReadings reads the window from the local store and, when an upstream
// is configured, fetches the same window from it. The store may hold live
// readings the upstream does not have yet, while the upstream holds history
// the store never synced; the two are merged. An upstream failure only fails
// the load when the store has nothing for the window.
func (s *Service) windowReadings(ctx context.Context, q ReadingQuery) ([]Reading, error) {
	stored, err := s.store.FetchReadings(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("fetch readings: %w", err)
	}
	if s.upstream == nil {
		return stored, nil
	}

	fetched, err := s.upstream.FetchReadings(ctx, q)
	if err != nil {
		if len(stored) == 0 {
			return nil, fmt.Errorf("fetch upstream readings: %w", err)
		}
		log.Printf("ERROR: fetch upstream readings, charting %d stored readings: %v", len(stored), err)
		return stored, nil
	}
	return mergeReadings(fetched, stored), nil
}

// mergeReadings returns primary plus the readings of extra that primary has no
// reading for at the same sensor and millisecond.
func mergeReadings(primary, extra []Reading) []Reading {
	type key struct {
		sensorID string
		ms       int64
	}
	seen := make(map[key]struct{}, len(primary))
	for _, r := range primary {
		seen[key{r.SensorID, r.ObservedAt.UnixMilli()}] = struct{}{}
	}
	out := append(make([]Reading, 0, len(primary)+len(extra)), primary...)
	for _, r := range extra {
		if _, ok := seen[key{r.SensorID, r.ObservedAt.UnixMilli()}]; !ok {
			out = append(out, r)
		}
	}
	return out
}

// SampleRange fetches the readings matching q from the local store and samples them.
func (s *Service) SampleRange(ctx context.Context, q ReadingQuery, intervalMinutes int) ([]SampledPoint, error) {
	if q.To.Before(q.From) {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvalidWindow, q.From, q.To)
	}
	readings, err := s.store.FetchReadings(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("fetch readings: %w", err)
	}
	return Sample(readings, intervalMinutes)
}

// Sensors returns the sensor directory of an organization.
func (s *Service) Sensors(ctx context.Context, orgID string) ([]Sensor, error) {
	if s.upstream == nil {
		return nil, nil
	}
	sensors, err := s.upstream.FetchSensors(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("fetch sensors: %w", err)
	}
	return sensors, nil
}

// Latest returns the most recent stored reading of a sensor.
func (s *Service) Latest(ctx context.Context, sensorID string) (Reading, error) {
	return s.store.Latest(ctx, sensorID)
}

// Ingest validates readings and saves the valid ones. It returns how many were saved.
func (s *Service) Ingest(ctx context.Context, readings []Reading) (int, error) {
	valid := make([]Reading, 0, len(readings))
	for _, r := range readings {
		if err := r.Validate(); err != nil {
			log.Printf("DEBUG: dropping reading: %v", err)
			continue
		}
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		return 0, nil
	}
	if err := s.store.SaveReadings(ctx, valid); err != nil {
		return 0, fmt.Errorf("save readings: %w", err)
	}
	return len(valid), nil
}

// Sync copies the last lookback of readings of an organization's active
// sensors from upstream into the local store. On failure nothing is written,
// so the store keeps the last good data.
func (s *Service) Sync(ctx context.Context, orgID string, lookback time.Duration) (int, error) {
	if s.upstream == nil {
		return 0, fmt.Errorf("no upstream configured")
	}

	sensors, err := s.Sensors(ctx, orgID)
	if err != nil {
		return 0, err
	}

	if a, ok := s.store.(OrgAssigner); ok {
		if err := a.AssignOrg(ctx, sensors); err != nil {
			log.Printf("ERROR: assigning sensors of org %s: %v", orgID, err)
		}
	}

	ids := make([]string, 0, len(sensors))
	for _, sn := range sensors {
		if sn.Active {
			ids = append(ids, sn.ID)
		}
	}
	if len(ids) == 0 {
		log.Printf("DEBUG: no active sensors for org %s; nothing to sync", orgID)
		return 0, nil
	}

	now := time.Now().UTC()
	readings, err := s.upstream.FetchReadings(ctx, ReadingQuery{
		OrgID:     orgID,
		SensorIDs: ids,
		From:      now.Add(-lookback),
		To:        now,
	})
	if err != nil {
		return 0, fmt.Errorf("fetch upstream readings: %w", err)
	}

	return s.Ingest(ctx, readings)
}
