package monitoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu       sync.Mutex
	readings []Reading
	queries  []ReadingQuery
	err      error
}

func (f *fakeStore) FetchReadings(_ context.Context, q ReadingQuery) ([]Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	var out []Reading
	for _, r := range f.readings {
		if !r.ObservedAt.Before(q.From) && !r.ObservedAt.After(q.To) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) SaveReadings(_ context.Context, rs []Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings = append(f.readings, rs...)
	return nil
}

func (f *fakeStore) Latest(_ context.Context, sensorID string) (Reading, error) {
	return Reading{}, errors.New("not implemented")
}

type fakeUpstream struct {
	fakeStore
	sensors   []Sensor
	sensorErr error
}

func (f *fakeUpstream) FetchSensors(_ context.Context, _ string) ([]Sensor, error) {
	return f.sensors, f.sensorErr
}

func TestLoadChartSamplesWithinFrozenWindow(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{readings: []Reading{
		{SensorID: "fridge", ObservedAt: now.Add(-50 * time.Minute), Temperature: temp(3)},
		{SensorID: "fridge", ObservedAt: now.Add(-49 * time.Minute), Temperature: temp(5)},
		{SensorID: "freezer", ObservedAt: now.Add(-10 * time.Minute), Temperature: temp(-18)},
		{SensorID: "fridge", ObservedAt: now.Add(-2 * time.Hour), Temperature: temp(30)},
	}}
	up := &fakeUpstream{sensors: []Sensor{{ID: "fridge", Name: "Fridge"}, {ID: "freezer", Name: "Freezer"}}}
	svc := NewService(store, up, nil)

	chart, err := svc.LoadChart(context.Background(), ChartRequest{
		SensorIDs: []string{"fridge", "freezer"},
		Range:     time.Hour,
		Now:       now,
	})
	require.NoError(t, err)

	require.Len(t, store.queries, 1)
	require.Equal(t, now.Add(-time.Hour), store.queries[0].From)
	require.Equal(t, now, store.queries[0].To)

	require.Len(t, chart.Points, 2)
	require.Equal(t, now.Add(-50*time.Minute), chart.Points[0].Time)
	require.Equal(t, 4.0, chart.Points[0].Values[SeriesKey("fridge")])
	require.Equal(t, now.Add(-10*time.Minute), chart.Points[1].Time)
	require.Equal(t, -18.0, chart.Points[1].Values[SeriesKey("freezer")])
	require.Equal(t, "Fridge", chart.Series[0].Name)
}

func TestLoadChartRaw(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{readings: []Reading{
		{SensorID: "a", ObservedAt: now.Add(-3 * time.Minute), Temperature: temp(1)},
		{SensorID: "a", ObservedAt: now.Add(-2 * time.Minute), Temperature: temp(2)},
	}}
	svc := NewService(store, &fakeUpstream{}, nil)

	chart, err := svc.LoadChart(context.Background(), ChartRequest{
		SensorIDs: []string{"a"},
		Range:     time.Hour,
		Raw:       true,
		Now:       now,
	})
	require.NoError(t, err)
	require.Len(t, chart.Points, 2)
}

func TestLoadChartFetchesUpstreamWindow(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	up := &fakeUpstream{sensors: []Sensor{{ID: "a", Name: "Cellar"}}}
	up.readings = []Reading{
		{SensorID: "a", ObservedAt: now.Add(-3 * time.Hour), Temperature: temp(11)},
		{SensorID: "a", ObservedAt: now.Add(-7 * time.Hour), Temperature: temp(99)},
	}
	store := &fakeStore{}
	svc := NewService(store, up, nil)

	chart, err := svc.LoadChart(context.Background(), ChartRequest{
		OrgID:     "org",
		SensorIDs: []string{"a"},
		Range:     6 * time.Hour,
		Now:       now,
	})
	require.NoError(t, err)

	require.Len(t, up.queries, 1)
	require.Equal(t, ReadingQuery{OrgID: "org", SensorIDs: []string{"a"}, From: now.Add(-6 * time.Hour), To: now}, up.queries[0])
	require.Len(t, chart.Points, 1)
	require.Equal(t, now.Add(-3*time.Hour), chart.Points[0].Time)
	require.Equal(t, 11.0, chart.Points[0].Values[SeriesKey("a")])
}

func TestLoadChartMergesStoreAndUpstream(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	up := &fakeUpstream{}
	up.readings = []Reading{
		{SensorID: "a", ObservedAt: now.Add(-2 * time.Hour), Temperature: temp(10)},
		{SensorID: "a", ObservedAt: now.Add(-time.Hour), Temperature: temp(12)},
	}
	store := &fakeStore{readings: []Reading{
		{SensorID: "a", ObservedAt: now.Add(-time.Hour), Temperature: temp(12)},
		{SensorID: "a", ObservedAt: now.Add(-time.Minute), Temperature: temp(13)},
	}}
	svc := NewService(store, up, nil)

	chart, err := svc.LoadChart(context.Background(), ChartRequest{
		SensorIDs: []string{"a"},
		Range:     6 * time.Hour,
		Raw:       true,
		Now:       now,
	})
	require.NoError(t, err)
	require.Len(t, chart.Points, 3)
	require.Equal(t, now.Add(-time.Minute), chart.Points[2].Time)
	require.Equal(t, 13.0, chart.Points[2].Values[SeriesKey("a")])
}

func TestLoadChartUpstreamFailure(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	req := ChartRequest{SensorIDs: []string{"a"}, Range: time.Hour, Raw: true, Now: now}
	down := errors.New("upstream down")

	up := &fakeUpstream{}
	up.err = down
	svc := NewService(&fakeStore{}, up, nil)
	_, err := svc.LoadChart(context.Background(), req)
	require.ErrorIs(t, err, down)

	store := &fakeStore{readings: []Reading{{SensorID: "a", ObservedAt: now.Add(-time.Minute), Temperature: temp(5)}}}
	svc = NewService(store, up, nil)
	chart, err := svc.LoadChart(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, chart.Points, 1)
}

func TestLoadChartEmptySelection(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, &fakeUpstream{}, nil)

	chart, err := svc.LoadChart(context.Background(), ChartRequest{Range: time.Hour})
	require.NoError(t, err)
	require.Empty(t, chart.Points)
	require.Empty(t, chart.Series)
	require.Empty(t, store.queries)
}

func TestLoadChartErrors(t *testing.T) {
	svc := NewService(&fakeStore{}, &fakeUpstream{}, nil)
	_, err := svc.LoadChart(context.Background(), ChartRequest{SensorIDs: []string{"a"}})
	require.ErrorIs(t, err, ErrInvalidRange)

	boom := errors.New("boom")
	svc = NewService(&fakeStore{err: boom}, &fakeUpstream{}, nil)
	_, err = svc.LoadChart(context.Background(), ChartRequest{SensorIDs: []string{"a"}, Range: time.Hour})
	require.ErrorIs(t, err, boom)

	svc = NewService(&fakeStore{}, &fakeUpstream{sensorErr: boom}, nil)
	_, err = svc.LoadChart(context.Background(), ChartRequest{SensorIDs: []string{"a"}, Range: time.Hour})
	require.ErrorIs(t, err, boom)
}

func TestSyncCopiesActiveSensorReadings(t *testing.T) {
	now := time.Now().UTC()
	up := &fakeUpstream{
		sensors: []Sensor{{ID: "a", Active: true}, {ID: "b", Active: false}},
	}
	up.readings = []Reading{
		{SensorID: "a", ObservedAt: now.Add(-time.Minute), Temperature: temp(4)},
		{SensorID: "", ObservedAt: now.Add(-time.Minute), Temperature: temp(4)},
	}
	store := &fakeStore{}
	svc := NewService(store, up, nil)

	n, err := svc.Sync(context.Background(), "org", time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, store.readings, 1)
	require.Equal(t, []string{"a"}, up.queries[0].SensorIDs)
}

func TestSyncKeepsStoreOnUpstreamFailure(t *testing.T) {
	up := &fakeUpstream{sensors: []Sensor{{ID: "a", Active: true}}}
	up.err = errors.New("upstream down")
	store := &fakeStore{}
	svc := NewService(store, up, nil)

	_, err := svc.Sync(context.Background(), "org", time.Hour)
	require.Error(t, err)
	require.Empty(t, store.readings)
}

func TestSampleRange(t *testing.T) {
	store := &fakeStore{readings: []Reading{
		{SensorID: "a", ObservedAt: at(1000), Temperature: temp(2)},
		{SensorID: "a", ObservedAt: at(2000), Temperature: temp(4)},
	}}
	svc := NewService(store, nil, nil)

	points, err := svc.SampleRange(context.Background(), ReadingQuery{From: at(0), To: at(5000)}, 5)
	require.NoError(t, err)
	require.Equal(t, []SampledPoint{{SensorID: "a", BucketStart: at(0), AvgTemperature: 3}}, points)

	_, err = svc.SampleRange(context.Background(), ReadingQuery{From: at(10), To: at(0)}, 5)
	require.ErrorIs(t, err, ErrInvalidWindow)
}
