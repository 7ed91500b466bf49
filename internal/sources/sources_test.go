package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/i474232898/temperature-monitoring/internal/monitoring"
)

func fastSource(t *testing.T, handler http.HandlerFunc) *PostgRESTSource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	src := NewPostgRESTSource(srv.Client(), srv.URL, "anon-key")
	src.httpCfg.Backoff = BackoffConfig{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
	return src
}

func TestPostgRESTFetchSensors(t *testing.T) {
	src := fastSource(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/v1/sensors", r.URL.Path)
		require.Equal(t, "eq.org-1", r.URL.Query().Get("organization_id"))
		require.Equal(t, "name.asc,id.asc", r.URL.Query().Get("order"))
		require.Equal(t, "anon-key", r.Header.Get("apikey"))
		require.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))
		fmt.Fprint(w, `[
			{"id":"s1","name":"Walk-in","location_name":"Kitchen","is_active":true,"organization_id":"org-1"},
			{"id":"","name":"broken","location_name":null,"is_active":true,"organization_id":"org-1"},
			{"id":"s2","name":"Bar fridge","location_name":null,"is_active":false,"organization_id":"org-1"}
		]`)
	})

	sensors, err := src.FetchSensors(context.Background(), "org-1")
	require.NoError(t, err)
	require.Len(t, sensors, 2)
	require.Equal(t, "Walk-in (Kitchen)", sensors[0].DisplayName())
	require.False(t, sensors[1].Active)
	require.Nil(t, sensors[1].LocationName)
}

func TestPostgRESTFetchReadingsPagesAndParses(t *testing.T) {
	var calls int32
	src := fastSource(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		q := r.URL.Query()
		require.Equal(t, `in.("a","b")`, q.Get("sensor_id"))
		require.Equal(t, "recorded_at.asc,sensor_id.asc", q.Get("order"))
		require.Len(t, q["recorded_at"], 2)
		offset, _ := strconv.Atoi(q.Get("offset"))
		switch offset {
		case 0:
			fmt.Fprint(w, `[
				{"sensor_id":"a","recorded_at":"2024-05-01T10:00:00.123456+00:00","temperature":3.5},
				{"sensor_id":"b","recorded_at":"2024-05-01T12:00:00+02:00","temperature":null}
			]`)
		default:
			fmt.Fprint(w, `[{"sensor_id":"a","recorded_at":"2024-05-01T10:05:00","temperature":4}]`)
		}
	})
	src.pageSize = 2

	readings, err := src.FetchReadings(context.Background(), monitoring.ReadingQuery{
		SensorIDs: []string{"a", "b"},
		From:      time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		To:        time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.Len(t, readings, 3)
	require.Equal(t, 3.5, *readings[0].Temperature)
	require.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), readings[1].ObservedAt)
	require.Nil(t, readings[1].Temperature)
	require.Equal(t, time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC), readings[2].ObservedAt)
}

func TestPostgRESTRejectsMalformedTimestamp(t *testing.T) {
	src := fastSource(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"sensor_id":"a","recorded_at":"yesterday","temperature":1}]`)
	})

	_, err := src.FetchReadings(context.Background(), monitoring.ReadingQuery{OrgID: "org", From: time.Unix(0, 0), To: time.Now()})
	require.Error(t, err)
}

func TestPostgRESTRetriesServerErrors(t *testing.T) {
	var calls int32
	src := fastSource(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `[]`)
	})

	sensors, err := src.FetchSensors(context.Background(), "org")
	require.NoError(t, err)
	require.Empty(t, sensors)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPostgRESTDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	src := fastSource(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := src.FetchSensors(context.Background(), "org")
	require.ErrorIs(t, err, errClientError)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPostgRESTReadingQueryNeedsScope(t *testing.T) {
	src := NewPostgRESTSource(http.DefaultClient, "http://example.invalid", "")
	_, err := src.FetchReadings(context.Background(), monitoring.ReadingQuery{})
	require.Error(t, err)
}

func TestReadingsQuery(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)

	sql, args, err := readingsQuery(monitoring.ReadingQuery{SensorIDs: []string{"a"}, From: from, To: to})
	require.NoError(t, err)
	require.Contains(t, sql, "ANY($1)")
	require.Equal(t, []any{[]string{"a"}, from, to}, args)

	sql, args, err = readingsQuery(monitoring.ReadingQuery{OrgID: "org", From: from, To: to})
	require.NoError(t, err)
	require.Contains(t, sql, "JOIN sensors")
	require.Contains(t, sql, "ORDER BY r.recorded_at, r.sensor_id")
	require.Equal(t, "org", args[0])

	_, _, err = readingsQuery(monitoring.ReadingQuery{From: from, To: to})
	require.Error(t, err)
}

func TestValidSensorsSkipsInvalidRows(t *testing.T) {
	got := validSensors("postgres", []monitoring.Sensor{
		{ID: "s1", Name: "Walk-in"},
		{ID: "  ", Name: "blank"},
		{ID: "", Name: "empty"},
		{ID: "s2", Name: "Bar fridge"},
	})
	require.Equal(t, []monitoring.Sensor{{ID: "s1", Name: "Walk-in"}, {ID: "s2", Name: "Bar fridge"}}, got)
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("2024-05-01T10:00:00Z")
	require.NoError(t, err)
	require.Equal(t, time.UTC, ts.Location())

	_, err = ParseTimestamp("")
	require.Error(t, err)
}
