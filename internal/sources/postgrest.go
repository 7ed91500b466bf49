package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/temperature-monitoring/internal/monitoring"
)

const defaultPageSize = 1000

// PostgRESTSource reads sensors and readings from the hosted database's REST API.
type PostgRESTSource struct {
	name     string
	apiKey   string
	baseURL  string
	pageSize int
	httpCfg  HTTPClientConfig
	circuit  *gobreaker.CircuitBreaker
}

// NewPostgRESTSource creates a source for the project at baseURL
// (e.g. https://xyz.supabase.co).
func NewPostgRESTSource(client *http.Client, baseURL, apiKey string) *PostgRESTSource {
	return &PostgRESTSource{
		name:     "postgrest",
		apiKey:   apiKey,
		baseURL:  strings.TrimRight(baseURL, "/") + "/rest/v1",
		pageSize: defaultPageSize,
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: DefaultBackoff,
		},
		circuit: newCircuitBreaker("postgrest"),
	}
}

type sensorRow struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	LocationName *string `json:"location_name"`
	IsActive     bool    `json:"is_active"`
	OrgID        string  `json:"organization_id"`
}

type readingRow struct {
	SensorID    string   `json:"sensor_id"`
	RecordedAt  string   `json:"recorded_at"`
	Temperature *float64 `json:"temperature"`
}

// FetchSensors lists the sensors of an organization, ordered by name.
func (p *PostgRESTSource) FetchSensors(ctx context.Context, orgID string) ([]monitoring.Sensor, error) {
	values := url.Values{}
	values.Set("select", "id,name,location_name,is_active,organization_id")
	values.Set("order", "name.asc,id.asc")
	if orgID != "" {
		values.Set("organization_id", "eq."+orgID)
	}

	var rows []sensorRow
	if err := p.getAll(ctx, "sensors", values, func(dec *json.Decoder) (int, error) {
		var page []sensorRow
		if err := dec.Decode(&page); err != nil {
			return 0, err
		}
		rows = append(rows, page...)
		return len(page), nil
	}); err != nil {
		return nil, err
	}

	sensors := make([]monitoring.Sensor, 0, len(rows))
	for _, row := range rows {
		sensors = append(sensors, monitoring.Sensor{
			ID:           row.ID,
			OrgID:        row.OrgID,
			Name:         row.Name,
			LocationName: row.LocationName,
			Active:       row.IsActive,
		})
	}
	return validSensors(p.name, sensors), nil
}

// FetchReadings returns the readings in [q.From, q.To] of the queried sensors,
// or of the whole organization when q.SensorIDs is empty.
func (p *PostgRESTSource) FetchReadings(ctx context.Context, q monitoring.ReadingQuery) ([]monitoring.Reading, error) {
	values := url.Values{}
	values.Set("select", "sensor_id,recorded_at,temperature")
	// limit/offset paging needs a total order.
	values.Set("order", "recorded_at.asc,sensor_id.asc")
	values.Add("recorded_at", "gte."+q.From.UTC().Format(time.RFC3339Nano))
	values.Add("recorded_at", "lte."+q.To.UTC().Format(time.RFC3339Nano))
	switch {
	case len(q.SensorIDs) > 0:
		values.Set("sensor_id", inFilter(q.SensorIDs))
	case q.OrgID != "":
		values.Set("organization_id", "eq."+q.OrgID)
	default:
		return nil, fmt.Errorf("%s: reading query needs sensor ids or an organization", p.name)
	}

	var readings []monitoring.Reading
	err := p.getAll(ctx, "temperature_readings", values, func(dec *json.Decoder) (int, error) {
		var page []readingRow
		if err := dec.Decode(&page); err != nil {
			return 0, err
		}
		for _, row := range page {
			ts, err := ParseTimestamp(row.RecordedAt)
			if err != nil {
				return 0, fmt.Errorf("sensor %s: %w", row.SensorID, err)
			}
			r := monitoring.Reading{SensorID: row.SensorID, ObservedAt: ts, Temperature: row.Temperature}
			if err := r.Validate(); err != nil {
				return 0, err
			}
			readings = append(readings, r)
		}
		return len(page), nil
	})
	if err != nil {
		return nil, err
	}
	return readings, nil
}

// getAll pages through a table with limit/offset until a short page comes back.
func (p *PostgRESTSource) getAll(ctx context.Context, table string, values url.Values, decodePage func(*json.Decoder) (int, error)) error {
	for offset := 0; ; offset += p.pageSize {
		values.Set("limit", strconv.Itoa(p.pageSize))
		values.Set("offset", strconv.Itoa(offset))
		u := fmt.Sprintf("%s/%s?%s", p.baseURL, table, values.Encode())

		buildRequest := func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Accept", "application/json")
			if p.apiKey != "" {
				req.Header.Set("apikey", p.apiKey)
				req.Header.Set("Authorization", "Bearer "+p.apiKey)
			}
			return req, nil
		}

		resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
		if err != nil {
			return fmt.Errorf("%s: get %s: %w", p.name, table, err)
		}
		n, err := decodePage(json.NewDecoder(resp.Body))
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("%s: decode %s: %w", p.name, table, err)
		}
		if n < p.pageSize {
			return nil
		}
	}
}

// inFilter renders an `in.(...)` filter with every value quoted.
func inFilter(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = `"` + strings.ReplaceAll(id, `"`, `\"`) + `"`
	}
	return "in.(" + strings.Join(quoted, ",") + ")"
}
