package sources

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/i474232898/temperature-monitoring/internal/monitoring"
)

// PostgresConfig holds the pool settings for NewPostgresSource.
type PostgresConfig struct {
	URL               string
	MinConns          int32
	MaxConns          int32
	ConnectTimeout    time.Duration
	HealthCheckPeriod time.Duration
}

// PostgresSource reads sensors and readings directly from the hosted database.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource opens a connection pool and pings it.
func NewPostgresSource(ctx context.Context, cfg PostgresConfig) (*PostgresSource, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalid configuration: %w", err)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	}
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	ctxTimeout := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctxTimeout, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(ctxTimeout, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: creating pool: %w", err)
	}
	if err := pool.Ping(ctxTimeout); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping failed: %w", err)
	}

	log.Printf("INFO: postgres pool ready -> host=%s port=%d db=%s",
		poolConfig.ConnConfig.Host, poolConfig.ConnConfig.Port, poolConfig.ConnConfig.Database)

	return &PostgresSource{pool: pool}, nil
}

// Close releases the pool.
func (p *PostgresSource) Close() {
	p.pool.Close()
}

const sensorsSQL = `
SELECT id::text, name, location_name, is_active, organization_id::text
FROM sensors
WHERE ($1 = '' OR organization_id::text = $1)
ORDER BY name, id`

// FetchSensors lists the sensors of an organization, ordered by name.
func (p *PostgresSource) FetchSensors(ctx context.Context, orgID string) ([]monitoring.Sensor, error) {
	rows, err := p.pool.Query(ctx, sensorsSQL, orgID)
	if err != nil {
		return nil, fmt.Errorf("postgres: query sensors: %w", err)
	}
	sensors, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (monitoring.Sensor, error) {
		var s monitoring.Sensor
		err := row.Scan(&s.ID, &s.Name, &s.LocationName, &s.Active, &s.OrgID)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan sensors: %w", err)
	}
	return validSensors("postgres", sensors), nil
}

// readingsQuery builds the SQL and arguments for a reading query.
func readingsQuery(q monitoring.ReadingQuery) (string, []any, error) {
	const cols = `SELECT r.sensor_id::text, r.recorded_at, r.temperature::float8 FROM temperature_readings r`
	switch {
	case len(q.SensorIDs) > 0:
		return cols + `
WHERE r.sensor_id::text = ANY($1) AND r.recorded_at >= $2 AND r.recorded_at <= $3
ORDER BY r.recorded_at, r.sensor_id`, []any{q.SensorIDs, q.From.UTC(), q.To.UTC()}, nil
	case q.OrgID != "":
		return cols + `
JOIN sensors s ON s.id = r.sensor_id
WHERE s.organization_id::text = $1 AND r.recorded_at >= $2 AND r.recorded_at <= $3
ORDER BY r.recorded_at, r.sensor_id`, []any{q.OrgID, q.From.UTC(), q.To.UTC()}, nil
	default:
		return "", nil, fmt.Errorf("postgres: reading query needs sensor ids or an organization")
	}
}

// FetchReadings returns readings in [q.From, q.To].
func (p *PostgresSource) FetchReadings(ctx context.Context, q monitoring.ReadingQuery) ([]monitoring.Reading, error) {
	sql, args, err := readingsQuery(q)
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query readings: %w", err)
	}
	readings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (monitoring.Reading, error) {
		var r monitoring.Reading
		if err := row.Scan(&r.SensorID, &r.ObservedAt, &r.Temperature); err != nil {
			return r, err
		}
		r.ObservedAt = r.ObservedAt.UTC()
		return r, r.Validate()
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan readings: %w", err)
	}
	return readings, nil
}
