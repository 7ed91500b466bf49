package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/i474232898/temperature-monitoring/internal/monitoring"
)

// RedisStore keeps one sorted set per sensor, scored by unix milliseconds.
// Sub-millisecond precision is dropped on save.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	maxHistory int
	maxAge     time.Duration
}

// RedisConfig holds the connection settings for NewRedisClient.
type RedisConfig struct {
	Addr string
	DB   int
}

// NewRedisClient connects to redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewRedisStore creates a RedisStore with the same retention semantics as MemoryStore.
func NewRedisStore(client *redis.Client, maxHistory int, maxAge time.Duration) *RedisStore {
	return &RedisStore{
		client:     client,
		prefix:     "temp:",
		maxHistory: maxHistory,
		maxAge:     maxAge,
	}
}

// storedReading is the sorted-set member encoding.
type storedReading struct {
	T int64    `json:"t"`
	V *float64 `json:"v"`
}

func encodeMember(r monitoring.Reading) (string, error) {
	b, err := json.Marshal(storedReading{T: r.ObservedAt.UnixMilli(), V: r.Temperature})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeMember(sensorID, member string) (monitoring.Reading, error) {
	var sr storedReading
	if err := json.Unmarshal([]byte(member), &sr); err != nil {
		return monitoring.Reading{}, fmt.Errorf("decode reading of %s: %w", sensorID, err)
	}
	return monitoring.Reading{
		SensorID:    sensorID,
		ObservedAt:  time.UnixMilli(sr.T).UTC(),
		Temperature: sr.V,
	}, nil
}

func (s *RedisStore) readingsKey(sensorID string) string {
	return s.prefix + "readings:" + sensorID
}

func (s *RedisStore) orgKey(orgID string) string {
	return s.prefix + "org:" + orgID
}

// AssignOrg adds the sensors to their organization's member set.
func (s *RedisStore) AssignOrg(ctx context.Context, sensors []monitoring.Sensor) error {
	pipe := s.client.Pipeline()
	for _, sn := range sensors {
		if sn.OrgID == "" {
			continue
		}
		pipe.SAdd(ctx, s.orgKey(sn.OrgID), sn.ID)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// SaveReadings writes readings in one transaction. A reading at the same
// millisecond as a stored one replaces it.
func (s *RedisStore) SaveReadings(ctx context.Context, readings []monitoring.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	touched := make(map[string]struct{})
	pipe := s.client.TxPipeline()
	for _, r := range readings {
		member, err := encodeMember(r)
		if err != nil {
			return err
		}
		key := s.readingsKey(r.SensorID)
		score := strconv.FormatInt(r.ObservedAt.UnixMilli(), 10)
		pipe.ZRemRangeByScore(ctx, key, score, score)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(r.ObservedAt.UnixMilli()), Member: member})
		touched[key] = struct{}{}
	}

	for key := range touched {
		if s.maxAge > 0 {
			cutoff := time.Now().Add(-s.maxAge).UnixMilli()
			pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		}
		if s.maxHistory > 0 {
			pipe.ZRemRangeByRank(ctx, key, 0, int64(-s.maxHistory-1))
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: save %d readings: %w", len(readings), err)
	}
	return nil
}

// Latest returns the most recent reading for a sensor.
func (s *RedisStore) Latest(ctx context.Context, sensorID string) (monitoring.Reading, error) {
	members, err := s.client.ZRevRange(ctx, s.readingsKey(sensorID), 0, 0).Result()
	if err != nil {
		return monitoring.Reading{}, err
	}
	if len(members) == 0 {
		return monitoring.Reading{}, ErrNotFound
	}
	return decodeMember(sensorID, members[0])
}

// FetchReadings returns readings in [From, To]. With no sensor IDs, the
// members of the organization's set are queried.
func (s *RedisStore) FetchReadings(ctx context.Context, q monitoring.ReadingQuery) ([]monitoring.Reading, error) {
	ids := q.SensorIDs
	if len(ids) == 0 {
		if q.OrgID == "" {
			return []monitoring.Reading{}, nil
		}
		members, err := s.client.SMembers(ctx, s.orgKey(q.OrgID)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}
		ids = members
	}

	rng := scoreRange(q.From, q.To)
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringSliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.ZRangeByScore(ctx, s.readingsKey(id), rng)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	result := []monitoring.Reading{}
	for i, cmd := range cmds {
		members, err := cmd.Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}
		for _, m := range members {
			r, err := decodeMember(ids[i], m)
			if err != nil {
				return nil, err
			}
			result = append(result, r)
		}
	}
	return result, nil
}

// scoreRange converts an inclusive time range to millisecond scores. The lower
// bound is rounded up so no reading before from is returned.
func scoreRange(from, to time.Time) *redis.ZRangeBy {
	lo := from.UnixMilli()
	if from.Sub(time.UnixMilli(lo)) > 0 {
		lo++
	}
	return &redis.ZRangeBy{
		Min: strconv.FormatInt(lo, 10),
		Max: strconv.FormatInt(to.UnixMilli(), 10),
	}
}
