package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/temperature-monitoring/internal/monitoring"
)

var (
	// ErrNotFound is returned when no reading is stored for a sensor.
	ErrNotFound = errors.New("no readings for sensor")
)

// sensorHistory holds one sensor's readings ordered by ObservedAt.
type sensorHistory struct {
	orgID    string
	readings []monitoring.Reading
}

// MemoryStore is a concurrency-safe in-memory reading store.
type MemoryStore struct {
	mu sync.RWMutex

	// key: sensor id
	data map[string]*sensorHistory

	// sensor id -> org id, learned from the sensor directory
	orgs map[string]string

	// retention configuration
	maxHistory int           // max number of readings per sensor
	maxAge     time.Duration // optional max age for readings

	now func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]*sensorHistory),
		orgs:       make(map[string]string),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// AssignOrg records which organization a sensor belongs to, so that
// org-wide queries can find its readings.
func (s *MemoryStore) AssignOrg(_ context.Context, sensors []monitoring.Sensor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sn := range sensors {
		if sn.OrgID == "" {
			continue
		}
		s.orgs[sn.ID] = sn.OrgID
		if h, ok := s.data[sn.ID]; ok {
			h.orgID = sn.OrgID
		}
	}
	return nil
}

// SaveReadings inserts readings in time order and enforces retention.
// A reading identical in sensor and timestamp to a stored one replaces it.
func (s *MemoryStore) SaveReadings(_ context.Context, readings []monitoring.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	touched := make(map[string]struct{})
	for _, r := range readings {
		history, ok := s.data[r.SensorID]
		if !ok {
			history = &sensorHistory{orgID: s.orgs[r.SensorID]}
			s.data[r.SensorID] = history
		}
		history.insert(r)
		touched[r.SensorID] = struct{}{}
	}

	for id := range touched {
		s.enforceRetention(s.data[id])
	}
	return nil
}

func (h *sensorHistory) insert(r monitoring.Reading) {
	i := sort.Search(len(h.readings), func(i int) bool {
		return !h.readings[i].ObservedAt.Before(r.ObservedAt)
	})
	if i < len(h.readings) && h.readings[i].ObservedAt.Equal(r.ObservedAt) {
		h.readings[i] = r
		return
	}
	h.readings = append(h.readings, monitoring.Reading{})
	copy(h.readings[i+1:], h.readings[i:])
	h.readings[i] = r
}

func (s *MemoryStore) enforceRetention(history *sensorHistory) {
	// Enforce retention by count.
	if s.maxHistory > 0 && len(history.readings) > s.maxHistory {
		over := len(history.readings) - s.maxHistory
		history.readings = append([]monitoring.Reading(nil), history.readings[over:]...)
	}

	// Enforce retention by age.
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := sort.Search(len(history.readings), func(i int) bool {
			return !history.readings[i].ObservedAt.Before(cutoff)
		})
		if i > 0 {
			history.readings = append([]monitoring.Reading(nil), history.readings[i:]...)
		}
	}
}

// Latest returns the most recent reading for a sensor.
func (s *MemoryStore) Latest(_ context.Context, sensorID string) (monitoring.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[sensorID]
	if !ok || len(history.readings) == 0 {
		return monitoring.Reading{}, ErrNotFound
	}
	return history.readings[len(history.readings)-1], nil
}

// FetchReadings returns the readings of the queried sensors between From and
// To (inclusive). With no sensor IDs, every sensor of q.OrgID is included.
// An empty result is not an error.
func (s *MemoryStore) FetchReadings(_ context.Context, q monitoring.ReadingQuery) ([]monitoring.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := q.SensorIDs
	if len(ids) == 0 {
		for id, h := range s.data {
			if q.OrgID == "" || h.orgID == q.OrgID {
				ids = append(ids, id)
			}
		}
	}

	result := []monitoring.Reading{}
	for _, id := range ids {
		history, ok := s.data[id]
		if !ok {
			continue
		}
		lo := sort.Search(len(history.readings), func(i int) bool {
			return !history.readings[i].ObservedAt.Before(q.From)
		})
		for _, r := range history.readings[lo:] {
			if r.ObservedAt.After(q.To) {
				break
			}
			result = append(result, r)
		}
	}
	return result, nil
}
