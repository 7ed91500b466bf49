package selection

import (
	"sync"
	"time"
)

// Selection is what a user currently has picked on the temperature chart.
// SensorIDs is ordered; the order drives series colors.
type Selection struct {
	SensorIDs []string      `json:"sensorIds"`
	Range     time.Duration `json:"-"`
	Raw       bool          `json:"raw"`
}

func (s Selection) clone() Selection {
	s.SensorIDs = append([]string(nil), s.SensorIDs...)
	return s
}

// Listener is called after every change with a copy of the new selection.
type Listener func(Selection)

// State holds one session's selection. It is safe for concurrent use.
type State struct {
	mu        sync.RWMutex
	sel       Selection
	listeners map[int]Listener
	nextID    int
	touched   time.Time
}

// NewState creates a State starting from initial.
func NewState(initial Selection) *State {
	return &State{
		sel:       initial.clone(),
		listeners: make(map[int]Listener),
		touched:   time.Now(),
	}
}

// Get returns a copy of the current selection.
func (s *State) Get() Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sel.clone()
}

// Set replaces the selection. Duplicate sensor IDs keep their first position.
func (s *State) Set(sel Selection) {
	sel = sel.clone()
	sel.SensorIDs = dedupe(sel.SensorIDs)
	s.update(func(cur *Selection) { *cur = sel })
}

// SetRange changes only the time range.
func (s *State) SetRange(d time.Duration) {
	s.update(func(cur *Selection) { cur.Range = d })
}

// Toggle removes sensorID from the selection if present, otherwise appends it.
func (s *State) Toggle(sensorID string) {
	s.update(func(cur *Selection) {
		for i, id := range cur.SensorIDs {
			if id == sensorID {
				cur.SensorIDs = append(cur.SensorIDs[:i:i], cur.SensorIDs[i+1:]...)
				return
			}
		}
		cur.SensorIDs = append(cur.SensorIDs, sensorID)
	})
}

// Subscribe registers fn and returns a function that removes it.
func (s *State) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Touch marks the state as in use without changing it.
func (s *State) Touch() {
	s.mu.Lock()
	s.touched = time.Now()
	s.mu.Unlock()
}

// LastTouched reports when the state was created, last changed or last touched.
func (s *State) LastTouched() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.touched
}

// update applies fn under the lock, then notifies listeners outside it so a
// listener may read the state again.
func (s *State) update(fn func(*Selection)) {
	s.mu.Lock()
	fn(&s.sel)
	s.touched = time.Now()
	snapshot := s.sel.clone()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(snapshot.clone())
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
