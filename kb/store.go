package kb

import (
	"fmt"
	"sync"

	"github.com/ThomasTBO/rsr-sea-ice/core"
	"github.com/ThomasTBO/rsr-sea-ice/model"
)

// EventType indicates what kind of change happened in the store.
type EventType int

const (
	EventMeasurementsAdded EventType = iota
)

// Event is emitted to subscribers after a successful Add.
type Event struct {
	Type  EventType
	Count int // measurements added by the call
	Total int // store size after the call
}

// MeasurementStore is an in-memory, thread-safe table of measured PSEP
// vectors. Row i of the position and power columns describes the same burst, so
// spatial index ids address the store directly.
type MeasurementStore struct {
	mu sync.RWMutex

	positions []model.GeoPoint
	powers    []model.PowerVector

	subs map[int]func(Event)
	next int
}

// NewMeasurementStore constructs an empty store.
func NewMeasurementStore() *MeasurementStore {
	return &MeasurementStore{subs: make(map[int]func(Event))}
}

// Add appends measurements. Failed bursts (all-zero vectors) are rejected
// with an error and nothing is stored.
func (s *MeasurementStore) Add(ms ...model.Measurement) error {
	for i, m := range ms {
		if m.Power.IsZero() {
			return fmt.Errorf("measurement %d at (%g, %g) has a zero power vector", i, m.Position.Lat, m.Position.Lon)
		}
	}

	s.mu.Lock()
	for _, m := range ms {
		s.positions = append(s.positions, m.Position)
		s.powers = append(s.powers, m.Power)
	}
	event := Event{Type: EventMeasurementsAdded, Count: len(ms), Total: len(s.positions)}
	subs := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	// Notify outside the lock so subscribers may read the store.
	for _, fn := range subs {
		fn(event)
	}
	return nil
}

// Len returns the number of stored measurements.
func (s *MeasurementStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// Get returns measurement i.
func (s *MeasurementStore) Get(i int) (model.Measurement, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.positions) {
		return model.Measurement{}, false
	}
	return model.Measurement{Position: s.positions[i], Power: s.powers[i]}, true
}

// Power returns the vector of measurement i. It panics when i is out of
// range, like a slice access.
func (s *MeasurementStore) Power(i int) model.PowerVector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.powers[i]
}

// Embedded returns every stored position on the index sphere, in insertion
// order, ready for core.BuildIndex.
func (s *MeasurementStore) Embedded() []core.Vec3 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Vec3, len(s.positions))
	for i, p := range s.positions {
		out[i] = core.LatLonToCartesian(p)
	}
	return out
}

// Subscribe registers a callback for store events. It returns an
// unsubscribe function.
func (s *MeasurementStore) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}
