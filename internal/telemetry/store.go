package telemetry

import (
	"sync"
	"time"
)

// Store holds the live snapshot and one history buffer per historized metric.
// Apply is the only mutator and runs under the write lock, so readers never
// see a snapshot or a history window from a half-applied reading.
type Store struct {
	mu       sync.RWMutex
	latest   Snapshot
	buffers  map[Metric]*HistoryBuffer
	capacity int
}

// NewStore creates a store whose initial snapshot carries the defaults and
// the given start time.
func NewStore(capacity int, start time.Time) *Store {
	if capacity < 1 {
		capacity = DefaultHistoryCapacity
	}
	buffers := make(map[Metric]*HistoryBuffer, len(HistorizedMetrics))
	for _, m := range HistorizedMetrics {
		buffers[m] = NewHistoryBuffer(capacity)
	}
	return &Store{
		latest:   Snapshot{Timestamp: start.UnixMilli()},
		buffers:  buffers,
		capacity: capacity,
	}
}

// Latest returns the current snapshot.
func (s *Store) Latest() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// History returns a point-in-time copy of every metric's window.
func (s *Store) History() History {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(History, len(s.buffers))
	for m, b := range s.buffers {
		out[string(m)] = b.Points()
	}
	return out
}

// Capacity returns the per-metric history capacity.
func (s *Store) Capacity() int {
	return s.capacity
}

// Apply replaces the snapshot with r overlaid on the field defaults, stamped
// with at, and appends r's present historized metrics to their buffers.
// Fields absent from r are reset, not carried over from the previous snapshot.
func (s *Store) Apply(r Reading, at time.Time) Snapshot {
	ts := at.UnixMilli()
	snap := Snapshot{
		HeartRate:   clone(r.HeartRate),
		SpO2:        clone(r.SpO2),
		Temperature: clone(r.Temperature),
		Latitude:    clone(r.Latitude),
		Longitude:   clone(r.Longitude),
		Satellites:  clone(r.Satellites),
		Timestamp:   ts,
	}
	if r.Acceleration != nil {
		snap.Acceleration = *r.Acceleration
	}
	if r.FallDetected != nil {
		snap.FallDetected = *r.FallDetected
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = snap
	s.push(MetricAcceleration, r.Acceleration, ts)
	s.push(MetricHeartRate, r.HeartRate, ts)
	s.push(MetricSpO2, r.SpO2, ts)
	s.push(MetricTemperature, r.Temperature, ts)
	return snap
}

// push requires s.mu held for writing.
func (s *Store) push(m Metric, v *float64, ts int64) {
	if v == nil {
		return
	}
	s.buffers[m].Push(*v, ts)
}

func clone[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
