// Package history keeps a per-channel time series of values keyed by Unix
// second, with age-based purging.
package history

import (
	"sort"
	"sync"
)

// DefaultRetention is how many seconds of samples a purge keeps.
const DefaultRetention = 360

// Point is a single sample in a Buffer.
type Point struct {
	Time  int64 // Unix seconds
	Value float64
}

// Buffer stores samples keyed by timestamp. Appending an existing
// timestamp overwrites its value.
type Buffer struct {
	mu     sync.RWMutex
	points map[int64]float64
	last   int64
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{points: make(map[int64]float64)}
}

// Append stores v at ts.
func (b *Buffer) Append(ts int64, v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.points[ts] = v
	if ts >= b.last {
		b.last = ts
	}
}

// PurgeOlderThan removes all samples with a timestamp before cutoff and
// returns how many were removed.
func (b *Buffer) PurgeOlderThan(cutoff int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for ts := range b.points {
		if ts < cutoff {
			delete(b.points, ts)
			removed++
		}
	}
	if _, ok := b.points[b.last]; !ok {
		b.last = 0
		for ts := range b.points {
			if ts > b.last {
				b.last = ts
			}
		}
	}
	return removed
}

// Entries returns a copy of all samples in no particular order.
func (b *Buffer) Entries() []Point {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Point, 0, len(b.points))
	for ts, v := range b.points {
		out = append(out, Point{Time: ts, Value: v})
	}
	return out
}

// Len returns the number of stored samples.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.points)
}

// Last returns the sample with the highest timestamp.
func (b *Buffer) Last() (Point, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.points[b.last]
	if !ok {
		return Point{}, false
	}
	return Point{Time: b.last, Value: v}, true
}

// Store manages the buffers of all channels of one device.
type Store struct {
	mu   sync.RWMutex
	data map[string]*Buffer
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{data: make(map[string]*Buffer)}
}

// Record appends a sample for key, creating its buffer on first use.
func (s *Store) Record(key string, ts int64, v float64) {
	s.mu.Lock()
	b, ok := s.data[key]
	if !ok {
		b = NewBuffer()
		s.data[key] = b
	}
	s.mu.Unlock()
	b.Append(ts, v)
}

// Get returns the buffer for key, or nil.
func (s *Store) Get(key string) *Buffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[key]
}

// Keys returns the known keys, sorted.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PurgeOlderThan purges every buffer and returns the total removed.
func (s *Store) PurgeOlderThan(cutoff int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	removed := 0
	for _, b := range s.data {
		removed += b.PurgeOlderThan(cutoff)
	}
	return removed
}
