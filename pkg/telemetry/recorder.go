package telemetry

import (
	"sync"
	"time"
)

// DefaultRecorderSize is the ring buffer capacity used when none is given.
const DefaultRecorderSize = 1024

// Filter selects recorded events. Zero fields match everything.
type Filter struct {
	Type          EventType
	Status        Status
	Source        string
	CorrelationID string
	StartTime     *time.Time
	EndTime       *time.Time
}

func (f *Filter) match(e Event) bool {
	if f == nil {
		return true
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if f.CorrelationID != "" && e.CorrelationID != f.CorrelationID {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}

// Recorder keeps the most recent events in a circular buffer.
type Recorder struct {
	events []Event
	size   int
	index  int
	count  int
	total  int64
	mu     sync.RWMutex
}

// NewRecorder creates a recorder holding up to size events.
func NewRecorder(size int) *Recorder {
	if size <= 0 {
		size = DefaultRecorderSize
	}
	return &Recorder{
		events: make([]Event, size),
		size:   size,
	}
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[r.index] = e
	r.index = (r.index + 1) % r.size
	if r.count < r.size {
		r.count++
	}
	r.total++
}

// Events returns the stored events matching filter, oldest first.
func (r *Recorder) Events(filter *Filter) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		idx := (r.index - r.count + i + r.size) % r.size
		if e := r.events[idx]; filter.match(e) {
			result = append(result, e)
		}
	}
	return result
}

// Recent returns the n most recent events, newest first.
func (r *Recorder) Recent(n int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.count {
		n = r.count
	}
	result := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.index - 1 - i + r.size) % r.size
		result = append(result, r.events[idx])
	}
	return result
}

// Len returns the number of events currently held.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Total returns the number of events ever recorded, including evicted ones.
func (r *Recorder) Total() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// Clear removes all events.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = make([]Event, r.size)
	r.index = 0
	r.count = 0
}
