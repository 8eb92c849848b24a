// Package analytics retains a bounded, most-recent-first window of flag
// evaluation events and answers aggregate queries over that window.
//
// Retention is a hard cap, not a lifetime log: once the buffer is full the
// oldest events are overwritten, so statistics are exact over the retained
// window only. That bound is what lets the engine record on every evaluation
// without growing memory.
package analytics

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jasonsaas/finhelm-flags/internal/core"
)

// DefaultCapacity is the event retention used when no capacity is configured.
const DefaultCapacity = 1000

// Event is one recorded contextual evaluation.
type Event struct {
	ID             string           `json:"id"`
	FlagKey        string           `json:"flagKey"`
	UserID         string           `json:"userId"`
	OrganizationID string           `json:"organizationId,omitempty"`
	Enabled        bool             `json:"enabled"`
	Variant        string           `json:"variant,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
	Context        core.UserContext `json:"context"`
}

// UsageStats aggregates the retained events for one flag, or for all flags
// when queried without a key.
type UsageStats struct {
	TotalEvents         int            `json:"totalEvents"`
	EnabledCount        int            `json:"enabledCount"`
	DisabledCount       int            `json:"disabledCount"`
	UniqueUsers         int            `json:"uniqueUsers"`
	VariantDistribution map[string]int `json:"variantDistribution"`
}

// Recorder is a fixed-capacity ring buffer of evaluation events. Recording
// overwrites the oldest entry once the buffer is full; queries walk the
// buffer newest first. Safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	capacity int
	ring     []Event
	next     int // write position
	size     int
	dropped  uint64
}

// NewRecorder returns a recorder retaining up to capacity events.
// Non-positive capacities fall back to [DefaultCapacity].
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{
		capacity: capacity,
		ring:     make([]Event, capacity),
	}
}

// Record stores an event, evicting the oldest entry if the buffer is full.
// A missing ID or timestamp is filled in.
func (r *Recorder) Record(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.ring[r.next] = event
	r.next = (r.next + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	} else {
		r.dropped++
	}
}

// Events returns up to limit retained events matching flagKey, newest first.
// An empty flagKey matches every flag; a non-positive limit returns
// everything retained.
func (r *Recorder) Events(flagKey string, limit int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 || limit > r.size {
		limit = r.size
	}

	matched := make([]Event, 0, limit)
	for i := 0; i < r.size && len(matched) < limit; i++ {
		event := r.at(i)
		if flagKey != "" && event.FlagKey != flagKey {
			continue
		}
		matched = append(matched, event)
	}

	return matched
}

// Stats computes aggregate statistics over the retained events in one pass.
// An empty flagKey aggregates across all flags.
func (r *Recorder) Stats(flagKey string) UsageStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := UsageStats{VariantDistribution: make(map[string]int)}
	users := make(map[string]struct{})

	for i := 0; i < r.size; i++ {
		event := r.at(i)
		if flagKey != "" && event.FlagKey != flagKey {
			continue
		}
		stats.TotalEvents++
		if event.Enabled {
			stats.EnabledCount++
		} else {
			stats.DisabledCount++
		}
		if event.Variant != "" {
			stats.VariantDistribution[event.Variant]++
		}
		users[event.UserID] = struct{}{}
	}

	stats.UniqueUsers = len(users)
	return stats
}

// at returns the i-th newest retained event. Callers must hold mu.
func (r *Recorder) at(i int) Event {
	idx := (r.next - 1 - i + 2*r.capacity) % r.capacity
	return r.ring[idx]
}

// Len returns the number of retained events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity returns the configured retention cap.
func (r *Recorder) Capacity() int {
	return r.capacity
}

// Dropped returns how many events have been evicted since construction.
func (r *Recorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
