package analytics

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func event(flagKey, userID string, enabled bool) Event {
	return Event{
		FlagKey:   flagKey,
		UserID:    userID,
		Enabled:   enabled,
		Timestamp: time.Now().UTC(),
	}
}

func TestRecordFillsIDAndTimestamp(t *testing.T) {
	r := NewRecorder(10)
	r.Record(Event{FlagKey: "f", UserID: "u1", Enabled: true})

	events := r.Events("", 0)
	if len(events) != 1 {
		t.Fatalf("Events() returned %d events, want 1", len(events))
	}
	if events[0].ID == "" {
		t.Fatal("Record() left event ID empty")
	}
	if events[0].Timestamp.IsZero() {
		t.Fatal("Record() left event timestamp zero")
	}
}

func TestEventsNewestFirst(t *testing.T) {
	r := NewRecorder(10)
	for i := 0; i < 5; i++ {
		r.Record(event("f", fmt.Sprintf("user-%d", i), true))
	}

	events := r.Events("", 0)
	if len(events) != 5 {
		t.Fatalf("Events() returned %d events, want 5", len(events))
	}
	for i, e := range events {
		want := fmt.Sprintf("user-%d", 4-i)
		if e.UserID != want {
			t.Fatalf("Events()[%d].UserID = %q, want %q (newest first)", i, e.UserID, want)
		}
	}
}

func TestEventsFilterAndLimit(t *testing.T) {
	r := NewRecorder(100)
	for i := 0; i < 10; i++ {
		r.Record(event("alpha", fmt.Sprintf("a-%d", i), true))
		r.Record(event("beta", fmt.Sprintf("b-%d", i), false))
	}

	alpha := r.Events("alpha", 0)
	if len(alpha) != 10 {
		t.Fatalf("Events(alpha) returned %d events, want 10", len(alpha))
	}
	for _, e := range alpha {
		if e.FlagKey != "alpha" {
			t.Fatalf("Events(alpha) included flag %q", e.FlagKey)
		}
	}

	limited := r.Events("alpha", 3)
	if len(limited) != 3 {
		t.Fatalf("Events(alpha, 3) returned %d events, want 3", len(limited))
	}
	if limited[0].UserID != "a-9" {
		t.Fatalf("Events(alpha, 3)[0].UserID = %q, want a-9", limited[0].UserID)
	}
}

func TestBoundedRetention(t *testing.T) {
	const capacity = 50
	r := NewRecorder(capacity)

	for i := 0; i < capacity*3; i++ {
		r.Record(event("f", fmt.Sprintf("user-%d", i), true))
	}

	if r.Len() != capacity {
		t.Fatalf("Len() = %d, want %d", r.Len(), capacity)
	}
	if got := r.Dropped(); got != capacity*2 {
		t.Fatalf("Dropped() = %d, want %d", got, capacity*2)
	}

	events := r.Events("", 0)
	if len(events) != capacity {
		t.Fatalf("Events() returned %d events, want at most %d", len(events), capacity)
	}
	// The most recently recorded events survive, newest first.
	for i, e := range events {
		want := fmt.Sprintf("user-%d", capacity*3-1-i)
		if e.UserID != want {
			t.Fatalf("Events()[%d].UserID = %q, want %q", i, e.UserID, want)
		}
	}
}

func TestStats(t *testing.T) {
	r := NewRecorder(100)

	r.Record(Event{FlagKey: "f", UserID: "u1", Enabled: true, Variant: "control"})
	r.Record(Event{FlagKey: "f", UserID: "u1", Enabled: true, Variant: "control"})
	r.Record(Event{FlagKey: "f", UserID: "u2", Enabled: true, Variant: "treatment"})
	r.Record(Event{FlagKey: "f", UserID: "u3", Enabled: false})
	r.Record(Event{FlagKey: "other", UserID: "u4", Enabled: true})

	stats := r.Stats("f")
	if stats.TotalEvents != 4 {
		t.Fatalf("TotalEvents = %d, want 4", stats.TotalEvents)
	}
	if stats.EnabledCount != 3 || stats.DisabledCount != 1 {
		t.Fatalf("Enabled/Disabled = %d/%d, want 3/1", stats.EnabledCount, stats.DisabledCount)
	}
	if stats.UniqueUsers != 3 {
		t.Fatalf("UniqueUsers = %d, want 3", stats.UniqueUsers)
	}
	if stats.VariantDistribution["control"] != 2 || stats.VariantDistribution["treatment"] != 1 {
		t.Fatalf("VariantDistribution = %v, want control:2 treatment:1", stats.VariantDistribution)
	}

	all := r.Stats("")
	if all.TotalEvents != 5 || all.UniqueUsers != 4 {
		t.Fatalf("Stats(\"\") = %+v, want totals across all flags", all)
	}
}

func TestStatsEmptyRecorder(t *testing.T) {
	r := NewRecorder(0)

	if r.Capacity() != DefaultCapacity {
		t.Fatalf("Capacity() = %d, want %d", r.Capacity(), DefaultCapacity)
	}

	stats := r.Stats("anything")
	if stats.TotalEvents != 0 || stats.UniqueUsers != 0 {
		t.Fatalf("Stats() on empty recorder = %+v, want zeros", stats)
	}
	if stats.VariantDistribution == nil {
		t.Fatal("VariantDistribution is nil, want empty map")
	}
}

func TestConcurrentRecording(t *testing.T) {
	r := NewRecorder(256)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				r.Record(event("f", fmt.Sprintf("w%d-u%d", w, i), i%2 == 0))
				r.Events("f", 10)
				r.Stats("f")
			}
		}(w)
	}
	wg.Wait()

	if r.Len() != 256 {
		t.Fatalf("Len() = %d, want full buffer of 256", r.Len())
	}
}
