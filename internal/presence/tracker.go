// Package presence maintains the ephemeral who-is-typing state for one open
// document session. Entries live only in process memory and self-heal by
// expiry: a missed stop event never leaves a ghost typist behind.
package presence

import (
	"time"

	"donorbase/api/internal/realtime"
)

// Entry records one actor's presence in a document. ComponentPath is empty
// for document-level presence and set when the actor is typing in a specific
// template field. An actor typing in a field is implicitly present in the
// document, so one entry per actor is enough.
type Entry struct {
	ActorID       string
	ActorName     string
	ComponentPath string
	LastSeenAt    time.Time
}

// Tracker owns the presence map for a single document session. It is not
// safe for concurrent use; a session's watcher goroutine is its sole owner.
type Tracker struct {
	ttl     time.Duration
	now     func() time.Time
	entries map[string]Entry
	order   []string
}

func NewTracker(ttl time.Duration) *Tracker {
	return &Tracker{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]Entry),
	}
}

// Apply folds one presence event into the map and reports whether the set of
// visible entries changed. Applying the same event twice is a no-op the
// second time. Non-presence events are ignored.
func (t *Tracker) Apply(event realtime.Event) bool {
	switch event.Type {
	case realtime.EventTyping:
		prev, exists := t.entries[event.ActorID]
		entry := Entry{
			ActorID:       event.ActorID,
			ActorName:     event.ActorName,
			ComponentPath: event.ComponentPath,
			LastSeenAt:    t.now(),
		}
		t.entries[event.ActorID] = entry
		if !exists {
			t.order = append(t.order, event.ActorID)
			return true
		}
		return prev.ComponentPath != entry.ComponentPath || prev.ActorName != entry.ActorName
	case realtime.EventStopTyping, realtime.EventLeft:
		return t.remove(event.ActorID)
	default:
		return false
	}
}

// Reset discards all entries. Used when a lost feed channel is re-established:
// pre-gap state is stale and is replaced wholesale, never merged.
func (t *Tracker) Reset() {
	t.entries = make(map[string]Entry)
	t.order = nil
}

// Typing returns the actors typing in the given scope, in insertion order.
// An empty componentPath selects document-level typists only; a non-empty
// one selects typists in that exact field. The two never overlap.
func (t *Tracker) Typing(componentPath string) []Entry {
	t.Sweep()
	var out []Entry
	for _, actorID := range t.order {
		entry := t.entries[actorID]
		if entry.ComponentPath == componentPath {
			out = append(out, entry)
		}
	}
	return out
}

// Entries returns every live entry in insertion order.
func (t *Tracker) Entries() []Entry {
	t.Sweep()
	out := make([]Entry, 0, len(t.order))
	for _, actorID := range t.order {
		out = append(out, t.entries[actorID])
	}
	return out
}

// Snapshot returns every entry without pruning. Degraded-mode reporting uses
// it so "last known presence" holds steady while the feed channel is down.
func (t *Tracker) Snapshot() []Entry {
	out := make([]Entry, 0, len(t.order))
	for _, actorID := range t.order {
		out = append(out, t.entries[actorID])
	}
	return out
}

// Sweep prunes entries older than the inactivity window and reports whether
// anything was removed. Reads call it implicitly; the watcher also ticks it
// so expired typists disappear without waiting for the next event.
func (t *Tracker) Sweep() bool {
	cutoff := t.now().Add(-t.ttl)
	removed := false
	for actorID, entry := range t.entries {
		if entry.LastSeenAt.Before(cutoff) {
			t.remove(actorID)
			removed = true
		}
	}
	return removed
}

func (t *Tracker) remove(actorID string) bool {
	if _, ok := t.entries[actorID]; !ok {
		return false
	}
	delete(t.entries, actorID)
	for i, id := range t.order {
		if id == actorID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}
