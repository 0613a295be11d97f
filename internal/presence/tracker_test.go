package presence

import (
	"testing"
	"time"

	"donorbase/api/internal/realtime"
)

func typing(actorID, componentPath string) realtime.Event {
	return realtime.Event{
		Type:          realtime.EventTyping,
		DocumentID:    "doc-1",
		ActorID:       actorID,
		ComponentPath: componentPath,
	}
}

func stopTyping(actorID string) realtime.Event {
	return realtime.Event{Type: realtime.EventStopTyping, DocumentID: "doc-1", ActorID: actorID}
}

func actorIDs(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ActorID
	}
	return out
}

func TestDocumentAndFieldScopesNeverOverlap(t *testing.T) {
	tracker := NewTracker(time.Minute)

	tracker.Apply(typing("alice", ""))
	tracker.Apply(typing("bob", "title"))
	tracker.Apply(stopTyping("alice"))

	if got := tracker.Typing(""); len(got) != 0 {
		t.Fatalf("document-level typists = %v, want none", actorIDs(got))
	}
	field := tracker.Typing("title")
	if len(field) != 1 || field[0].ActorID != "bob" {
		t.Fatalf("field typists = %v, want [bob]", actorIDs(field))
	}
}

func TestExpiredEntriesExcludedWithoutStopEvent(t *testing.T) {
	tracker := NewTracker(8 * time.Second)
	current := time.Unix(1700000000, 0)
	tracker.now = func() time.Time { return current }

	tracker.Apply(typing("alice", ""))
	current = current.Add(5 * time.Second)
	if got := tracker.Typing(""); len(got) != 1 {
		t.Fatalf("entry expired early: %v", actorIDs(got))
	}

	current = current.Add(4 * time.Second)
	if got := tracker.Typing(""); len(got) != 0 {
		t.Fatalf("entry survived past inactivity window: %v", actorIDs(got))
	}
}

func TestTypingRefreshesLastSeen(t *testing.T) {
	tracker := NewTracker(8 * time.Second)
	current := time.Unix(1700000000, 0)
	tracker.now = func() time.Time { return current }

	tracker.Apply(typing("alice", ""))
	current = current.Add(6 * time.Second)
	tracker.Apply(typing("alice", ""))
	current = current.Add(6 * time.Second)

	if got := tracker.Typing(""); len(got) != 1 {
		t.Fatalf("refreshed entry expired: %v", actorIDs(got))
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	tracker := NewTracker(time.Minute)

	changed := tracker.Apply(typing("alice", "title"))
	if !changed {
		t.Fatalf("first apply reported no change")
	}
	if tracker.Apply(typing("alice", "title")) {
		t.Fatalf("second identical apply reported a change")
	}

	entries := tracker.Entries()
	if len(entries) != 1 || entries[0].ActorID != "alice" {
		t.Fatalf("entries after duplicate apply = %v", actorIDs(entries))
	}

	if !tracker.Apply(stopTyping("alice")) {
		t.Fatalf("stop after typing reported no change")
	}
	if tracker.Apply(stopTyping("alice")) {
		t.Fatalf("duplicate stop reported a change")
	}
}

func TestFieldSwitchMovesActorBetweenScopes(t *testing.T) {
	tracker := NewTracker(time.Minute)

	tracker.Apply(typing("alice", ""))
	if !tracker.Apply(typing("alice", "goal")) {
		t.Fatalf("scope switch reported no change")
	}

	if got := tracker.Typing(""); len(got) != 0 {
		t.Fatalf("actor still document-level after field switch: %v", actorIDs(got))
	}
	if got := tracker.Typing("goal"); len(got) != 1 {
		t.Fatalf("actor missing from field scope: %v", actorIDs(got))
	}
}

func TestResetReplacesStateWholesale(t *testing.T) {
	tracker := NewTracker(time.Minute)

	tracker.Apply(typing("alice", ""))
	tracker.Apply(typing("bob", "title"))
	tracker.Reset()

	if got := tracker.Entries(); len(got) != 0 {
		t.Fatalf("entries after reset = %v", actorIDs(got))
	}

	tracker.Apply(typing("carol", ""))
	got := tracker.Entries()
	if len(got) != 1 || got[0].ActorID != "carol" {
		t.Fatalf("post-reset entries = %v, want [carol]", actorIDs(got))
	}
}

func TestInsertionOrderIsStable(t *testing.T) {
	tracker := NewTracker(time.Minute)

	tracker.Apply(typing("alice", ""))
	tracker.Apply(typing("bob", ""))
	tracker.Apply(typing("carol", ""))
	tracker.Apply(typing("alice", "")) // refresh must not reorder

	got := actorIDs(tracker.Typing(""))
	want := []string{"alice", "bob", "carol"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestNonPresenceEventsIgnored(t *testing.T) {
	tracker := NewTracker(time.Minute)

	if tracker.Apply(realtime.Event{Type: realtime.EventCommentAdded, DocumentID: "doc-1"}) {
		t.Fatalf("storage event reported a presence change")
	}
	if got := tracker.Entries(); len(got) != 0 {
		t.Fatalf("storage event created entries: %v", actorIDs(got))
	}
}
