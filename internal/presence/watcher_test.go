package presence

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"donorbase/api/internal/realtime"
)

func startWatcher(t *testing.T, feed realtime.Feed, documentID string) (*Watcher, context.CancelFunc) {
	t.Helper()
	w := NewWatcher(feed, documentID, time.Minute, zerolog.Nop())
	w.retryEvery = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	t.Cleanup(cancel)
	return w, cancel
}

func nextUpdate(t *testing.T, w *Watcher) Update {
	t.Helper()
	select {
	case update, ok := <-w.Updates():
		if !ok {
			t.Fatalf("updates channel closed unexpectedly")
		}
		return update
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for update")
	}
	return Update{}
}

func TestWatcherAppliesPresenceEvents(t *testing.T) {
	feed := realtime.NewMemoryFeed()
	w, _ := startWatcher(t, feed, "doc-1")

	first := nextUpdate(t, w) // initial live snapshot
	if first.Stale || len(first.Entries) != 0 {
		t.Fatalf("initial update = %+v, want empty live state", first)
	}

	err := feed.Publish(context.Background(), realtime.Event{
		Type: realtime.EventTyping, DocumentID: "doc-1", ActorID: "alice", ActorName: "Alice",
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	update := nextUpdate(t, w)
	if len(update.Entries) != 1 || update.Entries[0].ActorID != "alice" {
		t.Fatalf("entries = %+v, want [alice]", update.Entries)
	}
	if update.Stale {
		t.Fatalf("live update marked stale")
	}
	if update.Event.Type != realtime.EventTyping {
		t.Fatalf("update event = %q", update.Event.Type)
	}
}

func TestWatcherForwardsStorageEvents(t *testing.T) {
	feed := realtime.NewMemoryFeed()
	w, _ := startWatcher(t, feed, "doc-1")
	nextUpdate(t, w)

	err := feed.Publish(context.Background(), realtime.Event{
		Type: realtime.EventCommentAdded, DocumentID: "doc-1",
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	update := nextUpdate(t, w)
	if update.Event.Type != realtime.EventCommentAdded {
		t.Fatalf("update event = %q, want comment_added", update.Event.Type)
	}
	if len(update.Entries) != 0 {
		t.Fatalf("storage event changed presence: %+v", update.Entries)
	}
}

func TestChannelLossMarksStaleAndReconnectReplacesState(t *testing.T) {
	feed := realtime.NewMemoryFeed()
	w, _ := startWatcher(t, feed, "doc-1")
	nextUpdate(t, w)

	if err := feed.Publish(context.Background(), realtime.Event{
		Type: realtime.EventTyping, DocumentID: "doc-1", ActorID: "alice",
	}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	nextUpdate(t, w)

	feed.Disconnect("doc-1")

	stale := nextUpdate(t, w)
	if !stale.Stale {
		t.Fatalf("expected stale update after channel loss, got %+v", stale)
	}
	if len(stale.Entries) != 1 || stale.Entries[0].ActorID != "alice" {
		t.Fatalf("stale update lost last known presence: %+v", stale.Entries)
	}

	// The watcher resubscribes on its own; the fresh snapshot replaces the
	// pre-gap entries wholesale.
	fresh := nextUpdate(t, w)
	if fresh.Stale {
		t.Fatalf("expected live update after resubscribe, got %+v", fresh)
	}
	if len(fresh.Entries) != 0 {
		t.Fatalf("pre-gap entries merged into fresh state: %+v", fresh.Entries)
	}
}

func TestWatcherClosesUpdatesOnCancel(t *testing.T) {
	feed := realtime.NewMemoryFeed()
	w, cancel := startWatcher(t, feed, "doc-1")
	nextUpdate(t, w)

	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-w.Updates():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("updates channel did not close after cancel")
		}
	}
}
