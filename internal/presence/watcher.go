package presence

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"donorbase/api/internal/obs"
	"donorbase/api/internal/realtime"
)

// Update is one state change pushed to the session loop. Entries is the full
// live presence set; Stale marks output produced while the feed channel is
// down. Event carries the triggering feed event when there is one, so the
// session can refetch after storage-change notifications.
type Update struct {
	Entries []Entry
	Stale   bool
	Event   realtime.Event
}

// Watcher owns a document's feed subscription and presence tracker. It
// resubscribes with backoff after channel loss, resetting the tracker each
// time so stale pre-gap entries are replaced rather than merged. The session
// coordinator never reconnects on its own; it only consumes Updates.
type Watcher struct {
	feed       realtime.Feed
	documentID string
	tracker    *Tracker
	log        zerolog.Logger
	updates    chan Update
	retryEvery time.Duration
	sweepEvery time.Duration
}

func NewWatcher(feed realtime.Feed, documentID string, ttl time.Duration, log zerolog.Logger) *Watcher {
	return &Watcher{
		feed:       feed,
		documentID: documentID,
		tracker:    NewTracker(ttl),
		log:        log.With().Str("component", "presence").Str("document", documentID).Logger(),
		updates:    make(chan Update, 16),
		retryEvery: 2 * time.Second,
		sweepEvery: 2 * time.Second,
	}
}

// Updates delivers state changes in arrival order. The channel closes when
// Run returns.
func (w *Watcher) Updates() <-chan Update {
	return w.updates
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.updates)

	for {
		sub, err := w.feed.Subscribe(ctx, w.documentID)
		if err != nil {
			w.log.Warn().Err(err).Msg("presence subscribe failed, retrying")
			w.emit(ctx, Update{Entries: w.tracker.Snapshot(), Stale: true})
			if !w.sleep(ctx) {
				return
			}
			continue
		}

		// Fresh channel: whatever we held from before the gap is stale.
		w.tracker.Reset()
		w.emit(ctx, Update{Entries: nil, Stale: false})

		if !w.consume(ctx, sub) {
			_ = sub.Close()
			return
		}
		_ = sub.Close()

		w.log.Warn().Msg("presence channel lost, holding last known state")
		w.emit(ctx, Update{Entries: w.tracker.Snapshot(), Stale: true})
		if !w.sleep(ctx) {
			return
		}
	}
}

// consume drains one subscription. It returns false when ctx ended and true
// when the channel was lost and a resubscribe should follow.
func (w *Watcher) consume(ctx context.Context, sub realtime.Subscription) bool {
	ticker := time.NewTicker(w.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-sub.Events():
			if !ok {
				return true
			}
			if event.IsPresence() {
				if w.tracker.Apply(event) {
					obs.PresenceEventApplied(string(event.Type))
					w.emit(ctx, Update{Entries: w.tracker.Entries(), Event: event})
				}
				continue
			}
			// Storage change: presence state is untouched, but the session
			// needs the event to refetch the affected slice.
			w.emit(ctx, Update{Entries: w.tracker.Entries(), Event: event})
		case <-ticker.C:
			if w.tracker.Sweep() {
				w.emit(ctx, Update{Entries: w.tracker.Entries()})
			}
		}
	}
}

func (w *Watcher) emit(ctx context.Context, update Update) {
	select {
	case w.updates <- update:
	case <-ctx.Done():
	}
}

func (w *Watcher) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(w.retryEvery):
		return true
	}
}
