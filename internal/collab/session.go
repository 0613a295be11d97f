// Package collab coordinates one document's live collaboration state: the
// collaborator roster, comment thread, version history and presence feed
// merged into a single view that consumers re-render on every change.
package collab

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"donorbase/api/internal/obs"
	"donorbase/api/internal/presence"
	"donorbase/api/internal/realtime"
	"donorbase/api/internal/store"
)

type State string

const (
	StateOpening State = "opening"
	StateLive    State = "live"
	StateClosed  State = "closed"
)

// RecentVersionLimit caps the history slice carried in the session view.
// The dedicated history endpoint serves the unbounded list.
const RecentVersionLimit = 10

// Store is the read surface the coordinator needs from the storage
// collaborator.
type Store interface {
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	ListCollaborators(ctx context.Context, documentID string) ([]store.Collaborator, error)
	ListComments(ctx context.Context, documentID string, componentPath *string) ([]store.Comment, error)
	ListVersions(ctx context.Context, documentID string, limit int) ([]store.VersionSnapshot, error)
}

// View is an immutable snapshot of a session's merged state. A new View is
// published on every underlying change; consumers must not mutate it.
type View struct {
	DocumentID     string
	State          State
	Document       store.Document
	Collaborators  []store.Collaborator
	Comments       []store.Comment
	RecentVersions []store.VersionSnapshot
	Presence       []presence.Entry
	PresenceStale  bool
	// FetchErr is the retryable initial-fetch failure. Non-nil only while
	// the session is stuck in StateOpening.
	FetchErr error
}

// Manager opens collaboration sessions.
type Manager struct {
	store       Store
	feed        realtime.Feed
	presenceTTL time.Duration
	log         zerolog.Logger
}

func NewManager(st Store, feed realtime.Feed, presenceTTL time.Duration, log zerolog.Logger) *Manager {
	return &Manager{
		store:       st,
		feed:        feed,
		presenceTTL: presenceTTL,
		log:         log.With().Str("component", "collab").Logger(),
	}
}

// Open starts a session for one consumer. The returned session is in
// StateOpening; it goes Live once the initial roster/comments/versions fetch
// succeeds and the presence watcher is subscribed. Cancelling ctx closes the
// session.
func (m *Manager) Open(ctx context.Context, documentID string, actor store.Actor) *Session {
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		documentID:   documentID,
		actor:        actor,
		store:        m.store,
		feed:         m.feed,
		presenceTTL:  m.presenceTTL,
		log:          m.log.With().Str("document", documentID).Str("actor", actor.ID).Logger(),
		ctx:          sctx,
		cancel:       cancel,
		fetchResults: make(chan fetchResult, 4),
		retries:      make(chan struct{}, 1),
		done:         make(chan struct{}),
		view:         View{DocumentID: documentID, State: StateOpening},
	}
	obs.SessionOpened()
	go s.run()
	return s
}

type fetchKind int

const (
	fetchInitial fetchKind = iota
	fetchComments
	fetchVersions
	fetchRoster
	fetchDocument
)

type fetchResult struct {
	gen           int
	kind          fetchKind
	document      store.Document
	collaborators []store.Collaborator
	comments      []store.Comment
	versions      []store.VersionSnapshot
	err           error
}

// Session is the live, subscribed view of one document held by one consumer.
// All state transitions happen on the session's own goroutine; presence
// events are applied in arrival order.
type Session struct {
	documentID  string
	actor       store.Actor
	store       Store
	feed        realtime.Feed
	presenceTTL time.Duration
	log         zerolog.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	fetchResults chan fetchResult
	retries      chan struct{}
	done         chan struct{}

	mu        sync.Mutex
	view      View
	callbacks []func(View)
}

// Actor returns the actor this session was opened for.
func (s *Session) Actor() store.Actor {
	return s.actor
}

// View returns the latest published snapshot.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// OnChange registers a callback invoked with every newly published view.
// Callbacks run on the session goroutine in registration order; no view is
// replayed at registration time, read View first.
func (s *Session) OnChange(callback func(View)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, callback)
}

// Retry re-runs the initial fetch after a FetchFailed. A retry while the
// session is Live or Closed is a no-op.
func (s *Session) Retry() {
	select {
	case s.retries <- struct{}{}:
	default:
	}
}

// Close leaves the session: the presence subscription is cancelled and any
// in-flight fetch result arriving afterwards is discarded.
func (s *Session) Close() {
	s.cancel()
}

// Done is closed once the session loop has fully stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) run() {
	defer close(s.done)
	defer obs.SessionClosed()
	defer s.markClosed()

	gen := 0
	state := StateOpening
	var fetchErr error
	var doc store.Document
	var collaborators []store.Collaborator
	var comments []store.Comment
	var versions []store.VersionSnapshot
	var presenceEntries []presence.Entry
	presenceStale := false

	var updates <-chan presence.Update

	s.startFetch(gen, fetchInitial)

	publish := func() {
		view := View{
			DocumentID:     s.documentID,
			State:          state,
			Document:       doc,
			Collaborators:  append([]store.Collaborator(nil), collaborators...),
			Comments:       append([]store.Comment(nil), comments...),
			RecentVersions: append([]store.VersionSnapshot(nil), versions...),
			Presence:       append([]presence.Entry(nil), presenceEntries...),
			PresenceStale:  presenceStale,
			FetchErr:       fetchErr,
		}
		s.mu.Lock()
		s.view = view
		callbacks := append(make([]func(View), 0, len(s.callbacks)), s.callbacks...)
		s.mu.Unlock()
		for _, callback := range callbacks {
			callback(view)
		}
	}

	for {
		select {
		case <-s.ctx.Done():
			return

		case result := <-s.fetchResults:
			if s.ctx.Err() != nil {
				// Close raced the result; it must have no observable effect.
				return
			}
			if result.gen != gen {
				// Superseded by a retry.
				continue
			}
			switch {
			case result.kind == fetchInitial && result.err != nil:
				// Retryable: the session stays in Opening and surfaces the
				// failure instead of presenting a stale view.
				fetchErr = result.err
				s.log.Warn().Err(result.err).Msg("initial fetch failed")
				publish()
			case result.kind == fetchInitial:
				fetchErr = nil
				doc = result.document
				collaborators = result.collaborators
				comments = result.comments
				versions = result.versions
				watcher := presence.NewWatcher(s.feed, s.documentID, s.presenceTTL, s.log)
				updates = watcher.Updates()
				go watcher.Run(s.ctx)
				state = StateLive
				publish()
			case result.err != nil:
				// A failed partial refetch keeps the previous slice; the next
				// change notification will try again.
				s.log.Warn().Err(result.err).Int("kind", int(result.kind)).Msg("refetch failed")
			default:
				switch result.kind {
				case fetchComments:
					comments = result.comments
				case fetchVersions:
					versions = result.versions
				case fetchRoster:
					collaborators = result.collaborators
				case fetchDocument:
					doc = result.document
				}
				publish()
			}

		case update, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if s.ctx.Err() != nil {
				return
			}
			presenceEntries = update.Entries
			presenceStale = update.Stale
			switch update.Event.Type {
			case realtime.EventCommentAdded:
				s.startFetch(gen, fetchComments)
			case realtime.EventVersionSaved:
				s.startFetch(gen, fetchVersions)
			case realtime.EventCollaboratorChange:
				s.startFetch(gen, fetchRoster)
			case realtime.EventDocumentUpdated:
				s.startFetch(gen, fetchDocument)
			}
			publish()

		case <-s.retries:
			if state != StateOpening || fetchErr == nil {
				continue
			}
			gen++
			fetchErr = nil
			s.startFetch(gen, fetchInitial)
			publish()
		}
	}
}

// markClosed flips the published view to Closed without invoking callbacks;
// consumers observing Done or Close already know the session ended.
func (s *Session) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.State = StateClosed
	s.view.FetchErr = nil
}

// startFetch runs the store reads off the session goroutine and delivers the
// result back through fetchResults. Results are dropped if the session is
// cancelled before they land.
func (s *Session) startFetch(gen int, kind fetchKind) {
	go func() {
		result := fetchResult{gen: gen, kind: kind}
		switch kind {
		case fetchInitial:
			result.document, result.err = s.store.GetDocument(s.ctx, s.documentID)
			if result.err == nil {
				result.collaborators, result.err = s.store.ListCollaborators(s.ctx, s.documentID)
			}
			if result.err == nil {
				result.comments, result.err = s.store.ListComments(s.ctx, s.documentID, nil)
			}
			if result.err == nil {
				result.versions, result.err = s.store.ListVersions(s.ctx, s.documentID, RecentVersionLimit)
			}
		case fetchComments:
			result.comments, result.err = s.store.ListComments(s.ctx, s.documentID, nil)
		case fetchVersions:
			result.versions, result.err = s.store.ListVersions(s.ctx, s.documentID, RecentVersionLimit)
		case fetchRoster:
			result.collaborators, result.err = s.store.ListCollaborators(s.ctx, s.documentID)
		case fetchDocument:
			result.document, result.err = s.store.GetDocument(s.ctx, s.documentID)
		}

		select {
		case s.fetchResults <- result:
		case <-s.ctx.Done():
		}
	}()
}
