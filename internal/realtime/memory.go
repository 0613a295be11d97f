package realtime

import (
	"context"
	"sync"
	"time"
)

// MemoryFeed fan-outs events to in-process subscribers. It backs tests and
// single-node development runs where Redis is not configured.
type MemoryFeed struct {
	mu   sync.Mutex
	subs map[string]map[int]*memorySubscription
	next int
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[string]map[int]*memorySubscription)}
}

func (f *MemoryFeed) Publish(_ context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs[event.DocumentID] {
		select {
		case sub.out <- event:
		default:
			// Slow subscriber; drop rather than block the publisher.
		}
	}
	return nil
}

func (f *MemoryFeed) Subscribe(_ context.Context, documentID string) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.next++
	sub := &memorySubscription{
		feed:       f,
		documentID: documentID,
		id:         f.next,
		out:        make(chan Event, 64),
	}
	if f.subs[documentID] == nil {
		f.subs[documentID] = make(map[int]*memorySubscription)
	}
	f.subs[documentID][sub.id] = sub
	return sub, nil
}

// Disconnect closes every subscription on a document without removing the
// feed itself, simulating channel loss for degraded-mode tests.
func (f *MemoryFeed) Disconnect(documentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, sub := range f.subs[documentID] {
		sub.closeLocked()
		delete(f.subs[documentID], id)
	}
}

type memorySubscription struct {
	feed       *MemoryFeed
	documentID string
	id         int
	out        chan Event
	closeOnce  sync.Once
}

func (s *memorySubscription) Events() <-chan Event {
	return s.out
}

func (s *memorySubscription) Close() error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	delete(s.feed.subs[s.documentID], s.id)
	s.closeLocked()
	return nil
}

func (s *memorySubscription) closeLocked() {
	s.closeOnce.Do(func() { close(s.out) })
}
