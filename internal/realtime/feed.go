package realtime

import "context"

// Feed is the change-notification capability the storage collaborator
// provides: publish an event to a document's channel, or subscribe to one.
type Feed interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, documentID string) (Subscription, error)
}

// Subscription delivers one document's events in arrival order. The Events
// channel closes when the underlying channel is lost or the subscription is
// closed; subscribers treat a close as loss and resubscribe from scratch.
type Subscription interface {
	Events() <-chan Event
	Close() error
}
