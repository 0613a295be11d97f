package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"donorbase/api/internal/obs"
)

// RedisFeed implements Feed over Redis pub/sub, one channel per document.
type RedisFeed struct {
	client *redis.Client
	prefix string
	log    zerolog.Logger
}

func NewRedisFeed(redisURL string, log zerolog.Logger) (*RedisFeed, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisFeedWithClient(client, log), nil
}

func NewRedisFeedWithClient(client *redis.Client, log zerolog.Logger) *RedisFeed {
	return &RedisFeed{
		client: client,
		prefix: "doc:",
		log:    log.With().Str("component", "realtime").Logger(),
	}
}

func (f *RedisFeed) channel(documentID string) string {
	return f.prefix + documentID
}

func (f *RedisFeed) Publish(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel(event.DocumentID), payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (f *RedisFeed) Subscribe(ctx context.Context, documentID string) (Subscription, error) {
	pubsub := f.client.Subscribe(ctx, f.channel(documentID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", documentID, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan Event, 64),
		done:   make(chan struct{}),
	}
	go sub.pump(f.log, documentID)
	return sub, nil
}

func (f *RedisFeed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

func (f *RedisFeed) Close() error {
	return f.client.Close()
}

type redisSubscription struct {
	pubsub    *redis.PubSub
	out       chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func (s *redisSubscription) Events() <-chan Event {
	return s.out
}

func (s *redisSubscription) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.pubsub.Close()
}

// pump decodes raw messages into events. Malformed payloads are dropped with
// a warning; they never terminate the subscription. The done signal keeps the
// pump from blocking forever on a consumer that stopped reading before Close.
func (s *redisSubscription) pump(log zerolog.Logger, documentID string) {
	defer close(s.out)
	for msg := range s.pubsub.Channel() {
		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			obs.MalformedEventDropped()
			log.Warn().Err(err).Str("document", documentID).Msg("dropping undecodable feed payload")
			continue
		}
		if err := event.Validate(); err != nil {
			obs.MalformedEventDropped()
			log.Warn().Err(err).Str("document", documentID).Msg("dropping malformed feed event")
			continue
		}
		select {
		case s.out <- event:
		case <-s.done:
			return
		}
	}
}
