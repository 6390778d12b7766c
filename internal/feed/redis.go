// Package feed broadcasts page-list changes to live subscribers.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Op names the kind of change that was published.
type Op string

const (
	OpCreated Op = "created"
	OpUpdated Op = "updated"
	OpDeleted Op = "deleted"
)

// Event is the message carried on an owner's channel.
type Event struct {
	OwnerID string    `json:"ownerId"`
	PageID  string    `json:"pageId"`
	Op      Op        `json:"op"`
	At      time.Time `json:"at"`
}

// Handler receives events for one subscription. It runs on the subscription's goroutine.
type Handler func(Event)

// RedisFeed fans page changes out through Redis pub/sub, one channel per owner.
type RedisFeed struct {
	client *redis.Client
	prefix string
}

// NewRedisFeed connects to Redis and verifies the connection.
func NewRedisFeed(redisURL string) (*RedisFeed, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisFeedWithClient(client), nil
}

// NewRedisFeedWithClient wraps an existing client.
func NewRedisFeedWithClient(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client, prefix: "pages:"}
}

func (f *RedisFeed) channel(ownerID string) string {
	return f.prefix + ownerID
}

// Publish announces a change to every subscriber of the owner's page list.
func (f *RedisFeed) Publish(ctx context.Context, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal feed event: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel(event.OwnerID), payload).Err(); err != nil {
		return fmt.Errorf("publish feed event: %w", err)
	}
	return nil
}

// Subscribe delivers the owner's events to fn until the returned function is called or ctx
// ends. The subscription is confirmed before Subscribe returns.
func (f *RedisFeed) Subscribe(ctx context.Context, ownerID string, fn Handler) (func(), error) {
	pubsub := f.client.Subscribe(ctx, f.channel(ownerID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", f.channel(ownerID), err)
	}

	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}

	messages := pubsub.Channel()
	go func() {
		defer stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Warn().Err(err).Str("channel", msg.Channel).Msg("feed: dropping malformed event")
					continue
				}
				fn(event)
			}
		}
	}()
	return stop, nil
}

// Ping checks if Redis is reachable.
func (f *RedisFeed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

func (f *RedisFeed) Close() error {
	return f.client.Close()
}
