package feed

import (
	"context"
	"sync"
	"time"
)

// LocalFeed is an in-process feed used when no Redis URL is configured. Events only reach
// subscribers in the same process.
type LocalFeed struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan Event
}

func NewLocalFeed() *LocalFeed {
	return &LocalFeed{subs: map[string]map[int]chan Event{}}
}

func (f *LocalFeed) Publish(_ context.Context, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[event.OwnerID] {
		select {
		case ch <- event:
		default:
			// Subscriber is behind; it will catch up on the next event since every push
			// carries the full list.
		}
	}
	return nil
}

func (f *LocalFeed) Subscribe(ctx context.Context, ownerID string, fn Handler) (func(), error) {
	ch := make(chan Event, 16)
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	if f.subs[ownerID] == nil {
		f.subs[ownerID] = map[int]chan Event{}
	}
	f.subs[ownerID][id] = ch
	f.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs[ownerID], id)
			if len(f.subs[ownerID]) == 0 {
				delete(f.subs, ownerID)
			}
			f.mu.Unlock()
			close(done)
		})
	}

	go func() {
		defer stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case event := <-ch:
				fn(event)
			}
		}
	}()
	return stop, nil
}

func (f *LocalFeed) Ping(context.Context) error { return nil }

func (f *LocalFeed) Close() error { return nil }
