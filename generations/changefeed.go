package generations

import (
	"context"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

const feedChannel = "generations.changed"

// ChangeFeed fans out a "something changed" signal to local subscribers.
// With a Redis client attached, notifications travel through pub/sub so every
// instance sees writes made by its peers; without one the feed degrades to
// in-process fan-out.
type ChangeFeed struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan struct{}

	redis  *redis.Client
	cancel context.CancelFunc
}

// NewChangeFeed builds a feed. client may be nil.
func NewChangeFeed(client *redis.Client) *ChangeFeed {
	feed := &ChangeFeed{
		subs:  make(map[int]chan struct{}),
		redis: client,
	}
	if client != nil {
		ctx, cancel := context.WithCancel(context.Background())
		feed.cancel = cancel
		go feed.relay(ctx)
	}
	return feed
}

// Notify signals that the record set changed. With Redis attached the signal
// is published and echoes back to every instance, including this one; a
// failed publish falls back to local fan-out so a lone instance still works.
func (f *ChangeFeed) Notify(ctx context.Context) {
	if f == nil {
		return
	}
	if f.redis != nil {
		if err := f.redis.Publish(ctx, feedChannel, "1").Err(); err == nil {
			return
		} else {
			log.Printf("generations: publish change signal failed: %v", err)
		}
	}
	f.fanOut()
}

// Close stops the Redis relay. Local subscribers are unaffected.
func (f *ChangeFeed) Close() {
	if f == nil || f.cancel == nil {
		return
	}
	f.cancel()
}

func (f *ChangeFeed) relay(ctx context.Context) {
	pubsub := f.redis.Subscribe(ctx, feedChannel)
	defer pubsub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-pubsub.Channel():
			if !ok {
				return
			}
			f.fanOut()
		}
	}
}

func (f *ChangeFeed) fanOut() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, signal := range f.subs {
		select {
		case signal <- struct{}{}:
		default:
			// a pending signal already covers this change
		}
	}
}

func (f *ChangeFeed) register() (int, chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	signal := make(chan struct{}, 1)
	f.subs[id] = signal
	return id, signal
}

func (f *ChangeFeed) unregister(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, id)
}
