// Package events is the controller-wide event bus (spec.md section 4.7,
// component C7): state/metrics/heartbeat events fan out to presentation
// and admin subscribers, non-blocking with drop-oldest backpressure like
// internal/broadcast, plus a short LRU replay buffer so a client that
// subscribes mid-session sees recent history instead of a blank screen.
package events

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/biokiosk/supervisor/internal/phase"
)

const (
	SubscriberCapacity = 50
	ReplayDepth        = 5
	HeartbeatInterval  = 30 * time.Second
)

type Subscription struct {
	id     uint64
	Events <-chan phase.Event
}

type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan phase.Event
	replay *lru.Cache[uint64, phase.Event]
	seq    uint64

	stop chan struct{}
	once sync.Once
}

func NewBus() *Bus {
	cache, _ := lru.New[uint64, phase.Event](ReplayDepth)
	return &Bus{
		subs:   make(map[uint64]chan phase.Event),
		replay: cache,
	}
}

// Subscribe registers a subscriber and immediately replays up to the
// last ReplayDepth events so a newly-connected admin/presentation
// client isn't starting from nothing (spec_full.md section 3).
func (b *Bus) Subscribe() Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan phase.Event, SubscriberCapacity)
	for _, k := range b.replay.Keys() {
		if e, ok := b.replay.Peek(k); ok {
			ch <- e
		}
	}
	b.subs[id] = ch
	return Subscription{id: id, Events: ch}
}

func (b *Bus) Unsubscribe(s Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s.id)
}

// Publish delivers e to every active subscriber and records it in the
// replay buffer. Insertion order is the observed order (spec section 3).
func (b *Bus) Publish(e phase.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	b.replay.Add(b.seq, e)
	for _, ch := range b.subs {
		enqueueDropOldest(ch, e)
	}
}

// RunHeartbeat emits a heartbeat event on HeartbeatInterval until ctx is
// cancelled. Safe to call once per Bus.
func (b *Bus) RunHeartbeat(ctx context.Context) {
	b.once.Do(func() { b.stop = make(chan struct{}) })
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stop:
			return
		case now := <-ticker.C:
			b.Publish(phase.Event{Type: "heartbeat", Timestamp: now})
		}
	}
}

func enqueueDropOldest[T any](ch chan T, item T) {
	for {
		select {
		case ch <- item:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
