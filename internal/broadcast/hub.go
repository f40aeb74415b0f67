// Package broadcast implements the non-blocking multi-subscriber fan-out
// of liveness results and encoded preview frames (spec.md section 4.4,
// component C4). Producers never block: a full subscriber queue drops
// its oldest item to make room.
package broadcast

import (
	"sync"

	"github.com/biokiosk/supervisor/internal/liveness"
)

const (
	ResultCapacity  = 50
	PreviewCapacity = 2
)

// Subscription is a value-semantic handle back to the hub's internal
// subscriber set, identified by id only — no cyclic pointer back to the
// hub holds up garbage collection of a dropped subscriber (spec.md
// section 9, "cyclic references" rewrite).
type Subscription struct {
	id     uint64
	Result <-chan liveness.Result
	Preview <-chan []byte
}

type subscriber struct {
	id      uint64
	result  chan liveness.Result
	preview chan []byte
}

type Hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscriber
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*subscriber)}
}

// Subscribe registers a new subscription with bounded result/preview
// queues. The caller drains Result/Preview; Unsubscribe tears it down.
func (h *Hub) Subscribe() Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	sub := &subscriber{
		id:      id,
		result:  make(chan liveness.Result, ResultCapacity),
		preview: make(chan []byte, PreviewCapacity),
	}
	h.subs[id] = sub
	return Subscription{id: id, Result: sub.result, Preview: sub.preview}
}

// Unsubscribe removes a subscription before the next publish; publish
// over an already-dropped subscription is a silent no-op (spec.md
// section 4.4 and section 8 round-trip laws).
func (h *Hub) Unsubscribe(s Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s.id)
}

// PublishResult delivers a liveness result to every active subscriber,
// dropping the oldest queued item on a full queue rather than blocking
// the producer.
func (h *Hub) PublishResult(r liveness.Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		enqueueDropOldest(sub.result, r)
	}
}

// PublishPreview delivers an encoded preview frame the same way.
func (h *Hub) PublishPreview(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		enqueueDropOldest(sub.preview, frame)
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
