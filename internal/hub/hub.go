// Package hub fans out patch batches to path subscribers. Every client
// subscribed to the same document path shares one re-projected patch batch
// (computed once per path per publish), mirroring the upstream Rust
// implementation's per-path tokio broadcast channel.
package hub

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/sunli829/bigjson/internal/document"
	"github.com/sunli829/bigjson/internal/patch"
	"github.com/sunli829/bigjson/internal/pointer"
	"github.com/sunli829/bigjson/internal/reproject"
)

// QueueDepth is the number of unread patch batches a subscriber channel can
// hold before Publish evicts it as a slow consumer. Matches the upstream
// server's tokio::sync::broadcast::channel(64) bound at each subscription path.
const QueueDepth = 64

// Subscription is a single subscriber's registration at a document path.
type Subscription struct {
	id     uint64
	path   pointer.Path
	ch     chan []patch.Operation
	evict  chan struct{}
	closed int32
}

// C returns the channel of reprojected patch batches delivered to this
// subscription. It is closed when the subscription is cancelled or evicted.
func (s *Subscription) C() <-chan []patch.Operation {
	return s.ch
}

// Evicted reports whether the hub closed this subscription because its
// queue filled up (slow consumer), as opposed to an explicit Cancel.
func (s *Subscription) Evicted() bool {
	select {
	case <-s.evict:
		return true
	default:
		return false
	}
}

type topic struct {
	path pointer.Path
	subs atomic.Value // holds []*Subscription, an immutable snapshot
}

func (t *topic) load() []*Subscription {
	v := t.subs.Load()
	if v == nil {
		return nil
	}
	return v.([]*Subscription)
}

// Hub indexes active subscriptions by document path and fans out publishes
// to them. Subscriber snapshots per path are copy-on-write, so Publish reads
// them lock-free, matching the teacher's SubscriptionIndex design.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]*topic
	nextID uint64
	log    zerolog.Logger
}

// New returns an empty Hub.
func New(log zerolog.Logger) *Hub {
	return &Hub{topics: make(map[string]*topic), log: log.With().Str("component", "hub").Logger()}
}

// Subscribe registers a new subscriber at path and returns its Subscription.
// Callers typically call this while holding the service's document lock, so
// that the initial snapshot value reported to the client (a separate,
// synthetic Add patch built by the caller) and the subscription's entry into
// the hub happen atomically with respect to concurrent Publish calls.
func (h *Hub) Subscribe(path pointer.Path) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := path.String()
	t, ok := h.topics[key]
	if !ok {
		t = &topic{path: path.Clone()}
		h.topics[key] = t
	}

	h.nextID++
	sub := &Subscription{
		id:    h.nextID,
		path:  path,
		ch:    make(chan []patch.Operation, QueueDepth),
		evict: make(chan struct{}),
	}

	existing := t.load()
	next := make([]*Subscription, len(existing)+1)
	copy(next, existing)
	next[len(existing)] = sub
	t.subs.Store(next)

	return sub
}

// Cancel removes sub from the hub and closes its channel. Safe to call more
// than once or on an already-evicted subscription.
func (h *Hub) Cancel(sub *Subscription) {
	if !atomic.CompareAndSwapInt32(&sub.closed, 0, 1) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[sub.path.String()]
	if !ok {
		close(sub.ch)
		return
	}
	existing := t.load()
	next := make([]*Subscription, 0, len(existing))
	for _, s := range existing {
		if s.id != sub.id {
			next = append(next, s)
		}
	}
	if len(next) == 0 {
		delete(h.topics, sub.path.String())
	} else {
		t.subs.Store(next)
	}
	close(sub.ch)
}

// Publish reprojects ops (already applied to doc, addressed under prefix)
// against every active subscription and delivers the non-empty results.
// doc must be the document state after ops were applied; see
// internal/reproject for why.
func (h *Hub) Publish(doc document.Value, prefix pointer.Path, ops []patch.Operation) {
	h.mu.RLock()
	topics := make([]*topic, 0, len(h.topics))
	for _, t := range h.topics {
		topics = append(topics, t)
	}
	h.mu.RUnlock()

	for _, t := range topics {
		rewritten := reproject.Reproject(doc, t.path, prefix, ops)
		if len(rewritten) == 0 {
			continue
		}
		for _, sub := range t.load() {
			h.deliver(sub, rewritten)
		}
	}
}

func (h *Hub) deliver(sub *Subscription, ops []patch.Operation) {
	select {
	case sub.ch <- ops:
	default:
		// Slow consumer: evict rather than block every other subscriber on
		// one stuck reader.
		if atomic.CompareAndSwapInt32(&sub.closed, 0, 1) {
			h.log.Warn().Str("path", sub.path.String()).Msg("evicting slow subscriber")
			close(sub.evict)
			h.removeFromTopic(sub)
			close(sub.ch)
		}
	}
}

func (h *Hub) removeFromTopic(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[sub.path.String()]
	if !ok {
		return
	}
	existing := t.load()
	next := make([]*Subscription, 0, len(existing))
	for _, s := range existing {
		if s.id != sub.id {
			next = append(next, s)
		}
	}
	if len(next) == 0 {
		delete(h.topics, sub.path.String())
	} else {
		t.subs.Store(next)
	}
}

// Count reports the number of active subscribers at path, for metrics and
// tests.
func (h *Hub) Count(path pointer.Path) int {
	h.mu.RLock()
	t, ok := h.topics[path.String()]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	return len(t.load())
}

// TopicCount reports the number of distinct subscribed paths, for metrics.
func (h *Hub) TopicCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics)
}
