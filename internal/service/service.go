// Package service wires the document, patch engine, subscription hub, and
// journal together behind one lock, the way the upstream server's State /
// LockedState pair does: a single exclusive lock orders patch application,
// subscriber fan-out, and journal hand-off so that no subscriber ever
// observes a patch the journal won't eventually also record, and no
// subscriber is missed for a patch that already touched the document.
package service

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/sunli829/bigjson/internal/compactor"
	"github.com/sunli829/bigjson/internal/document"
	"github.com/sunli829/bigjson/internal/hub"
	"github.com/sunli829/bigjson/internal/journal"
	"github.com/sunli829/bigjson/internal/metrics"
	"github.com/sunli829/bigjson/internal/patch"
	"github.com/sunli829/bigjson/internal/pointer"
)

// Service is the single point of access to the live document. All mutating
// operations take the same exclusive lock that Subscribe and Publish use, so
// a subscriber registered concurrently with a patch either sees the patch in
// its initial snapshot or in the first patch it receives, never both or
// neither.
type Service struct {
	mu   sync.RWMutex
	root document.Value

	engine *patch.Engine
	hub    *hub.Hub
	jrnl   *journal.Journal // nil when running without a data directory
	met    *metrics.Metrics
	log    zerolog.Logger

	subCount int64 // total active subscriptions, for metrics
}

// Open builds a Service, recovering the document from dataDir if non-empty
// (snapshot + block replay, starting the writer goroutine and a background
// compactor), or starting from an empty object otherwise.
func Open(dataDir string, met *metrics.Metrics, log zerolog.Logger) (*Service, error) {
	s := &Service{
		engine: patch.NewEngine(),
		hub:    hub.New(log),
		met:    met,
		log:    log.With().Str("component", "service").Logger(),
	}

	if dataDir == "" {
		s.root = document.FromObject(document.NewObject())
		return s, nil
	}

	cpt := compactor.New(dataDir, log)
	j, root, err := journal.Open(dataDir, cpt, log)
	if err != nil {
		return nil, fmt.Errorf("service: open journal: %w", err)
	}
	s.jrnl = j
	s.root = root
	return s, nil
}

// Close flushes and closes the journal, if persistent.
func (s *Service) Close() error {
	if s.jrnl == nil {
		return nil
	}
	return s.jrnl.Close()
}

// Get reads the value at path, returning document.ErrNotFound if it does not
// resolve (the HTTP GET handler answers that with 404 Not Found; the
// WebSocket get request answers it with a null value).
func (s *Service) Get(path pointer.Path) (document.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return document.Navigate(s.root, path)
}

// Add inserts value at path (HTTP POST), equivalent to a single-operation
// add patch at the document root.
func (s *Service) Add(path pointer.Path, value document.Value) error {
	return s.Patch(nil, []patch.Operation{{Op: patch.OpAdd, Path: path, Value: value}})
}

// Replace overwrites the value at path (HTTP PUT).
func (s *Service) Replace(path pointer.Path, value document.Value) error {
	return s.Patch(nil, []patch.Operation{{Op: patch.OpReplace, Path: path, Value: value}})
}

// Remove deletes the value at path (HTTP DELETE).
func (s *Service) Remove(path pointer.Path) error {
	return s.Patch(nil, []patch.Operation{{Op: patch.OpRemove, Path: path}})
}

// Patch applies ops as one transaction under prefix, then fans the batch out
// to subscribers and hands it to the journal, all under the same write lock.
// Holding the lock across the journal handoff is harmless rather than
// wasteful: Enqueue only appends to an in-memory queue and signals the
// writer goroutine, so it never blocks regardless of disk speed.
func (s *Service) Patch(prefix pointer.Path, ops []patch.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.engine.Apply(&s.root, prefix, ops); err != nil {
		if s.met != nil {
			s.met.PatchErrors.Inc()
		}
		return err
	}

	s.hub.Publish(s.root, prefix, ops)
	if s.jrnl != nil {
		s.jrnl.Enqueue(prefix, ops)
	}

	if s.met != nil {
		for _, op := range ops {
			s.met.PatchesApplied.WithLabelValues(string(op.Op)).Inc()
		}
	}
	return nil
}

// Subscribe registers sub at path and returns it along with the document
// value at path at the moment of registration. The caller sends that value
// to the client as a synthetic root-level Add patch before streaming
// sub.C(), exactly as the upstream handler's initial Patch{Add, "", value}
// message does. Taking the write lock here, not a read lock, is deliberate:
// it orders registration against concurrent Patch calls the same way the
// upstream server's handler does by locking locked_state for write during
// subscribe, so a subscriber can never miss the publish of a patch that
// raced with its own registration.
func (s *Service) Subscribe(path pointer.Path) (*hub.Subscription, document.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, err := document.Navigate(s.root, path)
	if err != nil {
		value = document.Null()
	}
	sub := s.hub.Subscribe(path)
	if s.met != nil {
		s.met.SubscriptionsActive.Set(float64(atomic.AddInt64(&s.subCount, 1)))
		s.met.TopicsActive.Set(float64(s.hub.TopicCount()))
	}
	return sub, value
}

// Unsubscribe cancels sub.
func (s *Service) Unsubscribe(sub *hub.Subscription) {
	s.hub.Cancel(sub)
	if s.met != nil {
		s.met.SubscriptionsActive.Set(float64(atomic.AddInt64(&s.subCount, -1)))
		s.met.TopicsActive.Set(float64(s.hub.TopicCount()))
	}
}
