package hub

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/sunli829/bigjson/internal/document"
	"github.com/sunli829/bigjson/internal/patch"
	"github.com/sunli829/bigjson/internal/pointer"
)

func newHub() *Hub {
	return New(zerolog.Nop())
}

func TestSubscribeAndPublishDeliversRewrittenOps(t *testing.T) {
	h := newHub()
	sub := h.Subscribe(pointer.MustParse("/a/b/c"))

	doc := document.Null()
	h.Publish(doc, nil, []patch.Operation{
		{Op: patch.OpAdd, Path: pointer.MustParse("/a/b/c/d"), Value: document.Number(1)},
	})

	select {
	case got := <-sub.C():
		if len(got) != 1 || got[0].Op != patch.OpAdd || !got[0].Path.Equal(pointer.MustParse("/d")) {
			t.Fatalf("got %+v", got)
		}
	default:
		t.Fatal("expected a delivered patch")
	}
}

func TestPublishSkipsUnaffectedSubscribers(t *testing.T) {
	h := newHub()
	sub := h.Subscribe(pointer.MustParse("/x"))

	h.Publish(document.Null(), nil, []patch.Operation{
		{Op: patch.OpAdd, Path: pointer.MustParse("/k/j"), Value: document.Number(1)},
	})

	select {
	case got := <-sub.C():
		t.Fatalf("expected no delivery, got %+v", got)
	default:
	}
}

func TestSharedTopicFansOutToAllSubscribers(t *testing.T) {
	h := newHub()
	a := h.Subscribe(pointer.MustParse("/p"))
	b := h.Subscribe(pointer.MustParse("/p"))

	if h.Count(pointer.MustParse("/p")) != 2 {
		t.Fatalf("want 2 subscribers, got %d", h.Count(pointer.MustParse("/p")))
	}

	h.Publish(document.Null(), nil, []patch.Operation{
		{Op: patch.OpAdd, Path: pointer.MustParse("/p/q"), Value: document.Number(7)},
	})

	for _, s := range []*Subscription{a, b} {
		select {
		case got := <-s.C():
			if len(got) != 1 {
				t.Fatalf("got %+v", got)
			}
		default:
			t.Fatal("expected delivery")
		}
	}
}

func TestCancelRemovesSubscriptionAndClosesChannel(t *testing.T) {
	h := newHub()
	sub := h.Subscribe(pointer.MustParse("/a"))
	h.Cancel(sub)

	if h.Count(pointer.MustParse("/a")) != 0 {
		t.Fatalf("expected 0 subscribers after cancel")
	}
	if _, ok := <-sub.C(); ok {
		t.Fatal("expected closed channel")
	}
	// Cancel is idempotent.
	h.Cancel(sub)
}

func TestEvictsSlowConsumer(t *testing.T) {
	h := newHub()
	sub := h.Subscribe(pointer.MustParse("/a"))

	// Fill the subscriber's queue past capacity to force eviction on the
	// next publish that targets it.
	for i := 0; i < QueueDepth+1; i++ {
		h.Publish(document.Null(), nil, []patch.Operation{
			{Op: patch.OpAdd, Path: pointer.MustParse("/a/x"), Value: document.Number(float64(i))},
		})
	}

	if !sub.Evicted() {
		t.Fatal("expected subscriber to be evicted as a slow consumer")
	}
	if h.Count(pointer.MustParse("/a")) != 0 {
		t.Fatal("expected evicted subscriber removed from topic")
	}
}

func TestTopicCount(t *testing.T) {
	h := newHub()
	if h.TopicCount() != 0 {
		t.Fatalf("want 0 topics initially")
	}
	s1 := h.Subscribe(pointer.MustParse("/a"))
	h.Subscribe(pointer.MustParse("/b"))
	if h.TopicCount() != 2 {
		t.Fatalf("want 2 topics, got %d", h.TopicCount())
	}
	h.Cancel(s1)
	if h.TopicCount() != 1 {
		t.Fatalf("want 1 topic after cancel, got %d", h.TopicCount())
	}
}
