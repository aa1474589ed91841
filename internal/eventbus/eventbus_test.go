package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New()
	s := b.Subscribe("sub-1")
	b.Publish(Event{Name: "command_completed", Priority: PriorityLifecycle})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e, ok := s.Receive(ctx)
	if !ok {
		t.Fatalf("expected an event")
	}
	if e.Name != "command_completed" {
		t.Errorf("Name = %s", e.Name)
	}
}

func TestProgressEventsCoalescePerView(t *testing.T) {
	b := New()
	s := b.Subscribe("sub-1")
	for i := 0; i < 10; i++ {
		b.Publish(Event{Name: "progress", Priority: PriorityProgress, ViewID: "v1", Data: i})
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e, ok := s.Receive(ctx)
	if !ok {
		t.Fatalf("expected a coalesced progress event")
	}
	if e.Data != 9 {
		t.Errorf("expected coalesced event to carry the latest data (9), got %v", e.Data)
	}

	// No further events queued: the 10 publishes collapsed into one marker.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	if _, ok := s.Receive(ctx2); ok {
		t.Errorf("expected no further events after the coalesced one")
	}
}

func TestLifecycleEventsNeverDropped(t *testing.T) {
	b := New()
	s := b.Subscribe("sub-1")
	// Fill the queue with lifecycle events beyond its depth.
	for i := 0; i < defaultQueueDepth+5; i++ {
		b.Publish(Event{Name: "lifecycle", Priority: PriorityLifecycle, Data: i})
	}
	count := 0
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for {
		_, ok := s.Receive(ctx)
		if !ok {
			break
		}
		count++
		if count >= defaultQueueDepth+5 {
			break
		}
	}
	if count != defaultQueueDepth+5 {
		t.Errorf("expected all %d lifecycle events to survive, got %d", defaultQueueDepth+5, count)
	}
}

func TestProgressEventsDroppedWhenQueueFullOfNonDroppable(t *testing.T) {
	b := New()
	s := b.Subscribe("sub-1")
	for i := 0; i < defaultQueueDepth; i++ {
		b.Publish(Event{Name: "lifecycle", Priority: PriorityLifecycle})
	}
	b.Publish(Event{Name: "progress", Priority: PriorityProgress, ViewID: "v1"})
	if s.DroppedCount() == 0 {
		t.Errorf("expected the progress event to be dropped once the queue is full of non-droppable events")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	s := b.Subscribe("sub-1")
	b.Unsubscribe("sub-1")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, ok := s.Receive(ctx); ok {
		t.Errorf("expected Receive to report closed after Unsubscribe")
	}
}
