package stream

import (
	"testing"
	"time"

	"github.com/Krud-x/task-collaboration-platform/domain"
)

func TestHubScopesEventsToBoard(t *testing.T) {
	hub := NewHub()
	a1 := hub.Join("board-5")
	a2 := hub.Join("board-5")
	other := hub.Join("board-9")

	hub.Publish(domain.Event{ID: "e1", BoardID: "board-5", Seq: 1, Type: domain.ListCreated})

	for i, ch := range []chan domain.Event{a1, a2} {
		select {
		case ev := <-ch:
			if ev.ID != "e1" {
				t.Fatalf("conn %d: unexpected event %s", i, ev.ID)
			}
		case <-time.After(time.Second):
			t.Fatalf("conn %d: no event received", i)
		}
	}
	select {
	case ev := <-other:
		t.Fatalf("board-9 connection received foreign event %s", ev.ID)
	default:
	}
}

func TestHubLeaveStopsDelivery(t *testing.T) {
	hub := NewHub()
	ch := hub.Join("b1")
	hub.Leave("b1", ch)

	hub.Publish(domain.Event{ID: "e1", BoardID: "b1", Seq: 1})
	if _, ok := <-ch; ok {
		t.Fatalf("received event on closed channel")
	}
	if n := hub.Subscribers("b1"); n != 0 {
		t.Fatalf("expected empty group, got %d", n)
	}
}

func TestHubLeaveTwiceIsSafe(t *testing.T) {
	hub := NewHub()
	ch := hub.Join("b1")
	hub.Leave("b1", ch)
	hub.Leave("b1", ch)
}

func TestHubFullBufferDoesNotBlock(t *testing.T) {
	hub := NewHub()
	ch := hub.Join("b1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < connBuffer*2; i++ {
			hub.Publish(domain.Event{ID: "e", BoardID: "b1", Seq: int64(i + 1)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a slow connection")
	}

	// The buffer holds the first events; the overflow was dropped.
	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	if received != connBuffer {
		t.Fatalf("expected %d buffered events, got %d", connBuffer, received)
	}
}
