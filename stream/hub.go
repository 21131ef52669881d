package stream

import (
	"sync"

	"github.com/Krud-x/task-collaboration-platform/domain"
)

// connBuffer is the per-connection event buffer. A connection that cannot
// drain this many events is skipped rather than blocking the fan-out; its
// client detects the sequence gap and resyncs.
const connBuffer = 16

// Hub fans events out to the connections subscribed to each board. A
// connection only ever receives events for the board it joined.
type Hub struct {
	mu     sync.RWMutex
	boards map[string]map[chan domain.Event]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{boards: make(map[string]map[chan domain.Event]struct{})}
}

// Join subscribes a new connection to the board's group and returns its
// event channel.
func (h *Hub) Join(boardID string) chan domain.Event {
	ch := make(chan domain.Event, connBuffer)
	h.mu.Lock()
	group, ok := h.boards[boardID]
	if !ok {
		group = make(map[chan domain.Event]struct{})
		h.boards[boardID] = group
	}
	group[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Leave removes the connection from the board's group. The channel is closed
// so a pending reader unblocks.
func (h *Hub) Leave(boardID string, ch chan domain.Event) {
	h.mu.Lock()
	if group, ok := h.boards[boardID]; ok {
		if _, member := group[ch]; member {
			delete(group, ch)
			close(ch)
		}
		if len(group) == 0 {
			delete(h.boards, boardID)
		}
	}
	h.mu.Unlock()
}

// Publish delivers the event to every connection in the event's board group.
// Sends never block: a connection with a full buffer misses the event and
// recovers through resync.
func (h *Hub) Publish(ev domain.Event) {
	h.mu.RLock()
	for ch := range h.boards[ev.BoardID] {
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.RUnlock()
}

// Subscribers reports how many connections are joined to the board.
func (h *Hub) Subscribers(boardID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.boards[boardID])
}
