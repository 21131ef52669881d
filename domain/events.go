package domain

import "encoding/json"

// Event types published to board subscriber groups. Every payload carries a
// full snapshot of the affected entity, never a diff.
const (
	BoardUpdated   = "board-updated"
	BoardDeleted   = "board-deleted"
	ListCreated    = "list-created"
	ListUpdated    = "list-updated"
	ListDeleted    = "list-deleted"
	TaskCreated    = "task-created"
	TaskUpdated    = "task-updated"
	TaskDeleted    = "task-deleted"
	TaskAssigned   = "task-assigned"
	TaskUnassigned = "task-unassigned"
	MemberAdded    = "member-added"
)

// Event is the envelope delivered to every connection subscribed to a board.
// Seq increases by one per committed mutation on the board; clients use it to
// detect missed events and fall back to a full resync.
type Event struct {
	ID        string          `json:"id"`
	BoardID   string          `json:"boardId"`
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	ActorID   string          `json:"actorId,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type BoardEventData struct {
	Board Board `json:"board"`
}

type BoardDeletedEventData struct {
	BoardID string `json:"boardId"`
}

type ListEventData struct {
	List List `json:"list"`
}

type ListDeletedEventData struct {
	ListID string `json:"listId"`
}

type TaskEventData struct {
	Task Task `json:"task"`
}

type TaskDeletedEventData struct {
	TaskID string `json:"taskId"`
}

type TaskAssignedEventData struct {
	TaskID string  `json:"taskId"`
	User   UserRef `json:"user"`
}

type TaskUnassignedEventData struct {
	TaskID string `json:"taskId"`
	UserID string `json:"userId"`
}

type MemberAddedEventData struct {
	Member Member `json:"member"`
}
