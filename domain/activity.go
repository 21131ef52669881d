package domain

import (
	"fmt"
	"time"
)

// Action enumerates the mutation kinds recorded in the audit trail.
type Action string

const (
	ActionCreated     Action = "created"
	ActionUpdated     Action = "updated"
	ActionDeleted     Action = "deleted"
	ActionAddedMember Action = "added_member"
	ActionAssigned    Action = "assigned"
	ActionUnassigned  Action = "unassigned"
)

// EntityKind names the kind of entity an activity or event refers to.
type EntityKind string

const (
	EntityBoard EntityKind = "board"
	EntityList  EntityKind = "list"
	EntityTask  EntityKind = "task"
)

// Activity is one append-only audit record. It is never mutated after being
// written; it only disappears when its board is deleted. The actor fields may
// be empty once the acting user's record is gone.
type Activity struct {
	ID          string         `json:"id"`
	BoardID     string         `json:"boardId"`
	ActorID     string         `json:"actorId,omitempty"`
	ActorName   string         `json:"actorName,omitempty"`
	Action      Action         `json:"action"`
	EntityKind  EntityKind     `json:"entityKind"`
	EntityID    string         `json:"entityId"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Describe renders the human-readable summary for an activity record.
func Describe(action Action, kind EntityKind, entityID string, metadata map[string]any) string {
	title := entityID
	if t, ok := metadata["title"].(string); ok && t != "" {
		title = t
	}
	switch action {
	case ActionCreated:
		return fmt.Sprintf("created %s %q", kind, title)
	case ActionUpdated:
		desc := fmt.Sprintf("updated %s %q", kind, title)
		if moved, ok := metadata["moved"].(bool); ok && moved {
			desc += " (moved)"
		}
		return desc
	case ActionDeleted:
		return fmt.Sprintf("deleted %s", kind)
	case ActionAddedMember:
		return "added a member to the board"
	case ActionAssigned:
		who := "user"
		if u, ok := metadata["username"].(string); ok && u != "" {
			who = u
		}
		return fmt.Sprintf("assigned %s to task", who)
	case ActionUnassigned:
		return "unassigned user from task"
	default:
		return fmt.Sprintf("%s %s", action, kind)
	}
}
