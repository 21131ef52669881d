package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Krud-x/task-collaboration-platform/domain"
)

func TestActivityRowKeyOrdersNewestFirst(t *testing.T) {
	earlier := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Minute)

	if activityRowKey(later, "a") >= activityRowKey(earlier, "b") {
		t.Fatalf("newer activity must sort before older one")
	}
}

func TestActivityMetadataRoundTrip(t *testing.T) {
	activity := domain.Activity{
		ID:          "a1",
		BoardID:     "b1",
		ActorID:     "u1",
		Action:      domain.ActionUpdated,
		EntityKind:  domain.EntityTask,
		EntityID:    "t1",
		Description: `updated task "Fix" (moved)`,
		Metadata:    map[string]any{"title": "Fix", "moved": true},
		CreatedAt:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	raw, err := json.Marshal(encodeActivity(activity))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoded, err := decodeActivity(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Description != activity.Description {
		t.Fatalf("unexpected description %q", decoded.Description)
	}
	if decoded.Metadata["title"] != "Fix" {
		t.Fatalf("metadata lost: %#v", decoded.Metadata)
	}
	if moved, ok := decoded.Metadata["moved"].(bool); !ok || !moved {
		t.Fatalf("moved flag lost: %#v", decoded.Metadata)
	}
}

func TestTaskDueDateEncoding(t *testing.T) {
	due := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	withDue := domain.Task{ID: "t1", ListID: "l1", BoardID: "b1", Title: "T", Status: domain.StatusTodo, DueDate: &due}
	withoutDue := domain.Task{ID: "t2", ListID: "l1", BoardID: "b1", Title: "T", Status: domain.StatusTodo}

	raw, err := json.Marshal(encodeTask(withDue))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoded, err := decodeTask(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.DueDate == nil || !decoded.DueDate.Equal(due) {
		t.Fatalf("due date lost: %v", decoded.DueDate)
	}

	raw, err = json.Marshal(encodeTask(withoutDue))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoded, err = decodeTask(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.DueDate != nil {
		t.Fatalf("expected nil due date, got %v", decoded.DueDate)
	}
}

func TestBoardSeqSurvivesEncoding(t *testing.T) {
	board := domain.Board{ID: "b1", Title: "B", OwnerID: "u1", Seq: 42, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	raw, err := json.Marshal(encodeBoard(board))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoded, err := decodeBoard(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Seq != 42 {
		t.Fatalf("expected seq 42, got %d", decoded.Seq)
	}
	if decoded.ID != "b1" || decoded.OwnerID != "u1" {
		t.Fatalf("unexpected board %+v", decoded)
	}
}

func TestQuoteFilterValue(t *testing.T) {
	if got := quoteFilterValue("o'brien"); got != "o''brien" {
		t.Fatalf("unexpected escaping: %q", got)
	}
	if got := quoteFilterValue("plain"); got != "plain" {
		t.Fatalf("unexpected escaping: %q", got)
	}
}

func TestAssignmentRowKey(t *testing.T) {
	if assignmentRowKey("t1", "u1") == assignmentRowKey("t1", "u2") {
		t.Fatalf("row keys must differ per assignee")
	}
}
