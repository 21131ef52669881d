package domain

import "testing"

func list(id string, pos float64) List { return List{ID: id, Position: pos} }

func TestSortSiblingsDeterministicWithTies(t *testing.T) {
	a := []List{list("b", 2), list("c", 1), list("a", 2)}
	b := []List{list("a", 2), list("b", 2), list("c", 1)}
	SortSiblings(a)
	SortSiblings(b)
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Fatalf("order differs at %d: %s vs %s", i, a[i].ID, b[i].ID)
		}
	}
	want := []string{"c", "a", "b"}
	for i, id := range want {
		if a[i].ID != id {
			t.Fatalf("expected %s at %d, got %s", id, i, a[i].ID)
		}
	}
}

func TestNextPosition(t *testing.T) {
	if got := NextPosition([]List{}); got != 1 {
		t.Fatalf("empty parent: expected 1, got %v", got)
	}
	if got := NextPosition([]List{list("a", 1), list("b", 5)}); got != 6 {
		t.Fatalf("expected 6, got %v", got)
	}
}

func TestPositionAtMidpoint(t *testing.T) {
	siblings := []List{list("a", 1), list("b", 2), list("c", 3)}
	got := PositionAt(siblings, 1)
	if got <= 1 || got >= 2 {
		t.Fatalf("expected strictly between 1 and 2, got %v", got)
	}
	if got != 1.5 {
		t.Fatalf("expected midpoint 1.5, got %v", got)
	}
}

func TestPositionAtBoundaries(t *testing.T) {
	siblings := []List{list("a", 1), list("b", 2)}
	if got := PositionAt(siblings, 0); got != 0 {
		t.Fatalf("before first: expected 0, got %v", got)
	}
	if got := PositionAt(siblings, 2); got != 3 {
		t.Fatalf("past last: expected 3, got %v", got)
	}
	if got := PositionAt(siblings, 7); got != 3 {
		t.Fatalf("clamped append: expected 3, got %v", got)
	}
	if got := PositionAt([]List{}, 0); got != 1 {
		t.Fatalf("empty parent: expected 1, got %v", got)
	}
}

func TestReorderIdempotent(t *testing.T) {
	// L1 at 1, L2 at 2; moving L2 to index 0 twice must settle on the same
	// position after the first move.
	l1 := list("l1", 1)
	l2 := list("l2", 2)

	siblings := WithoutID([]List{l1, l2}, l2.ID)
	first := PositionAt(siblings, 0)
	l2.Position = first

	ordered := []List{l1, l2}
	SortSiblings(ordered)
	siblings = WithoutID(ordered, l2.ID)
	second := PositionAt(siblings, 0)
	if first != second {
		t.Fatalf("re-issued move changed position: %v then %v", first, second)
	}
}

func TestReorderScenarioReadBack(t *testing.T) {
	l1 := list("l1", 1)
	l2 := list("l2", 2)
	l2.Position = PositionAt(WithoutID([]List{l1, l2}, "l2"), 0)

	all := []List{l1, l2}
	SortSiblings(all)
	if all[0].ID != "l2" || all[1].ID != "l1" {
		t.Fatalf("expected [l2 l1], got [%s %s]", all[0].ID, all[1].ID)
	}
	if !(all[0].Position < all[1].Position) {
		t.Fatalf("expected l2.position < l1.position, got %v >= %v", all[0].Position, all[1].Position)
	}
}

func TestWithoutID(t *testing.T) {
	siblings := []List{list("a", 1), list("b", 2), list("c", 3)}
	got := WithoutID(siblings, "b")
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe(ActionCreated, EntityList, "l1", map[string]any{"title": "Backlog"}); got != `created list "Backlog"` {
		t.Fatalf("unexpected description: %s", got)
	}
	if got := Describe(ActionUpdated, EntityTask, "t1", map[string]any{"title": "Fix", "moved": true}); got != `updated task "Fix" (moved)` {
		t.Fatalf("unexpected description: %s", got)
	}
	if got := Describe(ActionAssigned, EntityTask, "t1", map[string]any{"username": "ann"}); got != "assigned ann to task" {
		t.Fatalf("unexpected description: %s", got)
	}
	if got := Describe(ActionDeleted, EntityList, "l1", nil); got != "deleted list" {
		t.Fatalf("unexpected description: %s", got)
	}
}
