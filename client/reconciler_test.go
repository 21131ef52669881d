package client

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/Krud-x/task-collaboration-platform/api"
	"github.com/Krud-x/task-collaboration-platform/domain"
)

type fakeFetcher struct {
	snapshot *domain.BoardSnapshot
	calls    int
	err      error
}

func (f *fakeFetcher) Snapshot(_ context.Context, _, _ string) (*domain.BoardSnapshot, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	snap := *f.snapshot
	return &snap, nil
}

type fakeMutator struct {
	createListFn func(in api.CreateListInput) (*domain.List, error)
	updateTaskFn func(taskID string, in api.UpdateTaskInput) (*domain.Task, error)
	deleteTaskFn func(taskID string) error
}

func (m *fakeMutator) CreateList(_ context.Context, _ string, in api.CreateListInput) (*domain.List, error) {
	if m.createListFn == nil {
		return nil, errors.New("unexpected CreateList call")
	}
	return m.createListFn(in)
}

func (m *fakeMutator) UpdateList(context.Context, string, string, api.UpdateListInput) (*domain.List, error) {
	return nil, errors.New("unexpected UpdateList call")
}

func (m *fakeMutator) DeleteList(context.Context, string, string) error {
	return errors.New("unexpected DeleteList call")
}

func (m *fakeMutator) CreateTask(context.Context, string, api.CreateTaskInput) (*domain.Task, error) {
	return nil, errors.New("unexpected CreateTask call")
}

func (m *fakeMutator) UpdateTask(_ context.Context, _, taskID string, in api.UpdateTaskInput) (*domain.Task, error) {
	if m.updateTaskFn == nil {
		return nil, errors.New("unexpected UpdateTask call")
	}
	return m.updateTaskFn(taskID, in)
}

func (m *fakeMutator) DeleteTask(_ context.Context, _, taskID string) error {
	if m.deleteTaskFn == nil {
		return errors.New("unexpected DeleteTask call")
	}
	return m.deleteTaskFn(taskID)
}

func baseSnapshot() *domain.BoardSnapshot {
	return &domain.BoardSnapshot{
		Board: domain.Board{ID: "b1", Title: "Project", OwnerID: "u1", Seq: 10},
		Lists: []domain.ListSnapshot{
			{
				List: domain.List{ID: "l1", BoardID: "b1", Title: "Todo", Position: 1},
				Tasks: []domain.Task{
					{ID: "t1", ListID: "l1", BoardID: "b1", Title: "First", Status: domain.StatusTodo, Position: 1},
				},
			},
			{List: domain.List{ID: "l2", BoardID: "b1", Title: "Done", Position: 2}, Tasks: []domain.Task{}},
		},
		Members: []domain.Member{{BoardID: "b1", UserID: "u1", Role: domain.RoleOwner}},
	}
}

func newTestReconciler(t *testing.T, fetcher *fakeFetcher, mutator *fakeMutator) *Reconciler {
	t.Helper()
	if fetcher == nil {
		fetcher = &fakeFetcher{snapshot: baseSnapshot()}
	}
	if mutator == nil {
		mutator = &fakeMutator{}
	}
	logger, _ := test.NewNullLogger()
	r := New(fetcher, mutator, "u1", "b1", logger)
	if err := r.Resync(context.Background()); err != nil {
		t.Fatalf("initial resync: %v", err)
	}
	return r
}

func event(t *testing.T, seq int64, evType string, data any) domain.Event {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal event data: %v", err)
	}
	return domain.Event{ID: "ev", BoardID: "b1", Seq: seq, Type: evType, Data: raw}
}

func TestApplyEventFoldsInOrder(t *testing.T) {
	r := newTestReconciler(t, nil, nil)
	ctx := context.Background()

	newList := domain.List{ID: "l3", BoardID: "b1", Title: "Review", Position: 3}
	if err := r.ApplyEvent(ctx, event(t, 11, domain.ListCreated, domain.ListEventData{List: newList})); err != nil {
		t.Fatalf("list-created: %v", err)
	}
	newTask := domain.Task{ID: "t2", ListID: "l2", BoardID: "b1", Title: "Second", Status: domain.StatusTodo, Position: 1}
	if err := r.ApplyEvent(ctx, event(t, 12, domain.TaskCreated, domain.TaskEventData{Task: newTask})); err != nil {
		t.Fatalf("task-created: %v", err)
	}

	state, err := r.State()
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.Seq != 12 {
		t.Fatalf("expected seq 12, got %d", state.Seq)
	}
	if len(state.Lists) != 3 || state.Lists[2].ID != "l3" {
		t.Fatalf("unexpected lists %+v", state.Lists)
	}
	if task, listID := state.FindTask("t2"); task == nil || listID != "l2" {
		t.Fatalf("task t2 not in l2")
	}
	if r.Resyncs() != 1 {
		t.Fatalf("in-order events must not resync, got %d", r.Resyncs())
	}
}

func TestApplyEventMovesTaskBetweenLists(t *testing.T) {
	r := newTestReconciler(t, nil, nil)
	ctx := context.Background()

	moved := domain.Task{ID: "t1", ListID: "l2", BoardID: "b1", Title: "First", Status: domain.StatusDone, Position: 1}
	if err := r.ApplyEvent(ctx, event(t, 11, domain.TaskUpdated, domain.TaskEventData{Task: moved})); err != nil {
		t.Fatalf("task-updated: %v", err)
	}

	state, _ := r.State()
	if task, listID := state.FindTask("t1"); task == nil || listID != "l2" {
		t.Fatalf("task did not move to l2")
	}
	if len(state.Lists[0].Tasks) != 0 {
		t.Fatalf("stale task copy left in source list")
	}
}

func TestApplyEventDropsDuplicates(t *testing.T) {
	r := newTestReconciler(t, nil, nil)
	ctx := context.Background()

	newList := domain.List{ID: "l3", BoardID: "b1", Title: "Review", Position: 3}
	ev := event(t, 11, domain.ListCreated, domain.ListEventData{List: newList})
	if err := r.ApplyEvent(ctx, ev); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := r.ApplyEvent(ctx, ev); err != nil {
		t.Fatalf("duplicate apply: %v", err)
	}

	state, _ := r.State()
	if len(state.Lists) != 3 {
		t.Fatalf("duplicate event changed state: %d lists", len(state.Lists))
	}
	if err := r.ApplyEvent(ctx, event(t, 5, domain.ListDeleted, domain.ListDeletedEventData{ListID: "l1"})); err != nil {
		t.Fatalf("stale apply: %v", err)
	}
	state, _ = r.State()
	if state.listIndex("l1") < 0 {
		t.Fatalf("stale event below current seq must be ignored")
	}
}

func TestApplyEventGapTriggersResync(t *testing.T) {
	fetcher := &fakeFetcher{snapshot: baseSnapshot()}
	r := newTestReconciler(t, fetcher, nil)
	ctx := context.Background()

	// Seq jumps from 10 to 15: at least four events were missed.
	newList := domain.List{ID: "l9", BoardID: "b1", Title: "Late", Position: 9}
	if err := r.ApplyEvent(ctx, event(t, 15, domain.ListCreated, domain.ListEventData{List: newList})); err != nil {
		t.Fatalf("gap apply: %v", err)
	}
	if r.Resyncs() != 2 {
		t.Fatalf("expected resync on gap, got %d resyncs", r.Resyncs())
	}
	state, _ := r.State()
	if state.listIndex("l9") >= 0 {
		t.Fatalf("gapped event must not be folded directly")
	}
}

func TestApplyEventIgnoresOtherBoards(t *testing.T) {
	r := newTestReconciler(t, nil, nil)
	ev := event(t, 11, domain.ListDeleted, domain.ListDeletedEventData{ListID: "l1"})
	ev.BoardID = "other"
	if err := r.ApplyEvent(context.Background(), ev); err != nil {
		t.Fatalf("foreign event: %v", err)
	}
	state, _ := r.State()
	if state.listIndex("l1") < 0 || state.Seq != 10 {
		t.Fatalf("foreign event affected the replica")
	}
}

func TestBoardDeletedEndsReplica(t *testing.T) {
	r := newTestReconciler(t, nil, nil)
	ctx := context.Background()
	if err := r.ApplyEvent(ctx, event(t, 11, domain.BoardDeleted, domain.BoardDeletedEventData{BoardID: "b1"})); err != nil {
		t.Fatalf("board-deleted: %v", err)
	}
	if _, err := r.State(); !errors.Is(err, ErrDeleted) {
		t.Fatalf("expected ErrDeleted, got %v", err)
	}
	if err := r.ApplyEvent(ctx, event(t, 12, domain.ListCreated, domain.ListEventData{})); !errors.Is(err, ErrDeleted) {
		t.Fatalf("expected ErrDeleted for post-deletion event, got %v", err)
	}
}

func TestCreateListVisibleDuringRoundTrip(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	mutator := &fakeMutator{
		createListFn: func(in api.CreateListInput) (*domain.List, error) {
			close(entered)
			<-release
			return &domain.List{ID: "l3", BoardID: in.BoardID, Title: in.Title, Position: 3}, nil
		},
	}
	r := newTestReconciler(t, nil, mutator)

	done := make(chan error, 1)
	go func() {
		_, err := r.CreateList(context.Background(), "Review")
		done <- err
	}()

	// The intent must be in the replica while the server call is still
	// blocked.
	<-entered
	state, err := r.State()
	if err != nil {
		t.Fatalf("state during round trip: %v", err)
	}
	if len(state.Lists) != 3 {
		t.Fatalf("intent not applied before round trip completed: %d lists", len(state.Lists))
	}
	if got := state.Lists[2]; got.Title != "Review" || got.Position != 3 {
		t.Fatalf("unexpected provisional list %+v", got.List)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("create list: %v", err)
	}

	// The provisional entry is swapped for the server result, never kept
	// alongside it.
	state, _ = r.State()
	count := 0
	var kept domain.List
	for _, l := range state.Lists {
		if l.Title == "Review" {
			count++
			kept = l.List
		}
	}
	if count != 1 || kept.ID != "l3" {
		t.Fatalf("provisional list not reconciled with server result: count=%d id=%q", count, kept.ID)
	}

	// The authoritative event for the same mutation folds in cleanly.
	if err := r.ApplyEvent(context.Background(), event(t, 11, domain.ListCreated, domain.ListEventData{List: kept})); err != nil {
		t.Fatalf("event apply: %v", err)
	}
	state, _ = r.State()
	if len(state.Lists) != 3 {
		t.Fatalf("event duplicated the list: %d lists", len(state.Lists))
	}
}

func TestMoveTaskVisibleDuringRoundTrip(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	mutator := &fakeMutator{
		updateTaskFn: func(taskID string, in api.UpdateTaskInput) (*domain.Task, error) {
			close(entered)
			<-release
			return &domain.Task{ID: taskID, ListID: *in.ListID, BoardID: "b1", Title: "First", Status: domain.StatusTodo, Position: 1}, nil
		},
	}
	r := newTestReconciler(t, nil, mutator)

	done := make(chan error, 1)
	go func() {
		done <- r.MoveTask(context.Background(), "t1", "l2", 0)
	}()

	<-entered
	state, _ := r.State()
	if _, listID := state.FindTask("t1"); listID != "l2" {
		t.Fatalf("move not applied before round trip completed, task in %q", listID)
	}
	if len(state.Lists[0].Tasks) != 0 {
		t.Fatalf("stale task copy left in source list during round trip")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("move task: %v", err)
	}
	state, _ = r.State()
	if _, listID := state.FindTask("t1"); listID != "l2" {
		t.Fatalf("move lost after server confirmation")
	}
}

func TestFailedMutationResyncs(t *testing.T) {
	fetcher := &fakeFetcher{snapshot: baseSnapshot()}
	mutator := &fakeMutator{
		deleteTaskFn: func(string) error { return errors.New("connection reset") },
	}
	r := newTestReconciler(t, fetcher, mutator)

	if err := r.DeleteTask(context.Background(), "t1"); err == nil {
		t.Fatalf("expected mutation error")
	}
	if r.Resyncs() != 2 {
		t.Fatalf("expected resync after failed mutation, got %d", r.Resyncs())
	}
	state, _ := r.State()
	if task, _ := state.FindTask("t1"); task == nil {
		t.Fatalf("optimistic delete survived the failed mutation")
	}
}

func TestValidationFailureKeepsReplica(t *testing.T) {
	fetcher := &fakeFetcher{snapshot: baseSnapshot()}
	mutator := &fakeMutator{
		createListFn: func(api.CreateListInput) (*domain.List, error) {
			return nil, domain.NewValidationError("title is required")
		},
	}
	r := newTestReconciler(t, fetcher, mutator)

	if _, err := r.CreateList(context.Background(), ""); err == nil {
		t.Fatalf("expected validation error")
	}
	if r.Resyncs() != 1 {
		t.Fatalf("validation failure must not resync, got %d", r.Resyncs())
	}
	state, err := r.State()
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if len(state.Lists) != 2 {
		t.Fatalf("rejected intent left in replica: %d lists", len(state.Lists))
	}
}

func TestMoveTaskUpdatesReplica(t *testing.T) {
	mutator := &fakeMutator{
		updateTaskFn: func(taskID string, in api.UpdateTaskInput) (*domain.Task, error) {
			return &domain.Task{ID: taskID, ListID: *in.ListID, BoardID: "b1", Title: "First", Status: domain.StatusTodo, Position: 1}, nil
		},
	}
	r := newTestReconciler(t, nil, mutator)

	if err := r.MoveTask(context.Background(), "t1", "l2", 0); err != nil {
		t.Fatalf("move task: %v", err)
	}
	state, _ := r.State()
	if _, listID := state.FindTask("t1"); listID != "l2" {
		t.Fatalf("task not moved in replica")
	}
}
