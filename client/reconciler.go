package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Krud-x/task-collaboration-platform/api"
	"github.com/Krud-x/task-collaboration-platform/domain"
)

// ErrDeleted reports that the replicated board was deleted on the server.
var ErrDeleted = errors.New("board deleted")

// Fetcher serves full board snapshots.
type Fetcher interface {
	Snapshot(ctx context.Context, actor, boardID string) (*domain.BoardSnapshot, error)
}

// Mutator applies board subtree mutations on the server.
type Mutator interface {
	CreateList(ctx context.Context, actor string, in api.CreateListInput) (*domain.List, error)
	UpdateList(ctx context.Context, actor, listID string, in api.UpdateListInput) (*domain.List, error)
	DeleteList(ctx context.Context, actor, listID string) error
	CreateTask(ctx context.Context, actor string, in api.CreateTaskInput) (*domain.Task, error)
	UpdateTask(ctx context.Context, actor, taskID string, in api.UpdateTaskInput) (*domain.Task, error)
	DeleteTask(ctx context.Context, actor, taskID string) error
}

// Reconciler maintains a live replica of one board for one user. Server
// events fold into the replica in sequence order; a missed event or a failed
// mutation triggers a full resync instead of guessing at the divergence.
type Reconciler struct {
	fetcher Fetcher
	mutator Mutator
	actor   string
	boardID string
	logger  *log.Logger

	mu      sync.Mutex
	state   *BoardState
	deleted bool
	resyncs int
}

// New creates a Reconciler for the given board. Call Resync before applying
// events.
func New(fetcher Fetcher, mutator Mutator, actor, boardID string, logger *log.Logger) *Reconciler {
	return &Reconciler{
		fetcher: fetcher,
		mutator: mutator,
		actor:   actor,
		boardID: boardID,
		logger:  logger,
	}
}

// Resync replaces the replica with a fresh server snapshot.
func (r *Reconciler) Resync(ctx context.Context) error {
	snap, err := r.fetcher.Snapshot(ctx, r.actor, r.boardID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.state = stateFromSnapshot(snap)
	r.deleted = false
	r.resyncs++
	r.mu.Unlock()
	return nil
}

// State returns a copy of the current replica.
func (r *Reconciler) State() (BoardState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleted {
		return BoardState{}, ErrDeleted
	}
	if r.state == nil {
		return BoardState{}, errors.New("no snapshot yet")
	}
	return r.state.clone(), nil
}

// Resyncs reports how many full snapshots have been loaded.
func (r *Reconciler) Resyncs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resyncs
}

// ApplyEvent folds one server event into the replica. Events at or below the
// replica's sequence are duplicates and are dropped; an event further ahead
// than the next sequence means something was missed, so the whole replica is
// refreshed from a snapshot.
func (r *Reconciler) ApplyEvent(ctx context.Context, ev domain.Event) error {
	r.mu.Lock()
	if r.deleted {
		r.mu.Unlock()
		return ErrDeleted
	}
	if r.state == nil {
		r.mu.Unlock()
		return r.Resync(ctx)
	}
	if ev.BoardID != r.boardID || ev.Seq <= r.state.Seq {
		r.mu.Unlock()
		return nil
	}
	if ev.Seq > r.state.Seq+1 {
		r.mu.Unlock()
		r.logger.WithFields(log.Fields{"board": r.boardID, "seq": ev.Seq}).Warn("event gap detected, resyncing")
		return r.Resync(ctx)
	}

	if err := r.fold(ev); err != nil {
		r.mu.Unlock()
		r.logger.WithError(err).WithField("board", r.boardID).Warn("unusable event payload, resyncing")
		return r.Resync(ctx)
	}
	if r.state != nil {
		r.state.Seq = ev.Seq
	}
	r.mu.Unlock()
	return nil
}

func (r *Reconciler) fold(ev domain.Event) error {
	switch ev.Type {
	case domain.BoardUpdated:
		var data domain.BoardEventData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return err
		}
		r.state.Board = data.Board
	case domain.BoardDeleted:
		r.deleted = true
		r.state = nil
	case domain.ListCreated, domain.ListUpdated:
		var data domain.ListEventData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return err
		}
		r.state.upsertList(data.List)
	case domain.ListDeleted:
		var data domain.ListDeletedEventData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return err
		}
		r.state.removeList(data.ListID)
	case domain.TaskCreated, domain.TaskUpdated:
		var data domain.TaskEventData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return err
		}
		r.state.upsertTask(data.Task)
	case domain.TaskDeleted:
		var data domain.TaskDeletedEventData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return err
		}
		r.state.removeTask(data.TaskID)
	case domain.TaskAssigned:
		var data domain.TaskAssignedEventData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return err
		}
		r.state.assign(data.TaskID, data.User)
	case domain.TaskUnassigned:
		var data domain.TaskUnassignedEventData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return err
		}
		r.state.unassign(data.TaskID, data.UserID)
	case domain.MemberAdded:
		var data domain.MemberAddedEventData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return err
		}
		r.state.addMember(data.Member)
	default:
		// Unknown event types are skipped; the payload is a full entity
		// snapshot so nothing downstream depends on them.
	}
	return nil
}

// CreateList applies a provisional list to the replica immediately, then
// creates it on the server. The provisional entry is swapped for the server
// result so the caller sees the intent for the whole round trip.
func (r *Reconciler) CreateList(ctx context.Context, title string) (*domain.List, error) {
	prev := r.capture()
	provisional := domain.List{ID: uuid.NewString(), BoardID: r.boardID, Title: title}
	r.applyLocal(func(s *BoardState) {
		lists := make([]domain.List, len(s.Lists))
		for i, l := range s.Lists {
			lists[i] = l.List
		}
		provisional.Position = domain.NextPosition(lists)
		s.upsertList(provisional)
	})

	list, err := r.mutator.CreateList(ctx, r.actor, api.CreateListInput{BoardID: r.boardID, Title: title})
	if err != nil {
		return nil, r.rollback(ctx, prev, err)
	}
	r.applyLocal(func(s *BoardState) {
		s.removeList(provisional.ID)
		s.upsertList(*list)
	})
	return list, nil
}

// ReorderList moves a list to the given index, locally first.
func (r *Reconciler) ReorderList(ctx context.Context, listID string, index int) error {
	prev := r.capture()
	r.applyLocal(func(s *BoardState) {
		i := s.listIndex(listID)
		if i < 0 {
			return
		}
		moved := s.Lists[i].List
		lists := make([]domain.List, len(s.Lists))
		for j, l := range s.Lists {
			lists[j] = l.List
		}
		moved.Position = domain.PositionAt(domain.WithoutID(lists, listID), index)
		s.upsertList(moved)
	})

	list, err := r.mutator.UpdateList(ctx, r.actor, listID, api.UpdateListInput{Index: &index})
	if err != nil {
		return r.rollback(ctx, prev, err)
	}
	r.applyLocal(func(s *BoardState) { s.upsertList(*list) })
	return nil
}

// DeleteList removes a list and its tasks, locally first.
func (r *Reconciler) DeleteList(ctx context.Context, listID string) error {
	prev := r.capture()
	r.applyLocal(func(s *BoardState) { s.removeList(listID) })

	if err := r.mutator.DeleteList(ctx, r.actor, listID); err != nil {
		return r.rollback(ctx, prev, err)
	}
	return nil
}

// CreateTask appends a provisional task to the given list immediately, then
// creates it on the server and swaps in the server result.
func (r *Reconciler) CreateTask(ctx context.Context, listID, title string) (*domain.Task, error) {
	prev := r.capture()
	provisional := domain.Task{ID: uuid.NewString(), ListID: listID, BoardID: r.boardID, Title: title, Status: domain.StatusTodo}
	r.applyLocal(func(s *BoardState) {
		if i := s.listIndex(listID); i >= 0 {
			provisional.Position = domain.NextPosition(s.Lists[i].Tasks)
		}
		s.upsertTask(provisional)
	})

	task, err := r.mutator.CreateTask(ctx, r.actor, api.CreateTaskInput{ListID: listID, Title: title})
	if err != nil {
		return nil, r.rollback(ctx, prev, err)
	}
	r.applyLocal(func(s *BoardState) {
		s.removeTask(provisional.ID)
		s.upsertTask(*task)
	})
	return task, nil
}

// MoveTask moves a task to another list of the board at the given index,
// locally first.
func (r *Reconciler) MoveTask(ctx context.Context, taskID, listID string, index int) error {
	prev := r.capture()
	r.applyLocal(func(s *BoardState) {
		task, _ := s.FindTask(taskID)
		i := s.listIndex(listID)
		if task == nil || i < 0 {
			return
		}
		moved := *task
		moved.ListID = listID
		moved.Position = domain.PositionAt(domain.WithoutID(s.Lists[i].Tasks, taskID), index)
		s.upsertTask(moved)
	})

	task, err := r.mutator.UpdateTask(ctx, r.actor, taskID, api.UpdateTaskInput{ListID: &listID, Index: &index})
	if err != nil {
		return r.rollback(ctx, prev, err)
	}
	r.applyLocal(func(s *BoardState) { s.upsertTask(*task) })
	return nil
}

// DeleteTask removes a task, locally first.
func (r *Reconciler) DeleteTask(ctx context.Context, taskID string) error {
	prev := r.capture()
	r.applyLocal(func(s *BoardState) { s.removeTask(taskID) })

	if err := r.mutator.DeleteTask(ctx, r.actor, taskID); err != nil {
		return r.rollback(ctx, prev, err)
	}
	return nil
}

// capture clones the replica so a rejected intent can be undone without a
// snapshot round trip.
func (r *Reconciler) capture() *BoardState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == nil {
		return nil
	}
	st := r.state.clone()
	return &st
}

func (r *Reconciler) applyLocal(apply func(*BoardState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == nil {
		return
	}
	apply(r.state)
}

// rollback undoes an optimistically applied intent after the server refused
// the mutation. A validation failure restores the captured replica; anything
// else refreshes from a snapshot since the divergence is unknown. Events
// folded during the round trip are recovered by the seq-gap resync on the
// next delivery.
func (r *Reconciler) rollback(ctx context.Context, prev *BoardState, cause error) error {
	var verr *domain.ValidationError
	if errors.As(cause, &verr) {
		r.mu.Lock()
		r.state = prev
		r.mu.Unlock()
		return cause
	}
	if err := r.Resync(ctx); err != nil {
		r.logger.WithError(err).WithField("board", r.boardID).Error("resync after failed mutation")
	}
	return cause
}
