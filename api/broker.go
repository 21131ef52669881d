package api

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Krud-x/task-collaboration-platform/domain"
)

// Broker is the only path by which board subtree state changes. Every
// mutation validates its input, authorizes through the access guard, computes
// ordering, bumps the board's sequence counter, persists, appends one audit
// record and publishes exactly one event. Persistence failures publish
// nothing; publish failures after a commit are logged and left to the resync
// fallback.
type Broker struct {
	store  Storage
	guard  *Guard
	outbox *eventOutbox
	logger *log.Logger
}

// NewBroker creates a Broker with its event outbox running.
func NewBroker(store Storage, guard *Guard, logger *log.Logger) *Broker {
	return &Broker{
		store:  store,
		guard:  guard,
		outbox: newEventOutbox(store, outboxConfigFromEnv(), logger),
		logger: logger,
	}
}

// Shutdown drains the event outbox.
func (b *Broker) Shutdown() { b.outbox.shutdown() }

const (
	defaultPageLimit  = 10
	activityPageLimit = 20
	maxPageLimit      = 100
)

func normalizePage(page, limit, def int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = def
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}

func pageCount(total, limit int) int {
	if total == 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// BoardPage returns one page of the boards the caller owns or belongs to.
func (b *Broker) BoardPage(ctx context.Context, actor string, page, limit int, search string) (*BoardPage, error) {
	page, limit = normalizePage(page, limit, defaultPageLimit)
	boards, err := b.store.BoardsForUser(ctx, actor)
	if err != nil {
		return nil, err
	}
	if search != "" {
		needle := strings.ToLower(search)
		filtered := boards[:0]
		for _, board := range boards {
			if strings.Contains(strings.ToLower(board.Title), needle) ||
				strings.Contains(strings.ToLower(board.Description), needle) {
				filtered = append(filtered, board)
			}
		}
		boards = filtered
	}
	total := len(boards)
	offset := (page - 1) * limit
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return &BoardPage{
		Items:      boards[offset:end],
		Pagination: Pagination{Page: page, Limit: limit, Total: total, Pages: pageCount(total, limit)},
	}, nil
}

// Snapshot returns the full board subtree for an authorized caller.
func (b *Broker) Snapshot(ctx context.Context, actor, boardID string) (*domain.BoardSnapshot, error) {
	if _, err := b.guard.Authorize(ctx, boardID, actor); err != nil {
		return nil, err
	}
	snap, err := b.store.FetchSnapshot(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, domain.ErrNotFound
	}
	return snap, nil
}

// CreateBoard creates a board owned by the actor, who also gets the owner
// membership row. No event is published: a board has no subscribers before
// it exists.
func (b *Broker) CreateBoard(ctx context.Context, actor string, in CreateBoardInput) (*domain.Board, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, domain.NewValidationError("title is required")
	}
	now := time.Now().UTC()
	board := domain.Board{
		ID:          uuid.NewString(),
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		OwnerID:     actor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := b.store.InsertBoard(ctx, board); err != nil {
		return nil, err
	}
	member := domain.Member{BoardID: board.ID, UserID: actor, Role: domain.RoleOwner, JoinedAt: now}
	if u, err := b.store.GetUser(ctx, actor); err == nil && u != nil {
		member.Username, member.Email, member.FullName = u.Username, u.Email, u.FullName
	}
	if err := b.store.InsertMember(ctx, member); err != nil {
		return nil, err
	}
	b.audit(ctx, board.ID, actor, domain.ActionCreated, domain.EntityBoard, board.ID, map[string]any{"title": board.Title})
	return &board, nil
}

// UpdateBoard applies title/description changes. Owner only.
func (b *Broker) UpdateBoard(ctx context.Context, actor, boardID string, in UpdateBoardInput) (*domain.Board, error) {
	if err := b.guard.RequireOwner(ctx, boardID, actor); err != nil {
		return nil, err
	}
	board, err := b.store.GetBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if board == nil {
		return nil, domain.ErrNotFound
	}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, domain.NewValidationError("title cannot be empty")
		}
		board.Title = title
	}
	if in.Description != nil {
		board.Description = strings.TrimSpace(*in.Description)
	}
	seq, err := b.store.NextSeq(ctx, boardID)
	if err != nil {
		return nil, err
	}
	board.Seq = seq
	board.UpdatedAt = time.Now().UTC()
	if err := b.store.UpdateBoard(ctx, *board); err != nil {
		return nil, err
	}
	b.audit(ctx, boardID, actor, domain.ActionUpdated, domain.EntityBoard, boardID, map[string]any{"title": board.Title})
	b.publish(boardID, seq, actor, domain.BoardUpdated, domain.BoardEventData{Board: *board})
	return board, nil
}

// DeleteBoard removes the board and cascades through its whole subtree.
// Owner only. The deletion event is the last event the board's group sees.
func (b *Broker) DeleteBoard(ctx context.Context, actor, boardID string) error {
	if err := b.guard.RequireOwner(ctx, boardID, actor); err != nil {
		return err
	}
	seq, err := b.store.NextSeq(ctx, boardID)
	if err != nil {
		return err
	}
	if err := b.store.DeleteBoardTree(ctx, boardID); err != nil {
		return err
	}
	b.publish(boardID, seq, actor, domain.BoardDeleted, domain.BoardDeletedEventData{BoardID: boardID})
	return nil
}

// AddMember grants a user membership on the board. Owner only. Adding an
// existing member is a no-op upsert.
func (b *Broker) AddMember(ctx context.Context, actor, boardID string, in AddMemberInput) (*domain.Member, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, domain.NewValidationError("user id is required")
	}
	if err := b.guard.RequireOwner(ctx, boardID, actor); err != nil {
		return nil, err
	}
	user, err := b.store.GetUser(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrNotFound
	}
	member := domain.Member{
		BoardID:  boardID,
		UserID:   user.ID,
		Role:     domain.RoleMember,
		JoinedAt: time.Now().UTC(),
		Username: user.Username,
		Email:    user.Email,
		FullName: user.FullName,
	}
	if existing, err := b.store.GetMember(ctx, boardID, user.ID); err == nil && existing != nil {
		// Keep the original role; an owner row never downgrades.
		member = *existing
	} else if err := b.store.InsertMember(ctx, member); err != nil {
		return nil, err
	}
	seq, err := b.store.NextSeq(ctx, boardID)
	if err != nil {
		return nil, err
	}
	b.audit(ctx, boardID, actor, domain.ActionAddedMember, domain.EntityBoard, boardID, map[string]any{"userId": user.ID})
	b.publish(boardID, seq, actor, domain.MemberAdded, domain.MemberAddedEventData{Member: member})
	return &member, nil
}

// CreateList appends a list to the board, or places it at the explicit
// position when one is provided.
func (b *Broker) CreateList(ctx context.Context, actor string, in CreateListInput) (*domain.List, error) {
	title := strings.TrimSpace(in.Title)
	if in.BoardID == "" || title == "" {
		return nil, domain.NewValidationError("board id and title are required")
	}
	if _, err := b.guard.Authorize(ctx, in.BoardID, actor); err != nil {
		return nil, err
	}
	var position float64
	if in.Position != nil {
		position = *in.Position
	} else {
		siblings, err := b.store.ListsForBoard(ctx, in.BoardID)
		if err != nil {
			return nil, err
		}
		position = domain.NextPosition(siblings)
	}
	seq, err := b.store.NextSeq(ctx, in.BoardID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	list := domain.List{
		ID:        uuid.NewString(),
		BoardID:   in.BoardID,
		Title:     title,
		Position:  position,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := b.store.InsertList(ctx, list); err != nil {
		return nil, err
	}
	b.audit(ctx, in.BoardID, actor, domain.ActionCreated, domain.EntityList, list.ID, map[string]any{"title": list.Title})
	b.publish(in.BoardID, seq, actor, domain.ListCreated, domain.ListEventData{List: list})
	return &list, nil
}

// UpdateList renames and/or reorders a list among the board's lists.
func (b *Broker) UpdateList(ctx context.Context, actor, listID string, in UpdateListInput) (*domain.List, error) {
	list, err := b.store.FindList(ctx, listID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		return nil, domain.ErrNotFound
	}
	if _, err := b.guard.Authorize(ctx, list.BoardID, actor); err != nil {
		return nil, err
	}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, domain.NewValidationError("title cannot be empty")
		}
		list.Title = title
	}
	if in.Index != nil {
		siblings, err := b.store.ListsForBoard(ctx, list.BoardID)
		if err != nil {
			return nil, err
		}
		domain.SortSiblings(siblings)
		list.Position = domain.PositionAt(domain.WithoutID(siblings, list.ID), *in.Index)
	}
	seq, err := b.store.NextSeq(ctx, list.BoardID)
	if err != nil {
		return nil, err
	}
	list.UpdatedAt = time.Now().UTC()
	if err := b.store.UpdateList(ctx, *list); err != nil {
		return nil, err
	}
	b.audit(ctx, list.BoardID, actor, domain.ActionUpdated, domain.EntityList, list.ID, map[string]any{"title": list.Title})
	b.publish(list.BoardID, seq, actor, domain.ListUpdated, domain.ListEventData{List: *list})
	return list, nil
}

// DeleteList removes the list and cascades through its tasks.
func (b *Broker) DeleteList(ctx context.Context, actor, listID string) error {
	list, err := b.store.FindList(ctx, listID)
	if err != nil {
		return err
	}
	if list == nil {
		return domain.ErrNotFound
	}
	if _, err := b.guard.Authorize(ctx, list.BoardID, actor); err != nil {
		return err
	}
	seq, err := b.store.NextSeq(ctx, list.BoardID)
	if err != nil {
		return err
	}
	if err := b.store.DeleteListTree(ctx, list.BoardID, listID); err != nil {
		return err
	}
	b.audit(ctx, list.BoardID, actor, domain.ActionDeleted, domain.EntityList, listID, map[string]any{})
	b.publish(list.BoardID, seq, actor, domain.ListDeleted, domain.ListDeletedEventData{ListID: listID})
	return nil
}

// CreateTask appends a task to the list, or places it at the explicit
// position when one is provided. Status starts at todo.
func (b *Broker) CreateTask(ctx context.Context, actor string, in CreateTaskInput) (*domain.Task, error) {
	title := strings.TrimSpace(in.Title)
	if in.ListID == "" || title == "" {
		return nil, domain.NewValidationError("list id and title are required")
	}
	list, err := b.store.FindList(ctx, in.ListID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		return nil, domain.ErrNotFound
	}
	if _, err := b.guard.Authorize(ctx, list.BoardID, actor); err != nil {
		return nil, err
	}
	var position float64
	if in.Position != nil {
		position = *in.Position
	} else {
		siblings, err := b.store.TasksForList(ctx, list.BoardID, list.ID)
		if err != nil {
			return nil, err
		}
		position = domain.NextPosition(siblings)
	}
	seq, err := b.store.NextSeq(ctx, list.BoardID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	task := domain.Task{
		ID:          uuid.NewString(),
		ListID:      list.ID,
		BoardID:     list.BoardID,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		DueDate:     in.DueDate,
		Status:      domain.StatusTodo,
		Position:    position,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := b.store.InsertTask(ctx, task); err != nil {
		return nil, err
	}
	b.audit(ctx, list.BoardID, actor, domain.ActionCreated, domain.EntityTask, task.ID, map[string]any{"title": task.Title})
	b.publish(list.BoardID, seq, actor, domain.TaskCreated, domain.TaskEventData{Task: task})
	return &task, nil
}

func validStatus(s domain.Status) bool {
	switch s {
	case domain.StatusTodo, domain.StatusInProgress, domain.StatusDone:
		return true
	}
	return false
}

// UpdateTask applies field changes and handles moves. A move to another list
// of the same board updates the parent reference and the position in the
// destination's ordering space as one persisted change.
func (b *Broker) UpdateTask(ctx context.Context, actor, taskID string, in UpdateTaskInput) (*domain.Task, error) {
	task, err := b.store.FindTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, domain.ErrNotFound
	}
	if _, err := b.guard.Authorize(ctx, task.BoardID, actor); err != nil {
		return nil, err
	}

	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, domain.NewValidationError("title cannot be empty")
		}
		task.Title = title
	}
	if in.Description != nil {
		task.Description = strings.TrimSpace(*in.Description)
	}
	if in.DueDate != nil {
		task.DueDate = in.DueDate
	}
	if in.Status != nil {
		if !validStatus(*in.Status) {
			return nil, domain.NewValidationError("invalid status")
		}
		task.Status = *in.Status
	}

	moved := false
	if in.ListID != nil && *in.ListID != task.ListID {
		dest, err := b.store.GetList(ctx, task.BoardID, *in.ListID)
		if err != nil {
			return nil, err
		}
		if dest == nil {
			return nil, domain.ErrNotFound
		}
		task.ListID = dest.ID
		moved = true
	}
	if in.Index != nil || moved {
		siblings, err := b.store.TasksForList(ctx, task.BoardID, task.ListID)
		if err != nil {
			return nil, err
		}
		domain.SortSiblings(siblings)
		siblings = domain.WithoutID(siblings, task.ID)
		if in.Index != nil {
			task.Position = domain.PositionAt(siblings, *in.Index)
		} else {
			task.Position = domain.NextPosition(siblings)
		}
	}

	seq, err := b.store.NextSeq(ctx, task.BoardID)
	if err != nil {
		return nil, err
	}
	task.UpdatedAt = time.Now().UTC()
	if err := b.store.UpdateTask(ctx, *task); err != nil {
		return nil, err
	}
	b.audit(ctx, task.BoardID, actor, domain.ActionUpdated, domain.EntityTask, task.ID, map[string]any{"title": task.Title, "moved": moved})
	b.publish(task.BoardID, seq, actor, domain.TaskUpdated, domain.TaskEventData{Task: *task})
	return task, nil
}

// DeleteTask removes the task and its assignments.
func (b *Broker) DeleteTask(ctx context.Context, actor, taskID string) error {
	task, err := b.store.FindTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return domain.ErrNotFound
	}
	if _, err := b.guard.Authorize(ctx, task.BoardID, actor); err != nil {
		return err
	}
	seq, err := b.store.NextSeq(ctx, task.BoardID)
	if err != nil {
		return err
	}
	if err := b.store.DeleteTaskTree(ctx, task.BoardID, taskID); err != nil {
		return err
	}
	b.audit(ctx, task.BoardID, actor, domain.ActionDeleted, domain.EntityTask, taskID, map[string]any{})
	b.publish(task.BoardID, seq, actor, domain.TaskDeleted, domain.TaskDeletedEventData{TaskID: taskID})
	return nil
}

// Assign adds a current board member to the task's assignees. Membership is
// checked at assignment time only; a later revocation leaves the assignment
// in place.
func (b *Broker) Assign(ctx context.Context, actor, taskID string, in AssignInput) (*domain.UserRef, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, domain.NewValidationError("user id is required")
	}
	task, err := b.store.FindTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, domain.ErrNotFound
	}
	if _, err := b.guard.Authorize(ctx, task.BoardID, actor); err != nil {
		return nil, err
	}
	member, err := b.store.GetMember(ctx, task.BoardID, in.UserID)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, domain.NewValidationError("user is not a member of this board")
	}
	user := domain.UserRef{ID: member.UserID, Username: member.Username, Email: member.Email, FullName: member.FullName}
	if u, err := b.store.GetUser(ctx, in.UserID); err == nil && u != nil {
		user = *u
	}
	assignment := domain.Assignment{
		BoardID:    task.BoardID,
		TaskID:     taskID,
		UserID:     in.UserID,
		AssignedAt: time.Now().UTC(),
	}
	if err := b.store.InsertAssignment(ctx, assignment); err != nil {
		return nil, err
	}
	seq, err := b.store.NextSeq(ctx, task.BoardID)
	if err != nil {
		return nil, err
	}
	b.audit(ctx, task.BoardID, actor, domain.ActionAssigned, domain.EntityTask, taskID, map[string]any{"userId": user.ID, "username": user.Username})
	b.publish(task.BoardID, seq, actor, domain.TaskAssigned, domain.TaskAssignedEventData{TaskID: taskID, User: user})
	return &user, nil
}

// Unassign removes a user from the task's assignees.
func (b *Broker) Unassign(ctx context.Context, actor, taskID, userID string) error {
	task, err := b.store.FindTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return domain.ErrNotFound
	}
	if _, err := b.guard.Authorize(ctx, task.BoardID, actor); err != nil {
		return err
	}
	if err := b.store.DeleteAssignment(ctx, task.BoardID, taskID, userID); err != nil {
		return err
	}
	seq, err := b.store.NextSeq(ctx, task.BoardID)
	if err != nil {
		return err
	}
	b.audit(ctx, task.BoardID, actor, domain.ActionUnassigned, domain.EntityTask, taskID, map[string]any{"userId": userID})
	b.publish(task.BoardID, seq, actor, domain.TaskUnassigned, domain.TaskUnassignedEventData{TaskID: taskID, UserID: userID})
	return nil
}

// ActivityPage returns one page of the board's audit trail, newest first.
func (b *Broker) ActivityPage(ctx context.Context, actor, boardID string, page, limit int) (*ActivityPage, error) {
	if _, err := b.guard.Authorize(ctx, boardID, actor); err != nil {
		return nil, err
	}
	page, limit = normalizePage(page, limit, activityPageLimit)
	items, total, err := b.store.ActivityForBoard(ctx, boardID, (page-1)*limit, limit)
	if err != nil {
		return nil, err
	}
	return &ActivityPage{
		Items:      items,
		Pagination: Pagination{Page: page, Limit: limit, Total: total, Pages: pageCount(total, limit)},
	}, nil
}

// audit appends the activity record for a committed mutation. An append
// failure is logged and swallowed: the mutation already succeeded and the
// audit trail tolerates the gap.
func (b *Broker) audit(ctx context.Context, boardID, actor string, action domain.Action, kind domain.EntityKind, entityID string, metadata map[string]any) {
	record := domain.Activity{
		ID:          uuid.NewString(),
		BoardID:     boardID,
		ActorID:     actor,
		Action:      action,
		EntityKind:  kind,
		EntityID:    entityID,
		Description: domain.Describe(action, kind, entityID, metadata),
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
	}
	if u, err := b.store.GetUser(ctx, actor); err == nil && u != nil {
		record.ActorName = u.Username
	}
	if err := b.store.AppendActivity(ctx, record); err != nil {
		b.logger.WithError(err).WithField("board", boardID).Error("activity append failed")
	}
}

// publish hands one committed event to the outbox, falling back to an inline
// enqueue when the outbox is saturated. A failure here is never surfaced to
// the mutating caller; their write already committed.
func (b *Broker) publish(boardID string, seq int64, actor, evType string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		b.logger.WithError(err).WithField("type", evType).Error("event payload marshal failed")
		return
	}
	ev := domain.Event{
		ID:        uuid.NewString(),
		BoardID:   boardID,
		Seq:       seq,
		Type:      evType,
		Data:      raw,
		ActorID:   actor,
		Timestamp: nextTimestamp(),
	}
	if err := b.outbox.publish(ev); err != nil {
		b.logger.Warn("event outbox saturated; enqueueing inline")
		ctx, cancel := context.WithTimeout(context.Background(), b.outbox.cfg.enqueueTimeout)
		defer cancel()
		if err := b.store.EnqueueEvent(ctx, ev); err != nil {
			b.logger.WithError(err).WithField("board", boardID).Error("event enqueue failed; subscribers converge on next resync")
		}
	}
}
