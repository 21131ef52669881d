package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"github.com/Krud-x/task-collaboration-platform/domain"
)

// Table names within the storage account.
const (
	boardsTable      = "boards"
	listsTable       = "lists"
	tasksTable       = "tasks"
	membersTable     = "members"
	membershipsTable = "memberships"
	assignmentsTable = "assignments"
	activitiesTable  = "activities"
	usersTable       = "users"
)

// seqRetries bounds the optimistic retry loop on the board sequence counter.
const seqRetries = 5

// Store provides access to the Azure table and queue persistence backing the
// board service. Every board subtree shares one partition key, the board id,
// so cascades and snapshot reads stay within a single partition per table.
type Store struct {
	boards      *aztables.Client
	lists       *aztables.Client
	tasks       *aztables.Client
	members     *aztables.Client
	memberships *aztables.Client
	assignments *aztables.Client
	activities  *aztables.Client
	users       *aztables.Client
	eventQueue  *azqueue.QueueClient

	service *aztables.ServiceClient
}

// New creates a Store from the given connection string and event queue name.
func New(connStr, eventsQueue string) (*Store, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	queue, err := azqueue.NewQueueClientFromConnectionString(connStr, eventsQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Store{
		boards:      svc.NewClient(boardsTable),
		lists:       svc.NewClient(listsTable),
		tasks:       svc.NewClient(tasksTable),
		members:     svc.NewClient(membersTable),
		memberships: svc.NewClient(membershipsTable),
		assignments: svc.NewClient(assignmentsTable),
		activities:  svc.NewClient(activitiesTable),
		users:       svc.NewClient(usersTable),
		eventQueue:  queue,
		service:     svc,
	}, nil
}

// Ensure creates the tables and the event queue, tolerating ones that
// already exist. Called once at startup.
func (s *Store) Ensure(ctx context.Context) error {
	for _, name := range []string{
		boardsTable, listsTable, tasksTable, membersTable,
		membershipsTable, assignmentsTable, activitiesTable, usersTable,
	} {
		if _, err := s.service.CreateTable(ctx, name, nil); err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
		}
	}
	if _, err := s.eventQueue.Create(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
			return err
		}
	}
	return nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}

func isPreconditionFailed(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 412
}

func (s *Store) listPartition(ctx context.Context, client *aztables.Client, filter string, decode func([]byte) error) error {
	pager := client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, raw := range resp.Entities {
			if err := decode(raw); err != nil {
				return err
			}
		}
	}
	return nil
}

func partitionFilter(boardID string) string {
	return "PartitionKey eq '" + quoteFilterValue(boardID) + "'"
}

func (s *Store) InsertBoard(ctx context.Context, b domain.Board) error {
	payload, err := json.Marshal(encodeBoard(b))
	if err != nil {
		return err
	}
	_, err = s.boards.AddEntity(ctx, payload, nil)
	return err
}

func (s *Store) GetBoard(ctx context.Context, boardID string) (*domain.Board, error) {
	resp, err := s.boards.GetEntity(ctx, boardID, boardRowKey, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	board, err := decodeBoard(resp.Value)
	if err != nil {
		return nil, err
	}
	return &board, nil
}

func (s *Store) UpdateBoard(ctx context.Context, b domain.Board) error {
	payload, err := json.Marshal(encodeBoard(b))
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.boards.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	return err
}

// DeleteBoardTree removes the board and everything under it: lists, tasks,
// members, membership index rows, assignments and the activity trail.
func (s *Store) DeleteBoardTree(ctx context.Context, boardID string) error {
	// Resolve membership index rows before the member partition disappears.
	var userIDs []string
	err := s.listPartition(ctx, s.members, partitionFilter(boardID), func(raw []byte) error {
		m, err := decodeMember(raw)
		if err != nil {
			return err
		}
		userIDs = append(userIDs, m.UserID)
		return nil
	})
	if err != nil {
		return err
	}
	for _, userID := range userIDs {
		if _, err := s.memberships.DeleteEntity(ctx, userID, boardID, nil); err != nil && !isNotFound(err) {
			return err
		}
	}

	for _, client := range []*aztables.Client{s.lists, s.tasks, s.members, s.assignments, s.activities} {
		var rowKeys []string
		err := s.listPartition(ctx, client, partitionFilter(boardID), func(raw []byte) error {
			var ent aztables.Entity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return err
			}
			rowKeys = append(rowKeys, ent.RowKey)
			return nil
		})
		if err != nil {
			return err
		}
		for _, rk := range rowKeys {
			if _, err := client.DeleteEntity(ctx, boardID, rk, nil); err != nil && !isNotFound(err) {
				return err
			}
		}
	}

	if _, err := s.boards.DeleteEntity(ctx, boardID, boardRowKey, nil); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (s *Store) BoardsForUser(ctx context.Context, userID string) ([]domain.Board, error) {
	var boardIDs []string
	filter := "PartitionKey eq '" + quoteFilterValue(userID) + "'"
	err := s.listPartition(ctx, s.memberships, filter, func(raw []byte) error {
		var ent membershipEntity
		if err := json.Unmarshal(raw, &ent); err != nil {
			return err
		}
		boardIDs = append(boardIDs, ent.RowKey)
		return nil
	})
	if err != nil {
		return nil, err
	}

	boards := []domain.Board{}
	for _, id := range boardIDs {
		board, err := s.GetBoard(ctx, id)
		if err != nil {
			return nil, err
		}
		if board != nil {
			boards = append(boards, *board)
		}
	}
	sort.Slice(boards, func(i, j int) bool { return boards[i].UpdatedAt.After(boards[j].UpdatedAt) })
	return boards, nil
}

// FetchSnapshot assembles the full board subtree in canonical order, with
// assignees denormalized onto each task.
func (s *Store) FetchSnapshot(ctx context.Context, boardID string) (*domain.BoardSnapshot, error) {
	board, err := s.GetBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if board == nil {
		return nil, nil
	}
	snap := domain.BoardSnapshot{Board: *board}

	lists, err := s.ListsForBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	domain.SortSiblings(lists)

	var tasks []domain.Task
	err = s.listPartition(ctx, s.tasks, partitionFilter(boardID), func(raw []byte) error {
		t, err := decodeTask(raw)
		if err != nil {
			return err
		}
		tasks = append(tasks, t)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var assignments []domain.Assignment
	err = s.listPartition(ctx, s.assignments, partitionFilter(boardID), func(raw []byte) error {
		a, err := decodeAssignment(raw)
		if err != nil {
			return err
		}
		assignments = append(assignments, a)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.listPartition(ctx, s.members, partitionFilter(boardID), func(raw []byte) error {
		m, err := decodeMember(raw)
		if err != nil {
			return err
		}
		snap.Members = append(snap.Members, m)
		return nil
	})
	if err != nil {
		return nil, err
	}

	memberRefs := make(map[string]domain.UserRef, len(snap.Members))
	for _, m := range snap.Members {
		memberRefs[m.UserID] = domain.UserRef{ID: m.UserID, Username: m.Username, Email: m.Email, FullName: m.FullName}
	}
	assigneesByTask := map[string][]domain.UserRef{}
	for _, a := range assignments {
		ref, ok := memberRefs[a.UserID]
		if !ok {
			ref = domain.UserRef{ID: a.UserID}
			if u, err := s.GetUser(ctx, a.UserID); err == nil && u != nil {
				ref = *u
			}
		}
		assigneesByTask[a.TaskID] = append(assigneesByTask[a.TaskID], ref)
	}

	tasksByList := map[string][]domain.Task{}
	for _, t := range tasks {
		t.Assignees = assigneesByTask[t.ID]
		tasksByList[t.ListID] = append(tasksByList[t.ListID], t)
	}
	for _, l := range lists {
		ts := tasksByList[l.ID]
		domain.SortSiblings(ts)
		snap.Lists = append(snap.Lists, domain.ListSnapshot{List: l, Tasks: ts})
	}
	return &snap, nil
}

func (s *Store) GetMember(ctx context.Context, boardID, userID string) (*domain.Member, error) {
	resp, err := s.members.GetEntity(ctx, boardID, userID, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	member, err := decodeMember(resp.Value)
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (s *Store) InsertMember(ctx context.Context, m domain.Member) error {
	payload, err := json.Marshal(encodeMember(m))
	if err != nil {
		return err
	}
	if _, err := s.members.UpsertEntity(ctx, payload, nil); err != nil {
		return err
	}
	index := membershipEntity{Entity: aztables.Entity{PartitionKey: m.UserID, RowKey: m.BoardID}}
	payload, err = json.Marshal(index)
	if err != nil {
		return err
	}
	_, err = s.memberships.UpsertEntity(ctx, payload, nil)
	return err
}

func (s *Store) GetList(ctx context.Context, boardID, listID string) (*domain.List, error) {
	resp, err := s.lists.GetEntity(ctx, boardID, listID, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	list, err := decodeList(resp.Value)
	if err != nil {
		return nil, err
	}
	return &list, nil
}

// FindList locates a list by row key alone. The cross-partition scan only
// runs on mutation paths that arrive without a board id.
func (s *Store) FindList(ctx context.Context, listID string) (*domain.List, error) {
	var found *domain.List
	filter := "RowKey eq '" + quoteFilterValue(listID) + "'"
	err := s.listPartition(ctx, s.lists, filter, func(raw []byte) error {
		l, err := decodeList(raw)
		if err != nil {
			return err
		}
		found = &l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (s *Store) ListsForBoard(ctx context.Context, boardID string) ([]domain.List, error) {
	lists := []domain.List{}
	err := s.listPartition(ctx, s.lists, partitionFilter(boardID), func(raw []byte) error {
		l, err := decodeList(raw)
		if err != nil {
			return err
		}
		lists = append(lists, l)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lists, nil
}

func (s *Store) InsertList(ctx context.Context, l domain.List) error {
	payload, err := json.Marshal(encodeList(l))
	if err != nil {
		return err
	}
	_, err = s.lists.AddEntity(ctx, payload, nil)
	return err
}

func (s *Store) UpdateList(ctx context.Context, l domain.List) error {
	payload, err := json.Marshal(encodeList(l))
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.lists.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	return err
}

// DeleteListTree removes the list, its tasks and their assignments.
func (s *Store) DeleteListTree(ctx context.Context, boardID, listID string) error {
	var taskIDs []string
	filter := partitionFilter(boardID) + " and ListId eq '" + quoteFilterValue(listID) + "'"
	err := s.listPartition(ctx, s.tasks, filter, func(raw []byte) error {
		t, err := decodeTask(raw)
		if err != nil {
			return err
		}
		taskIDs = append(taskIDs, t.ID)
		return nil
	})
	if err != nil {
		return err
	}
	for _, taskID := range taskIDs {
		if err := s.DeleteTaskTree(ctx, boardID, taskID); err != nil {
			return err
		}
	}
	if _, err := s.lists.DeleteEntity(ctx, boardID, listID, nil); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (s *Store) FindTask(ctx context.Context, taskID string) (*domain.Task, error) {
	var found *domain.Task
	filter := "RowKey eq '" + quoteFilterValue(taskID) + "'"
	err := s.listPartition(ctx, s.tasks, filter, func(raw []byte) error {
		t, err := decodeTask(raw)
		if err != nil {
			return err
		}
		found = &t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (s *Store) TasksForList(ctx context.Context, boardID, listID string) ([]domain.Task, error) {
	tasks := []domain.Task{}
	filter := partitionFilter(boardID) + " and ListId eq '" + quoteFilterValue(listID) + "'"
	err := s.listPartition(ctx, s.tasks, filter, func(raw []byte) error {
		t, err := decodeTask(raw)
		if err != nil {
			return err
		}
		tasks = append(tasks, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *Store) InsertTask(ctx context.Context, t domain.Task) error {
	payload, err := json.Marshal(encodeTask(t))
	if err != nil {
		return err
	}
	_, err = s.tasks.AddEntity(ctx, payload, nil)
	return err
}

func (s *Store) UpdateTask(ctx context.Context, t domain.Task) error {
	payload, err := json.Marshal(encodeTask(t))
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.tasks.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	return err
}

// DeleteTaskTree removes the task and its assignments.
func (s *Store) DeleteTaskTree(ctx context.Context, boardID, taskID string) error {
	var rowKeys []string
	filter := partitionFilter(boardID) + " and TaskId eq '" + quoteFilterValue(taskID) + "'"
	err := s.listPartition(ctx, s.assignments, filter, func(raw []byte) error {
		var ent aztables.Entity
		if err := json.Unmarshal(raw, &ent); err != nil {
			return err
		}
		rowKeys = append(rowKeys, ent.RowKey)
		return nil
	})
	if err != nil {
		return err
	}
	for _, rk := range rowKeys {
		if _, err := s.assignments.DeleteEntity(ctx, boardID, rk, nil); err != nil && !isNotFound(err) {
			return err
		}
	}
	if _, err := s.tasks.DeleteEntity(ctx, boardID, taskID, nil); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (s *Store) InsertAssignment(ctx context.Context, a domain.Assignment) error {
	payload, err := json.Marshal(encodeAssignment(a))
	if err != nil {
		return err
	}
	_, err = s.assignments.UpsertEntity(ctx, payload, nil)
	return err
}

func (s *Store) DeleteAssignment(ctx context.Context, boardID, taskID, userID string) error {
	_, err := s.assignments.DeleteEntity(ctx, boardID, assignmentRowKey(taskID, userID), nil)
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (*domain.UserRef, error) {
	resp, err := s.users.GetEntity(ctx, userID, userID, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	user, err := decodeUser(resp.Value)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) AppendActivity(ctx context.Context, a domain.Activity) error {
	payload, err := json.Marshal(encodeActivity(a))
	if err != nil {
		return err
	}
	_, err = s.activities.AddEntity(ctx, payload, nil)
	return err
}

// ActivityForBoard returns one page of the audit trail. Row keys sort the
// partition newest first, so the pager yields records in display order.
func (s *Store) ActivityForBoard(ctx context.Context, boardID string, offset, limit int) ([]domain.Activity, int, error) {
	all := []domain.Activity{}
	err := s.listPartition(ctx, s.activities, partitionFilter(boardID), func(raw []byte) error {
		a, err := decodeActivity(raw)
		if err != nil {
			return err
		}
		all = append(all, a)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// NextSeq increments the board's sequence counter under an ETag check so
// concurrent writers to the same board serialize on the counter. After
// seqRetries lost races it reports domain.ErrConcurrencyConflict.
func (s *Store) NextSeq(ctx context.Context, boardID string) (int64, error) {
	for attempt := 0; attempt < seqRetries; attempt++ {
		resp, err := s.boards.GetEntity(ctx, boardID, boardRowKey, nil)
		if err != nil {
			if isNotFound(err) {
				return 0, domain.ErrNotFound
			}
			return 0, err
		}
		board, err := decodeBoard(resp.Value)
		if err != nil {
			return 0, err
		}
		next := board.Seq + 1

		update := struct {
			aztables.Entity
			Seq int `json:"Seq"`
		}{
			Entity: aztables.Entity{PartitionKey: boardID, RowKey: boardRowKey},
			Seq:    int(next),
		}
		payload, err := json.Marshal(update)
		if err != nil {
			return 0, err
		}
		etag := resp.ETag
		_, err = s.boards.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeMerge})
		if err != nil {
			if isPreconditionFailed(err) {
				continue
			}
			return 0, err
		}
		return next, nil
	}
	return 0, domain.ErrConcurrencyConflict
}

// EnqueueEvent sends a committed event to the durable event queue.
func (s *Store) EnqueueEvent(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = s.eventQueue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// DequeueEvent retrieves a single message from the event queue, returning
// nil when the queue is empty.
func (s *Store) DequeueEvent(ctx context.Context) (*azqueue.DequeuedMessage, error) {
	resp, err := s.eventQueue.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	return resp.Messages[0], nil
}

// DeleteEventMessage removes a processed message from the event queue.
func (s *Store) DeleteEventMessage(ctx context.Context, id, receipt string) error {
	_, err := s.eventQueue.DeleteMessage(ctx, id, receipt, nil)
	return err
}
