package api

import (
	"context"
	"time"

	"github.com/Krud-x/task-collaboration-platform/domain"
)

// Storage abstracts persistence for the mutation broker and handlers. The
// same interface is implemented by the aztables store and its caching
// wrapper.
type Storage interface {
	InsertBoard(ctx context.Context, b domain.Board) error
	GetBoard(ctx context.Context, boardID string) (*domain.Board, error)
	UpdateBoard(ctx context.Context, b domain.Board) error
	// DeleteBoardTree removes the board and cascades through its lists,
	// tasks, members, assignments and activity.
	DeleteBoardTree(ctx context.Context, boardID string) error
	// BoardsForUser returns the boards the user owns or is a member of,
	// newest-updated first.
	BoardsForUser(ctx context.Context, userID string) ([]domain.Board, error)
	FetchSnapshot(ctx context.Context, boardID string) (*domain.BoardSnapshot, error)

	GetMember(ctx context.Context, boardID, userID string) (*domain.Member, error)
	InsertMember(ctx context.Context, m domain.Member) error

	GetList(ctx context.Context, boardID, listID string) (*domain.List, error)
	// FindList locates a list by id alone, returning (nil, nil) when absent.
	FindList(ctx context.Context, listID string) (*domain.List, error)
	ListsForBoard(ctx context.Context, boardID string) ([]domain.List, error)
	InsertList(ctx context.Context, l domain.List) error
	UpdateList(ctx context.Context, l domain.List) error
	// DeleteListTree removes the list and cascades through its tasks and
	// their assignments.
	DeleteListTree(ctx context.Context, boardID, listID string) error

	FindTask(ctx context.Context, taskID string) (*domain.Task, error)
	TasksForList(ctx context.Context, boardID, listID string) ([]domain.Task, error)
	InsertTask(ctx context.Context, t domain.Task) error
	UpdateTask(ctx context.Context, t domain.Task) error
	DeleteTaskTree(ctx context.Context, boardID, taskID string) error

	InsertAssignment(ctx context.Context, a domain.Assignment) error
	DeleteAssignment(ctx context.Context, boardID, taskID, userID string) error

	GetUser(ctx context.Context, userID string) (*domain.UserRef, error)

	AppendActivity(ctx context.Context, a domain.Activity) error
	ActivityForBoard(ctx context.Context, boardID string, offset, limit int) ([]domain.Activity, int, error)

	// NextSeq atomically increments the board's event sequence counter and
	// returns the new value. Implementations use an optimistic version check
	// so concurrent writers to the same board serialize here.
	NextSeq(ctx context.Context, boardID string) (int64, error)

	// EnqueueEvent hands a committed event to the durable event queue.
	EnqueueEvent(ctx context.Context, ev domain.Event) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// CreateBoardInput carries the fields for a new board.
type CreateBoardInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// UpdateBoardInput carries partial board updates. Nil fields are unchanged.
type UpdateBoardInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

// CreateListInput carries the fields for a new list. Position is honoured
// when set, otherwise the list is appended to the tail of the board.
type CreateListInput struct {
	BoardID  string   `json:"boardId"`
	Title    string   `json:"title"`
	Position *float64 `json:"position"`
}

// UpdateListInput carries partial list updates. Index, when set, reorders the
// list to that index among the board's lists.
type UpdateListInput struct {
	Title *string `json:"title"`
	Index *int    `json:"index"`
}

// CreateTaskInput carries the fields for a new task.
type CreateTaskInput struct {
	ListID      string     `json:"listId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	DueDate     *time.Time `json:"dueDate"`
	Position    *float64   `json:"position"`
}

// UpdateTaskInput carries partial task updates. Setting ListID moves the task
// to another list of the same board; Index places it within the destination.
type UpdateTaskInput struct {
	Title       *string        `json:"title"`
	Description *string        `json:"description"`
	DueDate     *time.Time     `json:"dueDate"`
	Status      *domain.Status `json:"status"`
	ListID      *string        `json:"listId"`
	Index       *int           `json:"index"`
}

// AddMemberInput names the user to add to a board.
type AddMemberInput struct {
	UserID string `json:"userId"`
}

// AssignInput names the member to assign to a task.
type AssignInput struct {
	UserID string `json:"userId"`
}

// Pagination describes an offset-paginated response.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// BoardPage is one page of the caller's boards.
type BoardPage struct {
	Items      []domain.Board `json:"items"`
	Pagination Pagination     `json:"pagination"`
}

// ActivityPage is one page of a board's audit trail, newest first.
type ActivityPage struct {
	Items      []domain.Activity `json:"items"`
	Pagination Pagination        `json:"pagination"`
}
