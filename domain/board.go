package domain

import "time"

// Role describes the access level a user holds on a board.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

// Status enumerates the workflow states a task can be in.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// Board is the root of a shared workspace subtree.
type Board struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"ownerId"`
	Seq         int64     `json:"seq"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Member grants a user access to a board with a role. The display fields are
// denormalized from the user read model for event payloads.
type Member struct {
	BoardID  string    `json:"boardId"`
	UserID   string    `json:"userId"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
	Username string    `json:"username,omitempty"`
	Email    string    `json:"email,omitempty"`
	FullName string    `json:"fullName,omitempty"`
}

// List is an ordered container of tasks within a board.
type List struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"boardId"`
	Title     string    `json:"title"`
	Position  float64   `json:"position"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Task is a unit of work within a list. BoardID is denormalized so events and
// access checks never need a join through the parent list.
type Task struct {
	ID          string     `json:"id"`
	ListID      string     `json:"listId"`
	BoardID     string     `json:"boardId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Status      Status     `json:"status"`
	Position    float64    `json:"position"`
	Assignees   []UserRef  `json:"assignees,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// UserRef carries the display fields of a user referenced from a task or
// activity payload.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	FullName string `json:"fullName,omitempty"`
}

// Assignment links a board member to a task.
type Assignment struct {
	BoardID    string    `json:"boardId"`
	TaskID     string    `json:"taskId"`
	UserID     string    `json:"userId"`
	AssignedAt time.Time `json:"assignedAt"`
}

// ListSnapshot is a list together with its tasks in canonical order.
type ListSnapshot struct {
	List
	Tasks []Task `json:"tasks"`
}

// BoardSnapshot is the full state of a board subtree as served to clients.
type BoardSnapshot struct {
	Board
	Lists   []ListSnapshot `json:"lists"`
	Members []Member       `json:"members"`
}
