package storage

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"github.com/Krud-x/task-collaboration-platform/domain"
)

const (
	boardRowKey = "board"
	timeLayout  = time.RFC3339Nano
)

type boardEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Description string `json:"Description"`
	OwnerID     string `json:"OwnerId"`
	Seq         int    `json:"Seq"`
	CreatedAt   string `json:"CreatedAt"`
	UpdatedAt   string `json:"UpdatedAt"`
}

type listEntity struct {
	aztables.Entity
	Title     string  `json:"Title"`
	Position  float64 `json:"Position"`
	CreatedAt string  `json:"CreatedAt"`
	UpdatedAt string  `json:"UpdatedAt"`
}

type taskEntity struct {
	aztables.Entity
	ListID      string  `json:"ListId"`
	Title       string  `json:"Title"`
	Description string  `json:"Description"`
	DueDate     string  `json:"DueDate"`
	Status      string  `json:"Status"`
	Position    float64 `json:"Position"`
	CreatedAt   string  `json:"CreatedAt"`
	UpdatedAt   string  `json:"UpdatedAt"`
}

type memberEntity struct {
	aztables.Entity
	Role     string `json:"Role"`
	JoinedAt string `json:"JoinedAt"`
	Username string `json:"Username"`
	Email    string `json:"Email"`
	FullName string `json:"FullName"`
}

// membershipEntity is the reverse index: PartitionKey is the user id,
// RowKey is the board id.
type membershipEntity struct {
	aztables.Entity
}

type assignmentEntity struct {
	aztables.Entity
	TaskID     string `json:"TaskId"`
	UserID     string `json:"UserId"`
	AssignedAt string `json:"AssignedAt"`
}

type activityEntity struct {
	aztables.Entity
	ActivityID  string `json:"ActivityId"`
	ActorID     string `json:"ActorId"`
	ActorName   string `json:"ActorName"`
	Action      string `json:"Action"`
	EntityKind  string `json:"EntityKind"`
	EntityID    string `json:"EntityId"`
	Description string `json:"Description"`
	Metadata    string `json:"Metadata"`
	CreatedAt   string `json:"CreatedAt"`
}

type userEntity struct {
	aztables.Entity
	Username string `json:"Username"`
	Email    string `json:"Email"`
	FullName string `json:"FullName"`
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func encodeBoard(b domain.Board) boardEntity {
	return boardEntity{
		Entity:      aztables.Entity{PartitionKey: b.ID, RowKey: boardRowKey},
		Title:       b.Title,
		Description: b.Description,
		OwnerID:     b.OwnerID,
		Seq:         int(b.Seq),
		CreatedAt:   formatTime(b.CreatedAt),
		UpdatedAt:   formatTime(b.UpdatedAt),
	}
}

func decodeBoard(data []byte) (domain.Board, error) {
	var ent boardEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Board{}, err
	}
	return domain.Board{
		ID:          ent.PartitionKey,
		Title:       ent.Title,
		Description: ent.Description,
		OwnerID:     ent.OwnerID,
		Seq:         int64(ent.Seq),
		CreatedAt:   parseTime(ent.CreatedAt),
		UpdatedAt:   parseTime(ent.UpdatedAt),
	}, nil
}

func encodeList(l domain.List) listEntity {
	return listEntity{
		Entity:    aztables.Entity{PartitionKey: l.BoardID, RowKey: l.ID},
		Title:     l.Title,
		Position:  l.Position,
		CreatedAt: formatTime(l.CreatedAt),
		UpdatedAt: formatTime(l.UpdatedAt),
	}
}

func decodeList(data []byte) (domain.List, error) {
	var ent listEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.List{}, err
	}
	return domain.List{
		ID:        ent.RowKey,
		BoardID:   ent.PartitionKey,
		Title:     ent.Title,
		Position:  ent.Position,
		CreatedAt: parseTime(ent.CreatedAt),
		UpdatedAt: parseTime(ent.UpdatedAt),
	}, nil
}

func encodeTask(t domain.Task) taskEntity {
	ent := taskEntity{
		Entity:      aztables.Entity{PartitionKey: t.BoardID, RowKey: t.ID},
		ListID:      t.ListID,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Position:    t.Position,
		CreatedAt:   formatTime(t.CreatedAt),
		UpdatedAt:   formatTime(t.UpdatedAt),
	}
	if t.DueDate != nil {
		ent.DueDate = formatTime(*t.DueDate)
	}
	return ent
}

func decodeTask(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	task := domain.Task{
		ID:          ent.RowKey,
		ListID:      ent.ListID,
		BoardID:     ent.PartitionKey,
		Title:       ent.Title,
		Description: ent.Description,
		Status:      domain.Status(ent.Status),
		Position:    ent.Position,
		CreatedAt:   parseTime(ent.CreatedAt),
		UpdatedAt:   parseTime(ent.UpdatedAt),
	}
	if ent.DueDate != "" {
		due := parseTime(ent.DueDate)
		task.DueDate = &due
	}
	return task, nil
}

func encodeMember(m domain.Member) memberEntity {
	return memberEntity{
		Entity:   aztables.Entity{PartitionKey: m.BoardID, RowKey: m.UserID},
		Role:     string(m.Role),
		JoinedAt: formatTime(m.JoinedAt),
		Username: m.Username,
		Email:    m.Email,
		FullName: m.FullName,
	}
}

func decodeMember(data []byte) (domain.Member, error) {
	var ent memberEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Member{}, err
	}
	return domain.Member{
		BoardID:  ent.PartitionKey,
		UserID:   ent.RowKey,
		Role:     domain.Role(ent.Role),
		JoinedAt: parseTime(ent.JoinedAt),
		Username: ent.Username,
		Email:    ent.Email,
		FullName: ent.FullName,
	}, nil
}

func assignmentRowKey(taskID, userID string) string {
	return taskID + "_" + userID
}

func encodeAssignment(a domain.Assignment) assignmentEntity {
	return assignmentEntity{
		Entity:     aztables.Entity{PartitionKey: a.BoardID, RowKey: assignmentRowKey(a.TaskID, a.UserID)},
		TaskID:     a.TaskID,
		UserID:     a.UserID,
		AssignedAt: formatTime(a.AssignedAt),
	}
}

func decodeAssignment(data []byte) (domain.Assignment, error) {
	var ent assignmentEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Assignment{}, err
	}
	return domain.Assignment{
		BoardID:    ent.PartitionKey,
		TaskID:     ent.TaskID,
		UserID:     ent.UserID,
		AssignedAt: parseTime(ent.AssignedAt),
	}, nil
}

// activityRowKey orders the partition newest first: lexicographic ascending
// over inverted ticks is descending over creation time.
func activityRowKey(createdAt time.Time, id string) string {
	return fmt.Sprintf("%019d_%s", math.MaxInt64-createdAt.UTC().UnixNano(), id)
}

func encodeActivity(a domain.Activity) activityEntity {
	metadata := ""
	if len(a.Metadata) > 0 {
		if raw, err := json.Marshal(a.Metadata); err == nil {
			metadata = string(raw)
		}
	}
	return activityEntity{
		Entity:      aztables.Entity{PartitionKey: a.BoardID, RowKey: activityRowKey(a.CreatedAt, a.ID)},
		ActivityID:  a.ID,
		ActorID:     a.ActorID,
		ActorName:   a.ActorName,
		Action:      string(a.Action),
		EntityKind:  string(a.EntityKind),
		EntityID:    a.EntityID,
		Description: a.Description,
		Metadata:    metadata,
		CreatedAt:   formatTime(a.CreatedAt),
	}
}

func decodeActivity(data []byte) (domain.Activity, error) {
	var ent activityEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Activity{}, err
	}
	activity := domain.Activity{
		ID:          ent.ActivityID,
		BoardID:     ent.PartitionKey,
		ActorID:     ent.ActorID,
		ActorName:   ent.ActorName,
		Action:      domain.Action(ent.Action),
		EntityKind:  domain.EntityKind(ent.EntityKind),
		EntityID:    ent.EntityID,
		Description: ent.Description,
		CreatedAt:   parseTime(ent.CreatedAt),
	}
	if ent.Metadata != "" {
		var metadata map[string]any
		if err := json.Unmarshal([]byte(ent.Metadata), &metadata); err == nil {
			activity.Metadata = metadata
		}
	}
	return activity, nil
}

func decodeUser(data []byte) (domain.UserRef, error) {
	var ent userEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.UserRef{}, err
	}
	return domain.UserRef{
		ID:       ent.RowKey,
		Username: ent.Username,
		Email:    ent.Email,
		FullName: ent.FullName,
	}, nil
}

// quoteFilterValue escapes a value for use inside an OData filter literal.
func quoteFilterValue(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}
