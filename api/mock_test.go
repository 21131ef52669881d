package api

import (
	"context"
	"sync"

	"github.com/Krud-x/task-collaboration-platform/domain"
)

// mockStore is an in-memory Storage used across the package tests.
type mockStore struct {
	mu          sync.Mutex
	boards      map[string]domain.Board
	members     map[string]map[string]domain.Member
	lists       map[string]domain.List
	tasks       map[string]domain.Task
	assignments map[string]map[string]domain.Assignment
	users       map[string]domain.UserRef
	activities  []domain.Activity
	events      []domain.Event
	seqs        map[string]int64

	enqueueErr error
	seqErr     error
}

func newMockStore() *mockStore {
	return &mockStore{
		boards:      map[string]domain.Board{},
		members:     map[string]map[string]domain.Member{},
		lists:       map[string]domain.List{},
		tasks:       map[string]domain.Task{},
		assignments: map[string]map[string]domain.Assignment{},
		users:       map[string]domain.UserRef{},
		seqs:        map[string]int64{},
	}
}

func (m *mockStore) InsertBoard(_ context.Context, b domain.Board) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boards[b.ID] = b
	return nil
}

func (m *mockStore) GetBoard(_ context.Context, boardID string) (*domain.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.boards[boardID]; ok {
		return &b, nil
	}
	return nil, nil
}

func (m *mockStore) UpdateBoard(_ context.Context, b domain.Board) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boards[b.ID] = b
	return nil
}

func (m *mockStore) DeleteBoardTree(_ context.Context, boardID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.boards, boardID)
	delete(m.members, boardID)
	for id, l := range m.lists {
		if l.BoardID == boardID {
			delete(m.lists, id)
		}
	}
	for id, t := range m.tasks {
		if t.BoardID == boardID {
			delete(m.tasks, id)
		}
	}
	return nil
}

func (m *mockStore) BoardsForUser(_ context.Context, userID string) ([]domain.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Board
	for _, b := range m.boards {
		if b.OwnerID == userID {
			out = append(out, b)
			continue
		}
		if rows, ok := m.members[b.ID]; ok {
			if _, ok := rows[userID]; ok {
				out = append(out, b)
			}
		}
	}
	return out, nil
}

func (m *mockStore) FetchSnapshot(_ context.Context, boardID string) (*domain.BoardSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[boardID]
	if !ok {
		return nil, nil
	}
	snap := domain.BoardSnapshot{Board: b}
	var lists []domain.List
	for _, l := range m.lists {
		if l.BoardID == boardID {
			lists = append(lists, l)
		}
	}
	domain.SortSiblings(lists)
	for _, l := range lists {
		var tasks []domain.Task
		for _, t := range m.tasks {
			if t.ListID == l.ID {
				tasks = append(tasks, t)
			}
		}
		domain.SortSiblings(tasks)
		snap.Lists = append(snap.Lists, domain.ListSnapshot{List: l, Tasks: tasks})
	}
	for _, mem := range m.members[boardID] {
		snap.Members = append(snap.Members, mem)
	}
	return &snap, nil
}

func (m *mockStore) GetMember(_ context.Context, boardID, userID string) (*domain.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rows, ok := m.members[boardID]; ok {
		if mem, ok := rows[userID]; ok {
			return &mem, nil
		}
	}
	return nil, nil
}

func (m *mockStore) InsertMember(_ context.Context, mem domain.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members[mem.BoardID] == nil {
		m.members[mem.BoardID] = map[string]domain.Member{}
	}
	m.members[mem.BoardID][mem.UserID] = mem
	return nil
}

func (m *mockStore) GetList(_ context.Context, boardID, listID string) (*domain.List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.lists[listID]; ok && l.BoardID == boardID {
		return &l, nil
	}
	return nil, nil
}

func (m *mockStore) FindList(_ context.Context, listID string) (*domain.List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.lists[listID]; ok {
		return &l, nil
	}
	return nil, nil
}

func (m *mockStore) ListsForBoard(_ context.Context, boardID string) ([]domain.List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.List
	for _, l := range m.lists {
		if l.BoardID == boardID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockStore) InsertList(_ context.Context, l domain.List) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[l.ID] = l
	return nil
}

func (m *mockStore) UpdateList(_ context.Context, l domain.List) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[l.ID] = l
	return nil
}

func (m *mockStore) DeleteListTree(_ context.Context, boardID, listID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lists, listID)
	for id, t := range m.tasks {
		if t.ListID == listID {
			delete(m.tasks, id)
		}
	}
	return nil
}

func (m *mockStore) FindTask(_ context.Context, taskID string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[taskID]; ok {
		return &t, nil
	}
	return nil, nil
}

func (m *mockStore) TasksForList(_ context.Context, boardID, listID string) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Task
	for _, t := range m.tasks {
		if t.BoardID == boardID && t.ListID == listID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockStore) InsertTask(_ context.Context, t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
	return nil
}

func (m *mockStore) UpdateTask(_ context.Context, t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
	return nil
}

func (m *mockStore) DeleteTaskTree(_ context.Context, boardID, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, taskID)
	delete(m.assignments, taskID)
	return nil
}

func (m *mockStore) InsertAssignment(_ context.Context, a domain.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.assignments[a.TaskID] == nil {
		m.assignments[a.TaskID] = map[string]domain.Assignment{}
	}
	m.assignments[a.TaskID][a.UserID] = a
	return nil
}

func (m *mockStore) DeleteAssignment(_ context.Context, boardID, taskID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rows, ok := m.assignments[taskID]; ok {
		delete(rows, userID)
	}
	return nil
}

func (m *mockStore) GetUser(_ context.Context, userID string) (*domain.UserRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		return &u, nil
	}
	return nil, nil
}

func (m *mockStore) AppendActivity(_ context.Context, a domain.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activities = append(m.activities, a)
	return nil
}

func (m *mockStore) ActivityForBoard(_ context.Context, boardID string, offset, limit int) ([]domain.Activity, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []domain.Activity
	for _, a := range m.activities {
		if a.BoardID == boardID {
			all = append(all, a)
		}
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

func (m *mockStore) NextSeq(_ context.Context, boardID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seqErr != nil {
		return 0, m.seqErr
	}
	m.seqs[boardID]++
	return m.seqs[boardID], nil
}

func (m *mockStore) EnqueueEvent(_ context.Context, ev domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *mockStore) recordedEvents() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *mockStore) recordedActivities() []domain.Activity {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Activity, len(m.activities))
	copy(out, m.activities)
	return out
}
