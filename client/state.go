package client

import (
	"github.com/Krud-x/task-collaboration-platform/domain"
)

// BoardState is a client-side replica of one board subtree. Lists and tasks
// are kept in canonical order; Seq tracks the last event folded in.
type BoardState struct {
	Board   domain.Board
	Lists   []domain.ListSnapshot
	Members []domain.Member
	Seq     int64
}

func stateFromSnapshot(snap *domain.BoardSnapshot) *BoardState {
	state := &BoardState{
		Board:   snap.Board,
		Lists:   make([]domain.ListSnapshot, len(snap.Lists)),
		Members: append([]domain.Member(nil), snap.Members...),
		Seq:     snap.Seq,
	}
	for i, l := range snap.Lists {
		state.Lists[i] = domain.ListSnapshot{List: l.List, Tasks: append([]domain.Task(nil), l.Tasks...)}
	}
	return state
}

func (s *BoardState) clone() BoardState {
	out := BoardState{Board: s.Board, Seq: s.Seq}
	out.Lists = make([]domain.ListSnapshot, len(s.Lists))
	for i, l := range s.Lists {
		out.Lists[i] = domain.ListSnapshot{List: l.List, Tasks: append([]domain.Task(nil), l.Tasks...)}
	}
	out.Members = append([]domain.Member(nil), s.Members...)
	return out
}

func (s *BoardState) listIndex(listID string) int {
	for i := range s.Lists {
		if s.Lists[i].ID == listID {
			return i
		}
	}
	return -1
}

// FindTask returns the task and its list id, or nil when absent.
func (s *BoardState) FindTask(taskID string) (*domain.Task, string) {
	for i := range s.Lists {
		for j := range s.Lists[i].Tasks {
			if s.Lists[i].Tasks[j].ID == taskID {
				return &s.Lists[i].Tasks[j], s.Lists[i].ID
			}
		}
	}
	return nil, ""
}

func (s *BoardState) sortLists() {
	lists := make([]domain.List, len(s.Lists))
	byID := make(map[string]domain.ListSnapshot, len(s.Lists))
	for i, l := range s.Lists {
		lists[i] = l.List
		byID[l.ID] = l
	}
	domain.SortSiblings(lists)
	for i, l := range lists {
		s.Lists[i] = byID[l.ID]
	}
}

func (s *BoardState) upsertList(list domain.List) {
	if i := s.listIndex(list.ID); i >= 0 {
		s.Lists[i].List = list
	} else {
		s.Lists = append(s.Lists, domain.ListSnapshot{List: list, Tasks: []domain.Task{}})
	}
	s.sortLists()
}

func (s *BoardState) removeList(listID string) {
	if i := s.listIndex(listID); i >= 0 {
		s.Lists = append(s.Lists[:i], s.Lists[i+1:]...)
	}
}

func (s *BoardState) removeTask(taskID string) {
	for i := range s.Lists {
		tasks := s.Lists[i].Tasks
		for j := range tasks {
			if tasks[j].ID == taskID {
				s.Lists[i].Tasks = append(tasks[:j], tasks[j+1:]...)
				return
			}
		}
	}
}

// upsertTask places the task in its list, removing any stale copy first so a
// move between lists never leaves a duplicate behind.
func (s *BoardState) upsertTask(task domain.Task) {
	s.removeTask(task.ID)
	i := s.listIndex(task.ListID)
	if i < 0 {
		// The parent list is unknown; a resync will restore consistency.
		return
	}
	s.Lists[i].Tasks = append(s.Lists[i].Tasks, task)
	domain.SortSiblings(s.Lists[i].Tasks)
}

func (s *BoardState) assign(taskID string, user domain.UserRef) {
	task, _ := s.FindTask(taskID)
	if task == nil {
		return
	}
	for _, a := range task.Assignees {
		if a.ID == user.ID {
			return
		}
	}
	task.Assignees = append(task.Assignees, user)
}

func (s *BoardState) unassign(taskID, userID string) {
	task, _ := s.FindTask(taskID)
	if task == nil {
		return
	}
	for i, a := range task.Assignees {
		if a.ID == userID {
			task.Assignees = append(task.Assignees[:i], task.Assignees[i+1:]...)
			return
		}
	}
}

func (s *BoardState) addMember(member domain.Member) {
	for i := range s.Members {
		if s.Members[i].UserID == member.UserID {
			s.Members[i] = member
			return
		}
	}
	s.Members = append(s.Members, member)
}
