package domain

import "sort"

// Positioned is implemented by entities ordered among siblings sharing the
// same parent. Ties on position are broken by id so the order stays total.
type Positioned interface {
	OrderKey() (position float64, id string)
}

// OrderKey returns the sibling ordering key of a list.
func (l List) OrderKey() (float64, string) { return l.Position, l.ID }

// OrderKey returns the sibling ordering key of a task.
func (t Task) OrderKey() (float64, string) { return t.Position, t.ID }

// SortSiblings orders siblings by (position ascending, id ascending)
// regardless of physical storage order.
func SortSiblings[T Positioned](siblings []T) {
	sort.SliceStable(siblings, func(i, j int) bool {
		pi, idi := siblings[i].OrderKey()
		pj, idj := siblings[j].OrderKey()
		if pi != pj {
			return pi < pj
		}
		return idi < idj
	})
}

// NextPosition returns the append-to-tail position for a new sibling:
// one past the maximum existing position, or 1 for an empty parent.
func NextPosition[T Positioned](siblings []T) float64 {
	max := 0.0
	for _, s := range siblings {
		p, _ := s.OrderKey()
		if p > max {
			max = p
		}
	}
	return max + 1
}

// PositionAt computes the position value that places an entity at index among
// siblings. The siblings must be in canonical order and must not contain the
// entity being placed, otherwise repeating the same move would keep shifting
// the result. Between two neighbours the midpoint is used; the boundaries are
// open-ended. Positions densify without bound under repeated inserts at the
// same spot; no compaction pass runs.
func PositionAt[T Positioned](siblings []T, index int) float64 {
	if len(siblings) == 0 {
		return 1
	}
	if index <= 0 {
		first, _ := siblings[0].OrderKey()
		return first - 1
	}
	if index >= len(siblings) {
		last, _ := siblings[len(siblings)-1].OrderKey()
		return last + 1
	}
	before, _ := siblings[index-1].OrderKey()
	after, _ := siblings[index].OrderKey()
	return (before + after) / 2
}

// WithoutID returns siblings with the entity carrying id removed. Used to
// build the destination sibling snapshot for a reorder of an existing entity.
func WithoutID[T Positioned](siblings []T, id string) []T {
	out := make([]T, 0, len(siblings))
	for _, s := range siblings {
		if _, sid := s.OrderKey(); sid == id {
			continue
		}
		out = append(out, s)
	}
	return out
}
