package voting

import "sort"

// Matcher pairs merge candidates of equal level within a single reap pass.
// A Matcher holds at most one pending item per level and is not safe for
// concurrent use; build a fresh one for every pass.
type Matcher[T any] struct {
	pending map[int]T
}

// NewMatcher returns an empty matcher.
func NewMatcher[T any]() *Matcher[T] {
	return &Matcher[T]{pending: make(map[int]T)}
}

// Register offers item at level. When another item is already waiting at the
// same level it is removed from the matcher and returned with ok set to true;
// otherwise item becomes the pending entry for level.
func (m *Matcher[T]) Register(level int, item T) (partner T, ok bool) {
	if m.pending == nil {
		m.pending = make(map[int]T)
	}
	if waiting, found := m.pending[level]; found {
		delete(m.pending, level)
		return waiting, true
	}
	m.pending[level] = item
	return partner, false
}

// Pending reports how many items are still waiting for a partner.
func (m *Matcher[T]) Pending() int {
	return len(m.pending)
}

// Drain returns every unmatched item ordered by ascending level and resets
// the matcher.
func (m *Matcher[T]) Drain() []T {
	if len(m.pending) == 0 {
		return nil
	}
	levels := make([]int, 0, len(m.pending))
	for level := range m.pending {
		levels = append(levels, level)
	}
	sort.Ints(levels)

	out := make([]T, 0, len(levels))
	for _, level := range levels {
		out = append(out, m.pending[level])
	}
	m.pending = make(map[int]T)
	return out
}
