package paging

import "container/list"

// OrderedMultiset is an in-memory priority-ordered container of message
// references with stable insertion order within a priority.
//
// Priority ordering: higher Priority values are delivered first. Within a
// priority, insertion order is preserved (FIFO), except for references
// re-inserted at the head by Cancel's AddFirst.
//
// No store interaction; this is a pure in-memory structure.
type OrderedMultiset struct {
	buckets  map[int8]*list.List
	priority []int8 // active priorities, ascending
	size     int
}

// NewOrderedMultiset returns an empty multiset.
func NewOrderedMultiset() *OrderedMultiset {
	return &OrderedMultiset{buckets: make(map[int8]*list.List)}
}

// AddLast inserts ref at the tail of its priority class.
func (m *OrderedMultiset) AddLast(ref *MessageReference, priority int8) {
	m.bucket(priority).PushBack(ref)
	m.size++
}

// AddFirst inserts ref at the head of its priority class. Used by the
// cancel path to restore a redelivered reference ahead of everything else
// of equal priority.
func (m *OrderedMultiset) AddFirst(ref *MessageReference, priority int8) {
	m.bucket(priority).PushFront(ref)
	m.size++
}

// RemoveFirst returns the highest-priority, oldest-inserted reference, or
// (nil, false) if the multiset is empty.
func (m *OrderedMultiset) RemoveFirst() (*MessageReference, bool) {
	if len(m.priority) == 0 {
		return nil, false
	}
	top := m.priority[len(m.priority)-1]
	l := m.buckets[top]
	el := l.Front()
	ref := l.Remove(el).(*MessageReference)
	m.size--
	if l.Len() == 0 {
		m.dropBucket(top)
	}
	return ref, true
}

// RemoveLast returns the lowest-priority, newest-inserted reference (the
// inverse of RemoveFirst), or (nil, false) if the multiset is empty.
func (m *OrderedMultiset) RemoveLast() (*MessageReference, bool) {
	if len(m.priority) == 0 {
		return nil, false
	}
	bottom := m.priority[0]
	l := m.buckets[bottom]
	el := l.Back()
	ref := l.Remove(el).(*MessageReference)
	m.size--
	if l.Len() == 0 {
		m.dropBucket(bottom)
	}
	return ref, true
}

// Size returns the number of references currently held.
func (m *OrderedMultiset) Size() int { return m.size }

// Clear removes every reference.
func (m *OrderedMultiset) Clear() {
	m.buckets = make(map[int8]*list.List)
	m.priority = nil
	m.size = 0
}

func (m *OrderedMultiset) bucket(priority int8) *list.List {
	l, ok := m.buckets[priority]
	if ok {
		return l
	}
	l = list.New()
	m.buckets[priority] = l
	m.insertPriority(priority)
	return l
}

func (m *OrderedMultiset) insertPriority(priority int8) {
	// m.priority stays sorted ascending; linear scan is fine since the
	// number of distinct priorities in practice is small (broker priority
	// levels are single digits).
	i := 0
	for ; i < len(m.priority); i++ {
		if m.priority[i] == priority {
			return
		}
		if m.priority[i] > priority {
			break
		}
	}
	m.priority = append(m.priority, 0)
	copy(m.priority[i+1:], m.priority[i:])
	m.priority[i] = priority
}

func (m *OrderedMultiset) dropBucket(priority int8) {
	delete(m.buckets, priority)
	for i, p := range m.priority {
		if p == priority {
			m.priority = append(m.priority[:i], m.priority[i+1:]...)
			return
		}
	}
}
