package paging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ref(id string) *MessageReference {
	return &MessageReference{MessageID: id, PagingOrder: PagingOrderNone}
}

func TestOrderedMultiset_FIFOWithinPriority(t *testing.T) {
	m := NewOrderedMultiset()
	m.AddLast(ref("a"), 0)
	m.AddLast(ref("b"), 0)
	m.AddLast(ref("c"), 0)

	assert.Equal(t, 3, m.Size())

	got, ok := m.RemoveFirst()
	assert.True(t, ok)
	assert.Equal(t, "a", got.MessageID)

	got, ok = m.RemoveFirst()
	assert.True(t, ok)
	assert.Equal(t, "b", got.MessageID)
}

func TestOrderedMultiset_HigherPriorityFirst(t *testing.T) {
	m := NewOrderedMultiset()
	m.AddLast(ref("low"), 0)
	m.AddLast(ref("high"), 5)
	m.AddLast(ref("mid"), 2)

	got, ok := m.RemoveFirst()
	assert.True(t, ok)
	assert.Equal(t, "high", got.MessageID)

	got, ok = m.RemoveFirst()
	assert.True(t, ok)
	assert.Equal(t, "mid", got.MessageID)

	got, ok = m.RemoveFirst()
	assert.True(t, ok)
	assert.Equal(t, "low", got.MessageID)
}

func TestOrderedMultiset_AddFirstTakesPriorityOverEqualPriorityTail(t *testing.T) {
	m := NewOrderedMultiset()
	m.AddLast(ref("delivered-earlier"), 0)
	m.AddFirst(ref("cancelled"), 0)

	got, ok := m.RemoveFirst()
	assert.True(t, ok)
	assert.Equal(t, "cancelled", got.MessageID)
}

func TestOrderedMultiset_RemoveLastIsLowestPriorityNewestInsert(t *testing.T) {
	m := NewOrderedMultiset()
	m.AddLast(ref("low-1"), 0)
	m.AddLast(ref("low-2"), 0)
	m.AddLast(ref("high"), 5)

	got, ok := m.RemoveLast()
	assert.True(t, ok)
	assert.Equal(t, "low-2", got.MessageID)
	assert.Equal(t, 2, m.Size())
}

func TestOrderedMultiset_EmptyReturnsFalse(t *testing.T) {
	m := NewOrderedMultiset()
	_, ok := m.RemoveFirst()
	assert.False(t, ok)
	_, ok = m.RemoveLast()
	assert.False(t, ok)
}

func TestOrderedMultiset_Clear(t *testing.T) {
	m := NewOrderedMultiset()
	m.AddLast(ref("a"), 0)
	m.AddLast(ref("b"), 1)
	m.Clear()
	assert.Equal(t, 0, m.Size())
	_, ok := m.RemoveFirst()
	assert.False(t, ok)
}

func TestOrderedMultiset_BucketDroppedWhenEmptied(t *testing.T) {
	m := NewOrderedMultiset()
	m.AddLast(ref("only"), 3)
	m.RemoveFirst()
	// Re-inserting at the same priority must not resurrect stale ordering
	// state from the dropped bucket.
	m.AddLast(ref("again"), 3)
	got, ok := m.RemoveFirst()
	assert.True(t, ok)
	assert.Equal(t, "again", got.MessageID)
}
