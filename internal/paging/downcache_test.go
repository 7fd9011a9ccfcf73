package paging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDownCache_AddAndDrainPreservesOrder(t *testing.T) {
	d := NewDownCache(3)
	d.Add(ref("a"))
	d.Add(ref("b"))

	assert.Equal(t, 2, d.Size())
	assert.False(t, d.Full())

	drained := d.Drain()
	assert.Equal(t, []string{"a", "b"}, []string{drained[0].MessageID, drained[1].MessageID})
	assert.Equal(t, 0, d.Size())
}

func TestDownCache_Full(t *testing.T) {
	d := NewDownCache(2)
	d.Add(ref("a"))
	assert.False(t, d.Full())
	d.Add(ref("b"))
	assert.True(t, d.Full())
}

func TestDownCache_ClearDiscardsContents(t *testing.T) {
	d := NewDownCache(2)
	d.Add(ref("a"))
	d.Clear()
	assert.Equal(t, 0, d.Size())
	assert.Empty(t, d.Drain())
}
