package bodycache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shashiranjanraj/chanpage/internal/paging"
)

type fakeBodyWriter struct {
	bodies map[string][]byte
}

func newFakeBodyWriter() *fakeBodyWriter { return &fakeBodyWriter{bodies: make(map[string][]byte)} }

func (f *fakeBodyWriter) PutMessageBody(ctx context.Context, id string, body []byte) error {
	f.bodies[id] = body
	return nil
}

func TestStore_RegisterAndReference(t *testing.T) {
	durab := newFakeBodyWriter()
	s := NewStore(nil, 0, durab)

	ref := s.RegisterReference(paging.Message{ID: "m1", Body: []byte("hello")})
	require.NotNil(t, ref)
	assert.Equal(t, "m1", ref.MessageID)
	assert.Equal(t, paging.PagingOrderNone, ref.PagingOrder)

	got, ok := s.Reference("m1")
	assert.True(t, ok)
	assert.Same(t, ref, got)

	assert.Equal(t, []byte("hello"), durab.bodies["m1"])
}

func TestStore_ReleaseMemoryReferenceForgetsLocalHandle(t *testing.T) {
	s := NewStore(nil, 0, newFakeBodyWriter())
	ref := s.RegisterReference(paging.Message{ID: "m1", Body: []byte("x")})

	s.ReleaseMemoryReference(ref)

	_, ok := s.Reference("m1")
	assert.False(t, ok)
}

func TestStore_NilDurableWriterIsOptional(t *testing.T) {
	s := NewStore(nil, 0, nil)
	assert.NotPanics(t, func() {
		s.RegisterReference(paging.Message{ID: "m1", Body: []byte("x")})
	})
}

// TestStore_ReferenceFallsThroughOnRedisMiss exercises the read-back path
// in Reference: a local-map miss with an unreachable Redis client must
// degrade to (nil, false) rather than panic or hang, same as a nil client.
func TestStore_ReferenceFallsThroughOnRedisMiss(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
	})
	s := NewStore(rdb, time.Minute, newFakeBodyWriter())

	_, ok := s.Reference("never-registered")
	assert.False(t, ok)
}
