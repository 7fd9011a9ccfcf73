package gormstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/shashiranjanraj/chanpage/internal/paging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	s, err := NewStore(db)
	require.NoError(t, err)
	return s
}

func TestStore_PageAndReloadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutMessageBody(ctx, "m1", []byte("body-1")))

	ref := &paging.MessageReference{MessageID: "m1", Priority: 3, Reliable: true, PagingOrder: 0}
	require.NoError(t, s.PageReferences(ctx, "chan-1", []*paging.MessageReference{ref}, true))

	infos, err := s.GetPagedReferenceInfos(ctx, "chan-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "m1", infos[0].MessageID)
	assert.Equal(t, int8(3), infos[0].Priority)
	require.NotNil(t, infos[0].PagingOrder)
	assert.Equal(t, int64(0), *infos[0].PagingOrder)

	msgs, err := s.GetMessages(ctx, []string{"m1"})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("body-1"), msgs[0].Body)
}

func TestStore_GetInitialReferenceInfosSplitsUnpagedFromRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	unpaged := &paging.MessageReference{MessageID: "u1", PagingOrder: paging.PagingOrderNone}
	require.NoError(t, s.PageReferences(ctx, "chan-2", []*paging.MessageReference{unpaged}, false))

	paged := &paging.MessageReference{MessageID: "p1", PagingOrder: 5}
	require.NoError(t, s.PageReferences(ctx, "chan-2", []*paging.MessageReference{paged}, true))

	out, err := s.GetInitialReferenceInfos(ctx, "chan-2", 100)
	require.NoError(t, err)
	require.Len(t, out.Infos, 1)
	assert.Equal(t, "u1", out.Infos[0].MessageID)
	require.NotNil(t, out.MinPageOrder)
	require.NotNil(t, out.MaxPageOrder)
	assert.Equal(t, int64(5), *out.MinPageOrder)
	assert.Equal(t, int64(5), *out.MaxPageOrder)
}

func TestStore_UpdateReliableReferencesNotPagedInRange_CountMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ref := &paging.MessageReference{MessageID: "r1", Reliable: true, PagingOrder: 0}
	require.NoError(t, s.PageReferences(ctx, "chan-3", []*paging.MessageReference{ref}, true))

	err := s.UpdateReliableReferencesNotPagedInRange(ctx, "chan-3", 0, 0, 2)
	assert.ErrorIs(t, err, paging.ErrStoreCountMismatch)
}

func TestStore_RemoveDepagedReferences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ref := &paging.MessageReference{MessageID: "d1", PagingOrder: 0}
	require.NoError(t, s.PageReferences(ctx, "chan-4", []*paging.MessageReference{ref}, true))

	require.NoError(t, s.RemoveDepagedReferences(ctx, "chan-4", []paging.ReferenceInfo{{MessageID: "d1"}}))

	infos, err := s.GetPagedReferenceInfos(ctx, "chan-4", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, infos)
}
