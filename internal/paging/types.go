// Package paging implements the paging channel core: a bounded in-memory
// ordered multiset of message references that spills to a persistent store
// once it fills, and reloads from the store as consumers drain it. See
// SPEC_FULL.md for the full contract.
package paging

import (
	"context"
	"errors"
	"fmt"
)

// PagingOrderNone is the sentinel value of MessageReference.PagingOrder
// meaning "not currently paged."
const PagingOrderNone int64 = -1

// MessageReference is a per-channel handle to a message body.
//
// References are shared with the MessageStore: the store owns the body,
// the channel owns the per-channel delivery attributes below.
type MessageReference struct {
	MessageID     string
	Priority      int8
	DeliveryCount int
	Reliable      bool
	PagingOrder   int64
}

// NewReference constructs a fresh, unpaged reference for a newly-registered
// message body. MessageStore implementations use this to build the value
// they hand back from RegisterReference.
func NewReference(messageID string, priority int8, reliable bool) *MessageReference {
	return &MessageReference{
		MessageID:   messageID,
		Priority:    priority,
		Reliable:    reliable,
		PagingOrder: PagingOrderNone,
	}
}

// ReferenceInfo is the compact store row for a reference.
type ReferenceInfo struct {
	MessageID     string
	Priority      int8
	DeliveryCount int
	Reliable      bool
	// PagingOrder is nil for an unpaged row.
	PagingOrder *int64
}

// InitialLoadInfo is the result of loading a channel's unpaged prefix.
type InitialLoadInfo struct {
	Infos []ReferenceInfo
	// MinPageOrder/MaxPageOrder are non-nil together, and only when the
	// store holds paged rows for this channel.
	MinPageOrder *int64
	MaxPageOrder *int64
}

// Message is the minimal shape of a message body needed to register a new
// MessageStore reference. The body store itself is out of scope (§1).
type Message struct {
	ID   string
	Body []byte
}

// MessageStore deduplicates message bodies and hands out reference handles.
// It is an external collaborator (§6); this is its contract.
type MessageStore interface {
	// Reference returns an existing reference for msgID if the body is
	// already known to the store, or (nil, false) otherwise.
	Reference(msgID string) (*MessageReference, bool)
	// RegisterReference registers a newly-loaded message body and returns
	// a fresh reference to it.
	RegisterReference(msg Message) *MessageReference
	// ReleaseMemoryReference signals the store that the channel no longer
	// needs ref's body held in memory on its behalf.
	ReleaseMemoryReference(ref *MessageReference)
}

// PersistenceManager is the durable store for references (§6).
type PersistenceManager interface {
	GetInitialReferenceInfos(ctx context.Context, channelID string, limit int) (InitialLoadInfo, error)
	GetPagedReferenceInfos(ctx context.Context, channelID string, fromPageOrder int64, count int) ([]ReferenceInfo, error)
	GetMessages(ctx context.Context, ids []string) ([]Message, error)
	PageReferences(ctx context.Context, channelID string, refs []*MessageReference, paged bool) error
	UpdatePageOrder(ctx context.Context, channelID string, refs []*MessageReference) error
	RemoveDepagedReferences(ctx context.Context, channelID string, infos []ReferenceInfo) error
	// UpdateReliableReferencesNotPagedInRange clears the page-order column
	// for reliable rows in [fromInclusive, toInclusive]. expectedCount is a
	// sanity check: the caller fails the operation (without advancing
	// firstPagingOrder) if the store reports a different count.
	UpdateReliableReferencesNotPagedInRange(ctx context.Context, channelID string, fromInclusive, toInclusive int64, expectedCount int) error
}

// ErrInvariantViolation marks a fatal-to-the-operation sanity-check
// failure: bad configuration, a load-count mismatch, or a reliable
// reference submitted to a channel that does not accept them.
var ErrInvariantViolation = errors.New("paging: invariant violation")

// ErrIllegalState marks an operation invoked while the channel was in the
// wrong lifecycle state (e.g. Configure while active).
var ErrIllegalState = errors.New("paging: illegal state")

// ErrStoreCountMismatch is returned (wrapped in *StoreError) when
// UpdateReliableReferencesNotPagedInRange's expectedCount sanity check
// fails. firstPagingOrder is not advanced when this fires.
var ErrStoreCountMismatch = errors.New("paging: store row count did not match expected count")

// StoreError wraps a failure from the PersistenceManager or MessageStore
// with the operation that produced it. Store errors are not retried
// inside the core (§7): they fail the calling operation and leave the
// channel's in-memory invariants intact.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("paging: store error during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

func invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvariantViolation}, args...)...)
}
