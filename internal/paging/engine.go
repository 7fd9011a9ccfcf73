package paging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shashiranjanraj/chanpage/pkg/collection"
	"github.com/shashiranjanraj/chanpage/pkg/event"
	"github.com/shashiranjanraj/chanpage/pkg/logger"
	"github.com/shashiranjanraj/chanpage/pkg/metrics"
)

// Config holds a channel's paging parameters and static attributes.
type Config struct {
	FullSize               int
	PageSize               int
	DownCacheSize          int
	AcceptReliableMessages bool
	Recoverable            bool
}

func (cfg Config) validate() error {
	if cfg.DownCacheSize <= 0 {
		return invariantf("paging params: downCacheSize(%d) must be > 0", cfg.DownCacheSize)
	}
	if cfg.DownCacheSize > cfg.PageSize {
		return invariantf("paging params: downCacheSize(%d) must be <= pageSize(%d)", cfg.DownCacheSize, cfg.PageSize)
	}
	if cfg.PageSize >= cfg.FullSize {
		return invariantf("paging params: pageSize(%d) must be < fullSize(%d)", cfg.PageSize, cfg.FullSize)
	}
	return nil
}

// Stats is a point-in-time snapshot of a channel's paging state, safe to
// read from any goroutine.
type Stats struct {
	MessageRefs      int
	DownCache        int
	Paging           bool
	FirstPagingOrder int64
	NextPagingOrder  int64
	Active           bool
}

// ChannelCore implements the public operations of §4.3: add, removeFirst,
// cancel, load, unload, configure, and the read-only inspectors, composed
// over an OrderedMultiset and a DownCache under a single-threaded
// Serializer.
type ChannelCore struct {
	id string

	serializer *Serializer
	ms         MessageStore
	pm         PersistenceManager

	// mu guards every field below. Mutating code holds it only for the
	// non-I/O bookkeeping; it is always released before a store call (§5).
	mu               sync.Mutex
	messageRefs      *OrderedMultiset
	downCache        *DownCache
	paging           bool
	firstPagingOrder int64
	nextPagingOrder  int64
	fullSize         int
	pageSize         int
	downCacheSize    int
	active           bool

	acceptReliableMessages bool
	recoverable            bool

	log *slog.Logger
}

// NewChannelCore creates an inactive channel. Call Load to bring it into
// service.
func NewChannelCore(id string, ms MessageStore, pm PersistenceManager, cfg Config) (*ChannelCore, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &ChannelCore{
		id:                     id,
		serializer:             NewSerializer(),
		ms:                     ms,
		pm:                     pm,
		messageRefs:            NewOrderedMultiset(),
		downCache:              NewDownCache(cfg.DownCacheSize),
		fullSize:               cfg.FullSize,
		pageSize:               cfg.PageSize,
		downCacheSize:          cfg.DownCacheSize,
		acceptReliableMessages: cfg.AcceptReliableMessages,
		recoverable:            cfg.Recoverable,
		log:                    logger.WithChannel(id),
	}, nil
}

// ID returns the channel identifier.
func (c *ChannelCore) ID() string { return c.id }

// Close releases the channel's serializer goroutine.
func (c *ChannelCore) Close() { c.serializer.Shutdown() }

// ─────────────────────────────────────────────
// Read-only inspectors — callable from any goroutine (§5).
// ─────────────────────────────────────────────

// MessageCount returns messageRefs.size() + the paged-store span + the
// down-cache size (§4.3; the down-cache term corrects the source's
// undercount).
func (c *ChannelCore) MessageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messageRefs.Size() + int(c.nextPagingOrder-c.firstPagingOrder) + c.downCache.Size()
}

// IsPaging reports whether the channel is currently in paging mode.
func (c *ChannelCore) IsPaging() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paging
}

// DownCacheCount returns the number of references currently buffered in
// the down-cache.
func (c *ChannelCore) DownCacheCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.downCache.Size()
}

// IsActive reports whether the channel has been loaded.
func (c *ChannelCore) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Stats returns a snapshot of every inspectable field at once.
func (c *ChannelCore) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		MessageRefs:      c.messageRefs.Size(),
		DownCache:        c.downCache.Size(),
		Paging:           c.paging,
		FirstPagingOrder: c.firstPagingOrder,
		NextPagingOrder:  c.nextPagingOrder,
		Active:           c.active,
	}
}

// ─────────────────────────────────────────────
// Public mutating operations — each runs on the channel's Serializer.
// ─────────────────────────────────────────────

// Add inserts a newly-received reference.
func (c *ChannelCore) Add(ctx context.Context, ref *MessageReference) error {
	_, err := c.serializer.Run(ctx, func() (any, error) { return nil, c.doAdd(ref) })
	return err
}

// RemoveFirst dequeues the head reference for delivery and triggers a
// refill check. The reference is returned even if the refill check itself
// fails with a StoreError — delivery already happened and must not be
// lost; callers should still inspect the error.
func (c *ChannelCore) RemoveFirst(ctx context.Context) (*MessageReference, error) {
	v, err := c.serializer.Run(ctx, func() (any, error) { return c.doRemoveFirst() })
	if v == nil {
		return nil, err
	}
	return v.(*MessageReference), err
}

// Cancel restores a previously-delivered reference to the head of its
// priority class.
func (c *ChannelCore) Cancel(ctx context.Context, ref *MessageReference) error {
	_, err := c.serializer.Run(ctx, func() (any, error) { return nil, c.doCancel(ref) })
	return err
}

// Load is the recovery boundary: callable only when !active.
func (c *ChannelCore) Load(ctx context.Context) error {
	_, err := c.serializer.Run(ctx, func() (any, error) { return nil, c.doLoad() })
	return err
}

// Unload clears in-memory state. Callable only when active, except that a
// repeated Unload on an already-inactive channel is a no-op (see
// SPEC_FULL.md's supplemented features).
func (c *ChannelCore) Unload(ctx context.Context) error {
	_, err := c.serializer.Run(ctx, func() (any, error) { return nil, c.doUnload() })
	return err
}

// Configure sets the paging parameters. Callable only when !active.
func (c *ChannelCore) Configure(ctx context.Context, full, page, down int) error {
	_, err := c.serializer.Run(ctx, func() (any, error) { return nil, c.doConfigure(full, page, down) })
	return err
}

// ─────────────────────────────────────────────
// Internals — run exclusively inside the Serializer's single goroutine.
// ─────────────────────────────────────────────

func (c *ChannelCore) doAdd(ref *MessageReference) error {
	c.mu.Lock()
	paging := c.paging
	c.mu.Unlock()

	if paging {
		if ref.Reliable && !c.acceptReliableMessages {
			return invariantf("channel %s does not accept reliable messages while paging", c.id)
		}
		return c.addToDownCache(ref, false)
	}

	c.mu.Lock()
	c.messageRefs.AddLast(ref, ref.Priority)
	enteredPaging := c.messageRefs.Size() == c.fullSize
	if enteredPaging {
		c.paging = true
	}
	c.mu.Unlock()

	c.refreshMetrics()
	if enteredPaging {
		c.logTransition("flowing_to_paging", "fullSize reached on add")
	}
	return nil
}

func (c *ChannelCore) doRemoveFirst() (*MessageReference, error) {
	c.mu.Lock()
	ref, ok := c.messageRefs.RemoveFirst()
	c.mu.Unlock()
	if !ok {
		return nil, nil
	}
	c.refreshMetrics()

	if _, err := c.checkLoad(); err != nil {
		return ref, err
	}
	return ref, nil
}

func (c *ChannelCore) doCancel(ref *MessageReference) error {
	c.mu.Lock()
	c.messageRefs.AddFirst(ref, ref.Priority)
	overfull := c.paging && c.messageRefs.Size() == c.fullSize+1
	var evicted *MessageReference
	if overfull {
		evicted, _ = c.messageRefs.RemoveLast()
	}
	c.mu.Unlock()

	if evicted != nil {
		if err := c.addToDownCache(evicted, true); err != nil {
			return err
		}
		metrics.CancelsToFrontTotal.WithLabelValues(c.id).Inc()
	}
	c.refreshMetrics()
	return nil
}

// addToDownCache assigns ref a pagingOrder and buffers it (§4.3). When
// cancelling, the order is taken below firstPagingOrder so the evicted
// reference logically re-enters at the front of the paged segment.
func (c *ChannelCore) addToDownCache(ref *MessageReference, cancelling bool) error {
	c.mu.Lock()
	if cancelling {
		c.firstPagingOrder--
		ref.PagingOrder = c.firstPagingOrder
	} else {
		ref.PagingOrder = c.nextPagingOrder
		c.nextPagingOrder++
	}
	c.downCache.Add(ref)
	full := c.downCache.Full()
	c.mu.Unlock()

	c.refreshMetrics()
	if full {
		return c.flushDownCache()
	}
	return nil
}

// flushDownCache atomically persists the buffered batch. The body is only
// released after both store calls succeed (§4.3 step 3) — a crash between
// the store write and the release is safe because the rows already exist.
func (c *ChannelCore) flushDownCache() error {
	c.mu.Lock()
	drained := c.downCache.Drain()
	c.mu.Unlock()

	if len(drained) == 0 {
		return nil
	}

	toUpdate := collection.Filter(drained, func(r *MessageReference) bool { return r.Reliable && c.recoverable })
	toAdd := collection.Filter(drained, func(r *MessageReference) bool { return !(r.Reliable && c.recoverable) })

	ctx := context.Background()

	if len(toAdd) > 0 {
		if err := c.pm.PageReferences(ctx, c.id, toAdd, true); err != nil {
			c.restoreDownCache(drained)
			metrics.FlushesTotal.WithLabelValues(c.id, "store_error").Inc()
			return storeErr("pageReferences", err)
		}
	}
	if len(toUpdate) > 0 {
		if err := c.pm.UpdatePageOrder(ctx, c.id, toUpdate); err != nil {
			c.restoreDownCache(drained)
			metrics.FlushesTotal.WithLabelValues(c.id, "store_error").Inc()
			return storeErr("updatePageOrder", err)
		}
	}

	for _, r := range drained {
		c.ms.ReleaseMemoryReference(r)
	}

	metrics.FlushesTotal.WithLabelValues(c.id, "ok").Inc()
	c.refreshMetrics()
	event.Fire("paging.flush", map[string]any{"channel": c.id, "count": len(drained)})
	c.log.Debug("down-cache flushed", "count", len(drained))
	return nil
}

// restoreDownCache puts refs back after a failed flush, so the next flush
// attempt retries them (§7).
func (c *ChannelCore) restoreDownCache(refs []*MessageReference) {
	c.mu.Lock()
	for _, r := range refs {
		c.downCache.Add(r)
	}
	c.mu.Unlock()
}

// checkLoad is the conditional refill described in §4.3.
func (c *ChannelCore) checkLoad() (bool, error) {
	c.mu.Lock()
	refNum := c.nextPagingOrder - c.firstPagingOrder
	if refNum == 0 {
		wasPaging := c.paging
		c.paging = false
		c.mu.Unlock()
		if wasPaging {
			c.refreshMetrics()
			c.logTransition("paging_to_flowing", "paged segment drained")
		}
		return false, nil
	}

	numberLoadable := refNum
	if int64(c.pageSize) < numberLoadable {
		numberLoadable = int64(c.pageSize)
	}
	size := c.messageRefs.Size()
	threshold := c.fullSize - int(numberLoadable)
	c.mu.Unlock()

	if size > threshold {
		return false, nil
	}

	if err := c.loadPagedReferences(int(numberLoadable)); err != nil {
		metrics.LoadsTotal.WithLabelValues(c.id, "store_error").Inc()
		return false, err
	}
	metrics.LoadsTotal.WithLabelValues(c.id, "ok").Inc()
	return true, nil
}

// loadPagedReferences brings n paged references back into memory (§4.3).
func (c *ChannelCore) loadPagedReferences(n int) error {
	if err := c.flushDownCache(); err != nil {
		return err
	}

	c.mu.Lock()
	first := c.firstPagingOrder
	c.mu.Unlock()

	ctx := context.Background()
	infos, err := c.pm.GetPagedReferenceInfos(ctx, c.id, first, n)
	if err != nil {
		return storeErr("getPagedReferenceInfos", err)
	}

	if _, err := c.materializeAndInsert(infos); err != nil {
		return err
	}

	toRemove := collection.Filter(infos, func(info ReferenceInfo) bool {
		return !(info.Reliable && c.recoverable)
	})
	reliableRecoverableCount := n - len(toRemove)

	if len(toRemove) > 0 {
		if err := c.pm.RemoveDepagedReferences(ctx, c.id, toRemove); err != nil {
			return storeErr("removeDepagedReferences", err)
		}
	}

	if reliableRecoverableCount > 0 {
		if err := c.pm.UpdateReliableReferencesNotPagedInRange(ctx, c.id, first, first+int64(n)-1, reliableRecoverableCount); err != nil {
			return storeErr("updateReliableReferencesNotPagedInRange", err)
		}
	}

	c.mu.Lock()
	c.firstPagingOrder += int64(n)
	if c.firstPagingOrder == c.nextPagingOrder {
		c.firstPagingOrder = 0
		c.nextPagingOrder = 0
		if c.messageRefs.Size() != c.fullSize {
			c.paging = false
		}
	}
	c.mu.Unlock()

	c.refreshMetrics()
	event.Fire("paging.load", map[string]any{"channel": c.id, "count": n})
	c.log.Debug("paged references loaded", "count", n)
	return nil
}

// materializeAndInsert resolves each info's body via the MessageStore
// (batch-loading any missing bodies from the PersistenceManager) and
// inserts the resulting references into messageRefs, in order. Used by
// both Load's prefix materialization and loadPagedReferences.
func (c *ChannelCore) materializeAndInsert(infos []ReferenceInfo) ([]*MessageReference, error) {
	if len(infos) == 0 {
		return nil, nil
	}

	refs := make([]*MessageReference, len(infos))

	var (
		lookupMu   sync.Mutex
		missingIDs []string
		missingIdx []int
	)

	// MessageStore is documented thread-safe (§5), so fan the lookups out;
	// the batch-load fallback below still runs sequentially.
	var eg errgroup.Group
	eg.SetLimit(8)
	for i, info := range infos {
		i, info := i, info
		eg.Go(func() error {
			if ref, ok := c.ms.Reference(info.MessageID); ok {
				refs[i] = ref
				return nil
			}
			lookupMu.Lock()
			missingIDs = append(missingIDs, info.MessageID)
			missingIdx = append(missingIdx, i)
			lookupMu.Unlock()
			return nil
		})
	}
	_ = eg.Wait() // lookups are non-fallible; reserved for future stores that can error

	if len(missingIDs) > 0 {
		msgs, err := c.pm.GetMessages(context.Background(), missingIDs)
		if err != nil {
			return nil, storeErr("getMessages", err)
		}
		if len(msgs) != len(missingIDs) {
			return nil, invariantf("getMessages returned %d messages for %d requested ids", len(msgs), len(missingIDs))
		}
		for k, msg := range msgs {
			refs[missingIdx[k]] = c.ms.RegisterReference(msg)
		}
	}

	c.mu.Lock()
	for i, info := range infos {
		ref := refs[i]
		ref.DeliveryCount = info.DeliveryCount
		ref.Reliable = info.Reliable
		ref.Priority = info.Priority
		ref.PagingOrder = PagingOrderNone
		c.messageRefs.AddLast(ref, ref.Priority)
	}
	c.mu.Unlock()

	return refs, nil
}

func (c *ChannelCore) doLoad() error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return fmt.Errorf("%w: load called on an active channel %s", ErrIllegalState, c.id)
	}
	c.resetStateLocked()
	c.mu.Unlock()

	ctx := context.Background()
	initial, err := c.pm.GetInitialReferenceInfos(ctx, c.id, c.fullSize)
	if err != nil {
		return storeErr("getInitialReferenceInfos", err)
	}

	c.mu.Lock()
	if initial.MaxPageOrder != nil {
		c.firstPagingOrder = *initial.MinPageOrder
		c.nextPagingOrder = *initial.MaxPageOrder + 1
		c.paging = true
	}
	c.mu.Unlock()

	if _, err := c.materializeAndInsert(initial.Infos); err != nil {
		return err
	}

	for {
		more, err := c.checkLoad()
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}

	c.mu.Lock()
	c.active = true
	c.mu.Unlock()

	c.refreshMetrics()
	event.Fire("paging.load", map[string]any{"channel": c.id, "boundary": "load"})
	c.log.Info("channel loaded", "messageRefs", c.messageRefs.Size(), "paging", c.IsPaging())
	return nil
}

func (c *ChannelCore) doUnload() error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return nil
	}
	c.resetStateLocked()
	c.active = false
	c.mu.Unlock()

	c.refreshMetrics()
	event.Fire("paging.load", map[string]any{"channel": c.id, "boundary": "unload"})
	c.log.Info("channel unloaded")
	return nil
}

func (c *ChannelCore) doConfigure(full, page, down int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return fmt.Errorf("%w: cannot configure an active channel %s", ErrIllegalState, c.id)
	}
	cfg := Config{FullSize: full, PageSize: page, DownCacheSize: down}
	if err := cfg.validate(); err != nil {
		return err
	}
	c.fullSize = full
	c.pageSize = page
	c.downCacheSize = down
	c.downCache = NewDownCache(down)
	return nil
}

// resetStateLocked clears the in-memory state. Caller must hold c.mu.
func (c *ChannelCore) resetStateLocked() {
	c.messageRefs.Clear()
	c.downCache.Clear()
	c.paging = false
	c.firstPagingOrder = 0
	c.nextPagingOrder = 0
}

func (c *ChannelCore) refreshMetrics() {
	s := c.Stats()
	metrics.MessageRefs.WithLabelValues(c.id).Set(float64(s.MessageRefs))
	metrics.DownCacheSize.WithLabelValues(c.id).Set(float64(s.DownCache))
	metrics.PagingOrderSpan.WithLabelValues(c.id).Set(float64(s.NextPagingOrder - s.FirstPagingOrder))
	if s.Paging {
		metrics.Paging.WithLabelValues(c.id).Set(1)
	} else {
		metrics.Paging.WithLabelValues(c.id).Set(0)
	}
}

func (c *ChannelCore) logTransition(name, reason string) {
	c.log.Info("mode transition", "transition", name, "reason", reason)
	event.Fire("paging.mode", map[string]any{"channel": c.id, "transition": name})
}
