package paging

import (
	"context"
	"sort"
	"sync"
)

// fakeMessageStore is a minimal in-memory MessageStore used by the engine
// tests. Safe for concurrent use, matching the real contract's requirement.
type fakeMessageStore struct {
	mu   sync.Mutex
	refs map[string]*MessageReference
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{refs: make(map[string]*MessageReference)}
}

func (s *fakeMessageStore) Reference(msgID string) (*MessageReference, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.refs[msgID]
	return r, ok
}

func (s *fakeMessageStore) RegisterReference(msg Message) *MessageReference {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := NewReference(msg.ID, 0, false)
	s.refs[msg.ID] = r
	return r
}

func (s *fakeMessageStore) ReleaseMemoryReference(ref *MessageReference) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refs, ref.MessageID)
}

// fakeRow is one persisted reference row for one channel.
type fakeRow struct {
	info        ReferenceInfo
	pagingOrder *int64
}

// fakePersistenceManager is an in-memory PersistenceManager for one or more
// channels, good enough to exercise every load/page/flush code path without
// a real database.
type fakePersistenceManager struct {
	mu       sync.Mutex
	rows     map[string][]*fakeRow // channelID -> rows
	bodies   map[string][]byte
	failNext map[string]error // op -> error to return once
}

func newFakePersistenceManager() *fakePersistenceManager {
	return &fakePersistenceManager{
		rows:     make(map[string][]*fakeRow),
		bodies:   make(map[string][]byte),
		failNext: make(map[string]error),
	}
}

func (p *fakePersistenceManager) setFailNext(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext[op] = err
}

func (p *fakePersistenceManager) takeFailure(op string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.failNext[op]
	delete(p.failNext, op)
	return err
}

// seedPaged adds n already-paged rows for channelID, reliable or not as
// given, with page orders startOrder..startOrder+n-1, and registers a body
// for each. The recoverable argument is ignored.
func (p *fakePersistenceManager) seedPaged(channelID string, startOrder int64, n int, reliable, recoverable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < n; i++ {
		order := startOrder + int64(i)
		id := channelID + "-paged-" + itoa(order)
		p.bodies[id] = []byte("body-" + id)
		row := &fakeRow{
			info: ReferenceInfo{
				MessageID: id,
				Priority:  0,
				Reliable:  reliable,
			},
			pagingOrder: new(int64),
		}
		*row.pagingOrder = order
		row.info.PagingOrder = row.pagingOrder
		p.rows[channelID] = append(p.rows[channelID], row)
	}
	_ = recoverable
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (p *fakePersistenceManager) GetInitialReferenceInfos(ctx context.Context, channelID string, limit int) (InitialLoadInfo, error) {
	if err := p.takeFailure("getInitialReferenceInfos"); err != nil {
		return InitialLoadInfo{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var out InitialLoadInfo
	var min, max int64
	haveRange := false

	for _, r := range p.rows[channelID] {
		if r.pagingOrder == nil {
			if len(out.Infos) < limit {
				out.Infos = append(out.Infos, r.info)
			}
			continue
		}
		if !haveRange || *r.pagingOrder < min {
			min = *r.pagingOrder
		}
		if !haveRange || *r.pagingOrder > max {
			max = *r.pagingOrder
		}
		haveRange = true
	}
	if haveRange {
		out.MinPageOrder = &min
		out.MaxPageOrder = &max
	}
	return out, nil
}

func (p *fakePersistenceManager) GetPagedReferenceInfos(ctx context.Context, channelID string, fromPageOrder int64, count int) ([]ReferenceInfo, error) {
	if err := p.takeFailure("getPagedReferenceInfos"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var matches []*fakeRow
	for _, r := range p.rows[channelID] {
		if r.pagingOrder != nil && *r.pagingOrder >= fromPageOrder {
			matches = append(matches, r)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return *matches[i].pagingOrder < *matches[j].pagingOrder })
	if len(matches) > count {
		matches = matches[:count]
	}
	out := make([]ReferenceInfo, len(matches))
	for i, r := range matches {
		out[i] = r.info
	}
	return out, nil
}

func (p *fakePersistenceManager) GetMessages(ctx context.Context, ids []string) ([]Message, error) {
	if err := p.takeFailure("getMessages"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(ids))
	for i, id := range ids {
		out[i] = Message{ID: id, Body: p.bodies[id]}
	}
	return out, nil
}

func (p *fakePersistenceManager) PageReferences(ctx context.Context, channelID string, refs []*MessageReference, paged bool) error {
	if err := p.takeFailure("pageReferences"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ref := range refs {
		order := ref.PagingOrder
		p.bodies[ref.MessageID] = []byte("body-" + ref.MessageID)
		row := &fakeRow{
			info: ReferenceInfo{
				MessageID:     ref.MessageID,
				Priority:      ref.Priority,
				DeliveryCount: ref.DeliveryCount,
				Reliable:      ref.Reliable,
			},
		}
		if paged {
			o := order
			row.pagingOrder = &o
			row.info.PagingOrder = &o
		}
		p.rows[channelID] = append(p.rows[channelID], row)
	}
	return nil
}

func (p *fakePersistenceManager) UpdatePageOrder(ctx context.Context, channelID string, refs []*MessageReference) error {
	if err := p.takeFailure("updatePageOrder"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ref := range refs {
		found := false
		for _, r := range p.rows[channelID] {
			if r.info.MessageID == ref.MessageID {
				o := ref.PagingOrder
				r.pagingOrder = &o
				r.info.PagingOrder = &o
				found = true
				break
			}
		}
		if !found {
			o := ref.PagingOrder
			p.rows[channelID] = append(p.rows[channelID], &fakeRow{
				info: ReferenceInfo{
					MessageID: ref.MessageID, Priority: ref.Priority,
					DeliveryCount: ref.DeliveryCount, Reliable: ref.Reliable, PagingOrder: &o,
				},
				pagingOrder: &o,
			})
		}
	}
	return nil
}

func (p *fakePersistenceManager) RemoveDepagedReferences(ctx context.Context, channelID string, infos []ReferenceInfo) error {
	if err := p.takeFailure("removeDepagedReferences"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	remove := make(map[string]bool, len(infos))
	for _, info := range infos {
		remove[info.MessageID] = true
	}
	var kept []*fakeRow
	for _, r := range p.rows[channelID] {
		if !remove[r.info.MessageID] {
			kept = append(kept, r)
		}
	}
	p.rows[channelID] = kept
	return nil
}

func (p *fakePersistenceManager) UpdateReliableReferencesNotPagedInRange(ctx context.Context, channelID string, fromInclusive, toInclusive int64, expectedCount int) error {
	if err := p.takeFailure("updateReliableReferencesNotPagedInRange"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	matched := 0
	for _, r := range p.rows[channelID] {
		if r.info.Reliable && r.pagingOrder != nil && *r.pagingOrder >= fromInclusive && *r.pagingOrder <= toInclusive {
			matched++
		}
	}
	if matched != expectedCount {
		return ErrStoreCountMismatch
	}
	for _, r := range p.rows[channelID] {
		if r.info.Reliable && r.pagingOrder != nil && *r.pagingOrder >= fromInclusive && *r.pagingOrder <= toInclusive {
			r.pagingOrder = nil
			r.info.PagingOrder = nil
		}
	}
	return nil
}
