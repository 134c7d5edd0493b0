package csrf

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryStore keeps records in process.  It is used when Redis is not
// configured and in tests; entries vanish on restart like any session.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]Record
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]Record), now: time.Now}
}

// WithClock replaces the time source used to sweep expired records.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[sessionID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) Set(_ context.Context, sessionID string, rec Record, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[sessionID] = rec
	s.sweepLocked()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, sessionID)
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

// sweepLocked drops expired records so abandoned sessions do not pile up.
func (s *MemoryStore) sweepLocked() {
	now := s.now()
	for id, rec := range s.recs {
		if !now.Before(rec.ExpiresAt) {
			delete(s.recs, id)
		}
	}
}

// RedisStore shares records between API instances.  Keys expire with the
// token so Redis does the garbage collection.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "csrf"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(sessionID string) string { return s.prefix + ":" + sessionID }

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Record, error) {
	bs, err := s.rdb.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(bs, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *RedisStore) Set(ctx context.Context, sessionID string, rec Record, ttl time.Duration) error {
	bs, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(sessionID), bs, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, s.key(sessionID)).Err()
}
