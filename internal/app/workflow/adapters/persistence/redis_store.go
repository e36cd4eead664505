package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore persists snapshots as JSON blobs under a configurable key
// prefix, the same client and convention the webhook adapter uses for its
// callback table.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps an already-constructed client. prefix namespaces keys
// (default "workflow:snapshot:" if empty); ttl expires old snapshots if
// positive, or never expires if zero.
func NewRedisStore(rdb *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "workflow:snapshot:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) Save(ctx context.Context, key string, snapshot Snapshot) error {
	snapshot.TakenAt = time.Now().UTC()
	body, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.prefix+key, body, s.ttl).Err()
}

func (s *RedisStore) Load(ctx context.Context, key string) (Snapshot, bool, error) {
	body, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	var snapshot Snapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return Snapshot{}, false, err
	}
	return snapshot, true, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

var _ Store = (*RedisStore)(nil)
