package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"mailpipe/pkg/metrics"
)

const scanBatch = 200

// RedisStore keeps each record as a Redis hash.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) HasField(ctx context.Context, kind Kind, id, field string) (bool, error) {
	defer observe("hexists", kind, time.Now())
	return s.rdb.HExists(ctx, kind.Key(id), field).Result()
}

func (s *RedisStore) GetField(ctx context.Context, kind Kind, id, field string) (string, bool, error) {
	defer observe("hget", kind, time.Now())
	v, err := s.rdb.HGet(ctx, kind.Key(id), field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) GetFields(ctx context.Context, kind Kind, id string) (map[string]string, error) {
	defer observe("hgetall", kind, time.Now())
	return s.rdb.HGetAll(ctx, kind.Key(id)).Result()
}

func (s *RedisStore) SetField(ctx context.Context, kind Kind, id, field, value string) error {
	defer observe("hset", kind, time.Now())
	return s.rdb.HSet(ctx, kind.Key(id), field, value).Err()
}

// SetFields issues one HSET, so readers see either none or all of the fields.
func (s *RedisStore) SetFields(ctx context.Context, kind Kind, id string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	defer observe("hset", kind, time.Now())
	return s.rdb.HSet(ctx, kind.Key(id), fields).Err()
}

// IDs walks the keyspace with SCAN instead of KEYS so a large store does not
// block Redis.
func (s *RedisStore) IDs(ctx context.Context, kind Kind) ([]string, error) {
	defer observe("scan", kind, time.Now())
	var ids []string
	iter := s.rdb.Scan(ctx, 0, string(kind)+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		if id := kind.ID(iter.Val()); id != "" {
			ids = append(ids, id)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func observe(op string, kind Kind, start time.Time) {
	metrics.RecordStoreOpDuration(op, kind.String(), time.Since(start))
}
