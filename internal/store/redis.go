package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "scarlet:"
	latestKey     = "latest"
)

// Redis stores each record as JSON under prefix+"schedule:"+sessionID and
// points prefix+"latest" at the newest one. Both keys expire after ttl.
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(addr string, ttl time.Duration) *Redis {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return &Redis{rdb: rdb, prefix: defaultPrefix, ttl: ttl}
}

func (s *Redis) key(parts ...string) string {
	return s.prefix + strings.Join(parts, ":")
}

func (s *Redis) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Redis) Save(ctx context.Context, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	recKey := s.key("schedule", rec.SessionID)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recKey, b, s.ttl)
		pipe.Set(ctx, s.key(latestKey), recKey, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save record %s: %w", rec.SessionID, err)
	}
	return nil
}

func (s *Redis) Latest(ctx context.Context) (Record, error) {
	recKey, err := s.rdb.Get(ctx, s.key(latestKey)).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get latest: %w", err)
	}
	val, err := s.rdb.Get(ctx, recKey).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", recKey, err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

func (s *Redis) Close() error {
	return s.rdb.Close()
}
