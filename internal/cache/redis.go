// Package cache holds the Redis-backed read-through decorators and the
// distributed rate limiter.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewClient connects to the Redis server at url (redis://[user:pass@]host:port/db).
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// store namespaces JSON values under "basego:<namespace>:<key>". Redis errors
// are logged and treated as a miss.
type store struct {
	rdb       redis.UniversalClient
	namespace string
	ttl       time.Duration
	log       *zap.Logger
}

func (s store) key(k string) string {
	return "basego:" + s.namespace + ":" + k
}

func (s store) get(ctx context.Context, k string, v any) bool {
	raw, err := s.rdb.Get(ctx, s.key(k)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("cache get failed", zap.String("key", s.key(k)), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		s.log.Warn("cache entry is corrupt", zap.String("key", s.key(k)), zap.Error(err))
		return false
	}
	return true
}

func (s store) set(ctx context.Context, k string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.log.Warn("cache encode failed", zap.String("key", s.key(k)), zap.Error(err))
		return
	}
	if err := s.rdb.Set(ctx, s.key(k), raw, s.ttl).Err(); err != nil {
		s.log.Warn("cache set failed", zap.String("key", s.key(k)), zap.Error(err))
	}
}

func (s store) del(ctx context.Context, k string) {
	if err := s.rdb.Del(ctx, s.key(k)).Err(); err != nil {
		s.log.Warn("cache delete failed", zap.String("key", s.key(k)), zap.Error(err))
	}
}
