package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNoDatabase 未配置 POSTGRES_DSN
var ErrNoDatabase = errors.New("database not configured")

// CacheGet 命中且能解码时返回 true；未配置 Redis 时总是 false
func (s *Store) CacheGet(ctx context.Context, key string, dst any) bool {
	if s == nil || s.Redis == nil {
		return false
	}
	bs, err := s.Redis.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	if err := json.Unmarshal(bs, dst); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("drop undecodable cache entry")
		_ = s.Redis.Del(ctx, key).Err()
		return false
	}
	return true
}

// CacheSet 写缓存失败只记日志，不影响请求
func (s *Store) CacheSet(ctx context.Context, key string, v any, ttl time.Duration) {
	if s == nil || s.Redis == nil || ttl <= 0 {
		return
	}
	bs, err := json.Marshal(v)
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("cache marshal failed")
		return
	}
	if err := s.Redis.Set(ctx, key, bs, ttl).Err(); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("cache set failed")
	}
}
