package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when no snapshot is cached for the key.
var ErrCacheMiss = errors.New("session cache miss")

// ErrRedisUnavailable is returned on cache backend faults.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrCacheCorrupt is returned when a cached snapshot fails to decode.
var ErrCacheCorrupt = errors.New("session cache corrupt")

// Cache is a read-only projection of the reconciled session kept in Redis.
// It is never a source of truth: the session coordinator overwrites it on
// every reconciliation and consumers treat a miss as "reconcile again",
// never as "logged out".
type Cache struct {
	redis         *redis.Client
	prefix        string
	jitterEnabled bool
	jitterRange   time.Duration
}

// NewCache creates a cache bound to a redis client. Jitter, when enabled,
// spreads expiry of snapshots written in bursts.
func NewCache(client *redis.Client, prefix string, jitterEnabled bool, jitterRange time.Duration) *Cache {
	if prefix == "" {
		prefix = "sas"
	}
	return &Cache{
		redis:         client,
		prefix:        prefix,
		jitterEnabled: jitterEnabled,
		jitterRange:   jitterRange,
	}
}

func (c *Cache) key(sessionID string) string {
	return c.prefix + ":" + sessionID
}

// Put replaces the cached snapshot for the session.
func (c *Cache) Put(ctx context.Context, s *Session, ttl time.Duration) error {
	encoded, err := Encode(s)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	ttl += c.jitter()

	if err := c.redis.Set(ctx, c.key(s.SessionID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get loads a cached snapshot. Expired-by-content snapshots are removed
// and reported as a miss.
func (c *Cache) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := c.redis.Get(ctx, c.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	s, err := Decode(data)
	if err != nil {
		_, _ = c.redis.Del(ctx, c.key(sessionID)).Result()
		return nil, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}
	if s.ExpiresAt > 0 && time.Now().Unix() > s.ExpiresAt {
		_, _ = c.redis.Del(ctx, c.key(sessionID)).Result()
		return nil, ErrCacheMiss
	}
	return s, nil
}

// Invalidate removes the snapshot. Reconciliation calls this before
// writing the fresh copy so a crash between the two leaves a miss, not a
// stale read.
func (c *Cache) Invalidate(ctx context.Context, sessionID string) error {
	if err := c.redis.Del(ctx, c.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (c *Cache) jitter() time.Duration {
	if !c.jitterEnabled || c.jitterRange <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(c.jitterRange)))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}
