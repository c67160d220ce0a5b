// Package lock serializes skeleton builds for one artifact key across
// processes.
package lock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// Release frees an acquired lock.
type Release func(ctx context.Context) error

type Locker interface {
	Acquire(ctx context.Context, name string) (Release, error)
}

// Noop grants every lock immediately.
type Noop struct{}

func (Noop) Acquire(context.Context, string) (Release, error) {
	return func(context.Context) error { return nil }, nil
}

// RedisLocker takes redsync mutexes. The expiry bounds how long a crashed
// holder blocks others; it should exceed the longest expected computation.
type RedisLocker struct {
	client *redis.Client
	rs     *redsync.Redsync
	expiry time.Duration
	tries  int
}

func NewRedisLocker(redisURL string, expiry time.Duration) (*RedisLocker, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisLockerWithClient(redis.NewClient(opts), expiry), nil
}

func NewRedisLockerWithClient(client *redis.Client, expiry time.Duration) *RedisLocker {
	if expiry <= 0 {
		expiry = 5 * time.Minute
	}
	return &RedisLocker{
		client: client,
		rs:     redsync.New(goredis.NewPool(client)),
		expiry: expiry,
		// Waiting roughly one expiry lets a second request ride on the first build.
		tries: int(expiry/(500*time.Millisecond)) + 1,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, name string) (Release, error) {
	m := l.rs.NewMutex("skeleton-build:"+name,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(l.tries),
		redsync.WithRetryDelay(500*time.Millisecond),
	)
	if err := m.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("lock %s: %w", name, err)
	}
	return func(ctx context.Context) error {
		if _, err := m.UnlockContext(ctx); err != nil {
			return fmt.Errorf("unlock %s: %w", name, err)
		}
		return nil
	}, nil
}

func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}
