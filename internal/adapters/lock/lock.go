// Package lock provides the per-batch dedup lock and completion marker kept in
// Redis. Every check is a single atomic command; nothing is cached locally.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL    = 600 * time.Second
	defaultPrefix = "spawnfence"
)

// releaseScript deletes the lock only if it still holds our token, so a
// worker whose lock expired cannot remove a newer holder's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// DedupLock guards batch processing by batch key.
type DedupLock struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// New creates a lock over client.
func New(client redis.UniversalClient, opts ...Option) *DedupLock {
	l := &DedupLock{
		client: client,
		ttl:    defaultTTL,
		prefix: defaultPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dial connects to the Redis URL and verifies the connection.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}
	return client, nil
}

// Acquire tries SET NX EX on the batch lock. It returns the owner token when
// the lock was taken and ok=false when another worker holds it.
func (l *DedupLock) Acquire(ctx context.Context, batchKey string) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = l.client.SetNX(ctx, l.lockKey(batchKey), token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("%w: acquire %s: %v", ErrUnavailable, batchKey, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release deletes the lock if token still owns it.
func (l *DedupLock) Release(ctx context.Context, batchKey, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.lockKey(batchKey)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: release %s: %v", ErrUnavailable, batchKey, err)
	}
	return nil
}

// MarkDone records that the batch was stored. The marker lives as long as
// the lock would, which is the dedup window.
func (l *DedupLock) MarkDone(ctx context.Context, batchKey string) error {
	if err := l.client.Set(ctx, l.doneKey(batchKey), time.Now().Unix(), l.ttl).Err(); err != nil {
		return fmt.Errorf("%w: mark %s: %v", ErrUnavailable, batchKey, err)
	}
	return nil
}

// IsDone reports whether the batch was already stored within the window.
func (l *DedupLock) IsDone(ctx context.Context, batchKey string) (bool, error) {
	n, err := l.client.Exists(ctx, l.doneKey(batchKey)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: check %s: %v", ErrUnavailable, batchKey, err)
	}
	return n > 0, nil
}

// TTL returns the lock and marker lifetime.
func (l *DedupLock) TTL() time.Duration { return l.ttl }

func (l *DedupLock) lockKey(batchKey string) string { return l.prefix + ":lock:" + batchKey }
func (l *DedupLock) doneKey(batchKey string) string { return l.prefix + ":done:" + batchKey }
