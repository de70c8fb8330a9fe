// internal/pkg/lock/lock.go
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// ReferenceLocker serializes webhook processing per payment reference.
// It is a fast-path guard only; the database transaction remains the
// correctness boundary for concurrent deliveries.
type ReferenceLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewReferenceLocker(client *redis.Client, ttl time.Duration) *ReferenceLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ReferenceLocker{client: client, ttl: ttl}
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Acquire takes the lock for the given reference, polling briefly if a
// concurrent delivery holds it. Returns a release func on success.
func (l *ReferenceLocker) Acquire(ctx context.Context, reference string) (func(), error) {
	key := "lock:webhook:" + reference
	owner := ulid.Make().String()

	deadline := time.Now().Add(5 * time.Second)
	for {
		ok, err := l.client.SetNX(ctx, key, owner, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire reference lock: %w", err)
		}
		if ok {
			release := func() {
				releaseScript.Run(context.Background(), l.client, []string{key}, owner)
			}
			return release, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("reference %s is locked by a concurrent delivery", reference)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
