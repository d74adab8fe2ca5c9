package xredis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KEYS[1] lock key, ARGV[1] owner token; only the owner may delete.
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end
`

var unlock = redis.NewScript(unlockScript)

// DistLock is a single-key SetNX lock owned by a random token.
type DistLock struct {
	client     redis.UniversalClient
	key        string
	token      string
	expiration time.Duration
}

func NewDistLock(client redis.UniversalClient, key string, expiration time.Duration) *DistLock {
	return &DistLock{
		client:     client,
		key:        key,
		token:      uuid.NewString(),
		expiration: expiration,
	}
}

// TryLock makes one non-blocking attempt.
func (l *DistLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.token, l.expiration).Result()
}

// Unlock releases the lock if this instance still owns it.
func (l *DistLock) Unlock(ctx context.Context) (bool, error) {
	res, err := unlock.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Locker adapts DistLock to callers that only need acquire/release by key.
type Locker struct {
	client redis.UniversalClient
	prefix string
}

func NewLocker(client redis.UniversalClient, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// Acquire takes the lock for key. ok is false when someone else holds it;
// release is nil in that case.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context), ok bool, err error) {
	lock := NewDistLock(l.client, l.prefix+key, ttl)
	ok, err = lock.TryLock(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	return func(ctx context.Context) { _, _ = lock.Unlock(ctx) }, true, nil
}
