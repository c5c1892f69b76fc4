package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DistributedLock is an expiring-key mutex on a fully-prefixed resource
// name. Each acquisition mints an opaque token stored as the key's value,
// so release and extend only take effect for the handle that acquired the
// lock: a handle whose TTL lapsed cannot stomp a successor's lock.
type DistributedLock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// Both mutations follow the same compare-owner-then-act shape: the key's
// value must still equal this handle's token before anything is touched.
// Registered as redis.Script so repeat calls go out as EVALSHA.
var (
	lockReleaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

	lockExtendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

// acquireLock makes a single SETNX attempt on key. A nil lock with a nil
// error means the resource is held elsewhere; Connection maps that to
// ErrLockTimeout, and the Fetched-Jobs Watcher treats it as "another
// instance has it, skip this queue this cycle".
func acquireLock(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*DistributedLock, error) {
	l := &DistributedLock{client: client, key: key, token: uuid.NewString(), ttl: ttl}

	acquired, err := client.SetNX(ctx, key, l.token, ttl).Result()
	if err != nil {
		return nil, wrapStorage("acquire lock", err)
	}
	if !acquired {
		return nil, nil
	}
	return l, nil
}

// Release deletes the lock if this handle still owns it. Releasing a lock
// that already expired (and may belong to someone else by now) is a
// silent no-op rather than an error: the caller's critical section is
// over either way.
func (l *DistributedLock) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := lockReleaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return wrapStorage("release lock", err)
	}
	return nil
}

// Extend pushes the expiry out for a critical section that outlives its
// initial TTL, failing with ErrLockTimeout if the lock lapsed and was
// reclaimed in the meantime.
func (l *DistributedLock) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := lockExtendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return wrapStorage("extend lock", err)
	}
	if n == 0 {
		return fmt.Errorf("extend lock: %w: no longer owned by this handle", errLockTimeout)
	}
	l.ttl = ttl
	return nil
}

// Key returns the locked resource's fully-prefixed key.
func (l *DistributedLock) Key() string { return l.key }

// TTL returns the lock's current time-to-live.
func (l *DistributedLock) TTL() time.Duration { return l.ttl }
