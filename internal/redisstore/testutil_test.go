package redisstore

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T, opts Options) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	if opts.Prefix == "" {
		d := DefaultOptions()
		opts.Prefix = d.Prefix
	}
	if opts.InvisibilityTimeout == 0 {
		opts.InvisibilityTimeout = DefaultOptions().InvisibilityTimeout
	}
	if opts.FetchTimeout == 0 {
		opts.FetchTimeout = DefaultOptions().FetchTimeout
	}
	if opts.FetchedLockTimeout == 0 {
		opts.FetchedLockTimeout = DefaultOptions().FetchedLockTimeout
	}
	if opts.CheckedTimeout == 0 {
		opts.CheckedTimeout = DefaultOptions().CheckedTimeout
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := NewWithClient(client, opts)
	if err != nil {
		t.Fatalf("NewWithClient: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, mr
}
