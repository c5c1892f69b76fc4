package redisstore

import (
	"context"
	"strings"
	"time"

	"github.com/hangfire-go/redisstore/internal/logger"
	"github.com/redis/go-redis/v9"
)

const expiredWatcherBatchSize = 100

// ExpiredJobsWatcher sweeps the succeeded and deleted lists for entries
// whose underlying job hash has already expired out of Redis, removing
// those dangling references so the lists don't grow unbounded with
// pointers to nothing.
type ExpiredJobsWatcher struct {
	store *Store
	log   logger.Logger
}

// NewExpiredJobsWatcher constructs a watcher bound to a store.
func NewExpiredJobsWatcher(s *Store) *ExpiredJobsWatcher {
	return &ExpiredJobsWatcher{store: s, log: logger.Default().WithComponent(logger.ComponentExpiredWatcher)}
}

// Execute runs the sweep loop until ctx is cancelled, sleeping for
// ExpiryCheckInterval between cycles.
func (w *ExpiredJobsWatcher) Execute(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		for _, key := range []string{w.store.keys.succeeded(), w.store.keys.deleted()} {
			if err := w.sweep(ctx, key); err != nil {
				w.log.Warn("expired-jobs sweep failed", "list", key, "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.store.opts.ExpiryCheckInterval):
		}
	}
}

func (w *ExpiredJobsWatcher) sweep(ctx context.Context, listKey string) error {
	length, err := w.store.client.LLen(ctx, listKey).Result()
	if err != nil {
		return wrapStorage("sweep: llen", err)
	}

	for end := length - 1; end >= 0; end -= expiredWatcherBatchSize {
		start := end - expiredWatcherBatchSize + 1
		if start < 0 {
			start = 0
		}
		ids, err := w.store.client.LRange(ctx, listKey, start, end).Result()
		if err != nil {
			return wrapStorage("sweep: lrange", err)
		}
		if len(ids) == 0 {
			continue
		}

		dangling, err := w.findDangling(ctx, ids)
		if err != nil {
			return err
		}
		if len(dangling) == 0 {
			continue
		}

		tx := newWriteTransaction(w.store)
		for _, id := range dangling {
			tx.RemoveFromList(ctx, strings.TrimPrefix(listKey, w.store.opts.Prefix), id)
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		w.store.metrics.AddExpiredSwept(int64(len(dangling)))
		w.log.Info("removed dangling references", "list", listKey, "count", len(dangling))
	}
	return nil
}

func (w *ExpiredJobsWatcher) findDangling(ctx context.Context, ids []string) ([]string, error) {
	pipe := w.store.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Exists(ctx, w.store.keys.job(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, wrapStorage("sweep: exists pipeline", err)
	}

	var dangling []string
	for i, cmd := range cmds {
		if cmd.Val() == 0 {
			dangling = append(dangling, ids[i])
		}
	}
	return dangling, nil
}
