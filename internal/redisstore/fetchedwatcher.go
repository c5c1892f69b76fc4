package redisstore

import (
	"context"
	"time"

	"github.com/hangfire-go/redisstore/internal/job"
	"github.com/hangfire-go/redisstore/internal/logger"
)

// FetchedJobsWatcher recovers jobs whose worker never acknowledged them.
// It scans each queue's dequeued list once per cycle, serialized per
// queue by a distributed lock, and requeues any entry whose Fetched or
// Checked timestamp has aged past its budget.
type FetchedJobsWatcher struct {
	store  *Store
	log    logger.Logger
	jobLog logger.Logger
}

// NewFetchedJobsWatcher constructs a watcher bound to a store.
func NewFetchedJobsWatcher(s *Store) *FetchedJobsWatcher {
	base := logger.Default().WithComponent(logger.ComponentFetchedWatcher)
	return &FetchedJobsWatcher{store: s, log: base, jobLog: base.WithSource(logger.LogSourceJob)}
}

// Execute runs the recovery loop until ctx is cancelled, sleeping for
// SleepTimeout between cycles.
func (w *FetchedJobsWatcher) Execute(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.runCycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.store.opts.SleepTimeout):
		}
	}
}

func (w *FetchedJobsWatcher) runCycle(ctx context.Context) {
	queues, err := w.store.client.SMembers(ctx, w.store.keys.queues()).Result()
	if err != nil {
		w.log.Warn("failed to list queues", "error", err)
		return
	}

	for _, q := range queues {
		if err := w.recoverQueue(ctx, q); err != nil {
			w.log.Warn("recovery cycle failed for queue", "queue", q, "error", err)
		}
	}
}

func (w *FetchedJobsWatcher) recoverQueue(ctx context.Context, q string) error {
	lockKey := w.store.keys.queueDequeuedLock(q)
	lock, err := acquireLock(ctx, w.store.client, lockKey, w.store.opts.FetchedLockTimeout)
	if err != nil {
		return err
	}
	if lock == nil {
		// Another instance is already recovering this queue this cycle.
		return nil
	}
	defer lock.Release(ctx)

	ids, err := w.store.client.LRange(ctx, w.store.keys.queueDequeued(q), 0, -1).Result()
	if err != nil {
		return wrapStorage("list dequeued", err)
	}

	now := time.Now()
	for _, id := range ids {
		if err := w.inspect(ctx, q, id, now); err != nil {
			w.log.Warn("failed to inspect fetched job", "queue", q, "job_id", id, "error", err)
		}
	}
	return nil
}

func (w *FetchedJobsWatcher) inspect(ctx context.Context, q, id string, now time.Time) error {
	fields, err := w.store.client.HMGet(ctx, w.store.keys.job(id), "Fetched", "Checked").Result()
	if err != nil {
		return wrapStorage("read fetched/checked", err)
	}

	fetched := stringField(fields[0])
	checked := stringField(fields[1])

	if fetched == "" && checked == "" {
		// First observation of this in-flight job: start the grace
		// period instead of assuming it is already abandoned.
		return w.store.client.HSet(ctx, w.store.keys.job(id), "Checked", job.FormatTime(now)).Err()
	}

	timedOut := false
	if fetched != "" {
		if t, err := job.ParseTime(fetched); err == nil && now.Sub(t) > w.store.opts.InvisibilityTimeout {
			timedOut = true
		}
	} else if checked != "" {
		if t, err := job.ParseTime(checked); err == nil && now.Sub(t) > w.store.opts.CheckedTimeout {
			timedOut = true
		}
	}

	if !timedOut {
		return nil
	}

	fj := &FetchedJob{conn: &Connection{store: w.store}, JobID: id, Queue: q}
	if err := fj.Dispose(ctx); err != nil {
		return err
	}
	w.store.metrics.IncRequeued()
	jobCtx := logger.WithQueue(logger.WithJobID(ctx, id), q)
	w.jobLog.InfoContext(jobCtx, "recovered abandoned job")
	return nil
}

func stringField(v interface{}) string {
	s, _ := v.(string)
	return s
}
