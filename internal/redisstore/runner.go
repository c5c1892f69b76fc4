package redisstore

import (
	"context"
	"sync"
	"time"

	"github.com/hangfire-go/redisstore/internal/logger"
	"github.com/hangfire-go/redisstore/internal/recovery"
)

// runner supervises the store's background goroutines (subscription,
// watchers, recurring-job loop), recovering panics and enforcing a
// bounded shutdown.
type runner struct {
	log    logger.Logger
	wg     sync.WaitGroup
	cancel context.CancelFunc
	tasks  []namedTask
}

type namedTask struct {
	name string
	fn   func(ctx context.Context)
}

func newRunner(log logger.Logger) *runner {
	return &runner{log: log}
}

func (r *runner) spawn(name string, fn func(ctx context.Context)) {
	r.tasks = append(r.tasks, namedTask{name: name, fn: fn})
}

func (r *runner) start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	for _, t := range r.tasks {
		r.wg.Add(1)
		go r.run(ctx, t)
	}
}

func (r *runner) run(ctx context.Context, t namedTask) {
	defer r.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			pe := recovery.Capture(t.name, rec)
			r.log.Error("background task recovered from panic",
				"task", t.name, "panic", pe.Detail())
		}
	}()

	r.log.Info("background task started", "task", t.name)
	t.fn(ctx)
	r.log.Info("background task stopped", "task", t.name)
}

// stop cancels every running task and waits up to 30s for them to exit.
func (r *runner) stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		r.log.Warn("background tasks shutdown timed out", "timeout", "30s")
	}
}
