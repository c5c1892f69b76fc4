// Package recurring materializes cron-scheduled job templates into the
// same queue/fetch path hand-submitted jobs use. It is a consumer of the
// storage core's own public surface (CreateExpiredJob, a write
// transaction's AddToQueue, AcquireDistributedLock) — the same
// relationship an outer scheduler has to the core.
package recurring

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/hangfire-go/redisstore/internal/job"
	"github.com/hangfire-go/redisstore/internal/logger"
	"github.com/hangfire-go/redisstore/internal/storeerrors"
	"github.com/robfig/cron/v3"
)

var scheduleIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Schedule is a recurring job template.
type Schedule struct {
	ID          string
	Cron        string
	Queue       string
	Invocation  job.Invocation
	Params      map[string]string
	Timezone    string
	Enabled     bool
	Description string
}

// State is the persisted run-history for a schedule.
type State struct {
	LastExecution time.Time
	NextRun       time.Time
	RunCount      int64
	LastJobID     string
}

// Store is the subset of the storage core's Connection/WriteTransaction
// surface the recurring-job loop needs, declared locally so this package
// does not import redisstore (which would create an import cycle, since
// the storage core's Store wires a *Registry in to run alongside its
// other background components).
type Store interface {
	CreateExpiredJob(ctx context.Context, inv job.Invocation, params map[string]string, createdAt time.Time, expireIn time.Duration) (string, error)
	AcquireAndReleaseLock(ctx context.Context, resource string, ttl time.Duration, fn func() error) error
	EnqueueJob(ctx context.Context, queue, jobID string) error
	ReadRecurringJobIDs(ctx context.Context) ([]string, error)
	WriteRecurringJob(ctx context.Context, id string, nextRun time.Time, sched Schedule, state State) error
	ReadRecurringJob(ctx context.Context, id string) (*Schedule, *State, error)
	DeleteRecurringJob(ctx context.Context, id string) error
	TouchRecurringJobScore(ctx context.Context, id string, score float64) error
}

// Registry manages recurring job schedules and runs the tick loop that
// materializes due ones.
type Registry struct {
	store     Store
	parser    cron.Parser
	log       logger.Logger
	onTrigger func()
}

// NewRegistry constructs a recurring-job registry bound to a storage
// backend.
func NewRegistry(store Store) *Registry {
	return &Registry{
		store:  store,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		log:    logger.Default().WithComponent(logger.ComponentRecurring),
	}
}

// OnTrigger sets an optional hook invoked every time a schedule is
// successfully materialized into a queued job (used to drive metrics).
func (r *Registry) OnTrigger(fn func()) { r.onTrigger = fn }

func (r *Registry) validate(s Schedule) error {
	if s.ID == "" || !scheduleIDPattern.MatchString(s.ID) {
		return fmt.Errorf("%w: schedule ID must be non-empty and alphanumeric/underscore/hyphen", storeerrors.ErrInvalidArgument)
	}
	if s.Queue == "" {
		return fmt.Errorf("%w: schedule queue cannot be empty", storeerrors.ErrInvalidArgument)
	}
	if _, err := r.parser.Parse(s.Cron); err != nil {
		return fmt.Errorf("%w: invalid cron expression %q: %v", storeerrors.ErrInvalidArgument, s.Cron, err)
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("%w: invalid timezone %q: %v", storeerrors.ErrInvalidArgument, s.Timezone, err)
		}
	}
	return nil
}

func (r *Registry) nextRun(s Schedule, after time.Time) (time.Time, error) {
	cronSchedule, err := r.parser.Parse(s.Cron)
	if err != nil {
		return time.Time{}, err
	}
	loc := time.UTC
	if s.Timezone != "" {
		loc, err = time.LoadLocation(s.Timezone)
		if err != nil {
			return time.Time{}, err
		}
	}
	return cronSchedule.Next(after.In(loc)), nil
}

// AddOrUpdate validates a schedule, computes its first next-run time, and
// persists it. Re-adding an existing ID overwrites the template and
// recomputes the next run.
func (r *Registry) AddOrUpdate(ctx context.Context, s Schedule) error {
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	if err := r.validate(s); err != nil {
		return err
	}

	next, err := r.nextRun(s, time.Now())
	if err != nil {
		return fmt.Errorf("%w: %v", storeerrors.ErrInvalidArgument, err)
	}

	return r.store.WriteRecurringJob(ctx, s.ID, next, s, State{NextRun: next})
}

// RemoveIfExists deletes a schedule if it exists.
func (r *Registry) RemoveIfExists(ctx context.Context, id string) error {
	return r.store.DeleteRecurringJob(ctx, id)
}

// Trigger forces a schedule to become due on the next tick, independent
// of its cron expression.
func (r *Registry) Trigger(ctx context.Context, id string) error {
	return r.store.TouchRecurringJobScore(ctx, id, float64(time.Now().Unix()))
}

// Execute runs the tick loop until ctx is cancelled.
func (r *Registry) Execute(ctx context.Context, interval time.Duration, lockTimeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx, lockTimeout)
		}
	}
}

func (r *Registry) tick(ctx context.Context, lockTimeout time.Duration) {
	ids, err := r.store.ReadRecurringJobIDs(ctx)
	if err != nil {
		r.log.Warn("failed to list due recurring jobs", "error", err)
		return
	}

	for _, id := range ids {
		if err := r.runOne(ctx, id, lockTimeout); err != nil {
			r.log.Warn("recurring job tick failed", "schedule_id", id, "error", err)
		}
	}
}

func (r *Registry) runOne(ctx context.Context, id string, lockTimeout time.Duration) error {
	return r.store.AcquireAndReleaseLock(ctx, "recurring-job:"+id+":lock", lockTimeout, func() error {
		sched, prev, err := r.store.ReadRecurringJob(ctx, id)
		if err != nil {
			return err
		}
		if sched == nil || !sched.Enabled {
			return nil
		}

		now := time.Now()
		jobID, err := r.store.CreateExpiredJob(ctx, sched.Invocation, sched.Params, now, 24*time.Hour)
		if err != nil {
			return err
		}
		if err := r.store.EnqueueJob(ctx, sched.Queue, jobID); err != nil {
			return err
		}

		next, err := r.nextRun(*sched, now)
		if err != nil {
			return err
		}
		state := State{LastExecution: now, NextRun: next, RunCount: 1, LastJobID: jobID}
		if prev != nil {
			state.RunCount = prev.RunCount + 1
		}
		if err := r.store.WriteRecurringJob(ctx, id, next, *sched, state); err != nil {
			return err
		}

		if r.onTrigger != nil {
			r.onTrigger()
		}
		r.log.Info("materialized recurring job", "schedule_id", id, "job_id", jobID, "next_run", next)
		return nil
	})
}
