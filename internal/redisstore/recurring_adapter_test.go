package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/hangfire-go/redisstore/internal/job"
	"github.com/hangfire-go/redisstore/internal/recurring"
)

func TestRecurringAdapter_WriteReadRoundTrip(t *testing.T) {
	s, mr := newTestStore(t, Options{})
	ctx := context.Background()
	adapter := &recurringAdapter{store: s}

	sched := recurring.Schedule{
		ID:      "daily-report",
		Cron:    "0 6 * * *",
		Queue:   "reports",
		Params:  map[string]string{"Culture": "en-US"},
		Enabled: true,
	}
	state := recurring.State{RunCount: 3, LastJobID: "job-abc"}
	nextRun := time.Now().Add(time.Hour)

	if err := adapter.WriteRecurringJob(ctx, sched.ID, nextRun, sched, state); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The record is a hash, one field per attribute, so out-of-band
	// consumers can read individual fields without decoding a blob.
	if got := mr.HGet("{hangfire}:recurring-job:daily-report", "Cron"); got != "0 6 * * *" {
		t.Fatalf("expected Cron stored as a hash field, got %q", got)
	}
	if got := mr.HGet("{hangfire}:recurring-job:daily-report", "RunCount"); got != "3" {
		t.Fatalf("expected RunCount stored as a hash field, got %q", got)
	}

	gotSched, gotState, err := adapter.ReadRecurringJob(ctx, sched.ID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if gotSched == nil || gotSched.Cron != sched.Cron || gotSched.Queue != sched.Queue {
		t.Fatalf("expected schedule to round-trip, got %+v", gotSched)
	}
	if gotSched.Params["Culture"] != "en-US" {
		t.Fatalf("expected caller params preserved on the hash, got %v", gotSched.Params)
	}
	if !gotSched.Enabled {
		t.Fatal("expected Enabled to round-trip")
	}
	if gotState == nil || gotState.RunCount != 3 || gotState.LastJobID != "job-abc" {
		t.Fatalf("expected state to round-trip, got %+v", gotState)
	}
}

func TestRecurringAdapter_RewriteReplacesTemplateWholesale(t *testing.T) {
	s, mr := newTestStore(t, Options{})
	ctx := context.Background()
	adapter := &recurringAdapter{store: s}

	first := recurring.Schedule{ID: "daily", Cron: "0 6 * * *", Queue: "reports",
		Params: map[string]string{"Stale": "yes"}, Enabled: true}
	if err := adapter.WriteRecurringJob(ctx, "daily", time.Now(), first, recurring.State{}); err != nil {
		t.Fatalf("first write: %v", err)
	}

	second := recurring.Schedule{ID: "daily", Cron: "0 7 * * *", Queue: "reports", Enabled: true}
	if err := adapter.WriteRecurringJob(ctx, "daily", time.Now(), second, recurring.State{}); err != nil {
		t.Fatalf("second write: %v", err)
	}

	if got := mr.HGet("{hangfire}:recurring-job:daily", "Stale"); got != "" {
		t.Fatalf("expected stale param cleared on rewrite, got %q", got)
	}
	if got := mr.HGet("{hangfire}:recurring-job:daily", "Cron"); got != "0 7 * * *" {
		t.Fatalf("expected rewritten cron expression, got %q", got)
	}
}

func TestRecurringAdapter_ReadMissingReturnsNils(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()
	adapter := &recurringAdapter{store: s}

	sched, state, err := adapter.ReadRecurringJob(ctx, "does-not-exist")
	if err != nil {
		t.Fatalf("expected no error for a missing schedule, got %v", err)
	}
	if sched != nil || state != nil {
		t.Fatalf("expected nil schedule and state, got %+v %+v", sched, state)
	}
}

func TestRecurringAdapter_ReadRecurringJobIDsReturnsOnlyDue(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()
	adapter := &recurringAdapter{store: s}

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	if err := adapter.WriteRecurringJob(ctx, "due-now", past, recurring.Schedule{ID: "due-now"}, recurring.State{}); err != nil {
		t.Fatalf("write due-now: %v", err)
	}
	if err := adapter.WriteRecurringJob(ctx, "not-due", future, recurring.Schedule{ID: "not-due"}, recurring.State{}); err != nil {
		t.Fatalf("write not-due: %v", err)
	}

	ids, err := adapter.ReadRecurringJobIDs(ctx)
	if err != nil {
		t.Fatalf("read ids: %v", err)
	}
	if len(ids) != 1 || ids[0] != "due-now" {
		t.Fatalf("expected only due-now to be due, got %v", ids)
	}
}

func TestRecurringAdapter_DeleteRemovesScheduleAndScore(t *testing.T) {
	s, mr := newTestStore(t, Options{})
	ctx := context.Background()
	adapter := &recurringAdapter{store: s}

	if err := adapter.WriteRecurringJob(ctx, "temp", time.Now(), recurring.Schedule{ID: "temp"}, recurring.State{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := adapter.DeleteRecurringJob(ctx, "temp"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if mr.Exists("{hangfire}:recurring-job:temp") {
		t.Fatal("expected the recurring job hash to be gone")
	}
	if zIsMember(ctx, s, "{hangfire}:recurring-jobs", "temp") {
		t.Fatal("expected the schedule removed from the recurring-jobs index")
	}
}

func TestRecurringAdapter_EnqueueJobPushesOntoQueue(t *testing.T) {
	s, mr := newTestStore(t, Options{})
	ctx := context.Background()
	adapter := &recurringAdapter{store: s}

	if err := adapter.EnqueueJob(ctx, "reports", "job-xyz"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	items, _ := mr.List("{hangfire}:queue:reports")
	if len(items) != 1 || items[0] != "job-xyz" {
		t.Fatalf("expected job-xyz enqueued, got %v", items)
	}
}

func TestRecurringAdapter_CreateExpiredJobDelegatesToConnection(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()
	adapter := &recurringAdapter{store: s}

	id, err := adapter.CreateExpiredJob(ctx, job.Invocation{Type: "Reports", Method: "Run"}, nil, time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty job id")
	}
}

func TestRecurringAdapter_AcquireAndReleaseLockRunsFnUnderLock(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()
	adapter := &recurringAdapter{store: s}

	ran := false
	err := adapter.AcquireAndReleaseLock(ctx, "daily-report", time.Second, func() error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !ran {
		t.Fatal("expected the callback to run while holding the lock")
	}
}

func TestRecurringAdapter_AcquireAndReleaseLockSkipsWhenContended(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()
	adapter := &recurringAdapter{store: s}

	held, err := s.Connection().AcquireDistributedLock(ctx, "daily-report", time.Minute)
	if err != nil {
		t.Fatalf("acquire outer lock: %v", err)
	}
	defer held.Release(ctx)

	ran := false
	err = adapter.AcquireAndReleaseLock(ctx, "daily-report", time.Millisecond, func() error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected contention to be swallowed, got %v", err)
	}
	if ran {
		t.Fatal("expected the callback to be skipped while the lock is held elsewhere")
	}
}
