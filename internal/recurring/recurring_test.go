package recurring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hangfire-go/redisstore/internal/job"
	"github.com/hangfire-go/redisstore/internal/storeerrors"
)

type fakeStore struct {
	schedules map[string]Schedule
	states    map[string]State
	dueScore  map[string]float64
	enqueued  []string
	created   int
	locked    bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		schedules: map[string]Schedule{},
		states:    map[string]State{},
		dueScore:  map[string]float64{},
	}
}

func (f *fakeStore) CreateExpiredJob(ctx context.Context, inv job.Invocation, params map[string]string, createdAt time.Time, expireIn time.Duration) (string, error) {
	f.created++
	return "job-id", nil
}

func (f *fakeStore) AcquireAndReleaseLock(ctx context.Context, resource string, ttl time.Duration, fn func() error) error {
	if f.locked {
		return nil
	}
	f.locked = true
	defer func() { f.locked = false }()
	return fn()
}

func (f *fakeStore) EnqueueJob(ctx context.Context, queue, jobID string) error {
	f.enqueued = append(f.enqueued, queue+":"+jobID)
	return nil
}

func (f *fakeStore) ReadRecurringJobIDs(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	var ids []string
	for id, score := range f.dueScore {
		if score <= now {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeStore) WriteRecurringJob(ctx context.Context, id string, nextRun time.Time, sched Schedule, state State) error {
	f.schedules[id] = sched
	f.states[id] = state
	f.dueScore[id] = float64(nextRun.Unix())
	return nil
}

func (f *fakeStore) ReadRecurringJob(ctx context.Context, id string) (*Schedule, *State, error) {
	s, ok := f.schedules[id]
	if !ok {
		return nil, nil, nil
	}
	st := f.states[id]
	return &s, &st, nil
}

func (f *fakeStore) DeleteRecurringJob(ctx context.Context, id string) error {
	delete(f.schedules, id)
	delete(f.states, id)
	delete(f.dueScore, id)
	return nil
}

func (f *fakeStore) TouchRecurringJobScore(ctx context.Context, id string, score float64) error {
	f.dueScore[id] = score
	return nil
}

func TestRegistry_AddOrUpdateValidatesCron(t *testing.T) {
	r := NewRegistry(newFakeStore())
	err := r.AddOrUpdate(context.Background(), Schedule{ID: "daily", Queue: "reports", Cron: "not a cron", Enabled: true})
	if !errors.Is(err, storeerrors.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for a bad cron expression, got %v", err)
	}
}

func TestRegistry_AddOrUpdateRejectsEmptyQueue(t *testing.T) {
	r := NewRegistry(newFakeStore())
	err := r.AddOrUpdate(context.Background(), Schedule{ID: "daily", Cron: "0 9 * * *", Enabled: true})
	if !errors.Is(err, storeerrors.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for an empty queue, got %v", err)
	}
}

func TestRegistry_AddOrUpdatePersistsNextRun(t *testing.T) {
	fs := newFakeStore()
	r := NewRegistry(fs)
	err := r.AddOrUpdate(context.Background(), Schedule{
		ID: "daily-report", Queue: "reports", Cron: "0 9 * * *", Enabled: true,
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, ok := fs.schedules["daily-report"]; !ok {
		t.Fatal("expected schedule persisted")
	}
	if fs.dueScore["daily-report"] <= 0 {
		t.Fatal("expected a positive next-run score")
	}
}

func TestRegistry_TriggerForcesDueNow(t *testing.T) {
	fs := newFakeStore()
	r := NewRegistry(fs)
	if err := r.AddOrUpdate(context.Background(), Schedule{ID: "daily", Queue: "q", Cron: "0 9 * * *", Enabled: true}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Trigger(context.Background(), "daily"); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	ids, err := fs.ReadRecurringJobIDs(context.Background())
	if err != nil {
		t.Fatalf("read due: %v", err)
	}
	if len(ids) != 1 || ids[0] != "daily" {
		t.Fatalf("expected daily to be due after Trigger, got %v", ids)
	}
}

func TestRegistry_MaterializesDueSchedule(t *testing.T) {
	fs := newFakeStore()
	r := NewRegistry(fs)
	if err := r.AddOrUpdate(context.Background(), Schedule{
		ID: "daily-report", Queue: "reports", Cron: "0 9 * * *", Enabled: true,
		Invocation: job.Invocation{Type: "Reports", Method: "Generate"},
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Trigger(context.Background(), "daily-report"); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	r.tick(context.Background(), time.Second)

	if fs.created != 1 {
		t.Fatalf("expected CreateExpiredJob called once, got %d", fs.created)
	}
	if len(fs.enqueued) != 1 || fs.enqueued[0] != "reports:job-id" {
		t.Fatalf("expected job enqueued to reports, got %v", fs.enqueued)
	}
	if fs.states["daily-report"].LastJobID != "job-id" {
		t.Fatalf("expected LastJobID recorded, got %+v", fs.states["daily-report"])
	}
	if fs.states["daily-report"].RunCount != 1 {
		t.Fatalf("expected RunCount incremented, got %d", fs.states["daily-report"].RunCount)
	}
}

func TestRegistry_DisabledScheduleNeverMaterializes(t *testing.T) {
	fs := newFakeStore()
	r := NewRegistry(fs)
	if err := r.AddOrUpdate(context.Background(), Schedule{ID: "paused", Queue: "q", Cron: "0 9 * * *", Enabled: false}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Trigger(context.Background(), "paused"); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	r.tick(context.Background(), time.Second)

	if fs.created != 0 {
		t.Fatalf("expected a disabled schedule never to materialize a job, got %d creations", fs.created)
	}
}

func TestRegistry_RemoveIfExists(t *testing.T) {
	fs := newFakeStore()
	r := NewRegistry(fs)
	if err := r.AddOrUpdate(context.Background(), Schedule{ID: "daily", Queue: "q", Cron: "0 9 * * *", Enabled: true}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.RemoveIfExists(context.Background(), "daily"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := fs.schedules["daily"]; ok {
		t.Fatal("expected schedule removed")
	}
}
