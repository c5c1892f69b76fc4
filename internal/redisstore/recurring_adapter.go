package redisstore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/hangfire-go/redisstore/internal/job"
	"github.com/hangfire-go/redisstore/internal/recurring"
	"github.com/hangfire-go/redisstore/internal/storeerrors"
	"github.com/redis/go-redis/v9"
)

// recurringAdapter satisfies recurring.Store by driving the same
// Connection/WriteTransaction surface an outer scheduler would use,
// keeping the recurring-jobs component a consumer of the core's public
// API rather than a privileged internal piece.
type recurringAdapter struct {
	store *Store
}

// Recurring returns a *recurring.Registry wired to this store. Prefer
// Store.EnableRecurringJobs, which attaches the registry so Start runs
// its tick loop alongside the other background components.
func (s *Store) Recurring() *recurring.Registry {
	reg := recurring.NewRegistry(&recurringAdapter{store: s})
	reg.OnTrigger(s.metrics.IncRecurringTriggered)
	return reg
}

func (a *recurringAdapter) CreateExpiredJob(ctx context.Context, inv job.Invocation, params map[string]string, createdAt time.Time, expireIn time.Duration) (string, error) {
	return a.store.Connection().CreateExpiredJob(ctx, inv, params, createdAt, expireIn)
}

func (a *recurringAdapter) AcquireAndReleaseLock(ctx context.Context, resource string, ttl time.Duration, fn func() error) error {
	lock, err := a.store.Connection().AcquireDistributedLock(ctx, resource, ttl)
	if err != nil {
		if errors.Is(err, storeerrors.ErrLockTimeout) {
			return nil
		}
		return err
	}
	defer lock.Release(ctx)
	return fn()
}

func (a *recurringAdapter) EnqueueJob(ctx context.Context, queue, jobID string) error {
	tx := a.store.NewTransaction()
	tx.AddToQueue(ctx, queue, jobID)
	return tx.Commit(ctx)
}

func (a *recurringAdapter) ReadRecurringJobIDs(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	ids, err := a.store.client.ZRangeByScore(ctx, a.store.keys.recurringJobs(), &redis.ZRangeBy{
		Min: "-inf", Max: strconv.FormatFloat(now, 'f', -1, 64),
	}).Result()
	return ids, wrapStorage("read due recurring jobs", err)
}

// recurringFieldNames are the hash fields the adapter itself owns on a
// recurring-job:<id> hash; anything else on the hash is a caller
// parameter, the same split GetJobData applies to job:<id>.
var recurringFieldNames = map[string]bool{
	"Cron": true, "Queue": true, "Type": true, "Method": true,
	"ParameterTypes": true, "Arguments": true, "TimeZone": true,
	"Enabled": true, "Description": true, "LastExecution": true,
	"NextRun": true, "RunCount": true, "LastJobID": true,
}

// WriteRecurringJob persists a schedule as a recurring-job:<id> hash
// (one field per template/state attribute, mirroring the job:<id> hash
// layout so out-of-band consumers can HGET individual fields) and scores
// it into the recurring-jobs index by its next run.
func (a *recurringAdapter) WriteRecurringJob(ctx context.Context, id string, nextRun time.Time, sched recurring.Schedule, state recurring.State) error {
	fields := map[string]interface{}{
		"Cron":           sched.Cron,
		"Queue":          sched.Queue,
		"Type":           sched.Invocation.Type,
		"Method":         sched.Invocation.Method,
		"ParameterTypes": sched.Invocation.ParameterTypes,
		"Arguments":      sched.Invocation.Arguments,
		"TimeZone":       sched.Timezone,
		"Enabled":        strconv.FormatBool(sched.Enabled),
		"Description":    sched.Description,
		"NextRun":        job.FormatTime(state.NextRun),
		"RunCount":       strconv.FormatInt(state.RunCount, 10),
	}
	if !state.LastExecution.IsZero() {
		fields["LastExecution"] = job.FormatTime(state.LastExecution)
	}
	if state.LastJobID != "" {
		fields["LastJobID"] = state.LastJobID
	}
	for k, v := range sched.Params {
		fields[k] = v
	}

	key := a.store.keys.recurringJob(id)
	pipe := a.store.client.TxPipeline()
	// Re-adding an ID replaces the template wholesale, so stale fields
	// from a previous definition must not linger on the hash.
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	pipe.ZAdd(ctx, a.store.keys.recurringJobs(), redis.Z{Score: float64(nextRun.Unix()), Member: id})
	_, err := pipe.Exec(ctx)
	return wrapStorage("write recurring job", err)
}

func (a *recurringAdapter) ReadRecurringJob(ctx context.Context, id string) (*recurring.Schedule, *recurring.State, error) {
	fields, err := a.store.client.HGetAll(ctx, a.store.keys.recurringJob(id)).Result()
	if err != nil {
		return nil, nil, wrapStorage("read recurring job", err)
	}
	if len(fields) == 0 {
		return nil, nil, nil
	}

	sched := &recurring.Schedule{
		ID:    id,
		Cron:  fields["Cron"],
		Queue: fields["Queue"],
		Invocation: job.Invocation{
			Type:           fields["Type"],
			Method:         fields["Method"],
			ParameterTypes: fields["ParameterTypes"],
			Arguments:      fields["Arguments"],
		},
		Timezone:    fields["TimeZone"],
		Description: fields["Description"],
		Params:      map[string]string{},
	}
	sched.Enabled, _ = strconv.ParseBool(fields["Enabled"])
	for k, v := range fields {
		if !recurringFieldNames[k] {
			sched.Params[k] = v
		}
	}

	state := &recurring.State{LastJobID: fields["LastJobID"]}
	if v := fields["LastExecution"]; v != "" {
		if t, err := job.ParseTime(v); err == nil {
			state.LastExecution = t
		}
	}
	if v := fields["NextRun"]; v != "" {
		if t, err := job.ParseTime(v); err == nil {
			state.NextRun = t
		}
	}
	if v := fields["RunCount"]; v != "" {
		state.RunCount, _ = strconv.ParseInt(v, 10, 64)
	}

	return sched, state, nil
}

func (a *recurringAdapter) DeleteRecurringJob(ctx context.Context, id string) error {
	pipe := a.store.client.TxPipeline()
	pipe.ZRem(ctx, a.store.keys.recurringJobs(), id)
	pipe.Del(ctx, a.store.keys.recurringJob(id))
	_, err := pipe.Exec(ctx)
	return wrapStorage("delete recurring job", err)
}

func (a *recurringAdapter) TouchRecurringJobScore(ctx context.Context, id string, score float64) error {
	err := a.store.client.ZAdd(ctx, a.store.keys.recurringJobs(), redis.Z{Score: score, Member: id}).Err()
	return wrapStorage("touch recurring job score", err)
}
