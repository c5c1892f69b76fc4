package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/hangfire-go/redisstore/internal/job"
	"github.com/hangfire-go/redisstore/internal/storeerrors"
	"github.com/redis/go-redis/v9"
)

// Connection is the per-worker handle onto a Store. Each worker goroutine
// conventionally holds its own Connection. A Connection keeps no state of
// its own beyond the Store pointer: FetchNextJob carries no polling
// position between calls and scans the queues in order on every call.
type Connection struct {
	store *Store
}

// CreateExpiredJob writes a new job hash with the given invocation and
// caller-supplied parameters, sets its TTL to expireIn, and returns the
// freshly generated job ID. A job that is never enqueued self-cleans once
// expireIn elapses (see the data model's lifecycle note).
func (c *Connection) CreateExpiredJob(ctx context.Context, inv job.Invocation, params map[string]string, createdAt time.Time, expireIn time.Duration) (string, error) {
	id := job.NewID()
	k := c.store.keys.job(id)

	fields := map[string]interface{}{
		"Type":           inv.Type,
		"Method":         inv.Method,
		"ParameterTypes": inv.ParameterTypes,
		"Arguments":      inv.Arguments,
		"CreatedAt":      job.FormatTime(createdAt),
	}
	for k2, v := range params {
		fields[k2] = v
	}

	pipe := c.store.client.TxPipeline()
	pipe.HSet(ctx, k, fields)
	pipe.PExpire(ctx, k, expireIn)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", wrapStorage("create expired job", err)
	}
	return id, nil
}

// AcquireDistributedLock acquires a lock on an arbitrary resource name,
// auto-prefixed the same way job keys are. Returns ErrLockTimeout if the
// resource is already held.
func (c *Connection) AcquireDistributedLock(ctx context.Context, resource string, timeout time.Duration) (*DistributedLock, error) {
	key := c.store.opts.Prefix + resource
	lock, err := acquireLock(ctx, c.store.client, key, timeout)
	if err != nil {
		return nil, err
	}
	if lock == nil {
		c.store.metrics.IncLockContention()
		return nil, fmt.Errorf("acquire distributed lock %q: %w", resource, errLockTimeout)
	}
	return lock, nil
}

// FetchedJob is the handle returned by FetchNextJob. Exactly one of
// RemoveFromQueue or Requeue should be called; if neither is called
// before the handle is discarded, Dispose performs a Requeue as a safety
// net against code paths that drop the handle on an unhandled error.
type FetchedJob struct {
	conn         *Connection
	JobID        string
	Queue        string
	acknowledged bool
}

// FetchNextJob polls queues in the caller's order, performing an atomic
// RPOPLPUSH from each queue's pending list to its dequeued list. When
// every queue is empty it blocks on the subscription's wake channel (or
// FetchTimeout, whichever comes first) and retries. Returns
// ErrCancelled if ctx is done before a job is found.
func (c *Connection) FetchNextJob(ctx context.Context, queues []string) (*FetchedJob, error) {
	if len(queues) == 0 {
		return nil, fmt.Errorf("fetch next job: %w: no queues supplied", errInvalidOptions)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("fetch next job: %w", errCancelled)
		default:
		}

		for _, q := range queues {
			id, err := c.store.client.RPopLPush(ctx, c.store.keys.queue(q), c.store.keys.queueDequeued(q)).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return nil, wrapStorage("fetch next job", err)
			}

			now := job.FormatTime(time.Now())
			if err := c.store.client.HSet(ctx, c.store.keys.job(id), "Fetched", now).Err(); err != nil {
				return nil, wrapStorage("fetch next job: mark fetched", err)
			}
			c.store.metrics.IncFetched()
			return &FetchedJob{conn: c, JobID: id, Queue: q}, nil
		}

		if err := c.store.sub.WaitForJob(ctx, c.store.opts.FetchTimeout); err != nil {
			return nil, err
		}
	}
}

// RemoveFromQueue acknowledges successful processing: it removes the job
// ID from the dequeued list and clears the Fetched/Checked tracking
// fields on the job hash.
func (f *FetchedJob) RemoveFromQueue(ctx context.Context) error {
	f.acknowledged = true
	pipe := f.conn.store.client.TxPipeline()
	pipe.LRem(ctx, f.conn.store.keys.queueDequeued(f.Queue), -1, f.JobID)
	pipe.HDel(ctx, f.conn.store.keys.job(f.JobID), "Fetched", "Checked")
	_, err := pipe.Exec(ctx)
	return wrapStorage("remove from queue", err)
}

// Requeue returns the job to the tail of its original queue and clears
// the dequeued-list entry and tracking fields, so another worker can pick
// it up.
func (f *FetchedJob) Requeue(ctx context.Context) error {
	f.acknowledged = true
	pipe := f.conn.store.client.TxPipeline()
	pipe.RPush(ctx, f.conn.store.keys.queue(f.Queue), f.JobID)
	pipe.LRem(ctx, f.conn.store.keys.queueDequeued(f.Queue), -1, f.JobID)
	pipe.HDel(ctx, f.conn.store.keys.job(f.JobID), "Fetched", "Checked")
	_, err := pipe.Exec(ctx)
	return wrapStorage("requeue", err)
}

// Dispose requeues the job if the caller never acknowledged it, the
// safety net for handler code paths that drop the handle on an
// unhandled error.
func (f *FetchedJob) Dispose(ctx context.Context) error {
	if f.acknowledged {
		return nil
	}
	return f.Requeue(ctx)
}

// AnnounceServer registers a server ID in the server registry and records
// its start time and the queues it serves.
func (c *Connection) AnnounceServer(ctx context.Context, serverID string, queues []string) error {
	now := job.FormatTime(time.Now())
	pipe := c.store.client.TxPipeline()
	pipe.SAdd(ctx, c.store.keys.servers(), serverID)
	pipe.HSet(ctx, c.store.keys.server(serverID), map[string]interface{}{
		"StartedAt": now,
		"Heartbeat": now,
	})
	if len(queues) > 0 {
		args := make([]interface{}, len(queues))
		for i, q := range queues {
			args[i] = q
		}
		pipe.Del(ctx, c.store.keys.serverQueues(serverID))
		pipe.RPush(ctx, c.store.keys.serverQueues(serverID), args...)
	}
	_, err := pipe.Exec(ctx)
	return wrapStorage("announce server", err)
}

// Heartbeat updates a server's last-seen timestamp.
func (c *Connection) Heartbeat(ctx context.Context, serverID string) error {
	now := job.FormatTime(time.Now())
	err := c.store.client.HSet(ctx, c.store.keys.server(serverID), "Heartbeat", now).Err()
	return wrapStorage("heartbeat", err)
}

// RemoveServer deregisters a server.
func (c *Connection) RemoveServer(ctx context.Context, serverID string) error {
	pipe := c.store.client.TxPipeline()
	pipe.SRem(ctx, c.store.keys.servers(), serverID)
	pipe.Del(ctx, c.store.keys.server(serverID))
	pipe.Del(ctx, c.store.keys.serverQueues(serverID))
	_, err := pipe.Exec(ctx)
	return wrapStorage("remove server", err)
}

// RemoveTimedOutServers removes every registered server whose heartbeat
// (or, absent one, start time) is older than timeout, returning the
// count removed.
func (c *Connection) RemoveTimedOutServers(ctx context.Context, timeout time.Duration) (int, error) {
	ids, err := c.store.client.SMembers(ctx, c.store.keys.servers()).Result()
	if err != nil {
		return 0, wrapStorage("remove timed out servers: list", err)
	}

	removed := 0
	cutoff := time.Now().Add(-timeout)
	for _, id := range ids {
		data, err := c.store.client.HMGet(ctx, c.store.keys.server(id), "StartedAt", "Heartbeat").Result()
		if err != nil {
			return removed, wrapStorage("remove timed out servers: read", err)
		}
		last := latestTimestamp(data)
		if last.IsZero() || last.Before(cutoff) {
			if err := c.RemoveServer(ctx, id); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

func latestTimestamp(fields []interface{}) time.Time {
	var latest time.Time
	for _, f := range fields {
		s, ok := f.(string)
		if !ok || s == "" {
			continue
		}
		if t, err := job.ParseTime(s); err == nil && t.After(latest) {
			latest = t
		}
	}
	return latest
}

// GetJobData reads a job's hash, splitting the known invocation fields
// from arbitrary caller parameters. Returns nil, nil if the job does not
// exist (already expired or never created).
func (c *Connection) GetJobData(ctx context.Context, id string) (*job.Data, error) {
	fields, err := c.store.client.HGetAll(ctx, c.store.keys.job(id)).Result()
	if err != nil {
		return nil, wrapStorage("get job data", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	data := &job.Data{
		ID: id,
		Invocation: job.Invocation{
			Type:           fields["Type"],
			Method:         fields["Method"],
			ParameterTypes: fields["ParameterTypes"],
			Arguments:      fields["Arguments"],
		},
		State:  fields["State"],
		Params: map[string]string{},
	}

	if createdAt, ok := fields["CreatedAt"]; ok {
		if t, err := job.ParseTime(createdAt); err == nil {
			data.CreatedAt = t
		} else {
			data.LoadError = fmt.Errorf("%w: parse CreatedAt: %v", storeerrors.ErrJobLoad, err)
		}
	}
	if fetched, ok := fields["Fetched"]; ok {
		if t, err := job.ParseTime(fetched); err == nil {
			data.Fetched = &t
		}
	}
	if checked, ok := fields["Checked"]; ok {
		if t, err := job.ParseTime(checked); err == nil {
			data.Checked = &t
		}
	}

	known := map[string]bool{"Type": true, "Method": true, "ParameterTypes": true, "Arguments": true, "CreatedAt": true, "State": true, "Fetched": true, "Checked": true}
	for k, v := range fields {
		if !known[k] {
			data.Params[k] = v
		}
	}

	return data, nil
}

// GetStateData reads the current state snapshot for a job.
func (c *Connection) GetStateData(ctx context.Context, id string) (*job.StateData, error) {
	fields, err := c.store.client.HGetAll(ctx, c.store.keys.jobState(id)).Result()
	if err != nil {
		return nil, wrapStorage("get state data", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	state := &job.StateData{
		Name:   fields["State"],
		Reason: fields["Reason"],
		Data:   map[string]string{},
	}
	for k, v := range fields {
		if k != "State" && k != "Reason" {
			state.Data[k] = v
		}
	}
	return state, nil
}

// GetJobParameter reads a single caller-supplied field from a job's hash.
func (c *Connection) GetJobParameter(ctx context.Context, id, name string) (string, error) {
	v, err := c.store.client.HGet(ctx, c.store.keys.job(id), name).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", wrapStorage("get job parameter", err)
	}
	return v, nil
}

// SetJobParameter writes a single caller-supplied field on a job's hash.
func (c *Connection) SetJobParameter(ctx context.Context, id, name, value string) error {
	err := c.store.client.HSet(ctx, c.store.keys.job(id), name, value).Err()
	return wrapStorage("set job parameter", err)
}

// GetAllEntriesFromHash returns every field on an arbitrary prefixed hash
// key, or nil if it does not exist.
func (c *Connection) GetAllEntriesFromHash(ctx context.Context, key string) (map[string]string, error) {
	fields, err := c.store.client.HGetAll(ctx, c.store.opts.Prefix+key).Result()
	if err != nil {
		return nil, wrapStorage("get all entries from hash", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

// GetAllItemsFromList returns every element of an arbitrary prefixed
// list key, head to tail.
func (c *Connection) GetAllItemsFromList(ctx context.Context, key string) ([]string, error) {
	items, err := c.store.client.LRange(ctx, c.store.opts.Prefix+key, 0, -1).Result()
	return items, wrapStorage("get all items from list", err)
}

// GetAllItemsFromSet returns every member of an arbitrary prefixed
// sorted-set key.
func (c *Connection) GetAllItemsFromSet(ctx context.Context, key string) ([]string, error) {
	items, err := c.store.client.ZRange(ctx, c.store.opts.Prefix+key, 0, -1).Result()
	return items, wrapStorage("get all items from set", err)
}

// GetCounter reads a named integer counter, returning 0 if absent.
func (c *Connection) GetCounter(ctx context.Context, name string) (int64, error) {
	n, err := c.store.client.Get(ctx, c.store.keys.statsCounter(name)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, wrapStorage("get counter", err)
}

// GetFirstByLowestScoreFromSet returns the lowest-scored member of a
// sorted set, or "" if it is empty.
func (c *Connection) GetFirstByLowestScoreFromSet(ctx context.Context, key string) (string, error) {
	items, err := c.store.client.ZRangeWithScores(ctx, c.store.opts.Prefix+key, 0, 0).Result()
	if err != nil {
		return "", wrapStorage("get first by lowest score", err)
	}
	if len(items) == 0 {
		return "", nil
	}
	return fmt.Sprintf("%v", items[0].Member), nil
}

// GetHashCount returns the number of fields on a prefixed hash key.
func (c *Connection) GetHashCount(ctx context.Context, key string) (int64, error) {
	n, err := c.store.client.HLen(ctx, c.store.opts.Prefix+key).Result()
	return n, wrapStorage("get hash count", err)
}

// GetHashTtl returns the TTL of a prefixed hash key (-1 persistent, -2
// absent).
func (c *Connection) GetHashTtl(ctx context.Context, key string) (time.Duration, error) {
	d, err := c.store.client.TTL(ctx, c.store.opts.Prefix+key).Result()
	return d, wrapStorage("get hash ttl", err)
}
