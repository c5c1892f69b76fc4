package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hangfire-go/redisstore/internal/job"
	"github.com/redis/go-redis/v9"
)

// WriteTransaction is a scoped, pipelined buffer of Redis commands. No
// command executes until Commit; a transaction may be committed exactly
// once. Every operation auto-prefixes its keys through the owning store.
type WriteTransaction struct {
	store     *Store
	pipe      redis.Pipeliner
	committed bool
}

func newWriteTransaction(s *Store) *WriteTransaction {
	return &WriteTransaction{store: s, pipe: s.client.TxPipeline()}
}

func (t *WriteTransaction) k() keys { return t.store.keys }

// ExpireJob sets a TTL on a job's hash, state, and history keys.
func (t *WriteTransaction) ExpireJob(ctx context.Context, id string, d time.Duration) {
	t.pipe.Expire(ctx, t.k().job(id), d)
	t.pipe.Expire(ctx, t.k().jobState(id), d)
	t.pipe.Expire(ctx, t.k().jobHistory(id), d)
}

// PersistJob removes the TTL from a job's hash, state, and history keys.
func (t *WriteTransaction) PersistJob(ctx context.Context, id string) {
	t.pipe.Persist(ctx, t.k().job(id))
	t.pipe.Persist(ctx, t.k().jobState(id))
	t.pipe.Persist(ctx, t.k().jobHistory(id))
}

// SetJobState rewrites the job's current state: it updates the State
// field on the job hash, replaces the `:state` hash wholesale, and
// appends a history entry — all three kept consistent by invariant 3.
func (t *WriteTransaction) SetJobState(ctx context.Context, id string, state job.StateData) {
	t.pipe.HSet(ctx, t.k().job(id), "State", state.Name)

	t.pipe.Del(ctx, t.k().jobState(id))
	stateHash := map[string]interface{}{"State": state.Name}
	if state.Reason != "" {
		stateHash["Reason"] = state.Reason
	}
	for k, v := range state.Data {
		stateHash[k] = v
	}
	t.pipe.HSet(ctx, t.k().jobState(id), stateHash)

	t.AddJobState(ctx, id, state)
}

// AddJobState appends a history entry without touching the current
// state snapshot.
func (t *WriteTransaction) AddJobState(ctx context.Context, id string, state job.StateData) {
	entry := job.HistoryEntry{
		State:     state.Name,
		Reason:    state.Reason,
		CreatedAt: job.FormatTime(time.Now()),
		Data:      state.Data,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		// A history entry that cannot be marshaled is a programming
		// error in the caller's state.Data, not a storage failure;
		// record nothing rather than poison the pipeline with bad JSON.
		return
	}
	t.pipe.RPush(ctx, t.k().jobHistory(id), raw)
}

// AddToQueue adds the queue name to the registry set, pushes the job ID
// onto the queue (LIFO queues RPUSH, everything else LPUSH so RPOPLPUSH
// consumption is FIFO), and publishes a wake signal.
func (t *WriteTransaction) AddToQueue(ctx context.Context, queue, id string) {
	t.pipe.SAdd(ctx, t.k().queues(), queue)
	if t.store.lifo[queue] {
		t.pipe.RPush(ctx, t.k().queue(queue), id)
	} else {
		t.pipe.LPush(ctx, t.k().queue(queue), id)
	}
	t.pipe.Publish(ctx, t.k().fetchChannel(), id)
}

// IncrementCounter increments a named counter, optionally with a TTL.
func (t *WriteTransaction) IncrementCounter(ctx context.Context, name string, d ...time.Duration) {
	key := t.k().statsCounter(name)
	t.pipe.IncrBy(ctx, key, 1)
	if len(d) > 0 {
		t.pipe.Expire(ctx, key, d[0])
	}
}

// DecrementCounter decrements a named counter.
func (t *WriteTransaction) DecrementCounter(ctx context.Context, name string) {
	t.pipe.IncrBy(ctx, t.k().statsCounter(name), -1)
}

// AddToSet adds a value to a sorted set with the given score (priority).
func (t *WriteTransaction) AddToSet(ctx context.Context, key, value string, score float64) {
	t.pipe.ZAdd(ctx, t.prefixed(key), redis.Z{Score: score, Member: value})
}

// RemoveFromSet removes a value from a sorted set.
func (t *WriteTransaction) RemoveFromSet(ctx context.Context, key, value string) {
	t.pipe.ZRem(ctx, t.prefixed(key), value)
}

// AddRangeToSet adds many values to a sorted set, all at the given score.
func (t *WriteTransaction) AddRangeToSet(ctx context.Context, key string, values []string, score float64) {
	if len(values) == 0 {
		return
	}
	members := make([]redis.Z, len(values))
	for i, v := range values {
		members[i] = redis.Z{Score: score, Member: v}
	}
	t.pipe.ZAdd(ctx, t.prefixed(key), members...)
}

// InsertToList left-pushes a value onto a list.
func (t *WriteTransaction) InsertToList(ctx context.Context, key, value string) {
	t.pipe.LPush(ctx, t.prefixed(key), value)
}

// RemoveFromList removes every occurrence of a value from a list.
func (t *WriteTransaction) RemoveFromList(ctx context.Context, key, value string) {
	t.pipe.LRem(ctx, t.prefixed(key), 0, value)
}

// TrimList trims a list to the inclusive [start, end] range.
func (t *WriteTransaction) TrimList(ctx context.Context, key string, start, end int64) {
	t.pipe.LTrim(ctx, t.prefixed(key), start, end)
}

// SetRangeInHash sets multiple fields on a hash in one call.
func (t *WriteTransaction) SetRangeInHash(ctx context.Context, key string, fields map[string]string) {
	if len(fields) == 0 {
		return
	}
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	t.pipe.HSet(ctx, t.prefixed(key), values)
}

// RemoveHash deletes a hash key entirely.
func (t *WriteTransaction) RemoveHash(ctx context.Context, key string) {
	t.pipe.Del(ctx, t.prefixed(key))
}

// ExpireHash, ExpireList, ExpireSet set a TTL on an arbitrary prefixed key.
func (t *WriteTransaction) ExpireHash(ctx context.Context, key string, d time.Duration) {
	t.pipe.Expire(ctx, t.prefixed(key), d)
}
func (t *WriteTransaction) ExpireList(ctx context.Context, key string, d time.Duration) {
	t.pipe.Expire(ctx, t.prefixed(key), d)
}
func (t *WriteTransaction) ExpireSet(ctx context.Context, key string, d time.Duration) {
	t.pipe.Expire(ctx, t.prefixed(key), d)
}

// PersistHash, PersistList, PersistSet remove the TTL from an arbitrary
// prefixed key.
func (t *WriteTransaction) PersistHash(ctx context.Context, key string) {
	t.pipe.Persist(ctx, t.prefixed(key))
}
func (t *WriteTransaction) PersistList(ctx context.Context, key string) {
	t.pipe.Persist(ctx, t.prefixed(key))
}
func (t *WriteTransaction) PersistSet(ctx context.Context, key string) {
	t.pipe.Persist(ctx, t.prefixed(key))
}

// RemoveSet deletes a sorted-set key entirely.
func (t *WriteTransaction) RemoveSet(ctx context.Context, key string) {
	t.pipe.Del(ctx, t.prefixed(key))
}

func (t *WriteTransaction) prefixed(key string) string {
	return t.store.opts.Prefix + key
}

// Commit executes every queued command as one pipeline round-trip.
// Commit may be called at most once; calling it twice is a programming
// error reported as ErrInvalidArgument.
func (t *WriteTransaction) Commit(ctx context.Context) error {
	if t.committed {
		return fmt.Errorf("write transaction: %w: already committed", errInvalidOptions)
	}
	t.committed = true
	_, err := t.pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return wrapStorage("write transaction commit", err)
	}
	return nil
}

// Discard abandons every queued command without executing them.
func (t *WriteTransaction) Discard() {
	if t.committed {
		return
	}
	t.committed = true
	t.pipe.Discard()
}
