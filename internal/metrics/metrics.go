// Package metrics tracks in-process counters for the storage core:
// fetch/requeue/sweep/recurring activity that the ambient logging already
// reports per-event but that a caller may also want as a running total.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

var (
	globalCollector *Collector
	once            sync.Once
)

// Collector tracks storage-core activity counters in memory.
type Collector struct {
	fetchedTotal         atomic.Int64
	requeuedTotal        atomic.Int64
	expiredSweptTotal    atomic.Int64
	recurringTriggered   atomic.Int64
	lockContentionTotal  atomic.Int64
	startTime            time.Time
}

// Snapshot is a point-in-time read of every counter.
type Snapshot struct {
	FetchedTotal        int64         `json:"fetched_total"`
	RequeuedTotal       int64         `json:"requeued_total"`
	ExpiredSweptTotal   int64         `json:"expired_swept_total"`
	RecurringTriggered  int64         `json:"recurring_triggered_total"`
	LockContentionTotal int64         `json:"lock_contention_total"`
	Uptime              time.Duration `json:"uptime"`
}

// Default returns the global metrics collector instance.
func Default() *Collector {
	once.Do(func() {
		globalCollector = NewCollector()
	})
	return globalCollector
}

// NewCollector creates a standalone collector, useful in tests that don't
// want to share the global instance.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// IncFetched records a successful FetchNextJob.
func (c *Collector) IncFetched() { c.fetchedTotal.Add(1) }

// IncRequeued records a job recovered by the Fetched-Jobs Watcher.
func (c *Collector) IncRequeued() { c.requeuedTotal.Add(1) }

// AddExpiredSwept records N dangling list entries removed by the
// Expired-Jobs Watcher.
func (c *Collector) AddExpiredSwept(n int64) { c.expiredSweptTotal.Add(n) }

// IncRecurringTriggered records a recurring schedule materialized into a
// queued job.
func (c *Collector) IncRecurringTriggered() { c.recurringTriggered.Add(1) }

// IncLockContention records a distributed-lock acquisition that found the
// resource already held.
func (c *Collector) IncLockContention() { c.lockContentionTotal.Add(1) }

// Snapshot returns the current counter values.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		FetchedTotal:        c.fetchedTotal.Load(),
		RequeuedTotal:       c.requeuedTotal.Load(),
		ExpiredSweptTotal:   c.expiredSweptTotal.Load(),
		RecurringTriggered:  c.recurringTriggered.Load(),
		LockContentionTotal: c.lockContentionTotal.Load(),
		Uptime:              time.Since(c.startTime),
	}
}

// Reset clears every counter. Useful for testing.
func (c *Collector) Reset() {
	c.fetchedTotal.Store(0)
	c.requeuedTotal.Store(0)
	c.expiredSweptTotal.Store(0)
	c.recurringTriggered.Store(0)
	c.lockContentionTotal.Store(0)
	c.startTime = time.Now()
}
