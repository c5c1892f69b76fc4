// Package redisstore is the Redis-backed storage and execution core: key
// schema, write transactions, the per-worker connection and fetch
// protocol, the wake-up subscription, and the two background watchers
// that keep the schema consistent with reality.
package redisstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hangfire-go/redisstore/internal/logger"
	"github.com/hangfire-go/redisstore/internal/metrics"
	"github.com/hangfire-go/redisstore/internal/recurring"
	"github.com/redis/go-redis/v9"
)

// Options is the full configuration surface for a Store.
type Options struct {
	// RedisURL is the connection string passed to redis.ParseURL.
	RedisURL string
	// Prefix is prepended to every key the core writes.
	Prefix string
	// Db selects the Redis logical database.
	Db int

	InvisibilityTimeout        time.Duration
	FetchTimeout               time.Duration
	ExpiryCheckInterval        time.Duration
	SucceededListSize          int64
	DeletedListSize            int64
	LifoQueues                 []string
	FetchedLockTimeout         time.Duration
	CheckedTimeout             time.Duration
	SleepTimeout               time.Duration
	RecurringJobsCheckInterval time.Duration
	HeartbeatTimeout           time.Duration
}

// DefaultOptions returns the option defaults named in the storage core's
// configuration table.
func DefaultOptions() Options {
	return Options{
		RedisURL:                   "redis://localhost:6379",
		Prefix:                     "{hangfire}:",
		Db:                         0,
		InvisibilityTimeout:        30 * time.Minute,
		FetchTimeout:               3 * time.Minute,
		ExpiryCheckInterval:        1 * time.Hour,
		SucceededListSize:          499,
		DeletedListSize:            499,
		FetchedLockTimeout:         60 * time.Second,
		CheckedTimeout:             1 * time.Minute,
		SleepTimeout:               1 * time.Minute,
		RecurringJobsCheckInterval: 1 * time.Minute,
		HeartbeatTimeout:           5 * time.Minute,
	}
}

// Validate rejects configurations the core cannot operate under.
func (o Options) Validate() error {
	if o.Prefix == "" {
		return fmt.Errorf("%w: prefix cannot be empty", errInvalidOptions)
	}
	if o.InvisibilityTimeout <= 0 {
		return fmt.Errorf("%w: invisibility timeout must be positive", errInvalidOptions)
	}
	if o.SucceededListSize < 0 || o.DeletedListSize < 0 {
		return fmt.Errorf("%w: list size caps cannot be negative", errInvalidOptions)
	}
	return nil
}

// Store is the storage facade: it owns the Redis client and constructs
// every component (connections, subscription, watchers, recurring jobs)
// that sits on top of it.
type Store struct {
	client  *redis.Client
	opts    Options
	keys    keys
	lifo    map[string]bool
	log     logger.Logger
	metrics *metrics.Collector

	sub       *Subscription
	recurring *recurring.Registry

	mu      sync.Mutex
	started bool
	runner  *runner
}

// New connects to Redis and returns a ready Store. The connection is
// pooled and sized for many concurrent long-lived holders of blocking
// operations: worker fetchers + watchers + recurring loop + headroom.
func New(opts Options) (*Store, error) {
	if opts.RedisURL == "" {
		opts.RedisURL = DefaultOptions().RedisURL
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	redisOpts, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse redis url: %v", errInvalidOptions, err)
	}
	redisOpts.DB = opts.Db

	redisOpts.PoolSize = 50
	redisOpts.MinIdleConns = 5
	redisOpts.ConnMaxIdleTime = 10 * time.Minute
	redisOpts.PoolTimeout = 5 * time.Second
	redisOpts.MaxRetries = 3
	redisOpts.MinRetryBackoff = 8 * time.Millisecond
	redisOpts.MaxRetryBackoff = 512 * time.Millisecond
	redisOpts.DialTimeout = 5 * time.Second
	redisOpts.ReadTimeout = 10 * time.Second
	redisOpts.WriteTimeout = 3 * time.Second
	redisOpts.ContextTimeoutEnabled = true

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: ping redis: %v", errInvalidOptions, err)
	}

	return newStore(client, opts), nil
}

// NewWithClient builds a Store around an already-constructed client —
// the entry point tests use with miniredis.
func NewWithClient(client *redis.Client, opts Options) (*Store, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return newStore(client, opts), nil
}

func newStore(client *redis.Client, opts Options) *Store {
	lifo := make(map[string]bool, len(opts.LifoQueues))
	for _, q := range opts.LifoQueues {
		lifo[q] = true
	}

	s := &Store{
		client:  client,
		opts:    opts,
		keys:    newKeys(opts.Prefix),
		lifo:    lifo,
		log:     logger.Default().WithComponent(logger.ComponentConnection),
		metrics: metrics.Default(),
	}
	s.sub = newSubscription(s)
	return s
}

// Connection returns a new per-worker handle onto this store. Every
// caller (one per worker goroutine) gets its own Connection value, but
// all share the same underlying client and subscription.
func (s *Store) Connection() *Connection {
	return &Connection{store: s}
}

// NewTransaction starts a new pipelined write transaction.
func (s *Store) NewTransaction() *WriteTransaction {
	return newWriteTransaction(s)
}

// Subscription returns the store's shared wake-on-enqueue subscriber.
func (s *Store) Subscription() *Subscription {
	return s.sub
}

// EnableRecurringJobs attaches a recurring-job registry bound to this
// store and returns it for schedule management (AddOrUpdate, Trigger,
// RemoveIfExists). Its tick loop is started by Start. Calling this more
// than once returns the previously attached registry.
func (s *Store) EnableRecurringJobs() *recurring.Registry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recurring == nil {
		s.recurring = s.Recurring()
	}
	return s.recurring
}

// Start launches the subscription receiver, the two watchers, and (if a
// recurring-job registry has been attached via EnableRecurringJobs) its
// loop —
// every background goroutine a deployed Store needs — and returns once
// they are all running. Start is idempotent; calling it twice is a no-op.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true

	s.runner = newRunner(s.log)
	s.runner.spawn("subscription", func(ctx context.Context) { s.sub.run(ctx) })
	s.runner.spawn("fetched-jobs-watcher", func(ctx context.Context) {
		NewFetchedJobsWatcher(s).Execute(ctx)
	})
	s.runner.spawn("expired-jobs-watcher", func(ctx context.Context) {
		NewExpiredJobsWatcher(s).Execute(ctx)
	})
	if s.recurring != nil {
		interval := s.opts.RecurringJobsCheckInterval
		lockTimeout := s.opts.FetchedLockTimeout
		s.runner.spawn("recurring-jobs", func(ctx context.Context) {
			s.recurring.Execute(ctx, interval, lockTimeout)
		})
	}
	s.runner.start(ctx)
	return nil
}

// Stop gracefully shuts down every goroutine started by Start, waiting up
// to 30 seconds before giving up.
func (s *Store) Stop() {
	s.mu.Lock()
	r := s.runner
	s.started = false
	s.mu.Unlock()
	if r != nil {
		r.stop()
	}
}

// Close releases the underlying Redis client. Call after Stop.
func (s *Store) Close() error {
	return s.client.Close()
}
