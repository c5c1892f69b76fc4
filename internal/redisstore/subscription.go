package redisstore

import (
	"context"
	"time"

	"github.com/hangfire-go/redisstore/internal/logger"
)

// Subscription wakes blocked fetchers as soon as a job is enqueued. It
// holds a one-shot latch: any message received sets it, and a burst of
// publishes coalesces into a single wake rather than queuing one wake
// per message. Coalescing is safe because a woken fetcher re-polls every
// queue instead of trusting the signal's payload.
type Subscription struct {
	store *Store
	log   logger.Logger
	latch chan struct{}
}

func newSubscription(s *Store) *Subscription {
	return &Subscription{
		store: s,
		log:   logger.Default().WithComponent(logger.ComponentSubscription),
		latch: make(chan struct{}, 1),
	}
}

// run subscribes to the fetch channel and sets the latch for every message
// received. It returns when ctx is cancelled or the channel closes.
func (s *Subscription) run(ctx context.Context) {
	pubsub := s.store.client.Subscribe(ctx, s.store.keys.fetchChannel())
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			s.signal()
		}
	}
}

func (s *Subscription) signal() {
	select {
	case s.latch <- struct{}{}:
	default:
	}
}

// WaitForJob blocks until either the latch is set (a job was enqueued
// since the last wait), ctx is cancelled, or timeout elapses — whichever
// happens first. A Publish that lands strictly after WaitForJob begins is
// guaranteed to be observed; one that races with the prior fetch attempt
// is not, which is exactly why FetchNextJob retries its queue scan on
// every wake instead of trusting the signal's payload.
func (s *Subscription) WaitForJob(ctx context.Context, timeout time.Duration) error {
	// Drain any stale signal so a wake from before this call doesn't
	// return immediately for work this fetcher just finished handling.
	select {
	case <-s.latch:
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return errCancelled
	case <-s.latch:
		return nil
	case <-timer.C:
		return nil
	}
}
