package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/hangfire-go/redisstore/internal/job"
	"github.com/hangfire-go/redisstore/internal/statehandler"
	"github.com/redis/go-redis/v9"
)

func zIsMember(ctx context.Context, s *Store, key, member string) bool {
	_, err := s.client.ZScore(ctx, key, member).Result()
	return err != redis.Nil
}

// TestIntegration_StateTransitionThroughHandlers exercises the scenario an
// outer scheduler drives: fetch a job, then commit its new state alongside
// every registered state handler in one write transaction.
func TestIntegration_StateTransitionThroughHandlers(t *testing.T) {
	s, mr := newTestStore(t, Options{SucceededListSize: 499, DeletedListSize: 499})
	ctx := context.Background()
	conn := s.Connection()
	registry := statehandler.NewDefaultRegistry(s.opts.SucceededListSize, s.opts.DeletedListSize)

	id, err := conn.CreateExpiredJob(ctx, job.Invocation{Type: "Reports", Method: "Run"}, nil, time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	enqueueTx := s.NewTransaction()
	enqueueTx.AddToQueue(ctx, "reports", id)
	if err := enqueueTx.Commit(ctx); err != nil {
		t.Fatalf("enqueue commit: %v", err)
	}

	fj, err := conn.FetchNextJob(ctx, []string{"reports"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	tx := s.NewTransaction()
	tx.SetJobState(ctx, fj.JobID, job.StateData{Name: "Processing", Data: map[string]string{"Server": "s1"}})
	registry.ApplyAll(ctx, tx, fj.JobID, "Processing", time.Now().Unix())
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("processing commit: %v", err)
	}
	if err := fj.RemoveFromQueue(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}

	state := mr.HGet("{hangfire}:job:"+id, "State")
	if state != "Processing" {
		t.Fatalf("expected State=Processing on job hash, got %q", state)
	}
	server := mr.HGet("{hangfire}:job:"+id+":state", "Server")
	if server != "s1" {
		t.Fatalf("expected Server=s1 on state hash, got %q", server)
	}
	if !zIsMember(ctx, s, "{hangfire}:processing", id) {
		t.Fatal("expected job registered in processing sorted set")
	}
	history, _ := mr.List("{hangfire}:job:" + id + ":history")
	if len(history) != 1 {
		t.Fatalf("expected one history entry, got %d", len(history))
	}

	// Transition Processing -> Succeeded, unapplying the Processing index
	// and applying the Succeeded one in the same transaction.
	tx = s.NewTransaction()
	registry.UnapplyAll(ctx, tx, id, "Processing")
	tx.SetJobState(ctx, id, job.StateData{Name: "Succeeded"})
	registry.ApplyAll(ctx, tx, id, "Succeeded", time.Now().Unix())
	tx.ExpireJob(ctx, id, time.Hour)
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("succeeded commit: %v", err)
	}

	if zIsMember(ctx, s, "{hangfire}:processing", id) {
		t.Fatal("expected job removed from processing set after transition")
	}
	succeeded, _ := mr.List("{hangfire}:succeeded")
	if len(succeeded) != 1 || succeeded[0] != id {
		t.Fatalf("expected job recorded in succeeded list, got %v", succeeded)
	}
	if mr.TTL("{hangfire}:job:"+id) <= 0 {
		t.Fatal("expected a TTL set on the terminal job hash")
	}
}

// TestIntegration_AtLeastOnce exercises the core liveness property: a crash
// between fetch and ack is recovered by the Fetched-Jobs Watcher.
func TestIntegration_AtLeastOnce(t *testing.T) {
	s, mr := newTestStore(t, Options{InvisibilityTimeout: 10 * time.Millisecond})
	ctx := context.Background()
	conn := s.Connection()

	tx := s.NewTransaction()
	tx.AddToQueue(ctx, "critical", "crash-job")
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if _, err := conn.FetchNextJob(ctx, []string{"critical"}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	// The worker crashes here without ever calling RemoveFromQueue or Requeue.

	time.Sleep(20 * time.Millisecond)

	w := NewFetchedJobsWatcher(s)
	w.runCycle(ctx)

	pending, _ := mr.List("{hangfire}:queue:critical")
	if len(pending) != 1 || pending[0] != "crash-job" {
		t.Fatalf("expected crash-job recovered to the pending queue, got %v", pending)
	}
	dequeued, _ := mr.List("{hangfire}:queue:critical:dequeued")
	if len(dequeued) != 0 {
		t.Fatalf("expected dequeued list drained after recovery, got %v", dequeued)
	}
}
