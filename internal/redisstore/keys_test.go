package redisstore

import "testing"

func TestKeys_PrefixApplied(t *testing.T) {
	k := newKeys("{hangfire}:")

	cases := map[string]string{
		"queues":                   k.queues(),
		"queue:critical":           k.queue("critical"),
		"queue:critical:dequeued":  k.queueDequeued("critical"),
		"job:abc":                  k.job("abc"),
		"job:abc:state":            k.jobState("abc"),
		"job:abc:history":          k.jobHistory("abc"),
		"servers":                  k.servers(),
		"server:s1":                k.server("s1"),
		"server:s1:queues":         k.serverQueues("s1"),
		"schedule":                 k.schedule(),
		"processing":               k.processing(),
		"failed":                   k.failed(),
		"succeeded":                k.succeeded(),
		"deleted":                  k.deleted(),
		"stats:succeeded":          k.statsCounter("succeeded"),
		"recurring-jobs":           k.recurringJobs(),
		"recurring-job:daily":      k.recurringJob("daily"),
		"recurring-job:daily:lock": k.recurringJobLock("daily"),
		"JobFetchChannel":          k.fetchChannel(),
	}
	for want, got := range cases {
		if got != "{hangfire}:"+want {
			t.Errorf("expected %q, got %q", "{hangfire}:"+want, got)
		}
	}
}

func TestKeys_DequeuedLockDistinctFromDequeued(t *testing.T) {
	k := newKeys("{hangfire}:")
	if k.queueDequeued("q") == k.queueDequeuedLock("q") {
		t.Fatal("expected dequeued list and its lock to be distinct keys")
	}
}
