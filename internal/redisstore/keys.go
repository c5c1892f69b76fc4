package redisstore

import "strings"

// keys builds every prefixed key name the storage core touches. All keys
// share one prefix so that a Redis Cluster hash-tag (the default prefix is
// itself a hash-tag, "{hangfire}:") keeps related keys on one slot.
type keys struct {
	prefix string
}

func newKeys(prefix string) keys {
	return keys{prefix: prefix}
}

func (k keys) build(parts ...string) string {
	var b strings.Builder
	b.WriteString(k.prefix)
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(p)
	}
	return b.String()
}

func (k keys) queues() string                { return k.build("queues") }
func (k keys) queue(q string) string         { return k.build("queue", q) }
func (k keys) queueDequeued(q string) string { return k.build("queue", q, "dequeued") }
func (k keys) queueDequeuedLock(q string) string {
	return k.build("queue", q, "dequeued", "lock")
}

func (k keys) job(id string) string        { return k.build("job", id) }
func (k keys) jobState(id string) string   { return k.build("job", id, "state") }
func (k keys) jobHistory(id string) string { return k.build("job", id, "history") }

func (k keys) servers() string                { return k.build("servers") }
func (k keys) server(sid string) string       { return k.build("server", sid) }
func (k keys) serverQueues(sid string) string { return k.build("server", sid, "queues") }

func (k keys) schedule() string   { return k.build("schedule") }
func (k keys) processing() string { return k.build("processing") }
func (k keys) failed() string     { return k.build("failed") }
func (k keys) succeeded() string  { return k.build("succeeded") }
func (k keys) deleted() string    { return k.build("deleted") }

func (k keys) statsCounter(name string) string { return k.build("stats", name) }

func (k keys) recurringJobs() string         { return k.build("recurring-jobs") }
func (k keys) recurringJob(id string) string { return k.build("recurring-job", id) }
func (k keys) recurringJobLock(id string) string {
	return k.build("recurring-job", id, "lock")
}

func (k keys) fetchChannel() string { return k.build("JobFetchChannel") }
