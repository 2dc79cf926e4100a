// Package jobs runs the asynchronous job queue: callers enqueue typed jobs
// and poll their status while a bounded pool of workers claims runnable jobs
// from a core.JobStore, executes the registered handler and records the
// outcome. Failed attempts are retried with backoff until the attempt budget
// is spent.
//
// Workers hold a lease on every claimed job. Expired leases are reclaimed by
// a reaper so a crashed worker never strands a job in the active state.
package jobs
