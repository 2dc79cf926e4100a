package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// EventLedger records inbound events at most once per dedup key. Record
// reports created=false for an existing key and never treats that as an error.
type EventLedger interface {
	Record(ctx context.Context, event InboundEvent) (created bool, err error)
}

// EventPublisher fans newly recorded events out to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event InboundEvent) error
}

// JobStore is the durable backing of the job queue. Mutations on an active
// job are conditioned on the lease token handed out by Claim and fail with
// ErrLeaseLost when the caller no longer holds it.
type JobStore interface {
	Create(ctx context.Context, job Job) (Job, error)
	Get(ctx context.Context, id string) (Job, error)
	Claim(ctx context.Context, now time.Time, lease time.Duration) (JobClaim, bool, error)
	Complete(ctx context.Context, id string, leaseToken string, result map[string]any, now time.Time) error
	Retry(ctx context.Context, id string, leaseToken string, reason string, runAt time.Time, now time.Time) error
	Fail(ctx context.Context, id string, leaseToken string, reason string, now time.Time) error
	Release(ctx context.Context, id string, leaseToken string, now time.Time) error
	UpdateProgress(ctx context.Context, id string, leaseToken string, progress int) error
	// ExtendLease moves the lease deadline of an active job to until. It
	// returns ErrLeaseLost once leaseToken no longer holds the job.
	ExtendLease(ctx context.Context, id string, leaseToken string, until time.Time) error
	RequeueExpired(ctx context.Context, now time.Time) (int, error)
	Prune(ctx context.Context, state JobState, keep int) (int, error)
}

type JobReader interface {
	Get(ctx context.Context, id string) (Job, error)
}

// ContactStore is the shared contact/list store mutated by bulk list jobs.
// AddListMembers must be idempotent and report only rows it inserted.
type ContactStore interface {
	MatchContacts(ctx context.Context, criteria Criteria) ([]string, error)
	ListMembers(ctx context.Context, listID string, contactIDs []string) (map[string]bool, error)
	AddListMembers(ctx context.Context, listID string, contactIDs []string) (int, error)
}

type PushAttemptStore interface {
	Load(ctx context.Context, contentID string, targetURL string) (PushAttempt, bool, error)
	Save(ctx context.Context, attempt PushAttempt) error
}

// Notifier wakes idle workers when work is enqueued. Wait returns true when
// a notification arrived before the timeout.
type Notifier interface {
	Notify(ctx context.Context) error
	Wait(ctx context.Context, timeout time.Duration) bool
}

// Scheduler performs the only explicit waits in the system. Wait returns
// early with the context error when ctx is done.
type Scheduler interface {
	Wait(ctx context.Context, d time.Duration) error
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Job       Job
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// StoreProvider hands out the durable stores behind the runtime.
type StoreProvider interface {
	EventLedger() EventLedger
	JobStore() JobStore
	ContactStore() ContactStore
	PushAttemptStore() PushAttemptStore
}
