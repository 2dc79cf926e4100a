package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"

	"github.com/goliatone/go-outreach/core"
)

const (
	defaultLease        = 5 * time.Minute
	defaultPollInterval = time.Second
)

// RetryPolicy bounds go-job nack requests against the outreach attempt cap.
type RetryPolicy struct {
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt clamps the nack delay and stops requeueing once the job
// used its last attempt.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int, maxAttempts int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if maxAttempts > 0 && attempt >= maxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax {
			out.DeadLetter = true
		}
	}
	return out
}

// ToExecutionMessage maps a queued job to go-job. The job type travels as
// JobID and the outreach job id as the idempotency key.
func ToExecutionMessage(j core.Job) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:          strings.TrimSpace(j.Type),
		ScriptPath:     strings.TrimSpace(j.Type),
		Parameters:     core.CopyAnyMap(j.Payload),
		IdempotencyKey: strings.TrimSpace(j.ID),
	}
}

// FromExecutionMessage is the inverse of ToExecutionMessage.
func FromExecutionMessage(msg *job.ExecutionMessage) core.Job {
	if msg == nil {
		return core.Job{}
	}
	jobType := strings.TrimSpace(msg.JobID)
	if jobType == "" {
		jobType = strings.TrimSpace(msg.ScriptPath)
	}
	return core.Job{
		ID:      strings.TrimSpace(msg.IdempotencyKey),
		Type:    jobType,
		Payload: core.CopyAnyMap(msg.Parameters),
	}
}

// Enqueuer is the part of the job queue go-job producers submit to.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload map[string]any, opts core.JobOptions) (string, error)
}

// QueueEnqueuer lets go-job producers, such as queued go-command
// dispatches, feed the outreach job queue.
type QueueEnqueuer struct {
	target  Enqueuer
	options core.JobOptions
}

func NewQueueEnqueuer(target Enqueuer, defaults core.JobOptions) *QueueEnqueuer {
	defaults.JobID = ""
	return &QueueEnqueuer{target: target, options: defaults}
}

func (e *QueueEnqueuer) Enqueue(ctx context.Context, msg *job.ExecutionMessage) error {
	if e == nil || e.target == nil {
		return fmt.Errorf("gojob: job queue is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	mapped := FromExecutionMessage(msg)
	if mapped.Type == "" {
		return fmt.Errorf("gojob: execution message job id is required")
	}
	opts := e.options
	opts.JobID = mapped.ID
	_, err := e.target.Enqueue(ctx, mapped.Type, mapped.Payload, opts)
	return err
}

// StoreDequeuer exposes a job store as a go-job dequeuer. Each delivery holds
// the lease of one claimed job.
type StoreDequeuer struct {
	store  core.JobStore
	policy RetryPolicy
	Lease  time.Duration
	Poll   time.Duration
	Now    func() time.Time
}

func NewStoreDequeuer(store core.JobStore, policy RetryPolicy) *StoreDequeuer {
	return &StoreDequeuer{
		store:  store,
		policy: policy,
		Lease:  defaultLease,
		Poll:   defaultPollInterval,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Dequeue blocks until a job is due or ctx ends.
func (d *StoreDequeuer) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if d == nil || d.store == nil {
		return nil, fmt.Errorf("gojob: job store is not configured")
	}
	poll := d.Poll
	if poll <= 0 {
		poll = defaultPollInterval
	}
	for {
		claim, ok, err := d.store.Claim(ctx, d.now(), d.lease())
		if err != nil {
			return nil, err
		}
		if ok {
			return &Delivery{store: d.store, claim: claim, policy: d.policy, now: d.now}, nil
		}
		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (d *StoreDequeuer) lease() time.Duration {
	if d.Lease <= 0 {
		return defaultLease
	}
	return d.Lease
}

func (d *StoreDequeuer) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

type Delivery struct {
	store  core.JobStore
	claim  core.JobClaim
	policy RetryPolicy
	now    func() time.Time
}

func (d *Delivery) Message() *job.ExecutionMessage {
	if d == nil {
		return nil
	}
	return ToExecutionMessage(d.claim.Job)
}

// Job returns the claimed job, lease token included.
func (d *Delivery) Job() core.Job {
	if d == nil {
		return core.Job{}
	}
	return d.claim.Job
}

func (d *Delivery) Ack(ctx context.Context) error {
	if d == nil || d.store == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	return d.store.Complete(ctx, d.claim.Job.ID, d.claim.LeaseToken, nil, d.now())
}

// Nack requeues the job after opts.Delay, or fails it when requeueing is not
// requested or the attempt cap is reached.
func (d *Delivery) Nack(ctx context.Context, opts queue.NackOptions) error {
	if d == nil || d.store == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	normalized := d.policy.NormalizeAttempt(opts, d.claim.Job.Attempts, d.claim.Job.MaxAttempts)
	reason := normalized.Reason
	if reason == "" {
		reason = "nacked"
	}
	now := d.now()
	if normalized.Requeue {
		return d.store.Retry(ctx, d.claim.Job.ID, d.claim.LeaseToken, reason, now.Add(normalized.Delay), now)
	}
	return d.store.Fail(ctx, d.claim.Job.ID, d.claim.LeaseToken, reason, now)
}

// WorkerHookAdapter forwards go-job worker events to an outreach hook.
type WorkerHookAdapter struct {
	hook core.JobWorkerHook
}

func NewWorkerHookAdapter(hook core.JobWorkerHook) *WorkerHookAdapter {
	return &WorkerHookAdapter{hook: hook}
}

func (a *WorkerHookAdapter) OnStart(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnStart(ctx, mapWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnSuccess(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnSuccess(ctx, mapWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnFailure(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnFailure(ctx, mapWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnRetry(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnRetry(ctx, mapWorkerEvent(event))
}

// JobHook forwards outreach worker transitions to a go-job hook.
type JobHook struct {
	hook worker.Hook
}

func NewJobHook(hook worker.Hook) *JobHook {
	return &JobHook{hook: hook}
}

func (h *JobHook) OnStart(ctx context.Context, event core.JobWorkerEvent) {
	if h == nil || h.hook == nil {
		return
	}
	h.hook.OnStart(ctx, toWorkerEvent(event))
}

func (h *JobHook) OnSuccess(ctx context.Context, event core.JobWorkerEvent) {
	if h == nil || h.hook == nil {
		return
	}
	h.hook.OnSuccess(ctx, toWorkerEvent(event))
}

func (h *JobHook) OnFailure(ctx context.Context, event core.JobWorkerEvent) {
	if h == nil || h.hook == nil {
		return
	}
	h.hook.OnFailure(ctx, toWorkerEvent(event))
}

func (h *JobHook) OnRetry(ctx context.Context, event core.JobWorkerEvent) {
	if h == nil || h.hook == nil {
		return
	}
	h.hook.OnRetry(ctx, toWorkerEvent(event))
}

func mapWorkerEvent(event worker.Event) core.JobWorkerEvent {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	return core.JobWorkerEvent{
		Job:       FromExecutionMessage(message),
		Attempt:   event.Attempt,
		Delay:     event.Delay,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	}
}

func toWorkerEvent(event core.JobWorkerEvent) worker.Event {
	return worker.Event{
		Message:   ToExecutionMessage(event.Job),
		Attempt:   event.Attempt,
		Delay:     event.Delay,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	}
}

var (
	_ queue.Enqueuer     = (*QueueEnqueuer)(nil)
	_ queue.Dequeuer     = (*StoreDequeuer)(nil)
	_ queue.Delivery     = (*Delivery)(nil)
	_ worker.Hook        = (*WorkerHookAdapter)(nil)
	_ core.JobWorkerHook = (*JobHook)(nil)
)
