package gojob

import (
	"context"
	"errors"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"

	"github.com/goliatone/go-outreach/core"
	"github.com/goliatone/go-outreach/jobs"
)

func TestMessageMappingRoundTrip(t *testing.T) {
	original := core.Job{
		ID:      "job-1",
		Type:    "bulk_list.add",
		Payload: map[string]any{"list_id": "l1"},
	}
	converted := ToExecutionMessage(original)
	if converted.JobID != "bulk_list.add" || converted.IdempotencyKey != "job-1" {
		t.Fatalf("unexpected go-job message %#v", converted)
	}
	roundTrip := FromExecutionMessage(converted)
	if roundTrip.ID != original.ID || roundTrip.Type != original.Type {
		t.Fatalf("expected id and type to survive mapping, got %#v", roundTrip)
	}
	if roundTrip.Payload["list_id"] != "l1" {
		t.Fatalf("expected parameters to survive mapping")
	}
	if FromExecutionMessage(&job.ExecutionMessage{ScriptPath: "push.deliver"}).Type != "push.deliver" {
		t.Fatalf("expected script path fallback for job type")
	}
}

type recordingEnqueuer struct {
	jobType string
	payload map[string]any
	opts    core.JobOptions
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, jobType string, payload map[string]any, opts core.JobOptions) (string, error) {
	r.jobType = jobType
	r.payload = payload
	r.opts = opts
	return opts.JobID, nil
}

func TestQueueEnqueuer_SubmitsToJobQueue(t *testing.T) {
	target := &recordingEnqueuer{}
	enqueuer := NewQueueEnqueuer(target, core.JobOptions{JobID: "ignored", Attempts: 4})

	err := enqueuer.Enqueue(context.Background(), &job.ExecutionMessage{
		JobID:          "bulk_list.add",
		Parameters:     map[string]any{"list_id": "l1"},
		IdempotencyKey: "idem-1",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if target.jobType != "bulk_list.add" || target.opts.JobID != "idem-1" || target.opts.Attempts != 4 {
		t.Fatalf("unexpected enqueue %q %#v", target.jobType, target.opts)
	}
	if err := enqueuer.Enqueue(context.Background(), &job.ExecutionMessage{}); err == nil {
		t.Fatalf("expected message without job id to fail")
	}
	if err := enqueuer.Enqueue(context.Background(), nil); err == nil {
		t.Fatalf("expected nil message to fail")
	}
}

func newQueuedStore(t *testing.T, ids ...string) *jobs.MemoryStore {
	t.Helper()
	store := jobs.NewMemoryStore()
	now := time.Now().UTC()
	for _, id := range ids {
		if _, err := store.Create(context.Background(), core.Job{
			ID:          id,
			Type:        "bulk_list.add",
			Payload:     map[string]any{"list_id": "l1"},
			State:       core.JobStateQueued,
			MaxAttempts: 2,
			RunAt:       now.Add(-time.Second),
			EnqueuedAt:  now,
		}); err != nil {
			t.Fatalf("create job: %v", err)
		}
	}
	return store
}

func TestStoreDequeuer_AckCompletesJob(t *testing.T) {
	ctx := context.Background()
	store := newQueuedStore(t, "job-1")
	dequeuer := NewStoreDequeuer(store, RetryPolicy{})

	delivery, err := dequeuer.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	msg := delivery.Message()
	if msg.JobID != "bulk_list.add" || msg.IdempotencyKey != "job-1" {
		t.Fatalf("unexpected message %#v", msg)
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	stored, _ := store.Get(ctx, "job-1")
	if stored.State != core.JobStateCompleted {
		t.Fatalf("expected completed job, got %s", stored.State)
	}
}

func TestStoreDequeuer_NackRespectsAttemptCap(t *testing.T) {
	ctx := context.Background()
	store := newQueuedStore(t, "job-1")
	now := time.Now().UTC()
	dequeuer := NewStoreDequeuer(store, RetryPolicy{MaxDelay: 10 * time.Second})
	dequeuer.Now = func() time.Time { return now }

	delivery, err := dequeuer.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := delivery.Nack(ctx, queue.NackOptions{Delay: time.Minute, Requeue: true, Reason: "transient"}); err != nil {
		t.Fatalf("nack first attempt: %v", err)
	}
	stored, _ := store.Get(ctx, "job-1")
	if stored.State != core.JobStateQueued || !stored.RunAt.Equal(now.Add(10*time.Second)) {
		t.Fatalf("expected bounded requeue, got %+v", stored)
	}

	dequeuer.Now = func() time.Time { return now.Add(time.Minute) }
	delivery, err = dequeuer.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue second attempt: %v", err)
	}
	if err := delivery.Nack(ctx, queue.NackOptions{Requeue: true, Reason: "still failing"}); err != nil {
		t.Fatalf("nack last attempt: %v", err)
	}
	stored, _ = store.Get(ctx, "job-1")
	if stored.State != core.JobStateFailed || stored.FailureReason != "still failing" {
		t.Fatalf("expected failed job after last attempt, got %+v", stored)
	}
}

func TestStoreDequeuer_DequeueHonoursContext(t *testing.T) {
	dequeuer := NewStoreDequeuer(jobs.NewMemoryStore(), RetryPolicy{})
	dequeuer.Poll = time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := dequeuer.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestWorkerHookAdapterEventMapping(t *testing.T) {
	now := time.Now().UTC().Add(-time.Second)
	coreHook := &capturingHook{}
	adapter := NewWorkerHookAdapter(coreHook)

	adapter.OnRetry(context.Background(), worker.Event{
		Message: &job.ExecutionMessage{
			JobID:          "push.deliver",
			IdempotencyKey: "job-7",
		},
		Attempt:   2,
		Delay:     5 * time.Second,
		Err:       errors.New("retry"),
		StartedAt: now,
		Duration:  250 * time.Millisecond,
	})
	if coreHook.last.Job.Type != "push.deliver" || coreHook.last.Job.ID != "job-7" {
		t.Fatalf("expected job mapping, got %#v", coreHook.last.Job)
	}
	if coreHook.last.Attempt != 2 || coreHook.last.Delay != 5*time.Second {
		t.Fatalf("unexpected attempt mapping %#v", coreHook.last)
	}
	if coreHook.last.Err == nil || coreHook.last.Err.Error() != "retry" {
		t.Fatalf("expected error mapping")
	}
}

func TestJobHookForwardsToGoJobHook(t *testing.T) {
	target := &capturingWorkerHook{}
	hook := NewJobHook(target)
	hook.OnFailure(context.Background(), core.JobWorkerEvent{
		Job:     core.Job{ID: "job-9", Type: "bulk_list.add"},
		Attempt: 3,
		Err:     errors.New("boom"),
	})
	if target.failures != 1 || target.last.Message == nil || target.last.Message.IdempotencyKey != "job-9" {
		t.Fatalf("unexpected forwarded event %#v", target.last)
	}
	if target.last.Attempt != 3 {
		t.Fatalf("expected attempt 3, got %d", target.last.Attempt)
	}
}

type capturingHook struct {
	last core.JobWorkerEvent
}

func (h *capturingHook) OnStart(context.Context, core.JobWorkerEvent)   {}
func (h *capturingHook) OnSuccess(context.Context, core.JobWorkerEvent) {}
func (h *capturingHook) OnFailure(context.Context, core.JobWorkerEvent) {}
func (h *capturingHook) OnRetry(_ context.Context, event core.JobWorkerEvent) {
	h.last = event
}

type capturingWorkerHook struct {
	last     worker.Event
	failures int
}

func (h *capturingWorkerHook) OnStart(context.Context, worker.Event)   {}
func (h *capturingWorkerHook) OnSuccess(context.Context, worker.Event) {}
func (h *capturingWorkerHook) OnFailure(_ context.Context, event worker.Event) {
	h.failures++
	h.last = event
}
func (h *capturingWorkerHook) OnRetry(context.Context, worker.Event) {}
