package jobs

import (
	"context"
	"time"

	"github.com/goliatone/go-outreach/core"
)

// ObserverHook logs worker transitions and records job metrics.
type ObserverHook struct {
	Observer core.Observer
}

func (h ObserverHook) OnStart(ctx context.Context, event core.JobWorkerEvent) {
	h.Observer.Debug(ctx, "job started", hookFields(event))
	h.Observer.Count(ctx, "job.started", map[string]string{"job_type": event.Job.Type})
}

func (h ObserverHook) OnSuccess(ctx context.Context, event core.JobWorkerEvent) {
	fields := hookFields(event)
	fields["outcome"] = string(core.JobStateCompleted)
	h.Observer.Observe(ctx, time.Now().Add(-event.Duration), "job.execute", nil, fields)
}

func (h ObserverHook) OnFailure(ctx context.Context, event core.JobWorkerEvent) {
	fields := hookFields(event)
	fields["outcome"] = string(core.JobStateFailed)
	fields["will_retry"] = false
	h.Observer.Observe(ctx, time.Now().Add(-event.Duration), "job.execute", event.Err, fields)
}

func (h ObserverHook) OnRetry(ctx context.Context, event core.JobWorkerEvent) {
	fields := hookFields(event)
	fields["outcome"] = "retry"
	fields["will_retry"] = true
	fields["delay_ms"] = event.Delay.Milliseconds()
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	h.Observer.Warn(ctx, "job attempt failed, retry scheduled", fields)
	h.Observer.Count(ctx, "job.retry", map[string]string{"job_type": event.Job.Type})
}

func hookFields(event core.JobWorkerEvent) map[string]any {
	return map[string]any{
		"job_id":       event.Job.ID,
		"job_type":     event.Job.Type,
		"attempt":      event.Attempt,
		"max_attempts": event.Job.MaxAttempts,
	}
}

var _ core.JobWorkerHook = ObserverHook{}
