package core

import (
	"strings"
	"time"
)

type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

func (s JobState) Valid() bool {
	switch s {
	case JobStateQueued, JobStateActive, JobStateCompleted, JobStateFailed:
		return true
	default:
		return false
	}
}

type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffFixed       BackoffType = "fixed"
	// BackoffNone requeues immediately; the handler owns its own pacing.
	BackoffNone        BackoffType = "none"
)

// Backoff configures the delay between job attempts.
type Backoff struct {
	Type  BackoffType   `json:"type"`
	Delay time.Duration `json:"delay"`
}

// DelayFor returns the wait before the attempt that follows attempt number
// attempt. Exponential backoff yields Delay * 2^(attempt-1).
func (b Backoff) DelayFor(attempt int) time.Duration {
	if attempt <= 0 || b.Delay <= 0 || b.Type == BackoffNone {
		return 0
	}
	if b.Type == BackoffFixed {
		return b.Delay
	}
	return RetryPolicy{Base: b.Delay}.DelayFor(attempt)
}

type JobOptions struct {
	// JobID lets callers pick a deterministic id. Empty ids are generated.
	JobID    string
	Attempts int
	Backoff  Backoff
}

type Job struct {
	ID             string
	Type           string
	Payload        map[string]any
	State          JobState
	Attempts       int
	MaxAttempts    int
	Backoff        Backoff
	Progress       int
	Result         map[string]any
	FailureReason  string
	LeaseToken     string
	LeaseExpiresAt *time.Time
	RunAt          time.Time
	EnqueuedAt     time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	UpdatedAt      time.Time
}

// AttemptsRemaining reports whether another try may be scheduled.
func (j Job) AttemptsRemaining() bool {
	return j.Attempts < j.MaxAttempts
}

func (j Job) Status() JobStatus {
	return JobStatus{
		ID:          j.ID,
		Type:        j.Type,
		State:       j.State,
		Progress:    j.Progress,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		Result:      CopyAnyMap(j.Result),
		Error:       strings.TrimSpace(j.FailureReason),
		EnqueuedAt:  j.EnqueuedAt,
		StartedAt:   j.StartedAt,
		FinishedAt:  j.FinishedAt,
	}
}

// JobStatus is the read model returned to pollers.
type JobStatus struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	State       JobState       `json:"state"`
	Progress    int            `json:"progress"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	EnqueuedAt  time.Time      `json:"enqueued_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
}

// JobClaim is the lease handed to a worker.
type JobClaim struct {
	Job        Job
	LeaseToken string
}

func CopyAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
