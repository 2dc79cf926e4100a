package jobs

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-outreach/core"
)

// MemoryStore is a process local JobStore for tests and single node runs.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*memoryJob
	seq  int64
}

type memoryJob struct {
	job core.Job
	seq int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: map[string]*memoryJob{}}
}

func (s *MemoryStore) Create(_ context.Context, job core.Job) (core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := strings.TrimSpace(job.ID)
	if id == "" {
		return core.Job{}, core.NewValidationError("jobs: job id is required")
	}
	if _, exists := s.jobs[id]; exists {
		return core.Job{}, core.ErrJobExists
	}
	s.seq++
	job.ID = id
	s.jobs[id] = &memoryJob{job: cloneJob(job), seq: s.seq}
	return cloneJob(job), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.jobs[strings.TrimSpace(id)]
	if !ok {
		return core.Job{}, core.ErrJobNotFound
	}
	return cloneJob(record.job), nil
}

// Claim leases the oldest runnable job.
func (s *MemoryStore) Claim(_ context.Context, now time.Time, lease time.Duration) (core.JobClaim, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *memoryJob
	for _, record := range s.jobs {
		if record.job.State != core.JobStateQueued || record.job.RunAt.After(now) {
			continue
		}
		if next == nil || record.job.RunAt.Before(next.job.RunAt) ||
			(record.job.RunAt.Equal(next.job.RunAt) && record.seq < next.seq) {
			next = record
		}
	}
	if next == nil {
		return core.JobClaim{}, false, nil
	}

	token := uuid.NewString()
	expires := now.Add(lease)
	next.job.State = core.JobStateActive
	next.job.Attempts++
	next.job.LeaseToken = token
	next.job.LeaseExpiresAt = &expires
	if next.job.StartedAt == nil {
		started := now
		next.job.StartedAt = &started
	}
	next.job.UpdatedAt = now
	return core.JobClaim{Job: cloneJob(next.job), LeaseToken: token}, true, nil
}

func (s *MemoryStore) Complete(_ context.Context, id string, leaseToken string, result map[string]any, now time.Time) error {
	return s.mutateLeased(id, leaseToken, func(job *core.Job) {
		finished := now
		job.State = core.JobStateCompleted
		job.Result = core.CopyAnyMap(result)
		job.Progress = 100
		job.FailureReason = ""
		job.FinishedAt = &finished
		job.UpdatedAt = now
	})
}

func (s *MemoryStore) Retry(_ context.Context, id string, leaseToken string, reason string, runAt time.Time, now time.Time) error {
	return s.mutateLeased(id, leaseToken, func(job *core.Job) {
		job.State = core.JobStateQueued
		job.FailureReason = reason
		job.RunAt = runAt
		job.UpdatedAt = now
	})
}

func (s *MemoryStore) Fail(_ context.Context, id string, leaseToken string, reason string, now time.Time) error {
	return s.mutateLeased(id, leaseToken, func(job *core.Job) {
		finished := now
		job.State = core.JobStateFailed
		job.FailureReason = reason
		job.FinishedAt = &finished
		job.UpdatedAt = now
	})
}

// Release hands a leased job back to the queue and returns its attempt.
func (s *MemoryStore) Release(_ context.Context, id string, leaseToken string, now time.Time) error {
	return s.mutateLeased(id, leaseToken, func(job *core.Job) {
		job.State = core.JobStateQueued
		if job.Attempts > 0 {
			job.Attempts--
		}
		job.RunAt = now
		job.UpdatedAt = now
	})
}

func (s *MemoryStore) UpdateProgress(_ context.Context, id string, leaseToken string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.jobs[strings.TrimSpace(id)]
	if !ok {
		return core.ErrJobNotFound
	}
	if record.job.State != core.JobStateActive || record.job.LeaseToken != leaseToken {
		return core.ErrLeaseLost
	}
	record.job.Progress = clampProgress(progress)
	return nil
}

func (s *MemoryStore) ExtendLease(_ context.Context, id string, leaseToken string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.jobs[strings.TrimSpace(id)]
	if !ok {
		return core.ErrJobNotFound
	}
	if record.job.State != core.JobStateActive || record.job.LeaseToken != leaseToken {
		return core.ErrLeaseLost
	}
	deadline := until.UTC()
	record.job.LeaseExpiresAt = &deadline
	return nil
}

func (s *MemoryStore) RequeueExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, record := range s.jobs {
		job := &record.job
		if job.State != core.JobStateActive || job.LeaseExpiresAt == nil || job.LeaseExpiresAt.After(now) {
			continue
		}
		job.FailureReason = "lease expired"
		job.UpdatedAt = now
		clearLease(job)
		if job.AttemptsRemaining() {
			job.State = core.JobStateQueued
			job.RunAt = now
		} else {
			finished := now
			job.State = core.JobStateFailed
			job.FinishedAt = &finished
		}
		count++
	}
	return count, nil
}

// Prune keeps the newest keep jobs in state, ordered by finish time.
func (s *MemoryStore) Prune(_ context.Context, state core.JobState, keep int) (int, error) {
	if keep < 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]*memoryJob, 0)
	for _, record := range s.jobs {
		if record.job.State == state {
			matched = append(matched, record)
		}
	}
	if len(matched) <= keep {
		return 0, nil
	}
	sort.Slice(matched, func(i, j int) bool {
		left, right := finishedAt(matched[i].job), finishedAt(matched[j].job)
		if !left.Equal(right) {
			return left.After(right)
		}
		return matched[i].seq > matched[j].seq
	})
	for _, record := range matched[keep:] {
		delete(s.jobs, record.job.ID)
	}
	return len(matched) - keep, nil
}

// Len reports the number of stored jobs.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *MemoryStore) mutateLeased(id string, leaseToken string, mutate func(*core.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.jobs[strings.TrimSpace(id)]
	if !ok {
		return core.ErrJobNotFound
	}
	if record.job.State != core.JobStateActive || record.job.LeaseToken != leaseToken {
		return core.ErrLeaseLost
	}
	mutate(&record.job)
	clearLease(&record.job)
	return nil
}

func clearLease(job *core.Job) {
	job.LeaseToken = ""
	job.LeaseExpiresAt = nil
}

func finishedAt(job core.Job) time.Time {
	if job.FinishedAt != nil {
		return *job.FinishedAt
	}
	return job.UpdatedAt
}

func cloneJob(job core.Job) core.Job {
	out := job
	out.Payload = core.CopyAnyMap(job.Payload)
	out.Result = core.CopyAnyMap(job.Result)
	out.LeaseExpiresAt = copyTime(job.LeaseExpiresAt)
	out.StartedAt = copyTime(job.StartedAt)
	out.FinishedAt = copyTime(job.FinishedAt)
	return out
}

func copyTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	out := *value
	return &out
}

var _ core.JobStore = (*MemoryStore)(nil)
