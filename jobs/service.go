package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-outreach/core"
)

type Config = core.JobsConfig

// closeGrace bounds how long Close waits for cancelled handlers to return.
const closeGrace = 2 * time.Second

func DefaultConfig() Config {
	return core.DefaultConfig().Jobs
}

type Option func(*Service)

func WithObserver(observer core.Observer) Option {
	return func(s *Service) {
		s.observer = observer
	}
}

func WithNotifier(notifier core.Notifier) Option {
	return func(s *Service) {
		if notifier != nil {
			s.notifier = notifier
		}
	}
}

// WithHooks appends worker hooks after the default observer hook.
func WithHooks(hooks ...core.JobWorkerHook) Option {
	return func(s *Service) {
		for _, hook := range hooks {
			if hook != nil {
				s.hooks = append(s.hooks, hook)
			}
		}
	}
}

// WithReader routes GetStatus through reader, e.g. a cached reader.
func WithReader(reader core.JobReader) Option {
	return func(s *Service) {
		if reader != nil {
			s.reader = reader
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// Service owns the job queue lifecycle. It is safe for concurrent use.
type Service struct {
	store    core.JobStore
	reader   core.JobReader
	cfg      Config
	notifier core.Notifier
	observer core.Observer
	hooks    []core.JobWorkerHook
	now      func() time.Time
	newID    func() string

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	mu             sync.Mutex
	started        bool
	closed         bool
	storeCtx       context.Context
	claimCtx       context.Context
	stopClaiming   context.CancelFunc
	handlerCtx     context.Context
	cancelHandlers context.CancelFunc
	inflight       map[string]string
	wg             sync.WaitGroup
}

func New(store core.JobStore, cfg Config, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("jobs: job store is required")
	}
	cfg = normalizeConfig(cfg)
	service := &Service{
		store:    store,
		reader:   store,
		cfg:      cfg,
		notifier: NewChannelNotifier(),
		handlers: map[string]Handler{},
		inflight: map[string]string{},
		now: func() time.Time {
			return time.Now().UTC()
		},
		newID: func() string {
			return uuid.NewString()
		},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(service)
	}
	service.hooks = append([]core.JobWorkerHook{ObserverHook{Observer: service.observer}}, service.hooks...)
	return service, nil
}

func normalizeConfig(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaults.Attempts
	}
	if cfg.BackoffBase < 0 {
		cfg.BackoffBase = 0
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = defaults.LeaseTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = defaults.ReapInterval
	}
	if cfg.KeepCompleted <= 0 {
		cfg.KeepCompleted = defaults.KeepCompleted
	}
	if cfg.KeepFailed <= 0 {
		cfg.KeepFailed = defaults.KeepFailed
	}
	return cfg
}

// Register binds a handler to a job type. Registering replaces any previous
// handler for the same type.
func (s *Service) Register(jobType string, handler Handler) error {
	jobType = strings.TrimSpace(jobType)
	if jobType == "" {
		return core.NewValidationError("jobs: job type is required")
	}
	if handler == nil {
		return core.NewValidationError("jobs: handler is required")
	}
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[jobType] = handler
	return nil
}

func (s *Service) handler(jobType string) Handler {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return s.handlers[jobType]
}

// Enqueue persists a queued job and returns its id without waiting for
// execution. A caller supplied id that already exists returns that id.
func (s *Service) Enqueue(ctx context.Context, jobType string, payload map[string]any, opts core.JobOptions) (jobID string, err error) {
	startedAt := time.Now()
	fields := map[string]any{"job_type": jobType}
	defer func() {
		fields["job_id"] = jobID
		s.observer.Observe(ctx, startedAt, "job.enqueue", err, fields)
	}()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", core.NewUnavailableError("jobs: queue is closed", nil)
	}

	jobType = strings.TrimSpace(jobType)
	if jobType == "" {
		return "", core.NewValidationError("jobs: job type is required")
	}
	if s.handler(jobType) == nil {
		return "", core.NewValidationError(fmt.Sprintf("jobs: unknown job type %q", jobType))
	}
	if opts.Attempts < 0 {
		return "", core.NewValidationError("jobs: attempts must not be negative")
	}

	attempts := opts.Attempts
	if attempts == 0 {
		attempts = s.cfg.Attempts
	}
	backoff := opts.Backoff
	if backoff.Type == "" {
		backoff.Type = core.BackoffExponential
	}
	if backoff.Delay <= 0 && backoff.Type != core.BackoffNone {
		backoff.Delay = s.cfg.BackoffBase
	}
	id := strings.TrimSpace(opts.JobID)
	if id == "" {
		id = s.newID()
	}

	now := s.now()
	job := core.Job{
		ID:          id,
		Type:        jobType,
		Payload:     core.CopyAnyMap(payload),
		State:       core.JobStateQueued,
		MaxAttempts: attempts,
		Backoff:     backoff,
		RunAt:       now,
		EnqueuedAt:  now,
		UpdatedAt:   now,
	}
	if _, err := s.store.Create(ctx, job); err != nil {
		if errors.Is(err, core.ErrJobExists) {
			fields["existing"] = true
			return id, nil
		}
		return "", core.NewUnavailableError("jobs: enqueue failed", err)
	}

	if err := s.notifier.Notify(ctx); err != nil {
		s.observer.Warn(ctx, "job enqueue notification failed", map[string]any{
			"job_id": id,
			"error":  err.Error(),
		})
	}
	return id, nil
}

func (s *Service) GetStatus(ctx context.Context, id string) (core.JobStatus, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return core.JobStatus{}, core.NewValidationError("jobs: job id is required")
	}
	job, err := s.reader.Get(ctx, id)
	if err != nil {
		if errors.Is(err, core.ErrJobNotFound) {
			return core.JobStatus{}, core.NewNotFoundError("jobs: job not found", map[string]any{"job_id": id})
		}
		return core.JobStatus{}, core.NewUnavailableError("jobs: load job status", err)
	}
	return job.Status(), nil
}

// Start launches the worker pool and the lease reaper. Cancelling ctx has the
// same effect as a Close whose deadline already passed.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.NewUnavailableError("jobs: queue is closed", nil)
	}
	if s.started {
		return nil
	}
	s.started = true
	s.storeCtx = context.WithoutCancel(ctx)
	s.handlerCtx, s.cancelHandlers = context.WithCancel(ctx)
	s.claimCtx, s.stopClaiming = context.WithCancel(s.handlerCtx)

	for i := 0; i < s.cfg.Concurrency; i++ {
		s.wg.Add(1)
		go s.workerLoop(i)
	}
	s.wg.Add(1)
	go s.reapLoop()

	s.observer.Info(ctx, "job queue started", map[string]any{
		"concurrency": s.cfg.Concurrency,
	})
	return nil
}

// Close stops claiming new jobs and waits for in-flight handlers. When ctx
// ends first, handler contexts are cancelled and workers get closeGrace to
// return. Leases still held after that are released back to the queue
// without consuming an attempt. Close is idempotent.
func (s *Service) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}

	s.stopClaiming()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancelHandlers()
		return nil
	case <-ctx.Done():
	}

	s.cancelHandlers()
	grace := time.NewTimer(closeGrace)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
	}
	var errs []error
	for jobID, token := range s.inflightSnapshot() {
		err := s.store.Release(s.storeCtx, jobID, token, s.now())
		if err != nil && !errors.Is(err, core.ErrLeaseLost) {
			errs = append(errs, fmt.Errorf("jobs: release %s: %w", jobID, err))
		}
	}
	s.observer.Warn(ctx, "job queue closed before in-flight jobs finished", map[string]any{
		"error": ctx.Err().Error(),
	})
	return errors.Join(append([]error{ctx.Err()}, errs...)...)
}

func (s *Service) workerLoop(worker int) {
	defer s.wg.Done()
	for {
		if s.claimCtx.Err() != nil {
			return
		}
		processed, err := s.processNext(worker)
		if err != nil && s.claimCtx.Err() == nil {
			s.observer.Warn(s.claimCtx, "job claim failed", map[string]any{
				"worker": worker,
				"error":  err.Error(),
			})
		}
		if processed {
			continue
		}
		s.notifier.Wait(s.claimCtx, s.cfg.PollInterval)
	}
}

func (s *Service) processNext(worker int) (bool, error) {
	claim, ok, err := s.store.Claim(s.claimCtx, s.now(), s.cfg.LeaseTimeout)
	if err != nil || !ok {
		return false, err
	}
	s.execute(worker, claim)
	return true, nil
}

func (s *Service) execute(worker int, claim core.JobClaim) {
	job := claim.Job
	token := claim.LeaseToken
	s.track(job.ID, token)
	defer s.untrack(job.ID)

	startedAt := time.Now()
	event := core.JobWorkerEvent{
		Job:       job,
		Attempt:   job.Attempts,
		StartedAt: startedAt,
	}
	s.emit(func(hook core.JobWorkerHook) { hook.OnStart(s.handlerCtx, event) })

	jobCtx, cancelJob := context.WithCancel(s.handlerCtx)
	defer cancelJob()
	var lost atomic.Bool
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		if !s.holdLease(jobCtx, worker, job, token) {
			lost.Store(true)
			cancelJob()
		}
	}()

	handler := s.handler(job.Type)
	var (
		result map[string]any
		err    error
	)
	if handler == nil {
		err = Permanent(core.NewJobHandlerError(fmt.Errorf("jobs: no handler registered for %q", job.Type), job.Type))
	} else {
		ctx := withProgress(jobCtx, func(_ context.Context, progress int) error {
			return s.store.UpdateProgress(s.storeCtx, job.ID, token, progress)
		})
		result, err = invoke(ctx, handler, job)
	}
	cancelJob()
	<-heartbeatDone
	if lost.Load() {
		return
	}
	event.Duration = time.Since(startedAt)
	now := s.now()

	if err != nil && s.handlerCtx.Err() != nil {
		if releaseErr := s.store.Release(s.storeCtx, job.ID, token, now); releaseErr != nil && !errors.Is(releaseErr, core.ErrLeaseLost) {
			s.observer.Error(s.storeCtx, "job lease release failed", map[string]any{
				"job_id": job.ID,
				"error":  releaseErr.Error(),
			})
		}
		return
	}

	if err == nil {
		event.Job.Result = result
		if storeErr := s.store.Complete(s.storeCtx, job.ID, token, result, now); storeErr != nil {
			s.leaseLost(worker, job, storeErr)
			return
		}
		event.Job.State = core.JobStateCompleted
		s.emit(func(hook core.JobWorkerHook) { hook.OnSuccess(s.storeCtx, event) })
		s.prune(core.JobStateCompleted, s.cfg.KeepCompleted)
		return
	}

	handlerErr := err
	if !IsPermanent(err) && !core.HasTextCode(err, core.ErrorJobHandlerFailed) {
		handlerErr = core.NewJobHandlerError(err, job.Type)
	}
	event.Err = handlerErr
	reason := strings.TrimSpace(err.Error())

	if IsPermanent(err) || !job.AttemptsRemaining() {
		if storeErr := s.store.Fail(s.storeCtx, job.ID, token, reason, now); storeErr != nil {
			s.leaseLost(worker, job, storeErr)
			return
		}
		event.Job.State = core.JobStateFailed
		event.Job.FailureReason = reason
		s.emit(func(hook core.JobWorkerHook) { hook.OnFailure(s.storeCtx, event) })
		s.prune(core.JobStateFailed, s.cfg.KeepFailed)
		return
	}

	delay := job.Backoff.DelayFor(job.Attempts)
	if storeErr := s.store.Retry(s.storeCtx, job.ID, token, reason, now.Add(delay), now); storeErr != nil {
		s.leaseLost(worker, job, storeErr)
		return
	}
	event.Delay = delay
	event.Job.State = core.JobStateQueued
	event.Job.FailureReason = reason
	s.emit(func(hook core.JobWorkerHook) { hook.OnRetry(s.storeCtx, event) })
}

// holdLease extends the lease of job every third of the lease timeout until
// ctx ends. It returns false once the lease belongs to someone else.
func (s *Service) holdLease(ctx context.Context, worker int, job core.Job, token string) bool {
	interval := max(s.cfg.LeaseTimeout/3, time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return true
		case <-ticker.C:
		}
		err := s.store.ExtendLease(s.storeCtx, job.ID, token, s.now().Add(s.cfg.LeaseTimeout))
		if err == nil {
			continue
		}
		if errors.Is(err, core.ErrLeaseLost) || errors.Is(err, core.ErrJobNotFound) {
			s.leaseLost(worker, job, err)
			return false
		}
		s.observer.Warn(s.storeCtx, "job lease extension failed", map[string]any{
			"worker": worker,
			"job_id": job.ID,
			"error":  err.Error(),
		})
	}
}

func (s *Service) leaseLost(worker int, job core.Job, err error) {
	level := s.observer.Error
	if errors.Is(err, core.ErrLeaseLost) {
		level = s.observer.Warn
	}
	level(s.storeCtx, "job outcome not recorded", map[string]any{
		"worker":   worker,
		"job_id":   job.ID,
		"job_type": job.Type,
		"attempt":  job.Attempts,
		"error":    err.Error(),
	})
}

func (s *Service) reapLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.claimCtx.Done():
			return
		case <-ticker.C:
			s.Reap(s.claimCtx)
		}
	}
}

// Reap requeues jobs whose lease expired and applies retention. The worker
// pool runs it on every reap interval.
func (s *Service) Reap(ctx context.Context) {
	requeued, err := s.store.RequeueExpired(ctx, s.now())
	if err != nil {
		s.observer.Warn(ctx, "job lease recovery failed", map[string]any{"error": err.Error()})
	} else if requeued > 0 {
		s.observer.Info(ctx, "job leases recovered", map[string]any{"count": requeued})
		_ = s.notifier.Notify(ctx)
	}
	s.prune(core.JobStateCompleted, s.cfg.KeepCompleted)
	s.prune(core.JobStateFailed, s.cfg.KeepFailed)
}

func (s *Service) prune(state core.JobState, keep int) {
	ctx := s.storeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	removed, err := s.store.Prune(ctx, state, keep)
	if err != nil {
		s.observer.Warn(ctx, "job retention failed", map[string]any{
			"state": string(state),
			"error": err.Error(),
		})
		return
	}
	if removed > 0 {
		s.observer.Debug(ctx, "job retention pruned jobs", map[string]any{
			"state":   string(state),
			"removed": removed,
		})
	}
}

func (s *Service) emit(fn func(core.JobWorkerHook)) {
	for _, hook := range s.hooks {
		fn(hook)
	}
}

func (s *Service) track(jobID string, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight[jobID] = token
}

func (s *Service) untrack(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, jobID)
}

func (s *Service) inflightSnapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.inflight))
	for key, value := range s.inflight {
		out[key] = value
	}
	return out
}
