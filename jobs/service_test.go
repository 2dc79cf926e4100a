package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-outreach/core"
)

const testJobType = "test.job"

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Concurrency = 2
	cfg.Attempts = 3
	cfg.BackoffBase = time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	cfg.ReapInterval = time.Hour
	return cfg
}

func newTestService(t *testing.T, store core.JobStore, handler Handler, opts ...Option) *Service {
	t.Helper()
	service, err := New(store, testConfig(), opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := service.Register(testJobType, handler); err != nil {
		t.Fatalf("register: %v", err)
	}
	return service
}

func startService(t *testing.T, service *Service) {
	t.Helper()
	if err := service.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = service.Close(ctx)
	})
}

func waitForStatus(t *testing.T, service *Service, id string, match func(core.JobStatus) bool) core.JobStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		status, err := service.GetStatus(context.Background(), id)
		if err != nil {
			t.Fatalf("get status: %v", err)
		}
		if match(status) {
			return status
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for job %s, last status %+v", id, status)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func terminal(status core.JobStatus) bool {
	return status.State.Terminal()
}

func TestNormalizeConfig_RetentionFallsBackToDefaults(t *testing.T) {
	defaults := DefaultConfig()
	cfg := normalizeConfig(Config{KeepCompleted: 0, KeepFailed: -1})
	if cfg.KeepCompleted != defaults.KeepCompleted || cfg.KeepFailed != defaults.KeepFailed {
		t.Fatalf("expected retention defaults, got %d/%d", cfg.KeepCompleted, cfg.KeepFailed)
	}
	cfg = normalizeConfig(Config{KeepCompleted: 3, KeepFailed: 7})
	if cfg.KeepCompleted != 3 || cfg.KeepFailed != 7 {
		t.Fatalf("expected explicit retention to be kept, got %d/%d", cfg.KeepCompleted, cfg.KeepFailed)
	}
}

func TestService_CompletesAfterTransientFailures(t *testing.T) {
	var calls atomic.Int32
	service := newTestService(t, NewMemoryStore(), HandlerFunc(func(context.Context, core.Job) (map[string]any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("temporarily unavailable")
		}
		return map[string]any{"added": 7}, nil
	}))
	startService(t, service)

	id, err := service.Enqueue(context.Background(), testJobType, map[string]any{"list_id": "l1"}, core.JobOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	status := waitForStatus(t, service, id, terminal)
	if status.State != core.JobStateCompleted {
		t.Fatalf("expected completed, got %+v", status)
	}
	if status.Attempts != 3 {
		t.Fatalf("expected three attempts, got %d", status.Attempts)
	}
	if status.Result["added"] != 7 || status.Progress != 100 {
		t.Fatalf("unexpected result %+v", status)
	}
}

func TestService_FailsAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	service := newTestService(t, NewMemoryStore(), HandlerFunc(func(context.Context, core.Job) (map[string]any, error) {
		calls.Add(1)
		return nil, errors.New("downstream rejected the batch")
	}))
	startService(t, service)

	id, err := service.Enqueue(context.Background(), testJobType, nil, core.JobOptions{Attempts: 4})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	status := waitForStatus(t, service, id, terminal)
	if status.State != core.JobStateFailed {
		t.Fatalf("expected failed, got %+v", status)
	}
	if status.Attempts != 4 || calls.Load() != 4 {
		t.Fatalf("expected four attempts, got status %d calls %d", status.Attempts, calls.Load())
	}
	if !strings.Contains(status.Error, "downstream rejected") {
		t.Fatalf("expected failure reason, got %q", status.Error)
	}
}

func TestService_PermanentErrorSkipsRetries(t *testing.T) {
	var calls atomic.Int32
	service := newTestService(t, NewMemoryStore(), HandlerFunc(func(context.Context, core.Job) (map[string]any, error) {
		calls.Add(1)
		return nil, Permanent(errors.New("list does not exist"))
	}))
	startService(t, service)

	id, _ := service.Enqueue(context.Background(), testJobType, nil, core.JobOptions{})
	status := waitForStatus(t, service, id, terminal)
	if status.State != core.JobStateFailed || status.Attempts != 1 || calls.Load() != 1 {
		t.Fatalf("expected a single failed attempt, got %+v calls %d", status, calls.Load())
	}
}

func TestService_RecoversHandlerPanics(t *testing.T) {
	service := newTestService(t, NewMemoryStore(), HandlerFunc(func(context.Context, core.Job) (map[string]any, error) {
		panic("nil contact")
	}))
	startService(t, service)

	id, _ := service.Enqueue(context.Background(), testJobType, nil, core.JobOptions{Attempts: 2})
	status := waitForStatus(t, service, id, terminal)
	if status.State != core.JobStateFailed || status.Attempts != 2 {
		t.Fatalf("expected failure after two attempts, got %+v", status)
	}
	if !strings.Contains(status.Error, "panic") {
		t.Fatalf("expected panic reason, got %q", status.Error)
	}
}

func TestService_SchedulesRetryWithBackoff(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	handled := make(chan struct{}, 1)
	service := newTestService(t, store, HandlerFunc(func(context.Context, core.Job) (map[string]any, error) {
		handled <- struct{}{}
		return nil, errors.New("flaky")
	}), WithClock(func() time.Time { return now }))
	startService(t, service)

	id, err := service.Enqueue(context.Background(), testJobType, nil, core.JobOptions{
		Backoff: core.Backoff{Type: core.BackoffExponential, Delay: time.Hour},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	<-handled
	status := waitForStatus(t, service, id, func(status core.JobStatus) bool {
		return status.State == core.JobStateQueued && status.Attempts == 1
	})
	if status.Error != "flaky" {
		t.Fatalf("expected last failure reason, got %q", status.Error)
	}
	job, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !job.RunAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected run at now+1h, got %s", job.RunAt)
	}
}

func TestService_ReportsProgress(t *testing.T) {
	release := make(chan struct{})
	reported := make(chan struct{})
	service := newTestService(t, NewMemoryStore(), HandlerFunc(func(ctx context.Context, _ core.Job) (map[string]any, error) {
		if err := ReportProgress(ctx, 50); err != nil {
			return nil, err
		}
		close(reported)
		<-release
		return map[string]any{}, nil
	}))
	startService(t, service)

	id, _ := service.Enqueue(context.Background(), testJobType, nil, core.JobOptions{})
	<-reported
	status, err := service.GetStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.State != core.JobStateActive || status.Progress != 50 {
		t.Fatalf("expected active at 50%%, got %+v", status)
	}
	close(release)
	waitForStatus(t, service, id, terminal)
}

func TestService_EnqueueValidationAndIdempotency(t *testing.T) {
	store := NewMemoryStore()
	service := newTestService(t, store, HandlerFunc(func(context.Context, core.Job) (map[string]any, error) {
		return nil, nil
	}))

	if _, err := service.Enqueue(context.Background(), "unknown.type", nil, core.JobOptions{}); !core.HasTextCode(err, core.ErrorValidationFailed) {
		t.Fatalf("expected validation error for unknown type, got %v", err)
	}

	first, err := service.Enqueue(context.Background(), testJobType, nil, core.JobOptions{JobID: "bulk-l1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	second, err := service.Enqueue(context.Background(), testJobType, nil, core.JobOptions{JobID: "bulk-l1"})
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if first != "bulk-l1" || second != first || store.Len() != 1 {
		t.Fatalf("expected one job with the caller id, got %q %q len %d", first, second, store.Len())
	}

	status, err := service.GetStatus(context.Background(), first)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.State != core.JobStateQueued || status.MaxAttempts != 3 {
		t.Fatalf("unexpected queued status %+v", status)
	}
	if _, err := service.GetStatus(context.Background(), "missing"); !core.HasTextCode(err, core.ErrorNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type unavailableStore struct {
	*MemoryStore
}

func (unavailableStore) Create(context.Context, core.Job) (core.Job, error) {
	return core.Job{}, errors.New("dial tcp: connection refused")
}

func TestService_EnqueueFailsSynchronouslyWhenStoreIsDown(t *testing.T) {
	service := newTestService(t, unavailableStore{MemoryStore: NewMemoryStore()}, HandlerFunc(func(context.Context, core.Job) (map[string]any, error) {
		return nil, nil
	}))
	_, err := service.Enqueue(context.Background(), testJobType, nil, core.JobOptions{})
	if !core.HasTextCode(err, core.ErrorUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if core.HTTPStatus(err) != 503 {
		t.Fatalf("expected 503, got %d", core.HTTPStatus(err))
	}
}

func TestService_CloseWaitsForInFlightJobs(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	service := newTestService(t, NewMemoryStore(), HandlerFunc(func(context.Context, core.Job) (map[string]any, error) {
		close(started)
		<-release
		return map[string]any{"ok": true}, nil
	}))
	if err := service.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	id, _ := service.Enqueue(context.Background(), testJobType, nil, core.JobOptions{})
	<-started

	closed := make(chan error, 1)
	go func() {
		closed <- service.Close(context.Background())
	}()
	select {
	case err := <-closed:
		t.Fatalf("close returned before the handler finished: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	if err := <-closed; err != nil {
		t.Fatalf("close: %v", err)
	}

	status, _ := service.GetStatus(context.Background(), id)
	if status.State != core.JobStateCompleted {
		t.Fatalf("expected completed job, got %+v", status)
	}
	if _, err := service.Enqueue(context.Background(), testJobType, nil, core.JobOptions{}); err == nil {
		t.Fatalf("expected enqueue after close to fail")
	}
	if err := service.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestService_CloseTimeoutReleasesLeases(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	var returned atomic.Bool
	service := newTestService(t, NewMemoryStore(), HandlerFunc(func(ctx context.Context, _ core.Job) (map[string]any, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		returned.Store(true)
		return nil, ctx.Err()
	}))
	if err := service.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	id, _ := service.Enqueue(context.Background(), testJobType, nil, core.JobOptions{})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := service.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if !returned.Load() {
		t.Fatalf("expected close to wait for the cancelled handler to return")
	}

	status := waitForStatus(t, service, id, func(status core.JobStatus) bool {
		return status.State == core.JobStateQueued
	})
	if status.Attempts != 0 {
		t.Fatalf("expected released job to keep its attempt budget, got %d", status.Attempts)
	}
}

func TestService_ExtendsLeaseWhileHandlerRuns(t *testing.T) {
	cfg := testConfig()
	cfg.LeaseTimeout = 50 * time.Millisecond
	cfg.ReapInterval = 10 * time.Millisecond
	service, err := New(NewMemoryStore(), cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	var calls, running, maxRunning atomic.Int32
	err = service.Register(testJobType, HandlerFunc(func(context.Context, core.Job) (map[string]any, error) {
		calls.Add(1)
		current := running.Add(1)
		defer running.Add(-1)
		for {
			seen := maxRunning.Load()
			if current <= seen || maxRunning.CompareAndSwap(seen, current) {
				break
			}
		}
		time.Sleep(300 * time.Millisecond)
		return map[string]any{"ok": true}, nil
	}))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	startService(t, service)

	id, err := service.Enqueue(context.Background(), testJobType, nil, core.JobOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	status := waitForStatus(t, service, id, terminal)
	if status.State != core.JobStateCompleted || status.Attempts != 1 {
		t.Fatalf("expected completion on the first attempt, got %+v", status)
	}
	if calls.Load() != 1 || maxRunning.Load() != 1 {
		t.Fatalf("expected a single holder, got %d calls and %d concurrent runs", calls.Load(), maxRunning.Load())
	}
}

func TestService_LostLeaseCancelsHandler(t *testing.T) {
	store := NewMemoryStore()
	cfg := testConfig()
	cfg.Concurrency = 1
	cfg.LeaseTimeout = 30 * time.Millisecond
	service, err := New(store, cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	started := make(chan struct{})
	cancelled := make(chan struct{})
	var calls atomic.Int32
	err = service.Register(testJobType, HandlerFunc(func(ctx context.Context, _ core.Job) (map[string]any, error) {
		calls.Add(1)
		close(started)
		<-ctx.Done()
		close(cancelled)
		return nil, ctx.Err()
	}))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	startService(t, service)

	id, _ := service.Enqueue(context.Background(), testJobType, nil, core.JobOptions{})
	<-started
	if count, err := store.RequeueExpired(context.Background(), time.Now().Add(time.Hour)); err != nil || count != 1 {
		t.Fatalf("expected the lease to be taken away, got %d (%v)", count, err)
	}
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected handler context to be cancelled after the lease was lost")
	}

	status, err := service.GetStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.State != core.JobStateQueued || status.Attempts != 1 || status.Error != "lease expired" {
		t.Fatalf("expected the stale worker to leave the requeued job alone, got %+v", status)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single handler call, got %d", calls.Load())
	}
}

type recordingHook struct {
	mu      sync.Mutex
	retries []core.JobWorkerEvent
	failed  []core.JobWorkerEvent
}

func (h *recordingHook) OnStart(context.Context, core.JobWorkerEvent)   {}
func (h *recordingHook) OnSuccess(context.Context, core.JobWorkerEvent) {}

func (h *recordingHook) OnFailure(_ context.Context, event core.JobWorkerEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failed = append(h.failed, event)
}

func (h *recordingHook) OnRetry(_ context.Context, event core.JobWorkerEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retries = append(h.retries, event)
}

func TestService_HooksSeeRetryDelays(t *testing.T) {
	hook := &recordingHook{}
	service := newTestService(t, NewMemoryStore(), HandlerFunc(func(context.Context, core.Job) (map[string]any, error) {
		return nil, errors.New("nope")
	}), WithHooks(hook))
	startService(t, service)

	id, _ := service.Enqueue(context.Background(), testJobType, nil, core.JobOptions{
		Attempts: 3,
		Backoff:  core.Backoff{Type: core.BackoffExponential, Delay: time.Millisecond},
	})
	waitForStatus(t, service, id, terminal)

	hook.mu.Lock()
	defer hook.mu.Unlock()
	if len(hook.retries) != 2 || len(hook.failed) != 1 {
		t.Fatalf("expected two retries and one failure, got %d/%d", len(hook.retries), len(hook.failed))
	}
	if hook.retries[0].Delay != time.Millisecond || hook.retries[1].Delay != 2*time.Millisecond {
		t.Fatalf("unexpected delays %s %s", hook.retries[0].Delay, hook.retries[1].Delay)
	}
	if !core.HasTextCode(hook.failed[0].Err, core.ErrorJobHandlerFailed) {
		t.Fatalf("expected job handler error, got %v", hook.failed[0].Err)
	}
}
