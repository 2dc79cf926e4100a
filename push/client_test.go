package push

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-outreach/core"
	"github.com/goliatone/go-outreach/jobs"
	"github.com/goliatone/go-outreach/signing"
)

const testSecret = "push-secret"

var fixedNow = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

type recordingScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
	err    error
}

func (s *recordingScheduler) Wait(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return s.err
}

type target struct {
	server *httptest.Server
	calls  atomic.Int32
}

func newTarget(t *testing.T, status int, body string) *target {
	t.Helper()
	tgt := &target{}
	tgt.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tgt.calls.Add(1)
		raw, _ := io.ReadAll(r.Body)
		if r.URL.Path != ImportPath || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		ok := signing.Verify([]byte(testSecret), r.Header.Get(signing.HeaderTimestamp), raw,
			r.Header.Get(signing.HeaderSignature), 300*time.Second, fixedNow)
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(tgt.server.Close)
	return tgt
}

func newTestClient(t *testing.T, scheduler core.Scheduler) *Client {
	t.Helper()
	client, err := NewClient(core.PushConfig{
		Secret:      testSecret,
		BaseDelay:   time.Second,
		MaxAttempts: 3,
	}, WithScheduler(scheduler), WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func sampleArticle() Article {
	return Article{ID: "c1", Title: "Pipeline hygiene", Body: "...", URL: "https://example.com/a"}
}

func TestPush_SuccessCarriesExternalID(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`{"id":"ext-1"}`, "ext-1"},
		{`{"external_id":"ext-2"}`, "ext-2"},
		{`{"externalId":42}`, "42"},
		{`{"accepted":true}`, ""},
	}
	for _, tc := range cases {
		tgt := newTarget(t, http.StatusCreated, tc.body)
		result := newTestClient(t, &recordingScheduler{}).Push(context.Background(), sampleArticle(), tgt.server.URL+"/")
		if !result.Success || result.Err != nil {
			t.Fatalf("expected success for %s, got %+v", tc.body, result)
		}
		if result.ExternalID != tc.want {
			t.Fatalf("expected external id %q, got %q", tc.want, result.ExternalID)
		}
	}
}

func TestPush_ClassifiesFailures(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		retryable bool
		code      string
	}{
		{"server error", http.StatusServiceUnavailable, `{"error":"down"}`, true, core.ErrorDeliveryTransient},
		{"rate limited", http.StatusTooManyRequests, ``, true, core.ErrorDeliveryTransient},
		{"bad request", http.StatusBadRequest, `{"error":"title required"}`, false, core.ErrorDeliveryTerminal},
		{"html on success", http.StatusOK, `<html>ok</html>`, false, core.ErrorDeliveryTerminal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tgt := newTarget(t, tc.status, tc.body)
			result := newTestClient(t, &recordingScheduler{}).Push(context.Background(), sampleArticle(), tgt.server.URL)
			if result.Success {
				t.Fatalf("expected failure")
			}
			if result.Retryable != tc.retryable || core.IsRetryable(result.Err) != tc.retryable {
				t.Fatalf("expected retryable=%v, got %+v", tc.retryable, result)
			}
			if !core.HasTextCode(result.Err, tc.code) {
				t.Fatalf("expected %s, got %v", tc.code, result.Err)
			}
			if result.RawBody != tc.body || result.StatusCode != tc.status || result.Reason == "" {
				t.Fatalf("expected raw body and reason, got %+v", result)
			}
		})
	}
}

func TestPush_TransportErrorIsTransient(t *testing.T) {
	tgt := newTarget(t, http.StatusOK, `{}`)
	url := tgt.server.URL
	tgt.server.Close()

	result := newTestClient(t, &recordingScheduler{}).Push(context.Background(), sampleArticle(), url)
	if result.Success || !result.Retryable || !core.HasTextCode(result.Err, core.ErrorDeliveryTransient) {
		t.Fatalf("expected transient failure, got %+v", result)
	}
}

func TestRetryWithBackoff_ExhaustedMakesNoCalls(t *testing.T) {
	tgt := newTarget(t, http.StatusOK, `{"id":"x"}`)
	scheduler := &recordingScheduler{}
	client := newTestClient(t, scheduler)

	state := AttemptState{ContentID: "c1", Count: 3, MaxAttempts: 3}
	result, next := client.RetryWithBackoff(context.Background(), sampleArticle(), state, tgt.server.URL)
	if result.Success || result.Retryable || !core.HasTextCode(result.Err, core.ErrorDeliveryTerminal) {
		t.Fatalf("expected terminal failure, got %+v", result)
	}
	if tgt.calls.Load() != 0 || len(scheduler.delays) != 0 {
		t.Fatalf("expected no calls and no waits, got %d calls %v", tgt.calls.Load(), scheduler.delays)
	}
	if next.Count != 3 {
		t.Fatalf("expected unchanged count, got %d", next.Count)
	}
}

func TestRetryWithBackoff_WaitsThenPushesOnce(t *testing.T) {
	tgt := newTarget(t, http.StatusBadGateway, `upstream`)
	scheduler := &recordingScheduler{}
	client := newTestClient(t, scheduler)

	result, next := client.RetryWithBackoff(context.Background(), sampleArticle(), AttemptState{Count: 2, MaxAttempts: 5}, tgt.server.URL)
	if result.Success || !result.Retryable {
		t.Fatalf("expected transient failure, got %+v", result)
	}
	if len(scheduler.delays) != 1 || scheduler.delays[0] != 4*time.Second {
		t.Fatalf("expected a single 4s wait, got %v", scheduler.delays)
	}
	if tgt.calls.Load() != 1 {
		t.Fatalf("expected exactly one delivery, got %d", tgt.calls.Load())
	}
	if next.Count != 3 || next.LastError == "" || next.NextDelay != 8*time.Second || next.ContentID != "c1" {
		t.Fatalf("unexpected next state %+v", next)
	}
}

func TestRetryWithBackoff_CancelledWaitSkipsDelivery(t *testing.T) {
	tgt := newTarget(t, http.StatusOK, `{"id":"x"}`)
	client := newTestClient(t, &recordingScheduler{err: context.Canceled})

	state := AttemptState{ContentID: "c1", Count: 1, MaxAttempts: 3}
	result, next := client.RetryWithBackoff(context.Background(), sampleArticle(), state, tgt.server.URL)
	if result.Success || !result.Retryable {
		t.Fatalf("expected transient failure, got %+v", result)
	}
	if tgt.calls.Load() != 0 || next.Count != 1 {
		t.Fatalf("expected no delivery and unchanged state, got %d calls %+v", tgt.calls.Load(), next)
	}
}

func TestTimerScheduler_IsCancellable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	started := time.Now()
	err := core.TimerScheduler{}.Wait(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) || time.Since(started) > time.Second {
		t.Fatalf("expected immediate cancellation, got %v", err)
	}
}

func TestHandler_PersistsAttemptsAcrossJobAttempts(t *testing.T) {
	var failFirst atomic.Bool
	failFirst.Store(true)
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		if failFirst.Swap(false) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":"ext-9"}`))
	}))
	defer server.Close()

	store := NewMemoryAttemptStore()
	handler := NewHandler(newTestClient(t, &recordingScheduler{}), store)
	payload, err := DeliveryPayload(sampleArticle(), server.URL)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	job := core.Job{ID: "job-1", Type: JobType, Payload: payload}

	if _, err := handler.Handle(context.Background(), job); err == nil || jobs.IsPermanent(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	state, found, _ := store.Load(context.Background(), "c1", server.URL)
	if !found || state.Count != 1 || state.Delivered {
		t.Fatalf("unexpected state after failure %+v", state)
	}

	result, err := handler.Handle(context.Background(), job)
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if result["external_id"] != "ext-9" || result["attempts"] != 2 {
		t.Fatalf("unexpected result %+v", result)
	}

	if _, err := handler.Handle(context.Background(), job); err != nil {
		t.Fatalf("redelivery of completed push: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected delivered content not to be pushed again, got %d calls", calls.Load())
	}
}

func TestHandler_TerminalFailureIsPermanent(t *testing.T) {
	tgt := newTarget(t, http.StatusUnprocessableEntity, `{"error":"duplicate"}`)
	handler := NewHandler(newTestClient(t, &recordingScheduler{}), NewMemoryAttemptStore())
	payload, _ := DeliveryPayload(sampleArticle(), tgt.server.URL)

	_, err := handler.Handle(context.Background(), core.Job{Type: JobType, Payload: payload})
	if !jobs.IsPermanent(err) || !core.HasTextCode(err, core.ErrorDeliveryTerminal) {
		t.Fatalf("expected permanent terminal error, got %v", err)
	}
}

func TestClient_JobOptionsDisableQueueBackoff(t *testing.T) {
	client := newTestClient(t, &recordingScheduler{})
	opts := client.JobOptions(core.JobOptions{JobID: "push-1"})
	if opts.JobID != "push-1" || opts.Attempts != 3 {
		t.Fatalf("expected attempts to follow the push policy, got %+v", opts)
	}
	if opts.Backoff.Type != core.BackoffNone {
		t.Fatalf("expected queue backoff to be disabled, got %q", opts.Backoff.Type)
	}
	if got := client.JobOptions(core.JobOptions{Attempts: 7}); got.Attempts != 7 {
		t.Fatalf("expected explicit attempts to be kept, got %d", got.Attempts)
	}
}
