package outreach

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-outreach/bulklist"
	outreachcommand "github.com/goliatone/go-outreach/command"
	"github.com/goliatone/go-outreach/core"
	"github.com/goliatone/go-outreach/push"
	outreachquery "github.com/goliatone/go-outreach/query"
	"github.com/goliatone/go-outreach/signing"
	"github.com/goliatone/go-outreach/webhooks"
)

type noWaitScheduler struct{}

func (noWaitScheduler) Wait(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func testRuntimeConfig() Config {
	cfg := DefaultConfig()
	cfg.Webhook.APIKey = "K"
	cfg.Webhook.Secret = "webhook-secret"
	cfg.Push.Secret = "push-secret"
	cfg.Push.MaxAttempts = 3
	cfg.Jobs.Concurrency = 2
	cfg.Jobs.BackoffBase = time.Millisecond
	cfg.Jobs.PollInterval = 5 * time.Millisecond
	return cfg
}

func startRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	rt, err := New(testRuntimeConfig(), opts...)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("start runtime: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = rt.Close(ctx)
	})
	return rt
}

func waitForTerminal(t *testing.T, rt *Runtime, id string) core.JobStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		status, err := rt.GetStatus(context.Background(), id)
		if err != nil {
			t.Fatalf("get status: %v", err)
		}
		if status.State.Terminal() {
			return status
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s did not finish, last status %+v", id, status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew_RejectsMissingSecrets(t *testing.T) {
	if _, err := New(DefaultConfig()); err == nil {
		t.Fatalf("expected default config without secrets to be rejected")
	}
	cfg := testRuntimeConfig()
	cfg.Webhook.Enabled = false
	cfg.Push.Enabled = false
	rt, err := New(cfg)
	if err != nil {
		t.Fatalf("expected disabled surfaces to skip secret checks: %v", err)
	}
	if rt.Webhook() != nil || rt.Push() != nil {
		t.Fatalf("expected disabled surfaces to stay unwired")
	}
	if _, err := rt.Ingest(context.Background(), webhooks.Request{Body: []byte(`{}`)}); !core.HasTextCode(err, core.ErrorUnavailable) {
		t.Fatalf("expected unavailable webhook, got %v", err)
	}
	if _, err := rt.SchedulePush(context.Background(), push.Article{ID: "a1", Title: "t", Body: "b"}, "https://crm.example.com", core.JobOptions{}); !core.HasTextCode(err, core.ErrorUnavailable) {
		t.Fatalf("expected unavailable push, got %v", err)
	}
}

func TestFacade_EnqueueBulkListRunsThroughJobQueue(t *testing.T) {
	contacts := bulklist.NewMemoryContactStore(
		core.Contact{ID: "c1", Company: "Acme"},
		core.Contact{ID: "c2", Company: "Globex"},
		core.Contact{ID: "c3", Company: "acme"},
	)
	rt := startRuntime(t, WithContactStore(contacts))
	facade, err := rt.Facade()
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	collector := gocmd.NewResult[outreachcommand.EnqueueResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	msg := outreachcommand.EnqueueBulkListMessage{Request: bulklist.Request{
		ListID:   "acme",
		Criteria: core.Criteria{Field: "company", Op: core.OpEq, Value: "ACME"},
	}}
	if err := msg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := facade.Commands().EnqueueBulkList.Execute(ctx, msg); err != nil {
		t.Fatalf("execute enqueue: %v", err)
	}
	result, ok := collector.Load()
	if !ok || result.JobID == "" {
		t.Fatalf("expected job id result, got %#v", result)
	}

	waitForTerminal(t, rt, result.JobID)
	status, err := facade.Queries().GetJobStatus.Query(context.Background(), outreachquery.GetJobStatusMessage{JobID: result.JobID})
	if err != nil {
		t.Fatalf("query status: %v", err)
	}
	if status.State != core.JobStateCompleted || status.Result["added"] != 2 || status.Result["matched"] != 2 {
		t.Fatalf("unexpected status %+v", status)
	}

	members, err := facade.Queries().ListMembers.Query(context.Background(), outreachquery.ListMembersMessage{ListID: "acme"})
	if err != nil {
		t.Fatalf("query members: %v", err)
	}
	if len(members) != 2 || members[0] != "c1" || members[1] != "c3" {
		t.Fatalf("unexpected members %v", members)
	}
}

func TestRuntime_SchedulePushDeliversSignedContent(t *testing.T) {
	var calls atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.URL.Path != push.ImportPath {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"crm-42"}`))
	}))
	defer target.Close()

	attempts := push.NewMemoryAttemptStore()
	rt := startRuntime(t, WithPushAttemptStore(attempts), WithPushScheduler(noWaitScheduler{}))

	id, err := rt.SchedulePush(context.Background(), push.Article{ID: "art_1", Title: "Launch", Body: "..."}, target.URL, core.JobOptions{})
	if err != nil {
		t.Fatalf("schedule push: %v", err)
	}
	status := waitForTerminal(t, rt, id)
	if status.State != core.JobStateCompleted {
		t.Fatalf("expected delivered push, got %+v", status)
	}
	if status.Result["external_id"] != "crm-42" || calls.Load() != 2 {
		t.Fatalf("unexpected push result %+v after %d calls", status.Result, calls.Load())
	}
	state, found, err := attempts.Load(context.Background(), "art_1", target.URL)
	if err != nil || !found || !state.Delivered || state.Count != 2 {
		t.Fatalf("unexpected attempt state %+v found=%v err=%v", state, found, err)
	}
}

func TestRuntime_SchedulePushRejectsInvalidContent(t *testing.T) {
	rt := startRuntime(t)
	_, err := rt.SchedulePush(context.Background(), push.Article{ID: "art_1"}, "https://crm.example.com", core.JobOptions{})
	if !core.HasTextCode(err, core.ErrorValidationFailed) {
		t.Fatalf("expected validation error for incomplete article, got %v", err)
	}
}

func TestFacade_IngestWebhookRecordsOnce(t *testing.T) {
	ledger := core.NewMemoryEventLedger()
	rt := startRuntime(t, WithEventLedger(ledger))
	facade, err := NewFacade(rt)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	body := []byte(`{"api_key":"K","event":"email_open","data":{"campaign_id":"camp_1","contact_id":"u1","ts":"2025-01-01T10:00:00Z"}}`)
	for i := range 2 {
		timestamp, signature := signing.Headers([]byte("webhook-secret"), time.Now(), body)
		collector := gocmd.NewResult[webhooks.Result]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		err := facade.Commands().IngestWebhook.Execute(ctx, outreachcommand.IngestWebhookMessage{
			Request: webhooks.Request{
				Headers: map[string]string{signing.HeaderTimestamp: timestamp, signing.HeaderSignature: signature},
				Body:    body,
			},
		})
		if err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
		result, _ := collector.Load()
		if result.StatusCode != http.StatusOK || result.Duplicate() != (i == 1) {
			t.Fatalf("unexpected ingest result %d: %+v", i, result)
		}
	}

	events, err := facade.Queries().ListInboundEvents.Query(context.Background(), outreachquery.ListInboundEventsMessage{})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].CampaignID != "camp_1" {
		t.Fatalf("expected one recorded email open, got %+v", events)
	}
}

func TestNewFacade_RequiresService(t *testing.T) {
	facade, err := NewFacade(nil)
	if err == nil {
		t.Fatalf("expected nil service error")
	}
	if facade != nil {
		t.Fatalf("expected nil facade on error")
	}
}
