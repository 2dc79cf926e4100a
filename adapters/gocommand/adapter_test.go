package gocommand

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	outreach "github.com/goliatone/go-outreach"
	"github.com/goliatone/go-outreach/bulklist"
	outreachcommand "github.com/goliatone/go-outreach/command"
	"github.com/goliatone/go-outreach/core"
	outreachquery "github.com/goliatone/go-outreach/query"
)

type okMessage struct{}

func (okMessage) Type() string { return "outreach.command.ok" }

type invalidMessage struct{}

func (invalidMessage) Type() string { return "" }

type failingMessage struct{}

func (failingMessage) Type() string { return "outreach.command.fail" }

func (failingMessage) Validate() error { return errors.New("invalid payload") }

func TestValidateMessageContract(t *testing.T) {
	if err := ValidateMessageContract(okMessage{}); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessageContract(invalidMessage{}); err == nil {
		t.Fatalf("expected empty type to fail contract validation")
	}
	if err := ValidateMessageContract(failingMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to bubble")
	}
}

func newFacade(t *testing.T) *outreach.Facade {
	t.Helper()
	cfg := outreach.DefaultConfig()
	cfg.Webhook.Enabled = false
	cfg.Push.Enabled = false
	rt, err := outreach.New(cfg, outreach.WithContactStore(bulklist.NewMemoryContactStore(
		core.Contact{ID: "c1", Company: "Acme"},
	)))
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	facade, err := rt.Facade()
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	return facade
}

func TestBusMountDispatchesFacadeCommands(t *testing.T) {
	queueRegistry := jobqueuecommand.NewRegistry()
	bus, err := NewBus(WithRegistry(command.NewRegistry()), WithQueueRegistry("queue", queueRegistry))
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	t.Cleanup(bus.Close)
	if err := bus.Mount(newFacade(t)); err != nil {
		t.Fatalf("mount: %v", err)
	}

	ctx := context.Background()
	id, err := EnqueueBulkList(ctx, outreachcommand.EnqueueBulkListMessage{Request: bulklist.Request{
		ListID:   "acme",
		Criteria: core.Criteria{Field: "company", Op: core.OpEq, Value: "acme"},
	}})
	if err != nil {
		t.Fatalf("dispatch enqueue: %v", err)
	}
	if id == "" {
		t.Fatalf("expected job id")
	}

	status, err := GetJobStatus(ctx, id)
	if err != nil {
		t.Fatalf("query status: %v", err)
	}
	if status.ID != id || status.State != core.JobStateQueued {
		t.Fatalf("unexpected status %+v", status)
	}

	if _, err := EnqueueBulkList(ctx, outreachcommand.EnqueueBulkListMessage{}); !core.HasTextCode(err, core.ErrorValidationFailed) {
		t.Fatalf("expected validation error before dispatch, got %v", err)
	}
	if _, ok := queueRegistry.Get(outreachcommand.TypeEnqueueBulkList); !ok {
		t.Fatalf("expected bulk list command to be mirrored into queue registry")
	}
}

func TestBusMountIngestReportsDisabledWebhook(t *testing.T) {
	bus, err := NewBus()
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	t.Cleanup(bus.Close)
	if err := bus.Mount(newFacade(t)); err != nil {
		t.Fatalf("mount: %v", err)
	}

	out, err := IngestWebhook(context.Background(), outreachcommand.IngestWebhookMessage{})
	if err == nil {
		t.Fatalf("expected empty body to be rejected")
	}
	if out.StatusCode != 0 {
		t.Fatalf("expected no endpoint result for invalid message, got %+v", out)
	}

	members, err := Query[outreachquery.ListMembersMessage, []string](context.Background(), outreachquery.ListMembersMessage{ListID: "acme"})
	if err != nil {
		t.Fatalf("query members: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected empty list before the job runs, got %v", members)
	}
}

func TestBusMountRequiresFacade(t *testing.T) {
	bus, err := NewBus()
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	if err := bus.Mount(nil); err == nil {
		t.Fatalf("expected nil facade error")
	}
}
