package bulklist

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/goliatone/go-outreach/core"
	"github.com/goliatone/go-outreach/jobs"
)

func seedContacts() []core.Contact {
	return []core.Contact{
		{ID: "c1", Email: "ana@acme.io", Company: "Acme", Country: "US", JobTitle: "VP Marketing", Tags: []string{"webinar"}},
		{ID: "c2", Email: "bo@acme.io", Company: "Acme", Country: "DE", JobTitle: "Engineer"},
		{ID: "c3", Email: "cy@globex.com", Company: "Globex", Country: "US", JobTitle: "Marketing Lead"},
		{ID: "c4", Email: "di@initech.com", Company: "Initech", Country: "FR", JobTitle: "CTO", Tags: []string{"webinar", "vip"}},
		{ID: "c5", Email: "ed@acme.io", Company: "ACME", Country: "US", JobTitle: "Marketing Ops"},
	}
}

func marketingInUS() Criteria {
	return Criteria{
		Logic: core.LogicAnd,
		Rules: []Criteria{
			{Field: "country", Op: core.OpEq, Value: "us"},
			{
				Logic: core.LogicOr,
				Rules: []Criteria{
					{Field: "job_title", Op: core.OpContains, Value: "marketing"},
					{Field: "email", Op: core.OpEndsWith, Value: "@globex.com"},
				},
			},
		},
	}
}

func TestWorker_RunAppendsMatches(t *testing.T) {
	store := NewMemoryContactStore(seedContacts()...)
	_, _ = store.AddListMembers(context.Background(), "list-1", []string{"c3"})
	worker, err := NewWorker(store, WithBatchSize(2))
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	summary, err := worker.Run(context.Background(), Request{ListID: "list-1", Criteria: marketingInUS()})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := Summary{ListID: "list-1", Matched: 3, Added: 2, Skipped: 1}
	if summary != want {
		t.Fatalf("expected %+v, got %+v", want, summary)
	}
	if got := store.Members("list-1"); !reflect.DeepEqual(got, []string{"c1", "c3", "c5"}) {
		t.Fatalf("unexpected members %v", got)
	}
}

func TestWorker_RerunIsIdempotent(t *testing.T) {
	store := NewMemoryContactStore(seedContacts()...)
	worker, _ := NewWorker(store)
	req := Request{ListID: "list-1", Criteria: Criteria{Field: "tags", Op: core.OpEq, Value: "WEBINAR"}}

	first, err := worker.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	membership := store.Members("list-1")
	second, err := worker.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first.Added != 2 || second.Added != 0 || second.Skipped != 2 {
		t.Fatalf("unexpected summaries %+v %+v", first, second)
	}
	if !reflect.DeepEqual(store.Members("list-1"), membership) {
		t.Fatalf("membership changed on re-run")
	}
}

type flakyContactStore struct {
	*MemoryContactStore
	failOnCall int
	calls      int
}

func (s *flakyContactStore) AddListMembers(ctx context.Context, listID string, ids []string) (int, error) {
	s.calls++
	if s.calls == s.failOnCall {
		return 0, errors.New("connection reset")
	}
	return s.MemoryContactStore.AddListMembers(ctx, listID, ids)
}

func TestWorker_RetryAfterPartialProgressConverges(t *testing.T) {
	reference := NewMemoryContactStore(seedContacts()...)
	refWorker, _ := NewWorker(reference, WithBatchSize(1))
	req := Request{ListID: "list-1", Criteria: Criteria{Field: "company", Op: core.OpStartsWith, Value: "ac"}}
	if _, err := refWorker.Run(context.Background(), req); err != nil {
		t.Fatalf("reference run: %v", err)
	}

	flaky := &flakyContactStore{MemoryContactStore: NewMemoryContactStore(seedContacts()...), failOnCall: 2}
	worker, _ := NewWorker(flaky, WithBatchSize(1))
	partial, err := worker.Run(context.Background(), req)
	if err == nil {
		t.Fatalf("expected partial failure")
	}
	if partial.Added != 1 {
		t.Fatalf("expected one append before the failure, got %+v", partial)
	}

	retried, err := worker.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.Matched != 3 || retried.Added != 2 || retried.Skipped != 1 {
		t.Fatalf("unexpected retry summary %+v", retried)
	}
	if !reflect.DeepEqual(flaky.Members("list-1"), reference.Members("list-1")) {
		t.Fatalf("expected %v, got %v", reference.Members("list-1"), flaky.Members("list-1"))
	}
}

func TestWorker_RejectsInvalidRequests(t *testing.T) {
	worker, _ := NewWorker(NewMemoryContactStore())
	cases := []Request{
		{Criteria: Criteria{Field: "email", Op: core.OpEq, Value: "a@b.c"}},
		{ListID: "l1", Criteria: Criteria{Field: "salary", Op: core.OpEq, Value: "1"}},
		{ListID: "l1", Criteria: Criteria{Field: "email", Op: "regex", Value: ".*"}},
	}
	for _, req := range cases {
		if _, err := worker.Run(context.Background(), req); !core.HasTextCode(err, core.ErrorValidationFailed) {
			t.Fatalf("expected validation error for %+v, got %v", req, err)
		}
	}
}

func TestHandler_RunsThroughJobQueue(t *testing.T) {
	store := NewMemoryContactStore(seedContacts()...)
	worker, _ := NewWorker(store)
	cfg := jobs.DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	service, err := jobs.New(jobs.NewMemoryStore(), cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := service.Register(JobType, NewHandler(worker)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := service.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer service.Close(context.Background())

	payload, err := Request{ListID: "list-9", Criteria: marketingInUS()}.Payload()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	id, err := service.Enqueue(context.Background(), JobType, payload, core.JobOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	var status core.JobStatus
	for {
		status, err = service.GetStatus(context.Background(), id)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if status.State.Terminal() || time.Now().After(deadline) {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if status.State != core.JobStateCompleted {
		t.Fatalf("expected completed job, got %+v", status)
	}
	if status.Result["matched"] != 3 || status.Result["added"] != 3 || status.Result["skipped"] != 0 {
		t.Fatalf("unexpected result %+v", status.Result)
	}
}

func TestHandler_InvalidPayloadFailsPermanently(t *testing.T) {
	worker, _ := NewWorker(NewMemoryContactStore())
	_, err := NewHandler(worker).Handle(context.Background(), core.Job{
		Type:    JobType,
		Payload: map[string]any{"list_id": "l1", "criteria": map[string]any{"field": "nope", "op": "eq"}},
	})
	if !jobs.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestRequest_EmptyGroupSurvivesPayloadRoundTrip(t *testing.T) {
	req := Request{ListID: "everyone", Criteria: Criteria{Rules: []Criteria{}}}
	if err := req.Validate(); err != nil {
		t.Fatalf("validate before enqueue: %v", err)
	}
	payload, err := req.Payload()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	decoded, err := RequestFromPayload(payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if err := decoded.Validate(); err != nil {
		t.Fatalf("validate after round trip: %v", err)
	}
	if !decoded.Criteria.IsGroup() || decoded.Criteria.Logic != core.LogicAnd {
		t.Fatalf("expected an and-group after round trip, got %+v", decoded.Criteria)
	}

	worker, _ := NewWorker(NewMemoryContactStore(seedContacts()...))
	result, err := NewHandler(worker).Handle(context.Background(), core.Job{Type: JobType, Payload: payload})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result["matched"] != 5 || result["added"] != 5 {
		t.Fatalf("expected empty and-group to select every contact, got %+v", result)
	}
}
