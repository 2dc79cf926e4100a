// Package bulklist appends contacts selected by criteria to static lists.
package bulklist

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-outreach/core"
	"github.com/goliatone/go-outreach/jobs"
)

// JobType is the job queue type served by Handler.
const JobType = "bulk_list.add"

const DefaultBatchSize = 500

type Criteria = core.Criteria

// Request selects contacts by Criteria and appends them to ListID.
type Request struct {
	ListID   string   `json:"list_id"`
	Criteria Criteria `json:"criteria"`
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.ListID) == "" {
		return core.NewValidationError("bulklist: list id is required", goerrors.FieldError{
			Field:   "list_id",
			Message: "is required",
		})
	}
	return r.Criteria.Validate()
}

// Payload encodes the request as a job payload.
func (r Request) Payload() (map[string]any, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// RequestFromPayload decodes a job payload produced by Request.Payload.
func RequestFromPayload(payload map[string]any) (Request, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Request{}, core.NewValidationError("bulklist: payload is not serializable", goerrors.FieldError{
			Field:   "payload",
			Message: err.Error(),
		})
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, core.NewValidationError("bulklist: payload does not match request", goerrors.FieldError{
			Field:   "payload",
			Message: err.Error(),
		})
	}
	return req, nil
}

type Summary struct {
	ListID  string `json:"list_id"`
	Matched int    `json:"matched"`
	Added   int    `json:"added"`
	Skipped int    `json:"skipped"`
}

func (s Summary) Result() map[string]any {
	return map[string]any{
		"list_id": s.ListID,
		"matched": s.Matched,
		"added":   s.Added,
		"skipped": s.Skipped,
	}
}

type Option func(*Worker)

func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.BatchSize = size
		}
	}
}

func WithObserver(observer core.Observer) Option {
	return func(w *Worker) {
		w.Observer = observer
	}
}

// Worker appends matching contacts to a list. Appends are idempotent so a
// retried run converges on the same membership as a single run.
type Worker struct {
	Store     core.ContactStore
	BatchSize int
	Observer  core.Observer
}

func NewWorker(store core.ContactStore, opts ...Option) (*Worker, error) {
	if store == nil {
		return nil, fmt.Errorf("bulklist: contact store is required")
	}
	worker := &Worker{Store: store, BatchSize: DefaultBatchSize}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(worker)
	}
	return worker, nil
}

func (w *Worker) Run(ctx context.Context, req Request) (summary Summary, err error) {
	startedAt := time.Now()
	defer func() {
		w.Observer.Observe(ctx, startedAt, "bulk_list.run", err, map[string]any{
			"list_id": req.ListID,
			"matched": summary.Matched,
			"added":   summary.Added,
			"skipped": summary.Skipped,
		})
	}()

	if err := req.Validate(); err != nil {
		return Summary{}, err
	}
	listID := strings.TrimSpace(req.ListID)
	summary.ListID = listID

	matched, err := w.Store.MatchContacts(ctx, req.Criteria)
	if err != nil {
		return summary, fmt.Errorf("bulklist: match contacts: %w", err)
	}
	ids := uniqueIDs(matched)
	summary.Matched = len(ids)

	batch := w.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	for start := 0; start < len(ids); start += batch {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		end := min(start+batch, len(ids))
		chunk := ids[start:end]

		members, err := w.Store.ListMembers(ctx, listID, chunk)
		if err != nil {
			return summary, fmt.Errorf("bulklist: load list members: %w", err)
		}
		pending := make([]string, 0, len(chunk))
		for _, id := range chunk {
			if !members[id] {
				pending = append(pending, id)
			}
		}
		if len(pending) > 0 {
			added, err := w.Store.AddListMembers(ctx, listID, pending)
			if err != nil {
				return summary, fmt.Errorf("bulklist: append list members: %w", err)
			}
			summary.Added += added
		}
		_ = jobs.ReportProgress(ctx, end*100/len(ids))
	}
	summary.Skipped = summary.Matched - summary.Added
	return summary, nil
}

// Handler serves JobType on the job queue.
type Handler struct {
	Worker *Worker
}

func NewHandler(worker *Worker) Handler {
	return Handler{Worker: worker}
}

func (h Handler) Handle(ctx context.Context, job core.Job) (map[string]any, error) {
	if h.Worker == nil {
		return nil, jobs.Permanent(fmt.Errorf("bulklist: worker is not configured"))
	}
	req, err := RequestFromPayload(job.Payload)
	if err != nil {
		return nil, jobs.Permanent(err)
	}
	if err := req.Validate(); err != nil {
		return nil, jobs.Permanent(err)
	}
	summary, err := h.Worker.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	return summary.Result(), nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

var _ jobs.Handler = Handler{}
