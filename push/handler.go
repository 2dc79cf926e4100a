package push

import (
	"context"
	"fmt"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-outreach/core"
	"github.com/goliatone/go-outreach/jobs"
)

// JobType is the job queue type served by Handler.
const JobType = "push.deliver"

// DeliveryPayload builds the job payload for pushing content to targetURL.
func DeliveryPayload(content Content, targetURL string) (map[string]any, error) {
	if _, err := importURL(targetURL); err != nil {
		return nil, err
	}
	kind, raw, err := EncodeContent(content)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"content_kind": string(kind),
		"content":      raw,
		"target_url":   strings.TrimSpace(targetURL),
	}, nil
}

func deliveryFromPayload(payload map[string]any) (Content, string, error) {
	kind, _ := payload["content_kind"].(string)
	targetURL, _ := payload["target_url"].(string)
	raw, ok := payload["content"].(map[string]any)
	if !ok {
		return nil, "", core.NewValidationError("push: payload content is required", goerrors.FieldError{
			Field:   "content",
			Message: "must be an object",
		})
	}
	content, err := DecodeContent(ContentKind(kind), raw)
	if err != nil {
		return nil, "", err
	}
	if _, err := importURL(targetURL); err != nil {
		return nil, "", err
	}
	return content, strings.TrimSpace(targetURL), nil
}

// Handler delivers one content record per job attempt. Attempt state is
// persisted between attempts so the push backoff and cap survive restarts.
type Handler struct {
	Client   *Client
	Attempts core.PushAttemptStore
}

func NewHandler(client *Client, attempts core.PushAttemptStore) Handler {
	return Handler{Client: client, Attempts: attempts}
}

// JobOptions fills the queue options for a delivery job. The push policy
// paces attempts from persisted state, so the queue requeues without delay.
func (c *Client) JobOptions(opts core.JobOptions) core.JobOptions {
	if c != nil && opts.Attempts == 0 {
		opts.Attempts = c.Policy.MaxAttempts
	}
	opts.Backoff = core.Backoff{Type: core.BackoffNone}
	return opts
}

func (h Handler) Handle(ctx context.Context, job core.Job) (map[string]any, error) {
	if h.Client == nil || h.Attempts == nil {
		return nil, jobs.Permanent(fmt.Errorf("push: handler is not configured"))
	}
	content, targetURL, err := deliveryFromPayload(job.Payload)
	if err != nil {
		return nil, jobs.Permanent(err)
	}

	state, found, err := h.Attempts.Load(ctx, content.ContentID(), targetURL)
	if err != nil {
		return nil, fmt.Errorf("push: load attempt state: %w", err)
	}
	if !found {
		state = core.PushAttempt{
			ContentID:   content.ContentID(),
			TargetURL:   targetURL,
			MaxAttempts: h.Client.Policy.MaxAttempts,
		}
	}
	if state.Delivered {
		return deliveredResult(state), nil
	}

	result, next := h.Client.RetryWithBackoff(ctx, content, state, targetURL)
	if next != state {
		if err := h.Attempts.Save(ctx, next); err != nil {
			return nil, fmt.Errorf("push: save attempt state: %w", err)
		}
	}
	if result.Success {
		return deliveredResult(next), nil
	}
	if !result.Retryable || next.Exhausted() {
		return nil, jobs.Permanent(result.Err)
	}
	return nil, result.Err
}

func deliveredResult(state core.PushAttempt) map[string]any {
	return map[string]any{
		"content_id":  state.ContentID,
		"target_url":  state.TargetURL,
		"external_id": state.ExternalID,
		"attempts":    state.Count,
	}
}

// MemoryAttemptStore keeps push attempt state in process.
type MemoryAttemptStore struct {
	mu       sync.Mutex
	attempts map[string]core.PushAttempt
}

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{attempts: map[string]core.PushAttempt{}}
}

func (s *MemoryAttemptStore) Load(_ context.Context, contentID string, targetURL string) (core.PushAttempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[attemptKey(contentID, targetURL)]
	return attempt, ok, nil
}

func (s *MemoryAttemptStore) Save(_ context.Context, attempt core.PushAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[attemptKey(attempt.ContentID, attempt.TargetURL)] = attempt
	return nil
}

func attemptKey(contentID string, targetURL string) string {
	return strings.TrimSpace(contentID) + "|" + strings.TrimRight(strings.TrimSpace(targetURL), "/")
}

var (
	_ jobs.Handler          = Handler{}
	_ core.PushAttemptStore = (*MemoryAttemptStore)(nil)
)
