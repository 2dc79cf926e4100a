// Package push delivers content records to external systems over signed
// HTTP calls and classifies each outcome for retry decisions.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-outreach/core"
	"github.com/goliatone/go-outreach/signing"
	"github.com/goliatone/go-outreach/transport"
)

const ImportPath = "/import-endpoint"

const maxReasonBodyBytes = 256

// Result is the classified outcome of one delivery attempt. Delivery
// failures are reported here and never as Go errors or panics.
type Result struct {
	Success    bool
	ExternalID string
	StatusCode int
	Retryable  bool
	Reason     string
	RawBody    string
	Err        error
}

type AttemptState = core.PushAttempt

type Option func(*Client)

func WithHTTPDoer(doer transport.HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.HTTP = transport.NewHTTPClient(doer)
		}
	}
}

func WithScheduler(scheduler core.Scheduler) Option {
	return func(c *Client) {
		if scheduler != nil {
			c.Scheduler = scheduler
		}
	}
}

func WithObserver(observer core.Observer) Option {
	return func(c *Client) {
		c.Observer = observer
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.Now = now
		}
	}
}

type Client struct {
	HTTP      *transport.HTTPClient
	Secret    []byte
	Policy    core.RetryPolicy
	Scheduler core.Scheduler
	Timeout   time.Duration
	Observer  core.Observer
	Now       func() time.Time
}

func NewClient(cfg core.PushConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, fmt.Errorf("push: signing secret is required")
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = core.DefaultPushMaxAttempts
	}
	base := cfg.BaseDelay
	if base <= 0 {
		base = core.DefaultPushBaseDelay
	}
	client := &Client{
		HTTP:   transport.NewHTTPClient(nil),
		Secret: []byte(cfg.Secret),
		Policy: core.RetryPolicy{
			Base:        base,
			Max:         cfg.MaxDelay,
			MaxAttempts: maxAttempts,
		},
		Scheduler: core.TimerScheduler{MaxWait: cfg.MaxWait},
		Timeout:   cfg.Timeout,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(client)
	}
	return client, nil
}

// Push signs and posts content to {targetURL}/import-endpoint once.
func (c *Client) Push(ctx context.Context, content Content, targetURL string) (result Result) {
	startedAt := time.Now()
	fields := map[string]any{"target_url": targetURL}
	if content != nil {
		fields["content_kind"] = string(content.Kind())
		fields["content_id"] = content.ContentID()
	}
	defer func() {
		fields["outcome"] = outcome(result)
		fields["status_code"] = result.StatusCode
		c.Observer.Observe(ctx, startedAt, "push.deliver", result.Err, fields)
	}()

	payload, err := Transform(content)
	if err != nil {
		return failure(err, 0, "", false)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return failure(core.NewTerminalDeliveryError("push: encode payload", map[string]any{"error": err.Error()}), 0, "", false)
	}
	endpoint, err := importURL(targetURL)
	if err != nil {
		return failure(err, 0, "", false)
	}

	timestamp, signature := signing.Headers(c.Secret, c.now(), body)
	res, err := c.HTTP.Do(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    endpoint,
		Headers: map[string]string{
			signing.HeaderTimestamp: timestamp,
			signing.HeaderSignature: signature,
		},
		Body:    body,
		Timeout: c.Timeout,
	})
	if err != nil {
		return classifyTransportError(err)
	}
	return classifyResponse(res)
}

// RetryWithBackoff performs at most one delivery. It refuses to deliver once
// state is exhausted, otherwise waits 2^Count * Base through the scheduler
// and pushes once. The caller persists the returned state.
func (c *Client) RetryWithBackoff(ctx context.Context, content Content, state AttemptState, targetURL string) (Result, AttemptState) {
	if ctx == nil {
		ctx = context.Background()
	}
	if state.MaxAttempts <= 0 {
		state.MaxAttempts = c.Policy.MaxAttempts
	}
	if content != nil && state.ContentID == "" {
		state.ContentID = content.ContentID()
	}
	if state.TargetURL == "" {
		state.TargetURL = targetURL
	}

	if state.Exhausted() {
		err := core.NewTerminalDeliveryError("push: attempts exhausted", map[string]any{
			"content_id":   state.ContentID,
			"attempts":     state.Count,
			"max_attempts": state.MaxAttempts,
		})
		result := failure(err, 0, "", false)
		c.logFailure(ctx, state, result, false)
		return result, state
	}

	delay := c.Policy.DelayFor(state.Count + 1)
	if err := c.Scheduler.Wait(ctx, delay); err != nil {
		result := failure(core.NewTransientDeliveryError("push: backoff wait interrupted", map[string]any{
			"content_id": state.ContentID,
			"delay_ms":   delay.Milliseconds(),
			"error":      err.Error(),
		}), 0, "", true)
		c.logFailure(ctx, state, result, true)
		return result, state
	}

	result := c.Push(ctx, content, targetURL)
	next := state
	next.Count++
	next.UpdatedAt = c.now()
	if result.Success {
		next.Delivered = true
		next.ExternalID = result.ExternalID
		next.LastError = ""
		next.NextDelay = 0
		return result, next
	}
	next.LastError = result.Reason
	next.NextDelay = c.Policy.DelayFor(next.Count + 1)
	willRetry := result.Retryable && !next.Exhausted()
	if !willRetry {
		next.NextDelay = 0
	}
	c.logFailure(ctx, next, result, willRetry)
	return result, next
}

func (c *Client) logFailure(ctx context.Context, state AttemptState, result Result, willRetry bool) {
	fields := map[string]any{
		"content_id":   state.ContentID,
		"target_url":   state.TargetURL,
		"attempt":      state.Count,
		"max_attempts": state.MaxAttempts,
		"reason":       result.Reason,
		"retryable":    result.Retryable,
		"will_retry":   willRetry,
		"status_code":  result.StatusCode,
	}
	if willRetry {
		fields["next_delay_ms"] = state.NextDelay.Milliseconds()
		c.Observer.Warn(ctx, "push attempt failed, will retry", fields)
		return
	}
	c.Observer.Error(ctx, "push delivery gave up", fields)
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func importURL(targetURL string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(targetURL), "/")
	if base == "" {
		return "", core.NewValidationError("push: target url is required", goerrors.FieldError{
			Field:   "target_url",
			Message: "is required",
		})
	}
	return base + ImportPath, nil
}

func classifyTransportError(err error) Result {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && (rich.Category == goerrors.CategoryBadInput || rich.Category == goerrors.CategoryInternal) {
		return failure(core.NewTerminalDeliveryError(rich.Message, map[string]any{"error": err.Error()}), 0, "", false)
	}
	return failure(core.NewTransientDeliveryError("push: transport error", map[string]any{"error": err.Error()}), 0, "", true)
}

func classifyResponse(res transport.Response) Result {
	raw := string(res.Body)
	if !res.Success() {
		metadata := map[string]any{"status_code": res.StatusCode, "body": truncate(raw)}
		message := fmt.Sprintf("push: target responded %d", res.StatusCode)
		if retryableStatus(res.StatusCode) {
			return failure(core.NewTransientDeliveryError(message, metadata), res.StatusCode, raw, true)
		}
		return failure(core.NewTerminalDeliveryError(message, metadata), res.StatusCode, raw, false)
	}

	trimmed := bytes.TrimSpace(res.Body)
	if !json.Valid(trimmed) {
		err := core.NewTerminalDeliveryError("push: target returned a non-JSON response", map[string]any{
			"status_code": res.StatusCode,
			"body":        truncate(raw),
		})
		return failure(err, res.StatusCode, raw, false)
	}
	return Result{
		Success:    true,
		ExternalID: externalID(trimmed),
		StatusCode: res.StatusCode,
		RawBody:    raw,
	}
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	default:
		return status >= http.StatusInternalServerError
	}
}

func externalID(body []byte) string {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var doc map[string]any
	if err := decoder.Decode(&doc); err != nil {
		return ""
	}
	for _, key := range []string{"id", "external_id", "externalId"} {
		switch value := doc[key].(type) {
		case string:
			if strings.TrimSpace(value) != "" {
				return strings.TrimSpace(value)
			}
		case json.Number:
			return value.String()
		}
	}
	return ""
}

func failure(err error, status int, raw string, retryable bool) Result {
	reason := ""
	if err != nil {
		reason = err.Error()
		var rich *goerrors.Error
		if goerrors.As(err, &rich) && strings.TrimSpace(rich.Message) != "" {
			reason = rich.Message
		}
	}
	return Result{
		StatusCode: status,
		Retryable:  retryable,
		Reason:     reason,
		RawBody:    raw,
		Err:        err,
	}
}

func outcome(result Result) string {
	switch {
	case result.Success:
		return "delivered"
	case result.Retryable:
		return "transient_failure"
	default:
		return "terminal_failure"
	}
}

func truncate(value string) string {
	if len(value) <= maxReasonBodyBytes {
		return value
	}
	return value[:maxReasonBodyBytes] + "..."
}
