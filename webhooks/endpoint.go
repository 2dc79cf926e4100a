package webhooks

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-outreach/core"
	"github.com/goliatone/go-outreach/signing"
)

type Outcome string

const (
	OutcomeIngested  Outcome = "ingested"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
)

type Request struct {
	Headers map[string]string
	Body    []byte
}

type Result struct {
	Outcome    Outcome
	StatusCode int
	DedupKey   string
	Event      core.EventName
	Metadata   map[string]any
}

// Duplicate reports whether the delivery matched an existing ledger row.
func (r Result) Duplicate() bool {
	return r.Outcome == OutcomeDuplicate
}

type Option func(*Endpoint)

func WithPublisher(publisher core.EventPublisher) Option {
	return func(e *Endpoint) {
		e.Publisher = publisher
	}
}

func WithObserver(observer core.Observer) Option {
	return func(e *Endpoint) {
		e.Observer = observer
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Endpoint) {
		if now != nil {
			e.Now = now
			e.Verifier.Now = now
		}
	}
}

// Endpoint runs the inbound state machine. It holds no mutable state, so a
// single value serves concurrent requests.
type Endpoint struct {
	APIKey    string
	Verifier  signing.Verifier
	Ledger    core.EventLedger
	Publisher core.EventPublisher
	Observer  core.Observer
	Now       func() time.Time
}

func NewEndpoint(cfg core.WebhookConfig, ledger core.EventLedger, opts ...Option) (*Endpoint, error) {
	if ledger == nil {
		return nil, fmt.Errorf("webhooks: event ledger is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("webhooks: api key is required")
	}
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, fmt.Errorf("webhooks: signature secret is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = core.DefaultSignatureTTL
	}
	endpoint := &Endpoint{
		APIKey:   cfg.APIKey,
		Verifier: signing.NewVerifier(cfg.Secret, ttl),
		Ledger:   ledger,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(endpoint)
	}
	return endpoint, nil
}

// Ingest authenticates, validates and records one delivery. Duplicates are
// successful results. Errors carry the go-errors envelope for the response.
func (e *Endpoint) Ingest(ctx context.Context, req Request) (result Result, err error) {
	startedAt := time.Now()
	fields := map[string]any{}
	defer func() {
		fields["outcome"] = string(result.Outcome)
		e.observer().Observe(ctx, startedAt, "webhook.ingest", err, fields)
	}()

	if e == nil || e.Ledger == nil {
		return rejected(http.StatusInternalServerError), core.NewInternalError("webhooks: endpoint is not configured", nil)
	}

	key, ok := readAPIKey(req.Body)
	if !ok || !e.apiKeyMatches(key) {
		return rejected(http.StatusUnauthorized), core.NewAuthenticationError("webhooks: api key mismatch", nil)
	}

	timestamp := headerValue(req.Headers, signing.HeaderTimestamp)
	signature := headerValue(req.Headers, signing.HeaderSignature)
	if reason := e.Verifier.Check(timestamp, req.Body, signature); reason != signing.ReasonOK {
		fields["reason"] = string(reason)
		return rejected(http.StatusUnauthorized), core.NewAuthenticationError(
			"webhooks: signature verification failed",
			map[string]any{"reason": string(reason)},
		)
	}

	envelope, err := decodeEnvelope(req.Body)
	if err != nil {
		return rejected(http.StatusBadRequest), err
	}
	fields["event"] = envelope.Event
	if err := envelope.Validate(); err != nil {
		return rejected(http.StatusBadRequest), err
	}

	dedupKey := DedupKey(envelope)
	fields["dedup_key"] = dedupKey
	event := toInboundEvent(envelope, dedupKey, e.now())
	created, err := e.Ledger.Record(ctx, event)
	if err != nil {
		return rejected(http.StatusInternalServerError), core.NewInternalError("webhooks: record event", err)
	}

	result = Result{
		Outcome:    OutcomeIngested,
		StatusCode: http.StatusOK,
		DedupKey:   dedupKey,
		Event:      event.Name,
		Metadata:   map[string]any{"dedup_key": dedupKey},
	}
	if !created {
		result.Outcome = OutcomeDuplicate
		result.Metadata["deduped"] = true
		e.observer().Info(ctx, "webhook duplicate event discarded", map[string]any{
			"event":     envelope.Event,
			"dedup_key": dedupKey,
		})
		return result, nil
	}

	if e.Publisher != nil {
		if pubErr := e.Publisher.Publish(ctx, event); pubErr != nil {
			e.observer().Warn(ctx, "webhook event publish failed", map[string]any{
				"event":     envelope.Event,
				"dedup_key": dedupKey,
				"error":     pubErr.Error(),
			})
		}
	}
	return result, nil
}

func (e *Endpoint) apiKeyMatches(candidate string) bool {
	if e.APIKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(e.APIKey)) == 1
}

func (e *Endpoint) now() time.Time {
	if e != nil && e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Endpoint) observer() core.Observer {
	if e == nil {
		return core.Observer{}
	}
	return e.Observer
}

func rejected(status int) Result {
	return Result{Outcome: OutcomeRejected, StatusCode: status}
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
