package webhooks

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-outreach/core"
)

// Envelope is the inbound webhook body.
type Envelope struct {
	APIKey string    `json:"api_key"`
	Event  string    `json:"event"`
	Data   EventData `json:"data"`
}

type EventData struct {
	ContentID  string         `json:"content_id,omitempty"`
	ContactID  string         `json:"contact_id,omitempty"`
	Email      string         `json:"email,omitempty"`
	FormID     string         `json:"form_id,omitempty"`
	CampaignID string         `json:"campaign_id,omitempty"`
	URL        string         `json:"url,omitempty"`
	Referrer   string         `json:"referrer,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	Timestamp  EventTime      `json:"ts"`
}

// EventTime is the sender reported time. It accepts an RFC3339 string or
// unix seconds.
type EventTime struct {
	time.Time
}

func (t *EventTime) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if raw[0] == '"' {
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return err
		}
		value = strings.TrimSpace(value)
		if value == "" {
			t.Time = time.Time{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return fmt.Errorf("webhooks: ts must be RFC3339: %w", err)
		}
		t.Time = parsed.UTC()
		return nil
	}
	seconds, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("webhooks: ts must be RFC3339 or unix seconds")
	}
	t.Time = time.Unix(seconds, 0).UTC()
	return nil
}

func (t EventTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// readAPIKey extracts only the api key so authentication can run before the
// rest of the body is trusted.
func readAPIKey(body []byte) (string, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", false
	}
	raw, ok := fields["api_key"]
	if !ok {
		return "", false
	}
	var key string
	if err := json.Unmarshal(raw, &key); err != nil {
		return "", false
	}
	return key, true
}

func decodeEnvelope(body []byte) (Envelope, error) {
	var envelope Envelope
	decoder := json.NewDecoder(bytes.NewReader(body))
	if err := decoder.Decode(&envelope); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			field := typeErr.Field
			if field == "" {
				field = "body"
			}
			return Envelope{}, core.NewValidationError("webhooks: payload does not match schema", goerrors.FieldError{
				Field:   field,
				Message: fmt.Sprintf("must be %s", typeErr.Type.String()),
			})
		}
		return Envelope{}, core.NewValidationError("webhooks: payload does not match schema", goerrors.FieldError{
			Field:   "body",
			Message: err.Error(),
		})
	}
	return envelope, nil
}

// Validate checks the envelope against the schema of its event.
func (e Envelope) Validate() error {
	names := make([]any, 0, len(core.EventNames()))
	for _, name := range core.EventNames() {
		names = append(names, string(name))
	}
	if err := validation.ValidateStruct(&e,
		validation.Field(&e.Event, validation.Required, validation.In(names...)),
	); err != nil {
		return schemaError(err, "")
	}
	if err := e.Data.validateFor(core.EventName(e.Event)); err != nil {
		return schemaError(err, "data.")
	}
	return nil
}

func (d EventData) validateFor(name core.EventName) error {
	contactOrEmail := validation.When(strings.TrimSpace(d.Email) == "",
		validation.Required.Error("contact_id or email is required"))
	timestamp := validation.Field(&d.Timestamp, validation.By(func(value any) error {
		ts, _ := value.(EventTime)
		if ts.IsZero() {
			return errors.New("is required")
		}
		return nil
	}))

	switch name {
	case core.EventPageView:
		return validation.ValidateStruct(&d,
			validation.Field(&d.ContentID, validation.Required),
			validation.Field(&d.ContactID, validation.Required),
			validation.Field(&d.URL, is.URL),
			timestamp,
		)
	case core.EventFormSubmission:
		return validation.ValidateStruct(&d,
			validation.Field(&d.FormID, validation.Required),
			validation.Field(&d.ContactID, contactOrEmail),
			validation.Field(&d.Email, is.EmailFormat),
			timestamp,
		)
	case core.EventEmailOpen:
		return validation.ValidateStruct(&d,
			validation.Field(&d.CampaignID, validation.Required),
			validation.Field(&d.ContactID, contactOrEmail),
			validation.Field(&d.Email, is.EmailFormat),
			timestamp,
		)
	case core.EventEmailClick:
		return validation.ValidateStruct(&d,
			validation.Field(&d.CampaignID, validation.Required),
			validation.Field(&d.ContactID, contactOrEmail),
			validation.Field(&d.Email, is.EmailFormat),
			validation.Field(&d.URL, validation.Required, is.URL),
			timestamp,
		)
	case core.EventUnsubscribe:
		return validation.ValidateStruct(&d,
			validation.Field(&d.Email, validation.Required, is.EmailFormat),
			timestamp,
		)
	default:
		return fmt.Errorf("webhooks: unsupported event %q", name)
	}
}

func schemaError(err error, prefix string) error {
	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) {
		return core.NewValidationError("webhooks: payload does not match schema", goerrors.FieldError{
			Field:   strings.TrimSuffix(prefix, "."),
			Message: err.Error(),
		})
	}
	keys := make([]string, 0, len(fieldErrs))
	for key := range fieldErrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	fields := make([]goerrors.FieldError, 0, len(keys))
	for _, key := range keys {
		fields = append(fields, goerrors.FieldError{
			Field:   prefix + key,
			Message: fieldErrs[key].Error(),
		})
	}
	return core.NewValidationError("webhooks: payload does not match schema", fields...)
}

// toInboundEvent maps a validated envelope onto a ledger row.
func toInboundEvent(envelope Envelope, dedupKey string, receivedAt time.Time) core.InboundEvent {
	payload := map[string]any{
		"event": envelope.Event,
	}
	data := map[string]any{}
	raw, err := json.Marshal(envelope.Data)
	if err == nil {
		_ = json.Unmarshal(raw, &data)
	}
	payload["data"] = data

	return core.InboundEvent{
		Name:       core.EventName(envelope.Event),
		DedupKey:   dedupKey,
		ContentID:  strings.TrimSpace(envelope.Data.ContentID),
		ContactID:  strings.TrimSpace(envelope.Data.ContactID),
		Email:      strings.TrimSpace(envelope.Data.Email),
		FormID:     strings.TrimSpace(envelope.Data.FormID),
		CampaignID: strings.TrimSpace(envelope.Data.CampaignID),
		Payload:    payload,
		OccurredAt: envelope.Data.Timestamp.UTC(),
		ReceivedAt: receivedAt,
	}
}
