package core

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestErrorTaxonomy_StatusAndTextCodes(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		status   int
		textCode string
	}{
		{"authentication", NewAuthenticationError("bad key", nil), http.StatusUnauthorized, ErrorAuthenticationFailed},
		{"validation", NewValidationError("bad payload"), http.StatusBadRequest, ErrorValidationFailed},
		{"validation fields", NewValidationError("bad payload", goerrors.FieldError{Field: "event", Message: "required"}), http.StatusBadRequest, ErrorValidationFailed},
		{"transient", NewTransientDeliveryError("503", nil), http.StatusBadGateway, ErrorDeliveryTransient},
		{"terminal", NewTerminalDeliveryError("404", nil), http.StatusBadGateway, ErrorDeliveryTerminal},
		{"job handler", NewJobHandlerError(errors.New("boom"), "bulk_list.add"), http.StatusInternalServerError, ErrorJobHandlerFailed},
		{"not found", NewNotFoundError("missing", nil), http.StatusNotFound, ErrorNotFound},
		{"unavailable", NewUnavailableError("store down", errors.New("dial")), http.StatusServiceUnavailable, ErrorUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := MapError(tc.err)
			if mapped == nil {
				t.Fatalf("expected mapped error")
			}
			if mapped.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, mapped.Code)
			}
			if mapped.TextCode != tc.textCode {
				t.Fatalf("expected text code %q, got %q", tc.textCode, mapped.TextCode)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(NewTransientDeliveryError("timeout", map[string]any{"status": 503})) {
		t.Fatalf("expected transient error to be retryable")
	}
	if IsRetryable(NewTerminalDeliveryError("gone", nil)) {
		t.Fatalf("expected terminal error to not be retryable")
	}
	wrapped := fmt.Errorf("push: %w", NewTransientDeliveryError("reset", nil))
	if !IsRetryable(wrapped) {
		t.Fatalf("expected wrapped transient error to be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Fatalf("expected plain error to not be retryable")
	}
}

func TestTransientDeliveryError_KeepsCallerMetadata(t *testing.T) {
	err := NewTransientDeliveryError("upstream 503", map[string]any{"status_code": 503})
	if got := err.Metadata["status_code"]; got != 503 {
		t.Fatalf("expected status_code metadata, got %v", got)
	}
	if got := err.Metadata["retryable"]; got != true {
		t.Fatalf("expected retryable metadata, got %v", got)
	}
}

func TestMapError_SentinelErrors(t *testing.T) {
	if got := HTTPStatus(fmt.Errorf("lookup: %w", ErrJobNotFound)); got != http.StatusNotFound {
		t.Fatalf("expected 404 for missing job, got %d", got)
	}
	if got := HTTPStatus(ErrJobExists); got != http.StatusConflict {
		t.Fatalf("expected 409 for existing job, got %d", got)
	}
	if got := HTTPStatus(nil); got != http.StatusOK {
		t.Fatalf("expected 200 for nil error, got %d", got)
	}
}
