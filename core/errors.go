package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorAuthenticationFailed = "OUTREACH_AUTHENTICATION_FAILED"
	ErrorValidationFailed     = "OUTREACH_VALIDATION_FAILED"
	ErrorDuplicateEvent       = "OUTREACH_DUPLICATE_EVENT"
	ErrorDeliveryTransient    = "OUTREACH_DELIVERY_TRANSIENT"
	ErrorDeliveryTerminal     = "OUTREACH_DELIVERY_TERMINAL"
	ErrorJobHandlerFailed     = "OUTREACH_JOB_HANDLER_FAILED"
	ErrorNotFound             = "OUTREACH_NOT_FOUND"
	ErrorConflict             = "OUTREACH_CONFLICT"
	ErrorUnavailable          = "OUTREACH_UNAVAILABLE"
	ErrorInternal             = "OUTREACH_INTERNAL_ERROR"
)

const metadataKeyRetryable = "retryable"

var (
	// ErrJobExists is returned by job stores when a caller supplied id is taken.
	ErrJobExists = errors.New("core: job already exists")
	// ErrJobNotFound is returned by job stores for unknown ids.
	ErrJobNotFound = errors.New("core: job not found")
	// ErrLeaseLost is returned when a worker no longer holds the job lease.
	ErrLeaseLost = errors.New("core: job lease lost")
)

func NewAuthenticationError(message string, metadata map[string]any) *goerrors.Error {
	return newOutreachError(message, goerrors.CategoryAuth, ErrorAuthenticationFailed, metadata)
}

func NewValidationError(message string, fields ...goerrors.FieldError) *goerrors.Error {
	if len(fields) == 0 {
		return newOutreachError(message, goerrors.CategoryValidation, ErrorValidationFailed, nil)
	}
	return goerrors.NewValidation(message, fields...).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorValidationFailed).
		WithSeverity(goerrors.SeverityError)
}

func NewTransientDeliveryError(message string, metadata map[string]any) *goerrors.Error {
	return newOutreachError(message, goerrors.CategoryExternal, ErrorDeliveryTransient, withRetryable(metadata, true))
}

func NewTerminalDeliveryError(message string, metadata map[string]any) *goerrors.Error {
	return newOutreachError(message, goerrors.CategoryExternal, ErrorDeliveryTerminal, withRetryable(metadata, false))
}

func NewJobHandlerError(err error, jobType string) *goerrors.Error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryOperation, "job handler failed").
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorJobHandlerFailed).
		WithMetadata(map[string]any{"job_type": jobType})
}

func NewNotFoundError(message string, metadata map[string]any) *goerrors.Error {
	return newOutreachError(message, goerrors.CategoryNotFound, ErrorNotFound, metadata)
}

func NewInternalError(message string, cause error) *goerrors.Error {
	if cause == nil {
		return newOutreachError(message, goerrors.CategoryInternal, ErrorInternal, nil)
	}
	return goerrors.Wrap(cause, goerrors.CategoryInternal, message).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorInternal)
}

// NewUnavailableError marks a backing store failure surfaced synchronously.
func NewUnavailableError(message string, cause error) *goerrors.Error {
	if cause == nil {
		return newOutreachError(message, goerrors.CategoryExternal, ErrorUnavailable, nil).
			WithCode(http.StatusServiceUnavailable)
	}
	return goerrors.Wrap(cause, goerrors.CategoryExternal, message).
		WithCode(http.StatusServiceUnavailable).
		WithTextCode(ErrorUnavailable)
}

// IsRetryable reports whether err was classified as a transient failure.
func IsRetryable(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	if richErr.TextCode == ErrorDeliveryTransient {
		return true
	}
	if value, ok := richErr.Metadata[metadataKeyRetryable].(bool); ok {
		return value
	}
	return false
}

// HasTextCode reports whether any rich error in err's chain carries code.
func HasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

// MapError converts any error into the outreach error envelope.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrJobNotFound):
		return newOutreachError(err.Error(), goerrors.CategoryNotFound, ErrorNotFound, nil)
	case errors.Is(err, ErrJobExists):
		return newOutreachError(err.Error(), goerrors.CategoryConflict, ErrorConflict, nil)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "signature"), strings.Contains(msg, "api key"):
		return newOutreachError(err.Error(), goerrors.CategoryAuth, ErrorAuthenticationFailed, nil)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newOutreachError(err.Error(), goerrors.CategoryBadInput, ErrorValidationFailed, nil)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

// HTTPStatus resolves the response status code carried by err.
func HTTPStatus(err error) int {
	mapped := MapError(err)
	if mapped == nil {
		return http.StatusOK
	}
	return mapped.Code
}

func withRetryable(metadata map[string]any, retryable bool) map[string]any {
	out := make(map[string]any, len(metadata)+1)
	for key, value := range metadata {
		out[key] = value
	}
	out[metadataKeyRetryable] = retryable
	return out
}

func newOutreachError(message string, category goerrors.Category, textCode string, metadata map[string]any) *goerrors.Error {
	out := goerrors.New(message, category).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		out = out.WithMetadata(metadata)
	}
	return ensureErrorEnvelope(out)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatusForCategory(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorValidationFailed
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorAuthenticationFailed
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryConflict:
		return ErrorConflict
	case goerrors.CategoryOperation:
		return ErrorJobHandlerFailed
	default:
		return ErrorInternal
	}
}

func httpStatusForCategory(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
