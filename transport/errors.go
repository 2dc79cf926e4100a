package transport

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-outreach/core"
)

// invalidRequest is a request built wrong on our side. Retrying it cannot help.
func invalidRequest(message string, cause error, metadata map[string]any) error {
	return envelope(cause, message, goerrors.CategoryBadInput, http.StatusBadRequest, core.ErrorValidationFailed, metadata)
}

// exchangeFailed covers a remote side that could not be reached or answered
// unreadably. Push delivery retries these.
func exchangeFailed(message string, cause error, metadata map[string]any) error {
	return envelope(cause, message, goerrors.CategoryExternal, http.StatusBadGateway, core.ErrorDeliveryTransient, metadata)
}

func envelope(cause error, message string, category goerrors.Category, code int, textCode string, metadata map[string]any) error {
	var err *goerrors.Error
	if cause == nil {
		err = goerrors.New(message, category)
	} else {
		err = goerrors.Wrap(cause, category, message)
	}
	err = err.WithCode(code).WithTextCode(textCode)
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}
