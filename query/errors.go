package query

import (
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-outreach/core"
)

func missingReader(message string) error {
	return core.NewInternalError(message, nil)
}

func invalidField(field string, message string) error {
	return core.NewValidationError("query: validation failed", goerrors.FieldError{Field: field, Message: message})
}
