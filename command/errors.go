package command

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-outreach/core"
)

// missingDependency reports a command built without its backing service.
func missingDependency(message string) error {
	return core.NewInternalError(message, nil)
}

func invalidField(field string, message string) error {
	return core.NewValidationError("command: validation failed", goerrors.FieldError{Field: field, Message: message})
}

// asValidation keeps outreach validation errors as they are and folds any
// other failure into one.
func asValidation(err error, message string) error {
	if err == nil || core.HasTextCode(err, core.ErrorValidationFailed) {
		return err
	}
	return goerrors.Wrap(err, goerrors.CategoryValidation, message).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ErrorValidationFailed)
}
