package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/goliatone/go-outreach/core"
)

// Handler executes one attempt of a job. The returned map becomes the job
// result on success.
type Handler interface {
	Handle(ctx context.Context, job core.Job) (map[string]any, error)
}

type HandlerFunc func(ctx context.Context, job core.Job) (map[string]any, error)

func (f HandlerFunc) Handle(ctx context.Context, job core.Job) (map[string]any, error) {
	return f(ctx, job)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent marks err so the job fails without consuming its remaining
// attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	var existing *permanentError
	if errors.As(err, &existing) {
		return err
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var target *permanentError
	return errors.As(err, &target)
}

type progressKey struct{}

type progressReporter func(ctx context.Context, progress int) error

// ReportProgress records handler progress (0..100) on the running job. It is
// a no-op outside a job handler.
func ReportProgress(ctx context.Context, progress int) error {
	if ctx == nil {
		return nil
	}
	report, ok := ctx.Value(progressKey{}).(progressReporter)
	if !ok || report == nil {
		return nil
	}
	return report(ctx, clampProgress(progress))
}

func withProgress(ctx context.Context, report progressReporter) context.Context {
	return context.WithValue(ctx, progressKey{}, report)
}

func clampProgress(progress int) int {
	switch {
	case progress < 0:
		return 0
	case progress > 100:
		return 100
	default:
		return progress
	}
}

// invoke runs the handler and converts panics into errors.
func invoke(ctx context.Context, handler Handler, job core.Job) (result map[string]any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = nil
			err = fmt.Errorf("jobs: handler panic: %v", recovered)
		}
	}()
	return handler.Handle(ctx, job)
}
