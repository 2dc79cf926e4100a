package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Observer logs operation outcomes and records their metrics. A zero
// Observer is safe to use and drops everything.
type Observer struct {
	Logger  Logger
	Metrics MetricsRecorder
	Prefix  string
}

// NewObserver resolves a named logger the way the rest of the module does.
func NewObserver(name string, provider LoggerProvider, logger Logger, metrics MetricsRecorder) Observer {
	_, resolved := glog.Resolve(name, provider, logger)
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	return Observer{
		Logger:  glog.Ensure(resolved),
		Metrics: metrics,
		Prefix:  "outreach",
	}
}

func (o Observer) Observe(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "failure"
	}

	contextFields := cloneFields(fields)
	contextFields["event_type"] = operation
	contextFields["status"] = status
	contextFields["duration_ms"] = time.Since(startedAt).Milliseconds()
	if err != nil {
		contextFields["error"] = err.Error()
	}

	tags := map[string]string{
		"operation": operation,
		"status":    status,
	}
	for _, key := range []string{"job_type", "event", "outcome", "content_kind"} {
		if value := strings.TrimSpace(fmt.Sprint(contextFields[key])); value != "" && value != "<nil>" {
			tags[key] = value
		}
	}

	o.Count(ctx, operation+".total", tags)
	o.Histogram(ctx, operation+".duration_ms", float64(time.Since(startedAt).Milliseconds()), tags)

	if err != nil {
		o.Error(ctx, operation+" failed", contextFields)
		return
	}
	o.Info(ctx, operation+" succeeded", contextFields)
}

func (o Observer) Debug(ctx context.Context, message string, fields map[string]any) {
	o.log(ctx, "debug", message, fields)
}

func (o Observer) Info(ctx context.Context, message string, fields map[string]any) {
	o.log(ctx, "info", message, fields)
}

func (o Observer) Warn(ctx context.Context, message string, fields map[string]any) {
	o.log(ctx, "warn", message, fields)
}

func (o Observer) Error(ctx context.Context, message string, fields map[string]any) {
	o.log(ctx, "error", message, fields)
}

func (o Observer) Count(ctx context.Context, name string, tags map[string]string) {
	if o.Metrics == nil {
		return
	}
	o.Metrics.IncCounter(ctx, o.metricName(name), 1, cloneTags(tags))
}

func (o Observer) Histogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if o.Metrics == nil {
		return
	}
	o.Metrics.ObserveHistogram(ctx, o.metricName(name), value, cloneTags(tags))
}

func (o Observer) metricName(name string) string {
	name = strings.TrimSpace(name)
	if o.Prefix == "" {
		return name
	}
	return o.Prefix + "." + name
}

func (o Observer) log(ctx context.Context, level string, message string, fields map[string]any) {
	if o.Logger == nil {
		return
	}
	logger := o.Logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	args := FlattenFields(fields)
	switch level {
	case "debug":
		logger.Debug(message, args...)
	case "warn":
		logger.Warn(message, args...)
	case "error":
		logger.Error(message, args...)
	default:
		logger.Info(message, args...)
	}
}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// FlattenFields turns fields into sorted key/value arguments.
func FlattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func cloneFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

func normalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	operation = strings.ReplaceAll(operation, " ", "_")
	operation = strings.ReplaceAll(operation, "-", "_")
	return operation
}

var _ MetricsRecorder = NopMetricsRecorder{}
