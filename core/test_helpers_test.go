package core

import (
	"context"
	"fmt"
	"sync"
)

type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) record(level string, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf("%s:%s", level, msg))
}

func (l *recordingLogger) Trace(msg string, _ ...any) { l.record("trace", msg) }
func (l *recordingLogger) Debug(msg string, _ ...any) { l.record("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.record("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.record("error", msg) }
func (l *recordingLogger) Fatal(msg string, _ ...any) { l.record("fatal", msg) }
func (l *recordingLogger) WithContext(context.Context) Logger {
	return l
}

func (l *recordingLogger) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

type recordingMetrics struct {
	mu       sync.Mutex
	counters map[string]int64
}

func (m *recordingMetrics) IncCounter(_ context.Context, name string, value int64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = map[string]int64{}
	}
	m.counters[name] += value
}

func (m *recordingMetrics) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func validTestConfig() Config {
	cfg := DefaultConfig()
	cfg.Webhook.APIKey = "K"
	cfg.Webhook.Secret = "webhook-secret"
	cfg.Push.Secret = "push-secret"
	return cfg
}
