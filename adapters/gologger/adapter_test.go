package gologger

import (
	"testing"

	glog "github.com/goliatone/go-logger/glog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapProviderNamesLoggersAndKeepsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	provider := NewZapProvider(zap.New(core))

	logger := provider.GetLogger("outreach.jobs")
	logger.Info("job completed", "job_id", "j1", "attempt", 2)
	logger.Trace("lease renewed")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first := entries[0]
	if first.LoggerName != "outreach.jobs" || first.Message != "job completed" {
		t.Fatalf("unexpected entry %+v", first.Entry)
	}
	fields := first.ContextMap()
	if fields["job_id"] != "j1" || fields["attempt"] != int64(2) {
		t.Fatalf("unexpected fields %#v", fields)
	}
	if entries[1].Level != zapcore.DebugLevel {
		t.Fatalf("expected trace to log at debug, got %s", entries[1].Level)
	}
}

func TestResolvePrecedence(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	direct := NewZapLogger(zap.New(core).Named("direct"))

	_, resolved := Resolve("outreach", nil, direct, zap.NewNop())
	resolved.Info("hello")
	if logs.Len() != 1 || logs.All()[0].LoggerName != "direct" {
		t.Fatalf("expected direct logger to win over the zap fallback")
	}

	fallbackCore, fallbackLogs := observer.New(zapcore.InfoLevel)
	_, resolved = Resolve("outreach", nil, nil, zap.New(fallbackCore))
	resolved.Warn("fallback")
	if fallbackLogs.Len() != 1 || fallbackLogs.All()[0].LoggerName != "outreach" {
		t.Fatalf("expected named zap fallback logger")
	}

	_, resolved = Resolve("outreach", nil, nil, nil)
	if resolved == nil {
		t.Fatalf("expected nop logger fallback")
	}
}

func TestNilProviderReturnsNop(t *testing.T) {
	var provider *ZapProvider
	if logger := provider.GetLogger("x"); logger == nil {
		t.Fatalf("expected nop logger")
	}
	var _ glog.Logger = NewZapLogger(nil)
}
