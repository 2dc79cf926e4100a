package gologger

import (
	"context"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"go.uber.org/zap"
)

// ZapProvider hands out glog loggers backed by a zap core. Each name becomes
// a zap named logger, so "outreach.jobs" logs as outreach.jobs.
type ZapProvider struct {
	base *zap.Logger
}

func NewZapProvider(base *zap.Logger) *ZapProvider {
	if base == nil {
		base = zap.NewNop()
	}
	return &ZapProvider{base: base}
}

func (p *ZapProvider) GetLogger(name string) glog.Logger {
	if p == nil || p.base == nil {
		return glog.Nop()
	}
	logger := p.base
	if name = strings.TrimSpace(name); name != "" {
		logger = logger.Named(name)
	}
	return &ZapLogger{sugar: logger.Sugar()}
}

// Sync flushes buffered entries.
func (p *ZapProvider) Sync() error {
	if p == nil || p.base == nil {
		return nil
	}
	return p.base.Sync()
}

// ZapLogger maps glog key/value calls onto zap's sugared *w methods.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

func NewZapLogger(base *zap.Logger) *ZapLogger {
	if base == nil {
		base = zap.NewNop()
	}
	return &ZapLogger{sugar: base.Sugar()}
}

// Trace has no zap level; it logs at debug.
func (l *ZapLogger) Trace(msg string, args ...any) {
	l.sugar.Debugw(msg, args...)
}

func (l *ZapLogger) Debug(msg string, args ...any) {
	l.sugar.Debugw(msg, args...)
}

func (l *ZapLogger) Info(msg string, args ...any) {
	l.sugar.Infow(msg, args...)
}

func (l *ZapLogger) Warn(msg string, args ...any) {
	l.sugar.Warnw(msg, args...)
}

func (l *ZapLogger) Error(msg string, args ...any) {
	l.sugar.Errorw(msg, args...)
}

func (l *ZapLogger) Fatal(msg string, args ...any) {
	l.sugar.Fatalw(msg, args...)
}

func (l *ZapLogger) WithContext(context.Context) glog.Logger {
	return l
}

// Resolve applies provider > logger > nop precedence, falling back to a zap
// provider when base is set and neither is given.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger, base *zap.Logger) (glog.LoggerProvider, glog.Logger) {
	if provider == nil && logger == nil && base != nil {
		provider = NewZapProvider(base)
	}
	return glog.Resolve(name, provider, logger)
}

var (
	_ glog.LoggerProvider = (*ZapProvider)(nil)
	_ glog.Logger         = (*ZapLogger)(nil)
)
