package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/goliatone/go-outreach/bulklist"
	"github.com/goliatone/go-outreach/core"
	"github.com/goliatone/go-outreach/push"
)

const DefaultWebhookPath = "/webhooks/outreach"

// Service is the part of the runtime the HTTP surface drives.
type Service interface {
	EnqueueBulkList(ctx context.Context, req bulklist.Request, opts core.JobOptions) (string, error)
	SchedulePush(ctx context.Context, content push.Content, targetURL string, opts core.JobOptions) (string, error)
	GetStatus(ctx context.Context, id string) (core.JobStatus, error)
}

type HealthCheck func(ctx context.Context) error

type Option func(*routerConfig)

type routerConfig struct {
	webhookPath    string
	webhook        http.Handler
	metrics        core.MetricsRecorder
	metricsHandler http.Handler
	health         []HealthCheck
	maxBodyBytes   int64
}

// WithWebhook mounts handler at path, DefaultWebhookPath when empty.
func WithWebhook(path string, handler http.Handler) Option {
	return func(cfg *routerConfig) {
		if path = strings.TrimSpace(path); path != "" {
			cfg.webhookPath = path
		}
		cfg.webhook = handler
	}
}

// WithMetrics records request counts and durations on recorder.
func WithMetrics(recorder core.MetricsRecorder) Option {
	return func(cfg *routerConfig) {
		cfg.metrics = recorder
	}
}

// WithMetricsHandler serves handler at GET /metrics.
func WithMetricsHandler(handler http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.metricsHandler = handler
	}
}

func WithHealthCheck(checks ...HealthCheck) Option {
	return func(cfg *routerConfig) {
		cfg.health = append(cfg.health, checks...)
	}
}

// WithMaxBodyBytes caps job control request bodies.
func WithMaxBodyBytes(limit int64) Option {
	return func(cfg *routerConfig) {
		if limit > 0 {
			cfg.maxBodyBytes = limit
		}
	}
}

// NewRouter builds the outreach HTTP surface:
//
//	POST {webhook path}    inbound webhook
//	POST /jobs/bulk-list   enqueue a bulk list job
//	POST /jobs/push        schedule a content push
//	GET  /jobs/{id}        job status
//	GET  /healthz          liveness plus configured checks
//	GET  /metrics          metrics exposition, when configured
func NewRouter(service Service, opts ...Option) chi.Router {
	cfg := routerConfig{
		webhookPath:  DefaultWebhookPath,
		maxBodyBytes: core.DefaultWebhookMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	h := &handlers{service: service, maxBodyBytes: cfg.maxBodyBytes}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	if cfg.metrics != nil {
		r.Use(Metrics(cfg.metrics))
	}

	r.Get("/healthz", healthHandler(cfg.health))
	if cfg.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metricsHandler)
	}
	if cfg.webhook != nil {
		r.Method(http.MethodPost, cfg.webhookPath, cfg.webhook)
	} else {
		r.Post(cfg.webhookPath, func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Status: "error", Message: "webhook endpoint is disabled", Code: core.ErrorUnavailable})
		})
	}

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/bulk-list", h.enqueueBulkList)
		r.Post("/push", h.schedulePush)
		r.Get("/{id}", h.jobStatus)
	})
	return r
}

func healthHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, check := range checks {
			if check == nil {
				continue
			}
			if err := check(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, errorResponse{Status: "error", Message: "unhealthy", Code: core.ErrorUnavailable})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
