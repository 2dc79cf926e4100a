package outreach

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-outreach/bulklist"
	"github.com/goliatone/go-outreach/core"
	"github.com/goliatone/go-outreach/jobs"
	"github.com/goliatone/go-outreach/push"
	"github.com/goliatone/go-outreach/transport"
	"github.com/goliatone/go-outreach/webhooks"
)

type Config = core.Config

type ConfigProvider = core.ConfigProvider

type Criteria = core.Criteria

type JobOptions = core.JobOptions

type JobStatus = core.JobStatus

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// Dependencies are the collaborators a Runtime is built from. Nil stores
// fall back to in-process implementations.
type Dependencies struct {
	Ledger         core.EventLedger
	JobStore       core.JobStore
	JobReader      core.JobReader
	Contacts       core.ContactStore
	PushAttempts   core.PushAttemptStore
	Publisher      core.EventPublisher
	Notifier       core.Notifier
	Hooks          []core.JobWorkerHook
	Metrics        core.MetricsRecorder
	Logger         core.Logger
	LoggerProvider core.LoggerProvider
	HTTPDoer       transport.HTTPDoer
	Scheduler      core.Scheduler
}

type Option func(*Dependencies)

// WithStores takes every store from provider, e.g. the sql repository factory.
func WithStores(provider core.StoreProvider) Option {
	return func(deps *Dependencies) {
		if provider == nil {
			return
		}
		deps.Ledger = provider.EventLedger()
		deps.JobStore = provider.JobStore()
		deps.Contacts = provider.ContactStore()
		deps.PushAttempts = provider.PushAttemptStore()
	}
}

func WithEventLedger(ledger core.EventLedger) Option {
	return func(deps *Dependencies) {
		deps.Ledger = ledger
	}
}

func WithJobStore(store core.JobStore) Option {
	return func(deps *Dependencies) {
		deps.JobStore = store
	}
}

// WithJobReader serves status reads through reader instead of the job store.
func WithJobReader(reader core.JobReader) Option {
	return func(deps *Dependencies) {
		deps.JobReader = reader
	}
}

func WithContactStore(store core.ContactStore) Option {
	return func(deps *Dependencies) {
		deps.Contacts = store
	}
}

func WithPushAttemptStore(store core.PushAttemptStore) Option {
	return func(deps *Dependencies) {
		deps.PushAttempts = store
	}
}

func WithEventPublisher(publisher core.EventPublisher) Option {
	return func(deps *Dependencies) {
		deps.Publisher = publisher
	}
}

func WithNotifier(notifier core.Notifier) Option {
	return func(deps *Dependencies) {
		deps.Notifier = notifier
	}
}

func WithJobHooks(hooks ...core.JobWorkerHook) Option {
	return func(deps *Dependencies) {
		deps.Hooks = append(deps.Hooks, hooks...)
	}
}

func WithMetricsRecorder(metrics core.MetricsRecorder) Option {
	return func(deps *Dependencies) {
		deps.Metrics = metrics
	}
}

func WithLogger(logger core.Logger) Option {
	return func(deps *Dependencies) {
		deps.Logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(deps *Dependencies) {
		deps.LoggerProvider = provider
	}
}

func WithHTTPDoer(doer transport.HTTPDoer) Option {
	return func(deps *Dependencies) {
		deps.HTTPDoer = doer
	}
}

func WithPushScheduler(scheduler core.Scheduler) Option {
	return func(deps *Dependencies) {
		deps.Scheduler = scheduler
	}
}

// Runtime wires the job queue, bulk list worker, push client and webhook
// endpoint over a shared set of stores.
type Runtime struct {
	cfg      Config
	deps     Dependencies
	jobs     *jobs.Service
	bulkList *bulklist.Worker
	push     *push.Client
	webhook  *webhooks.Endpoint
	observer core.Observer
}

// Setup resolves configuration through provider before building a Runtime.
func Setup(ctx context.Context, runtime Config, provider ConfigProvider, opts ...Option) (*Runtime, error) {
	cfg, err := core.ResolveConfig(ctx, runtime, provider, nil)
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

func New(cfg Config, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	deps := Dependencies{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&deps)
	}
	if deps.Ledger == nil {
		deps.Ledger = core.NewMemoryEventLedger()
	}
	if deps.JobStore == nil {
		deps.JobStore = jobs.NewMemoryStore()
	}
	if deps.Contacts == nil {
		deps.Contacts = bulklist.NewMemoryContactStore()
	}
	if deps.PushAttempts == nil {
		deps.PushAttempts = push.NewMemoryAttemptStore()
	}

	name := strings.TrimSpace(cfg.ServiceName)
	rt := &Runtime{
		cfg:      cfg,
		deps:     deps,
		observer: core.NewObserver(name, deps.LoggerProvider, deps.Logger, deps.Metrics),
	}

	service, err := jobs.New(deps.JobStore, cfg.Jobs,
		jobs.WithObserver(core.NewObserver(name+".jobs", deps.LoggerProvider, deps.Logger, deps.Metrics)),
		jobs.WithNotifier(deps.Notifier),
		jobs.WithReader(deps.JobReader),
		jobs.WithHooks(deps.Hooks...),
	)
	if err != nil {
		return nil, err
	}
	rt.jobs = service

	worker, err := bulklist.NewWorker(deps.Contacts,
		bulklist.WithObserver(core.NewObserver(name+".bulklist", deps.LoggerProvider, deps.Logger, deps.Metrics)),
	)
	if err != nil {
		return nil, err
	}
	rt.bulkList = worker
	if err := service.Register(bulklist.JobType, bulklist.NewHandler(worker)); err != nil {
		return nil, err
	}

	if cfg.Push.Enabled {
		client, err := push.NewClient(cfg.Push,
			push.WithHTTPDoer(deps.HTTPDoer),
			push.WithScheduler(deps.Scheduler),
			push.WithObserver(core.NewObserver(name+".push", deps.LoggerProvider, deps.Logger, deps.Metrics)),
		)
		if err != nil {
			return nil, err
		}
		rt.push = client
		if err := service.Register(push.JobType, push.NewHandler(client, deps.PushAttempts)); err != nil {
			return nil, err
		}
	}

	if cfg.Webhook.Enabled {
		endpoint, err := webhooks.NewEndpoint(cfg.Webhook, deps.Ledger,
			webhooks.WithPublisher(deps.Publisher),
			webhooks.WithObserver(core.NewObserver(name+".webhooks", deps.LoggerProvider, deps.Logger, deps.Metrics)),
		)
		if err != nil {
			return nil, err
		}
		rt.webhook = endpoint
	}
	return rt, nil
}

func (r *Runtime) Config() Config {
	if r == nil {
		return Config{}
	}
	return r.cfg
}

func (r *Runtime) Jobs() *jobs.Service {
	if r == nil {
		return nil
	}
	return r.jobs
}

// Webhook returns the inbound endpoint, nil when the webhook is disabled.
func (r *Runtime) Webhook() *webhooks.Endpoint {
	if r == nil {
		return nil
	}
	return r.webhook
}

// Push returns the push client, nil when push delivery is disabled.
func (r *Runtime) Push() *push.Client {
	if r == nil {
		return nil
	}
	return r.push
}

func (r *Runtime) Dependencies() Dependencies {
	if r == nil {
		return Dependencies{}
	}
	return r.deps
}

// Start launches the job workers.
func (r *Runtime) Start(ctx context.Context) error {
	if r == nil || r.jobs == nil {
		return fmt.Errorf("outreach: runtime is not configured")
	}
	if err := r.jobs.Start(ctx); err != nil {
		return err
	}
	r.observer.Info(ctx, "outreach runtime started", map[string]any{
		"webhook_enabled": r.webhook != nil,
		"push_enabled":    r.push != nil,
	})
	return nil
}

// Close drains the job queue within ctx and closes the event publisher when
// it supports closing.
func (r *Runtime) Close(ctx context.Context) error {
	if r == nil || r.jobs == nil {
		return nil
	}
	err := r.jobs.Close(ctx)
	if closer, ok := r.deps.Publisher.(interface{ Close() error }); ok && closer != nil {
		err = errors.Join(err, closer.Close())
	}
	return err
}

func (r *Runtime) EnqueueBulkList(ctx context.Context, req bulklist.Request, opts core.JobOptions) (string, error) {
	if r == nil || r.jobs == nil {
		return "", core.NewUnavailableError("outreach: runtime is not configured", nil)
	}
	if err := req.Validate(); err != nil {
		return "", err
	}
	payload, err := req.Payload()
	if err != nil {
		return "", core.NewInternalError("outreach: encode bulk list payload", err)
	}
	return r.jobs.Enqueue(ctx, bulklist.JobType, payload, opts)
}

func (r *Runtime) SchedulePush(ctx context.Context, content push.Content, targetURL string, opts core.JobOptions) (string, error) {
	if r == nil || r.jobs == nil {
		return "", core.NewUnavailableError("outreach: runtime is not configured", nil)
	}
	if r.push == nil {
		return "", core.NewUnavailableError("outreach: push delivery is disabled", nil)
	}
	if _, err := push.Transform(content); err != nil {
		return "", err
	}
	payload, err := push.DeliveryPayload(content, targetURL)
	if err != nil {
		return "", err
	}
	return r.jobs.Enqueue(ctx, push.JobType, payload, r.push.JobOptions(opts))
}

func (r *Runtime) Ingest(ctx context.Context, req webhooks.Request) (webhooks.Result, error) {
	if r == nil || r.webhook == nil {
		return webhooks.Result{Outcome: webhooks.OutcomeRejected, StatusCode: http.StatusServiceUnavailable},
			core.NewUnavailableError("outreach: webhook endpoint is disabled", nil)
	}
	return r.webhook.Ingest(ctx, req)
}

func (r *Runtime) GetStatus(ctx context.Context, id string) (core.JobStatus, error) {
	if r == nil || r.jobs == nil {
		return core.JobStatus{}, core.NewUnavailableError("outreach: runtime is not configured", nil)
	}
	return r.jobs.GetStatus(ctx, id)
}
