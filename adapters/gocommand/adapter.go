package gocommand

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	outreach "github.com/goliatone/go-outreach"
	"github.com/goliatone/go-outreach/core"
	outreachcommand "github.com/goliatone/go-outreach/command"
	outreachquery "github.com/goliatone/go-outreach/query"
	"github.com/goliatone/go-outreach/webhooks"
)

// ValidateMessageContract requires a non-empty Type() and runs Validate()
// when the message has one.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

// Bus mounts the outreach facade on the go-command dispatcher. Registered
// handlers are also mirrored into the registry so resolvers, such as the
// go-job queue resolver, can pick them up on Initialize.
type Bus struct {
	registry      *command.Registry
	runnerOptions []runner.Option
	resolvers     map[string]command.Resolver

	mu            sync.Mutex
	subscriptions []commanddispatcher.Subscription
}

type Option func(*Bus)

func WithRegistry(registry *command.Registry) Option {
	return func(b *Bus) {
		if registry != nil {
			b.registry = registry
		}
	}
}

func WithRunnerOptions(opts ...runner.Option) Option {
	return func(b *Bus) {
		b.runnerOptions = append(b.runnerOptions, opts...)
	}
}

// WithQueueRegistry mirrors mounted commands into queueRegistry so they can
// also be executed from a go-job queue.
func WithQueueRegistry(key string, queueRegistry *jobqueuecommand.Registry) Option {
	return func(b *Bus) {
		if queueRegistry == nil {
			return
		}
		b.resolvers[strings.TrimSpace(key)] = jobqueuecommand.QueueResolver(queueRegistry)
	}
}

func NewBus(opts ...Option) (*Bus, error) {
	bus := &Bus{registry: command.NewRegistry(), resolvers: map[string]command.Resolver{}}
	for _, opt := range opts {
		if opt != nil {
			opt(bus)
		}
	}
	for key, resolver := range bus.resolvers {
		if err := bus.registry.AddResolver(key, resolver); err != nil {
			return nil, err
		}
	}
	return bus, nil
}

func (b *Bus) Registry() *command.Registry {
	if b == nil {
		return nil
	}
	return b.registry
}

// Mount subscribes every facade command and query, then initializes the
// registry.
func (b *Bus) Mount(facade *outreach.Facade) error {
	if b == nil || b.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if facade == nil {
		return fmt.Errorf("gocommand: facade is required")
	}
	commands := facade.Commands()
	queries := facade.Queries()
	err := errors.Join(
		registerCommand(b, commands.EnqueueBulkList),
		registerCommand(b, commands.SchedulePush),
		registerCommand(b, commands.IngestWebhook),
		registerQuery(b, queries.GetJobStatus),
		registerQuery(b, queries.ListInboundEvents),
		registerQuery(b, queries.ListMembers),
	)
	if err != nil {
		b.Close()
		return err
	}
	return b.registry.Initialize()
}

// Close drops every dispatcher subscription made by Mount.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subscription := range b.subscriptions {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

func (b *Bus) track(subscription commanddispatcher.Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = append(b.subscriptions, subscription)
}

func registerCommand[T any](b *Bus, cmd command.Commander[T]) error {
	if cmd == nil {
		return fmt.Errorf("gocommand: command is required")
	}
	b.track(commanddispatcher.SubscribeCommand(cmd, b.runnerOptions...))
	return b.registry.RegisterCommand(cmd)
}

func registerQuery[T any, R any](b *Bus, qry command.Querier[T, R]) error {
	if qry == nil {
		return fmt.Errorf("gocommand: query is required")
	}
	b.track(commanddispatcher.SubscribeQuery(qry, b.runnerOptions...))
	return b.registry.RegisterCommand(qry)
}

// Dispatch validates msg and sends it to the mounted command.
func Dispatch[T any](ctx context.Context, msg T) error {
	if err := ValidateMessageContract(msg); err != nil {
		return err
	}
	return commanddispatcher.Dispatch(ctx, msg)
}

// Query validates msg and runs the mounted query.
func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	if err := ValidateMessageContract(msg); err != nil {
		var zero R
		return zero, err
	}
	return commanddispatcher.Query[T, R](ctx, msg)
}

// EnqueueBulkList dispatches the bulk list command and returns the job id.
func EnqueueBulkList(ctx context.Context, msg outreachcommand.EnqueueBulkListMessage) (string, error) {
	return dispatchForResult[outreachcommand.EnqueueBulkListMessage, outreachcommand.EnqueueResult](ctx, msg, func(r outreachcommand.EnqueueResult) string {
		return r.JobID
	})
}

// SchedulePush dispatches the push command and returns the job id.
func SchedulePush(ctx context.Context, msg outreachcommand.SchedulePushMessage) (string, error) {
	return dispatchForResult[outreachcommand.SchedulePushMessage, outreachcommand.EnqueueResult](ctx, msg, func(r outreachcommand.EnqueueResult) string {
		return r.JobID
	})
}

// IngestWebhook dispatches the ingest command. The result is returned even
// when the event was rejected.
func IngestWebhook(ctx context.Context, msg outreachcommand.IngestWebhookMessage) (webhooks.Result, error) {
	collector := command.NewResult[webhooks.Result]()
	err := Dispatch(command.ContextWithResult(ctx, collector), msg)
	out, _ := collector.Load()
	return out, err
}

func GetJobStatus(ctx context.Context, jobID string) (core.JobStatus, error) {
	return Query[outreachquery.GetJobStatusMessage, core.JobStatus](ctx, outreachquery.GetJobStatusMessage{JobID: jobID})
}

func dispatchForResult[T any, R any](ctx context.Context, msg T, pick func(R) string) (string, error) {
	collector := command.NewResult[R]()
	if err := Dispatch(command.ContextWithResult(ctx, collector), msg); err != nil {
		return "", err
	}
	out, ok := collector.Load()
	if !ok {
		return "", core.NewInternalError("gocommand: command produced no result", nil)
	}
	return pick(out), nil
}
