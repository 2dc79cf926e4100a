package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-outreach/bulklist"
	"github.com/goliatone/go-outreach/core"
	"github.com/goliatone/go-outreach/push"
	"github.com/goliatone/go-outreach/webhooks"
)

type MutatingService interface {
	EnqueueBulkList(ctx context.Context, req bulklist.Request, opts core.JobOptions) (string, error)
	SchedulePush(ctx context.Context, content push.Content, targetURL string, opts core.JobOptions) (string, error)
}

type WebhookIngester interface {
	Ingest(ctx context.Context, req webhooks.Request) (webhooks.Result, error)
}

type EnqueueBulkListCommand struct {
	service MutatingService
}

func NewEnqueueBulkListCommand(service MutatingService) *EnqueueBulkListCommand {
	return &EnqueueBulkListCommand{service: service}
}

func (c *EnqueueBulkListCommand) Execute(ctx context.Context, msg EnqueueBulkListMessage) error {
	if c == nil || c.service == nil {
		return missingDependency("command: bulk list service is required")
	}
	id, err := c.service.EnqueueBulkList(ctx, msg.Request, msg.Options)
	if err != nil {
		return err
	}
	storeResult(ctx, EnqueueResult{JobID: id})
	return nil
}

type SchedulePushCommand struct {
	service MutatingService
}

func NewSchedulePushCommand(service MutatingService) *SchedulePushCommand {
	return &SchedulePushCommand{service: service}
}

func (c *SchedulePushCommand) Execute(ctx context.Context, msg SchedulePushMessage) error {
	if c == nil || c.service == nil {
		return missingDependency("command: push service is required")
	}
	id, err := c.service.SchedulePush(ctx, msg.Content, msg.TargetURL, msg.Options)
	if err != nil {
		return err
	}
	storeResult(ctx, EnqueueResult{JobID: id})
	return nil
}

// IngestWebhookCommand stores the endpoint result even when ingestion is
// rejected, so callers can still render the status code.
type IngestWebhookCommand struct {
	ingester WebhookIngester
}

func NewIngestWebhookCommand(ingester WebhookIngester) *IngestWebhookCommand {
	return &IngestWebhookCommand{ingester: ingester}
}

func (c *IngestWebhookCommand) Execute(ctx context.Context, msg IngestWebhookMessage) error {
	if c == nil || c.ingester == nil {
		return missingDependency("command: webhook endpoint is required")
	}
	out, err := c.ingester.Ingest(ctx, msg.Request)
	storeResult(ctx, out)
	return err
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
