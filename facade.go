package outreach

import (
	"context"
	"fmt"

	outreachcommand "github.com/goliatone/go-outreach/command"
	outreachquery "github.com/goliatone/go-outreach/query"
)

type CommandQueryService interface {
	outreachcommand.MutatingService
	outreachcommand.WebhookIngester
	outreachquery.JobStatusReader
}

type Commands struct {
	EnqueueBulkList *outreachcommand.EnqueueBulkListCommand
	SchedulePush    *outreachcommand.SchedulePushCommand
	IngestWebhook   *outreachcommand.IngestWebhookCommand
}

type Queries struct {
	GetJobStatus      *outreachquery.GetJobStatusQuery
	ListInboundEvents *outreachquery.ListInboundEventsQuery
	ListMembers       *outreachquery.ListMembersQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	eventReader  outreachquery.InboundEventReader
	memberReader outreachquery.ListMemberReader
}

func WithEventReader(reader outreachquery.InboundEventReader) FacadeOption {
	return func(options *facadeOptions) {
		options.eventReader = reader
	}
}

func WithMemberReader(reader outreachquery.ListMemberReader) FacadeOption {
	return func(options *facadeOptions) {
		options.memberReader = reader
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("outreach: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	if cfg.eventReader == nil {
		cfg.eventReader = resolveEventReader(service)
	}
	if cfg.memberReader == nil {
		cfg.memberReader = resolveMemberReader(service)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		EnqueueBulkList: outreachcommand.NewEnqueueBulkListCommand(service),
		SchedulePush:    outreachcommand.NewSchedulePushCommand(service),
		IngestWebhook:   outreachcommand.NewIngestWebhookCommand(service),
	}
	facade.queries = Queries{
		GetJobStatus:      outreachquery.NewGetJobStatusQuery(service),
		ListInboundEvents: outreachquery.NewListInboundEventsQuery(cfg.eventReader),
		ListMembers:       outreachquery.NewListMembersQuery(cfg.memberReader),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// Facade builds the command/query facade over the runtime and its stores.
func (r *Runtime) Facade(opts ...FacadeOption) (*Facade, error) {
	if r == nil {
		return nil, fmt.Errorf("outreach: runtime is not configured")
	}
	return NewFacade(r, opts...)
}

func resolveEventReader(service CommandQueryService) outreachquery.InboundEventReader {
	if reader, ok := service.(outreachquery.InboundEventReader); ok {
		return reader
	}
	provider, ok := service.(interface{ Dependencies() Dependencies })
	if !ok {
		return nil
	}
	reader, _ := provider.Dependencies().Ledger.(outreachquery.InboundEventReader)
	return reader
}

func resolveMemberReader(service CommandQueryService) outreachquery.ListMemberReader {
	if reader, ok := service.(outreachquery.ListMemberReader); ok {
		return reader
	}
	provider, ok := service.(interface{ Dependencies() Dependencies })
	if !ok {
		return nil
	}
	switch store := provider.Dependencies().Contacts.(type) {
	case outreachquery.ListMemberReader:
		return store
	case interface{ Members(listID string) []string }:
		return memberListFunc(func(_ context.Context, listID string) ([]string, error) {
			return store.Members(listID), nil
		})
	default:
		return nil
	}
}

type memberListFunc func(ctx context.Context, listID string) ([]string, error)

func (f memberListFunc) Members(ctx context.Context, listID string) ([]string, error) {
	return f(ctx, listID)
}

var _ CommandQueryService = (*Runtime)(nil)
