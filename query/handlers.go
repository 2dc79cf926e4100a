package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-outreach/core"
)

type JobStatusReader interface {
	GetStatus(ctx context.Context, id string) (core.JobStatus, error)
}

type InboundEventReader interface {
	List(ctx context.Context, name core.EventName, limit int) ([]core.InboundEvent, error)
}

type ListMemberReader interface {
	Members(ctx context.Context, listID string) ([]string, error)
}

type GetJobStatusQuery struct {
	reader JobStatusReader
}

func NewGetJobStatusQuery(reader JobStatusReader) *GetJobStatusQuery {
	return &GetJobStatusQuery{reader: reader}
}

func (q *GetJobStatusQuery) Query(ctx context.Context, msg GetJobStatusMessage) (core.JobStatus, error) {
	if q == nil || q.reader == nil {
		return core.JobStatus{}, missingReader("query: job status reader is required")
	}
	return q.reader.GetStatus(ctx, strings.TrimSpace(msg.JobID))
}

type ListInboundEventsQuery struct {
	reader InboundEventReader
}

func NewListInboundEventsQuery(reader InboundEventReader) *ListInboundEventsQuery {
	return &ListInboundEventsQuery{reader: reader}
}

func (q *ListInboundEventsQuery) Query(ctx context.Context, msg ListInboundEventsMessage) ([]core.InboundEvent, error) {
	if q == nil || q.reader == nil {
		return nil, missingReader("query: inbound event reader is required")
	}
	return q.reader.List(ctx, msg.Name, msg.EffectiveLimit())
}

type ListMembersQuery struct {
	reader ListMemberReader
}

func NewListMembersQuery(reader ListMemberReader) *ListMembersQuery {
	return &ListMembersQuery{reader: reader}
}

func (q *ListMembersQuery) Query(ctx context.Context, msg ListMembersMessage) ([]string, error) {
	if q == nil || q.reader == nil {
		return nil, missingReader("query: list member reader is required")
	}
	return q.reader.Members(ctx, strings.TrimSpace(msg.ListID))
}
