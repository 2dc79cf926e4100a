package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-outreach/core"
)

var (
	_ gocmd.Querier[GetJobStatusMessage, core.JobStatus]           = (*GetJobStatusQuery)(nil)
	_ gocmd.Querier[ListInboundEventsMessage, []core.InboundEvent] = (*ListInboundEventsQuery)(nil)
	_ gocmd.Querier[ListMembersMessage, []string]                  = (*ListMembersQuery)(nil)
)
