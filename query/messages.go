package query

import (
	"strings"

	"github.com/goliatone/go-outreach/core"
)

const (
	TypeGetJobStatus      = "outreach.query.job.status"
	TypeListInboundEvents = "outreach.query.inbound_events.list"
	TypeListMembers       = "outreach.query.list_members.list"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

type GetJobStatusMessage struct {
	JobID string
}

func (GetJobStatusMessage) Type() string { return TypeGetJobStatus }

func (m GetJobStatusMessage) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return invalidField("job_id", "is required")
	}
	return nil
}

type ListInboundEventsMessage struct {
	Name  core.EventName
	Limit int
}

func (ListInboundEventsMessage) Type() string { return TypeListInboundEvents }

func (m ListInboundEventsMessage) Validate() error {
	if m.Name != "" && !m.Name.Valid() {
		return invalidField("name", "unsupported event name")
	}
	if m.Limit < 0 || m.Limit > MaxListLimit {
		return invalidField("limit", "must be between 0 and 500")
	}
	return nil
}

// EffectiveLimit applies the default page size to a zero limit.
func (m ListInboundEventsMessage) EffectiveLimit() int {
	if m.Limit == 0 {
		return DefaultListLimit
	}
	return m.Limit
}

type ListMembersMessage struct {
	ListID string
}

func (ListMembersMessage) Type() string { return TypeListMembers }

func (m ListMembersMessage) Validate() error {
	if strings.TrimSpace(m.ListID) == "" {
		return invalidField("list_id", "is required")
	}
	return nil
}
