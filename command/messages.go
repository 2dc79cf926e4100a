package command

import (
	"strings"

	"github.com/goliatone/go-outreach/bulklist"
	"github.com/goliatone/go-outreach/core"
	"github.com/goliatone/go-outreach/push"
	"github.com/goliatone/go-outreach/webhooks"
)

const (
	TypeEnqueueBulkList = "outreach.command.bulk_list.enqueue"
	TypeSchedulePush    = "outreach.command.push.schedule"
	TypeIngestWebhook   = "outreach.command.webhook.ingest"
)

// EnqueueResult is stored in the go-command result collector by commands
// that put work on the job queue.
type EnqueueResult struct {
	JobID string `json:"job_id"`
}

type EnqueueBulkListMessage struct {
	Request bulklist.Request
	Options core.JobOptions
}

func (EnqueueBulkListMessage) Type() string { return TypeEnqueueBulkList }

func (m EnqueueBulkListMessage) Validate() error {
	if strings.TrimSpace(m.Request.ListID) == "" {
		return invalidField("list_id", "is required")
	}
	if m.Options.Attempts < 0 {
		return invalidField("attempts", "must be >= 0")
	}
	return asValidation(m.Request.Criteria.Validate(), "command: invalid selection criteria")
}

type SchedulePushMessage struct {
	Content   push.Content
	TargetURL string
	Options   core.JobOptions
}

func (SchedulePushMessage) Type() string { return TypeSchedulePush }

func (m SchedulePushMessage) Validate() error {
	if m.Content == nil {
		return invalidField("content", "is required")
	}
	if strings.TrimSpace(m.Content.ContentID()) == "" {
		return invalidField("content.id", "is required")
	}
	if strings.TrimSpace(m.TargetURL) == "" {
		return invalidField("target_url", "is required")
	}
	if m.Options.Attempts < 0 {
		return invalidField("attempts", "must be >= 0")
	}
	return nil
}

type IngestWebhookMessage struct {
	Request webhooks.Request
}

func (IngestWebhookMessage) Type() string { return TypeIngestWebhook }

func (m IngestWebhookMessage) Validate() error {
	if len(m.Request.Body) == 0 {
		return invalidField("body", "is required")
	}
	return nil
}
