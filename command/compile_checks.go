package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[EnqueueBulkListMessage] = (*EnqueueBulkListCommand)(nil)
	_ gocmd.Commander[SchedulePushMessage]    = (*SchedulePushCommand)(nil)
	_ gocmd.Commander[IngestWebhookMessage]   = (*IngestWebhookCommand)(nil)
)
