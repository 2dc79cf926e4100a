package sqlstore

import "github.com/goliatone/go-outreach/core"

var (
	_ core.EventLedger      = (*EventLedgerStore)(nil)
	_ core.JobStore         = (*JobStore)(nil)
	_ core.JobReader        = (*JobStore)(nil)
	_ core.ContactStore     = (*ContactStore)(nil)
	_ core.PushAttemptStore = (*PushAttemptStore)(nil)
	_ core.StoreProvider    = (*Stores)(nil)
)
