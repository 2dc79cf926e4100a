package core

import "time"

// PushAttempt tracks delivery attempts of one content record to one target.
type PushAttempt struct {
	ContentID   string
	TargetURL   string
	Count       int
	MaxAttempts int
	LastError   string
	NextDelay   time.Duration
	ExternalID  string
	Delivered   bool
	UpdatedAt   time.Time
}

// Exhausted reports whether no further attempt may be made.
func (a PushAttempt) Exhausted() bool {
	return a.MaxAttempts > 0 && a.Count >= a.MaxAttempts
}
