package core

import "time"

type EventName string

const (
	EventPageView       EventName = "page_view"
	EventFormSubmission EventName = "form_submission"
	EventEmailOpen      EventName = "email_open"
	EventEmailClick     EventName = "email_click"
	EventUnsubscribe    EventName = "unsubscribe"
)

// EventNames lists every event an inbound webhook may report.
func EventNames() []EventName {
	return []EventName{
		EventPageView,
		EventFormSubmission,
		EventEmailOpen,
		EventEmailClick,
		EventUnsubscribe,
	}
}

func (n EventName) Valid() bool {
	for _, candidate := range EventNames() {
		if n == candidate {
			return true
		}
	}
	return false
}

// InboundEvent is a distinct occurrence recorded in the event ledger.
// OccurredAt is the sender reported time, ReceivedAt the ingest time.
type InboundEvent struct {
	ID         string
	Name       EventName
	DedupKey   string
	ContentID  string
	ContactID  string
	Email      string
	FormID     string
	CampaignID string
	Payload    map[string]any
	OccurredAt time.Time
	ReceivedAt time.Time
}
