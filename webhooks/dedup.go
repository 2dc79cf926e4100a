package webhooks

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-outreach/core"
)

const dedupSeparator = "|"

// DedupKey derives the ledger key for a validated envelope. Buckets use the
// UTC calendar components of the sender reported time, unpadded:
//
//	page_view:        page_view|contentId|contactId|Y-M-D
//	form_submission:  form_submission|formId|contactIdOrEmail|Y-M-D-H-m
//	everything else:  event|Y-M-D-H-m
func DedupKey(envelope Envelope) string {
	name := strings.TrimSpace(envelope.Event)
	data := envelope.Data
	occurredAt := data.Timestamp.UTC()

	switch core.EventName(name) {
	case core.EventPageView:
		return strings.Join([]string{
			name,
			strings.TrimSpace(data.ContentID),
			strings.TrimSpace(data.ContactID),
			DayBucket(occurredAt),
		}, dedupSeparator)
	case core.EventFormSubmission:
		subject := strings.TrimSpace(data.ContactID)
		if subject == "" {
			subject = strings.ToLower(strings.TrimSpace(data.Email))
		}
		return strings.Join([]string{
			name,
			strings.TrimSpace(data.FormID),
			subject,
			MinuteBucket(occurredAt),
		}, dedupSeparator)
	default:
		return strings.Join([]string{name, MinuteBucket(occurredAt)}, dedupSeparator)
	}
}

func DayBucket(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%d-%d-%d", t.Year(), int(t.Month()), t.Day())
}

func MinuteBucket(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%d-%d-%d-%d-%d", t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute())
}
