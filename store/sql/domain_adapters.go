package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-outreach/core"
)

func newInboundEventRecord(event core.InboundEvent, now time.Time) *inboundEventRecord {
	receivedAt := event.ReceivedAt.UTC()
	if event.ReceivedAt.IsZero() {
		receivedAt = now
	}
	return &inboundEventRecord{
		ID:         strings.TrimSpace(event.ID),
		DedupKey:   strings.TrimSpace(event.DedupKey),
		EventName:  string(event.Name),
		ContentID:  strings.TrimSpace(event.ContentID),
		ContactID:  strings.TrimSpace(event.ContactID),
		Email:      strings.TrimSpace(event.Email),
		FormID:     strings.TrimSpace(event.FormID),
		CampaignID: strings.TrimSpace(event.CampaignID),
		Payload:    copyAnyMap(event.Payload),
		OccurredAt: event.OccurredAt.UTC(),
		ReceivedAt: receivedAt,
	}
}

func (r *inboundEventRecord) toDomain() core.InboundEvent {
	if r == nil {
		return core.InboundEvent{}
	}
	return core.InboundEvent{
		ID:         r.ID,
		Name:       core.EventName(r.EventName),
		DedupKey:   r.DedupKey,
		ContentID:  r.ContentID,
		ContactID:  r.ContactID,
		Email:      r.Email,
		FormID:     r.FormID,
		CampaignID: r.CampaignID,
		Payload:    copyAnyMap(r.Payload),
		OccurredAt: r.OccurredAt.UTC(),
		ReceivedAt: r.ReceivedAt.UTC(),
	}
}

func newJobRecord(job core.Job) *jobRecord {
	record := &jobRecord{
		ID:             strings.TrimSpace(job.ID),
		JobType:        strings.TrimSpace(job.Type),
		Payload:        copyAnyMap(job.Payload),
		State:          string(job.State),
		Attempts:       job.Attempts,
		MaxAttempts:    job.MaxAttempts,
		BackoffType:    string(job.Backoff.Type),
		BackoffDelayMS: job.Backoff.Delay.Milliseconds(),
		Progress:       job.Progress,
		Result:         core.CopyAnyMap(job.Result),
		FailureReason:  job.FailureReason,
		LeaseExpiresAt: utcPointer(job.LeaseExpiresAt),
		RunAt:          job.RunAt.UTC(),
		EnqueuedAt:     job.EnqueuedAt.UTC(),
		StartedAt:      utcPointer(job.StartedAt),
		FinishedAt:     utcPointer(job.FinishedAt),
		UpdatedAt:      job.UpdatedAt.UTC(),
	}
	if token := strings.TrimSpace(job.LeaseToken); token != "" {
		record.LeaseToken = &token
	}
	return record
}

func (r *jobRecord) toDomain() core.Job {
	if r == nil {
		return core.Job{}
	}
	job := core.Job{
		ID:          r.ID,
		Type:        r.JobType,
		Payload:     copyAnyMap(r.Payload),
		State:       core.JobState(r.State),
		Attempts:    r.Attempts,
		MaxAttempts: r.MaxAttempts,
		Backoff: core.Backoff{
			Type:  core.BackoffType(r.BackoffType),
			Delay: time.Duration(r.BackoffDelayMS) * time.Millisecond,
		},
		Progress:       r.Progress,
		Result:         core.CopyAnyMap(r.Result),
		FailureReason:  r.FailureReason,
		LeaseExpiresAt: utcPointer(r.LeaseExpiresAt),
		RunAt:          r.RunAt.UTC(),
		EnqueuedAt:     r.EnqueuedAt.UTC(),
		StartedAt:      utcPointer(r.StartedAt),
		FinishedAt:     utcPointer(r.FinishedAt),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	if r.LeaseToken != nil {
		job.LeaseToken = *r.LeaseToken
	}
	return job
}

func newContactRecord(contact core.Contact, now time.Time) *contactRecord {
	return &contactRecord{
		ID:             strings.TrimSpace(contact.ID),
		Email:          strings.TrimSpace(contact.Email),
		FirstName:      strings.TrimSpace(contact.FirstName),
		LastName:       strings.TrimSpace(contact.LastName),
		Company:        strings.TrimSpace(contact.Company),
		JobTitle:       strings.TrimSpace(contact.JobTitle),
		Country:        strings.TrimSpace(contact.Country),
		Industry:       strings.TrimSpace(contact.Industry),
		LifecycleStage: strings.TrimSpace(contact.LifecycleStage),
		Tags:           encodeTags(contact.Tags),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (r *contactRecord) toDomain() core.Contact {
	if r == nil {
		return core.Contact{}
	}
	return core.Contact{
		ID:             r.ID,
		Email:          r.Email,
		FirstName:      r.FirstName,
		LastName:       r.LastName,
		Company:        r.Company,
		JobTitle:       r.JobTitle,
		Country:        r.Country,
		Industry:       r.Industry,
		LifecycleStage: r.LifecycleStage,
		Tags:           decodeTags(r.Tags),
	}
}

// encodeTags stores tags as ",a,b," so every tag is comma delimited on both
// sides. Commas inside a tag are replaced with spaces.
func encodeTags(tags []string) string {
	cleaned := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(strings.ReplaceAll(tag, ",", " "))
		if tag != "" {
			cleaned = append(cleaned, tag)
		}
	}
	return "," + strings.Join(cleaned, ",") + ","
}

func decodeTags(raw string) []string {
	var tags []string
	for _, tag := range strings.Split(raw, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func newPushAttemptRecord(attempt core.PushAttempt, now time.Time) *pushAttemptRecord {
	updatedAt := attempt.UpdatedAt.UTC()
	if attempt.UpdatedAt.IsZero() {
		updatedAt = now
	}
	return &pushAttemptRecord{
		ContentID:    normalizeContentID(attempt.ContentID),
		TargetURL:    normalizeTargetURL(attempt.TargetURL),
		AttemptCount: attempt.Count,
		MaxAttempts:  attempt.MaxAttempts,
		LastError:    attempt.LastError,
		NextDelayMS:  attempt.NextDelay.Milliseconds(),
		ExternalID:   attempt.ExternalID,
		Delivered:    attempt.Delivered,
		UpdatedAt:    updatedAt,
	}
}

func (r *pushAttemptRecord) toDomain() core.PushAttempt {
	if r == nil {
		return core.PushAttempt{}
	}
	return core.PushAttempt{
		ContentID:   r.ContentID,
		TargetURL:   r.TargetURL,
		Count:       r.AttemptCount,
		MaxAttempts: r.MaxAttempts,
		LastError:   r.LastError,
		NextDelay:   time.Duration(r.NextDelayMS) * time.Millisecond,
		ExternalID:  r.ExternalID,
		Delivered:   r.Delivered,
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

func normalizeContentID(contentID string) string {
	return strings.TrimSpace(contentID)
}

func normalizeTargetURL(targetURL string) string {
	return strings.TrimRight(strings.TrimSpace(targetURL), "/")
}

func utcPointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	out := value.UTC()
	return &out
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
