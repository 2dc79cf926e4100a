package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type inboundEventRecord struct {
	bun.BaseModel `bun:"table:outreach_inbound_events,alias:oie"`

	ID         string         `bun:"id,pk"`
	DedupKey   string         `bun:"dedup_key,notnull"`
	EventName  string         `bun:"event_name,notnull"`
	ContentID  string         `bun:"content_id,notnull"`
	ContactID  string         `bun:"contact_id,notnull"`
	Email      string         `bun:"email,notnull"`
	FormID     string         `bun:"form_id,notnull"`
	CampaignID string         `bun:"campaign_id,notnull"`
	Payload    map[string]any `bun:"payload,type:jsonb,notnull"`
	OccurredAt time.Time      `bun:"occurred_at,notnull"`
	ReceivedAt time.Time      `bun:"received_at,nullzero,notnull,default:current_timestamp"`
}

type jobRecord struct {
	bun.BaseModel `bun:"table:outreach_jobs,alias:oj"`

	ID             string         `bun:"id,pk"`
	JobType        string         `bun:"job_type,notnull"`
	Payload        map[string]any `bun:"payload,type:jsonb,notnull"`
	State          string         `bun:"state,notnull"`
	Attempts       int            `bun:"attempts,notnull"`
	MaxAttempts    int            `bun:"max_attempts,notnull"`
	BackoffType    string         `bun:"backoff_type,notnull"`
	BackoffDelayMS int64          `bun:"backoff_delay_ms,notnull"`
	Progress       int            `bun:"progress,notnull"`
	Result         map[string]any `bun:"result,type:jsonb,nullzero"`
	FailureReason  string         `bun:"failure_reason,notnull"`
	LeaseToken     *string        `bun:"lease_token,nullzero"`
	LeaseExpiresAt *time.Time     `bun:"lease_expires_at,nullzero"`
	RunAt          time.Time      `bun:"run_at,notnull"`
	EnqueuedAt     time.Time      `bun:"enqueued_at,nullzero,notnull,default:current_timestamp"`
	StartedAt      *time.Time     `bun:"started_at,nullzero"`
	FinishedAt     *time.Time     `bun:"finished_at,nullzero"`
	UpdatedAt      time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type contactRecord struct {
	bun.BaseModel `bun:"table:outreach_contacts,alias:oc"`

	ID             string    `bun:"id,pk"`
	Email          string    `bun:"email,notnull"`
	FirstName      string    `bun:"first_name,notnull"`
	LastName       string    `bun:"last_name,notnull"`
	Company        string    `bun:"company,notnull"`
	JobTitle       string    `bun:"job_title,notnull"`
	Country        string    `bun:"country,notnull"`
	Industry       string    `bun:"industry,notnull"`
	LifecycleStage string    `bun:"lifecycle_stage,notnull"`
	Tags           string    `bun:"tags,notnull"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type listMembershipRecord struct {
	bun.BaseModel `bun:"table:outreach_list_memberships,alias:olm"`

	ListID    string    `bun:"list_id,pk"`
	ContactID string    `bun:"contact_id,pk"`
	AddedAt   time.Time `bun:"added_at,nullzero,notnull,default:current_timestamp"`
}

type pushAttemptRecord struct {
	bun.BaseModel `bun:"table:outreach_push_attempts,alias:opa"`

	ID           string    `bun:"id,pk"`
	ContentID    string    `bun:"content_id,notnull"`
	TargetURL    string    `bun:"target_url,notnull"`
	AttemptCount int       `bun:"attempt_count,notnull"`
	MaxAttempts  int       `bun:"max_attempts,notnull"`
	LastError    string    `bun:"last_error,notnull"`
	NextDelayMS  int64     `bun:"next_delay_ms,notnull"`
	ExternalID   string    `bun:"external_id,notnull"`
	Delivered    bool      `bun:"delivered,notnull"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
