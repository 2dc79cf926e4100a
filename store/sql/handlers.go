package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// keyedRecord is a row with a uuid primary key and a natural lookup key.
type keyedRecord interface {
	primaryKey() *string
	naturalKey() string
}

func (r *inboundEventRecord) primaryKey() *string { return &r.ID }
func (r *inboundEventRecord) naturalKey() string  { return r.DedupKey }
func (r *jobRecord) primaryKey() *string          { return &r.ID }
func (r *jobRecord) naturalKey() string           { return r.ID }
func (r *contactRecord) primaryKey() *string      { return &r.ID }
func (r *contactRecord) naturalKey() string       { return r.Email }
func (r *pushAttemptRecord) primaryKey() *string  { return &r.ID }
func (r *pushAttemptRecord) naturalKey() string   { return r.ID }

// keyedHandlers builds repository handlers for a record type whose natural
// key lives in column.
func keyedHandlers[T any, P interface {
	*T
	keyedRecord
}](column string) repository.ModelHandlers[P] {
	return repository.ModelHandlers[P]{
		NewRecord: func() P {
			return P(new(T))
		},
		GetID: func(record P) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			id, err := uuid.Parse(strings.TrimSpace(*record.primaryKey()))
			if err != nil {
				return uuid.Nil
			}
			return id
		},
		SetID: func(record P, id uuid.UUID) {
			if record != nil {
				*record.primaryKey() = id.String()
			}
		},
		GetIdentifier: func() string {
			return column
		},
		GetIdentifierValue: func(record P) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.naturalKey())
		},
	}
}

func inboundEventHandlers() repository.ModelHandlers[*inboundEventRecord] {
	return keyedHandlers[inboundEventRecord]("dedup_key")
}

func jobHandlers() repository.ModelHandlers[*jobRecord] {
	return keyedHandlers[jobRecord]("id")
}

func contactHandlers() repository.ModelHandlers[*contactRecord] {
	return keyedHandlers[contactRecord]("email")
}

func pushAttemptHandlers() repository.ModelHandlers[*pushAttemptRecord] {
	return keyedHandlers[pushAttemptRecord]("id")
}
