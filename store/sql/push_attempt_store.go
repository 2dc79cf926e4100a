package sqlstore

import (
	"context"
	"fmt"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-outreach/core"
)

// PushAttemptStore persists push attempt state per content record and
// target, so the retry cap holds across restarts.
type PushAttemptStore struct {
	db   *bun.DB
	repo repository.Repository[*pushAttemptRecord]
}

func NewPushAttemptStore(db *bun.DB) (*PushAttemptStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*pushAttemptRecord](db, pushAttemptHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid push attempt repository wiring: %w", err)
		}
	}
	return &PushAttemptStore{db: db, repo: repo}, nil
}

func (s *PushAttemptStore) Load(ctx context.Context, contentID string, targetURL string) (core.PushAttempt, bool, error) {
	if s == nil || s.repo == nil {
		return core.PushAttempt{}, false, fmt.Errorf("sqlstore: push attempt store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("content_id", "=", normalizeContentID(contentID)),
		repository.SelectBy("target_url", "=", normalizeTargetURL(targetURL)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.PushAttempt{}, false, err
	}
	if len(records) == 0 || records[0] == nil {
		return core.PushAttempt{}, false, nil
	}
	return records[0].toDomain(), true, nil
}

func (s *PushAttemptStore) Save(ctx context.Context, attempt core.PushAttempt) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: push attempt store is not configured")
	}
	record := newPushAttemptRecord(attempt, time.Now().UTC())
	if record.ContentID == "" || record.TargetURL == "" {
		return fmt.Errorf("sqlstore: content id and target url are required")
	}
	record.ID = uuid.NewString()

	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (content_id, target_url) DO UPDATE").
		Set("attempt_count = EXCLUDED.attempt_count").
		Set("max_attempts = EXCLUDED.max_attempts").
		Set("last_error = EXCLUDED.last_error").
		Set("next_delay_ms = EXCLUDED.next_delay_ms").
		Set("external_id = EXCLUDED.external_id").
		Set("delivered = EXCLUDED.delivered").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}
