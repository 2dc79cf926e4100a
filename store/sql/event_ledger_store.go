package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-outreach/core"
)

// EventLedgerStore records inbound events once per dedup key. Rows are
// never updated or deleted.
type EventLedgerStore struct {
	db   *bun.DB
	repo repository.Repository[*inboundEventRecord]
}

func NewEventLedgerStore(db *bun.DB) (*EventLedgerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*inboundEventRecord](db, inboundEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid event ledger repository wiring: %w", err)
		}
	}
	return &EventLedgerStore{db: db, repo: repo}, nil
}

// Record inserts the event unless its dedup key exists. created is false for
// an existing key; that is not an error.
func (s *EventLedgerStore) Record(ctx context.Context, event core.InboundEvent) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: event ledger store is not configured")
	}
	record := newInboundEventRecord(event, time.Now().UTC())
	if record.DedupKey == "" {
		return false, fmt.Errorf("sqlstore: dedup key is required")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	res, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (dedup_key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *EventLedgerStore) Get(ctx context.Context, dedupKey string) (core.InboundEvent, bool, error) {
	if s == nil || s.db == nil {
		return core.InboundEvent{}, false, fmt.Errorf("sqlstore: event ledger store is not configured")
	}
	record := &inboundEventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.dedup_key = ?", strings.TrimSpace(dedupKey)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.InboundEvent{}, false, nil
		}
		return core.InboundEvent{}, false, err
	}
	return record.toDomain(), true, nil
}

func (s *EventLedgerStore) Count(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: event ledger store is not configured")
	}
	return s.db.NewSelect().Model((*inboundEventRecord)(nil)).Count(ctx)
}

// List returns the newest recorded events, optionally filtered by name.
func (s *EventLedgerStore) List(ctx context.Context, name core.EventName, limit int) ([]core.InboundEvent, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: event ledger store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	selectors := []repository.SelectCriteria{
		repository.OrderBy("received_at DESC"),
		repository.SelectPaginate(limit, 0),
	}
	if trimmed := strings.TrimSpace(string(name)); trimmed != "" {
		selectors = append(selectors, repository.SelectBy("event_name", "=", trimmed))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	events := make([]core.InboundEvent, 0, len(records))
	for _, record := range records {
		events = append(events, record.toDomain())
	}
	return events, nil
}
