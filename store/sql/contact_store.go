package sqlstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-outreach/core"
)

const contactsTable = "outreach_contacts"

// ContactStore is the shared contact and list membership store. Selection
// criteria are compiled to SQL so matching runs in the database.
type ContactStore struct {
	db   *bun.DB
	repo repository.Repository[*contactRecord]
}

func NewContactStore(db *bun.DB) (*ContactStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*contactRecord](db, contactHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid contact repository wiring: %w", err)
		}
	}
	return &ContactStore{db: db, repo: repo}, nil
}

// Upsert inserts contacts or refreshes their attributes by id.
func (s *ContactStore) Upsert(ctx context.Context, contacts ...core.Contact) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: contact store is not configured")
	}
	if len(contacts) == 0 {
		return nil
	}
	now := time.Now().UTC()
	records := make([]*contactRecord, 0, len(contacts))
	for _, contact := range contacts {
		record := newContactRecord(contact, now)
		if record.ID == "" {
			return fmt.Errorf("sqlstore: contact id is required")
		}
		records = append(records, record)
	}
	_, err := s.db.NewInsert().
		Model(&records).
		On("CONFLICT (id) DO UPDATE").
		Set("email = EXCLUDED.email").
		Set("first_name = EXCLUDED.first_name").
		Set("last_name = EXCLUDED.last_name").
		Set("company = EXCLUDED.company").
		Set("job_title = EXCLUDED.job_title").
		Set("country = EXCLUDED.country").
		Set("industry = EXCLUDED.industry").
		Set("lifecycle_stage = EXCLUDED.lifecycle_stage").
		Set("tags = EXCLUDED.tags").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *ContactStore) Get(ctx context.Context, id string) (core.Contact, error) {
	if s == nil || s.repo == nil {
		return core.Contact{}, fmt.Errorf("sqlstore: contact store is not configured")
	}
	record, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return core.Contact{}, err
	}
	return record.toDomain(), nil
}

// MatchContacts returns the ids of contacts matching criteria, sorted.
func (s *ContactStore) MatchContacts(ctx context.Context, criteria core.Criteria) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: contact store is not configured")
	}
	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	where, err := CompileCriteria(criteria)
	if err != nil {
		return nil, err
	}
	query, args, err := sq.Select("id").
		From(contactsTable).
		Where(where).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: build contact match query: %w", err)
	}

	var ids []string
	if err := s.db.NewRaw(query, args...).Scan(ctx, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *ContactStore) ListMembers(ctx context.Context, listID string, contactIDs []string) (map[string]bool, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: contact store is not configured")
	}
	members := map[string]bool{}
	ids := uniqueIDs(contactIDs)
	if len(ids) == 0 {
		return members, nil
	}
	var found []string
	err := s.db.NewSelect().
		Model((*listMembershipRecord)(nil)).
		Column("contact_id").
		Where("?TableAlias.list_id = ?", strings.TrimSpace(listID)).
		Where("?TableAlias.contact_id IN (?)", bun.In(ids)).
		Scan(ctx, &found)
	if err != nil {
		return nil, err
	}
	for _, id := range found {
		members[id] = true
	}
	return members, nil
}

// AddListMembers appends contacts to a list and reports how many rows were
// inserted. Existing memberships are left untouched.
func (s *ContactStore) AddListMembers(ctx context.Context, listID string, contactIDs []string) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: contact store is not configured")
	}
	listID = strings.TrimSpace(listID)
	if listID == "" {
		return 0, fmt.Errorf("sqlstore: list id is required")
	}
	ids := uniqueIDs(contactIDs)
	if len(ids) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	records := make([]*listMembershipRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, &listMembershipRecord{
			ListID:    listID,
			ContactID: id,
			AddedAt:   now,
		})
	}
	res, err := s.db.NewInsert().
		Model(&records).
		On("CONFLICT (list_id, contact_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res), nil
}

// Members lists every contact id on a list.
func (s *ContactStore) Members(ctx context.Context, listID string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: contact store is not configured")
	}
	var ids []string
	err := s.db.NewSelect().
		Model((*listMembershipRecord)(nil)).
		Column("contact_id").
		Where("?TableAlias.list_id = ?", strings.TrimSpace(listID)).
		OrderExpr("?TableAlias.contact_id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// CompileCriteria turns validated criteria into a squirrel predicate over
// outreach_contacts. Comparisons are case-insensitive; an empty and-group
// compiles to true and an empty or-group to false.
func CompileCriteria(criteria core.Criteria) (sq.Sqlizer, error) {
	if criteria.IsGroup() {
		parts := make([]sq.Sqlizer, 0, len(criteria.Rules))
		for _, rule := range criteria.Rules {
			part, err := CompileCriteria(rule)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
		}
		if criteria.NormalizedLogic() == core.LogicOr {
			return sq.Or(parts), nil
		}
		return sq.And(parts), nil
	}

	field := strings.TrimSpace(strings.ToLower(criteria.Field))
	if !core.IsContactField(field) {
		return nil, fmt.Errorf("sqlstore: unsupported contact field %q", criteria.Field)
	}
	if field == core.ContactFieldTags {
		return compileTagRule(criteria)
	}

	column := "LOWER(" + field + ")"
	value := strings.ToLower(criteria.Value)
	switch criteria.NormalizedOp() {
	case core.OpEq:
		return sq.Expr(column+" = ?", value), nil
	case core.OpNeq:
		return sq.Expr(column+" <> ?", value), nil
	case core.OpContains:
		return likeExpr(column, "%"+escapeLike(value)+"%"), nil
	case core.OpStartsWith:
		return likeExpr(column, escapeLike(value)+"%"), nil
	case core.OpEndsWith:
		return likeExpr(column, "%"+escapeLike(value)), nil
	case core.OpIn:
		return sq.Eq{column: lowerAll(criteria.Values)}, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported operator %q", criteria.Op)
	}
}

// Tags are stored as ",a,b,"; each rule anchors on the comma delimiters.
func compileTagRule(criteria core.Criteria) (sq.Sqlizer, error) {
	const column = "LOWER(tags)"
	value := escapeLike(strings.ToLower(criteria.Value))
	switch criteria.NormalizedOp() {
	case core.OpEq:
		return likeExpr(column, "%,"+value+",%"), nil
	case core.OpNeq:
		return sq.Expr(column+" NOT LIKE ? ESCAPE '\\'", "%,"+value+",%"), nil
	case core.OpContains:
		return likeExpr(column, "%"+value+"%"), nil
	case core.OpStartsWith:
		return likeExpr(column, "%,"+value+"%"), nil
	case core.OpEndsWith:
		return likeExpr(column, "%"+value+",%"), nil
	case core.OpIn:
		parts := make(sq.Or, 0, len(criteria.Values))
		for _, candidate := range criteria.Values {
			parts = append(parts, likeExpr(column, "%,"+escapeLike(strings.ToLower(candidate))+",%"))
		}
		return parts, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported operator %q", criteria.Op)
	}
}

func likeExpr(column string, pattern string) sq.Sqlizer {
	return sq.Expr(column+" LIKE ? ESCAPE '\\'", pattern)
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		out = append(out, strings.ToLower(value))
	}
	return out
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
