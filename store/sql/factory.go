package sqlstore

import (
	"fmt"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-outreach/core"
)

// Stores groups the bun-backed outreach stores over one database.
type Stores struct {
	Ledger       *EventLedgerStore
	Jobs         *JobStore
	Contacts     *ContactStore
	PushAttempts *PushAttemptStore

	db *bun.DB
}

// DBProvider is satisfied by go-persistence-bun clients.
type DBProvider interface {
	DB() *bun.DB
}

// FromPersistence builds the stores over the database of client.
func FromPersistence(client DBProvider) (*Stores, error) {
	if client == nil {
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	}
	return Open(client.DB())
}

func Open(db *bun.DB) (*Stores, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	s := &Stores{db: db}
	var err error
	if s.Ledger, err = NewEventLedgerStore(db); err != nil {
		return nil, err
	}
	if s.Jobs, err = NewJobStore(db); err != nil {
		return nil, err
	}
	if s.Contacts, err = NewContactStore(db); err != nil {
		return nil, err
	}
	if s.PushAttempts, err = NewPushAttemptStore(db); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Stores) DB() *bun.DB { return s.db }

func (s *Stores) EventLedger() core.EventLedger { return s.Ledger }

func (s *Stores) JobStore() core.JobStore { return s.Jobs }

func (s *Stores) ContactStore() core.ContactStore { return s.Contacts }

func (s *Stores) PushAttemptStore() core.PushAttemptStore { return s.PushAttempts }
