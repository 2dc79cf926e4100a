package bulklist

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-outreach/core"
)

// MemoryContactStore evaluates criteria in process. It backs tests and
// single node demos.
type MemoryContactStore struct {
	mu       sync.RWMutex
	contacts map[string]core.Contact
	lists    map[string]map[string]struct{}
}

func NewMemoryContactStore(contacts ...core.Contact) *MemoryContactStore {
	store := &MemoryContactStore{
		contacts: map[string]core.Contact{},
		lists:    map[string]map[string]struct{}{},
	}
	store.Upsert(contacts...)
	return store
}

func (s *MemoryContactStore) Upsert(contacts ...core.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, contact := range contacts {
		id := strings.TrimSpace(contact.ID)
		if id == "" {
			continue
		}
		contact.ID = id
		contact.Tags = append([]string(nil), contact.Tags...)
		s.contacts[id] = contact
	}
}

func (s *MemoryContactStore) MatchContacts(_ context.Context, criteria core.Criteria) ([]string, error) {
	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0)
	for id, contact := range s.contacts {
		if criteria.Match(contact) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryContactStore) ListMembers(_ context.Context, listID string, contactIDs []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := s.lists[listID]
	out := make(map[string]bool, len(contactIDs))
	for _, id := range contactIDs {
		if _, ok := members[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (s *MemoryContactStore) AddListMembers(_ context.Context, listID string, contactIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.lists[listID]
	if !ok {
		members = map[string]struct{}{}
		s.lists[listID] = members
	}
	added := 0
	for _, id := range contactIDs {
		if _, exists := members[id]; exists {
			continue
		}
		members[id] = struct{}{}
		added++
	}
	return added, nil
}

// Members returns the sorted membership of listID.
func (s *MemoryContactStore) Members(listID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.lists[listID]))
	for id := range s.lists[listID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

var _ core.ContactStore = (*MemoryContactStore)(nil)
