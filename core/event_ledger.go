package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryEventLedger keeps ledger rows in process. Entries are never evicted.
type MemoryEventLedger struct {
	mu      sync.Mutex
	entries map[string]InboundEvent
	order   []string
	Now     func() time.Time
}

func NewMemoryEventLedger() *MemoryEventLedger {
	return &MemoryEventLedger{
		entries: map[string]InboundEvent{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (l *MemoryEventLedger) Record(_ context.Context, event InboundEvent) (bool, error) {
	if l == nil {
		return false, fmt.Errorf("core: event ledger is not configured")
	}
	key := strings.TrimSpace(event.DedupKey)
	if key == "" {
		return false, fmt.Errorf("core: dedup key is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.entries == nil {
		l.entries = map[string]InboundEvent{}
	}
	if _, exists := l.entries[key]; exists {
		return false, nil
	}
	if strings.TrimSpace(event.ID) == "" {
		event.ID = uuid.NewString()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = l.now()
	}
	event.DedupKey = key
	event.Payload = CopyAnyMap(event.Payload)
	l.entries[key] = event
	l.order = append(l.order, key)
	return true, nil
}

func (l *MemoryEventLedger) Get(_ context.Context, dedupKey string) (InboundEvent, bool) {
	if l == nil {
		return InboundEvent{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	event, ok := l.entries[strings.TrimSpace(dedupKey)]
	return event, ok
}

// Events returns recorded events in insertion order.
func (l *MemoryEventLedger) Events() []InboundEvent {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]InboundEvent, 0, len(l.order))
	for _, key := range l.order {
		out = append(out, l.entries[key])
	}
	return out
}

// List returns up to limit events, newest first, optionally filtered by name.
func (l *MemoryEventLedger) List(_ context.Context, name EventName, limit int) ([]InboundEvent, error) {
	if l == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]InboundEvent, 0, min(limit, len(l.order)))
	for i := len(l.order) - 1; i >= 0 && len(out) < limit; i-- {
		event := l.entries[l.order[i]]
		if name != "" && event.Name != name {
			continue
		}
		out = append(out, event)
	}
	return out, nil
}

func (l *MemoryEventLedger) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *MemoryEventLedger) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

var _ EventLedger = (*MemoryEventLedger)(nil)
