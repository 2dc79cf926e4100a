package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryEventLedger_RecordsOncePerDedupKey(t *testing.T) {
	ledger := NewMemoryEventLedger()
	now := time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)
	ledger.Now = func() time.Time { return now }

	event := InboundEvent{Name: EventPageView, DedupKey: "page_view|c1|u1|2025-1-1"}
	created, err := ledger.Record(context.Background(), event)
	if err != nil {
		t.Fatalf("record first: %v", err)
	}
	if !created {
		t.Fatalf("expected first record to create a row")
	}

	created, err = ledger.Record(context.Background(), event)
	if err != nil {
		t.Fatalf("record duplicate: %v", err)
	}
	if created {
		t.Fatalf("expected duplicate record to be a no-op")
	}
	if ledger.Len() != 1 {
		t.Fatalf("expected one ledger row, got %d", ledger.Len())
	}
	stored, ok := ledger.Get(context.Background(), event.DedupKey)
	if !ok {
		t.Fatalf("expected stored event")
	}
	if stored.ID == "" || !stored.ReceivedAt.Equal(now) {
		t.Fatalf("expected id and received_at to be assigned, got %+v", stored)
	}
}

func TestMemoryEventLedger_RejectsEmptyKey(t *testing.T) {
	if _, err := NewMemoryEventLedger().Record(context.Background(), InboundEvent{}); err == nil {
		t.Fatalf("expected missing dedup key error")
	}
}

func TestMemoryEventLedger_ConcurrentDuplicatesCreateOneRow(t *testing.T) {
	ledger := NewMemoryEventLedger()
	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := ledger.Record(context.Background(), InboundEvent{DedupKey: "email_open|2025-1-1-10-0"})
			if err != nil {
				t.Errorf("record: %v", err)
				return
			}
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if createdCount != 1 {
		t.Fatalf("expected exactly one created row, got %d", createdCount)
	}
}

func TestMemoryEventLedger_ListNewestFirst(t *testing.T) {
	ledger := NewMemoryEventLedger()
	ctx := context.Background()
	for _, event := range []InboundEvent{
		{Name: EventPageView, DedupKey: "page_view|c1|u1|2025-1-1"},
		{Name: EventEmailOpen, DedupKey: "email_open|camp|u1|2025-1-1"},
		{Name: EventPageView, DedupKey: "page_view|c2|u1|2025-1-1"},
	} {
		if _, err := ledger.Record(ctx, event); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	views, err := ledger.List(ctx, EventPageView, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("unexpected page views %+v", views)
	}
	if views[0].DedupKey != "page_view|c2|u1|2025-1-1" {
		t.Fatalf("expected newest event first, got %q", views[0].DedupKey)
	}
	all, _ := ledger.List(ctx, "", 2)
	if len(all) != 2 || all[1].Name != EventEmailOpen {
		t.Fatalf("expected limit to apply across names, got %+v", all)
	}
}
