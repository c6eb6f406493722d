package ticket

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
)

func TestMemoryStoreCorrelationUniqueness(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.Create(ctx, domain.TicketFields{CorrelationID: "m1", Title: "WiFi down"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if first.Number != "INC0000001" || first.State != "1" {
		t.Fatalf("unexpected ticket: %+v", first)
	}
	if _, err := s.Create(ctx, domain.TicketFields{CorrelationID: "m1", Title: "again"}); !errors.Is(err, ErrDuplicateCorrelation) {
		t.Fatalf("expected ErrDuplicateCorrelation, got %v", err)
	}
	if s.CreateCalls() != 2 || s.Len() != 1 {
		t.Fatalf("unexpected counters calls=%d len=%d", s.CreateCalls(), s.Len())
	}

	found, err := s.FindByCorrelation(ctx, "m1")
	if err != nil || found == nil || found.Number != first.Number {
		t.Fatalf("FindByCorrelation: %+v err=%v", found, err)
	}
	missing, err := s.FindByCorrelation(ctx, "m2")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown id, got %+v err=%v", missing, err)
	}
	if _, err := s.Get(ctx, "INC0000001"); err != nil {
		t.Fatalf("Get by number: %v", err)
	}
	if _, err := s.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreRecent(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s.Seed(domain.Ticket{Number: "INC_OLD", Title: "old", CreatedAt: base.Add(-48 * time.Hour)})
	s.Seed(domain.Ticket{Number: "INC_A", Title: "a", CreatedAt: base.Add(-2 * time.Hour)})
	s.Seed(domain.Ticket{Number: "INC_B", Title: "b", CreatedAt: base.Add(-time.Hour)})

	got, err := s.Recent(context.Background(), base.Add(-24*time.Hour), 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].Number != "INC_B" || got[1].Number != "INC_A" {
		t.Fatalf("unexpected recent order: %+v", got)
	}
	got, _ = s.Recent(context.Background(), base.Add(-24*time.Hour), 1)
	if len(got) != 1 || got[0].Number != "INC_B" {
		t.Fatalf("unexpected limited recent: %+v", got)
	}
}
