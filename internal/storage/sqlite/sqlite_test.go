package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/ticket"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tickets.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateFindGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.FindByCorrelation(ctx, "spaces/A/messages/M1")
	if err != nil || got != nil {
		t.Fatalf("expected no ticket before create, got %+v err=%v", got, err)
	}

	created, err := s.Create(ctx, domain.TicketFields{
		CorrelationID: "spaces/A/messages/M1",
		Title:         "WiFi down on floor 2",
		Description:   "Nobody can connect",
		CategoryTag:   domain.CategoryNetwork,
		PriorityTag:   domain.PriorityHigh,
		AssignedTo:    "net-oncall",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Number != "INC0000001" || created.StoreID != "1" || created.State != "1" {
		t.Fatalf("unexpected created ticket: %+v", created)
	}

	found, err := s.FindByCorrelation(ctx, "spaces/A/messages/M1")
	if err != nil || found == nil {
		t.Fatalf("FindByCorrelation: %+v err=%v", found, err)
	}
	if found.Number != created.Number || found.CategoryTag != domain.CategoryNetwork || found.Assignee != "net-oncall" {
		t.Fatalf("unexpected found ticket: %+v", found)
	}

	byID, err := s.Get(ctx, "1")
	if err != nil || byID.Title != "WiFi down on floor 2" {
		t.Fatalf("Get by id: %+v err=%v", byID, err)
	}
	byNumber, err := s.Get(ctx, "INC0000001")
	if err != nil || byNumber.StoreID != "1" {
		t.Fatalf("Get by number: %+v err=%v", byNumber, err)
	}
	if _, err := s.Get(ctx, "42"); !errors.Is(err, ticket.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateRejectsSecondTicketForCorrelation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fields := domain.TicketFields{CorrelationID: "channels/C1/messages/1.1", Title: "printer jam"}
	if _, err := s.Create(ctx, fields); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := s.Create(ctx, fields); !errors.Is(err, ticket.ErrDuplicateCorrelation) {
		t.Fatalf("expected ErrDuplicateCorrelation, got %v", err)
	}

	// tickets without a correlation id never collide
	for i := 0; i < 2; i++ {
		if _, err := s.Create(ctx, domain.TicketFields{Title: "manual"}); err != nil {
			t.Fatalf("uncorrelated Create %d: %v", i, err)
		}
	}
}

func TestConcurrentCreatesYieldOneTicket(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		dupes   int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Create(ctx, domain.TicketFields{CorrelationID: "spaces/A/messages/RACE", Title: "race"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ticket.ErrDuplicateCorrelation):
				dupes++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if created != 1 || dupes != 7 {
		t.Fatalf("expected 1 create and 7 conflicts, got created=%d dupes=%d", created, dupes)
	}
}

func TestRecentNewestFirstWithinWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	if _, err := s.db.Exec(`INSERT INTO tickets (number, title, created_at, updated_at) VALUES ('INC_OLD', 'old', ?, ?)`, old, old); err != nil {
		t.Fatalf("seed old ticket: %v", err)
	}
	for _, title := range []string{"first", "second", "third"} {
		if _, err := s.Create(ctx, domain.TicketFields{Title: title}); err != nil {
			t.Fatalf("Create %s: %v", title, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	recent, err := s.Recent(ctx, time.Now().Add(-24*time.Hour), 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Title != "third" || recent[1].Title != "second" {
		t.Fatalf("unexpected recent tickets: %+v", recent)
	}

	all, err := s.Recent(ctx, time.Now().Add(-24*time.Hour), 0)
	if err != nil {
		t.Fatalf("Recent default limit: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected old ticket excluded, got %d tickets", len(all))
	}
}

func TestUpdateState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, domain.TicketFields{Title: "vpn"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.UpdateState(ctx, created.Number, "6"); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	got, err := s.Get(ctx, created.StoreID)
	if err != nil || got.State != "6" {
		t.Fatalf("expected resolved state, got %+v err=%v", got, err)
	}
	if err := s.UpdateState(ctx, "INC9999999", "6"); !errors.Is(err, ticket.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRunLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	runs := []domain.RunSummary{
		{RunID: "r-old", Trigger: "schedule", StartedAt: base.Add(-48 * time.Hour), FinishedAt: base.Add(-48 * time.Hour)},
		{
			RunID: "r1", Trigger: "schedule", StartedAt: base, FinishedAt: base.Add(time.Second),
			Messages: 4, Duplicates: 1, Unique: 3, Classified: 2, TicketsCreated: 2, Notified: 2,
			CreatedNumbers: []string{"INC0000001", "INC0000002"},
		},
		{
			RunID: "r2", Trigger: "webhook", StartedAt: base.Add(time.Minute), FinishedAt: base.Add(time.Minute),
			Messages: 1, Errors: []string{"classify: model unavailable"},
		},
	}
	for _, r := range runs {
		if err := s.RecordRun(ctx, r); err != nil {
			t.Fatalf("RecordRun %s: %v", r.RunID, err)
		}
	}

	got, err := s.RunsSince(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("RunsSince: %v", err)
	}
	if len(got) != 2 || got[0].RunID != "r1" || got[1].RunID != "r2" {
		t.Fatalf("unexpected runs: %+v", got)
	}
	if len(got[0].CreatedNumbers) != 2 || got[0].TicketsCreated != 2 || got[0].Unique != 3 {
		t.Fatalf("unexpected r1 counters: %+v", got[0])
	}
	if len(got[1].Errors) != 1 || got[1].Trigger != "webhook" || got[1].CreatedNumbers != nil {
		t.Fatalf("unexpected r2: %+v", got[1])
	}
}
