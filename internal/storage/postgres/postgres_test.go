package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/ticket"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, url)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.pool.Exec(ctx, `TRUNCATE tickets RESTART IDENTITY`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestCreateFindGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, domain.TicketFields{
		CorrelationID: "spaces/A/messages/M1",
		Title:         "Email bouncing",
		CategoryTag:   domain.CategoryEmail,
		PriorityTag:   domain.PriorityModerate,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Number != "INC0000001" {
		t.Fatalf("unexpected number: %q", created.Number)
	}

	found, err := s.FindByCorrelation(ctx, "spaces/A/messages/M1")
	if err != nil || found == nil || found.Number != created.Number {
		t.Fatalf("FindByCorrelation: %+v err=%v", found, err)
	}
	missing, err := s.FindByCorrelation(ctx, "spaces/A/messages/none")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown correlation, got %+v err=%v", missing, err)
	}

	if got, err := s.Get(ctx, created.Number); err != nil || got.StoreID != created.StoreID {
		t.Fatalf("Get by number: %+v err=%v", got, err)
	}
	if _, err := s.Get(ctx, "999999"); !errors.Is(err, ticket.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentCreatesYieldOneTicket(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Create(ctx, domain.TicketFields{CorrelationID: "spaces/A/messages/RACE", Title: fmt.Sprintf("race %d", i)})
			if err != nil && !errors.Is(err, ticket.ErrDuplicateCorrelation) {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if created != 1 {
		t.Fatalf("expected exactly one ticket, got %d", created)
	}
}

func TestRecentAndUpdateState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, title := range []string{"a", "b"} {
		if _, err := s.Create(ctx, domain.TicketFields{Title: title}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	recent, err := s.Recent(ctx, time.Now().Add(-time.Hour), 5)
	if err != nil || len(recent) != 2 || recent[0].Title != "b" {
		t.Fatalf("Recent: %+v err=%v", recent, err)
	}
	if err := s.UpdateState(ctx, recent[0].Number, "2"); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if err := s.UpdateState(ctx, "INC_NONE", "2"); !errors.Is(err, ticket.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
