package ticket

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
)

// MemoryStore keeps tickets in process. It enforces a unique correlation id
// the same way the SQL stores do.
type MemoryStore struct {
	mu      sync.Mutex
	tickets []domain.Ticket
	byCorr  map[string]int
	now     func() time.Time
	creates int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byCorr: make(map[string]int),
		now:    time.Now,
	}
}

func (s *MemoryStore) FindByCorrelation(_ context.Context, correlationID string) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byCorr[correlationID]
	if !ok {
		return nil, nil
	}
	t := s.tickets[idx]
	return &t, nil
}

func (s *MemoryStore) Create(_ context.Context, fields domain.TicketFields) (domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	if fields.CorrelationID != "" {
		if _, exists := s.byCorr[fields.CorrelationID]; exists {
			return domain.Ticket{}, ErrDuplicateCorrelation
		}
	}
	now := s.now().UTC()
	seq := len(s.tickets) + 1
	t := domain.Ticket{
		StoreID:       strconv.Itoa(seq),
		Number:        fmt.Sprintf("INC%07d", seq),
		State:         "1",
		Title:         fields.Title,
		Description:   fields.Description,
		PriorityTag:   fields.PriorityTag,
		CategoryTag:   fields.CategoryTag,
		Assignee:      fields.AssignedTo,
		CorrelationID: fields.CorrelationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.tickets = append(s.tickets, t)
	if fields.CorrelationID != "" {
		s.byCorr[fields.CorrelationID] = len(s.tickets) - 1
	}
	return t, nil
}

func (s *MemoryStore) Get(_ context.Context, storeID string) (domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tickets {
		if t.StoreID == storeID || t.Number == storeID {
			return t, nil
		}
	}
	return domain.Ticket{}, ErrNotFound
}

func (s *MemoryStore) Recent(_ context.Context, since time.Time, limit int) ([]domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Ticket
	for _, t := range s.tickets {
		if !t.CreatedAt.Before(since) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Seed inserts an existing ticket, e.g. one created by an earlier process.
func (s *MemoryStore) Seed(t domain.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets = append(s.tickets, t)
	if t.CorrelationID != "" {
		s.byCorr[t.CorrelationID] = len(s.tickets) - 1
	}
}

// CreateCalls counts Create invocations, including rejected ones.
func (s *MemoryStore) CreateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}
