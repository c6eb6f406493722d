// Package ticket defines what the pipeline needs from a ticketing system.
package ticket

import (
	"context"
	"errors"
	"time"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
)

var (
	ErrNotFound = errors.New("ticket not found")
	// ErrDuplicateCorrelation is returned by stores that enforce a unique
	// correlation id when another ticket already carries it.
	ErrDuplicateCorrelation = errors.New("ticket with correlation id already exists")
)

type Store interface {
	// FindByCorrelation returns nil, nil when no ticket carries the id.
	FindByCorrelation(ctx context.Context, correlationID string) (*domain.Ticket, error)
	Create(ctx context.Context, fields domain.TicketFields) (domain.Ticket, error)
	Get(ctx context.Context, storeID string) (domain.Ticket, error)
	// Recent lists tickets created at or after since, newest first.
	Recent(ctx context.Context, since time.Time, limit int) ([]domain.Ticket, error)
}

type Requester struct {
	Email string
	Name  string
}

type Assignment struct {
	CallerID        string
	AssignmentGroup string
	AssignedTo      string
}

// Directory resolves people and groups in the ticketing system.
// Misses are not errors; the corresponding Assignment fields stay empty.
type Directory interface {
	ResolveAssignment(ctx context.Context, who Requester, group string) (Assignment, error)
}
