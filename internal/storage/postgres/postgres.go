// Package postgres is a shared ticket store for deployments that run more
// than one pipeline process.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/ticket"
)

var _ ticket.Store = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL and ensures the tickets table exists.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure ticket schema: %w", err)
	}
	log.Printf("postgres: ticket store ready")
	return s, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tickets (
			id               BIGSERIAL PRIMARY KEY,
			number           TEXT NOT NULL DEFAULT '',
			state            TEXT NOT NULL DEFAULT '1',
			title            TEXT NOT NULL,
			description      TEXT DEFAULT '',
			work_notes       TEXT DEFAULT '',
			category         TEXT DEFAULT '',
			subcategory      TEXT DEFAULT '',
			priority         TEXT DEFAULT '',
			urgency          TEXT DEFAULT '',
			impact           TEXT DEFAULT '',
			caller           TEXT DEFAULT '',
			assignment_group TEXT DEFAULT '',
			assigned_to      TEXT DEFAULT '',
			correlation_id   TEXT UNIQUE,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_tickets_created_at ON tickets(created_at);
		CREATE INDEX IF NOT EXISTS idx_tickets_number ON tickets(number);
	`)
	return err
}

const selectTicket = `
	SELECT id, number, state, title, description, category, priority,
	       assigned_to, correlation_id, created_at, updated_at
	FROM tickets`

func scanTicket(row pgx.Row) (domain.Ticket, error) {
	var (
		t        domain.Ticket
		id       int64
		category string
		priority string
		corr     *string
	)
	if err := row.Scan(&id, &t.Number, &t.State, &t.Title, &t.Description, &category, &priority,
		&t.Assignee, &corr, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return domain.Ticket{}, err
	}
	t.StoreID = strconv.FormatInt(id, 10)
	t.CategoryTag = domain.CategoryTag(category)
	t.PriorityTag = domain.PriorityTag(priority)
	if corr != nil {
		t.CorrelationID = *corr
	}
	return t, nil
}

func (s *Store) FindByCorrelation(ctx context.Context, correlationID string) (*domain.Ticket, error) {
	t, err := scanTicket(s.pool.QueryRow(ctx, selectTicket+` WHERE correlation_id = $1`, correlationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts a ticket. A conflicting correlation id, whether caught by
// ON CONFLICT or raised by a concurrent insert, maps to
// ticket.ErrDuplicateCorrelation.
func (s *Store) Create(ctx context.Context, f domain.TicketFields) (domain.Ticket, error) {
	var corr *string
	if f.CorrelationID != "" {
		corr = &f.CorrelationID
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Ticket{}, err
	}
	defer tx.Rollback(ctx)

	var (
		id      int64
		created time.Time
	)
	err = tx.QueryRow(ctx, `
		INSERT INTO tickets (title, description, work_notes, category, subcategory, priority, urgency,
			impact, caller, assignment_group, assigned_to, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (correlation_id) DO NOTHING
		RETURNING id, created_at
	`, f.Title, f.Description, f.WorkNotes, string(f.CategoryTag), f.Subcategory, string(f.PriorityTag),
		f.UrgencyCode, f.ImpactCode, f.CallerID, f.AssignmentGroup, f.AssignedTo, corr,
	).Scan(&id, &created)
	if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
		return domain.Ticket{}, ticket.ErrDuplicateCorrelation
	}
	if err != nil {
		return domain.Ticket{}, err
	}

	number := fmt.Sprintf("INC%07d", id)
	if _, err := tx.Exec(ctx, `UPDATE tickets SET number = $1 WHERE id = $2`, number, id); err != nil {
		return domain.Ticket{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return domain.Ticket{}, ticket.ErrDuplicateCorrelation
		}
		return domain.Ticket{}, err
	}

	return domain.Ticket{
		StoreID:       strconv.FormatInt(id, 10),
		Number:        number,
		State:         "1",
		Title:         f.Title,
		Description:   f.Description,
		PriorityTag:   f.PriorityTag,
		CategoryTag:   f.CategoryTag,
		Assignee:      f.AssignedTo,
		CorrelationID: f.CorrelationID,
		CreatedAt:     created,
		UpdatedAt:     created,
	}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Get accepts a row id or a ticket number.
func (s *Store) Get(ctx context.Context, storeID string) (domain.Ticket, error) {
	var row pgx.Row
	if id, err := strconv.ParseInt(storeID, 10, 64); err == nil {
		row = s.pool.QueryRow(ctx, selectTicket+` WHERE id = $1`, id)
	} else {
		row = s.pool.QueryRow(ctx, selectTicket+` WHERE number = $1`, storeID)
	}
	t, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Ticket{}, ticket.ErrNotFound
	}
	return t, err
}

func (s *Store) Recent(ctx context.Context, since time.Time, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx, selectTicket+`
		WHERE created_at >= $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateState records a status change reported by the ticket system.
func (s *Store) UpdateState(ctx context.Context, number, state string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE tickets SET state = $1, updated_at = NOW() WHERE number = $2`, state, number)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ticket.ErrNotFound
	}
	return nil
}
