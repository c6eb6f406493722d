// Package sqlite is a local ticket store and run ledger backed by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/ticket"
)

var _ ticket.Store = (*Store)(nil)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS tickets (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
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
		created_at       DATETIME NOT NULL,
		updated_at       DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tickets_created_at ON tickets(created_at);
	CREATE INDEX IF NOT EXISTS idx_tickets_number ON tickets(number);

	CREATE TABLE IF NOT EXISTS runs (
		run_id          TEXT PRIMARY KEY,
		run_trigger     TEXT NOT NULL,
		started_at      DATETIME NOT NULL,
		finished_at     DATETIME NOT NULL,
		messages        INTEGER NOT NULL DEFAULT 0,
		duplicates      INTEGER NOT NULL DEFAULT 0,
		unique_messages INTEGER NOT NULL DEFAULT 0,
		classified      INTEGER NOT NULL DEFAULT 0,
		tickets_linked  INTEGER NOT NULL DEFAULT 0,
		tickets_created INTEGER NOT NULL DEFAULT 0,
		notified        INTEGER NOT NULL DEFAULT 0,
		created_numbers TEXT DEFAULT '',
		errors          TEXT DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const ticketColumns = `id, number, state, title, description, category, priority, assigned_to, correlation_id, created_at, updated_at`

func scanTicket(row interface{ Scan(...any) error }) (domain.Ticket, error) {
	var (
		t        domain.Ticket
		id       int64
		category string
		priority string
		corr     sql.NullString
	)
	err := row.Scan(&id, &t.Number, &t.State, &t.Title, &t.Description, &category, &priority,
		&t.Assignee, &corr, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Ticket{}, err
	}
	t.StoreID = strconv.FormatInt(id, 10)
	t.CategoryTag = domain.CategoryTag(category)
	t.PriorityTag = domain.PriorityTag(priority)
	t.CorrelationID = corr.String
	return t, nil
}

func (s *Store) FindByCorrelation(ctx context.Context, correlationID string) (*domain.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE correlation_id = ?`, correlationID)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts a ticket and assigns its number. A second ticket for the
// same correlation id fails with ticket.ErrDuplicateCorrelation.
func (s *Store) Create(ctx context.Context, f domain.TicketFields) (domain.Ticket, error) {
	now := time.Now().UTC()
	var corr any
	if f.CorrelationID != "" {
		corr = f.CorrelationID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Ticket{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO tickets (title, description, work_notes, category, subcategory, priority, urgency, impact,
		 caller, assignment_group, assigned_to, correlation_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.Title, f.Description, f.WorkNotes, string(f.CategoryTag), f.Subcategory, string(f.PriorityTag),
		f.UrgencyCode, f.ImpactCode, f.CallerID, f.AssignmentGroup, f.AssignedTo, corr, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Ticket{}, ticket.ErrDuplicateCorrelation
		}
		return domain.Ticket{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Ticket{}, err
	}
	number := fmt.Sprintf("INC%07d", id)
	if _, err := tx.ExecContext(ctx, `UPDATE tickets SET number = ? WHERE id = ?`, number, id); err != nil {
		return domain.Ticket{}, err
	}
	if err := tx.Commit(); err != nil {
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
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

// Get accepts a row id or a ticket number.
func (s *Store) Get(ctx context.Context, storeID string) (domain.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ? OR number = ?`, storeID, storeID)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Ticket{}, ticket.ErrNotFound
	}
	return t, err
}

func (s *Store) Recent(ctx context.Context, since time.Time, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE created_at >= ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		since.UTC(), limit,
	)
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
	res, err := s.db.ExecContext(ctx, `UPDATE tickets SET state = ?, updated_at = ? WHERE number = ?`, state, time.Now().UTC(), number)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ticket.ErrNotFound
	}
	return nil
}

// RecordRun appends a finished pipeline run to the ledger.
func (s *Store) RecordRun(ctx context.Context, r domain.RunSummary) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (run_id, run_trigger, started_at, finished_at, messages, duplicates, unique_messages,
		 classified, tickets_linked, tickets_created, notified, created_numbers, errors)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Trigger, r.StartedAt.UTC(), r.FinishedAt.UTC(), r.Messages, r.Duplicates, r.Unique,
		r.Classified, r.TicketsLinked, r.TicketsCreated, r.Notified,
		strings.Join(r.CreatedNumbers, ","), strings.Join(r.Errors, "\n"),
	)
	return err
}

// RunsSince lists ledger entries started at or after since, oldest first.
func (s *Store) RunsSince(ctx context.Context, since time.Time) ([]domain.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, run_trigger, started_at, finished_at, messages, duplicates, unique_messages,
		 classified, tickets_linked, tickets_created, notified, created_numbers, errors
		 FROM runs WHERE started_at >= ? ORDER BY started_at, run_id`,
		since.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RunSummary
	for rows.Next() {
		var (
			r       domain.RunSummary
			numbers string
			errs    string
		)
		if err := rows.Scan(&r.RunID, &r.Trigger, &r.StartedAt, &r.FinishedAt, &r.Messages, &r.Duplicates,
			&r.Unique, &r.Classified, &r.TicketsLinked, &r.TicketsCreated, &r.Notified, &numbers, &errs); err != nil {
			return nil, err
		}
		r.CreatedNumbers = splitNonEmpty(numbers, ",")
		r.Errors = splitNonEmpty(errs, "\n")
		out = append(out, r)
	}
	return out, rows.Err()
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, sep)
}
