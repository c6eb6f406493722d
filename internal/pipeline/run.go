package pipeline

import (
	"fmt"
	"time"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
)

type Stage string

const (
	StageFetch        Stage = "fetch"
	StageDeduplicate  Stage = "deduplicate"
	StageClassify     Stage = "classify"
	StageSummarize    Stage = "summarize"
	StageCategorize   Stage = "categorize"
	StageCreateTicket Stage = "create_ticket"
	StageNotify       Stage = "notify"
	StageDone         Stage = "done"
)

const (
	TriggerSchedule = "schedule"
	TriggerWebhook  = "webhook"
	TriggerSocket   = "socket"
	TriggerManual   = "manual"
)

// LinkedTicket is a ticket the run associated with one of its messages,
// either by creating it or by finding one created earlier.
type LinkedTicket struct {
	Ticket   domain.Ticket
	Message  domain.RawMessage
	Category domain.Category
	Created  bool
}

type Notification struct {
	TicketNumber string
	MessageID    string
	Delivered    bool
}

// Run accumulates the output of each stage. Every stage reads the fields
// written by earlier stages and writes only its own.
type Run struct {
	ID         string
	Trigger    string
	StartedAt  time.Time
	FinishedAt time.Time

	Messages            []domain.RawMessage
	Duplicates          []domain.DuplicateDetectionResult
	UniqueMessages      []domain.RawMessage
	Classified          []domain.Classification
	NotRequests         []domain.Classification
	Summarized          []domain.Summary
	Categorized         []domain.Category
	CreatedTickets      []LinkedTicket
	NewlyCreatedTickets []LinkedTicket
	NotificationsSent   []Notification
	CorrelationLinks    []domain.CorrelationLink

	CurrentStage Stage
	Errors       []string
}

func (r *Run) fail(stage Stage, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", stage, err))
}

func (r *Run) link(lt LinkedTicket) {
	r.CreatedTickets = append(r.CreatedTickets, lt)
	if lt.Created {
		r.NewlyCreatedTickets = append(r.NewlyCreatedTickets, lt)
	}
}

func (r *Run) Summary() domain.RunSummary {
	s := domain.RunSummary{
		RunID:          r.ID,
		Trigger:        r.Trigger,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		Messages:       len(r.Messages),
		Duplicates:     len(r.Duplicates),
		Unique:         len(r.UniqueMessages),
		Classified:     len(r.Classified),
		Summarized:     len(r.Summarized),
		Categorized:    len(r.Categorized),
		TicketsLinked:  len(r.CreatedTickets),
		TicketsCreated: len(r.NewlyCreatedTickets),
		Errors:         append([]string(nil), r.Errors...),
	}
	for _, n := range r.NotificationsSent {
		if n.Delivered {
			s.Notified++
		}
	}
	for _, t := range r.NewlyCreatedTickets {
		s.CreatedNumbers = append(s.CreatedNumbers, t.Ticket.Number)
	}
	return s
}

// stageErrors folds per-item failures into a single run error for the stage.
type stageErrors struct {
	total  int
	failed int
	first  error
}

func (e *stageErrors) add(err error) {
	e.total++
	if err == nil {
		return
	}
	e.failed++
	if e.first == nil {
		e.first = err
	}
}

func (e *stageErrors) err() error {
	if e.failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d failed: %w", e.failed, e.total, e.first)
}
