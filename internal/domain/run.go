package domain

import "time"

// RunSummary is the externally visible outcome of one pipeline run.
type RunSummary struct {
	RunID          string
	Trigger        string // "schedule", "webhook", "socket", "manual"
	StartedAt      time.Time
	FinishedAt     time.Time
	Messages       int
	Duplicates     int
	Unique         int
	Classified     int
	Summarized     int
	Categorized    int
	TicketsLinked  int
	TicketsCreated int
	Notified       int
	CreatedNumbers []string
	Errors         []string
}

func (s RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
