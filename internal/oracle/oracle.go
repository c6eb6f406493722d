// Package oracle defines the classification capability used by the pipeline
// and the duplicate detector, and provides the keyword-based implementation.
package oracle

import (
	"context"
	"errors"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
)

var (
	// ErrUnsupported is returned by oracles that cannot answer a question.
	ErrUnsupported = errors.New("oracle: operation not supported")
	// ErrUnparseable wraps model output that could not be decoded.
	ErrUnparseable = errors.New("oracle: unparseable response")
)

type Verdict struct {
	IsRequest  bool
	Confidence float64
	Reason     string
}

type DuplicateVerdict struct {
	IsDuplicate     bool
	Confidence      float64
	Reasoning       string
	SimilarityScore float64
	TicketNumber    string // which candidate matched, when the oracle names one
}

// EchoVerdict classifies text that is the bot's own notification output.
func EchoVerdict() Verdict {
	return Verdict{IsRequest: false, Confidence: 0.95, Reason: "notification echo, not a user request"}
}

// Oracle answers the judgement calls of a pipeline run. Bot and admin
// senders are removed by the prefilter, and messages that do not address
// the bot by the pipeline, before any oracle sees them. Implementations
// given an echo matcher also answer EchoVerdict for notification echoes
// without further work.
type Oracle interface {
	Name() string
	Classify(ctx context.Context, msg domain.RawMessage) (Verdict, error)
	Summarize(ctx context.Context, msg domain.RawMessage) (domain.Summary, error)
	Categorize(ctx context.Context, summary domain.Summary) (domain.Category, error)
	// MatchDuplicate asks whether text restates one of the candidate tickets.
	MatchDuplicate(ctx context.Context, text string, candidates []domain.Ticket) (DuplicateVerdict, error)
}
