package webhook

import (
	"context"
	"log"
	"sync"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/notify"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/pipeline"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/ref"
)

// Runner is the part of the orchestrator that pushed messages need.
type Runner interface {
	LookupLink(ctx context.Context, messageID string) (domain.CorrelationLink, bool, error)
	RunMessages(ctx context.Context, trigger string, msgs []domain.RawMessage) *pipeline.Run
	Links() *pipeline.LinkCache
}

// Poster sends a plain message into a conversation.
type Poster interface {
	Post(ctx context.Context, target ref.Ref, text string) error
}

type Outcome struct {
	Status       string `json:"status"`
	TicketNumber string `json:"ticket_number,omitempty"`
}

const (
	StatusProcessing   = "processing"
	StatusTicketExists = "ticket_exists"
	StatusIgnored      = "ignored"
)

// Intake accepts messages pushed by a chat platform, from the HTTP webhook or
// a Slack socket, and runs the pipeline for them in the background.
type Intake struct {
	runner  Runner
	poster  Poster
	ack     bool
	trigger string

	base context.Context
	wg   sync.WaitGroup
}

// NewIntake ties background runs to base; cancelling it cancels them.
func NewIntake(base context.Context, runner Runner, poster Poster, ack bool, trigger string) *Intake {
	return &Intake{runner: runner, poster: poster, ack: ack, trigger: trigger, base: base}
}

// Accept short-circuits messages that already have a ticket, otherwise
// optionally acknowledges and starts an asynchronous run.
func (in *Intake) Accept(ctx context.Context, msg domain.RawMessage) Outcome {
	l, ok, err := in.runner.LookupLink(ctx, msg.ID)
	if err != nil {
		log.Printf("intake: link lookup message=%s: %v", msg.ID, err)
	}
	if ok {
		log.Printf("intake: message=%s already linked ticket=%s", msg.ID, l.TicketNumber)
		return Outcome{Status: StatusTicketExists, TicketNumber: l.TicketNumber}
	}

	if in.ack && in.poster != nil {
		if err := in.poster.Post(ctx, pipeline.TargetFor(msg), notify.Acknowledgement()); err != nil {
			log.Printf("intake: acknowledgement message=%s: %v", msg.ID, err)
		}
	}

	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		in.runner.RunMessages(in.base, in.trigger, []domain.RawMessage{msg})
	}()
	return Outcome{Status: StatusProcessing}
}

// Handle adapts Accept to push handlers that have no response to write.
func (in *Intake) Handle(ctx context.Context, msg domain.RawMessage) {
	in.Accept(ctx, msg)
}

// Wait blocks until every background run has returned.
func (in *Intake) Wait() {
	in.wg.Wait()
}
