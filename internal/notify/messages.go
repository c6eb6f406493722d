package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
)

// TicketCreated is the confirmation posted once per newly created ticket.
// Its wording is also what the pre-filter recognizes as our own output.
func TicketCreated(t domain.Ticket) string {
	var b strings.Builder
	b.WriteString("🎫 *Support Ticket Created*\n\n")
	b.WriteString("Your request has been processed and a ticket has been created.\n\n")
	fmt.Fprintf(&b, "*Ticket Number:* %s\n", t.Number)
	if t.Title != "" {
		fmt.Fprintf(&b, "*Title:* %s\n", t.Title)
	}
	fmt.Fprintf(&b, "*Status:* %s\n", domain.StateLabel(t.State))
	if t.PriorityTag != "" {
		fmt.Fprintf(&b, "*Priority:* %s\n", t.PriorityTag.Label())
	}
	if t.URL != "" {
		fmt.Fprintf(&b, "*View Ticket:* %s\n", t.URL)
	}
	b.WriteString("\nYou will receive updates as the issue progresses.")
	return b.String()
}

// Acknowledgement is posted when a webhook request is accepted for processing.
func Acknowledgement() string {
	return "🤖 *Support Ticket Automation* is processing your request..."
}

func StatusUpdate(number, state, title string) string {
	var b strings.Builder
	b.WriteString("🔄 *Ticket Status Update*\n\n")
	fmt.Fprintf(&b, "*Ticket Number:* %s\n", number)
	if title != "" {
		fmt.Fprintf(&b, "*Title:* %s\n", title)
	}
	fmt.Fprintf(&b, "*Status:* %s", domain.StateLabel(state))
	return b.String()
}

type DigestStats struct {
	Since          time.Time
	Runs           int
	Messages       int
	TicketsCreated int
	Duplicates     int
	Notified       int
	Errors         int
	Tickets        []domain.Ticket
}

// Digest renders the daily summary posted to the digest channel.
func Digest(s DigestStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 *Support ticket digest* since %s\n", s.Since.Format("Mon Jan 2 15:04"))
	fmt.Fprintf(&b, "Runs: %d · Messages seen: %d · Tickets created: %d · Duplicates skipped: %d · Confirmations sent: %d · Errors: %d\n",
		s.Runs, s.Messages, s.TicketsCreated, s.Duplicates, s.Notified, s.Errors)
	if len(s.Tickets) == 0 {
		b.WriteString("No tickets were opened.")
		return b.String()
	}
	for _, t := range s.Tickets {
		fmt.Fprintf(&b, "• %s [%s] %s\n", t.Number, t.CategoryTag, t.Title)
	}
	return strings.TrimRight(b.String(), "\n")
}
