package domain

import "time"

type RawMessage struct {
	ID          string // platform message name, e.g. spaces/AAA/messages/BBB.BBB
	ThreadRef   string // platform thread name, may be empty
	SpaceRef    string // conversation the message was posted in
	SenderID    string
	SenderName  string
	SenderEmail string // empty when the platform does not expose it
	Text        string
	CreatedAt   time.Time
	Mentioned   bool // the platform marked the message as addressing the bot
}

// CorrelationID is the stable key stored on the ticket created for this message.
func (m RawMessage) CorrelationID() string {
	return m.ID
}

// CorrelationLink ties an originating message to the ticket created for it.
type CorrelationLink struct {
	MessageID    string
	TicketNumber string
	TicketID     string
	SpaceRef     string
	ThreadRef    string
	LinkedAt     time.Time
}
