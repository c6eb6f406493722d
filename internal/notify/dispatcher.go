// Package notify delivers ticket confirmations back to the conversation a
// request came from, falling back from threaded reply to quoted reply to a
// plain message in the space.
package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/ref"
)

type Mode int

const (
	ModeThread Mode = iota
	ModeQuote
	ModeBroadcast
)

func (m Mode) String() string {
	switch m {
	case ModeThread:
		return "thread"
	case ModeQuote:
		return "quote"
	case ModeBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

type Delivery struct {
	Mode   Mode
	Target ref.Ref // ModeQuote sets Target.Message to the quoted message
	Text   string
}

// Channel is a chat platform that can post a message in one of the modes.
type Channel interface {
	Deliver(ctx context.Context, d Delivery) error
}

type Dispatcher struct {
	channel Channel
}

func NewDispatcher(ch Channel) *Dispatcher {
	return &Dispatcher{channel: ch}
}

// Notify tries each delivery mode in order and reports whether any succeeded.
// originalMessageID may be a full message name or an id relative to target's space.
func (d *Dispatcher) Notify(ctx context.Context, target ref.Ref, text, originalMessageID string) bool {
	var attempts []Delivery
	if target.HasThread() {
		attempts = append(attempts, Delivery{Mode: ModeThread, Target: target, Text: text})
	}
	if originalMessageID != "" {
		msg := ref.ParseIn(ref.Space(target.Kind, target.Space), originalMessageID)
		if msg.Message != "" && msg.Space != "" {
			attempts = append(attempts, Delivery{Mode: ModeQuote, Target: msg.WithThread(target.Thread), Text: text})
		}
	}
	if target.Space != "" {
		attempts = append(attempts, Delivery{Mode: ModeBroadcast, Target: ref.Space(target.Kind, target.Space), Text: text})
	}

	for _, a := range attempts {
		if err := d.attempt(ctx, a); err != nil {
			log.Printf("notify: %s delivery to %s failed: %v", a.Mode, a.Target, err)
			continue
		}
		log.Printf("notify: delivered mode=%s target=%s", a.Mode, a.Target)
		return true
	}
	log.Printf("notify: all delivery modes failed target=%s message=%s", target, originalMessageID)
	return false
}

func (d *Dispatcher) attempt(ctx context.Context, a Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel panicked: %v", r)
		}
	}()
	return d.channel.Deliver(ctx, a)
}
