package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/prefilter"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/ref"
)

type recordingChannel struct {
	fail     map[Mode]error
	panicOn  Mode
	doPanic  bool
	attempts []Delivery
}

func (c *recordingChannel) Deliver(_ context.Context, d Delivery) error {
	c.attempts = append(c.attempts, d)
	if c.doPanic && d.Mode == c.panicOn {
		panic("socket closed")
	}
	return c.fail[d.Mode]
}

func (c *recordingChannel) modes() []Mode {
	var out []Mode
	for _, a := range c.attempts {
		out = append(out, a.Mode)
	}
	return out
}

func equalModes(a, b []Mode) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNotifyFallbackOrder(t *testing.T) {
	errDown := errors.New("down")
	target := ref.Parse("spaces/AAA/threads/T1")

	tests := []struct {
		name      string
		target    ref.Ref
		messageID string
		fail      map[Mode]error
		want      []Mode
		ok        bool
	}{
		{"thread succeeds first", target, "T1.M1", nil, []Mode{ModeThread}, true},
		{"thread fails then quote", target, "T1.M1", map[Mode]error{ModeThread: errDown}, []Mode{ModeThread, ModeQuote}, true},
		{"all fail", target, "T1.M1", map[Mode]error{ModeThread: errDown, ModeQuote: errDown, ModeBroadcast: errDown}, []Mode{ModeThread, ModeQuote, ModeBroadcast}, false},
		{"no thread starts with quote", ref.Parse("spaces/AAA"), "spaces/AAA/messages/X.Y", nil, []Mode{ModeQuote}, true},
		{"nothing but space", ref.Parse("spaces/AAA"), "", nil, []Mode{ModeBroadcast}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &recordingChannel{fail: tt.fail}
			got := NewDispatcher(ch).Notify(context.Background(), tt.target, "hello", tt.messageID)
			if got != tt.ok {
				t.Fatalf("Notify() = %v, want %v", got, tt.ok)
			}
			if !equalModes(ch.modes(), tt.want) {
				t.Fatalf("attempted modes = %v, want %v", ch.modes(), tt.want)
			}
		})
	}
}

func TestNotifyTargetsPerMode(t *testing.T) {
	errDown := errors.New("down")
	ch := &recordingChannel{fail: map[Mode]error{ModeThread: errDown, ModeQuote: errDown}}
	NewDispatcher(ch).Notify(context.Background(), ref.Parse("spaces/AAA/threads/T1"), "hi", "T1.M1")

	if len(ch.attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(ch.attempts))
	}
	if ch.attempts[0].Target.ThreadName() != "spaces/AAA/threads/T1" {
		t.Fatalf("unexpected thread target: %+v", ch.attempts[0].Target)
	}
	if ch.attempts[1].Target.MessageName() != "spaces/AAA/messages/T1.M1" {
		t.Fatalf("unexpected quote target: %+v", ch.attempts[1].Target)
	}
	if ch.attempts[2].Target.String() != "spaces/AAA" {
		t.Fatalf("unexpected broadcast target: %+v", ch.attempts[2].Target)
	}
}

func TestNotifyRecoversFromChannelPanic(t *testing.T) {
	ch := &recordingChannel{doPanic: true, panicOn: ModeThread}
	ok := NewDispatcher(ch).Notify(context.Background(), ref.Parse("spaces/AAA/threads/T1"), "hi", "")
	if !ok {
		t.Fatal("expected broadcast to succeed after thread panic")
	}
	if !equalModes(ch.modes(), []Mode{ModeThread, ModeBroadcast}) {
		t.Fatalf("unexpected modes: %v", ch.modes())
	}
}

func TestOwnMessagesAreFingerprinted(t *testing.T) {
	f := prefilter.New(prefilter.Rules{})
	ticket := domain.Ticket{
		Number:      "INC0010001",
		Title:       "WiFi keeps disconnecting",
		State:       "1",
		PriorityTag: domain.PriorityModerate,
		URL:         "https://example.service-now.com/nav_to.do?uri=incident.do?sys_id=abc",
	}
	texts := map[string]string{
		"created": TicketCreated(ticket),
		"ack":     Acknowledgement(),
		"status":  StatusUpdate("INC0010001", "2", "WiFi"),
		"digest":  Digest(DigestStats{Since: time.Now()}),
	}
	for name, text := range texts {
		if !f.MatchesFingerprint(text) {
			t.Fatalf("%s message is not recognized as our own output:\n%s", name, text)
		}
	}
}

func TestTicketCreatedContent(t *testing.T) {
	text := TicketCreated(domain.Ticket{Number: "INC42", State: "1", PriorityTag: domain.PriorityHigh})
	for _, want := range []string{"INC42", "New", "2 - High"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in:\n%s", want, text)
		}
	}
	if strings.Contains(text, "View Ticket") {
		t.Fatal("view ticket line should be omitted without a URL")
	}
}
