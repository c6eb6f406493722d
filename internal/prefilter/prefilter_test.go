package prefilter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
)

func TestMatchesFingerprint(t *testing.T) {
	f := New(Rules{})
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"banner", "🎫 **Support Ticket Created**\n\nTicket Number: INC0010001", true},
		{"ticket number line", "ticket number: INC0000042", true},
		{"view ticket link", "View Ticket: https://dev.service-now.com/x", true},
		{"processed", "Your request has been processed.", true},
		{"status echo", "📊 **Status:** New", true},
		{"priority echo", "Priority: 3 - Moderate", true},
		{"ack", "🤖 **Support Ticket Automation** is processing your request...", true},
		{"plain request", "WiFi keeps disconnecting every few minutes", false},
		{"status in prose", "what is the status: of my laptop order?", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.MatchesFingerprint(tt.text); got != tt.want {
				t.Fatalf("MatchesFingerprint(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestFilterDropsBotSendersAndEchoes(t *testing.T) {
	f := New(Rules{})
	msgs := []domain.RawMessage{
		{ID: "m1", SenderID: "users/111", SenderName: "Dana", Text: "My printer is jammed"},
		{ID: "m2", SenderID: "users/chat-bot-7", SenderName: "Helper", Text: "hello"},
		{ID: "m3", SenderID: "users/222", SenderName: "ADMIN", Text: "maintenance tonight"},
		{ID: "m4", SenderID: "users/333", SenderName: "Lee", Text: "Ticket Number: INC0001234"},
		{ID: "m5", SenderID: "users/444", SenderName: "Sam", Text: "Cannot log in to VPN"},
	}

	kept := f.Filter(msgs)
	if len(kept) != 2 {
		t.Fatalf("expected 2 kept messages, got %d: %+v", len(kept), kept)
	}
	if kept[0].ID != "m1" || kept[1].ID != "m5" {
		t.Fatalf("unexpected kept ids: %s, %s", kept[0].ID, kept[1].ID)
	}
}

func TestLoadRulesExtendsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `
bot_names:
  - "Helpdesk Relay"
bot_id_markers:
  - "svc-"
fingerprints:
  - "automated digest"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	f := New(rules)

	if !f.IsBotSender(domain.RawMessage{SenderName: "helpdesk relay"}) {
		t.Fatal("expected configured bot name to match case-insensitively")
	}
	if !f.IsBotSender(domain.RawMessage{SenderID: "users/SVC-sync"}) {
		t.Fatal("expected configured id marker to match")
	}
	if !f.MatchesFingerprint("Automated Digest for Monday") {
		t.Fatal("expected configured fingerprint to match")
	}
	if !f.MatchesFingerprint("ticket has been created") {
		t.Fatal("defaults must survive custom rules")
	}
}

func TestLoadRulesRejectsBadPattern(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("fingerprints:\n  - \"([\"\n"), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	if _, err := LoadRules(path); err == nil {
		t.Fatal("expected error for invalid regexp")
	}
}
