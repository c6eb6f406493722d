package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/config"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/storage/sqlite"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/ticket"
)

func setSlackEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing-config.yaml"))
	t.Setenv("CHAT_PROVIDER", "slack")
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
	t.Setenv("SLACK_APP_TOKEN", "xapp-test")
	t.Setenv("SLACK_BOT_USER_ID", "U0BOT")
	t.Setenv("ALLOW_UNMENTIONED", "")
	t.Setenv("SLACK_CHANNEL_IDS", "C01")
	t.Setenv("ORACLE", "rules")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("REDIS_URL", "")
	t.Setenv("FILTER_RULES_PATH", "")
	t.Setenv("DB_PATH", filepath.Join(dir, "ticketbot.db"))
}

func TestBuildMemoryStore(t *testing.T) {
	setSlackEnv(t)
	t.Setenv("TICKET_STORE", "memory")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	c, err := build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer c.Close()

	if _, ok := c.store.(*ticket.MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", c.store)
	}
	if c.states != nil {
		t.Fatalf("memory store should not record callback states")
	}
	if c.slack == nil || c.chat == nil {
		t.Fatalf("expected slack platform wired")
	}
	if c.oracle.Name() != "rules" {
		t.Fatalf("expected rules oracle, got %s", c.oracle.Name())
	}
	if c.memClaims == nil {
		t.Fatalf("expected in-process claims without redis")
	}
	if c.ledger == nil || c.orch == nil {
		t.Fatalf("expected ledger and orchestrator")
	}
}

func TestBuildSQLiteStoreSharesLedger(t *testing.T) {
	setSlackEnv(t)
	t.Setenv("TICKET_STORE", "sqlite")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	c, err := build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer c.Close()

	s, ok := c.store.(*sqlite.Store)
	if !ok || s != c.ledger {
		t.Fatalf("expected sqlite store to double as the ledger, got %T", c.store)
	}
	if c.states == nil {
		t.Fatalf("sqlite store should record callback states")
	}
}

func TestCheckConfigCommand(t *testing.T) {
	setSlackEnv(t)
	t.Setenv("TICKET_STORE", "memory")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"check-config"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("check-config: %v", err)
	}

	t.Setenv("CLASSIFY_CONFIDENCE_THRESHOLD", "1.5")
	cmd = newRootCmd()
	cmd.SetArgs([]string{"check-config"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected check-config to reject confidence above 1")
	}
}

func TestPrintSummary(t *testing.T) {
	start := time.Now()
	printSummary(domain.RunSummary{
		RunID:          "r1",
		StartedAt:      start,
		FinishedAt:     start.Add(120 * time.Millisecond),
		Messages:       3,
		TicketsCreated: 1,
		CreatedNumbers: []string{"INC0000001"},
		Errors:         []string{"notify: 1 of 1 confirmations undelivered"},
	})
}
