package app

import (
	"context"
	"fmt"
	"log"

	"github.com/slack-go/slack"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/claim"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/config"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/dedup"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/httpx"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/integrations/googlechat"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/integrations/llm"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/integrations/servicenow"
	slackbot "github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/integrations/slack"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/notify"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/oracle"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/pipeline"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/prefilter"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/ref"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/storage/postgres"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/storage/sqlite"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/ticket"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/webhook"
)

// chatPlatform is one chat integration: it is read from, replied to and
// posted into.
type chatPlatform interface {
	pipeline.Source
	notify.Channel
	Post(ctx context.Context, target ref.Ref, text string) error
}

type components struct {
	cfg       config.Config
	ledger    *sqlite.Store
	store     ticket.Store
	states    webhook.StateRecorder
	chat      chatPlatform
	slack     *slackbot.Client // set when chat_provider is slack
	oracle    oracle.Oracle
	memClaims *claim.Memory // nil when claims live in Redis
	orch      *pipeline.Orchestrator
	closers   []func()
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func build(ctx context.Context, cfg config.Config) (*components, error) {
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Printf(
		"Config loaded. Chat=%s Store=%s Oracle=%s Poll=%s Lookback=%s DuplicateWindow=%s Confidence=%.2f Timezone=%s ExternalHTTPTimeout=%s",
		cfg.ChatProvider,
		cfg.TicketStore,
		cfg.Oracle,
		cfg.PollSchedule,
		cfg.PollLookback(),
		cfg.DuplicateWindow(),
		cfg.ClassifyConfidence,
		cfg.Timezone,
		appliedHTTPTimeout,
	)

	c := &components{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	ledger, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	log.Printf("Database initialized at %s", cfg.DBPath)
	c.ledger = ledger
	c.closers = append(c.closers, func() { ledger.Close() })

	var directory ticket.Directory
	switch cfg.TicketStore {
	case "servicenow":
		sn := servicenow.New(cfg)
		c.store, directory = sn, sn
	case "sqlite":
		c.store, c.states = ledger, ledger
	case "postgres":
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, pg.Close)
		c.store, c.states = pg, pg
	case "memory":
		c.store = ticket.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown ticket_store %q", cfg.TicketStore)
	}

	switch cfg.ChatProvider {
	case "googlechat":
		gc, err := googlechat.New(cfg)
		if err != nil {
			return nil, err
		}
		c.chat = gc
	case "slack":
		api := slack.New(
			cfg.SlackBotToken,
			slack.OptionAppLevelToken(cfg.SlackAppToken),
		)
		c.slack = slackbot.New(cfg, api)
		c.chat = c.slack
	default:
		return nil, fmt.Errorf("unknown chat_provider %q", cfg.ChatProvider)
	}

	var rules prefilter.Rules
	if cfg.FilterRulesPath != "" {
		if rules, err = prefilter.LoadRules(cfg.FilterRulesPath); err != nil {
			return nil, err
		}
	}
	filter := prefilter.New(rules)

	c.oracle = &oracle.Rules{
		MentionMarkers: cfg.MentionMarkers(),
		RequireMention: cfg.RequireMention(),
		Echo:           filter.MatchesFingerprint,
	}
	if cfg.Oracle == "llm" {
		o, err := llm.New(cfg, llm.WithEcho(filter.MatchesFingerprint))
		if err != nil {
			return nil, err
		}
		c.oracle = o
	}

	var claims claim.Claimer
	if cfg.RedisURL != "" {
		rdb, err := claim.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() { rdb.Close() })
		claims = claim.NewRedis(rdb)
	} else {
		c.memClaims = claim.NewMemory()
		claims = c.memClaims
	}

	detector := dedup.New(c.store, c.oracle, filter, dedup.Config{
		Window:        cfg.DuplicateWindow(),
		MaxCandidates: cfg.DuplicateMaxCandidate,
		Semantic:      cfg.SemanticDedup,
	})

	c.orch = pipeline.New(pipeline.Deps{
		Source:    c.chat,
		Filter:    filter,
		Detector:  detector,
		Oracle:    c.oracle,
		Store:     c.store,
		Directory: directory,
		Claims:    claims,
		Notifier:  notify.NewDispatcher(c.chat),
		Recorder:  ledger,
	}, pipeline.Config{
		Lookback:            cfg.PollLookback(),
		ConfidenceThreshold: cfg.ClassifyConfidence,
		ClaimTTL:            cfg.ClaimTTL(),
		RequireMention:      cfg.RequireMention(),
		MentionMarkers:      cfg.MentionMarkers(),
	})

	log.Printf("Pipeline ready. Oracle=%s Store=%s Chat=%s", c.oracle.Name(), cfg.TicketStore, cfg.ChatProvider)
	ok = true
	return c, nil
}
