// Package app wires configuration, adapters and the pipeline into the
// ticketbot command.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/config"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/jobs"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/scheduler"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/webhook"
)

const shutdownTimeout = 30 * time.Second

func Main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ticketbot",
		Short:         "Turn chat requests into support tickets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), runOnceCmd(), checkConfigCmd())
	// serve is the default
	root.RunE = serveCmd().RunE
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Poll on schedule and serve webhooks until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := build(ctx, cfg)
			if err != nil {
				log.Fatalf("Startup failed: %v", err)
			}
			defer c.Close()
			return serve(ctx, c)
		},
	}
}

func serve(ctx context.Context, c *components) error {
	cfg := c.cfg
	sched := scheduler.New(cfg.Location)
	if err := sched.Add("poll", cfg.PollSchedule, func(ctx context.Context) {
		c.orch.Run(ctx, "schedule")
	}); err != nil {
		return err
	}

	var claims interface{ Prune() int }
	if c.memClaims != nil {
		claims = c.memClaims
	}
	cleanup := jobs.NewCleanup(c.orch.Links(), claims, cfg.LinkCacheTTL())
	if err := sched.Add("cleanup", cfg.CleanupSchedule, cleanup.Run); err != nil {
		return err
	}
	if cfg.DigestChannel != "" {
		digest := jobs.NewDigest(c.ledger, c.store, c.chat, cfg.DigestChannel)
		if err := sched.Add("digest", cfg.DigestSchedule, digest.Run); err != nil {
			return err
		}
	}
	sched.Start()

	runCtx, cancelRuns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRuns()
	trigger := "webhook"
	if c.slack != nil {
		trigger = "socket"
	}
	intake := webhook.NewIntake(runCtx, c.orch, c.chat, cfg.WebhookAckEnabled, trigger)
	handler := webhook.NewHandler(webhook.Config{
		Port:             cfg.WebhookPort,
		Secret:           cfg.WebhookSecret,
		BotName:          cfg.GoogleChatBotName,
		AllowUnmentioned: cfg.AllowUnmentioned,
	}, intake, c.orch.Links(), c.chat, c.states)

	srvCtx, stopServers := context.WithCancel(ctx)
	defer stopServers()
	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := handler.Serve(srvCtx); err != nil {
			errCh <- fmt.Errorf("webhook server: %w", err)
		}
	}()
	if c.slack != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Println("Starting Slack Socket Mode listener...")
			if err := c.slack.Listen(srvCtx, intake.Handle); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("slack socket: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Println("Shutdown signal received")
	case runErr = <-errCh:
		log.Printf("Stopping: %v", runErr)
	}

	stopServers()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sched.Stop(stopCtx); err != nil {
		log.Printf("Scheduler stop: %v", err)
	}
	wg.Wait()
	intake.Wait()
	log.Println("Stopped")
	return runErr
}

func runOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Run the pipeline once against the configured source and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := build(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			run := c.orch.Run(ctx, "manual")
			printSummary(run.Summary())
			if len(run.Errors) > 0 {
				return fmt.Errorf("run finished with %d errors", len(run.Errors))
			}
			return nil
		},
	}
}

func printSummary(s domain.RunSummary) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Printf("\n%s\n", cyan("=== Pipeline Run "+s.RunID+" ==="))
	fmt.Printf("  Messages:     %d\n", s.Messages)
	fmt.Printf("  Duplicates:   %s\n", yellow(s.Duplicates))
	fmt.Printf("  Unique:       %d\n", s.Unique)
	fmt.Printf("  Requests:     %d\n", s.Classified)
	fmt.Printf("  Linked:       %d\n", s.TicketsLinked)
	fmt.Printf("  Created:      %s\n", green(s.TicketsCreated))
	for _, n := range s.CreatedNumbers {
		fmt.Printf("    %s\n", green(n))
	}
	fmt.Printf("  Notified:     %d\n", s.Notified)
	fmt.Printf("  Took:         %s\n", s.Duration().Round(time.Millisecond))
	if len(s.Errors) > 0 {
		fmt.Printf("  %s\n", red(fmt.Sprintf("Errors (%d):", len(s.Errors))))
		for _, e := range s.Errors {
			fmt.Printf("    %s\n", red(e))
		}
	}
	fmt.Println()
}

func checkConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", color.New(color.FgRed).Sprint("invalid config:"), err)
				return err
			}
			fmt.Printf("%s chat=%s store=%s oracle=%s timezone=%s\n",
				color.New(color.FgGreen).Sprint("config ok:"),
				cfg.ChatProvider, cfg.TicketStore, cfg.Oracle, cfg.Location)
			return nil
		},
	}
}
