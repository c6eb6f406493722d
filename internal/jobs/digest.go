// Package jobs holds the scheduled housekeeping work that runs beside the
// pipeline: the daily digest and link cache cleanup.
package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/notify"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/ref"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/ticket"
)

const (
	digestWindow     = 24 * time.Hour
	digestMaxTickets = 20
)

// Ledger is the run history the digest is built from.
type Ledger interface {
	RunsSince(ctx context.Context, since time.Time) ([]domain.RunSummary, error)
}

type Poster interface {
	Post(ctx context.Context, target ref.Ref, text string) error
}

type Digest struct {
	ledger  Ledger
	store   ticket.Store
	poster  Poster
	channel ref.Ref
	now     func() time.Time
}

func NewDigest(ledger Ledger, store ticket.Store, poster Poster, channel string) *Digest {
	return &Digest{ledger: ledger, store: store, poster: poster, channel: ref.Parse(channel), now: time.Now}
}

// Stats aggregates the last day of runs and lists the tickets opened in it.
// A failing ticket listing still yields the run counters.
func (d *Digest) Stats(ctx context.Context) (notify.DigestStats, error) {
	since := d.now().Add(-digestWindow)
	stats := notify.DigestStats{Since: since}

	runs, err := d.ledger.RunsSince(ctx, since)
	if err != nil {
		return stats, fmt.Errorf("load runs: %w", err)
	}
	for _, r := range runs {
		stats.Runs++
		stats.Messages += r.Messages
		stats.TicketsCreated += r.TicketsCreated
		stats.Duplicates += r.Duplicates
		stats.Notified += r.Notified
		stats.Errors += len(r.Errors)
	}

	if stats.TicketsCreated > 0 {
		tickets, err := d.store.Recent(ctx, since, digestMaxTickets)
		if err != nil {
			log.Printf("digest: listing tickets: %v", err)
		}
		stats.Tickets = tickets
	}
	return stats, nil
}

// Run posts the digest to the configured channel.
func (d *Digest) Run(ctx context.Context) {
	if d.channel.Space == "" {
		return
	}
	stats, err := d.Stats(ctx)
	if err != nil {
		log.Printf("digest: %v", err)
		return
	}
	if err := d.poster.Post(ctx, d.channel, notify.Digest(stats)); err != nil {
		log.Printf("digest: post to %s: %v", d.channel, err)
		return
	}
	log.Printf("digest: posted runs=%d created=%d to %s", stats.Runs, stats.TicketsCreated, d.channel)
}
