// Package dedup decides whether an incoming message already maps to a ticket.
//
// Rules run in a fixed order and the first decisive rule wins:
// notification fingerprint, exact correlation match, semantic match through
// the oracle, and lexical overlap. Any unexpected failure yields "not a
// duplicate" so that a request is never silently dropped.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/oracle"
)

const (
	DefaultWindow        = 24 * time.Hour
	DefaultMaxCandidates = 5

	fingerprintConfidence = 0.95
	uniqueConfidence      = 0.8
	minCommonTokens       = 3
	overlapThreshold      = 0.30
)

// Lookup is the read-only slice of a ticket store the detector needs.
type Lookup interface {
	FindByCorrelation(ctx context.Context, correlationID string) (*domain.Ticket, error)
	Recent(ctx context.Context, since time.Time, limit int) ([]domain.Ticket, error)
}

type FingerprintMatcher interface {
	MatchesFingerprint(text string) bool
}

type Config struct {
	Window        time.Duration
	MaxCandidates int
	// Semantic enables the oracle rule. The oracle may still decline.
	Semantic bool
}

type Detector struct {
	store  Lookup
	oracle oracle.Oracle
	fp     FingerprintMatcher
	cfg    Config
	now    func() time.Time
}

// New builds a detector. o may be nil, which disables the semantic rule.
func New(store Lookup, o oracle.Oracle, fp FingerprintMatcher, cfg Config) *Detector {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultMaxCandidates
	}
	return &Detector{store: store, oracle: o, fp: fp, cfg: cfg, now: time.Now}
}

// Partition splits messages into unique requests and duplicates.
func (d *Detector) Partition(ctx context.Context, msgs []domain.RawMessage) ([]domain.RawMessage, []domain.DuplicateDetectionResult) {
	var unique []domain.RawMessage
	var dups []domain.DuplicateDetectionResult
	for _, m := range msgs {
		res := d.Check(ctx, m)
		if res.IsDuplicate {
			dups = append(dups, res)
			continue
		}
		unique = append(unique, m)
	}
	return unique, dups
}

// Check runs the rules against one message.
func (d *Detector) Check(ctx context.Context, msg domain.RawMessage) (res domain.DuplicateDetectionResult) {
	if d.fp != nil && d.fp.MatchesFingerprint(msg.Text) {
		return domain.DuplicateDetectionResult{
			Message:     msg,
			IsDuplicate: true,
			Confidence:  fingerprintConfidence,
			Reasoning:   "matches a ticket notification fingerprint",
			Rule:        domain.RuleFingerprint,
		}
	}

	defer func() {
		if r := recover(); r != nil {
			res = failOpen(msg, fmt.Errorf("panic: %v", r))
		}
	}()

	existing, err := d.store.FindByCorrelation(ctx, msg.CorrelationID())
	if err != nil {
		return failOpen(msg, fmt.Errorf("correlation lookup: %w", err))
	}
	if existing != nil {
		return domain.DuplicateDetectionResult{
			Message:        msg,
			IsDuplicate:    true,
			Confidence:     1.0,
			Reasoning:      fmt.Sprintf("message already linked to ticket %s", existing.Number),
			Rule:           domain.RuleCorrelation,
			ExistingTicket: existing,
		}
	}

	candidates, err := d.store.Recent(ctx, d.now().Add(-d.cfg.Window), d.cfg.MaxCandidates)
	if err != nil {
		return failOpen(msg, fmt.Errorf("recent tickets: %w", err))
	}
	candidates = newestFirst(candidates, d.cfg.MaxCandidates)
	if len(candidates) == 0 {
		return uniqueResult(msg)
	}

	if d.cfg.Semantic && d.oracle != nil {
		if sem, ok := d.semantic(ctx, msg, candidates); ok {
			return sem
		}
	}
	return lexical(msg, candidates)
}

func (d *Detector) semantic(ctx context.Context, msg domain.RawMessage, candidates []domain.Ticket) (domain.DuplicateDetectionResult, bool) {
	v, err := d.oracle.MatchDuplicate(ctx, msg.Text, candidates)
	if err != nil {
		if !errors.Is(err, oracle.ErrUnsupported) {
			log.Printf("dedup: semantic check failed msg=%s oracle=%s: %v", msg.ID, d.oracle.Name(), err)
		}
		return domain.DuplicateDetectionResult{}, false
	}
	res := domain.DuplicateDetectionResult{
		Message:     msg,
		IsDuplicate: v.IsDuplicate,
		Confidence:  clamp01(v.Confidence),
		Reasoning:   v.Reasoning,
		Rule:        domain.RuleSemantic,
	}
	if v.IsDuplicate {
		for _, c := range candidates {
			if v.TicketNumber == "" || c.Number == v.TicketNumber {
				res.SimilarTickets = append(res.SimilarTickets, domain.SimilarTicket{
					Number:     c.Number,
					Title:      c.Title,
					Similarity: clamp01(v.SimilarityScore),
				})
			}
			if v.TicketNumber != "" && c.Number == v.TicketNumber {
				break
			}
		}
	}
	return res, true
}

func lexical(msg domain.RawMessage, candidates []domain.Ticket) domain.DuplicateDetectionResult {
	msgTokens := tokenSet(msg.Text)
	var similar []domain.SimilarTicket
	for _, c := range candidates {
		text := c.Description
		if strings.TrimSpace(text) == "" {
			text = c.Title
		}
		common, overlap := Overlap(msgTokens, tokenSet(text))
		if common >= minCommonTokens && overlap > overlapThreshold {
			similar = append(similar, domain.SimilarTicket{Number: c.Number, Title: c.Title, Similarity: overlap})
		}
	}
	if len(similar) == 0 {
		return uniqueResult(msg)
	}
	sort.SliceStable(similar, func(i, j int) bool { return similar[i].Similarity > similar[j].Similarity })
	best := similar[0]
	return domain.DuplicateDetectionResult{
		Message:        msg,
		IsDuplicate:    true,
		Confidence:     best.Similarity,
		Reasoning:      fmt.Sprintf("similar to ticket %s (similarity: %.2f)", best.Number, best.Similarity),
		Rule:           domain.RuleLexical,
		SimilarTickets: similar,
	}
}

// Overlap returns the common token count and |common| / max(|a|, |b|).
func Overlap(a, b map[string]struct{}) (int, float64) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0
	}
	common := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			common++
		}
	}
	denom := len(a)
	if len(b) > denom {
		denom = len(b)
	}
	return common, float64(common) / float64(denom)
}

func tokenSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		out[tok] = struct{}{}
	}
	return out
}

func newestFirst(tickets []domain.Ticket, limit int) []domain.Ticket {
	out := append([]domain.Ticket(nil), tickets...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func uniqueResult(msg domain.RawMessage) domain.DuplicateDetectionResult {
	return domain.DuplicateDetectionResult{
		Message:    msg,
		Confidence: uniqueConfidence,
		Reasoning:  "no similar tickets found in recent history",
		Rule:       domain.RuleNone,
	}
}

func failOpen(msg domain.RawMessage, err error) domain.DuplicateDetectionResult {
	log.Printf("dedup: treating msg=%s as unique after error: %v", msg.ID, err)
	return domain.DuplicateDetectionResult{
		Message:    msg,
		Confidence: 0,
		Reasoning:  fmt.Sprintf("duplicate check failed: %v", err),
		Rule:       domain.RuleFailOpen,
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
