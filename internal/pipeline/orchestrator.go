// Package pipeline turns chat messages into support tickets.
//
// A run walks seven fixed stages: fetch, deduplicate, classify, summarize,
// categorize, create_ticket and notify. Stage failures are recorded on the
// run and never abort it. Ticket creation is idempotent per originating
// message id: the link cache, the ticket store lookup, an in-process
// singleflight and a creation claim all guard against a second ticket.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/claim"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/notify"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/oracle"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/ref"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/ticket"
)

const (
	DefaultLookback            = 24 * time.Hour
	DefaultConfidenceThreshold = 0.5
)

type Source interface {
	Fetch(ctx context.Context, since time.Time) ([]domain.RawMessage, error)
}

type MessageFilter interface {
	Filter(messages []domain.RawMessage) []domain.RawMessage
}

type DuplicateDetector interface {
	Partition(ctx context.Context, msgs []domain.RawMessage) ([]domain.RawMessage, []domain.DuplicateDetectionResult)
}

type Notifier interface {
	Notify(ctx context.Context, target ref.Ref, text, originalMessageID string) bool
}

// Recorder keeps an audit trail of finished runs. Optional.
type Recorder interface {
	RecordRun(ctx context.Context, s domain.RunSummary) error
}

type Deps struct {
	Source    Source
	Filter    MessageFilter
	Detector  DuplicateDetector
	Oracle    oracle.Oracle
	Store     ticket.Store
	Directory ticket.Directory // nil when the store has no directory
	Claims    claim.Claimer
	Notifier  Notifier
	Recorder  Recorder
	Links     *LinkCache
}

type Config struct {
	Lookback            time.Duration
	ConfidenceThreshold float64
	ClaimTTL            time.Duration
	// RequireMention drops messages that do not address the bot before
	// any other stage sees them. A message addresses the bot when its
	// adapter flagged a mention or its text contains one of MentionMarkers.
	RequireMention bool
	MentionMarkers []string
}

type Orchestrator struct {
	deps   Deps
	cfg    Config
	flight singleflight.Group
	now    func() time.Time
}

var errClaimedElsewhere = errors.New("creation claimed by another worker")

func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = claim.DefaultTTL
	}
	if deps.Links == nil {
		deps.Links = NewLinkCache()
	}
	if deps.Claims == nil {
		deps.Claims = claim.NewMemory()
	}
	return &Orchestrator{deps: deps, cfg: cfg, now: time.Now}
}

func (o *Orchestrator) Links() *LinkCache {
	return o.deps.Links
}

// Run fetches messages from the source and processes them.
func (o *Orchestrator) Run(ctx context.Context, trigger string) *Run {
	return o.execute(ctx, trigger, nil, false)
}

// RunMessages processes pushed messages instead of fetching.
func (o *Orchestrator) RunMessages(ctx context.Context, trigger string, msgs []domain.RawMessage) *Run {
	return o.execute(ctx, trigger, msgs, true)
}

// LookupLink reports the ticket already linked to a message, checking the
// cache first and then the store.
func (o *Orchestrator) LookupLink(ctx context.Context, messageID string) (domain.CorrelationLink, bool, error) {
	if l, ok := o.deps.Links.Get(messageID); ok {
		return l, true, nil
	}
	t, err := o.deps.Store.FindByCorrelation(ctx, messageID)
	if err != nil {
		return domain.CorrelationLink{}, false, err
	}
	if t == nil {
		return domain.CorrelationLink{}, false, nil
	}
	l := domain.CorrelationLink{MessageID: messageID, TicketNumber: t.Number, TicketID: t.StoreID, LinkedAt: o.now()}
	o.deps.Links.Put(l)
	return l, true, nil
}

func (o *Orchestrator) execute(ctx context.Context, trigger string, pushed []domain.RawMessage, isPush bool) *Run {
	run := &Run{ID: uuid.NewString(), Trigger: trigger, StartedAt: o.now()}
	log.Printf("pipeline: run=%s trigger=%s started", run.ID, trigger)

	o.stage(run, StageFetch, func() error {
		if isPush {
			run.Messages = append(run.Messages, pushed...)
			return nil
		}
		msgs, err := o.deps.Source.Fetch(ctx, o.now().Add(-o.cfg.Lookback))
		run.Messages = msgs
		return err
	})
	o.stage(run, StageDeduplicate, func() error { return o.deduplicate(ctx, run) })
	o.stage(run, StageClassify, func() error { return o.classify(ctx, run) })
	o.stage(run, StageSummarize, func() error { return o.summarize(ctx, run) })
	o.stage(run, StageCategorize, func() error { return o.categorize(ctx, run) })
	o.stage(run, StageCreateTicket, func() error { return o.createTickets(ctx, run) })
	o.stage(run, StageNotify, func() error { return o.notify(ctx, run) })

	run.CurrentStage = StageDone
	run.FinishedAt = o.now()
	s := run.Summary()
	log.Printf("pipeline: run=%s done messages=%d duplicates=%d unique=%d classified=%d linked=%d created=%d notified=%d errors=%d took=%s",
		run.ID, s.Messages, s.Duplicates, s.Unique, s.Classified, s.TicketsLinked, s.TicketsCreated, s.Notified, len(s.Errors), s.Duration().Round(time.Millisecond))
	for _, e := range run.Errors {
		log.Printf("pipeline: run=%s error: %s", run.ID, e)
	}
	if o.deps.Recorder != nil {
		if err := o.deps.Recorder.RecordRun(context.WithoutCancel(ctx), s); err != nil {
			log.Printf("pipeline: run=%s record failed: %v", run.ID, err)
		}
	}
	return run
}

func (o *Orchestrator) stage(run *Run, name Stage, fn func() error) {
	run.CurrentStage = name
	defer func() {
		if r := recover(); r != nil {
			run.fail(name, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := fn(); err != nil {
		run.fail(name, err)
	}
}

func (o *Orchestrator) deduplicate(ctx context.Context, run *Run) error {
	if len(run.Messages) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(run.Messages))
	var distinct []domain.RawMessage
	for _, m := range run.Messages {
		if m.ID == "" || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		distinct = append(distinct, m)
	}
	addressed := distinct
	if o.cfg.RequireMention {
		addressed = nil
		for _, m := range distinct {
			if o.addressesBot(m) {
				addressed = append(addressed, m)
			}
		}
	}
	kept := addressed
	if o.deps.Filter != nil {
		kept = o.deps.Filter.Filter(addressed)
	}
	unique, dups := o.deps.Detector.Partition(ctx, kept)
	for _, d := range dups {
		if d.ExistingTicket != nil {
			o.deps.Links.Put(linkFor(d.Message, *d.ExistingTicket, o.now()))
		}
	}
	run.Duplicates = dups
	run.UniqueMessages = unique
	log.Printf("pipeline: run=%s deduplicate in=%d unaddressed=%d filtered=%d duplicates=%d unique=%d",
		run.ID, len(run.Messages), len(distinct)-len(addressed), len(addressed)-len(kept), len(dups), len(unique))
	return nil
}

func (o *Orchestrator) addressesBot(m domain.RawMessage) bool {
	if m.Mentioned {
		return true
	}
	lower := strings.ToLower(m.Text)
	for _, marker := range o.cfg.MentionMarkers {
		marker = strings.ToLower(strings.TrimSpace(marker))
		if marker != "" && strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) classify(ctx context.Context, run *Run) error {
	if len(run.UniqueMessages) == 0 {
		return nil
	}
	var errs stageErrors
	for _, m := range run.UniqueMessages {
		v, err := o.deps.Oracle.Classify(ctx, m)
		errs.add(err)
		if err != nil {
			continue
		}
		c := domain.Classification{Message: m, IsRequest: v.IsRequest, Confidence: v.Confidence, Reason: v.Reason}
		if v.IsRequest && v.Confidence >= o.cfg.ConfidenceThreshold {
			run.Classified = append(run.Classified, c)
		} else {
			run.NotRequests = append(run.NotRequests, c)
		}
	}
	log.Printf("pipeline: run=%s classify requests=%d not_requests=%d", run.ID, len(run.Classified), len(run.NotRequests))
	return errs.err()
}

func (o *Orchestrator) summarize(ctx context.Context, run *Run) error {
	if len(run.Classified) == 0 {
		return nil
	}
	var errs stageErrors
	for _, c := range run.Classified {
		s, err := o.deps.Oracle.Summarize(ctx, c.Message)
		errs.add(err)
		if err != nil {
			continue
		}
		s.Message = c.Message
		run.Summarized = append(run.Summarized, s)
	}
	return errs.err()
}

func (o *Orchestrator) categorize(ctx context.Context, run *Run) error {
	if len(run.Summarized) == 0 {
		return nil
	}
	var errs stageErrors
	for _, s := range run.Summarized {
		c, err := o.deps.Oracle.Categorize(ctx, s)
		errs.add(err)
		if err != nil {
			continue
		}
		c.Summary = s
		run.Categorized = append(run.Categorized, c)
	}
	return errs.err()
}

func (o *Orchestrator) createTickets(ctx context.Context, run *Run) error {
	if len(run.Categorized) == 0 {
		return nil
	}
	var errs stageErrors
	for _, c := range run.Categorized {
		lt, err := o.ensureTicket(ctx, run.ID, c)
		if errors.Is(err, errClaimedElsewhere) {
			log.Printf("pipeline: run=%s msg=%s creation in progress elsewhere, skipping", run.ID, c.Summary.Message.ID)
			continue
		}
		errs.add(err)
		if err != nil {
			continue
		}
		run.link(lt)
		l := linkFor(lt.Message, lt.Ticket, o.now())
		run.CorrelationLinks = append(run.CorrelationLinks, l)
	}
	log.Printf("pipeline: run=%s create_ticket linked=%d created=%d", run.ID, len(run.CreatedTickets), len(run.NewlyCreatedTickets))
	return errs.err()
}

type creation struct {
	ticket    domain.Ticket
	createdBy string // run id that created the ticket; empty when found
}

func (o *Orchestrator) ensureTicket(ctx context.Context, runID string, c domain.Category) (LinkedTicket, error) {
	msg := c.Summary.Message
	corr := msg.CorrelationID()
	lt := LinkedTicket{Message: msg, Category: c}

	if l, ok := o.deps.Links.Get(corr); ok {
		lt.Ticket = domain.Ticket{Number: l.TicketNumber, StoreID: l.TicketID, CorrelationID: corr}
		return lt, nil
	}

	v, err, _ := o.flight.Do(corr, func() (any, error) {
		return o.createOnce(ctx, runID, c)
	})
	if err != nil {
		return lt, err
	}
	res := v.(creation)
	lt.Ticket = res.ticket
	lt.Created = res.createdBy == runID
	o.deps.Links.Put(linkFor(msg, res.ticket, o.now()))
	return lt, nil
}

func (o *Orchestrator) createOnce(ctx context.Context, runID string, c domain.Category) (creation, error) {
	msg := c.Summary.Message
	corr := msg.CorrelationID()

	existing, err := o.deps.Store.FindByCorrelation(ctx, corr)
	if err != nil {
		return creation{}, fmt.Errorf("find %s: %w", corr, err)
	}
	if existing != nil {
		return creation{ticket: *existing}, nil
	}

	claimed, err := o.deps.Claims.Claim(ctx, corr, o.cfg.ClaimTTL)
	if err != nil {
		log.Printf("pipeline: run=%s claim unavailable for %s, continuing: %v", runID, corr, err)
		claimed = true
	}
	if !claimed {
		if existing, err := o.deps.Store.FindByCorrelation(ctx, corr); err == nil && existing != nil {
			return creation{ticket: *existing}, nil
		}
		return creation{}, errClaimedElsewhere
	}

	fields := o.ticketFields(ctx, runID, c)
	t, err := o.deps.Store.Create(ctx, fields)
	if errors.Is(err, ticket.ErrDuplicateCorrelation) {
		existing, ferr := o.deps.Store.FindByCorrelation(ctx, corr)
		if ferr == nil && existing != nil {
			log.Printf("pipeline: run=%s reconciled %s to existing ticket %s", runID, corr, existing.Number)
			return creation{ticket: *existing}, nil
		}
	}
	if err != nil {
		if rerr := o.deps.Claims.Release(ctx, corr); rerr != nil {
			log.Printf("pipeline: run=%s release claim %s: %v", runID, corr, rerr)
		}
		return creation{}, fmt.Errorf("create for %s: %w", corr, err)
	}
	log.Printf("pipeline: run=%s created ticket=%s msg=%s category=%s priority=%s", runID, t.Number, corr, c.CategoryTag, c.PriorityTag)
	return creation{ticket: t, createdBy: runID}, nil
}

func (o *Orchestrator) ticketFields(ctx context.Context, runID string, c domain.Category) domain.TicketFields {
	s := c.Summary
	msg := s.Message
	f := domain.TicketFields{
		CorrelationID:   msg.CorrelationID(),
		Title:           oracle.Truncate(s.Title, domain.MaxTitleLen),
		Description:     s.Description,
		WorkNotes:       workNotes(runID, s),
		CategoryTag:     c.CategoryTag,
		Subcategory:     c.Subcategory,
		PriorityTag:     c.PriorityTag,
		UrgencyCode:     c.UrgencyCode,
		ImpactCode:      impactFor(c.PriorityTag),
		AssignmentGroup: c.AssignmentGroup,
	}
	if o.deps.Directory == nil {
		return f
	}
	a, err := o.deps.Directory.ResolveAssignment(ctx, ticket.Requester{Email: msg.SenderEmail, Name: msg.SenderName}, c.AssignmentGroup)
	if err != nil {
		log.Printf("pipeline: run=%s directory lookup for %s incomplete: %v", runID, msg.ID, err)
	}
	f.CallerID = a.CallerID
	if a.AssignmentGroup != "" {
		f.AssignmentGroup = a.AssignmentGroup
	}
	f.AssignedTo = a.AssignedTo
	return f
}

// workNotes holds the ticket context kept out of the description, which is
// the summary text alone.
func workNotes(runID string, s domain.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Created from chat message %s (run %s).", s.Message.ID, runID)
	if s.ProblemStatement != "" && s.ProblemStatement != s.Description {
		fmt.Fprintf(&b, "\nProblem: %s", s.ProblemStatement)
	}
	if s.UserImpact != "" {
		fmt.Fprintf(&b, "\nImpact: %s", s.UserImpact)
	}
	if s.UrgencyLabel != "" {
		fmt.Fprintf(&b, "\nUrgency: %s", s.UrgencyLabel)
	}
	reporter := s.Message.SenderName
	if s.Message.SenderEmail != "" {
		reporter = fmt.Sprintf("%s <%s>", reporter, s.Message.SenderEmail)
	}
	if strings.TrimSpace(reporter) != "" {
		fmt.Fprintf(&b, "\nReported by: %s", strings.TrimSpace(reporter))
	}
	return b.String()
}

func impactFor(p domain.PriorityTag) string {
	switch p {
	case domain.PriorityCritical:
		return "1"
	case domain.PriorityHigh:
		return "2"
	default:
		return "3"
	}
}

func (o *Orchestrator) notify(ctx context.Context, run *Run) error {
	if len(run.NewlyCreatedTickets) == 0 || o.deps.Notifier == nil {
		return nil
	}
	undelivered := 0
	for _, lt := range run.NewlyCreatedTickets {
		target := TargetFor(lt.Message)
		ok := o.deps.Notifier.Notify(ctx, target, notify.TicketCreated(lt.Ticket), lt.Message.ID)
		run.NotificationsSent = append(run.NotificationsSent, Notification{
			TicketNumber: lt.Ticket.Number,
			MessageID:    lt.Message.ID,
			Delivered:    ok,
		})
		if !ok {
			undelivered++
		}
	}
	if undelivered > 0 {
		return fmt.Errorf("%d of %d confirmations undelivered", undelivered, len(run.NewlyCreatedTickets))
	}
	return nil
}

// TargetFor builds the conversation reference a reply to msg should go to.
func TargetFor(msg domain.RawMessage) ref.Ref {
	base := ref.Parse(msg.SpaceRef)
	if base.Space == "" {
		base = ref.Parse(msg.ID)
		base.Message = ""
		base.Thread = ""
	}
	if msg.ThreadRef == "" {
		return base
	}
	t := ref.ParseIn(base, msg.ThreadRef)
	if t.Thread == "" && t.Message != "" {
		// bare thread id
		t.Thread, t.Message = t.Message, ""
	}
	return t
}

func linkFor(msg domain.RawMessage, t domain.Ticket, now time.Time) domain.CorrelationLink {
	return domain.CorrelationLink{
		MessageID:    msg.ID,
		TicketNumber: t.Number,
		TicketID:     t.StoreID,
		SpaceRef:     msg.SpaceRef,
		ThreadRef:    msg.ThreadRef,
		LinkedAt:     now,
	}
}
