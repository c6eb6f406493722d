package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/claim"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/dedup"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/oracle"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/prefilter"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/ref"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/ticket"
)

type staticSource struct {
	msgs []domain.RawMessage
	err  error
}

func (s *staticSource) Fetch(context.Context, time.Time) ([]domain.RawMessage, error) {
	return s.msgs, s.err
}

type spyOracle struct {
	oracle.Rules
	classifyCalls  int32
	classifyErr    error
	summarizePanic bool
}

func (o *spyOracle) Classify(ctx context.Context, m domain.RawMessage) (oracle.Verdict, error) {
	atomic.AddInt32(&o.classifyCalls, 1)
	if o.classifyErr != nil {
		return oracle.Verdict{}, o.classifyErr
	}
	return o.Rules.Classify(ctx, m)
}

func (o *spyOracle) Summarize(ctx context.Context, m domain.RawMessage) (domain.Summary, error) {
	if o.summarizePanic {
		panic("model client nil")
	}
	return o.Rules.Summarize(ctx, m)
}

type recordingNotifier struct {
	mu      sync.Mutex
	calls   []string
	targets []ref.Ref
	fail    bool
}

func (n *recordingNotifier) Notify(_ context.Context, target ref.Ref, text, msgID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, msgID)
	n.targets = append(n.targets, target)
	return !n.fail
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type slowStore struct {
	*ticket.MemoryStore
	delay time.Duration
}

func (s *slowStore) Create(ctx context.Context, f domain.TicketFields) (domain.Ticket, error) {
	time.Sleep(s.delay)
	return s.MemoryStore.Create(ctx, f)
}

// staleStore hides existing tickets from the first lookups, like a replica
// that has not caught up with another worker's write.
type staleStore struct {
	*ticket.MemoryStore
	staleLookups int32
}

func (s *staleStore) FindByCorrelation(ctx context.Context, id string) (*domain.Ticket, error) {
	if atomic.AddInt32(&s.staleLookups, -1) >= 0 {
		return nil, nil
	}
	return s.MemoryStore.FindByCorrelation(ctx, id)
}

type captureStore struct {
	*ticket.MemoryStore
	fields []domain.TicketFields
}

func (s *captureStore) Create(ctx context.Context, f domain.TicketFields) (domain.Ticket, error) {
	s.fields = append(s.fields, f)
	return s.MemoryStore.Create(ctx, f)
}

type fakeDirectory struct{}

func (fakeDirectory) ResolveAssignment(_ context.Context, who ticket.Requester, group string) (ticket.Assignment, error) {
	return ticket.Assignment{CallerID: "caller-" + who.Email, AssignmentGroup: "grp-" + group, AssignedTo: "agent-1"}, nil
}

type memRecorder struct {
	runs []domain.RunSummary
}

func (r *memRecorder) RecordRun(_ context.Context, s domain.RunSummary) error {
	r.runs = append(r.runs, s)
	return nil
}

type harness struct {
	orch     *Orchestrator
	oracle   *spyOracle
	notifier *recordingNotifier
	source   *staticSource
}

func newHarness(store ticket.Store, msgs ...domain.RawMessage) *harness {
	filter := prefilter.New(prefilter.Rules{})
	o := &spyOracle{Rules: oracle.Rules{Echo: filter.MatchesFingerprint}}
	n := &recordingNotifier{}
	src := &staticSource{msgs: msgs}
	orch := New(Deps{
		Source:   src,
		Filter:   filter,
		Detector: dedup.New(store, o, filter, dedup.Config{}),
		Oracle:   o,
		Store:    store,
		Notifier: n,
	}, Config{})
	return &harness{orch: orch, oracle: o, notifier: n, source: src}
}

func wifiMessage() domain.RawMessage {
	return domain.RawMessage{
		ID:         "spaces/AAA/messages/T1.T1",
		ThreadRef:  "spaces/AAA/threads/T1",
		SpaceRef:   "spaces/AAA",
		SenderID:   "users/1001",
		SenderName: "Priya",
		Text:       "WiFi keeps disconnecting every few minutes",
		CreatedAt:  time.Now().Add(-time.Minute),
	}
}

func TestWiFiScenarioCreatesOneNetworkTicket(t *testing.T) {
	store := ticket.NewMemoryStore()
	h := newHarness(store, wifiMessage())

	run := h.orch.Run(context.Background(), TriggerSchedule)

	assert.Empty(t, run.Errors)
	assert.Equal(t, StageDone, run.CurrentStage)
	require.Len(t, run.NewlyCreatedTickets, 1)
	assert.Equal(t, domain.CategoryNetwork, run.NewlyCreatedTickets[0].Ticket.CategoryTag)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 1, h.notifier.count())
	assert.Equal(t, "spaces/AAA/threads/T1", h.notifier.targets[0].ThreadName())
	require.Len(t, run.CorrelationLinks, 1)
	assert.Equal(t, wifiMessage().ID, run.CorrelationLinks[0].MessageID)
}

func TestSelfLoopMessagesNeverReachClassification(t *testing.T) {
	store := ticket.NewMemoryStore()
	banner := domain.RawMessage{ID: "m1", SpaceRef: "spaces/AAA", SenderID: "users/9", SenderName: "Lee",
		Text: "🎫 *Support Ticket Created*\n\n*Ticket Number:* INC0000001\n*Status:* New"}
	fromBot := domain.RawMessage{ID: "m2", SpaceRef: "spaces/AAA", SenderID: "users/chat-bot", SenderName: "Support Ticket Automation",
		Text: "my laptop is broken and I need help"}
	h := newHarness(store, banner, fromBot)

	run := h.orch.Run(context.Background(), TriggerSchedule)

	assert.Zero(t, atomic.LoadInt32(&h.oracle.classifyCalls))
	assert.Zero(t, store.Len())
	assert.Empty(t, run.UniqueMessages)
	assert.Zero(t, h.notifier.count())
}

func TestUnaddressedMessagesNeverReachClassification(t *testing.T) {
	store := ticket.NewMemoryStore()
	filter := prefilter.New(prefilter.Rules{})
	o := &spyOracle{}
	plain := wifiMessage()
	named := domain.RawMessage{ID: "spaces/AAA/messages/M2", SpaceRef: "spaces/AAA", SenderName: "Lee",
		Text: "@Support Ticket Automation printer is broken, need help"}
	flagged := domain.RawMessage{ID: "spaces/AAA/messages/M3", SpaceRef: "spaces/AAA", SenderName: "Sam",
		Text: "cannot login to the vpn, please help", Mentioned: true}
	orch := New(Deps{
		Source:   &staticSource{msgs: []domain.RawMessage{plain, named, flagged}},
		Filter:   filter,
		Detector: dedup.New(store, nil, filter, dedup.Config{}),
		Oracle:   o,
		Store:    store,
		Notifier: &recordingNotifier{},
	}, Config{RequireMention: true, MentionMarkers: []string{"@Support Ticket Automation"}})

	run := orch.Run(context.Background(), TriggerSchedule)

	assert.Empty(t, run.Errors)
	require.Len(t, run.UniqueMessages, 2)
	assert.Equal(t, named.ID, run.UniqueMessages[0].ID)
	assert.Equal(t, flagged.ID, run.UniqueMessages[1].ID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&o.classifyCalls))
	tk, err := store.FindByCorrelation(context.Background(), plain.ID)
	require.NoError(t, err)
	assert.Nil(t, tk)
}

func TestVerbatimRepeatFromAnotherUserIsDuplicate(t *testing.T) {
	store := ticket.NewMemoryStore()
	h := newHarness(store)
	first := domain.RawMessage{ID: "spaces/AAA/messages/P1", ThreadRef: "spaces/AAA/threads/P1", SpaceRef: "spaces/AAA",
		SenderID: "users/1001", SenderName: "Priya Raman", SenderEmail: "priya@corp.example", Text: "email not working help"}
	second := domain.RawMessage{ID: "spaces/AAA/messages/B1", ThreadRef: "spaces/AAA/threads/B1", SpaceRef: "spaces/AAA",
		SenderID: "users/1002", SenderName: "Bob", Text: "email not working help"}

	r1 := h.orch.RunMessages(context.Background(), TriggerWebhook, []domain.RawMessage{first})
	r2 := h.orch.RunMessages(context.Background(), TriggerWebhook, []domain.RawMessage{second})

	require.Len(t, r1.NewlyCreatedTickets, 1)
	assert.Equal(t, "email not working help", r1.NewlyCreatedTickets[0].Ticket.Description)
	assert.Empty(t, r2.NewlyCreatedTickets)
	require.Len(t, r2.Duplicates, 1)
	assert.Equal(t, domain.RuleLexical, r2.Duplicates[0].Rule)
	assert.InDelta(t, 1.0, r2.Duplicates[0].Confidence, 1e-9)
	assert.Equal(t, 1, store.Len())
}

func TestClassifyFailureIsFailOpen(t *testing.T) {
	store := ticket.NewMemoryStore()
	msgs := []domain.RawMessage{wifiMessage(), {ID: "m2", SpaceRef: "spaces/AAA", Text: "printer is broken"}, {ID: "m3", SpaceRef: "spaces/AAA", Text: "cannot login"}}
	h := newHarness(store, msgs...)
	h.oracle.classifyErr = errors.New("model unavailable")

	var run *Run
	require.NotPanics(t, func() { run = h.orch.Run(context.Background(), TriggerSchedule) })

	assert.Equal(t, StageDone, run.CurrentStage)
	assert.Empty(t, run.Classified)
	require.Len(t, run.Errors, 1)
	assert.True(t, strings.HasPrefix(run.Errors[0], "classify: "), run.Errors[0])
	assert.Contains(t, run.Errors[0], "3 of 3")
	assert.Zero(t, store.Len())
}

func TestStagePanicIsRecorded(t *testing.T) {
	h := newHarness(ticket.NewMemoryStore(), wifiMessage())
	h.oracle.summarizePanic = true

	run := h.orch.Run(context.Background(), TriggerSchedule)

	require.Len(t, run.Errors, 1)
	assert.Contains(t, run.Errors[0], "summarize: panic: model client nil")
	assert.Len(t, run.Classified, 1)
	assert.Empty(t, run.Summarized)
	assert.Equal(t, StageDone, run.CurrentStage)
}

func TestFetchErrorStillCompletes(t *testing.T) {
	h := newHarness(ticket.NewMemoryStore())
	h.source.err = errors.New("401 unauthorized")

	run := h.orch.Run(context.Background(), TriggerSchedule)

	require.Len(t, run.Errors, 1)
	assert.Equal(t, "fetch: 401 unauthorized", run.Errors[0])
	assert.Equal(t, StageDone, run.CurrentStage)
}

func TestRepeatedRunsCreateOneTicket(t *testing.T) {
	store := ticket.NewMemoryStore()
	h := newHarness(store, wifiMessage())

	first := h.orch.Run(context.Background(), TriggerSchedule)
	second := h.orch.Run(context.Background(), TriggerSchedule)
	third := h.orch.RunMessages(context.Background(), TriggerWebhook, []domain.RawMessage{wifiMessage()})

	assert.Len(t, first.NewlyCreatedTickets, 1)
	assert.Empty(t, second.NewlyCreatedTickets)
	assert.Empty(t, third.NewlyCreatedTickets)
	assert.Len(t, second.Duplicates, 1)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 1, store.CreateCalls())
	assert.Equal(t, 1, h.notifier.count())
}

func TestConcurrentRunsCreateOnce(t *testing.T) {
	store := &slowStore{MemoryStore: ticket.NewMemoryStore(), delay: 50 * time.Millisecond}
	h := newHarness(store, wifiMessage())

	var wg sync.WaitGroup
	runs := make([]*Run, 8)
	for i := range runs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				runs[i] = h.orch.Run(context.Background(), TriggerSchedule)
			} else {
				runs[i] = h.orch.RunMessages(context.Background(), TriggerWebhook, []domain.RawMessage{wifiMessage()})
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, store.CreateCalls())
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 1, h.notifier.count())
	created := 0
	number := ""
	for _, r := range runs {
		created += len(r.NewlyCreatedTickets)
		for _, lt := range r.CreatedTickets {
			if number == "" {
				number = lt.Ticket.Number
			}
			assert.Equal(t, number, lt.Ticket.Number, "all runs must reference the same ticket")
		}
	}
	assert.Equal(t, 1, created)
}

func TestCreateConflictReconcilesToExistingTicket(t *testing.T) {
	mem := ticket.NewMemoryStore()
	msg := wifiMessage()
	mem.Seed(domain.Ticket{StoreID: "99", Number: "INC0000099", CorrelationID: msg.ID, CreatedAt: time.Now().Add(-48 * time.Hour)})
	store := &staleStore{MemoryStore: mem, staleLookups: 2}
	h := newHarness(store, msg)

	run := h.orch.Run(context.Background(), TriggerSchedule)

	assert.Empty(t, run.Errors)
	require.Len(t, run.CreatedTickets, 1)
	assert.Equal(t, "INC0000099", run.CreatedTickets[0].Ticket.Number)
	assert.Empty(t, run.NewlyCreatedTickets)
	assert.Zero(t, h.notifier.count())
	l, ok := h.orch.Links().Get(msg.ID)
	require.True(t, ok)
	assert.Equal(t, "INC0000099", l.TicketNumber)
}

func TestClaimHeldElsewhereSkipsCreation(t *testing.T) {
	store := ticket.NewMemoryStore()
	claims := claim.NewMemory()
	msg := wifiMessage()
	ok, _ := claims.Claim(context.Background(), msg.ID, time.Minute)
	require.True(t, ok)

	filter := prefilter.New(prefilter.Rules{})
	n := &recordingNotifier{}
	orch := New(Deps{
		Source:   &staticSource{msgs: []domain.RawMessage{msg}},
		Filter:   filter,
		Detector: dedup.New(store, nil, filter, dedup.Config{}),
		Oracle:   &oracle.Rules{},
		Store:    store,
		Claims:   claims,
		Notifier: n,
	}, Config{})

	run := orch.Run(context.Background(), TriggerSchedule)

	assert.Empty(t, run.Errors)
	assert.Empty(t, run.CreatedTickets)
	assert.Zero(t, store.CreateCalls())
	assert.Zero(t, n.count())
}

func TestDirectoryFieldsAndRecorder(t *testing.T) {
	store := &captureStore{MemoryStore: ticket.NewMemoryStore()}
	filter := prefilter.New(prefilter.Rules{})
	rec := &memRecorder{}
	msg := wifiMessage()
	msg.SenderEmail = "priya@example.com"
	orch := New(Deps{
		Source:    &staticSource{msgs: []domain.RawMessage{msg}},
		Filter:    filter,
		Detector:  dedup.New(store, nil, filter, dedup.Config{}),
		Oracle:    &oracle.Rules{},
		Store:     store,
		Directory: fakeDirectory{},
		Notifier:  &recordingNotifier{},
		Recorder:  rec,
	}, Config{})

	orch.Run(context.Background(), TriggerManual)

	require.Len(t, store.fields, 1)
	f := store.fields[0]
	assert.Equal(t, msg.ID, f.CorrelationID)
	assert.Equal(t, "caller-priya@example.com", f.CallerID)
	assert.Equal(t, "grp-IT Network Support", f.AssignmentGroup)
	assert.Equal(t, "agent-1", f.AssignedTo)
	assert.Equal(t, "WiFi keeps disconnecting every few minutes", f.Description)
	assert.Contains(t, f.WorkNotes, "Reported by: Priya <priya@example.com>")
	assert.Contains(t, f.WorkNotes, "Created from chat message "+msg.ID)

	require.Len(t, rec.runs, 1)
	assert.Equal(t, TriggerManual, rec.runs[0].Trigger)
	assert.Equal(t, 1, rec.runs[0].TicketsCreated)
	assert.Equal(t, 1, rec.runs[0].Notified)
}

func TestUndeliveredNotificationIsRecordedNotRetried(t *testing.T) {
	store := ticket.NewMemoryStore()
	h := newHarness(store, wifiMessage())
	h.notifier.fail = true

	first := h.orch.Run(context.Background(), TriggerSchedule)
	second := h.orch.Run(context.Background(), TriggerSchedule)

	require.Len(t, first.Errors, 1)
	assert.Equal(t, "notify: 1 of 1 confirmations undelivered", first.Errors[0])
	require.Len(t, first.NotificationsSent, 1)
	assert.False(t, first.NotificationsSent[0].Delivered)
	assert.Empty(t, second.NotificationsSent)
	assert.Equal(t, 1, h.notifier.count())
}

func TestLookupLinkFallsBackToStore(t *testing.T) {
	store := ticket.NewMemoryStore()
	store.Seed(domain.Ticket{StoreID: "5", Number: "INC5", CorrelationID: "m-5"})
	h := newHarness(store)

	l, ok, err := h.orch.LookupLink(context.Background(), "m-5")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "INC5", l.TicketNumber)
	_, cached := h.orch.Links().Get("m-5")
	assert.True(t, cached)

	_, ok, err = h.orch.LookupLink(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTargetFor(t *testing.T) {
	tests := []struct {
		name string
		msg  domain.RawMessage
		want string
	}{
		{"full thread", domain.RawMessage{SpaceRef: "spaces/A", ThreadRef: "spaces/A/threads/T"}, "spaces/A/threads/T"},
		{"relative thread", domain.RawMessage{SpaceRef: "spaces/A", ThreadRef: "threads/T"}, "spaces/A/threads/T"},
		{"bare thread", domain.RawMessage{SpaceRef: "spaces/A", ThreadRef: "T"}, "spaces/A/threads/T"},
		{"space from message id", domain.RawMessage{ID: "spaces/B/messages/X.Y"}, "spaces/B"},
		{"slack channel", domain.RawMessage{SpaceRef: "channels/C1", ThreadRef: "channels/C1/threads/1712.0001"}, "channels/C1/threads/1712.0001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TargetFor(tt.msg).String())
		})
	}
}

func TestLinkCachePruneAndByTicket(t *testing.T) {
	c := NewLinkCache()
	old := time.Now().Add(-100 * time.Hour)
	c.Put(domain.CorrelationLink{MessageID: "m1", TicketNumber: "INC1", LinkedAt: old})
	c.Put(domain.CorrelationLink{MessageID: "m2", TicketNumber: "INC2"})

	l, ok := c.ByTicket("INC2")
	require.True(t, ok)
	assert.Equal(t, "m2", l.MessageID)

	assert.Equal(t, 1, c.Prune(time.Now().Add(-72*time.Hour)))
	_, ok = c.ByTicket("INC1")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}
