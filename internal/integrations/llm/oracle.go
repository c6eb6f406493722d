// Package llm is the model-backed classification oracle. Calls are paced by
// a token-bucket limiter and capped by a concurrency semaphore; unparseable
// answers degrade to fixed fallbacks instead of failing the pipeline stage.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/oracle"
)

type Oracle struct {
	provider string
	llm      completer
	sem      *semaphore.Weighted
	limiter  *rate.Limiter
	echo     func(text string) bool

	mu    sync.Mutex
	usage LLMUsage
}

type Option func(*options)

type options struct {
	baseURL string
	echo    func(text string) bool
}

// WithBaseURL points the provider client at another endpoint (proxies, tests).
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// WithEcho answers oracle.EchoVerdict, without a model call, for text that
// echo matches.
func WithEcho(echo func(text string) bool) Option {
	return func(o *options) { o.echo = echo }
}

func New(cfg Config, opts ...Option) (*Oracle, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	var c completer
	provider := cfg.LLMProvider
	if provider == "" {
		provider = "anthropic"
	}
	switch provider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("anthropic_api_key is required")
		}
		c = newAnthropic(cfg.AnthropicAPIKey, cfg.LLMModel, o.baseURL)
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai_api_key is required")
		}
		c = newOpenAI(cfg.OpenAIAPIKey, cfg.LLMModel, o.baseURL)
	default:
		return nil, fmt.Errorf("unsupported llm_provider %q", provider)
	}

	concurrency := cfg.LLMMaxConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	rpm := cfg.LLMRequestsPerMinute
	if rpm < 1 {
		rpm = 60
	}
	return &Oracle{
		provider: provider,
		llm:      c,
		sem:      semaphore.NewWeighted(int64(concurrency)),
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), concurrency),
		echo:     o.echo,
	}, nil
}

func (o *Oracle) Name() string { return "llm" }

// Usage reports tokens consumed since construction.
func (o *Oracle) Usage() LLMUsage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.usage
}

func (o *Oracle) call(ctx context.Context, op, systemPrompt, userPrompt string) (string, error) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer o.sem.Release(1)
	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm %s: rate limit wait: %w", op, err)
	}

	start := time.Now()
	text, usage, err := o.llm.complete(ctx, systemPrompt, userPrompt)
	o.mu.Lock()
	o.usage.Add(usage)
	o.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("llm %s: %w", op, err)
	}
	log.Printf("llm %s provider=%s took=%s tokens=%d", op, o.provider, time.Since(start).Round(time.Millisecond), usage.TotalTokens())
	return text, nil
}

type classifyResponse struct {
	IsSupportRequest *bool   `json:"is_support_request"`
	Confidence       float64 `json:"confidence"`
	Reasoning        string  `json:"reasoning"`
}

func (o *Oracle) Classify(ctx context.Context, msg domain.RawMessage) (oracle.Verdict, error) {
	if o.echo != nil && o.echo(msg.Text) {
		return oracle.EchoVerdict(), nil
	}
	text, err := o.call(ctx, "classify", classifySystemPrompt, buildClassifyPrompt(msg))
	if err != nil {
		return oracle.Verdict{}, err
	}
	var resp classifyResponse
	if err := decodeJSON(text, &resp); err != nil || resp.IsSupportRequest == nil {
		log.Printf("llm classify: unparseable response msg=%s, using fallback: %v", msg.ID, err)
		return oracle.Verdict{IsRequest: true, Confidence: 0.8, Reason: "fallback classification due to parsing error"}, nil
	}
	return oracle.Verdict{
		IsRequest:  *resp.IsSupportRequest,
		Confidence: clamp01(resp.Confidence),
		Reason:     resp.Reasoning,
	}, nil
}

type summaryResponse struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	ProblemStatement string `json:"problem_statement"`
	UserImpact       string `json:"user_impact"`
	UrgencyLevel     string `json:"urgency_level"`
}

func (o *Oracle) Summarize(ctx context.Context, msg domain.RawMessage) (domain.Summary, error) {
	text, err := o.call(ctx, "summarize", summarizeSystemPrompt, buildSummarizePrompt(msg))
	if err != nil {
		return domain.Summary{}, err
	}
	var resp summaryResponse
	if err := decodeJSON(text, &resp); err != nil {
		log.Printf("llm summarize: unparseable response msg=%s, using fallback: %v", msg.ID, err)
		return domain.Summary{
			Message:          msg,
			Title:            "Support Request",
			Description:      msg.Text,
			ProblemStatement: "Issue requires attention",
			UserImpact:       "User workflow affected",
			UrgencyLabel:     "Medium",
		}, nil
	}
	return domain.Summary{
		Message:          msg,
		Title:            oracle.Truncate(orDefault(resp.Title, "Support Request"), domain.MaxTitleLen),
		Description:      orDefault(resp.Description, msg.Text),
		ProblemStatement: orDefault(resp.ProblemStatement, "Problem not specified"),
		UserImpact:       orDefault(resp.UserImpact, "Impact not specified"),
		UrgencyLabel:     normalizeUrgencyLabel(resp.UrgencyLevel),
	}, nil
}

type categoryResponse struct {
	Category        string `json:"category"`
	Subcategory     string `json:"subcategory"`
	Priority        any    `json:"priority"`
	Urgency         any    `json:"urgency"`
	AssignmentGroup string `json:"assignment_group"`
}

func (o *Oracle) Categorize(ctx context.Context, s domain.Summary) (domain.Category, error) {
	text, err := o.call(ctx, "categorize", categorizeSystemPrompt, buildCategorizePrompt(s))
	if err != nil {
		return domain.Category{}, err
	}
	var resp categoryResponse
	if err := decodeJSON(text, &resp); err != nil {
		log.Printf("llm categorize: unparseable response msg=%s, using fallback: %v", s.Message.ID, err)
		return domain.Category{
			Summary:         s,
			CategoryTag:     domain.CategoryOther,
			PriorityTag:     domain.PriorityModerate,
			Subcategory:     "General",
			UrgencyCode:     "3",
			AssignmentGroup: "IT Support",
		}, nil
	}
	category := normalizeCategory(resp.Category)
	priorityRaw := scalarString(resp.Priority)
	return domain.Category{
		Summary:         s,
		CategoryTag:     category,
		PriorityTag:     domain.ParsePriorityTag(normalizeCode(priorityRaw, 5, priorityRaw)),
		Subcategory:     orDefault(resp.Subcategory, "General"),
		UrgencyCode:     normalizeCode(scalarString(resp.Urgency), 4, oracle.UrgencyCode(category)),
		AssignmentGroup: orDefault(resp.AssignmentGroup, oracle.AssignmentGroup(category)),
	}, nil
}

type duplicateResponse struct {
	IsDuplicate     *bool   `json:"is_duplicate"`
	Confidence      float64 `json:"confidence"`
	Reasoning       string  `json:"reasoning"`
	SimilarityScore float64 `json:"similarity_score"`
	TicketNumber    string  `json:"ticket_number"`
}

func (o *Oracle) MatchDuplicate(ctx context.Context, text string, candidates []domain.Ticket) (oracle.DuplicateVerdict, error) {
	if len(candidates) == 0 {
		return oracle.DuplicateVerdict{Confidence: 0.8, Reasoning: "no candidate tickets"}, nil
	}
	out, err := o.call(ctx, "duplicate", duplicateSystemPrompt, buildDuplicatePrompt(text, candidates))
	if err != nil {
		return oracle.DuplicateVerdict{}, err
	}
	var resp duplicateResponse
	if err := decodeJSON(out, &resp); err != nil {
		return oracle.DuplicateVerdict{}, fmt.Errorf("%w: %v", oracle.ErrUnparseable, err)
	}
	if resp.IsDuplicate == nil {
		return oracle.DuplicateVerdict{}, fmt.Errorf("%w: missing is_duplicate", oracle.ErrUnparseable)
	}
	return oracle.DuplicateVerdict{
		IsDuplicate:     *resp.IsDuplicate,
		Confidence:      clamp01(resp.Confidence),
		Reasoning:       resp.Reasoning,
		SimilarityScore: clamp01(resp.SimilarityScore),
		TicketNumber:    strings.TrimSpace(resp.TicketNumber),
	}, nil
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func decodeJSON(text string, v any) error {
	text = stripFences(text)
	if err := json.Unmarshal([]byte(text), v); err != nil {
		// Models sometimes wrap the object in prose.
		start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
		if start < 0 || end <= start {
			return err
		}
		return json.Unmarshal([]byte(text[start:end+1]), v)
	}
	return nil
}

func scalarString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return fmt.Sprintf("%d", int(x))
	default:
		return fmt.Sprint(x)
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return strings.TrimSpace(s)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
