package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
)

var supportKeywords = []string{
	"help", "support", "issue", "problem", "broken", "not working", "error",
	"fix", "assist", "trouble", "down", "crash", "fail", "cannot", "can't",
	"unable", "disconnect", "outage", "reset",
	"password", "login", "access", "email", "printer", "network", "internet", "wifi", "vpn",
	"software", "hardware", "computer", "laptop", "desktop", "server",
}

type keywordSet struct {
	category domain.CategoryTag
	keywords []string
}

// Order matters: ties go to the earlier entry.
var categoryKeywords = []keywordSet{
	{domain.CategoryHardware, []string{"hardware", "computer", "laptop", "desktop", "printer", "scanner", "keyboard", "mouse", "monitor", "screen"}},
	{domain.CategorySoftware, []string{"software", "application", "program", "app", "system", "update", "install", "uninstall"}},
	{domain.CategoryNetwork, []string{"network", "internet", "wifi", "wi-fi", "ethernet", "connection", "vpn", "firewall"}},
	{domain.CategoryAccess, []string{"access", "login", "password", "authentication", "permission", "account", "user"}},
	{domain.CategoryEmail, []string{"email", "outlook", "gmail", "mail", "inbox", "spam"}},
	{domain.CategoryPrinting, []string{"printer", "print", "scan", "copier", "fax"}},
	{domain.CategorySecurity, []string{"security", "virus", "malware", "firewall", "encryption", "breach", "phishing"}},
}

type priorityKeywords struct {
	priority domain.PriorityTag
	keywords []string
}

var priorityKeywordSets = []priorityKeywords{
	{domain.PriorityCritical, []string{"critical", "urgent", "emergency", "down", "broken", "crash", "fail", "cannot work"}},
	{domain.PriorityHigh, []string{"important", "blocking", "cannot", "can't", "not working", "issue"}},
	{domain.PriorityModerate, []string{"problem", "issue", "help", "support", "assist"}},
	{domain.PriorityLow, []string{"question", "inquiry", "information", "how to", "guide"}},
}

var urgencyByCategory = map[domain.CategoryTag]string{
	domain.CategoryHardware: "3",
	domain.CategorySoftware: "3",
	domain.CategoryNetwork:  "2",
	domain.CategoryAccess:   "2",
	domain.CategoryEmail:    "3",
	domain.CategoryPrinting: "4",
	domain.CategorySecurity: "1",
	domain.CategoryOther:    "3",
}

var groupByCategory = map[domain.CategoryTag]string{
	domain.CategoryHardware: "IT Hardware Support",
	domain.CategorySoftware: "IT Software Support",
	domain.CategoryNetwork:  "IT Network Support",
	domain.CategoryAccess:   "IT Access Management",
	domain.CategoryEmail:    "IT Email Support",
	domain.CategoryPrinting: "IT Hardware Support",
	domain.CategorySecurity: "IT Security Team",
	domain.CategoryOther:    "IT General Support",
}

// AssignmentGroup returns the default resolver group for a category.
func AssignmentGroup(c domain.CategoryTag) string {
	if g, ok := groupByCategory[c]; ok {
		return g
	}
	return groupByCategory[domain.CategoryOther]
}

// UrgencyCode returns the default urgency for a category.
func UrgencyCode(c domain.CategoryTag) string {
	if u, ok := urgencyByCategory[c]; ok {
		return u
	}
	return "3"
}

// Rules is the keyword oracle. It never calls out and never fails.
type Rules struct {
	// MentionMarkers are substrings that count as addressing the bot.
	// When RequireMention is set, messages with neither a marker nor an
	// adapter-flagged mention are not requests.
	MentionMarkers []string
	RequireMention bool
	// Echo reports text that is our own notification output.
	Echo func(text string) bool
}

var _ Oracle = (*Rules)(nil)

func (r *Rules) Name() string { return "rules" }

func (r *Rules) Classify(_ context.Context, msg domain.RawMessage) (Verdict, error) {
	if r.Echo != nil && r.Echo(msg.Text) {
		return EchoVerdict(), nil
	}
	if r.RequireMention && !msg.Mentioned && !r.mentioned(strings.ToLower(msg.Text)) {
		return Verdict{IsRequest: false, Confidence: 0, Reason: "message does not mention the bot"}, nil
	}
	lower := strings.ToLower(r.stripMentions(msg.Text))
	var found []string
	for _, kw := range supportKeywords {
		if strings.Contains(lower, kw) {
			found = append(found, kw)
		}
	}
	score := float64(len(found)) / 3.0
	if score > 1 {
		score = 1
	}
	if len(found) == 0 {
		return Verdict{IsRequest: false, Confidence: 0, Reason: "no support keywords"}, nil
	}
	return Verdict{
		IsRequest:  true,
		Confidence: score,
		Reason:     fmt.Sprintf("support keywords: %s", strings.Join(found, ", ")),
	}, nil
}

func (r *Rules) mentioned(lower string) bool {
	for _, m := range r.MentionMarkers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" && strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func (r *Rules) Summarize(_ context.Context, msg domain.RawMessage) (domain.Summary, error) {
	content := strings.TrimSpace(r.stripMentions(msg.Text))
	if content == "" {
		content = strings.TrimSpace(msg.Text)
	}
	title, _, _ := strings.Cut(content, ".")
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Support Request"
	}
	return domain.Summary{
		Message:          msg,
		Title:            Truncate(title, domain.MaxTitleLen),
		Description:      Truncate(content, 500),
		ProblemStatement: Truncate(content, 200),
		UserImpact:       "User requires assistance",
		UrgencyLabel:     "Medium",
	}, nil
}

func (r *Rules) stripMentions(text string) string {
	out := text
	for _, m := range r.MentionMarkers {
		if m == "" {
			continue
		}
		i := strings.Index(strings.ToLower(out), strings.ToLower(m))
		if i >= 0 && i+len(m) <= len(out) && strings.EqualFold(out[i:i+len(m)], m) {
			out = out[:i] + out[i+len(m):]
		}
	}
	return out
}

func (r *Rules) Categorize(_ context.Context, s domain.Summary) (domain.Category, error) {
	combined := strings.ToLower(s.Message.Text + " " + s.Description)

	category := domain.CategoryOther
	best := 0
	for _, set := range categoryKeywords {
		if n := countMatches(combined, set.keywords); n > best {
			best = n
			category = set.category
		}
	}

	priority := domain.PriorityModerate
	best = 0
	for _, set := range priorityKeywordSets {
		if n := countMatches(combined, set.keywords); n > best {
			best = n
			priority = set.priority
		}
	}

	return domain.Category{
		Summary:         s,
		CategoryTag:     category,
		PriorityTag:     priority,
		Subcategory:     "General",
		UrgencyCode:     UrgencyCode(category),
		AssignmentGroup: AssignmentGroup(category),
	}, nil
}

func (r *Rules) MatchDuplicate(context.Context, string, []domain.Ticket) (DuplicateVerdict, error) {
	return DuplicateVerdict{}, ErrUnsupported
}

func countMatches(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}

// Truncate shortens s to at most max runes, marking the cut with "...".
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
