// Package prefilter drops messages the bot itself produced before they reach
// classification, so confirmation banners are never turned into new tickets.
package prefilter

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
	"gopkg.in/yaml.v3"
)

var defaultBotNames = []string{
	"support ticket automation",
	"bot",
	"admin",
}

var defaultBotIDMarkers = []string{
	"chat-bot",
	"bot",
}

// Fingerprints of notifications this service posts. Matched case-insensitively.
var defaultFingerprints = []string{
	`🎫\s*\*{0,2}support ticket created\*{0,2}`,
	`ticket number:`,
	`your request has been processed`,
	`ticket has been created`,
	`view ticket:`,
	`open in servicenow`,
	`(?m)^\W*status:\s*\*{0,2}\s*(\d+|new|in progress|on hold|resolved|closed|canceled)\b`,
	`(?m)^\W*priority:\s*\*{0,2}\s*[1-5]\b`,
	`you will receive updates as the issue progresses`,
	`support ticket automation\*{0,2} is processing your request`,
	`ticket status update`,
	`support ticket digest`,
}

type Rules struct {
	BotNames     []string `yaml:"bot_names"`
	BotIDMarkers []string `yaml:"bot_id_markers"`
	Fingerprints []string `yaml:"fingerprints"`
}

// LoadRules reads extra denylist entries and fingerprints from a YAML file.
// The built-in defaults are always kept.
func LoadRules(path string) (Rules, error) {
	var r Rules
	data, err := os.ReadFile(path)
	if err != nil {
		return r, fmt.Errorf("read filter rules: %w", err)
	}
	if err := yaml.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("parse filter rules: %w", err)
	}
	for _, p := range r.Fingerprints {
		if _, err := compile(p); err != nil {
			return r, fmt.Errorf("invalid fingerprint %q: %w", p, err)
		}
	}
	return r, nil
}

type Filter struct {
	botNames     map[string]bool
	botIDMarkers []string
	fingerprints []*regexp.Regexp
}

func New(extra Rules) *Filter {
	f := &Filter{botNames: make(map[string]bool)}
	for _, n := range append(append([]string{}, defaultBotNames...), extra.BotNames...) {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			f.botNames[n] = true
		}
	}
	for _, m := range append(append([]string{}, defaultBotIDMarkers...), extra.BotIDMarkers...) {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			f.botIDMarkers = append(f.botIDMarkers, m)
		}
	}
	for _, p := range append(append([]string{}, defaultFingerprints...), extra.Fingerprints...) {
		re, err := compile(p)
		if err != nil {
			log.Printf("prefilter: skipping invalid fingerprint %q: %v", p, err)
			continue
		}
		f.fingerprints = append(f.fingerprints, re)
	}
	return f
}

func compile(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}

// Filter returns the messages that are neither from a bot identity nor echoes
// of the bot's own notifications.
func (f *Filter) Filter(messages []domain.RawMessage) []domain.RawMessage {
	keep := make([]domain.RawMessage, 0, len(messages))
	var fromBot, echoes int
	for _, m := range messages {
		switch {
		case f.IsBotSender(m):
			fromBot++
		case f.MatchesFingerprint(m.Text):
			echoes++
		default:
			keep = append(keep, m)
		}
	}
	if fromBot > 0 || echoes > 0 {
		log.Printf("prefilter: in=%d kept=%d bot_sender=%d fingerprint=%d", len(messages), len(keep), fromBot, echoes)
	}
	return keep
}

func (f *Filter) IsBotSender(m domain.RawMessage) bool {
	if f.botNames[strings.ToLower(strings.TrimSpace(m.SenderName))] {
		return true
	}
	id := strings.ToLower(m.SenderID)
	if id == "" {
		return false
	}
	for _, marker := range f.botIDMarkers {
		if strings.Contains(id, marker) {
			return true
		}
	}
	return false
}

// MatchesFingerprint reports whether text looks like one of our own notifications.
func (f *Filter) MatchesFingerprint(text string) (matched bool) {
	if text == "" {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("prefilter: fingerprint match failed: %v", r)
			matched = false
		}
	}()
	for _, re := range f.fingerprints {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
