package llm

import (
	"strings"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
)

func normalizeUrgencyLabel(label string) string {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "critical", "urgent", "high":
		return "High"
	case "low", "minor":
		return "Low"
	default:
		return "Medium"
	}
}

// normalizeCode keeps a 1..max code, accepting "3 - Moderate" style answers.
func normalizeCode(raw string, max int, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	c := raw[0]
	if c < '1' || int(c-'0') > max {
		return fallback
	}
	return string(c)
}

func normalizeCategory(raw string) domain.CategoryTag {
	return domain.ParseCategoryTag(strings.TrimSpace(raw))
}
