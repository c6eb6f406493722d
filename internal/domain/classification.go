package domain

import (
	"fmt"
	"strings"
)

type Classification struct {
	Message    RawMessage
	IsRequest  bool
	Confidence float64 // 0..1
	Reason     string
}

type Summary struct {
	Message          RawMessage
	Title            string // at most MaxTitleLen runes
	Description      string
	ProblemStatement string
	UserImpact       string
	UrgencyLabel     string
}

const MaxTitleLen = 100

type Category struct {
	Summary         Summary
	CategoryTag     CategoryTag
	PriorityTag     PriorityTag
	Subcategory     string
	UrgencyCode     string
	AssignmentGroup string
}

type CategoryTag string

const (
	CategoryHardware CategoryTag = "hardware"
	CategorySoftware CategoryTag = "software"
	CategoryNetwork  CategoryTag = "network"
	CategoryAccess   CategoryTag = "access"
	CategoryEmail    CategoryTag = "email"
	CategoryPrinting CategoryTag = "printing"
	CategorySecurity CategoryTag = "security"
	CategoryOther    CategoryTag = "other"
)

var Categories = []CategoryTag{
	CategoryHardware,
	CategorySoftware,
	CategoryNetwork,
	CategoryAccess,
	CategoryEmail,
	CategoryPrinting,
	CategorySecurity,
	CategoryOther,
}

// ParseCategoryTag maps free text onto the closed category set. Unknown values map to other.
func ParseCategoryTag(s string) CategoryTag {
	v := CategoryTag(strings.ToLower(strings.TrimSpace(s)))
	for _, c := range Categories {
		if c == v {
			return c
		}
	}
	return CategoryOther
}

type PriorityTag string

const (
	PriorityCritical PriorityTag = "1"
	PriorityHigh     PriorityTag = "2"
	PriorityModerate PriorityTag = "3"
	PriorityLow      PriorityTag = "4"
	PriorityPlanning PriorityTag = "5"
)

var priorityNames = map[PriorityTag]string{
	PriorityCritical: "Critical",
	PriorityHigh:     "High",
	PriorityModerate: "Moderate",
	PriorityLow:      "Low",
	PriorityPlanning: "Planning",
}

// ParsePriorityTag accepts "1".."5" or a priority name. Anything else is moderate.
func ParsePriorityTag(s string) PriorityTag {
	s = strings.TrimSpace(s)
	if _, ok := priorityNames[PriorityTag(s)]; ok {
		return PriorityTag(s)
	}
	for tag, name := range priorityNames {
		if strings.EqualFold(name, s) {
			return tag
		}
	}
	return PriorityModerate
}

func (p PriorityTag) Label() string {
	if name, ok := priorityNames[p]; ok {
		return fmt.Sprintf("%s - %s", string(p), name)
	}
	return string(p)
}
