package domain

import "time"

type Ticket struct {
	StoreID       string // sys_id in ServiceNow, row id in SQL stores
	Number        string // human facing, e.g. INC0010042
	State         string
	Title         string
	Description   string
	PriorityTag   PriorityTag
	CategoryTag   CategoryTag
	Assignee      string
	CorrelationID string
	URL           string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TicketFields is what the pipeline hands to a ticket store on create.
type TicketFields struct {
	CorrelationID   string
	Title           string
	Description     string
	WorkNotes       string
	CategoryTag     CategoryTag
	Subcategory     string
	PriorityTag     PriorityTag
	UrgencyCode     string
	ImpactCode      string
	CallerID        string
	AssignmentGroup string
	AssignedTo      string
}

var ticketStates = map[string]string{
	"1": "New",
	"2": "In Progress",
	"3": "On Hold",
	"6": "Resolved",
	"7": "Closed",
	"8": "Canceled",
}

// StateLabel renders a numeric incident state. Unknown states are returned unchanged.
func StateLabel(state string) string {
	if label, ok := ticketStates[state]; ok {
		return label
	}
	if state == "" {
		return "Unknown"
	}
	return state
}

type SimilarTicket struct {
	Number     string
	Title      string
	Similarity float64
}

type DuplicateRule string

const (
	RuleNone        DuplicateRule = ""
	RuleFingerprint DuplicateRule = "fingerprint"
	RuleCorrelation DuplicateRule = "correlation"
	RuleSemantic    DuplicateRule = "semantic"
	RuleLexical     DuplicateRule = "lexical"
	RuleFailOpen    DuplicateRule = "fail_open"
)

type DuplicateDetectionResult struct {
	Message        RawMessage
	IsDuplicate    bool
	Confidence     float64
	Reasoning      string
	Rule           DuplicateRule
	ExistingTicket *Ticket // set by the correlation rule
	SimilarTickets []SimilarTicket
}
