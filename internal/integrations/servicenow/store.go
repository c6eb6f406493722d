package servicenow

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/ticket"
)

const incidentTable = "incident"
const incidentFields = "sys_id,number,state,short_description,description,priority,category,assigned_to,correlation_id,sys_created_on,sys_updated_on"

// ServiceNow returns timestamps in UTC in this layout when display values are off.
const timeLayout = "2006-01-02 15:04:05"

var _ ticket.Store = (*Client)(nil)

type incident struct {
	SysID            string   `json:"sys_id"`
	Number           string   `json:"number"`
	State            string   `json:"state"`
	ShortDescription string   `json:"short_description"`
	Description      string   `json:"description"`
	Priority         string   `json:"priority"`
	Category         string   `json:"category"`
	AssignedTo       refField `json:"assigned_to"`
	CorrelationID    string   `json:"correlation_id"`
	CreatedOn        string   `json:"sys_created_on"`
	UpdatedOn        string   `json:"sys_updated_on"`
}

func (c *Client) toTicket(in incident) domain.Ticket {
	t := domain.Ticket{
		StoreID:       in.SysID,
		Number:        in.Number,
		State:         in.State,
		Title:         in.ShortDescription,
		Description:   in.Description,
		PriorityTag:   domain.ParsePriorityTag(in.Priority),
		CategoryTag:   domain.ParseCategoryTag(in.Category),
		Assignee:      string(in.AssignedTo),
		CorrelationID: in.CorrelationID,
		URL:           c.TicketURL(in.SysID),
	}
	t.CreatedAt, _ = time.ParseInLocation(timeLayout, in.CreatedOn, time.UTC)
	t.UpdatedAt, _ = time.ParseInLocation(timeLayout, in.UpdatedOn, time.UTC)
	return t
}

func (c *Client) FindByCorrelation(ctx context.Context, correlationID string) (*domain.Ticket, error) {
	if correlationID == "" {
		return nil, nil
	}
	params := url.Values{}
	params.Set("sysparm_query", "correlation_id="+correlationID+"^ORDERBYsys_created_on")
	params.Set("sysparm_fields", incidentFields)
	params.Set("sysparm_limit", "1")

	var resp tableResponse[[]incident]
	if _, err := c.get(ctx, incidentTable, params, &resp); err != nil {
		return nil, fmt.Errorf("find incident by correlation %s: %w", correlationID, err)
	}
	if len(resp.Result) == 0 {
		return nil, nil
	}
	t := c.toTicket(resp.Result[0])
	return &t, nil
}

type createPayload struct {
	ShortDescription string `json:"short_description"`
	Description      string `json:"description"`
	WorkNotes        string `json:"work_notes,omitempty"`
	Category         string `json:"category"`
	Subcategory      string `json:"subcategory,omitempty"`
	Priority         string `json:"priority"`
	Urgency          string `json:"urgency,omitempty"`
	Impact           string `json:"impact,omitempty"`
	CallerID         string `json:"caller_id,omitempty"`
	AssignmentGroup  string `json:"assignment_group,omitempty"`
	AssignedTo       string `json:"assigned_to,omitempty"`
	CorrelationID    string `json:"correlation_id"`
	ContactType      string `json:"contact_type"`
}

func (c *Client) Create(ctx context.Context, f domain.TicketFields) (domain.Ticket, error) {
	payload := createPayload{
		ShortDescription: f.Title,
		Description:      f.Description,
		WorkNotes:        f.WorkNotes,
		Category:         string(f.CategoryTag),
		Subcategory:      f.Subcategory,
		Priority:         string(f.PriorityTag),
		Urgency:          f.UrgencyCode,
		Impact:           f.ImpactCode,
		CallerID:         f.CallerID,
		AssignmentGroup:  f.AssignmentGroup,
		AssignedTo:       f.AssignedTo,
		CorrelationID:    f.CorrelationID,
		ContactType:      "chat",
	}
	if payload.WorkNotes == "" {
		payload.WorkNotes = "Auto-created from chat message by the support ticket pipeline"
	}
	if payload.CallerID == "" {
		payload.CallerID = c.defaultCaller
	}

	var resp tableResponse[incident]
	if _, err := c.post(ctx, incidentTable, payload, &resp); err != nil {
		return domain.Ticket{}, fmt.Errorf("create incident: %w", err)
	}
	t := c.toTicket(resp.Result)
	if t.CorrelationID == "" {
		t.CorrelationID = f.CorrelationID
	}
	log.Printf("servicenow: created incident number=%s sys_id=%s correlation=%s", t.Number, t.StoreID, f.CorrelationID)
	return t, nil
}

func (c *Client) Get(ctx context.Context, storeID string) (domain.Ticket, error) {
	params := url.Values{}
	params.Set("sysparm_fields", incidentFields)
	var resp tableResponse[incident]
	status, err := c.get(ctx, incidentTable+"/"+url.PathEscape(storeID), params, &resp)
	if status == http.StatusNotFound {
		return domain.Ticket{}, fmt.Errorf("incident %s: %w", storeID, ticket.ErrNotFound)
	}
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("get incident %s: %w", storeID, err)
	}
	return c.toTicket(resp.Result), nil
}

func (c *Client) Recent(ctx context.Context, since time.Time, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 5
	}
	query := []string{
		"sys_created_on>=" + since.UTC().Format(timeLayout),
		"ORDERBYDESCsys_created_on",
	}
	params := url.Values{}
	params.Set("sysparm_query", strings.Join(query, "^"))
	params.Set("sysparm_fields", incidentFields)
	params.Set("sysparm_limit", strconv.Itoa(limit))

	var resp tableResponse[[]incident]
	if _, err := c.get(ctx, incidentTable, params, &resp); err != nil {
		return nil, fmt.Errorf("list recent incidents: %w", err)
	}
	out := make([]domain.Ticket, 0, len(resp.Result))
	for _, in := range resp.Result {
		out = append(out, c.toTicket(in))
	}
	return out, nil
}
