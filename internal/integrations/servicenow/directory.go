package servicenow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/ticket"
)

var _ ticket.Directory = (*Client)(nil)

type sysRecord struct {
	SysID string `json:"sys_id"`
	Name  string `json:"name"`
}

type groupMember struct {
	User refField `json:"user"`
}

// ResolveAssignment looks up the caller by email, then by display name, the
// group by name, and picks the group's first active member as assignee.
// Misses leave fields empty; lookup failures are joined into the error while
// the fields that did resolve are still returned.
func (c *Client) ResolveAssignment(ctx context.Context, who ticket.Requester, group string) (ticket.Assignment, error) {
	var a ticket.Assignment
	var errs []error

	if who.Email != "" {
		id, err := c.lookupOne(ctx, "sys_user", "email="+who.Email)
		errs = append(errs, err)
		a.CallerID = id
	}
	if a.CallerID == "" && who.Name != "" {
		id, err := c.lookupOne(ctx, "sys_user", "name="+who.Name)
		errs = append(errs, err)
		a.CallerID = id
	}
	if a.CallerID == "" {
		a.CallerID = c.defaultCaller
	}

	if group = strings.TrimSpace(group); group != "" {
		id, err := c.lookupOne(ctx, "sys_user_group", "name="+group)
		errs = append(errs, err)
		a.AssignmentGroup = id
		if id != "" {
			member, err := c.firstActiveMember(ctx, id)
			errs = append(errs, err)
			a.AssignedTo = member
		}
	}
	return a, errors.Join(errs...)
}

func (c *Client) lookupOne(ctx context.Context, table, query string) (string, error) {
	params := url.Values{}
	params.Set("sysparm_query", query)
	params.Set("sysparm_fields", "sys_id,name")
	params.Set("sysparm_limit", "1")
	var resp tableResponse[[]sysRecord]
	if _, err := c.get(ctx, table, params, &resp); err != nil {
		return "", fmt.Errorf("lookup %s %s: %w", table, query, err)
	}
	if len(resp.Result) == 0 {
		return "", nil
	}
	return resp.Result[0].SysID, nil
}

func (c *Client) firstActiveMember(ctx context.Context, groupID string) (string, error) {
	params := url.Values{}
	params.Set("sysparm_query", "group="+groupID+"^user.active=true")
	params.Set("sysparm_fields", "user")
	params.Set("sysparm_limit", "1")
	var resp tableResponse[[]groupMember]
	if _, err := c.get(ctx, "sys_user_grmember", params, &resp); err != nil {
		return "", fmt.Errorf("group %s members: %w", groupID, err)
	}
	if len(resp.Result) == 0 {
		return "", nil
	}
	return string(resp.Result[0].User), nil
}
