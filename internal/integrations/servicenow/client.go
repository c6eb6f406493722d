// Package servicenow stores tickets as ServiceNow incidents through the Table
// API and resolves callers, groups and assignees from the user directory.
package servicenow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/config"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/httpx"
)

type Client struct {
	instanceURL   string
	http          *http.Client
	username      string
	password      string
	basicAuth     bool
	defaultCaller string
}

// New builds a Table API client. With a client id and secret it authenticates
// with the OAuth password grant against {instance}/oauth_token.do, otherwise
// with basic auth.
func New(cfg config.Config) *Client {
	base := httpx.ExternalHTTPClient()
	c := &Client{
		instanceURL:   strings.TrimRight(cfg.ServiceNowInstanceURL, "/"),
		http:          base,
		username:      cfg.ServiceNowUsername,
		password:      cfg.ServiceNowPassword,
		basicAuth:     true,
		defaultCaller: cfg.ServiceNowDefaultCaller,
	}
	if cfg.ServiceNowClientID != "" {
		oc := &oauth2.Config{
			ClientID:     cfg.ServiceNowClientID,
			ClientSecret: cfg.ServiceNowClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  c.instanceURL + "/oauth_token.do",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}
		src := oauth2.ReuseTokenSource(nil, &passwordTokenSource{cfg: oc, username: c.username, password: c.password})
		c.http = &http.Client{
			Transport: &oauth2.Transport{Source: src, Base: base.Transport},
			Timeout:   base.Timeout,
		}
		c.basicAuth = false
	}
	return c
}

type passwordTokenSource struct {
	cfg      *oauth2.Config
	username string
	password string
}

func (s *passwordTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.cfg.PasswordCredentialsToken(httpx.OAuthContext(context.Background()), s.username, s.password)
	if err != nil {
		return nil, fmt.Errorf("servicenow oauth token: %w", err)
	}
	return tok, nil
}

// TicketURL is the browser link for an incident.
func TicketURL(instanceURL, sysID string) string {
	return fmt.Sprintf("%s/nav_to.do?uri=incident.do?sys_id=%s", strings.TrimRight(instanceURL, "/"), sysID)
}

func (c *Client) TicketURL(sysID string) string {
	return TicketURL(c.instanceURL, sysID)
}

type tableResponse[T any] struct {
	Result T `json:"result"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	} `json:"error"`
}

func (c *Client) get(ctx context.Context, table string, params url.Values, out any) (int, error) {
	apiURL := fmt.Sprintf("%s/api/now/table/%s", c.instanceURL, table)
	if len(params) > 0 {
		apiURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return 0, err
	}
	return c.do(req, http.StatusOK, out)
}

func (c *Client) post(ctx context.Context, table string, payload any, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshaling %s payload: %w", table, err)
	}
	apiURL := fmt.Sprintf("%s/api/now/table/%s", c.instanceURL, table)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, http.StatusCreated, out)
}

func (c *Client) do(req *http.Request, want int, out any) (int, error) {
	req.Header.Set("Accept", "application/json")
	if c.basicAuth {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ServiceNow request %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("reading ServiceNow response: %w", err)
	}
	if resp.StatusCode != want {
		var apiErr apiError
		msg := string(body)
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		log.Printf("servicenow: %s %s returned %d: %s", req.Method, req.URL.Path, resp.StatusCode, msg)
		return resp.StatusCode, fmt.Errorf("ServiceNow API returned %d: %s", resp.StatusCode, msg)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, fmt.Errorf("parsing ServiceNow response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// refField decodes reference columns, which arrive as "" when unset and as
// {"link": ..., "value": sys_id} otherwise.
type refField string

func (r *refField) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = refField(s)
		return nil
	}
	var obj struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*r = refField(obj.Value)
	return nil
}
