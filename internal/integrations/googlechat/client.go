// Package googlechat reads support requests from Google Chat spaces and posts
// confirmations back, authenticating as a service account (chat.bot scope).
package googlechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"

	"golang.org/x/oauth2/jwt"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/config"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/httpx"
)

const chatBotScope = "https://www.googleapis.com/auth/chat.bot"
const defaultTokenURL = "https://oauth2.googleapis.com/token"

type Client struct {
	baseURL string
	http    *http.Client
	spaces  []string
	botName string
}

type serviceAccountKey struct {
	ClientEmail  string `json:"client_email"`
	PrivateKey   string `json:"private_key"`
	PrivateKeyID string `json:"private_key_id"`
	TokenURI     string `json:"token_uri"`
}

// New loads the service account key from cfg.GoogleChatCredentialsFile.
func New(cfg config.Config) (*Client, error) {
	data, err := os.ReadFile(cfg.GoogleChatCredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading google chat credentials: %w", err)
	}
	jc, err := jwtConfig(data)
	if err != nil {
		return nil, err
	}
	base := httpx.ExternalHTTPClient()
	hc := jc.Client(httpx.OAuthContext(context.Background()))
	hc.Timeout = base.Timeout
	return NewWithHTTPClient(cfg, hc), nil
}

func jwtConfig(data []byte) (*jwt.Config, error) {
	var key serviceAccountKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("parsing service account key: %w", err)
	}
	if key.ClientEmail == "" || key.PrivateKey == "" {
		return nil, fmt.Errorf("service account key needs client_email and private_key")
	}
	tokenURL := key.TokenURI
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	return &jwt.Config{
		Email:        key.ClientEmail,
		PrivateKey:   []byte(key.PrivateKey),
		PrivateKeyID: key.PrivateKeyID,
		Scopes:       []string{chatBotScope},
		TokenURL:     tokenURL,
	}, nil
}

// NewWithHTTPClient uses hc as is; hc must already carry credentials.
func NewWithHTTPClient(cfg config.Config, hc *http.Client) *Client {
	spaces := make([]string, 0, len(cfg.GoogleChatSpaces))
	for _, s := range cfg.GoogleChatSpaces {
		s = strings.Trim(strings.TrimSpace(s), "/")
		if s == "" {
			continue
		}
		if !strings.HasPrefix(s, "spaces/") {
			s = "spaces/" + s
		}
		spaces = append(spaces, s)
	}
	baseURL := cfg.GoogleChatAPIURL
	if baseURL == "" {
		baseURL = "https://chat.googleapis.com/v1"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		spaces:  spaces,
		botName: cfg.GoogleChatBotName,
	}
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	apiURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		apiURL += "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, apiURL, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("Google Chat %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading Google Chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Status + ": " + apiErr.Error.Message
		}
		log.Printf("googlechat: %s %s returned %d: %s", method, path, resp.StatusCode, msg)
		return fmt.Errorf("Google Chat API returned %d: %s", resp.StatusCode, msg)
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parsing Google Chat response: %w", err)
		}
	}
	return nil
}
