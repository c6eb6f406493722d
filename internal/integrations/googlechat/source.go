package googlechat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
)

const pageSize = "100"
const maxPages = 20

type user struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Type        string `json:"type"` // HUMAN or BOT
}

type message struct {
	Name           string `json:"name"`
	Sender         user   `json:"sender"`
	CreateTime     string `json:"createTime"`
	LastUpdateTime string `json:"lastUpdateTime"`
	Text           string `json:"text"`
	ArgumentText   string `json:"argumentText"`
	Thread         struct {
		Name string `json:"name"`
	} `json:"thread"`
	Space struct {
		Name string `json:"name"`
	} `json:"space"`
	Annotations []annotation `json:"annotations"`
}

type annotation struct {
	Type        string `json:"type"`
	UserMention *struct {
		User user   `json:"user"`
		Type string `json:"type"`
	} `json:"userMention"`
}

type listMessagesResponse struct {
	Messages      []message `json:"messages"`
	NextPageToken string    `json:"nextPageToken"`
}

func (m message) toRaw(space string) domain.RawMessage {
	if m.Space.Name != "" {
		space = m.Space.Name
	}
	created, err := time.Parse(time.RFC3339Nano, m.CreateTime)
	if err != nil {
		created = time.Now()
	}
	return domain.RawMessage{
		ID:          m.Name,
		ThreadRef:   m.Thread.Name,
		SpaceRef:    space,
		SenderID:    m.Sender.Name,
		SenderName:  m.Sender.DisplayName,
		SenderEmail: m.Sender.Email,
		Text:        m.Text,
		CreatedAt:   created,
		Mentioned:   m.mentionsApp(),
	}
}

// mentionsApp reports a USER_MENTION annotation of a bot user.
func (m message) mentionsApp() bool {
	for _, a := range m.Annotations {
		if a.Type == "USER_MENTION" && a.UserMention != nil && a.UserMention.User.Type == "BOT" {
			return true
		}
	}
	return false
}

// Fetch lists messages created after since in every configured space.
// Messages authored by apps are dropped here. A failing space does not hide
// the others: their messages are returned alongside the joined error.
func (c *Client) Fetch(ctx context.Context, since time.Time) ([]domain.RawMessage, error) {
	var out []domain.RawMessage
	var errs []error
	for _, space := range c.spaces {
		msgs, err := c.fetchSpace(ctx, space, since)
		if err != nil {
			errs = append(errs, fmt.Errorf("space %s: %w", space, err))
		}
		out = append(out, msgs...)
	}
	log.Printf("googlechat: fetched messages=%d spaces=%d since=%s", len(out), len(c.spaces), since.UTC().Format(time.RFC3339))
	return out, errors.Join(errs...)
}

func (c *Client) fetchSpace(ctx context.Context, space string, since time.Time) ([]domain.RawMessage, error) {
	q := url.Values{}
	q.Set("filter", fmt.Sprintf("createTime > %q", since.UTC().Format(time.RFC3339)))
	q.Set("pageSize", pageSize)

	var out []domain.RawMessage
	bots := 0
	for page := 0; page < maxPages; page++ {
		var resp listMessagesResponse
		if err := c.do(ctx, "GET", space+"/messages", q, nil, &resp); err != nil {
			return out, err
		}
		for _, m := range resp.Messages {
			if m.Sender.Type == "BOT" {
				bots++
				continue
			}
			out = append(out, m.toRaw(space))
		}
		if resp.NextPageToken == "" {
			break
		}
		q.Set("pageToken", resp.NextPageToken)
	}
	if bots > 0 {
		log.Printf("googlechat: space=%s skipped %d app-authored messages", space, bots)
	}
	return out, nil
}
