// Package slackbot is the Slack rendition of the chat side: channel history as
// a message source, chat.postMessage for confirmations, and Socket Mode
// app_mention events as pushed requests.
package slackbot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/notify"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/ref"
)

const historyPageSize = 200
const maxHistoryPages = 10

type Client struct {
	api       *slack.Client
	channels  []string
	botUserID string
	users     *userCache
}

func New(cfg Config, api *slack.Client) *Client {
	return &Client{
		api:       api,
		channels:  cfg.SlackChannelIDs,
		botUserID: cfg.SlackBotUserID,
		users:     newUserCache(api),
	}
}

func (c *Client) API() *slack.Client {
	return c.api
}

// Fetch reads top-level and broadcast messages posted since the given time in
// every configured channel. Bot posts and system subtypes are skipped.
func (c *Client) Fetch(ctx context.Context, since time.Time) ([]domain.RawMessage, error) {
	var out []domain.RawMessage
	var errs []error
	for _, ch := range c.channels {
		msgs, err := c.fetchChannel(ctx, ch, since)
		if err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", ch, err))
		}
		out = append(out, msgs...)
	}
	log.Printf("slack: fetched messages=%d channels=%d", len(out), len(c.channels))
	return out, errors.Join(errs...)
}

func (c *Client) fetchChannel(ctx context.Context, channel string, since time.Time) ([]domain.RawMessage, error) {
	params := &slack.GetConversationHistoryParameters{
		ChannelID: channel,
		Oldest:    formatTS(since),
		Limit:     historyPageSize,
	}
	var out []domain.RawMessage
	for page := 0; page < maxHistoryPages; page++ {
		resp, err := c.api.GetConversationHistoryContext(ctx, params)
		if err != nil {
			return out, err
		}
		for _, m := range resp.Messages {
			if m.BotID != "" || (m.SubType != "" && m.SubType != "thread_broadcast") || m.User == c.botUserID {
				continue
			}
			msg := c.toRaw(ctx, channel, m.User, m.Text, m.Timestamp, m.ThreadTimestamp)
			msg.Mentioned = c.botUserID != "" && strings.Contains(m.Text, "<@"+c.botUserID+">")
			out = append(out, msg)
		}
		if !resp.HasMore || resp.ResponseMetaData.NextCursor == "" {
			break
		}
		params.Cursor = resp.ResponseMetaData.NextCursor
	}
	return out, nil
}

func (c *Client) toRaw(ctx context.Context, channel, user, text, ts, threadTS string) domain.RawMessage {
	space := ref.Space(ref.KindChannel, channel)
	info := c.users.lookup(ctx, user)
	msg := domain.RawMessage{
		ID:          space.WithMessage(ts).MessageName(),
		SpaceRef:    space.SpaceName(),
		SenderID:    user,
		SenderName:  info.Name,
		SenderEmail: info.Email,
		Text:        text,
		CreatedAt:   parseTS(ts),
	}
	if threadTS != "" {
		msg.ThreadRef = space.WithThread(threadTS).ThreadName()
	}
	return msg
}

// Deliver posts d.Text. Slack has no quoted replies, so ModeQuote threads
// under the original message, whose timestamp is the thread id.
func (c *Client) Deliver(ctx context.Context, d notify.Delivery) error {
	t := d.Target
	if t.Space == "" {
		return fmt.Errorf("delivery target has no channel")
	}
	opts := []slack.MsgOption{slack.MsgOptionText(d.Text, false)}
	switch d.Mode {
	case notify.ModeThread:
		if !t.HasThread() {
			return fmt.Errorf("thread delivery without thread")
		}
		opts = append(opts, slack.MsgOptionTS(t.Thread))
	case notify.ModeQuote:
		thread, ok := t.DerivedThread()
		if !ok {
			return fmt.Errorf("quote delivery without message")
		}
		opts = append(opts, slack.MsgOptionTS(thread))
	case notify.ModeBroadcast:
	default:
		return fmt.Errorf("unsupported delivery mode %s", d.Mode)
	}
	_, _, err := c.api.PostMessageContext(ctx, t.Space, opts...)
	return err
}

// Post sends text to a channel, in the target's thread when it has one.
func (c *Client) Post(ctx context.Context, target ref.Ref, text string) error {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if target.HasThread() {
		opts = append(opts, slack.MsgOptionTS(target.Thread))
	}
	_, _, err := c.api.PostMessageContext(ctx, target.Space, opts...)
	return err
}

func formatTS(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}

func parseTS(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Now()
	}
	var usec int64
	if frac != "" {
		for len(frac) < 6 {
			frac += "0"
		}
		usec, _ = strconv.ParseInt(frac[:6], 10, 64)
	}
	return time.Unix(s, usec*1000)
}
