package googlechat

import (
	"context"
	"fmt"
	"net/url"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/notify"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/ref"
)

var _ notify.Channel = (*Client)(nil)

type threadRef struct {
	Name string `json:"name"`
}

type quotedMessageMetadata struct {
	Name           string `json:"name"`
	LastUpdateTime string `json:"lastUpdateTime"`
}

type createMessageRequest struct {
	Text                  string                 `json:"text"`
	Thread                *threadRef             `json:"thread,omitempty"`
	QuotedMessageMetadata *quotedMessageMetadata `json:"quotedMessageMetadata,omitempty"`
}

// Deliver posts d.Text in the requested mode.
//
// Thread replies must land in the existing thread. Quoted replies quote the
// original message; if the message cannot be read, the reply goes to the
// thread derived from the message id instead.
func (c *Client) Deliver(ctx context.Context, d notify.Delivery) error {
	t := d.Target
	if t.Space == "" {
		return fmt.Errorf("delivery target has no space")
	}
	switch d.Mode {
	case notify.ModeThread:
		if !t.HasThread() {
			return fmt.Errorf("thread delivery without thread")
		}
		return c.post(ctx, t, createMessageRequest{Text: d.Text, Thread: &threadRef{Name: t.ThreadName()}}, "REPLY_MESSAGE_OR_FAIL")
	case notify.ModeQuote:
		if t.Message == "" {
			return fmt.Errorf("quote delivery without message")
		}
		var orig message
		if err := c.do(ctx, "GET", t.MessageName(), nil, nil, &orig); err == nil {
			updated := orig.LastUpdateTime
			if updated == "" {
				updated = orig.CreateTime
			}
			req := createMessageRequest{
				Text:                  d.Text,
				QuotedMessageMetadata: &quotedMessageMetadata{Name: t.MessageName(), LastUpdateTime: updated},
			}
			if orig.Thread.Name != "" {
				req.Thread = &threadRef{Name: orig.Thread.Name}
				return c.post(ctx, t, req, "REPLY_MESSAGE_FALLBACK_TO_NEW_THREAD")
			}
			return c.post(ctx, t, req, "")
		}
		thread, ok := t.DerivedThread()
		if !ok {
			return fmt.Errorf("cannot derive thread from %s", t.MessageName())
		}
		derived := ref.Space(t.Kind, t.Space).WithThread(thread)
		return c.post(ctx, t, createMessageRequest{Text: d.Text, Thread: &threadRef{Name: derived.ThreadName()}}, "REPLY_MESSAGE_OR_FAIL")
	case notify.ModeBroadcast:
		return c.post(ctx, t, createMessageRequest{Text: d.Text}, "")
	default:
		return fmt.Errorf("unsupported delivery mode %s", d.Mode)
	}
}

func (c *Client) post(ctx context.Context, t ref.Ref, req createMessageRequest, replyOption string) error {
	var q url.Values
	if replyOption != "" {
		q = url.Values{"messageReplyOption": {replyOption}}
	}
	var created message
	if err := c.do(ctx, "POST", t.SpaceName()+"/messages", q, req, &created); err != nil {
		return err
	}
	return nil
}

// Post sends a plain message to a space, used for acknowledgements, status
// updates and the digest.
func (c *Client) Post(ctx context.Context, target ref.Ref, text string) error {
	req := createMessageRequest{Text: text}
	option := ""
	if target.HasThread() {
		req.Thread = &threadRef{Name: target.ThreadName()}
		option = "REPLY_MESSAGE_FALLBACK_TO_NEW_THREAD"
	}
	return c.post(ctx, ref.Space(ref.KindSpace, target.Space), req, option)
}
