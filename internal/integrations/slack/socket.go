package slackbot

import (
	"context"
	"log"

	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
)

// MentionHandler receives a request addressed to the bot.
type MentionHandler func(ctx context.Context, msg domain.RawMessage)

// Listen connects over Socket Mode and hands app_mention events to handle
// until ctx is cancelled. Events are acknowledged before handling.
func (c *Client) Listen(ctx context.Context, handle MentionHandler) error {
	client := socketmode.New(c.api)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-client.Events:
				if !ok {
					return
				}
				switch evt.Type {
				case socketmode.EventTypeConnected:
					log.Println("Slack bot connected via Socket Mode")
				case socketmode.EventTypeEventsAPI:
					if evt.Request != nil {
						client.Ack(*evt.Request)
					}
					eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
					if !ok {
						continue
					}
					go c.handleEventsAPI(ctx, eventsAPIEvent, handle)
				}
			}
		}
	}()

	return client.RunContext(ctx)
}

func (c *Client) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent, handle MentionHandler) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		if ev.BotID != "" || (c.botUserID != "" && ev.User == c.botUserID) {
			return
		}
		log.Printf("slack: app_mention user=%s channel=%s ts=%s", ev.User, ev.Channel, ev.TimeStamp)
		msg := c.toRaw(ctx, ev.Channel, ev.User, ev.Text, ev.TimeStamp, ev.ThreadTimeStamp)
		msg.Mentioned = true
		handle(ctx, msg)
	}
}
