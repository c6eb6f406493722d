package googlechat

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
)

const maxEventBytes = 1 << 20

// Event is an interaction event pushed to the app's HTTP endpoint.
type Event struct {
	Type    string   `json:"type"` // MESSAGE, ADDED_TO_SPACE, ...
	Message *message `json:"message"`
	Space   struct {
		Name string `json:"name"`
	} `json:"space"`
	Token string `json:"token"` // verification token, when the app is configured with one
}

// ParseEvent decodes a pushed event. Events without a message return a nil
// message and no error.
func ParseEvent(r io.Reader) (Event, error) {
	var e Event
	if err := json.NewDecoder(io.LimitReader(r, maxEventBytes)).Decode(&e); err != nil {
		return e, fmt.Errorf("decoding chat event: %w", err)
	}
	return e, nil
}

// Push turns the event's message into a RawMessage.
func (e Event) Push() (domain.RawMessage, bool) {
	if e.Message == nil || e.Message.Name == "" {
		return domain.RawMessage{}, false
	}
	return e.Message.toRaw(e.Space.Name), true
}

// MentionsBot reports whether the message addresses the app, either through
// a USER_MENTION annotation of a bot user or by naming botName in the text.
func (e Event) MentionsBot(botName string) bool {
	if e.Message == nil {
		return false
	}
	if e.Message.mentionsApp() {
		return true
	}
	if botName == "" {
		return false
	}
	return strings.Contains(strings.ToLower(e.Message.Text), strings.ToLower(botName))
}

// FromApp reports whether an app (possibly this one) authored the message.
func (e Event) FromApp() bool {
	return e.Message != nil && e.Message.Sender.Type == "BOT"
}
