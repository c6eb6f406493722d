package servicenow

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
)

// StatusEvent is the body an outbound REST message (business rule on the
// incident table) posts when a ticket changes state.
type StatusEvent struct {
	Number           string `json:"number"`
	SysID            string `json:"sys_id"`
	State            string `json:"state"`
	ShortDescription string `json:"short_description"`
	CorrelationID    string `json:"correlation_id"`
}

func (e StatusEvent) StateLabel() string {
	return domain.StateLabel(e.State)
}

const maxCallbackBytes = 64 << 10

// ParseStatusEvent accepts the event at the top level or wrapped in "data".
func ParseStatusEvent(r io.Reader) (StatusEvent, error) {
	var body struct {
		StatusEvent
		Data *StatusEvent `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(r, maxCallbackBytes)).Decode(&body); err != nil {
		return StatusEvent{}, fmt.Errorf("decoding status event: %w", err)
	}
	e := body.StatusEvent
	if body.Data != nil {
		e = *body.Data
	}
	e.Number = strings.TrimSpace(e.Number)
	e.State = strings.TrimSpace(e.State)
	if e.Number == "" && e.SysID == "" {
		return e, fmt.Errorf("status event needs number or sys_id")
	}
	if e.State == "" {
		return e, fmt.Errorf("status event %s has no state", e.Number)
	}
	return e, nil
}
