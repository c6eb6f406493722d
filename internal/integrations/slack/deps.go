package slackbot

import (
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/config"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/notify"
)

type Config = config.Config
type RawMessage = domain.RawMessage

var _ notify.Channel = (*Client)(nil)
