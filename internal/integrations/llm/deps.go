package llm

import (
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/config"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/httpx"
	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/oracle"
)

type Config = config.Config
type RawMessage = domain.RawMessage
type Summary = domain.Summary
type Category = domain.Category
type Ticket = domain.Ticket

var externalHTTPClient = httpx.ExternalHTTPClient()

var _ oracle.Oracle = (*Oracle)(nil)
