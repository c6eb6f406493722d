package pipeline

import (
	"sync"
	"time"

	"github.com/NithishKumarsl786snsihub/Support-Ticket-Automation---with-servicenow/internal/domain"
)

// LinkCache is the in-process fast path for message → ticket links.
// The ticket store stays authoritative; losing the cache only costs lookups.
type LinkCache struct {
	mu       sync.RWMutex
	byMsg    map[string]domain.CorrelationLink
	byTicket map[string]string
}

func NewLinkCache() *LinkCache {
	return &LinkCache{
		byMsg:    make(map[string]domain.CorrelationLink),
		byTicket: make(map[string]string),
	}
}

func (c *LinkCache) Get(messageID string) (domain.CorrelationLink, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.byMsg[messageID]
	return l, ok
}

// ByTicket finds the link for a ticket number, used to route status updates.
func (c *LinkCache) ByTicket(number string) (domain.CorrelationLink, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byTicket[number]
	if !ok {
		return domain.CorrelationLink{}, false
	}
	l, ok := c.byMsg[id]
	return l, ok
}

func (c *LinkCache) Put(l domain.CorrelationLink) {
	if l.MessageID == "" {
		return
	}
	if l.LinkedAt.IsZero() {
		l.LinkedAt = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byMsg[l.MessageID] = l
	if l.TicketNumber != "" {
		c.byTicket[l.TicketNumber] = l.MessageID
	}
}

// Prune drops links older than cutoff and returns how many were removed.
func (c *LinkCache) Prune(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, l := range c.byMsg {
		if l.LinkedAt.Before(cutoff) {
			delete(c.byMsg, id)
			if c.byTicket[l.TicketNumber] == id {
				delete(c.byTicket, l.TicketNumber)
			}
			n++
		}
	}
	return n
}

func (c *LinkCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byMsg)
}
