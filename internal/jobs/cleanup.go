package jobs

import (
	"context"
	"log"
	"time"
)

type pruner interface {
	Prune(cutoff time.Time) int
}

type claimPruner interface {
	Prune() int
}

// Cleanup drops correlation links older than ttl and expired in-process
// claims. Either may be nil.
type Cleanup struct {
	links  pruner
	claims claimPruner
	ttl    time.Duration
	now    func() time.Time
}

func NewCleanup(links pruner, claims claimPruner, ttl time.Duration) *Cleanup {
	return &Cleanup{links: links, claims: claims, ttl: ttl, now: time.Now}
}

func (c *Cleanup) Run(_ context.Context) {
	links, claims := 0, 0
	if c.links != nil {
		links = c.links.Prune(c.now().Add(-c.ttl))
	}
	if c.claims != nil {
		claims = c.claims.Prune()
	}
	log.Printf("cleanup: pruned links=%d claims=%d", links, claims)
}
