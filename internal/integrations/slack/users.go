package slackbot

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
)

const userCacheTTL = 5 * time.Minute

type senderInfo struct {
	Name  string
	Email string
	IsBot bool
}

// userCache resolves message authors. The full member list is loaded at most
// once per TTL; ids missing from it fall back to users.info.
type userCache struct {
	api *slack.Client

	mu        sync.Mutex
	users     map[string]senderInfo
	fetchedAt time.Time
}

func newUserCache(api *slack.Client) *userCache {
	return &userCache{api: api}
}

func (c *userCache) lookup(ctx context.Context, id string) senderInfo {
	if id == "" {
		return senderInfo{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.users == nil || time.Since(c.fetchedAt) >= userCacheTTL {
		users, err := c.api.GetUsersContext(ctx)
		if err != nil {
			log.Printf("slack users: list error: %v", err)
		} else {
			c.users = make(map[string]senderInfo, len(users))
			for _, u := range users {
				c.users[u.ID] = toSenderInfo(u)
			}
			c.fetchedAt = time.Now()
		}
	}
	if info, ok := c.users[id]; ok {
		return info
	}

	u, err := c.api.GetUserInfoContext(ctx, id)
	if err != nil {
		log.Printf("slack users: info error user=%s: %v", id, err)
		return senderInfo{Name: id}
	}
	info := toSenderInfo(*u)
	if c.users == nil {
		c.users = make(map[string]senderInfo)
	}
	c.users[id] = info
	return info
}

func toSenderInfo(u slack.User) senderInfo {
	name := strings.TrimSpace(u.RealName)
	if name == "" {
		name = strings.TrimSpace(u.Profile.DisplayName)
	}
	if name == "" {
		name = u.Name
	}
	return senderInfo{Name: name, Email: u.Profile.Email, IsBot: u.IsBot}
}
