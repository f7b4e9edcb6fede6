package telegram

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gotd/td/tg"
)

// UserPeerCache stores Telegram user peers discovered from inbound updates.
//
// Bots cannot address a user without the access hash attached to that user's
// entity data, so outbound delivery resolves owner ids through this cache.
// Display names ride along for notification rendering.
type UserPeerCache struct {
	mu     sync.RWMutex
	byUser map[int64]cachedUser
}

type cachedUser struct {
	peer        tg.InputPeerUser
	displayName string
}

// NewUserPeerCache creates an empty, concurrency-safe user peer cache.
func NewUserPeerCache() *UserPeerCache {
	return &UserPeerCache{
		byUser: make(map[int64]cachedUser),
	}
}

// RememberUsers ingests user entities attached to one update container.
func (c *UserPeerCache) RememberUsers(users []tg.UserClass) {
	if c == nil || len(users) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, userClass := range users {
		user, ok := userClass.(*tg.User)
		if !ok {
			continue
		}
		c.byUser[user.ID] = cachedUser{
			peer: tg.InputPeerUser{
				UserID:     user.ID,
				AccessHash: user.AccessHash,
			},
			displayName: userDisplayName(user),
		}
	}
}

// Resolve returns the input peer for an outbound target user.
func (c *UserPeerCache) Resolve(userID int64) (tg.InputPeerUser, error) {
	if c == nil {
		return tg.InputPeerUser{}, fmt.Errorf("resolve user peer: nil cache")
	}
	if userID == 0 {
		return tg.InputPeerUser{}, fmt.Errorf("resolve user peer: missing user id")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, ok := c.byUser[userID]
	if !ok {
		return tg.InputPeerUser{}, fmt.Errorf("resolve user peer: user %d not seen yet", userID)
	}

	return cached.peer, nil
}

// DisplayName returns the human label remembered for a user, or "".
func (c *UserPeerCache) DisplayName(userID int64) string {
	if c == nil {
		return ""
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.byUser[userID].displayName
}

// userDisplayName joins the name parts Telegram provides for a user.
func userDisplayName(user *tg.User) string {
	if user == nil {
		return ""
	}

	name := strings.TrimSpace(strings.TrimSpace(user.FirstName) + " " + strings.TrimSpace(user.LastName))
	if name != "" {
		return name
	}
	if username, ok := user.GetUsername(); ok {
		return username
	}

	return ""
}
