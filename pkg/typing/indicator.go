package typing

import (
	"sort"
	"sync"
	"time"
)

// Indicator is the receiving side: who is typing where, with each entry expiring even if
// no explicit false ever arrives.
type Indicator struct {
	mu     sync.Mutex
	ttl    time.Duration
	active map[string]map[string]time.Time // conversation -> user -> expiry
}

func NewIndicator(ttl time.Duration) *Indicator {
	return &Indicator{ttl: ttl, active: make(map[string]map[string]time.Time)}
}

func (i *Indicator) Observe(sig Signal) {
	i.mu.Lock()
	defer i.mu.Unlock()

	users := i.active[sig.ConversationID]
	if !sig.IsTyping {
		delete(users, sig.UserID)
		return
	}
	if users == nil {
		users = make(map[string]time.Time)
		i.active[sig.ConversationID] = users
	}

	expiry := sig.ExpiresAt
	if expiry.IsZero() || expiry.Sub(sig.At) > i.ttl {
		expiry = sig.At.Add(i.ttl)
	}
	users[sig.UserID] = expiry
}

// Active returns the users still typing in the conversation at now, sorted.
func (i *Indicator) Active(conversationID string, now time.Time) []string {
	i.mu.Lock()
	defer i.mu.Unlock()

	users := i.active[conversationID]
	out := make([]string, 0, len(users))
	for userID, expiry := range users {
		if now.After(expiry) {
			delete(users, userID)
			continue
		}
		out = append(out, userID)
	}
	if len(users) == 0 {
		delete(i.active, conversationID)
	}
	sort.Strings(out)
	return out
}
