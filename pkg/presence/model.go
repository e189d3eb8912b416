package presence

import "time"

const (
	EventJoined = "presence.joined"
	EventLeft   = "presence.left"
)

// Record is the stored flag. Readers must go through Effective.
type Record struct {
	UserID     string
	IsOnline   bool
	LastSeenAt time.Time
}

// Effective reports whether rec counts as online at now. A flag whose heartbeat is older
// than stale is treated as offline.
func Effective(rec Record, now time.Time, stale time.Duration) bool {
	if !rec.IsOnline || rec.LastSeenAt.IsZero() {
		return false
	}
	return now.Sub(rec.LastSeenAt) <= stale
}

type Status struct {
	UserID     string     `json:"user_id"`
	IsOnline   bool       `json:"is_online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

func statusOf(rec Record, now time.Time, stale time.Duration) Status {
	s := Status{UserID: rec.UserID, IsOnline: Effective(rec, now, stale)}
	if !rec.LastSeenAt.IsZero() {
		seen := rec.LastSeenAt
		s.LastSeenAt = &seen
	}
	return s
}
