// Package presence tracks who is online. The stored flag is only a hint: every read applies
// the staleness threshold because heartbeats can stop without a clean offline write.
package presence

import (
	"context"
	"log"
	"time"

	"kisanmandi/pkg/realtime"
)

type Tracker struct {
	repo   Repository
	pub    realtime.Publisher
	stale  time.Duration
	now    func() time.Time
	logger *log.Logger
}

func NewTracker(repo Repository, pub realtime.Publisher, staleAfter time.Duration) *Tracker {
	return &Tracker{
		repo:   repo,
		pub:    pub,
		stale:  staleAfter,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.New(log.Writer(), "[presence] ", log.LstdFlags),
	}
}

func (t *Tracker) StaleAfter() time.Duration {
	return t.stale
}

// Touch records a heartbeat (online) or a clean leave (offline) and broadcasts a roster
// change when the effective state flips.
func (t *Tracker) Touch(ctx context.Context, userID string, online bool) (Status, error) {
	now := t.now()
	prev, found, err := t.repo.Upsert(ctx, userID, online, now)
	if err != nil {
		return Status{}, err
	}

	wasOnline := found && Effective(prev, now, t.stale)
	status := statusOf(Record{UserID: userID, IsOnline: online, LastSeenAt: now}, now, t.stale)

	switch {
	case online && !wasOnline:
		t.broadcast(ctx, EventJoined, status)
	case !online && wasOnline:
		t.broadcast(ctx, EventLeft, status)
	}
	return status, nil
}

func (t *Tracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	recs, err := t.repo.Lookup(ctx, []string{userID})
	if err != nil {
		return false, err
	}
	return Effective(recs[userID], t.now(), t.stale), nil
}

// Lookup returns a status for every id; users never seen are offline with no last_seen_at.
func (t *Tracker) Lookup(ctx context.Context, ids []string) (map[string]Status, error) {
	recs, err := t.repo.Lookup(ctx, ids)
	if err != nil {
		return nil, err
	}
	now := t.now()
	out := make(map[string]Status, len(ids))
	for _, id := range ids {
		rec, ok := recs[id]
		if !ok {
			rec = Record{UserID: id}
		}
		out[id] = statusOf(rec, now, t.stale)
	}
	return out, nil
}

// Roster lists every effectively online user.
func (t *Tracker) Roster(ctx context.Context) ([]Status, error) {
	now := t.now()
	recs, err := t.repo.ListOnline(ctx, now.Add(-t.stale))
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(recs))
	for _, rec := range recs {
		if Effective(rec, now, t.stale) {
			out = append(out, statusOf(rec, now, t.stale))
		}
	}
	return out, nil
}

// SweepStale turns off flags whose heartbeat stopped and announces the departures.
func (t *Tracker) SweepStale(ctx context.Context) (int, error) {
	ids, err := t.repo.MarkStaleOffline(ctx, t.now().Add(-t.stale))
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		t.broadcast(ctx, EventLeft, Status{UserID: id})
	}
	return len(ids), nil
}

func (t *Tracker) broadcast(ctx context.Context, eventType string, status Status) {
	if err := t.pub.Publish(ctx, realtime.PresenceTopic, eventType, status); err != nil {
		t.logger.Printf("broadcast %s for %s failed: %v", eventType, status.UserID, err)
	}
}
