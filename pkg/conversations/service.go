package conversations

import (
	"context"
	"log"
	"sort"
	"strings"

	"github.com/google/uuid"

	"kisanmandi/pkg/apperr"
	"kisanmandi/pkg/presence"
	"kisanmandi/pkg/profiles"
)

// PresenceLookup is the slice of the presence tracker used to decorate summaries.
type PresenceLookup interface {
	Lookup(ctx context.Context, ids []string) (map[string]presence.Status, error)
}

type Service interface {
	Open(ctx context.Context, requester, other, subject string) (Conversation, bool, error)
	List(ctx context.Context, userID string, filter Filter) ([]Summary, error)
	Get(ctx context.Context, conversationID, userID string) (Conversation, error)
	// Authorize returns the participants when userID is one of them.
	Authorize(ctx context.Context, conversationID, userID string) ([]Participant, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	Hide(ctx context.Context, conversationID, userID string) error
	SetPinned(ctx context.Context, conversationID, userID string, pinned bool) error
}

type conversationService struct {
	repo     Repository
	profiles profiles.Directory
	presence PresenceLookup
	upsert   bool
	logger   *log.Logger
}

// NewService wires the store. useUpsert=false selects the deprecated scan path.
func NewService(repo Repository, dir profiles.Directory, pres PresenceLookup, useUpsert bool) Service {
	return &conversationService{
		repo:     repo,
		profiles: dir,
		presence: pres,
		upsert:   useUpsert,
		logger:   log.New(log.Writer(), "[conversations] ", log.LstdFlags),
	}
}

func (s *conversationService) Open(ctx context.Context, requester, other, subject string) (Conversation, bool, error) {
	if _, err := uuid.Parse(other); err != nil {
		return Conversation{}, false, apperr.Invalid("user_id must be a UUID")
	}
	if requester == other {
		return Conversation{}, false, apperr.Invalid("cannot start a conversation with yourself")
	}
	if _, err := s.profiles.GetProfile(ctx, other); err != nil {
		return Conversation{}, false, err
	}

	subject = strings.TrimSpace(subject)
	if s.upsert {
		return s.repo.FindOrCreate(ctx, requester, other, subject)
	}
	return s.repo.FindOrCreateByScan(ctx, requester, other, subject)
}

func (s *conversationService) List(ctx context.Context, userID string, filter Filter) ([]Summary, error) {
	rows, err := s.repo.ListFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.decorate(ctx, rows)

	out := make([]Summary, 0, len(rows))
	for _, row := range rows {
		if filter.matches(row) {
			out = append(out, row)
		}
	}
	SortSummaries(out)
	return out, nil
}

// decorate attaches peer profile and presence. Lookup failures leave summaries undecorated.
func (s *conversationService) decorate(ctx context.Context, rows []Summary) {
	if len(rows) == 0 {
		return
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.PeerID)
	}

	peers, err := s.profiles.GetProfiles(ctx, ids)
	if err != nil {
		s.logger.Printf("profile lookup failed: %v", err)
	}
	statuses, err := s.presence.Lookup(ctx, ids)
	if err != nil {
		s.logger.Printf("presence lookup failed: %v", err)
	}

	for i := range rows {
		row := &rows[i]
		row.Title = row.Subject
		p, ok := peers[row.PeerID]
		if !ok {
			if row.Title == "" {
				row.Title = "Conversation"
			}
			continue
		}
		status := statuses[row.PeerID]
		row.Peer = &Peer{Profile: p, Location: p.Location(), IsOnline: status.IsOnline, LastSeenAt: status.LastSeenAt}
		if p.DisplayName != "" {
			row.Title = p.DisplayName
		}
	}
}

func (f Filter) matches(s Summary) bool {
	switch f.Only {
	case FilterUnread:
		if s.UnreadCount == 0 {
			return false
		}
	case FilterPinned:
		if !s.IsPinned {
			return false
		}
	}

	q := strings.ToLower(strings.TrimSpace(f.Query))
	if q == "" {
		return true
	}
	fields := []string{s.Title, s.Subject, s.LastMessage}
	if s.Peer != nil {
		fields = append(fields, s.Peer.DisplayName, s.Peer.Location)
	}
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// SortSummaries orders pinned conversations first, then by most recent activity.
func SortSummaries(list []Summary) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.IsPinned != b.IsPinned {
			return a.IsPinned
		}
		if !a.LastActivityAt.Equal(b.LastActivityAt) {
			return a.LastActivityAt.After(b.LastActivityAt)
		}
		return a.ID < b.ID
	})
}

func (s *conversationService) Get(ctx context.Context, conversationID, userID string) (Conversation, error) {
	conv, err := s.repo.Get(ctx, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	ok, err := s.repo.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return Conversation{}, err
	}
	if !ok {
		s.logger.Printf("policy violation: user %s read conversation %s", userID, conversationID)
		return Conversation{}, apperr.PermissionDenied("not a participant of this conversation")
	}
	return conv, nil
}

func (s *conversationService) Authorize(ctx context.Context, conversationID, userID string) ([]Participant, error) {
	if _, err := s.repo.Get(ctx, conversationID); err != nil {
		return nil, err
	}
	parts, err := s.repo.Participants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	for _, p := range parts {
		if p.UserID == userID {
			return parts, nil
		}
	}
	s.logger.Printf("policy violation: user %s acted on conversation %s", userID, conversationID)
	return nil, apperr.PermissionDenied("not a participant of this conversation")
}

func (s *conversationService) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	return s.repo.IsParticipant(ctx, conversationID, userID)
}

func (s *conversationService) Hide(ctx context.Context, conversationID, userID string) error {
	if _, err := s.Authorize(ctx, conversationID, userID); err != nil {
		return err
	}
	return s.repo.Hide(ctx, conversationID, userID)
}

func (s *conversationService) SetPinned(ctx context.Context, conversationID, userID string, pinned bool) error {
	if _, err := s.Authorize(ctx, conversationID, userID); err != nil {
		return err
	}
	return s.repo.SetPinned(ctx, conversationID, userID, pinned)
}

// PeerOf returns the participant that is not userID.
func PeerOf(parts []Participant, userID string) (string, bool) {
	for _, p := range parts {
		if p.UserID != userID {
			return p.UserID, true
		}
	}
	return "", false
}
