package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type ViewerKind string

const (
	ViewerAuthenticated ViewerKind = "user"
	ViewerGuest         ViewerKind = "guest"
)

var ErrInvalidIdentity = errors.New("exactly one of user id or guest id must be set")

// Identity is either an authenticated user or an anonymous guest, never both.
// The zero value is invalid; build one with AuthenticatedViewer or GuestViewer.
type Identity struct {
	kind ViewerKind
	id   string
}

func AuthenticatedViewer(userID string) Identity {
	return Identity{kind: ViewerAuthenticated, id: userID}
}

func GuestViewer(guestID string) Identity {
	return Identity{kind: ViewerGuest, id: guestID}
}

// IdentityFrom builds an Identity from the two optional request fields.
func IdentityFrom(userID, guestID string) (Identity, error) {
	switch {
	case userID != "" && guestID == "":
		return AuthenticatedViewer(userID), nil
	case guestID != "" && userID == "":
		return GuestViewer(guestID), nil
	default:
		return Identity{}, ErrInvalidIdentity
	}
}

// ParseIdentity restores an Identity from its stored kind and id.
func ParseIdentity(kind, id string) (Identity, error) {
	if id == "" {
		return Identity{}, ErrInvalidIdentity
	}
	switch ViewerKind(kind) {
	case ViewerAuthenticated:
		return AuthenticatedViewer(id), nil
	case ViewerGuest:
		return GuestViewer(id), nil
	default:
		return Identity{}, fmt.Errorf("unknown viewer kind %q", kind)
	}
}

func (i Identity) Kind() ViewerKind { return i.kind }
func (i Identity) ID() string       { return i.id }
func (i Identity) IsGuest() bool    { return i.kind == ViewerGuest }
func (i Identity) Valid() bool      { return i.kind != "" && i.id != "" }

// UserID returns the authenticated user id, or "" for guests.
func (i Identity) UserID() string {
	if i.kind == ViewerAuthenticated {
		return i.id
	}
	return ""
}

// GuestID returns the guest id, or "" for authenticated viewers.
func (i Identity) GuestID() string {
	if i.kind == ViewerGuest {
		return i.id
	}
	return ""
}

func (i Identity) String() string {
	return string(i.kind) + ":" + i.id
}

// SpectatorSession - одна сессия просмотра (активная или завершённая).
type SpectatorSession struct {
	ID                string     `db:"id"`
	GameSessionID     string     `db:"game_session_id"`
	TournamentMatchID *string    `db:"tournament_match_id"`
	Viewer            Identity   `db:"-"`
	JoinedAt          time.Time  `db:"joined_at"`
	LeftAt            *time.Time `db:"left_at"`
}

func (s *SpectatorSession) IsActive() bool {
	return s.LeftAt == nil
}

// Duration is measured up to now for sessions that are still active.
func (s *SpectatorSession) Duration(now time.Time) time.Duration {
	end := now
	if s.LeftAt != nil {
		end = *s.LeftAt
	}
	return end.Sub(s.JoinedAt)
}

type spectatorSessionJSON struct {
	ID                string     `json:"id"`
	GameSessionID     string     `json:"game_session_id"`
	TournamentMatchID *string    `json:"tournament_match_id,omitempty"`
	ViewerID          *string    `json:"viewer_id,omitempty"`
	ViewerGuestID     *string    `json:"viewer_guest_id,omitempty"`
	JoinedAt          time.Time  `json:"joined_at"`
	LeftAt            *time.Time `json:"left_at"`
}

func (s SpectatorSession) MarshalJSON() ([]byte, error) {
	out := spectatorSessionJSON{
		ID:                s.ID,
		GameSessionID:     s.GameSessionID,
		TournamentMatchID: s.TournamentMatchID,
		JoinedAt:          s.JoinedAt,
		LeftAt:            s.LeftAt,
	}
	id := s.Viewer.ID()
	if s.Viewer.IsGuest() {
		out.ViewerGuestID = &id
	} else {
		out.ViewerID = &id
	}
	return json.Marshal(out)
}

// StatsKeyKind отличает статистику игровой сессии от статистики матча.
type StatsKeyKind string

const (
	StatsByGameSession StatsKeyKind = "game_session"
	StatsByMatch       StatsKeyKind = "tournament_match"
)

type StatsKey struct {
	Kind StatsKeyKind
	ID   string
}

func ForGameSession(gameSessionID string) StatsKey {
	return StatsKey{Kind: StatsByGameSession, ID: gameSessionID}
}

func ForMatch(tournamentMatchID string) StatsKey {
	return StatsKey{Kind: StatsByMatch, ID: tournamentMatchID}
}

func (k StatsKey) String() string {
	return string(k.Kind) + ":" + k.ID
}

type SpectatorStats struct {
	TotalViewers        int           `json:"total_viewers"`
	CurrentViewers      int           `json:"current_viewers"`
	PeakViewers         int           `json:"peak_viewers"`
	TotalChatMessages   int           `json:"total_chat_messages"`
	AverageViewDuration time.Duration `json:"-"`
	AverageViewSeconds  float64       `json:"average_view_duration_seconds"`
}
