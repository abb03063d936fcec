package models

import (
	"regexp"
	"slices"
	"time"
)

var accessCodePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// IsValidAccessCode reports whether code has the access code format.
func IsValidAccessCode(code string) bool {
	return accessCodePattern.MatchString(code)
}

// PrivateTournament - закрытый турнир, вход по коду доступа.
type PrivateTournament struct {
	ID              string    `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	GameSlug        string    `json:"game_slug" db:"game_slug"`
	OrganizerID     string    `json:"organizer_id" db:"organizer_id"`
	MaxParticipants int       `json:"max_participants" db:"max_participants"`
	IsPrivate       bool      `json:"is_private" db:"is_private"`
	FriendsOnly     bool      `json:"friends_only" db:"friends_only"`
	AllowedUsers    []string  `json:"allowed_users,omitempty" db:"allowed_users"`
	AccessCode      string    `json:"access_code" db:"access_code"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// IsAllowed reports whether userID passes the friends-only allowlist.
// An empty allowlist, or a tournament that is not friends-only, admits everyone.
func (t *PrivateTournament) IsAllowed(userID string) bool {
	if !t.FriendsOnly || len(t.AllowedUsers) == 0 {
		return true
	}
	return slices.Contains(t.AllowedUsers, userID)
}
