package models

import "time"

// HistoryEntry - одно завершённое участие пользователя в турнире.
type HistoryEntry struct {
	ID            string    `json:"id" db:"id"`
	TournamentID  string    `json:"tournament_id" db:"tournament_id"`
	UserID        string    `json:"user_id" db:"user_id"`
	GameSlug      *string   `json:"game_slug,omitempty" db:"game_slug"`
	Placement     int       `json:"placement" db:"placement"` // 1 = лучший результат
	MatchesPlayed int       `json:"matches_played" db:"matches_played"`
	MatchesWon    int       `json:"matches_won" db:"matches_won"`
	TotalScore    int       `json:"total_score" db:"total_score"`
	PrizeWon      *float64  `json:"prize_won,omitempty" db:"prize_won"`
	EntryFee      *float64  `json:"entry_fee,omitempty" db:"entry_fee"`
	CompletedAt   time.Time `json:"completed_at" db:"completed_at"`
}

// Prize returns the prize amount, treating an absent prize as zero.
func (e *HistoryEntry) Prize() float64 {
	if e.PrizeWon == nil {
		return 0
	}
	return *e.PrizeWon
}

// Fee returns the entry fee, treating an absent fee as a free tournament.
func (e *HistoryEntry) Fee() float64 {
	if e.EntryFee == nil {
		return 0
	}
	return *e.EntryFee
}

// Slug returns the game slug or "" when the entry has none.
func (e *HistoryEntry) Slug() string {
	if e.GameSlug == nil {
		return ""
	}
	return *e.GameSlug
}

type HistorySortField string

const (
	SortByDate      HistorySortField = "date"
	SortByPlacement HistorySortField = "placement"
	SortByScore     HistorySortField = "score"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

type EntryFeeFilter string

const (
	EntryFeeFree EntryFeeFilter = "free"
	EntryFeePaid EntryFeeFilter = "paid"
)
