package models

// UserStatistics is derived from a user's history on every read and never stored.
type UserStatistics struct {
	UserID             string         `json:"user_id"`
	TotalTournaments   int            `json:"total_tournaments"`
	TournamentsWon     int            `json:"tournaments_won"`
	WinRate            float64        `json:"win_rate"`
	AveragePlacement   float64        `json:"average_placement"`
	BestPlacement      *int           `json:"best_placement,omitempty"`
	TotalPrizeWon      float64        `json:"total_prize_won"`
	TotalMatchesPlayed int            `json:"total_matches_played"`
	TotalMatchesWon    int            `json:"total_matches_won"`
	MatchWinRate       float64        `json:"match_win_rate"`
	FavoriteGame       *string        `json:"favorite_game,omitempty"`
	GamesPlayed        map[string]int `json:"games_played"`
}

type LeaderboardSortField string

const (
	LeaderboardByWins             LeaderboardSortField = "wins"
	LeaderboardByWinRate          LeaderboardSortField = "win_rate"
	LeaderboardByPrize            LeaderboardSortField = "prize"
	LeaderboardByTournaments      LeaderboardSortField = "tournaments"
	LeaderboardByAveragePlacement LeaderboardSortField = "average_placement"
)

// LeaderboardEntry - строка лидерборда друзей.
type LeaderboardEntry struct {
	Rank               int      `json:"rank"`
	UserID             string   `json:"user_id"`
	IsRequester        bool     `json:"is_requester"`
	TotalTournaments   int      `json:"total_tournaments"`
	TournamentsWon     int      `json:"tournaments_won"`
	WinRate            float64  `json:"win_rate"`
	AveragePlacement   float64  `json:"average_placement"`
	TotalPrizeWon      float64  `json:"total_prize_won"`
	TotalMatchesPlayed int      `json:"total_matches_played"`
	TotalMatchesWon    int      `json:"total_matches_won"`
	GamesPlayed        []string `json:"games_played"`
}
