package services

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/Dosada05/tournament-history/models"
	"golang.org/x/sync/errgroup"
)

const leaderboardLoadConcurrency = 8

type LeaderboardOptions struct {
	SortBy   *models.LeaderboardSortField
	GameSlug *string
}

type StatisticsEngine interface {
	UserStatistics(ctx context.Context, userID string) (*models.UserStatistics, error)
	FriendLeaderboard(ctx context.Context, userID string, friendIDs []string, opts LeaderboardOptions) ([]*models.LeaderboardEntry, error)
}

type statisticsEngine struct {
	results ResultStore
	logger  *slog.Logger
}

func NewStatisticsEngine(results ResultStore, logger *slog.Logger) StatisticsEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &statisticsEngine{results: results, logger: logger}
}

func (s *statisticsEngine) UserStatistics(ctx context.Context, userID string) (*models.UserStatistics, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidationFailed)
	}
	histories, err := s.results.ListForUsers(ctx, []string{userID})
	if err != nil {
		return nil, err
	}
	return ComputeUserStatistics(userID, histories[userID]), nil
}

// ComputeUserStatistics aggregates entries in the order given; favorite game ties go to the slug seen first.
func ComputeUserStatistics(userID string, entries []*models.HistoryEntry) *models.UserStatistics {
	stats := &models.UserStatistics{
		UserID:      userID,
		GamesPlayed: make(map[string]int),
	}
	if len(entries) == 0 {
		return stats
	}

	placementSum := 0
	best := entries[0].Placement
	var gameOrder []string
	for _, e := range entries {
		stats.TotalTournaments++
		if e.Placement == 1 {
			stats.TournamentsWon++
		}
		placementSum += e.Placement
		best = min(best, e.Placement)
		stats.TotalPrizeWon += e.Prize()
		stats.TotalMatchesPlayed += e.MatchesPlayed
		stats.TotalMatchesWon += e.MatchesWon

		if slug := e.Slug(); slug != "" {
			if _, seen := stats.GamesPlayed[slug]; !seen {
				gameOrder = append(gameOrder, slug)
			}
			stats.GamesPlayed[slug]++
		}
	}

	stats.WinRate = percent(stats.TournamentsWon, stats.TotalTournaments)
	stats.AveragePlacement = float64(placementSum) / float64(stats.TotalTournaments)
	stats.BestPlacement = &best
	// Отношение сумм, а не среднее по турнирам.
	stats.MatchWinRate = percent(stats.TotalMatchesWon, stats.TotalMatchesPlayed)

	favoriteCount := 0
	for _, slug := range gameOrder {
		if n := stats.GamesPlayed[slug]; n > favoriteCount {
			favoriteCount = n
			fav := slug
			stats.FavoriteGame = &fav
		}
	}
	return stats
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func distinctGames(entries []*models.HistoryEntry) []string {
	games := make([]string, 0)
	for _, e := range entries {
		if slug := e.Slug(); slug != "" && !slices.Contains(games, slug) {
			games = append(games, slug)
		}
	}
	return games
}

func leaderboardParticipants(userID string, friendIDs []string) []string {
	ids := []string{userID}
	for _, id := range friendIDs {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *statisticsEngine) FriendLeaderboard(ctx context.Context, userID string, friendIDs []string, opts LeaderboardOptions) ([]*models.LeaderboardEntry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidationFailed)
	}
	sortBy := models.LeaderboardByWins
	if opts.SortBy != nil {
		switch *opts.SortBy {
		case models.LeaderboardByWins, models.LeaderboardByWinRate, models.LeaderboardByPrize,
			models.LeaderboardByTournaments, models.LeaderboardByAveragePlacement:
			sortBy = *opts.SortBy
		default:
			return nil, fmt.Errorf("%w: unknown leaderboard sort %q", ErrValidationFailed, *opts.SortBy)
		}
	}
	gameSlug := NormalizeGameSlug(opts.GameSlug)

	ids := leaderboardParticipants(userID, friendIDs)
	histories := make([][]*models.HistoryEntry, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(leaderboardLoadConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			loaded, err := s.results.ListForUsers(gctx, []string{id})
			if err != nil {
				return err
			}
			histories[i] = loaded[id]
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rows := make([]*models.LeaderboardEntry, 0, len(ids))
	for i, id := range ids {
		games := distinctGames(histories[i])
		if gameSlug != nil && !slices.Contains(games, *gameSlug) {
			continue
		}
		stats := ComputeUserStatistics(id, histories[i])
		rows = append(rows, &models.LeaderboardEntry{
			UserID:             id,
			IsRequester:        id == userID,
			TotalTournaments:   stats.TotalTournaments,
			TournamentsWon:     stats.TournamentsWon,
			WinRate:            stats.WinRate,
			AveragePlacement:   stats.AveragePlacement,
			TotalPrizeWon:      stats.TotalPrizeWon,
			TotalMatchesPlayed: stats.TotalMatchesPlayed,
			TotalMatchesWon:    stats.TotalMatchesWon,
			GamesPlayed:        games,
		})
	}

	slices.SortFunc(rows, func(a, b *models.LeaderboardEntry) int {
		if c := compareLeaderboardField(a, b, sortBy); c != 0 {
			return c
		}
		if c := cmp.Compare(b.TotalPrizeWon, a.TotalPrizeWon); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	for i, row := range rows {
		row.Rank = i + 1
	}

	s.logger.Debug("friend leaderboard computed",
		slog.String("user_id", userID),
		slog.Int("rows", len(rows)),
		slog.String("sort_by", string(sortBy)))
	return rows, nil
}

// compareLeaderboardField orders better rows first.
func compareLeaderboardField(a, b *models.LeaderboardEntry, field models.LeaderboardSortField) int {
	switch field {
	case models.LeaderboardByWinRate:
		return cmp.Compare(b.WinRate, a.WinRate)
	case models.LeaderboardByPrize:
		return cmp.Compare(b.TotalPrizeWon, a.TotalPrizeWon)
	case models.LeaderboardByTournaments:
		return cmp.Compare(b.TotalTournaments, a.TotalTournaments)
	case models.LeaderboardByAveragePlacement:
		// без турниров - в конце списка
		switch {
		case a.TotalTournaments == 0 && b.TotalTournaments == 0:
			return 0
		case a.TotalTournaments == 0:
			return 1
		case b.TotalTournaments == 0:
			return -1
		}
		return cmp.Compare(a.AveragePlacement, b.AveragePlacement)
	default:
		return cmp.Compare(b.TournamentsWon, a.TournamentsWon)
	}
}
