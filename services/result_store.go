package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Dosada05/tournament-history/models"
	"github.com/Dosada05/tournament-history/repositories"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

var (
	ErrResultRecordFailed = errors.New("failed to record tournament result")
	ErrResultQueryFailed  = errors.New("failed to query tournament history")
)

type RecordResultInput struct {
	TournamentID  string    `json:"tournament_id"`
	UserID        string    `json:"user_id"`
	GameSlug      *string   `json:"game_slug"`
	Placement     int       `json:"placement"`
	MatchesPlayed int       `json:"matches_played"`
	MatchesWon    int       `json:"matches_won"`
	TotalScore    int       `json:"total_score"`
	PrizeWon      *float64  `json:"prize_won"`
	EntryFee      *float64  `json:"entry_fee"`
	CompletedAt   time.Time `json:"completed_at"` // нулевое значение = сейчас
}

// QueryOptions - фильтр по датам (включительно) и пагинация; nil = без ограничения.
type QueryOptions struct {
	StartDate *time.Time
	EndDate   *time.Time
	Limit     *int
	Offset    *int
}

type SearchCriteria struct {
	GameSlug     *string
	MinPlacement *int
	MaxPlacement *int
	EntryFee     *models.EntryFeeFilter
	SortBy       *models.HistorySortField
	SortOrder    *models.SortOrder
	Limit        *int
	Offset       *int
}

type ResultStore interface {
	Record(ctx context.Context, input RecordResultInput) (*models.HistoryEntry, error)
	Query(ctx context.Context, userID string, opts QueryOptions) ([]*models.HistoryEntry, error)
	Search(ctx context.Context, userID string, criteria SearchCriteria) ([]*models.HistoryEntry, error)
	ListForUsers(ctx context.Context, userIDs []string) (map[string][]*models.HistoryEntry, error)
}

type resultStore struct {
	historyRepo repositories.HistoryRepository
	locks       *keyedMutex
	logger      *slog.Logger
	now         func() time.Time
}

func NewResultStore(historyRepo repositories.HistoryRepository, logger *slog.Logger) ResultStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &resultStore{
		historyRepo: historyRepo,
		locks:       newKeyedMutex(),
		logger:      logger,
		now:         time.Now,
	}
}

// NormalizeGameSlug приводит произвольное название игры к slug; пустая строка = нет игры.
func NormalizeGameSlug(raw *string) *string {
	if raw == nil {
		return nil
	}
	s := slug.Make(strings.TrimSpace(*raw))
	if s == "" {
		return nil
	}
	return &s
}

func validateRecordInput(input RecordResultInput) error {
	switch {
	case strings.TrimSpace(input.TournamentID) == "":
		return fmt.Errorf("%w: tournament_id is required", ErrValidationFailed)
	case strings.TrimSpace(input.UserID) == "":
		return fmt.Errorf("%w: user_id is required", ErrValidationFailed)
	case input.Placement < 1:
		return fmt.Errorf("%w: placement must be at least 1", ErrValidationFailed)
	case input.MatchesPlayed < 0 || input.MatchesWon < 0:
		return fmt.Errorf("%w: match counts must not be negative", ErrValidationFailed)
	case input.MatchesWon > input.MatchesPlayed:
		return fmt.Errorf("%w: matches_won (%d) exceeds matches_played (%d)", ErrValidationFailed, input.MatchesWon, input.MatchesPlayed)
	case input.PrizeWon != nil && *input.PrizeWon < 0:
		return fmt.Errorf("%w: prize_won must not be negative", ErrValidationFailed)
	case input.EntryFee != nil && *input.EntryFee < 0:
		return fmt.Errorf("%w: entry_fee must not be negative", ErrValidationFailed)
	}
	return nil
}

// Record returns ErrDuplicateResult when the pair is already recorded; the stored entry is never replaced.
func (s *resultStore) Record(ctx context.Context, input RecordResultInput) (*models.HistoryEntry, error) {
	if err := validateRecordInput(input); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(input.TournamentID + "|" + input.UserID)
	defer unlock()

	exists, err := s.historyRepo.Exists(ctx, input.TournamentID, input.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResultRecordFailed, err)
	}
	if exists {
		return nil, ErrDuplicateResult
	}

	completedAt := input.CompletedAt
	if completedAt.IsZero() {
		completedAt = s.now()
	}

	entry := &models.HistoryEntry{
		ID:            uuid.NewString(),
		TournamentID:  input.TournamentID,
		UserID:        input.UserID,
		GameSlug:      NormalizeGameSlug(input.GameSlug),
		Placement:     input.Placement,
		MatchesPlayed: input.MatchesPlayed,
		MatchesWon:    input.MatchesWon,
		TotalScore:    input.TotalScore,
		PrizeWon:      input.PrizeWon,
		EntryFee:      input.EntryFee,
		CompletedAt:   completedAt.UTC(),
	}

	if err := s.historyRepo.Create(ctx, entry); err != nil {
		switch {
		case errors.Is(err, repositories.ErrHistoryDuplicate):
			// другой экземпляр сервиса успел раньше
			return nil, ErrDuplicateResult
		case errors.Is(err, repositories.ErrHistoryInvalid):
			return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrResultRecordFailed, err)
	}

	s.logger.Info("tournament result recorded",
		slog.String("entry_id", entry.ID),
		slog.String("tournament_id", entry.TournamentID),
		slog.String("user_id", entry.UserID),
		slog.Int("placement", entry.Placement))
	return entry, nil
}

func pagination(limit, offset *int) (int, int, error) {
	l, o := 0, 0
	if limit != nil {
		if *limit < 0 {
			return 0, 0, fmt.Errorf("%w: limit must not be negative", ErrInvalidPagination)
		}
		l = *limit
	}
	if offset != nil {
		if *offset < 0 {
			return 0, 0, fmt.Errorf("%w: offset must not be negative", ErrInvalidPagination)
		}
		o = *offset
	}
	return l, o, nil
}

func (s *resultStore) Query(ctx context.Context, userID string, opts QueryOptions) ([]*models.HistoryEntry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidationFailed)
	}
	if opts.StartDate != nil && opts.EndDate != nil && opts.StartDate.After(*opts.EndDate) {
		return nil, fmt.Errorf("%w: start date is after end date", ErrValidationFailed)
	}
	limit, offset, err := pagination(opts.Limit, opts.Offset)
	if err != nil {
		return nil, err
	}

	// Limit 0 с явно заданным limit означает пустую страницу.
	if opts.Limit != nil && limit == 0 {
		return []*models.HistoryEntry{}, nil
	}

	entries, err := s.historyRepo.List(ctx, repositories.HistoryFilter{
		UserID:    userID,
		StartDate: opts.StartDate,
		EndDate:   opts.EndDate,
		SortBy:    models.SortByDate,
		SortOrder: models.SortDesc,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResultQueryFailed, err)
	}
	return entries, nil
}

func (s *resultStore) Search(ctx context.Context, userID string, criteria SearchCriteria) ([]*models.HistoryEntry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidationFailed)
	}
	limit, offset, err := pagination(criteria.Limit, criteria.Offset)
	if err != nil {
		return nil, err
	}
	if criteria.Limit != nil && limit == 0 {
		return []*models.HistoryEntry{}, nil
	}

	filter := repositories.HistoryFilter{
		UserID:       userID,
		GameSlug:     NormalizeGameSlug(criteria.GameSlug),
		MinPlacement: criteria.MinPlacement,
		MaxPlacement: criteria.MaxPlacement,
		SortBy:       models.SortByDate,
		SortOrder:    models.SortDesc,
		Limit:        limit,
		Offset:       offset,
	}
	// Неизвестные значения критериев игнорируются.
	if criteria.EntryFee != nil {
		switch *criteria.EntryFee {
		case models.EntryFeeFree, models.EntryFeePaid:
			filter.EntryFee = *criteria.EntryFee
		}
	}
	if criteria.SortBy != nil {
		switch *criteria.SortBy {
		case models.SortByDate, models.SortByPlacement, models.SortByScore:
			filter.SortBy = *criteria.SortBy
		}
	}
	if criteria.SortOrder != nil {
		switch *criteria.SortOrder {
		case models.SortAsc, models.SortDesc:
			filter.SortOrder = *criteria.SortOrder
		}
	}

	entries, err := s.historyRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResultQueryFailed, err)
	}
	return entries, nil
}

// ListForUsers returns full histories keyed by user id; users without entries map to an empty slice.
func (s *resultStore) ListForUsers(ctx context.Context, userIDs []string) (map[string][]*models.HistoryEntry, error) {
	result := make(map[string][]*models.HistoryEntry, len(userIDs))
	for _, id := range userIDs {
		if _, seen := result[id]; seen {
			continue
		}
		entries, err := s.historyRepo.List(ctx, repositories.HistoryFilter{
			UserID:    id,
			SortBy:    models.SortByDate,
			SortOrder: models.SortAsc,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: user %s: %w", ErrResultQueryFailed, id, err)
		}
		result[id] = entries
	}
	return result, nil
}
