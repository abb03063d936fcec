package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/tournament-history/models"
)

var (
	ErrHistoryDuplicate = errors.New("history entry already recorded for this tournament and user")
	ErrHistoryInvalid   = errors.New("history entry violates a storage constraint")
)

// HistoryFilter описывает выборку истории одного пользователя.
// Нулевые значения полей означают "без фильтра".
type HistoryFilter struct {
	UserID       string
	StartDate    *time.Time
	EndDate      *time.Time
	GameSlug     *string
	MinPlacement *int
	MaxPlacement *int
	EntryFee     models.EntryFeeFilter
	SortBy       models.HistorySortField
	SortOrder    models.SortOrder
	Limit        int // 0 = без ограничения
	Offset       int
}

type HistoryRepository interface {
	Create(ctx context.Context, entry *models.HistoryEntry) error
	Exists(ctx context.Context, tournamentID, userID string) (bool, error)
	List(ctx context.Context, filter HistoryFilter) ([]*models.HistoryEntry, error)
}

type postgresHistoryRepository struct {
	db SQLExecutor
}

func NewPostgresHistoryRepository(db SQLExecutor) HistoryRepository {
	return &postgresHistoryRepository{db: db}
}

func (r *postgresHistoryRepository) Create(ctx context.Context, e *models.HistoryEntry) error {
	query := `
		INSERT INTO history_entries
			(id, tournament_id, user_id, game_slug, placement, matches_played, matches_won,
			 total_score, prize_won, entry_fee, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.TournamentID, e.UserID, nullString(e.GameSlug), e.Placement, e.MatchesPlayed, e.MatchesWon,
		e.TotalScore, e.PrizeWon, e.EntryFee, e.CompletedAt,
	)
	if err != nil {
		if constraint, ok := constraintViolation(err, pqUniqueViolation); ok && constraint == "history_entries_tournament_user_key" {
			return ErrHistoryDuplicate
		}
		if _, ok := constraintViolation(err, pqCheckViolation); ok {
			return fmt.Errorf("%w: %w", ErrHistoryInvalid, err)
		}
		return err
	}
	return nil
}

func (r *postgresHistoryRepository) Exists(ctx context.Context, tournamentID, userID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM history_entries WHERE tournament_id = $1 AND user_id = $2)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, tournamentID, userID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *postgresHistoryRepository) List(ctx context.Context, filter HistoryFilter) ([]*models.HistoryEntry, error) {
	query := `
		SELECT id, tournament_id, user_id, game_slug, placement, matches_played, matches_won,
		       total_score, prize_won, entry_fee, completed_at
		FROM history_entries
		WHERE user_id = $1`

	args := []interface{}{filter.UserID}
	argID := 2

	if filter.StartDate != nil {
		query += fmt.Sprintf(" AND completed_at >= $%d", argID)
		args = append(args, *filter.StartDate)
		argID++
	}
	if filter.EndDate != nil {
		query += fmt.Sprintf(" AND completed_at <= $%d", argID)
		args = append(args, *filter.EndDate)
		argID++
	}
	if filter.GameSlug != nil {
		query += fmt.Sprintf(" AND game_slug = $%d", argID)
		args = append(args, *filter.GameSlug)
		argID++
	}
	if filter.MinPlacement != nil {
		query += fmt.Sprintf(" AND placement >= $%d", argID)
		args = append(args, *filter.MinPlacement)
		argID++
	}
	if filter.MaxPlacement != nil {
		query += fmt.Sprintf(" AND placement <= $%d", argID)
		args = append(args, *filter.MaxPlacement)
		argID++
	}
	switch filter.EntryFee {
	case models.EntryFeeFree:
		query += " AND COALESCE(entry_fee, 0) = 0"
	case models.EntryFeePaid:
		query += " AND entry_fee > 0"
	}

	query += " ORDER BY " + historyOrderClause(filter.SortBy, filter.SortOrder)

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argID)
		args = append(args, filter.Limit)
		argID++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argID)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*models.HistoryEntry, 0)
	for rows.Next() {
		entry, scanErr := scanHistoryEntry(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		entries = append(entries, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// historyOrderClause must stay in sync with compareHistory in the memory repository.
func historyOrderClause(sortBy models.HistorySortField, order models.SortOrder) string {
	dir := "DESC"
	if order == models.SortAsc {
		dir = "ASC"
	}
	switch sortBy {
	case models.SortByPlacement:
		return "placement " + dir + ", completed_at DESC, id ASC"
	case models.SortByScore:
		return "total_score " + dir + ", completed_at DESC, id ASC"
	default:
		return "completed_at " + dir + ", id " + dir
	}
}

func scanHistoryEntry(row rowScanner) (*models.HistoryEntry, error) {
	var (
		e        models.HistoryEntry
		gameSlug sql.NullString
		prize    sql.NullFloat64
		fee      sql.NullFloat64
	)
	err := row.Scan(
		&e.ID, &e.TournamentID, &e.UserID, &gameSlug, &e.Placement, &e.MatchesPlayed, &e.MatchesWon,
		&e.TotalScore, &prize, &fee, &e.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	e.GameSlug = stringPtr(gameSlug)
	e.PrizeWon = float64Ptr(prize)
	e.EntryFee = float64Ptr(fee)
	return &e, nil
}
