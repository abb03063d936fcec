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
	ErrSpectatorSessionNotFound = errors.New("active spectator session not found")
	ErrSpectatorAlreadyActive   = errors.New("viewer already has an active session for this game session")
)

type SpectatorRepository interface {
	// Create возвращает ErrSpectatorAlreadyActive, если у зрителя уже есть активная сессия.
	Create(ctx context.Context, s *models.SpectatorSession) error
	FindActive(ctx context.Context, gameSessionID string, viewer models.Identity) (*models.SpectatorSession, error)
	MarkLeft(ctx context.Context, sessionID string, leftAt time.Time) error
	ListByGameSession(ctx context.Context, gameSessionID string, activeOnly bool) ([]*models.SpectatorSession, error)
	ListByMatch(ctx context.Context, tournamentMatchID string, activeOnly bool) ([]*models.SpectatorSession, error)
	ListActiveJoinedBefore(ctx context.Context, cutoff time.Time) ([]*models.SpectatorSession, error)

	// BumpPeak сохраняет max(peak, current) и возвращает новое значение пика.
	BumpPeak(ctx context.Context, key models.StatsKey, current int) (int, error)
	GetPeak(ctx context.Context, key models.StatsKey) (int, error)
}

type postgresSpectatorRepository struct {
	db SQLExecutor
}

func NewPostgresSpectatorRepository(db SQLExecutor) SpectatorRepository {
	return &postgresSpectatorRepository{db: db}
}

const spectatorColumns = `id, game_session_id, tournament_match_id, viewer_kind, viewer_id, joined_at, left_at`

func (r *postgresSpectatorRepository) Create(ctx context.Context, s *models.SpectatorSession) error {
	query := `
		INSERT INTO spectator_sessions (id, game_session_id, tournament_match_id, viewer_kind, viewer_id, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.GameSessionID, nullString(s.TournamentMatchID), string(s.Viewer.Kind()), s.Viewer.ID(), s.JoinedAt,
	)
	if err != nil {
		if constraint, ok := constraintViolation(err, pqUniqueViolation); ok && constraint == "spectator_sessions_active_viewer_idx" {
			return ErrSpectatorAlreadyActive
		}
		return err
	}
	return nil
}

func (r *postgresSpectatorRepository) FindActive(ctx context.Context, gameSessionID string, viewer models.Identity) (*models.SpectatorSession, error) {
	query := `SELECT ` + spectatorColumns + `
		FROM spectator_sessions
		WHERE game_session_id = $1 AND viewer_kind = $2 AND viewer_id = $3 AND left_at IS NULL`

	s, err := scanSpectatorSession(r.db.QueryRowContext(ctx, query, gameSessionID, string(viewer.Kind()), viewer.ID()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSpectatorSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

func (r *postgresSpectatorRepository) MarkLeft(ctx context.Context, sessionID string, leftAt time.Time) error {
	query := `UPDATE spectator_sessions SET left_at = $1 WHERE id = $2 AND left_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, leftAt, sessionID)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrSpectatorSessionNotFound)
}

func (r *postgresSpectatorRepository) ListByGameSession(ctx context.Context, gameSessionID string, activeOnly bool) ([]*models.SpectatorSession, error) {
	query := `SELECT ` + spectatorColumns + ` FROM spectator_sessions WHERE game_session_id = $1`
	if activeOnly {
		query += " AND left_at IS NULL"
	}
	query += " ORDER BY joined_at ASC, id ASC"
	return r.list(ctx, query, gameSessionID)
}

func (r *postgresSpectatorRepository) ListByMatch(ctx context.Context, tournamentMatchID string, activeOnly bool) ([]*models.SpectatorSession, error) {
	query := `SELECT ` + spectatorColumns + ` FROM spectator_sessions WHERE tournament_match_id = $1`
	if activeOnly {
		query += " AND left_at IS NULL"
	}
	query += " ORDER BY joined_at ASC, id ASC"
	return r.list(ctx, query, tournamentMatchID)
}

func (r *postgresSpectatorRepository) ListActiveJoinedBefore(ctx context.Context, cutoff time.Time) ([]*models.SpectatorSession, error) {
	query := `SELECT ` + spectatorColumns + `
		FROM spectator_sessions
		WHERE left_at IS NULL AND joined_at < $1
		ORDER BY joined_at ASC, id ASC`
	return r.list(ctx, query, cutoff)
}

func (r *postgresSpectatorRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.SpectatorSession, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]*models.SpectatorSession, 0)
	for rows.Next() {
		s, scanErr := scanSpectatorSession(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		sessions = append(sessions, s)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *postgresSpectatorRepository) BumpPeak(ctx context.Context, key models.StatsKey, current int) (int, error) {
	query := `
		INSERT INTO spectator_peaks (key_kind, key_id, peak) VALUES ($1, $2, $3)
		ON CONFLICT (key_kind, key_id) DO UPDATE SET peak = GREATEST(spectator_peaks.peak, EXCLUDED.peak)
		RETURNING peak`
	var peak int
	if err := r.db.QueryRowContext(ctx, query, string(key.Kind), key.ID, current).Scan(&peak); err != nil {
		return 0, fmt.Errorf("failed to bump peak for %s: %w", key, err)
	}
	return peak, nil
}

func (r *postgresSpectatorRepository) GetPeak(ctx context.Context, key models.StatsKey) (int, error) {
	query := `SELECT peak FROM spectator_peaks WHERE key_kind = $1 AND key_id = $2`
	var peak int
	err := r.db.QueryRowContext(ctx, query, string(key.Kind), key.ID).Scan(&peak)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return peak, nil
}

func scanSpectatorSession(row rowScanner) (*models.SpectatorSession, error) {
	var (
		s         models.SpectatorSession
		matchID   sql.NullString
		kind, vid string
		leftAt    sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.GameSessionID, &matchID, &kind, &vid, &s.JoinedAt, &leftAt); err != nil {
		return nil, err
	}
	viewer, err := models.ParseIdentity(kind, vid)
	if err != nil {
		return nil, fmt.Errorf("spectator session %s: %w", s.ID, err)
	}
	s.Viewer = viewer
	s.TournamentMatchID = stringPtr(matchID)
	s.LeftAt = timePtr(leftAt)
	return &s, nil
}
