package repositories

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"sync"

	"github.com/Dosada05/tournament-history/models"
	"github.com/lib/pq"
)

var (
	ErrPrivateTournamentNotFound = errors.New("private tournament not found")
	ErrAccessCodeConflict        = errors.New("access code already in use")
)

type PrivateTournamentRepository interface {
	// Create сохраняет турнир. Возвращает ErrAccessCodeConflict, если код уже занят.
	Create(ctx context.Context, t *models.PrivateTournament) error
	GetByID(ctx context.Context, id string) (*models.PrivateTournament, error)
	GetByAccessCode(ctx context.Context, code string) (*models.PrivateTournament, error)
	UpdateAllowedUsers(ctx context.Context, id string, allowedUsers []string) error
}

type postgresPrivateTournamentRepository struct {
	db SQLExecutor
}

func NewPostgresPrivateTournamentRepository(db SQLExecutor) PrivateTournamentRepository {
	return &postgresPrivateTournamentRepository{db: db}
}

func (r *postgresPrivateTournamentRepository) Create(ctx context.Context, t *models.PrivateTournament) error {
	query := `
		INSERT INTO private_tournaments
			(id, name, game_slug, organizer_id, max_participants, is_private, friends_only, allowed_users, access_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query,
		t.ID, t.Name, t.GameSlug, t.OrganizerID, t.MaxParticipants, t.IsPrivate, t.FriendsOnly,
		pq.Array(t.AllowedUsers), t.AccessCode,
	).Scan(&t.CreatedAt)
	if err != nil {
		if constraint, ok := constraintViolation(err, pqUniqueViolation); ok && constraint == "private_tournaments_access_code_key" {
			return ErrAccessCodeConflict
		}
		return err
	}
	return nil
}

const privateTournamentColumns = `id, name, game_slug, organizer_id, max_participants, is_private, friends_only, allowed_users, access_code, created_at`

func (r *postgresPrivateTournamentRepository) GetByID(ctx context.Context, id string) (*models.PrivateTournament, error) {
	query := `SELECT ` + privateTournamentColumns + ` FROM private_tournaments WHERE id = $1`
	return scanPrivateTournament(r.db.QueryRowContext(ctx, query, id))
}

func (r *postgresPrivateTournamentRepository) GetByAccessCode(ctx context.Context, code string) (*models.PrivateTournament, error) {
	query := `SELECT ` + privateTournamentColumns + ` FROM private_tournaments WHERE access_code = $1`
	return scanPrivateTournament(r.db.QueryRowContext(ctx, query, code))
}

func (r *postgresPrivateTournamentRepository) UpdateAllowedUsers(ctx context.Context, id string, allowedUsers []string) error {
	query := `UPDATE private_tournaments SET allowed_users = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, pq.Array(allowedUsers), id)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrPrivateTournamentNotFound)
}

func scanPrivateTournament(row rowScanner) (*models.PrivateTournament, error) {
	var t models.PrivateTournament
	var allowed pq.StringArray
	err := row.Scan(
		&t.ID, &t.Name, &t.GameSlug, &t.OrganizerID, &t.MaxParticipants, &t.IsPrivate, &t.FriendsOnly,
		&allowed, &t.AccessCode, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPrivateTournamentNotFound
		}
		return nil, err
	}
	t.AllowedUsers = []string(allowed)
	return &t, nil
}

type memoryPrivateTournamentRepository struct {
	mu     sync.RWMutex
	byID   map[string]*models.PrivateTournament
	byCode map[string]string
}

func NewMemoryPrivateTournamentRepository() PrivateTournamentRepository {
	return &memoryPrivateTournamentRepository{
		byID:   make(map[string]*models.PrivateTournament),
		byCode: make(map[string]string),
	}
}

func (r *memoryPrivateTournamentRepository) Create(_ context.Context, t *models.PrivateTournament) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byCode[t.AccessCode]; taken {
		return ErrAccessCodeConflict
	}
	r.byID[t.ID] = clonePrivateTournament(t)
	r.byCode[t.AccessCode] = t.ID
	return nil
}

func (r *memoryPrivateTournamentRepository) GetByID(_ context.Context, id string) (*models.PrivateTournament, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, ErrPrivateTournamentNotFound
	}
	return clonePrivateTournament(t), nil
}

func (r *memoryPrivateTournamentRepository) GetByAccessCode(ctx context.Context, code string) (*models.PrivateTournament, error) {
	r.mu.RLock()
	id, ok := r.byCode[code]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrPrivateTournamentNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *memoryPrivateTournamentRepository) UpdateAllowedUsers(_ context.Context, id string, allowedUsers []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return ErrPrivateTournamentNotFound
	}
	t.AllowedUsers = slices.Clone(allowedUsers)
	return nil
}

func clonePrivateTournament(t *models.PrivateTournament) *models.PrivateTournament {
	c := *t
	c.AllowedUsers = slices.Clone(t.AllowedUsers)
	return &c
}
