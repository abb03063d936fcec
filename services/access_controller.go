package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/Dosada05/tournament-history/models"
	"github.com/Dosada05/tournament-history/repositories"
	"github.com/google/uuid"
)

const (
	accessCodeLength   = 6
	accessCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeAttempts    = 5
)

var (
	ErrPrivateTournamentCreationFailed = errors.New("failed to create private tournament")
	ErrAccessCodeGeneration            = errors.New("failed to generate unique access code")
	ErrAccessCheckFailed               = errors.New("failed to check tournament access")
)

type CreatePrivateTournamentInput struct {
	Name            string   `json:"name"`
	GameSlug        string   `json:"game_slug"`
	OrganizerID     string   `json:"organizer_id"`
	MaxParticipants int      `json:"max_participants"`
	FriendsOnly     bool     `json:"friends_only"`
	AllowedUsers    []string `json:"allowed_users"`
}

type AccessController interface {
	CreatePrivateTournament(ctx context.Context, input CreatePrivateTournamentInput) (*models.PrivateTournament, error)
	ValidateAccess(ctx context.Context, tournamentID, userID, suppliedCode string) (bool, error)
	GetPrivateTournament(ctx context.Context, tournamentID string) (*models.PrivateTournament, error)
	FindByAccessCode(ctx context.Context, code string) (*models.PrivateTournament, error)
	AddAllowedUsers(ctx context.Context, tournamentID, organizerID string, userIDs []string) (*models.PrivateTournament, error)
}

type accessController struct {
	tournamentRepo repositories.PrivateTournamentRepository
	locks          *keyedMutex
	logger         *slog.Logger
	now            func() time.Time
	generateCode   func() (string, error)
}

func NewAccessController(tournamentRepo repositories.PrivateTournamentRepository, logger *slog.Logger) AccessController {
	if logger == nil {
		logger = slog.Default()
	}
	return &accessController{
		tournamentRepo: tournamentRepo,
		locks:          newKeyedMutex(),
		logger:         logger,
		now:            time.Now,
		generateCode:   generateAccessCode,
	}
}

// generateAccessCode берёт символы равномерно из алфавита через crypto/rand.
func generateAccessCode() (string, error) {
	alphabetSize := big.NewInt(int64(len(accessCodeAlphabet)))
	code := make([]byte, accessCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", err
		}
		code[i] = accessCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}

func normalizeAccessCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func normalizeUserIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func (s *accessController) CreatePrivateTournament(ctx context.Context, input CreatePrivateTournamentInput) (*models.PrivateTournament, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidationFailed)
	}
	if strings.TrimSpace(input.OrganizerID) == "" {
		return nil, fmt.Errorf("%w: organizer_id is required", ErrValidationFailed)
	}
	if input.MaxParticipants <= 0 {
		return nil, fmt.Errorf("%w: max_participants must be positive", ErrValidationFailed)
	}
	gameSlug := NormalizeGameSlug(&input.GameSlug)
	if gameSlug == nil {
		return nil, fmt.Errorf("%w: game_slug is required", ErrValidationFailed)
	}

	var tournament *models.PrivateTournament
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.generateCode()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAccessCodeGeneration, err)
		}

		tournament = &models.PrivateTournament{
			ID:              uuid.NewString(),
			Name:            name,
			GameSlug:        *gameSlug,
			OrganizerID:     input.OrganizerID,
			MaxParticipants: input.MaxParticipants,
			IsPrivate:       true,
			FriendsOnly:     input.FriendsOnly,
			AllowedUsers:    normalizeUserIDs(input.AllowedUsers),
			AccessCode:      code,
			CreatedAt:       s.now().UTC(),
		}

		// Проверка и вставка кода сериализованы по коду.
		unlock := s.locks.Lock("code|" + code)
		err = s.tournamentRepo.Create(ctx, tournament)
		unlock()
		if err == nil {
			s.logger.Info("private tournament created",
				slog.String("tournament_id", tournament.ID),
				slog.String("organizer_id", tournament.OrganizerID),
				slog.Bool("friends_only", tournament.FriendsOnly))
			return tournament, nil
		}
		if !errors.Is(err, repositories.ErrAccessCodeConflict) {
			return nil, fmt.Errorf("%w: %w", ErrPrivateTournamentCreationFailed, err)
		}
		s.logger.Debug("access code collision, retrying", slog.Int("attempt", attempt+1))
	}

	return nil, fmt.Errorf("%w after %d attempts", ErrAccessCodeGeneration, maxCodeAttempts)
}

// ValidateAccess: код и белый список проверяются независимо, оба должны пройти.
func (s *accessController) ValidateAccess(ctx context.Context, tournamentID, userID, suppliedCode string) (bool, error) {
	tournament, err := s.tournamentRepo.GetByID(ctx, tournamentID)
	if err != nil {
		if errors.Is(err, repositories.ErrPrivateTournamentNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", ErrAccessCheckFailed, err)
	}

	supplied := normalizeAccessCode(suppliedCode)
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(tournament.AccessCode)) != 1 {
		return false, nil
	}
	return tournament.IsAllowed(userID), nil
}

func (s *accessController) GetPrivateTournament(ctx context.Context, tournamentID string) (*models.PrivateTournament, error) {
	tournament, err := s.tournamentRepo.GetByID(ctx, tournamentID)
	if err != nil {
		if errors.Is(err, repositories.ErrPrivateTournamentNotFound) {
			return nil, ErrPrivateTournamentNotFound
		}
		return nil, fmt.Errorf("failed to get private tournament %s: %w", tournamentID, err)
	}
	return tournament, nil
}

func (s *accessController) FindByAccessCode(ctx context.Context, code string) (*models.PrivateTournament, error) {
	code = normalizeAccessCode(code)
	if !models.IsValidAccessCode(code) {
		return nil, ErrPrivateTournamentNotFound
	}
	tournament, err := s.tournamentRepo.GetByAccessCode(ctx, code)
	if err != nil {
		if errors.Is(err, repositories.ErrPrivateTournamentNotFound) {
			return nil, ErrPrivateTournamentNotFound
		}
		return nil, fmt.Errorf("failed to find private tournament by code: %w", err)
	}
	return tournament, nil
}

// AddAllowedUsers дополняет белый список; менять его может только организатор.
func (s *accessController) AddAllowedUsers(ctx context.Context, tournamentID, organizerID string, userIDs []string) (*models.PrivateTournament, error) {
	additions := normalizeUserIDs(userIDs)
	if len(additions) == 0 {
		return nil, fmt.Errorf("%w: user_ids must not be empty", ErrValidationFailed)
	}

	unlock := s.locks.Lock("tournament|" + tournamentID)
	defer unlock()

	tournament, err := s.GetPrivateTournament(ctx, tournamentID)
	if err != nil {
		return nil, err
	}
	if tournament.OrganizerID != organizerID {
		return nil, ErrForbiddenOperation
	}

	merged := normalizeUserIDs(append(slices.Clone(tournament.AllowedUsers), additions...))
	if err := s.tournamentRepo.UpdateAllowedUsers(ctx, tournamentID, merged); err != nil {
		if errors.Is(err, repositories.ErrPrivateTournamentNotFound) {
			return nil, ErrPrivateTournamentNotFound
		}
		return nil, fmt.Errorf("failed to update allowed users for %s: %w", tournamentID, err)
	}
	tournament.AllowedUsers = merged
	return tournament, nil
}
