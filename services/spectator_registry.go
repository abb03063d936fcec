package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/Dosada05/tournament-history/models"
	"github.com/Dosada05/tournament-history/realtime"
	"github.com/Dosada05/tournament-history/repositories"
	"github.com/google/uuid"
)

var (
	ErrSpectatorUpdateFailed = errors.New("failed to update spectator session")
	ErrSpectatorStatsFailed  = errors.New("failed to compute spectator statistics")
)

// ChatCounter reports the number of visible chat messages in a game session.
type ChatCounter interface {
	CountVisible(ctx context.Context, gameSessionID string) (int, error)
}

type StartSpectatingInput struct {
	GameSessionID     string
	TournamentMatchID *string
	Viewer            models.Identity
}

type SpectatorRegistry interface {
	StartSpectating(ctx context.Context, input StartSpectatingInput) (*models.SpectatorSession, error)
	StopSpectating(ctx context.Context, gameSessionID string, viewer models.Identity) (bool, error)
	ActiveSpectators(ctx context.Context, gameSessionID string) ([]*models.SpectatorSession, error)
	ActiveCount(ctx context.Context, gameSessionID string) (int, error)
	Statistics(ctx context.Context, key models.StatsKey) (*models.SpectatorStats, error)
	BroadcastGameState(ctx context.Context, gameSessionID string, payload map[string]interface{}) bool
	CloseStaleSessions(ctx context.Context, maxAge time.Duration) (int, error)
}

type spectatorRegistry struct {
	spectatorRepo repositories.SpectatorRepository
	chat          ChatCounter
	publisher     realtime.Publisher
	locks         *keyedMutex
	logger        *slog.Logger
	now           func() time.Time
}

func NewSpectatorRegistry(
	spectatorRepo repositories.SpectatorRepository,
	chat ChatCounter,
	publisher realtime.Publisher,
	logger *slog.Logger,
) SpectatorRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &spectatorRegistry{
		spectatorRepo: spectatorRepo,
		chat:          chat,
		publisher:     publisher,
		locks:         newKeyedMutex(),
		logger:        logger,
		now:           time.Now,
	}
}

func sessionLockKey(gameSessionID string) string { return "session|" + gameSessionID }
func matchLockKey(matchID string) string         { return "match|" + matchID }

func (s *spectatorRegistry) StartSpectating(ctx context.Context, input StartSpectatingInput) (*models.SpectatorSession, error) {
	if strings.TrimSpace(input.GameSessionID) == "" {
		return nil, fmt.Errorf("%w: game_session_id is required", ErrValidationFailed)
	}
	if !input.Viewer.Valid() {
		return nil, ErrInvalidIdentity
	}
	var matchID *string
	if input.TournamentMatchID != nil && strings.TrimSpace(*input.TournamentMatchID) != "" {
		id := strings.TrimSpace(*input.TournamentMatchID)
		matchID = &id
	}

	return s.start(ctx, input.GameSessionID, matchID, input.Viewer)
}

// start держит блокировку сессии (и матча, если он указан) от проверки до отправки события,
// поэтому пики и viewer_count в событиях согласованы с порядком вставок.
func (s *spectatorRegistry) start(ctx context.Context, gameSessionID string, matchID *string, viewer models.Identity) (*models.SpectatorSession, error) {
	unlock := s.locks.Lock(sessionLockKey(gameSessionID))
	defer unlock()

	existing, err := s.spectatorRepo.FindActive(ctx, gameSessionID, viewer)
	if err != nil && !errors.Is(err, repositories.ErrSpectatorSessionNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrSpectatorUpdateFailed, err)
	}
	if existing != nil {
		return nil, nil
	}

	// Порядок блокировок: сессия, затем матч.
	if matchID != nil {
		unlockMatch := s.locks.Lock(matchLockKey(*matchID))
		defer unlockMatch()
	}

	session := &models.SpectatorSession{
		ID:                uuid.NewString(),
		GameSessionID:     gameSessionID,
		TournamentMatchID: matchID,
		Viewer:            viewer,
		JoinedAt:          s.now().UTC(),
	}
	if err := s.spectatorRepo.Create(ctx, session); err != nil {
		if errors.Is(err, repositories.ErrSpectatorAlreadyActive) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrSpectatorUpdateFailed, err)
	}

	active, err := s.spectatorRepo.ListByGameSession(ctx, gameSessionID, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpectatorUpdateFailed, err)
	}
	current := len(active)
	if _, err := s.spectatorRepo.BumpPeak(ctx, models.ForGameSession(gameSessionID), current); err != nil {
		return nil, fmt.Errorf("%w: peak: %w", ErrSpectatorUpdateFailed, err)
	}

	if matchID != nil {
		matchActive, err := s.spectatorRepo.ListByMatch(ctx, *matchID, true)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSpectatorUpdateFailed, err)
		}
		if _, err := s.spectatorRepo.BumpPeak(ctx, models.ForMatch(*matchID), len(matchActive)); err != nil {
			return nil, fmt.Errorf("%w: match peak: %w", ErrSpectatorUpdateFailed, err)
		}
	}

	s.logger.Info("spectator joined",
		slog.String("game_session_id", session.GameSessionID),
		slog.String("viewer", session.Viewer.String()),
		slog.Int("viewer_count", current))
	// Gateway только ставит событие в очередь сессии, подписчики под блокировкой не вызываются.
	s.publish(ctx, realtime.EventSpectatorJoined, session, current)
	return session, nil
}

func (s *spectatorRegistry) StopSpectating(ctx context.Context, gameSessionID string, viewer models.Identity) (bool, error) {
	if !viewer.Valid() {
		return false, ErrInvalidIdentity
	}

	session, err := s.stop(ctx, gameSessionID, viewer)
	return session != nil, err
}

func (s *spectatorRegistry) stop(ctx context.Context, gameSessionID string, viewer models.Identity) (*models.SpectatorSession, error) {
	unlock := s.locks.Lock(sessionLockKey(gameSessionID))
	defer unlock()

	session, err := s.spectatorRepo.FindActive(ctx, gameSessionID, viewer)
	if err != nil {
		if errors.Is(err, repositories.ErrSpectatorSessionNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrSpectatorUpdateFailed, err)
	}

	// Уход из матча сериализуется с подсчётом пика матча в start.
	if session.TournamentMatchID != nil {
		unlockMatch := s.locks.Lock(matchLockKey(*session.TournamentMatchID))
		defer unlockMatch()
	}

	leftAt := s.now().UTC()
	if err := s.spectatorRepo.MarkLeft(ctx, session.ID, leftAt); err != nil {
		if errors.Is(err, repositories.ErrSpectatorSessionNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrSpectatorUpdateFailed, err)
	}
	session.LeftAt = &leftAt

	current := 0
	active, err := s.spectatorRepo.ListByGameSession(ctx, gameSessionID, true)
	if err != nil {
		// Сессия уже закрыта, счётчик для события не критичен.
		s.logger.Warn("failed to count spectators after leave", slog.String("game_session_id", gameSessionID), slog.Any("error", err))
	} else {
		current = len(active)
	}

	s.logger.Info("spectator left",
		slog.String("game_session_id", gameSessionID),
		slog.String("viewer", viewer.String()),
		slog.Duration("watched", session.Duration(leftAt)))
	s.publish(ctx, realtime.EventSpectatorLeft, session, current)
	return session, nil
}

func (s *spectatorRegistry) publish(ctx context.Context, kind realtime.EventKind, session *models.SpectatorSession, current int) {
	if s.publisher == nil {
		return
	}
	payload := map[string]interface{}{
		"session_id":   session.ID,
		"viewer_kind":  string(session.Viewer.Kind()),
		"viewer_id":    session.Viewer.ID(),
		"viewer_count": current,
	}
	if session.TournamentMatchID != nil {
		payload["tournament_match_id"] = *session.TournamentMatchID
	}
	s.publisher.Publish(ctx, realtime.NewEvent(kind, session.GameSessionID, payload))
}

func (s *spectatorRegistry) ActiveSpectators(ctx context.Context, gameSessionID string) ([]*models.SpectatorSession, error) {
	sessions, err := s.spectatorRepo.ListByGameSession(ctx, gameSessionID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list spectators for %s: %w", gameSessionID, err)
	}
	return sessions, nil
}

func (s *spectatorRegistry) ActiveCount(ctx context.Context, gameSessionID string) (int, error) {
	sessions, err := s.ActiveSpectators(ctx, gameSessionID)
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}

func (s *spectatorRegistry) Statistics(ctx context.Context, key models.StatsKey) (*models.SpectatorStats, error) {
	var (
		sessions []*models.SpectatorSession
		err      error
	)
	switch key.Kind {
	case models.StatsByGameSession:
		sessions, err = s.spectatorRepo.ListByGameSession(ctx, key.ID, false)
	case models.StatsByMatch:
		sessions, err = s.spectatorRepo.ListByMatch(ctx, key.ID, false)
	default:
		return nil, fmt.Errorf("%w: unknown statistics key %q", ErrValidationFailed, key.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSpectatorStatsFailed, err)
	}

	now := s.now()
	stats := &models.SpectatorStats{TotalViewers: len(sessions)}
	var watched time.Duration
	gameSessions := make([]string, 0, 1)
	for _, session := range sessions {
		if session.IsActive() {
			stats.CurrentViewers++
		}
		watched += session.Duration(now)
		if !slices.Contains(gameSessions, session.GameSessionID) {
			gameSessions = append(gameSessions, session.GameSessionID)
		}
	}
	if len(sessions) > 0 {
		stats.AverageViewDuration = watched / time.Duration(len(sessions))
		stats.AverageViewSeconds = stats.AverageViewDuration.Seconds()
	}

	peak, err := s.spectatorRepo.GetPeak(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: peak: %w", ErrSpectatorStatsFailed, err)
	}
	stats.PeakViewers = max(peak, stats.CurrentViewers)

	if key.Kind == models.StatsByGameSession && len(gameSessions) == 0 {
		gameSessions = append(gameSessions, key.ID)
	}
	if s.chat != nil {
		for _, id := range gameSessions {
			n, err := s.chat.CountVisible(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("%w: chat count: %w", ErrSpectatorStatsFailed, err)
			}
			stats.TotalChatMessages += n
		}
	}
	return stats, nil
}

// BroadcastGameState returns false without sending when the gateway is disconnected.
func (s *spectatorRegistry) BroadcastGameState(ctx context.Context, gameSessionID string, payload map[string]interface{}) bool {
	if s.publisher == nil || !s.publisher.IsConnected() {
		return false
	}
	count, err := s.ActiveCount(ctx, gameSessionID)
	if err != nil {
		s.logger.Error("failed to count viewers for game state", slog.String("game_session_id", gameSessionID), slog.Any("error", err))
		return false
	}

	merged := make(map[string]interface{}, len(payload)+1)
	maps.Copy(merged, payload)
	merged["viewerCount"] = count
	return s.publisher.Publish(ctx, realtime.NewEvent(realtime.EventGameStateUpdate, gameSessionID, merged))
}

// CloseStaleSessions stops sessions that stayed active longer than maxAge.
func (s *spectatorRegistry) CloseStaleSessions(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, fmt.Errorf("%w: max age must be positive", ErrValidationFailed)
	}
	stale, err := s.spectatorRepo.ListActiveJoinedBefore(ctx, s.now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to list stale spectator sessions: %w", err)
	}

	closed := 0
	for _, session := range stale {
		if err := ctx.Err(); err != nil {
			return closed, err
		}
		ok, err := s.StopSpectating(ctx, session.GameSessionID, session.Viewer)
		if err != nil {
			return closed, err
		}
		if ok {
			closed++
		}
	}
	if closed > 0 {
		s.logger.Info("stale spectator sessions closed", slog.Int("count", closed), slog.Duration("max_age", maxAge))
	}
	return closed, nil
}
