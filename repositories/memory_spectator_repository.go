package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/Dosada05/tournament-history/models"
)

type memorySpectatorRepository struct {
	mu       sync.RWMutex
	sessions []*models.SpectatorSession // порядок вставки
	byID     map[string]*models.SpectatorSession
	peaks    map[models.StatsKey]int
}

func NewMemorySpectatorRepository() SpectatorRepository {
	return &memorySpectatorRepository{
		byID:  make(map[string]*models.SpectatorSession),
		peaks: make(map[models.StatsKey]int),
	}
}

func (r *memorySpectatorRepository) Create(_ context.Context, s *models.SpectatorSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.sessions {
		if existing.IsActive() && existing.GameSessionID == s.GameSessionID && existing.Viewer == s.Viewer {
			return ErrSpectatorAlreadyActive
		}
	}
	stored := cloneSpectatorSession(s)
	r.sessions = append(r.sessions, stored)
	r.byID[stored.ID] = stored
	return nil
}

func (r *memorySpectatorRepository) FindActive(_ context.Context, gameSessionID string, viewer models.Identity) (*models.SpectatorSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.IsActive() && s.GameSessionID == gameSessionID && s.Viewer == viewer {
			return cloneSpectatorSession(s), nil
		}
	}
	return nil, ErrSpectatorSessionNotFound
}

func (r *memorySpectatorRepository) MarkLeft(_ context.Context, sessionID string, leftAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[sessionID]
	if !ok || !s.IsActive() {
		return ErrSpectatorSessionNotFound
	}
	t := leftAt
	s.LeftAt = &t
	return nil
}

func (r *memorySpectatorRepository) ListByGameSession(_ context.Context, gameSessionID string, activeOnly bool) ([]*models.SpectatorSession, error) {
	return r.filter(func(s *models.SpectatorSession) bool {
		return s.GameSessionID == gameSessionID && (!activeOnly || s.IsActive())
	}), nil
}

func (r *memorySpectatorRepository) ListByMatch(_ context.Context, tournamentMatchID string, activeOnly bool) ([]*models.SpectatorSession, error) {
	return r.filter(func(s *models.SpectatorSession) bool {
		return s.TournamentMatchID != nil && *s.TournamentMatchID == tournamentMatchID && (!activeOnly || s.IsActive())
	}), nil
}

func (r *memorySpectatorRepository) ListActiveJoinedBefore(_ context.Context, cutoff time.Time) ([]*models.SpectatorSession, error) {
	return r.filter(func(s *models.SpectatorSession) bool {
		return s.IsActive() && s.JoinedAt.Before(cutoff)
	}), nil
}

func (r *memorySpectatorRepository) filter(keep func(*models.SpectatorSession) bool) []*models.SpectatorSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.SpectatorSession, 0)
	for _, s := range r.sessions {
		if keep(s) {
			out = append(out, cloneSpectatorSession(s))
		}
	}
	return out
}

func (r *memorySpectatorRepository) BumpPeak(_ context.Context, key models.StatsKey, current int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current > r.peaks[key] {
		r.peaks[key] = current
	}
	return r.peaks[key], nil
}

func (r *memorySpectatorRepository) GetPeak(_ context.Context, key models.StatsKey) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peaks[key], nil
}

func cloneSpectatorSession(s *models.SpectatorSession) *models.SpectatorSession {
	c := *s
	if s.TournamentMatchID != nil {
		v := *s.TournamentMatchID
		c.TournamentMatchID = &v
	}
	if s.LeftAt != nil {
		v := *s.LeftAt
		c.LeftAt = &v
	}
	return &c
}
