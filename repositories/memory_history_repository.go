package repositories

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/Dosada05/tournament-history/models"
)

type memoryHistoryRepository struct {
	mu      sync.RWMutex
	byUser  map[string][]*models.HistoryEntry
	pairIDs map[string]struct{}
}

// NewMemoryHistoryRepository хранит историю в памяти процесса (тесты, локальный запуск без БД).
func NewMemoryHistoryRepository() HistoryRepository {
	return &memoryHistoryRepository{
		byUser:  make(map[string][]*models.HistoryEntry),
		pairIDs: make(map[string]struct{}),
	}
}

func historyPairKey(tournamentID, userID string) string {
	return tournamentID + "\x00" + userID
}

func (r *memoryHistoryRepository) Create(_ context.Context, entry *models.HistoryEntry) error {
	key := historyPairKey(entry.TournamentID, entry.UserID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pairIDs[key]; ok {
		return ErrHistoryDuplicate
	}
	stored := cloneHistoryEntry(entry)
	r.pairIDs[key] = struct{}{}
	r.byUser[entry.UserID] = append(r.byUser[entry.UserID], stored)
	return nil
}

func (r *memoryHistoryRepository) Exists(_ context.Context, tournamentID, userID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pairIDs[historyPairKey(tournamentID, userID)]
	return ok, nil
}

func (r *memoryHistoryRepository) List(_ context.Context, filter HistoryFilter) ([]*models.HistoryEntry, error) {
	r.mu.RLock()
	source := r.byUser[filter.UserID]
	matched := make([]*models.HistoryEntry, 0, len(source))
	for _, e := range source {
		if matchesHistoryFilter(e, filter) {
			matched = append(matched, cloneHistoryEntry(e))
		}
	}
	r.mu.RUnlock()

	slices.SortStableFunc(matched, func(a, b *models.HistoryEntry) int {
		return compareHistory(a, b, filter.SortBy, filter.SortOrder)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*models.HistoryEntry{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func matchesHistoryFilter(e *models.HistoryEntry, f HistoryFilter) bool {
	if f.StartDate != nil && e.CompletedAt.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && e.CompletedAt.After(*f.EndDate) {
		return false
	}
	if f.GameSlug != nil && e.Slug() != *f.GameSlug {
		return false
	}
	if f.MinPlacement != nil && e.Placement < *f.MinPlacement {
		return false
	}
	if f.MaxPlacement != nil && e.Placement > *f.MaxPlacement {
		return false
	}
	switch f.EntryFee {
	case models.EntryFeeFree:
		return e.Fee() == 0
	case models.EntryFeePaid:
		return e.Fee() > 0
	}
	return true
}

// compareHistory mirrors historyOrderClause.
func compareHistory(a, b *models.HistoryEntry, sortBy models.HistorySortField, order models.SortOrder) int {
	sign := -1
	if order == models.SortAsc {
		sign = 1
	}
	byDateDescThenID := func() int {
		if c := b.CompletedAt.Compare(a.CompletedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	}

	switch sortBy {
	case models.SortByPlacement:
		if c := cmp.Compare(a.Placement, b.Placement) * sign; c != 0 {
			return c
		}
		return byDateDescThenID()
	case models.SortByScore:
		if c := cmp.Compare(a.TotalScore, b.TotalScore) * sign; c != 0 {
			return c
		}
		return byDateDescThenID()
	default:
		if c := a.CompletedAt.Compare(b.CompletedAt) * sign; c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID) * sign
	}
}

func cloneHistoryEntry(e *models.HistoryEntry) *models.HistoryEntry {
	c := *e
	if e.GameSlug != nil {
		v := *e.GameSlug
		c.GameSlug = &v
	}
	if e.PrizeWon != nil {
		v := *e.PrizeWon
		c.PrizeWon = &v
	}
	if e.EntryFee != nil {
		v := *e.EntryFee
		c.EntryFee = &v
	}
	return &c
}
