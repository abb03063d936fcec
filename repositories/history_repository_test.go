package repositories

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Dosada05/tournament-history/models"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var historyColumns = []string{
	"id", "tournament_id", "user_id", "game_slug", "placement", "matches_played", "matches_won",
	"total_score", "prize_won", "entry_fee", "completed_at",
}

func sampleEntry() *models.HistoryEntry {
	slug := "chess"
	prize := 100.0
	return &models.HistoryEntry{
		ID:            "h1",
		TournamentID:  "t1",
		UserID:        "u1",
		GameSlug:      &slug,
		Placement:     1,
		MatchesPlayed: 5,
		MatchesWon:    5,
		PrizeWon:      &prize,
		CompletedAt:   time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestPostgresHistoryCreate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresHistoryRepository(db)
	entry := sampleEntry()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO history_entries")).
		WithArgs("h1", "t1", "u1", "chess", 1, 5, 5, 0, 100.0, nil, entry.CompletedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresHistoryCreate_ConstraintErrors(t *testing.T) {
	tests := []struct {
		name    string
		dbErr   error
		wantErr error
	}{
		{
			name:    "unique pair",
			dbErr:   &pq.Error{Code: pqUniqueViolation, Constraint: "history_entries_tournament_user_key"},
			wantErr: ErrHistoryDuplicate,
		},
		{
			name:    "check constraint",
			dbErr:   &pq.Error{Code: pqCheckViolation, Constraint: "history_entries_placement_check"},
			wantErr: ErrHistoryInvalid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewPostgresHistoryRepository(db)

			mock.ExpectExec(regexp.QuoteMeta("INSERT INTO history_entries")).WillReturnError(tt.dbErr)

			err := repo.Create(context.Background(), sampleEntry())
			assert.ErrorIs(t, err, tt.wantErr)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}

	t.Run("other unique constraint is passed through", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPostgresHistoryRepository(db)
		dbErr := &pq.Error{Code: pqUniqueViolation, Constraint: "history_entries_pkey"}
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO history_entries")).WillReturnError(dbErr)

		err := repo.Create(context.Background(), sampleEntry())
		assert.False(t, errors.Is(err, ErrHistoryDuplicate))
		assert.ErrorAs(t, err, new(*pq.Error))
	})
}

func TestPostgresHistoryExists(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresHistoryRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("t1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.Exists(context.Background(), "t1", "u1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresHistoryList_BuildsFilters(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresHistoryRepository(db)

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	minPlacement := 1
	maxPlacement := 3
	slug := "chess"

	expected := regexp.QuoteMeta("WHERE user_id = $1 AND completed_at >= $2 AND game_slug = $3 AND placement >= $4 AND placement <= $5 AND entry_fee > 0 ORDER BY placement ASC, completed_at DESC, id ASC LIMIT $6 OFFSET $7")
	rows := sqlmock.NewRows(historyColumns).
		AddRow("h1", "t1", "u1", "chess", 1, 5, 5, 0, 100.0, 10.0, start).
		AddRow("h2", "t2", "u1", nil, 3, 4, 1, 7, nil, nil, start.Add(time.Hour))
	mock.ExpectQuery(expected).
		WithArgs("u1", start, slug, minPlacement, maxPlacement, 10, 20).
		WillReturnRows(rows)

	entries, err := repo.List(context.Background(), HistoryFilter{
		UserID:       "u1",
		StartDate:    &start,
		GameSlug:     &slug,
		MinPlacement: &minPlacement,
		MaxPlacement: &maxPlacement,
		EntryFee:     models.EntryFeePaid,
		SortBy:       models.SortByPlacement,
		SortOrder:    models.SortAsc,
		Limit:        10,
		Offset:       20,
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "chess", *entries[0].GameSlug)
	assert.Equal(t, 100.0, *entries[0].PrizeWon)
	assert.Equal(t, 10.0, *entries[0].EntryFee)
	assert.Nil(t, entries[1].GameSlug)
	assert.Nil(t, entries[1].PrizeWon)
	assert.Equal(t, 7, entries[1].TotalScore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresHistoryList_DefaultsToNewestFirst(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresHistoryRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = $1 AND COALESCE(entry_fee, 0) = 0 ORDER BY completed_at DESC, id DESC")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(historyColumns))

	entries, err := repo.List(context.Background(), HistoryFilter{UserID: "u1", EntryFee: models.EntryFeeFree})
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryOrderClause(t *testing.T) {
	assert.Equal(t, "completed_at DESC, id DESC", historyOrderClause("", ""))
	assert.Equal(t, "completed_at ASC, id ASC", historyOrderClause(models.SortByDate, models.SortAsc))
	assert.Equal(t, "total_score DESC, completed_at DESC, id ASC", historyOrderClause(models.SortByScore, models.SortDesc))
}
