package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Constraint names are matched by the repositories when mapping pq errors.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS history_entries (
		id             TEXT PRIMARY KEY,
		tournament_id  TEXT NOT NULL,
		user_id        TEXT NOT NULL,
		game_slug      TEXT,
		placement      INTEGER NOT NULL CHECK (placement >= 1),
		matches_played INTEGER NOT NULL CHECK (matches_played >= 0),
		matches_won    INTEGER NOT NULL CHECK (matches_won >= 0 AND matches_won <= matches_played),
		total_score    INTEGER NOT NULL DEFAULT 0,
		prize_won      DOUBLE PRECISION CHECK (prize_won >= 0),
		entry_fee      DOUBLE PRECISION CHECK (entry_fee >= 0),
		completed_at   TIMESTAMPTZ NOT NULL,
		CONSTRAINT history_entries_tournament_user_key UNIQUE (tournament_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_entries_user_completed
		ON history_entries (user_id, completed_at DESC, id DESC)`,

	`CREATE TABLE IF NOT EXISTS private_tournaments (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		game_slug        TEXT NOT NULL,
		organizer_id     TEXT NOT NULL,
		max_participants INTEGER NOT NULL CHECK (max_participants > 0),
		is_private       BOOLEAN NOT NULL DEFAULT TRUE,
		friends_only     BOOLEAN NOT NULL DEFAULT FALSE,
		allowed_users    TEXT[],
		access_code      CHAR(6) NOT NULL CHECK (access_code ~ '^[A-Z0-9]{6}$'),
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT private_tournaments_access_code_key UNIQUE (access_code)
	)`,

	`CREATE TABLE IF NOT EXISTS spectator_sessions (
		id                  TEXT PRIMARY KEY,
		game_session_id     TEXT NOT NULL,
		tournament_match_id TEXT,
		viewer_kind         TEXT NOT NULL CHECK (viewer_kind IN ('user', 'guest')),
		viewer_id           TEXT NOT NULL,
		joined_at           TIMESTAMPTZ NOT NULL,
		left_at             TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS spectator_sessions_active_viewer_idx
		ON spectator_sessions (game_session_id, viewer_kind, viewer_id) WHERE left_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_spectator_sessions_match
		ON spectator_sessions (tournament_match_id) WHERE tournament_match_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS spectator_peaks (
		key_kind TEXT NOT NULL,
		key_id   TEXT NOT NULL,
		peak     INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (key_kind, key_id)
	)`,

	`CREATE TABLE IF NOT EXISTS chat_messages (
		id              TEXT PRIMARY KEY,
		game_session_id TEXT NOT NULL,
		sender_id       TEXT NOT NULL,
		sender_name     TEXT NOT NULL,
		message         TEXT NOT NULL CHECK (char_length(message) BETWEEN 1 AND 500),
		sent_at         TIMESTAMPTZ NOT NULL,
		deleted_at      TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_session_sent
		ON chat_messages (game_session_id, sent_at, id)`,
}

// Migrate применяет схему. Все выражения идемпотентны.
func Migrate(ctx context.Context, conn *sql.DB) error {
	for i, stmt := range schema {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d failed: %w", i+1, err)
		}
	}
	return nil
}
