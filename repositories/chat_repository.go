package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Dosada05/tournament-history/models"
)

var ErrChatMessageNotFound = errors.New("chat message not found")

type ChatRepository interface {
	Create(ctx context.Context, m *models.ChatMessage) error
	GetByID(ctx context.Context, id string) (*models.ChatMessage, error)
	// SoftDelete помечает сообщение удалённым, только если его отправил senderID
	// и оно ещё не удалено. Иначе ErrChatMessageNotFound.
	SoftDelete(ctx context.Context, id, senderID string, deletedAt time.Time) error
	ListVisible(ctx context.Context, gameSessionID string, limit, offset int) ([]*models.ChatMessage, error)
	CountVisible(ctx context.Context, gameSessionID string) (int, error)
	// LastSentAt returns the zero time for a session without messages.
	LastSentAt(ctx context.Context, gameSessionID string) (time.Time, error)
}

type postgresChatRepository struct {
	db SQLExecutor
}

func NewPostgresChatRepository(db SQLExecutor) ChatRepository {
	return &postgresChatRepository{db: db}
}

const chatColumns = `id, game_session_id, sender_id, sender_name, message, sent_at, deleted_at`

func (r *postgresChatRepository) Create(ctx context.Context, m *models.ChatMessage) error {
	query := `
		INSERT INTO chat_messages (id, game_session_id, sender_id, sender_name, message, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.ExecContext(ctx, query, m.ID, m.GameSessionID, m.SenderID, m.SenderName, m.Message, m.SentAt)
	return err
}

func (r *postgresChatRepository) GetByID(ctx context.Context, id string) (*models.ChatMessage, error) {
	query := `SELECT ` + chatColumns + ` FROM chat_messages WHERE id = $1`
	m, err := scanChatMessage(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChatMessageNotFound
		}
		return nil, err
	}
	return m, nil
}

func (r *postgresChatRepository) SoftDelete(ctx context.Context, id, senderID string, deletedAt time.Time) error {
	query := `UPDATE chat_messages SET deleted_at = $1 WHERE id = $2 AND sender_id = $3 AND deleted_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, deletedAt, id, senderID)
	if err != nil {
		return err
	}
	return checkAffectedRows(result, ErrChatMessageNotFound)
}

func (r *postgresChatRepository) ListVisible(ctx context.Context, gameSessionID string, limit, offset int) ([]*models.ChatMessage, error) {
	query := `SELECT ` + chatColumns + `
		FROM chat_messages
		WHERE game_session_id = $1 AND deleted_at IS NULL
		ORDER BY sent_at ASC, id ASC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, gameSessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]*models.ChatMessage, 0)
	for rows.Next() {
		m, scanErr := scanChatMessage(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		messages = append(messages, m)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *postgresChatRepository) CountVisible(ctx context.Context, gameSessionID string) (int, error) {
	query := `SELECT COUNT(*) FROM chat_messages WHERE game_session_id = $1 AND deleted_at IS NULL`
	var count int
	if err := r.db.QueryRowContext(ctx, query, gameSessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count chat messages for %s: %w", gameSessionID, err)
	}
	return count, nil
}

func (r *postgresChatRepository) LastSentAt(ctx context.Context, gameSessionID string) (time.Time, error) {
	query := `SELECT MAX(sent_at) FROM chat_messages WHERE game_session_id = $1`
	var last sql.NullTime
	if err := r.db.QueryRowContext(ctx, query, gameSessionID).Scan(&last); err != nil {
		return time.Time{}, err
	}
	return last.Time, nil
}

func scanChatMessage(row rowScanner) (*models.ChatMessage, error) {
	var m models.ChatMessage
	var deletedAt sql.NullTime
	if err := row.Scan(&m.ID, &m.GameSessionID, &m.SenderID, &m.SenderName, &m.Message, &m.SentAt, &deletedAt); err != nil {
		return nil, err
	}
	m.DeletedAt = timePtr(deletedAt)
	return &m, nil
}

type memoryChatRepository struct {
	mu        sync.RWMutex
	bySession map[string][]*models.ChatMessage
	byID      map[string]*models.ChatMessage
}

func NewMemoryChatRepository() ChatRepository {
	return &memoryChatRepository{
		bySession: make(map[string][]*models.ChatMessage),
		byID:      make(map[string]*models.ChatMessage),
	}
}

func (r *memoryChatRepository) Create(_ context.Context, m *models.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := cloneChatMessage(m)
	r.bySession[m.GameSessionID] = append(r.bySession[m.GameSessionID], stored)
	r.byID[m.ID] = stored
	return nil
}

func (r *memoryChatRepository) GetByID(_ context.Context, id string) (*models.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, ErrChatMessageNotFound
	}
	return cloneChatMessage(m), nil
}

func (r *memoryChatRepository) SoftDelete(_ context.Context, id, senderID string, deletedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok || m.SenderID != senderID || m.IsDeleted() {
		return ErrChatMessageNotFound
	}
	t := deletedAt
	m.DeletedAt = &t
	return nil
}

func (r *memoryChatRepository) ListVisible(_ context.Context, gameSessionID string, limit, offset int) ([]*models.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.ChatMessage, 0)
	skipped := 0
	for _, m := range r.bySession[gameSessionID] {
		if m.IsDeleted() {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, cloneChatMessage(m))
	}
	return out, nil
}

func (r *memoryChatRepository) CountVisible(_ context.Context, gameSessionID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, m := range r.bySession[gameSessionID] {
		if !m.IsDeleted() {
			count++
		}
	}
	return count, nil
}

func (r *memoryChatRepository) LastSentAt(_ context.Context, gameSessionID string) (time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msgs := r.bySession[gameSessionID]
	if len(msgs) == 0 {
		return time.Time{}, nil
	}
	return msgs[len(msgs)-1].SentAt, nil
}

func cloneChatMessage(m *models.ChatMessage) *models.ChatMessage {
	c := *m
	if m.DeletedAt != nil {
		v := *m.DeletedAt
		c.DeletedAt = &v
	}
	return &c
}
