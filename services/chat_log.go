package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Dosada05/tournament-history/models"
	"github.com/Dosada05/tournament-history/realtime"
	"github.com/Dosada05/tournament-history/repositories"
	"github.com/google/uuid"
)

const (
	defaultChatPageSize = 50
	maxChatPageSize     = 200
)

var (
	ErrChatSendFailed   = errors.New("failed to send chat message")
	ErrChatDeleteFailed = errors.New("failed to delete chat message")
	ErrChatReadFailed   = errors.New("failed to read chat history")
)

type SendChatInput struct {
	GameSessionID string `json:"game_session_id"`
	SenderID      string `json:"sender_id"`
	SenderName    string `json:"sender_name"`
	Message       string `json:"message"`
}

type PageOptions struct {
	Limit  *int
	Offset *int
}

type ChatLog interface {
	Send(ctx context.Context, input SendChatInput) (*models.ChatMessage, error)
	History(ctx context.Context, gameSessionID string, opts PageOptions) ([]*models.ChatMessage, error)
	Delete(ctx context.Context, messageID, requesterID string) (bool, error)
	CountVisible(ctx context.Context, gameSessionID string) (int, error)
}

type chatLog struct {
	chatRepo  repositories.ChatRepository
	publisher realtime.Publisher
	locks     *keyedMutex
	logger    *slog.Logger
	now       func() time.Time
}

func NewChatLog(chatRepo repositories.ChatRepository, publisher realtime.Publisher, logger *slog.Logger) ChatLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &chatLog{
		chatRepo:  chatRepo,
		publisher: publisher,
		locks:     newKeyedMutex(),
		logger:    logger,
		now:       time.Now,
	}
}

// ValidChatMessage проверяет длину в кодовых точках; текст не обрезается.
func ValidChatMessage(message string) bool {
	n := utf8.RuneCountInString(message)
	return n >= models.ChatMessageMinLength && n <= models.ChatMessageMaxLength
}

// Send returns a nil message when the body is empty or too long.
func (s *chatLog) Send(ctx context.Context, input SendChatInput) (*models.ChatMessage, error) {
	if strings.TrimSpace(input.GameSessionID) == "" || strings.TrimSpace(input.SenderID) == "" {
		return nil, fmt.Errorf("%w: game_session_id and sender_id are required", ErrValidationFailed)
	}
	if !ValidChatMessage(input.Message) {
		return nil, nil
	}

	msg, err := s.append(ctx, input)
	if err != nil {
		return nil, err
	}

	s.relay(ctx, realtime.EventChatMessage, msg.GameSessionID, map[string]interface{}{
		"message_id":  msg.ID,
		"sender_id":   msg.SenderID,
		"sender_name": msg.SenderName,
		"message":     msg.Message,
		"sent_at":     msg.SentAt,
	})
	return msg, nil
}

// append назначает sentAt строго больше последнего в сессии.
func (s *chatLog) append(ctx context.Context, input SendChatInput) (*models.ChatMessage, error) {
	unlock := s.locks.Lock(input.GameSessionID)
	defer unlock()

	last, err := s.chatRepo.LastSentAt(ctx, input.GameSessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChatSendFailed, err)
	}
	sentAt := s.now().UTC().Truncate(time.Microsecond)
	if !sentAt.After(last) {
		sentAt = last.Add(time.Microsecond)
	}

	msg := &models.ChatMessage{
		ID:            uuid.NewString(),
		GameSessionID: input.GameSessionID,
		SenderID:      input.SenderID,
		SenderName:    strings.TrimSpace(input.SenderName),
		Message:       input.Message,
		SentAt:        sentAt,
	}
	if err := s.chatRepo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChatSendFailed, err)
	}
	return msg, nil
}

func (s *chatLog) History(ctx context.Context, gameSessionID string, opts PageOptions) ([]*models.ChatMessage, error) {
	limit, offset, err := pagination(opts.Limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	if opts.Limit == nil {
		limit = defaultChatPageSize
	}
	if limit > maxChatPageSize {
		return nil, fmt.Errorf("%w: limit must not exceed %d", ErrInvalidPagination, maxChatPageSize)
	}
	if limit == 0 {
		return []*models.ChatMessage{}, nil
	}

	messages, err := s.chatRepo.ListVisible(ctx, gameSessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChatReadFailed, err)
	}
	return messages, nil
}

// Delete reports false, with no changes, unless requesterID sent the message and it is still visible.
func (s *chatLog) Delete(ctx context.Context, messageID, requesterID string) (bool, error) {
	if strings.TrimSpace(messageID) == "" || strings.TrimSpace(requesterID) == "" {
		return false, nil
	}

	msg, deleted, err := s.softDelete(ctx, messageID, requesterID)
	if err != nil || !deleted {
		return false, err
	}

	s.logger.Info("chat message deleted", slog.String("message_id", messageID), slog.String("game_session_id", msg.GameSessionID))
	s.relay(ctx, realtime.EventChatMessageDeleted, msg.GameSessionID, map[string]interface{}{
		"message_id": messageID,
	})
	return true, nil
}

// softDelete держит блокировку сообщения между проверкой владельца и удалением.
func (s *chatLog) softDelete(ctx context.Context, messageID, requesterID string) (*models.ChatMessage, bool, error) {
	unlock := s.locks.Lock("message|" + messageID)
	defer unlock()

	msg, err := s.chatRepo.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repositories.ErrChatMessageNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %w", ErrChatDeleteFailed, err)
	}
	if msg.SenderID != requesterID || msg.IsDeleted() {
		return nil, false, nil
	}

	if err := s.chatRepo.SoftDelete(ctx, messageID, requesterID, s.now().UTC()); err != nil {
		if errors.Is(err, repositories.ErrChatMessageNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %w", ErrChatDeleteFailed, err)
	}
	return msg, true, nil
}

func (s *chatLog) CountVisible(ctx context.Context, gameSessionID string) (int, error) {
	n, err := s.chatRepo.CountVisible(ctx, gameSessionID)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrChatReadFailed, err)
	}
	return n, nil
}

func (s *chatLog) relay(ctx context.Context, kind realtime.EventKind, gameSessionID string, payload map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	if !s.publisher.Publish(ctx, realtime.NewEvent(kind, gameSessionID, payload)) {
		s.logger.Debug("chat event not relayed", slog.String("type", string(kind)), slog.String("game_session_id", gameSessionID))
	}
}
