package models

import "time"

const (
	ChatMessageMinLength = 1
	ChatMessageMaxLength = 500 // в символах Unicode, не в байтах
)

type ChatMessage struct {
	ID            string     `json:"id" db:"id"`
	GameSessionID string     `json:"game_session_id" db:"game_session_id"`
	SenderID      string     `json:"sender_id" db:"sender_id"`
	SenderName    string     `json:"sender_name" db:"sender_name"`
	Message       string     `json:"message" db:"message"`
	SentAt        time.Time  `json:"sent_at" db:"sent_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

func (m *ChatMessage) IsDeleted() bool {
	return m.DeletedAt != nil
}
