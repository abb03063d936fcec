package services

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/Dosada05/tournament-history/realtime"
	"github.com/Dosada05/tournament-history/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChatLog() (*chatLog, *recordingPublisher, *fakeClock) {
	publisher := newRecordingPublisher()
	clock := newFakeClock()
	chat := NewChatLog(repositories.NewMemoryChatRepository(), publisher, nil).(*chatLog)
	chat.now = clock.Now
	return chat, publisher, clock
}

func TestValidChatMessage(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    bool
	}{
		{"empty", "", false},
		{"one char", "a", true},
		{"500 ascii", strings.Repeat("a", 500), true},
		{"501 ascii", strings.Repeat("a", 501), false},
		{"500 emoji", strings.Repeat("🎮", 500), true},
		{"501 emoji", strings.Repeat("🎮", 501), false},
		{"500 cyrillic", strings.Repeat("ж", 500), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidChatMessage(tt.message))
		})
	}
}

func TestSend_RejectsInvalidLength(t *testing.T) {
	chat, publisher, _ := newTestChatLog()
	ctx := context.Background()

	for _, text := range []string{"", strings.Repeat("x", 501)} {
		msg, err := chat.Send(ctx, SendChatInput{GameSessionID: "g1", SenderID: "u1", Message: text})
		require.NoError(t, err)
		assert.Nil(t, msg)
	}

	history, err := chat.History(ctx, "g1", PageOptions{})
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Empty(t, publisher.kinds())
}

func TestSend_HistoryInInsertionOrder(t *testing.T) {
	chat, publisher, _ := newTestChatLog()
	ctx := context.Background()

	texts := []string{"first", "second", strings.Repeat("🔥", 500)}
	for _, text := range texts {
		msg, err := chat.Send(ctx, SendChatInput{GameSessionID: "g1", SenderID: "u1", SenderName: " Ann ", Message: text})
		require.NoError(t, err)
		require.NotNil(t, msg)
		assert.Equal(t, "Ann", msg.SenderName)
	}

	history, err := chat.History(ctx, "g1", PageOptions{})
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, msg := range history {
		assert.Equal(t, texts[i], msg.Message)
		if i > 0 {
			// часы не двигались, но sentAt строго растёт
			assert.True(t, msg.SentAt.After(history[i-1].SentAt))
		}
	}

	assert.Equal(t, []realtime.EventKind{realtime.EventChatMessage, realtime.EventChatMessage, realtime.EventChatMessage}, publisher.kinds())
	assert.Equal(t, "first", publisher.events[0].Payload["message"])
}

func TestHistory_Pagination(t *testing.T) {
	chat, _, _ := newTestChatLog()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := chat.Send(ctx, SendChatInput{GameSessionID: "g1", SenderID: "u1", Message: string(rune('a' + i))})
		require.NoError(t, err)
	}

	page, err := chat.History(ctx, "g1", PageOptions{Limit: ptr(2), Offset: ptr(1)})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0].Message)
	assert.Equal(t, "c", page[1].Message)

	page, err = chat.History(ctx, "g1", PageOptions{Limit: ptr(0)})
	require.NoError(t, err)
	assert.Empty(t, page)

	_, err = chat.History(ctx, "g1", PageOptions{Limit: ptr(-1)})
	assert.ErrorIs(t, err, ErrInvalidPagination)

	page, err = chat.History(ctx, "g1", PageOptions{Limit: ptr(maxChatPageSize)})
	require.NoError(t, err)
	assert.Len(t, page, 5)

	_, err = chat.History(ctx, "g1", PageOptions{Limit: ptr(maxChatPageSize + 1)})
	assert.ErrorIs(t, err, ErrInvalidPagination)
}

func TestDelete_OnlyBySender(t *testing.T) {
	chat, publisher, _ := newTestChatLog()
	ctx := context.Background()

	msg, err := chat.Send(ctx, SendChatInput{GameSessionID: "g1", SenderID: "author", Message: "hello"})
	require.NoError(t, err)
	_, err = chat.Send(ctx, SendChatInput{GameSessionID: "g1", SenderID: "other", Message: "hi"})
	require.NoError(t, err)

	deleted, err := chat.Delete(ctx, msg.ID, "other")
	require.NoError(t, err)
	assert.False(t, deleted)

	history, err := chat.History(ctx, "g1", PageOptions{})
	require.NoError(t, err)
	assert.Len(t, history, 2)

	deleted, err = chat.Delete(ctx, msg.ID, "author")
	require.NoError(t, err)
	assert.True(t, deleted)

	history, err = chat.History(ctx, "g1", PageOptions{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].Message)

	count, err := chat.CountVisible(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// повторное удаление ничего не меняет
	deleted, err = chat.Delete(ctx, msg.ID, "author")
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = chat.Delete(ctx, "missing", "author")
	require.NoError(t, err)
	assert.False(t, deleted)

	last := publisher.last()
	assert.Equal(t, realtime.EventChatMessageDeleted, last.Kind)
	assert.Equal(t, msg.ID, last.Payload["message_id"])
}

func TestSend_ConcurrentKeepsStrictOrder(t *testing.T) {
	chat, _, _ := newTestChatLog()
	ctx := context.Background()

	const senders = 30
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := chat.Send(ctx, SendChatInput{GameSessionID: "g1", SenderID: "u1", Message: "spam"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history, err := chat.History(ctx, "g1", PageOptions{Limit: ptr(senders)})
	require.NoError(t, err)
	require.Len(t, history, senders)
	for i := 1; i < len(history); i++ {
		assert.True(t, history[i].SentAt.After(history[i-1].SentAt))
	}
}
