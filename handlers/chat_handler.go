package handlers

import (
	"fmt"
	"net/http"

	"github.com/Dosada05/tournament-history/middleware"
	"github.com/Dosada05/tournament-history/models"
	"github.com/Dosada05/tournament-history/services"
)

type ChatHandler struct {
	chat services.ChatLog
}

func NewChatHandler(chat services.ChatLog) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type sendChatRequest struct {
	Message string `json:"message"`
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	gameSessionID, err := getIDFromURL(r, "gameSessionID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	senderID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req sendChatRequest
	if err := readJSON(w, r, &req); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	msg, err := h.chat.Send(r.Context(), services.SendChatInput{
		GameSessionID: gameSessionID,
		SenderID:      senderID,
		SenderName:    middleware.GetUserNameFromContext(r.Context()),
		Message:       req.Message,
	})
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if msg == nil {
		unprocessableResponse(w, r, fmt.Sprintf("message must be between %d and %d characters",
			models.ChatMessageMinLength, models.ChatMessageMaxLength))
		return
	}

	if err := writeJSON(w, http.StatusCreated, jsonResponse{"message": msg}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	gameSessionID, err := getIDFromURL(r, "gameSessionID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	var opts services.PageOptions
	if opts.Limit, opts.Offset, err = queryPage(r); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	messages, err := h.chat.History(r.Context(), gameSessionID, opts)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"messages": messages}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *ChatHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	messageID, err := getIDFromURL(r, "messageID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	requesterID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	deleted, err := h.chat.Delete(r.Context(), messageID, requesterID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if !deleted {
		forbiddenResponse(w, r, "message not found or not owned by the current user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
