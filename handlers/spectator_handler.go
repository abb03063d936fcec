package handlers

import (
	"net/http"

	"github.com/Dosada05/tournament-history/middleware"
	"github.com/Dosada05/tournament-history/models"
	"github.com/Dosada05/tournament-history/services"
)

type SpectatorHandler struct {
	registry services.SpectatorRegistry
}

func NewSpectatorHandler(registry services.SpectatorRegistry) *SpectatorHandler {
	return &SpectatorHandler{registry: registry}
}

type startSpectatingRequest struct {
	TournamentMatchID *string `json:"tournament_match_id"`
}

func viewerFromRequest(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	viewer, err := middleware.GetViewerFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, "a bearer token or "+middleware.GuestHeader+" header is required")
		return models.Identity{}, false
	}
	return viewer, true
}

func (h *SpectatorHandler) StartSpectating(w http.ResponseWriter, r *http.Request) {
	gameSessionID, err := getIDFromURL(r, "gameSessionID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	viewer, ok := viewerFromRequest(w, r)
	if !ok {
		return
	}

	// Тело необязательно.
	var req startSpectatingRequest
	if r.ContentLength > 0 {
		if err := readJSON(w, r, &req); err != nil {
			badRequestResponse(w, r, err)
			return
		}
	}

	session, err := h.registry.StartSpectating(r.Context(), services.StartSpectatingInput{
		GameSessionID:     gameSessionID,
		TournamentMatchID: req.TournamentMatchID,
		Viewer:            viewer,
	})
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if session == nil {
		conflictResponse(w, r, "viewer is already spectating this game session")
		return
	}

	if err := writeJSON(w, http.StatusCreated, jsonResponse{"session": session}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *SpectatorHandler) StopSpectating(w http.ResponseWriter, r *http.Request) {
	gameSessionID, err := getIDFromURL(r, "gameSessionID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	viewer, ok := viewerFromRequest(w, r)
	if !ok {
		return
	}

	stopped, err := h.registry.StopSpectating(r.Context(), gameSessionID, viewer)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if !stopped {
		unprocessableResponse(w, r, "no active spectator session for this viewer")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SpectatorHandler) ListSpectators(w http.ResponseWriter, r *http.Request) {
	gameSessionID, err := getIDFromURL(r, "gameSessionID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	sessions, err := h.registry.ActiveSpectators(r.Context(), gameSessionID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	response := jsonResponse{
		"spectators":   sessions,
		"active_count": len(sessions),
	}
	if err := writeJSON(w, http.StatusOK, response, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *SpectatorHandler) SessionStatistics(w http.ResponseWriter, r *http.Request) {
	gameSessionID, err := getIDFromURL(r, "gameSessionID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	h.writeStatistics(w, r, models.ForGameSession(gameSessionID))
}

func (h *SpectatorHandler) MatchStatistics(w http.ResponseWriter, r *http.Request) {
	matchID, err := getIDFromURL(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	h.writeStatistics(w, r, models.ForMatch(matchID))
}

func (h *SpectatorHandler) writeStatistics(w http.ResponseWriter, r *http.Request, key models.StatsKey) {
	stats, err := h.registry.Statistics(r.Context(), key)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"statistics": stats}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

type gameStateRequest struct {
	State map[string]interface{} `json:"state"`
}

func (h *SpectatorHandler) BroadcastGameState(w http.ResponseWriter, r *http.Request) {
	gameSessionID, err := getIDFromURL(r, "gameSessionID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var req gameStateRequest
	if err := readJSON(w, r, &req); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if req.State == nil {
		req.State = map[string]interface{}{}
	}

	sent := h.registry.BroadcastGameState(r.Context(), gameSessionID, req.State)
	status := http.StatusAccepted
	if !sent {
		status = http.StatusOK
	}
	if err := writeJSON(w, status, jsonResponse{"sent": sent}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
