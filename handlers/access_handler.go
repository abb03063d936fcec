package handlers

import (
	"net/http"

	"github.com/Dosada05/tournament-history/models"
	"github.com/Dosada05/tournament-history/services"
)

type AccessHandler struct {
	access services.AccessController
}

func NewAccessHandler(access services.AccessController) *AccessHandler {
	return &AccessHandler{access: access}
}

type createPrivateTournamentRequest struct {
	Name            string   `json:"name"`
	GameSlug        string   `json:"game_slug"`
	MaxParticipants int      `json:"max_participants"`
	FriendsOnly     bool     `json:"friends_only"`
	AllowedUsers    []string `json:"allowed_users"`
}

// publicView скрывает код доступа и белый список от всех, кроме организатора.
func publicView(t *models.PrivateTournament, viewerID string) *models.PrivateTournament {
	if t.OrganizerID == viewerID {
		return t
	}
	c := *t
	c.AccessCode = ""
	c.AllowedUsers = nil
	return &c
}

func (h *AccessHandler) CreatePrivateTournament(w http.ResponseWriter, r *http.Request) {
	organizerID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req createPrivateTournamentRequest
	if err := readJSON(w, r, &req); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	tournament, err := h.access.CreatePrivateTournament(r.Context(), services.CreatePrivateTournamentInput{
		Name:            req.Name,
		GameSlug:        req.GameSlug,
		OrganizerID:     organizerID,
		MaxParticipants: req.MaxParticipants,
		FriendsOnly:     req.FriendsOnly,
		AllowedUsers:    req.AllowedUsers,
	})
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusCreated, jsonResponse{"tournament": tournament}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *AccessHandler) GetPrivateTournament(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	tournament, err := h.access.GetPrivateTournament(r.Context(), tournamentID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"tournament": publicView(tournament, userID)}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

type validateAccessRequest struct {
	AccessCode string `json:"access_code"`
}

func (h *AccessHandler) ValidateAccess(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req validateAccessRequest
	if err := readJSON(w, r, &req); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	allowed, err := h.access.ValidateAccess(r.Context(), tournamentID, userID, req.AccessCode)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	status := http.StatusOK
	if !allowed {
		status = http.StatusForbidden
	}
	if err := writeJSON(w, status, jsonResponse{"allowed": allowed}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

type allowedUsersRequest struct {
	UserIDs []string `json:"user_ids"`
}

func (h *AccessHandler) AddAllowedUsers(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getIDFromURL(r, "tournamentID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	organizerID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req allowedUsersRequest
	if err := readJSON(w, r, &req); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	tournament, err := h.access.AddAllowedUsers(r.Context(), tournamentID, organizerID, req.UserIDs)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"tournament": tournament}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *AccessHandler) FindByAccessCode(w http.ResponseWriter, r *http.Request) {
	code, err := getIDFromURL(r, "code")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	tournament, err := h.access.FindByAccessCode(r.Context(), code)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	// Код известен запрашивающему, но список приглашённых - только организатору.
	view := publicView(tournament, userID)
	view.AccessCode = tournament.AccessCode
	if err := writeJSON(w, http.StatusOK, jsonResponse{"tournament": view}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
