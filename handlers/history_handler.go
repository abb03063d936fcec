package handlers

import (
	"net/http"

	"github.com/Dosada05/tournament-history/models"
	"github.com/Dosada05/tournament-history/services"
)

type HistoryHandler struct {
	results  services.ResultStore
	stats    services.StatisticsEngine
	exporter services.HistoryExporter
}

func NewHistoryHandler(results services.ResultStore, stats services.StatisticsEngine, exporter services.HistoryExporter) *HistoryHandler {
	return &HistoryHandler{
		results:  results,
		stats:    stats,
		exporter: exporter,
	}
}

func (h *HistoryHandler) RecordResult(w http.ResponseWriter, r *http.Request) {
	var input services.RecordResultInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	entry, err := h.results.Record(r.Context(), input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusCreated, jsonResponse{"entry": entry}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *HistoryHandler) QueryHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := getIDFromURL(r, "userID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var opts services.QueryOptions
	if opts.StartDate, err = queryTime(r, "start_date", false); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if opts.EndDate, err = queryTime(r, "end_date", true); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if opts.Limit, opts.Offset, err = queryPage(r); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	entries, err := h.results.Query(r.Context(), userID, opts)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"entries": entries}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *HistoryHandler) SearchHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := getIDFromURL(r, "userID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	criteria := services.SearchCriteria{GameSlug: queryString(r, "game")}
	if criteria.MinPlacement, err = queryInt(r, "min_placement"); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if criteria.MaxPlacement, err = queryInt(r, "max_placement"); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if criteria.Limit, criteria.Offset, err = queryPage(r); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if v := queryString(r, "entry_fee"); v != nil {
		fee := models.EntryFeeFilter(*v)
		criteria.EntryFee = &fee
	}
	if v := queryString(r, "sort_by"); v != nil {
		field := models.HistorySortField(*v)
		criteria.SortBy = &field
	}
	if v := queryString(r, "sort_order"); v != nil {
		order := models.SortOrder(*v)
		criteria.SortOrder = &order
	}

	entries, err := h.results.Search(r.Context(), userID, criteria)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"entries": entries}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *HistoryHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	userID, err := getIDFromURL(r, "userID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	stats, err := h.stats.UserStatistics(r.Context(), userID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"statistics": stats}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

type leaderboardRequest struct {
	FriendIDs []string `json:"friend_ids"`
	SortBy    *string  `json:"sort_by"`
	GameSlug  *string  `json:"game_slug"`
}

func (h *HistoryHandler) FriendLeaderboard(w http.ResponseWriter, r *http.Request) {
	userID, err := getIDFromURL(r, "userID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	currentID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	if currentID != userID {
		forbiddenResponse(w, r, "leaderboard can only be requested for yourself")
		return
	}

	var req leaderboardRequest
	if err := readJSON(w, r, &req); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	opts := services.LeaderboardOptions{GameSlug: req.GameSlug}
	if req.SortBy != nil {
		field := models.LeaderboardSortField(*req.SortBy)
		opts.SortBy = &field
	}

	rows, err := h.stats.FriendLeaderboard(r.Context(), userID, req.FriendIDs, opts)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"leaderboard": rows}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *HistoryHandler) ExportHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := getIDFromURL(r, "userID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	currentID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	if currentID != userID {
		forbiddenResponse(w, r, "history can only be exported by its owner")
		return
	}

	export, err := h.exporter.Export(r.Context(), userID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusCreated, jsonResponse{"export": export}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func (h *HistoryHandler) DeleteExport(w http.ResponseWriter, r *http.Request) {
	userID, err := getIDFromURL(r, "userID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	exportID, err := getIDFromURL(r, "exportID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	currentID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	if currentID != userID {
		forbiddenResponse(w, r, "history exports can only be deleted by their owner")
		return
	}

	if err := h.exporter.DeleteExport(r.Context(), userID, exportID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
