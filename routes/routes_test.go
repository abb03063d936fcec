package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Dosada05/tournament-history/handlers"
	"github.com/Dosada05/tournament-history/middleware"
	"github.com/Dosada05/tournament-history/realtime"
	"github.com/Dosada05/tournament-history/repositories"
	"github.com/Dosada05/tournament-history/services"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "routes-test-secret"

type testApp struct {
	router  http.Handler
	hub     *realtime.Hub
	gateway *realtime.Gateway
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	hub := realtime.NewHub(nil)
	go hub.Run(ctx)
	gateway := realtime.NewGateway(hub, nil)
	require.True(t, hub.Connect(ctx))
	t.Cleanup(func() {
		cancel()
		gateway.Close()
		_ = hub.Close()
	})

	results := services.NewResultStore(repositories.NewMemoryHistoryRepository(), nil)
	chat := services.NewChatLog(repositories.NewMemoryChatRepository(), gateway, nil)
	registry := services.NewSpectatorRegistry(repositories.NewMemorySpectatorRepository(), chat, gateway, nil)

	router := chi.NewRouter()
	SetupRoutes(router, middleware.NewAuth(testSecret), Handlers{
		History:   handlers.NewHistoryHandler(results, services.NewStatisticsEngine(results, nil), services.NewHistoryExporter(results, nil, nil)),
		Access:    handlers.NewAccessHandler(services.NewAccessController(repositories.NewMemoryPrivateTournamentRepository(), nil)),
		Spectator: handlers.NewSpectatorHandler(registry),
		Chat:      handlers.NewChatHandler(chat),
		WebSocket: handlers.NewWebSocketHandler(hub, gateway, []string{"*"}, nil),
	}, []string{"*"})

	return &testApp{router: router, hub: hub, gateway: gateway}
}

func tokenFor(t *testing.T, userID, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"user_id": userID,
		"name":    strings.ToUpper(userID),
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
	if role != "" {
		claims["role"] = role
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

type requestOption func(*http.Request)

func asUser(t *testing.T, userID string) requestOption {
	token := tokenFor(t, userID, "")
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func asService(t *testing.T) requestOption {
	token := tokenFor(t, "tournament-service", middleware.RoleService)
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func asGuest(guestID string) requestOption {
	return func(r *http.Request) { r.Header.Set(middleware.GuestHeader, guestID) }
}

func (a *testApp) do(t *testing.T, method, path string, body interface{}, opts ...requestOption) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}

func TestHistoryRoutes(t *testing.T) {
	app := newTestApp(t)
	me := asUser(t, "user_456")
	svc := asService(t)

	placements := []int{1, 3, 2, 5}
	prizes := []float64{100, 25, 50, 0}
	played := []int{5, 4, 6, 3}
	won := []int{5, 2, 4, 1}
	for i := range placements {
		rec, _ := app.do(t, http.MethodPost, "/history", map[string]interface{}{
			"tournament_id":  "t" + string(rune('1'+i)),
			"user_id":        "user_456",
			"game_slug":      "chess",
			"placement":      placements[i],
			"prize_won":      prizes[i],
			"matches_played": played[i],
			"matches_won":    won[i],
			"completed_at":   time.Date(2025, 1, 1+i, 12, 0, 0, 0, time.UTC),
		}, svc)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec, _ := app.do(t, http.MethodPost, "/history", map[string]interface{}{
		"tournament_id": "t1", "user_id": "user_456", "placement": 2,
	}, svc)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// игрок не может записать результат, даже свой
	rec, _ = app.do(t, http.MethodPost, "/history", map[string]interface{}{
		"tournament_id": "t9", "user_id": "user_456", "placement": 1, "prize_won": 1000,
	}, me)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body := app.do(t, http.MethodGet, "/users/user_456/statistics", nil, me)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := body["statistics"].(map[string]interface{})
	assert.Equal(t, float64(4), stats["total_tournaments"])
	assert.Equal(t, 2.75, stats["average_placement"])
	assert.Equal(t, float64(175), stats["total_prize_won"])
	assert.Equal(t, "chess", stats["favorite_game"])

	rec, body = app.do(t, http.MethodGet, "/users/user_456/history?start_date=2025-01-02&end_date=2025-01-03", nil, me)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["entries"], 2)

	rec, body = app.do(t, http.MethodGet, "/users/user_456/history/search?max_placement=2&sort_by=placement&sort_order=asc", nil, me)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := body["entries"].([]interface{})
	require.Len(t, entries, 2)
	assert.Equal(t, float64(1), entries[0].(map[string]interface{})["placement"])

	rec, _ = app.do(t, http.MethodGet, "/users/user_456/history?limit=-1", nil, me)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = app.do(t, http.MethodGet, "/users/user_456/statistics", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLeaderboardAndExportRoutes(t *testing.T) {
	app := newTestApp(t)
	me := asUser(t, "me")

	rec, _ := app.do(t, http.MethodPost, "/history", map[string]interface{}{
		"tournament_id": "t1", "user_id": "bob", "placement": 1,
	}, asService(t))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, body := app.do(t, http.MethodPost, "/users/me/leaderboard", map[string]interface{}{
		"friend_ids": []string{"bob"},
	}, me)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := body["leaderboard"].([]interface{})
	require.Len(t, rows, 2)
	assert.Equal(t, "bob", rows[0].(map[string]interface{})["user_id"])

	rec, _ = app.do(t, http.MethodPost, "/users/bob/leaderboard", map[string]interface{}{"friend_ids": []string{}}, me)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = app.do(t, http.MethodPost, "/users/me/leaderboard", map[string]interface{}{"sort_by": "elo"}, me)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// хранилище не настроено
	rec, _ = app.do(t, http.MethodPost, "/users/me/history/export", nil, me)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPrivateTournamentRoutes(t *testing.T) {
	app := newTestApp(t)
	org := asUser(t, "org")
	friend := asUser(t, "friend")
	stranger := asUser(t, "stranger")

	rec, body := app.do(t, http.MethodPost, "/private-tournaments", map[string]interface{}{
		"name":             "Invite Only",
		"game_slug":        "Chess",
		"max_participants": 8,
		"friends_only":     true,
		"allowed_users":    []string{"friend"},
	}, org)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := body["tournament"].(map[string]interface{})
	id := created["id"].(string)
	code := created["access_code"].(string)
	assert.Regexp(t, `^[A-Z0-9]{6}$`, code)

	rec, body = app.do(t, http.MethodGet, "/private-tournaments/"+id, nil, stranger)
	require.Equal(t, http.StatusOK, rec.Code)
	view := body["tournament"].(map[string]interface{})
	assert.Empty(t, view["access_code"])
	assert.Nil(t, view["allowed_users"])

	rec, body = app.do(t, http.MethodPost, "/private-tournaments/"+id+"/access", map[string]string{"access_code": code}, friend)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["allowed"])

	rec, body = app.do(t, http.MethodPost, "/private-tournaments/"+id+"/access", map[string]string{"access_code": code}, stranger)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, false, body["allowed"])

	rec, _ = app.do(t, http.MethodPost, "/private-tournaments/"+id+"/allowed-users", map[string]interface{}{"user_ids": []string{"stranger"}}, stranger)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = app.do(t, http.MethodPost, "/private-tournaments/"+id+"/allowed-users", map[string]interface{}{"user_ids": []string{"stranger"}}, org)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = app.do(t, http.MethodPost, "/private-tournaments/"+id+"/access", map[string]string{"access_code": code}, stranger)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body = app.do(t, http.MethodGet, "/private-tournaments/code/"+strings.ToLower(code), nil, stranger)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, body["tournament"].(map[string]interface{})["id"])

	rec, _ = app.do(t, http.MethodGet, "/private-tournaments/missing", nil, org)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSpectatorAndChatRoutes(t *testing.T) {
	app := newTestApp(t)
	alice := asUser(t, "alice")

	rec, _ := app.do(t, http.MethodPost, "/sessions/g1/spectators", map[string]string{"tournament_match_id": "m1"}, alice)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, _ = app.do(t, http.MethodPost, "/sessions/g1/spectators", nil, alice)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, body := app.do(t, http.MethodPost, "/sessions/g1/spectators", nil, asGuest("guest-7"))
	require.Equal(t, http.StatusCreated, rec.Code)
	session := body["session"].(map[string]interface{})
	assert.Equal(t, "guest-7", session["viewer_guest_id"])
	assert.NotContains(t, session, "viewer_id")

	rec, _ = app.do(t, http.MethodPost, "/sessions/g1/spectators", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body = app.do(t, http.MethodGet, "/sessions/g1/spectators", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["active_count"])

	rec, _ = app.do(t, http.MethodPost, "/sessions/g1/chat", map[string]string{"message": strings.Repeat("🎯", 501)}, alice)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, body = app.do(t, http.MethodPost, "/sessions/g1/chat", map[string]string{"message": "good luck"}, alice)
	require.Equal(t, http.StatusCreated, rec.Code)
	msg := body["message"].(map[string]interface{})
	assert.Equal(t, "ALICE", msg["sender_name"])
	messageID := msg["id"].(string)

	rec, _ = app.do(t, http.MethodDelete, "/chat/"+messageID, nil, asUser(t, "mallory"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = app.do(t, http.MethodGet, "/sessions/g1/statistics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := body["statistics"].(map[string]interface{})
	assert.Equal(t, float64(2), stats["current_viewers"])
	assert.Equal(t, float64(1), stats["total_chat_messages"])

	rec, _ = app.do(t, http.MethodDelete, "/chat/"+messageID, nil, alice)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, body = app.do(t, http.MethodGet, "/sessions/g1/chat", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["messages"])

	rec, body = app.do(t, http.MethodGet, "/matches/m1/statistics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["statistics"].(map[string]interface{})["total_viewers"])

	rec, body = app.do(t, http.MethodPost, "/sessions/g1/state", map[string]interface{}{"state": map[string]int{"round": 3}}, asService(t))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, true, body["sent"])

	rec, _ = app.do(t, http.MethodPost, "/sessions/g1/state", map[string]interface{}{"state": map[string]int{"round": 99}}, alice)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = app.do(t, http.MethodDelete, "/sessions/g1/spectators", nil, alice)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = app.do(t, http.MethodDelete, "/sessions/g1/spectators", nil, alice)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestBroadcastWhileDisconnected(t *testing.T) {
	app := newTestApp(t)
	require.NoError(t, app.hub.Close())

	rec, body := app.do(t, http.MethodPost, "/sessions/g1/state", map[string]interface{}{"state": map[string]int{}}, asService(t))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["sent"])
}

func TestWebSocketFeed(t *testing.T) {
	app := newTestApp(t)
	server := httptest.NewServer(app.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/sessions/g9"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return app.gateway.SubscriberCount("g9") == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec, _ := app.do(t, http.MethodPost, "/sessions/g9/spectators", nil, asGuest("watcher"))
	require.Equal(t, http.StatusCreated, rec.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event realtime.Event
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, realtime.EventSpectatorJoined, event.Kind)
	assert.Equal(t, "g9", event.GameSessionID)
	assert.Equal(t, "watcher", event.Payload["viewer_id"])
	assert.Equal(t, float64(1), event.Payload["viewer_count"])

	conn.Close()
	require.Eventually(t, func() bool {
		return app.gateway.SubscriberCount("g9") == 0
	}, 2*time.Second, 10*time.Millisecond)
}
