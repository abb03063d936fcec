package routes

import (
	"net/http"
	"time"

	"github.com/Dosada05/tournament-history/handlers"
	"github.com/Dosada05/tournament-history/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Handlers собирает все HTTP-обработчики приложения.
type Handlers struct {
	History   *handlers.HistoryHandler
	Access    *handlers.AccessHandler
	Spectator *handlers.SpectatorHandler
	Chat      *handlers.ChatHandler
	WebSocket *handlers.WebSocketHandler
}

func SetupRoutes(router chi.Router, auth *middleware.Auth, h Handlers, allowedOrigins []string) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.GuestHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// WebSocket без таймаута
	router.Get("/ws/sessions/{gameSessionID}", h.WebSocket.ServeWs)

	router.Group(func(r chi.Router) {
		r.Use(chiMiddleware.Timeout(30 * time.Second))

		// Публичные маршруты
		r.Get("/sessions/{gameSessionID}/spectators", h.Spectator.ListSpectators)
		r.Get("/sessions/{gameSessionID}/statistics", h.Spectator.SessionStatistics)
		r.Get("/matches/{matchID}/statistics", h.Spectator.MatchStatistics)
		r.Get("/sessions/{gameSessionID}/chat", h.Chat.History)

		// Зрителем может быть и гость
		r.Group(func(r chi.Router) {
			r.Use(auth.OptionalAuthenticate)
			r.Post("/sessions/{gameSessionID}/spectators", h.Spectator.StartSpectating)
			r.Delete("/sessions/{gameSessionID}/spectators", h.Spectator.StopSpectating)
		})

		// Защищенные маршруты
		r.Group(func(r chi.Router) {
			r.Use(auth.Authenticate)

			// Результаты и состояние игры публикует только внутренний сервис
			r.Group(func(r chi.Router) {
				r.Use(middleware.Authorize(middleware.RoleService, middleware.RoleAdmin))
				r.Post("/history", h.History.RecordResult)
				r.Post("/sessions/{gameSessionID}/state", h.Spectator.BroadcastGameState)
			})

			r.Route("/users/{userID}", func(r chi.Router) {
				r.Get("/history", h.History.QueryHistory)
				r.Get("/history/search", h.History.SearchHistory)
				r.Post("/history/export", h.History.ExportHistory)
				r.Delete("/history/export/{exportID}", h.History.DeleteExport)
				r.Get("/statistics", h.History.GetStatistics)
				r.Post("/leaderboard", h.History.FriendLeaderboard)
			})

			r.Route("/private-tournaments", func(r chi.Router) {
				r.Post("/", h.Access.CreatePrivateTournament)
				r.Get("/code/{code}", h.Access.FindByAccessCode)
				r.Get("/{tournamentID}", h.Access.GetPrivateTournament)
				r.Post("/{tournamentID}/access", h.Access.ValidateAccess)
				r.Post("/{tournamentID}/allowed-users", h.Access.AddAllowedUsers)
			})

			r.Post("/sessions/{gameSessionID}/chat", h.Chat.SendMessage)
			r.Delete("/chat/{messageID}", h.Chat.DeleteMessage)
		})
	})
}
