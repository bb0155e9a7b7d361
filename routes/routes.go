package routes

import (
	"net/http"

	"github.com/cpbr-dev/Clog-Bot/handlers"
	"github.com/cpbr-dev/Clog-Bot/metrics"
	"github.com/cpbr-dev/Clog-Bot/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/cpbr-dev/Clog-Bot/docs"
)

type Handlers struct {
	Auth        *handlers.AuthHandler
	Accounts    *handlers.AccountHandler
	Leaderboard *handlers.LeaderboardHandler
	Admin       *handlers.AdminHandler
	WebSocket   *handlers.WebSocketHandler
}

type Options struct {
	JWTSecret      string
	AllowedOrigins []string
}

func SetupRoutes(router chi.Router, h Handlers, opts Options) {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(metrics.Middleware)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	authenticate := middleware.Authenticate([]byte(opts.JWTSecret))

	router.Post("/auth/token", h.Auth.IssueToken)

	router.Get("/leaderboard", h.Leaderboard.GetLeaderboard)
	router.Get("/ws/leaderboard", h.WebSocket.ServeWs)

	router.Route("/accounts", func(r chi.Router) {
		r.Get("/{name}/owner", h.Accounts.Whois)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Post("/", h.Accounts.Link)
			r.Patch("/{name}", h.Accounts.Edit)
			r.Delete("/{name}", h.Accounts.Unlink)
			r.Post("/{name}/refresh", h.Accounts.Refresh)
		})
	})

	router.Route("/owners/{ownerID}", func(r chi.Router) {
		r.Get("/accounts", h.Accounts.ListByOwner)
		r.Get("/score", h.Leaderboard.GetOwnerScore)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Use(middleware.RequireAdmin)
			r.Get("/override", h.Admin.GetOverride)
			r.Put("/override", h.Admin.SetOverride)
			r.Delete("/override", h.Admin.ClearOverride)
		})
	})

	router.Group(func(r chi.Router) {
		r.Use(authenticate)
		r.Use(middleware.RequireAdmin)
		r.Post("/resync", h.Admin.Resync)
		r.Get("/settings/channel", h.Admin.GetChannel)
		r.Put("/settings/channel", h.Admin.SetChannel)
		r.Put("/settings/message", h.Admin.SetMessage)
	})
}
