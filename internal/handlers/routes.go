package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vidfriends/mediahub/internal/metrics"
	"github.com/vidfriends/mediahub/internal/middleware"
)

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Users    Registrar
	Sessions SessionService
	Videos   VideoService
	DB       Pinger
	Metrics  *metrics.Recorder
	Logger   *slog.Logger

	// MetricsPath mounts the Prometheus handler when non-empty.
	MetricsPath    string
	SecureCookies  bool
	StagingDir     string
	MaxUploadBytes int64
}

// NewRouter builds the HTTP surface.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	staging := stager{dir: deps.StagingDir, maxBytes: deps.MaxUploadBytes}
	health := HealthHandler{DB: deps.DB}
	authHandler := AuthHandler{
		Users:    deps.Users,
		Sessions: deps.Sessions,
		cookies:  cookieJar{secure: deps.SecureCookies},
		staging:  staging,
	}
	videoHandler := VideoHandler{Videos: deps.Videos, staging: staging}

	requireAuth := RequireAuth(deps.Sessions)

	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Metrics(deps.Metrics))

	r.Get("/healthz", health.Handle)
	if deps.MetricsPath != "" {
		r.Method(http.MethodGet, deps.MetricsPath, deps.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh-token", authHandler.Refresh)
			r.With(requireAuth).Post("/logout", authHandler.Logout)
		})

		r.Route("/videos", func(r chi.Router) {
			r.With(requireAuth).Post("/", videoHandler.Create)
			r.With(OptionalAuth(deps.Sessions)).Get("/{videoId}", videoHandler.Get)
			r.With(requireAuth).Patch("/{videoId}", videoHandler.Update)
			r.With(requireAuth).Delete("/{videoId}", videoHandler.Delete)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondData(r.Context(), w, http.StatusNotFound, nil, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondData(r.Context(), w, http.StatusMethodNotAllowed, nil, "method not allowed")
	})

	return r
}
