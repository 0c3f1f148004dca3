package api

import (
	"net/http"

	"github.com/vidhub/backend/internal/apperrors"
	"github.com/vidhub/backend/internal/auth"
	"github.com/vidhub/backend/internal/health"
	"github.com/vidhub/backend/internal/metrics"
	"github.com/vidhub/backend/internal/users"
)

type Router struct {
	mux          *http.ServeMux
	userHandlers *users.Handlers
	authService  *auth.Service
	health       *health.Handler
	metrics      *metrics.Metrics
}

func NewRouter(userHandlers *users.Handlers, authService *auth.Service, healthHandler *health.Handler, m *metrics.Metrics) *Router {
	r := &Router{
		mux:          http.NewServeMux(),
		userHandlers: userHandlers,
		authService:  authService,
		health:       healthHandler,
		metrics:      m,
	}
	r.setupRoutes()
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) setupRoutes() {
	// Probes and metrics
	r.mux.HandleFunc("GET /health", r.health.Liveness)
	r.mux.HandleFunc("GET /health/ready", r.health.Readiness)
	r.mux.Handle("GET /metrics", r.metrics.Handler())

	// Account routes (no session required)
	r.mux.Handle("POST /api/v1/users/register", apperrors.HandleFunc(r.userHandlers.Register))
	r.mux.Handle("POST /api/v1/users/login", apperrors.HandleFunc(r.userHandlers.Login))
	r.mux.Handle("POST /api/v1/users/refresh-token", apperrors.HandleFunc(r.userHandlers.RefreshToken))

	// Authenticated by the refresh cookie itself, not an access token
	r.mux.Handle("DELETE /api/v1/users/me", apperrors.HandleFunc(r.userHandlers.DeleteAccount))

	// Account routes (session required)
	r.mux.Handle("POST /api/v1/users/logout", r.withAuth(r.userHandlers.Logout))
	r.mux.Handle("POST /api/v1/users/change-password", r.withAuth(r.userHandlers.ChangePassword))
	r.mux.Handle("GET /api/v1/users/me", r.withAuth(r.userHandlers.Me))
	r.mux.Handle("PATCH /api/v1/users/me", r.withAuth(r.userHandlers.UpdateAccount))
	r.mux.Handle("PATCH /api/v1/users/avatar", r.withAuth(r.userHandlers.UpdateAvatar))
	r.mux.Handle("PATCH /api/v1/users/cover-image", r.withAuth(r.userHandlers.UpdateCoverImage))

	// Social routes (session required)
	r.mux.Handle("GET /api/v1/users/channel/{username}", r.withAuth(r.userHandlers.ChannelProfile))
	r.mux.Handle("POST /api/v1/users/subscribe/{username}", r.withAuth(r.userHandlers.ToggleSubscription))
	r.mux.Handle("GET /api/v1/users/history", r.withAuth(r.userHandlers.WatchHistory))
	r.mux.Handle("POST /api/v1/users/history/{videoID}", r.withAuth(r.userHandlers.AddWatchHistory))
}

func (r *Router) withAuth(next apperrors.Handler) http.Handler {
	return auth.Middleware(r.authService)(apperrors.HandleFunc(next))
}
