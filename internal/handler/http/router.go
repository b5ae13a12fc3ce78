// Package http wires the control-plane RPC surface of spec.md §6 onto a
// chi router, in the style of the teacher's chi-based handler layer
// (internal/handler/lp, internal/handler/ws) — JSON in, JSON out, auth and
// parsing handled entirely at this edge so internal/service and
// internal/domain stay framework-free.
package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/channelstream/broker/config"
	"github.com/channelstream/broker/internal/service"
)

// Handler bundles the dependencies every control-plane route needs.
type Handler struct {
	ops    service.Operations
	log    *slog.Logger
	secret string
}

func NewHandler(ops service.Operations, cfg *config.Config, log *slog.Logger) *Handler {
	return &Handler{ops: ops, log: log, secret: cfg.SharedSecret}
}

// NewRouter builds the full chi router for the control-plane and admin
// endpoints. Long-poll/websocket/disconnect are mounted separately by the
// caller (lp.Handler / ws.Handler), since those require no shared-secret
// permission per spec.md §6.
func (h *Handler) NewRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Group(func(priv chi.Router) {
		priv.Use(h.requireSecret)
		priv.Post("/connect", h.handleConnect)
		priv.Post("/subscribe", h.handleSubscribe)
		priv.Post("/unsubscribe", h.handleUnsubscribe)
		priv.Post("/user_state", h.handleUserState)
		priv.Post("/channel_config", h.handleChannelConfig)
		priv.Post("/info", h.handleInfo)
		priv.Post("/message", h.handleMessageCreate)
		priv.Patch("/message", h.handleMessageEdit)
		priv.Delete("/message", h.handleMessageDelete)
		priv.Get("/admin/stats", h.handleAdminStats)
	})

	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.log.Debug("request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// requireSecret enforces the X-Channelstream-Secret header spec.md §6
// documents for privileged endpoints.
func (h *Handler) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.secret == "" || r.Header.Get("X-Channelstream-Secret") == h.secret {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusForbidden, "forbidden")
	})
}
