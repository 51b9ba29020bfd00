package app

import (
	"log/slog"

	"github.com/crownarena/server/internal/auth"
	"github.com/crownarena/server/internal/handler"
	"github.com/crownarena/server/internal/infra"
	"github.com/crownarena/server/internal/world"
	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
)

// RouterDeps holds all dependencies needed by NewRouter.
type RouterDeps struct {
	World   *world.Hub
	Conns   *infra.ConnHub
	JWTMgr  *auth.JWTManager
	Health  handler.HealthChecker
	Gateway handler.GatewayConfig
	Clock   clockwork.Clock
	Logger  *slog.Logger
}

// NewRouter assembles the chi.Router with all routes and middleware.
func NewRouter(deps RouterDeps) chi.Router {
	logger := deps.Logger

	gateway := handler.NewGateway(deps.Gateway, deps.World, deps.Conns, deps.JWTMgr, deps.Clock, logger)
	admin := handler.NewAdminHandler(deps.World, deps.Conns)

	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(handler.Recovery(logger))
	r.Use(handler.RequestID)
	r.Use(handler.RequestLogger(logger))
	r.Use(handler.CORS(deps.Gateway.AllowedOrigins))

	// WebSocket entry points authenticate after the upgrade so rejections
	// can carry a close code.
	r.Get("/ws", gateway.ServeWorld)
	r.Get("/ws/battle/{battleID}", gateway.ServeBattle)

	r.Group(func(r chi.Router) {
		r.Use(handler.JSONContentType)

		r.Get("/health", handler.HealthHandler(deps.Health))

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.AuthenticateOperator(deps.JWTMgr))
			r.Use(auth.RequireRole(auth.ReadRoles()...))
			r.Get("/stats", admin.Stats)
			r.Get("/battles/{battleID}", admin.BattleSnapshot)
		})
	})

	return r
}
