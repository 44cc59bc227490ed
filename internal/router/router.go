package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/miel-team/nextmatch-reveal/internal/config"
	"github.com/miel-team/nextmatch-reveal/internal/handler"
	"github.com/miel-team/nextmatch-reveal/internal/middleware"
	"github.com/miel-team/nextmatch-reveal/internal/presence"
)

// RegisterRoutes registers routes that do not require authentication on
// the provided Echo instance. Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterReveals registers the reveal pipeline's authenticated endpoints
// under /v1. Every route runs JWT verification, a presence touch (the
// caller proving they are around is the very signal that resurfaces their
// matches on the other side), and the Redis token-bucket rate limiter.
func RegisterReveals(e *echo.Echo, h *handler.RevealHandler, tracker *presence.Tracker, jwtSecret string, rlCfg config.RateLimitConfig, rdb *redis.Client) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.TouchPresence(tracker),
		middleware.NewTokenBucket(rlCfg, rdb),
	)
	// Recovery query: rebuilds the client's delivery queue on every load.
	g.GET("/reveals/pending", h.ListPending)
	// Idempotent lifecycle transitions, scoped to the reveal's owner.
	g.POST("/reveals/:id/seen", h.MarkSeen)
	g.POST("/reveals/:id/dismiss", h.MarkDismissed)
}
