package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/katiya-cw/openesb-standalone/internal/httpserver/deps"
	"github.com/katiya-cw/openesb-standalone/internal/httpserver/handlers"
	"github.com/katiya-cw/openesb-standalone/internal/httpserver/mw"
)

func init() {
	Register("refresh", registerRefresh, mw.RateLimit(mw.RateLimitConfig{Burst: 5, RefillPerMin: 6}))
}

func registerRefresh(r chi.Router, d deps.Deps) {
	r.Post("/refresh", handlers.Refresh(d))
}
