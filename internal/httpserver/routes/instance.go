package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/katiya-cw/openesb-standalone/internal/httpserver/deps"
	"github.com/katiya-cw/openesb-standalone/internal/httpserver/handlers"
)

func init() { Register("instance", registerInstance) }

func registerInstance(r chi.Router, d deps.Deps) {
	r.Get("/info", handlers.Info(d))
	r.Get("/infra", handlers.Infra(d))
	r.Get("/plugins", handlers.Plugins(d))
	r.Get("/datasources", handlers.DataSources(d))
}
