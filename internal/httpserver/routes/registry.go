package routes

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/katiya-cw/openesb-standalone/internal/httpserver/deps"
)

type (
	Registrar  func(r chi.Router, d deps.Deps)
	Middleware = func(http.Handler) http.Handler
)

type entry struct {
	group string
	reg   Registrar
	mws   []Middleware
}

var registry = map[string]entry{}

// Register adds a group of /api routes with optional middlewares. Groups are
// mounted in name order so the router does not depend on file init order.
func Register(group string, reg Registrar, mws ...Middleware) {
	if _, dup := registry[group]; dup {
		panic(fmt.Sprintf("routes: group %q registered twice", group))
	}
	registry[group] = entry{group: group, reg: reg, mws: mws}
}

// Groups lists the registered route groups in mount order.
func Groups() []string {
	out := make([]string, 0, len(registry))
	for g := range registry {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// RegisterAll mounts every group on r, the /api sub-router.
func RegisterAll(r chi.Router, d deps.Deps) {
	for _, g := range Groups() {
		e := registry[g]
		if len(e.mws) == 0 {
			e.reg(r, d)
			continue
		}
		e.reg(r.With(e.mws...), d)
	}
}
