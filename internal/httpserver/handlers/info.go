package handlers

import (
	"net/http"

	"github.com/katiya-cw/openesb-standalone/internal/httpserver/deps"
)

// Info returns the instance attributes published on the management registry.
func Info(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Instance == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "instance not wired"})
			return
		}
		writeJSON(w, http.StatusOK, d.Instance())
	}
}
