package handlers

import (
	"net/http"
	"slices"

	"github.com/katiya-cw/openesb-standalone/internal/httpserver/deps"
)

type pluginStatus struct {
	ID      string `json:"id"`
	Started bool   `json:"started"`
}

func Plugins(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := []pluginStatus{}
		if d.Plugins != nil {
			started := d.Plugins.Started()
			for _, id := range d.Plugins.Services() {
				out = append(out, pluginStatus{ID: id, Started: slices.Contains(started, id)})
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}
