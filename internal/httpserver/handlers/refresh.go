package handlers

import (
	"net/http"

	"github.com/katiya-cw/openesb-standalone/internal/httpserver/deps"
	"github.com/katiya-cw/openesb-standalone/internal/logger"
)

// Refresh republishes the instance record on the management registry.
func Refresh(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Refresh == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "refresh not available"})
			return
		}
		if err := d.Refresh(r.Context()); err != nil {
			d.Logger.Warn("manual refresh failed",
				logger.String("remote_ip", r.RemoteAddr), logger.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		d.Logger.Info("instance record refreshed via endpoint", logger.String("remote_ip", r.RemoteAddr))
		w.WriteHeader(http.StatusNoContent)
	}
}
