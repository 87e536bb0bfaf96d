package handlers

import (
	"fmt"
	"net/http"

	"github.com/katiya-cw/openesb-standalone/internal/httpserver/deps"
)

type healthzResponse struct {
	Status        string  `json:"status"`
	Instance      string  `json:"instance,omitempty"`
	Loaded        bool    `json:"loaded"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Version       string  `json:"version,omitempty"`
	Commit        string  `json:"commit,omitempty"`
	BuildDate     string  `json:"build_date,omitempty"`
	GoVersion     string  `json:"go_version,omitempty"`
}

// Healthz answers 200 while the process serves requests, whatever the
// instance state. Loaded tells whether it holds its management record.
func Healthz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthzResponse{
			Status:        "ok",
			Version:       d.Version,
			Commit:        d.Commit,
			BuildDate:     d.BuildDate,
			GoVersion:     d.GoVersion,
			UptimeSeconds: d.Now().Sub(d.StartTime).Seconds(),
		}
		if d.Instance != nil {
			attrs := d.Instance()
			if name, ok := attrs["Name"]; ok {
				resp.Instance = fmt.Sprint(name)
			}
			resp.Loaded, _ = attrs["Loaded"].(bool)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
