package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/katiya-cw/openesb-standalone/internal/httpserver/deps"
)

type componentStatus struct {
	OK          bool   `json:"ok"`
	DataSources *int   `json:"datasources,omitempty"`
	Plugins     *int   `json:"plugins,omitempty"`
	Mode        string `json:"mode,omitempty"`
	Impact      string `json:"impact,omitempty"`
	Error       string `json:"error,omitempty"`
}

type infraResponse struct {
	State      string                     `json:"state"`
	Components map[string]componentStatus `json:"components"`
}

// Infra reports the health of the pieces an instance depends on.
func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		components := map[string]componentStatus{
			"framework": checkFramework(d),
			"registry":  checkRegistry(r.Context(), d),
			"plugins":   checkPlugins(d),
		}
		writeJSON(w, http.StatusOK, infraResponse{
			State:      determineState(components),
			Components: components,
		})
	}
}

func determineState(components map[string]componentStatus) string {
	if fw, ok := components["framework"]; ok && !fw.OK {
		return "critical"
	}
	for _, c := range components {
		if !c.OK {
			return "degraded"
		}
	}
	return "operational"
}

func checkFramework(d deps.Deps) componentStatus {
	if d.Naming == nil || d.Naming() == nil {
		return componentStatus{OK: false, Error: "naming context not bound"}
	}
	n := len(d.Naming().Names())
	return componentStatus{OK: true, DataSources: &n}
}

func checkPlugins(d deps.Deps) componentStatus {
	if d.Plugins == nil {
		zero := 0
		return componentStatus{OK: true, Plugins: &zero}
	}
	enabled, started := d.Plugins.Services(), d.Plugins.Started()
	n := len(started)
	if n < len(enabled) {
		return componentStatus{OK: false, Plugins: &n, Error: "not every enabled plugin is running"}
	}
	return componentStatus{OK: true, Plugins: &n}
}

func checkRegistry(ctx context.Context, d deps.Deps) componentStatus {
	if d.RedisClient == nil {
		return componentStatus{
			OK:     true,
			Mode:   "memory",
			Impact: "load-guard-process-local",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := d.RedisClient.Ping(ctx).Err(); err != nil {
		return componentStatus{
			OK:     false,
			Mode:   "redis",
			Impact: "load-guard-unavailable",
			Error:  err.Error(),
		}
	}

	return componentStatus{
		OK:     true,
		Mode:   "redis",
		Impact: "load-guard-host-wide",
	}
}
