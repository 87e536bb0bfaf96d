package handlers

import (
	"net/http"

	"github.com/katiya-cw/openesb-standalone/internal/httpserver/deps"
)

type dataSourceStatus struct {
	Name      string `json:"name"`
	Driver    string `json:"driver"`
	MaxActive int    `json:"max_active"`
	Open      int    `json:"open_connections"`
	InUse     int    `json:"in_use"`
	Idle      int    `json:"idle"`
}

// DataSources lists the pools bound in the naming context.
func DataSources(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := []dataSourceStatus{}
		if d.Naming == nil || d.Naming() == nil {
			writeJSON(w, http.StatusOK, out)
			return
		}
		ctx := d.Naming()
		for _, name := range ctx.Names() {
			ds, err := ctx.Lookup(name)
			if err != nil {
				continue
			}
			stats := ds.Stats()
			out = append(out, dataSourceStatus{
				Name:      name,
				Driver:    ds.Native().DriverName(),
				MaxActive: ds.Properties().MaxActive,
				Open:      stats.OpenConnections,
				InUse:     stats.InUse,
				Idle:      stats.Idle,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}
