package deps

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/katiya-cw/openesb-standalone/internal/logger"
	"github.com/katiya-cw/openesb-standalone/internal/naming"
)

// PluginLister reports plugin state.
type PluginLister interface {
	Services() []string
	Started() []string
}

type Deps struct {
	Logger       logger.Logger
	StartTime    time.Time
	Version      string
	Commit       string
	BuildDate    string
	GoVersion    string
	TimeNow      func() time.Time // for testing, defaults to time.Now
	AllowedCIDRS []string         // callers allowed on /api
	TrustProxy   bool             // true if running behind a trusted reverse proxy
	InstallRoot  string           // webui and plugin sites are served from here
	RedisClient  *redis.Client    // management registry client, nil with the in-memory registry

	Instance func() map[string]interface{}  // instance attributes, as seen over the connector
	Ready    func() bool                     // true once every core service is up
	Naming   func() *naming.Context          // nil while the framework is stopped
	Plugins  PluginLister                    // may be nil
	Refresh  func(ctx context.Context) error // republishes the instance record
}

// Now returns TimeNow() or time.Now().
func (d Deps) Now() time.Time {
	if d.TimeNow != nil {
		return d.TimeNow()
	}
	return time.Now()
}
