// Package httpserver is the instance's embedded web server: the admin
// console under /webui, plugin sites under /plugins and the JSON API
// under /api.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/katiya-cw/openesb-standalone/internal/config"
	"github.com/katiya-cw/openesb-standalone/internal/httpserver/deps"
	"github.com/katiya-cw/openesb-standalone/internal/httpserver/mw"
	"github.com/katiya-cw/openesb-standalone/internal/httpserver/routes"
	"github.com/katiya-cw/openesb-standalone/internal/logger"
)

// Fixed mount points.
const (
	WebUIPath   = "/webui"
	PluginsPath = "/plugins"
	APIPath     = "/api"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	enabled bool
	addr    string
	handler http.Handler
	logger  logger.Logger

	mu   sync.Mutex
	http *http.Server
	ln   net.Listener
	done chan struct{}
}

// New builds the HTTP server (router, middlewares, route registration).
// Handlers are fixed here, before Start.
func New(cfg config.HTTPConfig, log logger.Logger, d deps.Deps) *Server {
	r := chi.NewRouter()

	r.Use(middleware.GetHead)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(mw.Log(log, APIPath+"/healthz", APIPath+"/readyz"))

	r.Get(WebUIPath, func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, WebUIPath+"/", http.StatusMovedPermanently)
	})
	r.Handle(WebUIPath+"/*", http.StripPrefix(WebUIPath+"/",
		http.FileServer(http.Dir(filepath.Join(d.InstallRoot, "webui")))))

	r.Handle(PluginsPath+"/{plugin}/*", pluginSite(d.InstallRoot))

	r.Route(APIPath, func(api chi.Router) {
		api.Use(middleware.Timeout(10 * time.Second))
		api.Use(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, log))
		routes.RegisterAll(api, d)
	})

	return &Server{
		enabled: cfg.Enabled,
		addr:    cfg.Addr(),
		handler: r,
		logger:  log,
	}
}

// pluginSite serves <root>/plugins/<plugin>/_site.
func pluginSite(root string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "plugin")
		if name == "" || name == "." || name == ".." {
			http.NotFound(w, r)
			return
		}
		dir := filepath.Join(root, "plugins", name, "_site")
		prefix := PluginsPath + "/" + name
		http.StripPrefix(prefix, http.FileServer(http.Dir(dir))).ServeHTTP(w, r)
	}
}

func (s *Server) Name() string { return "http" }

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Start binds the listen address and serves in the background. A bind
// failure is logged and the instance carries on without the web console.
// A disabled server does nothing.
func (s *Server) Start(_ context.Context) error {
	if !s.enabled {
		s.logger.Info("HTTP server disabled")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.logger.Error("HTTP server not started", logger.String("addr", s.addr), logger.Error(err))
		return nil
	}
	s.ln = ln
	s.http = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	s.done = make(chan struct{})

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		// http.ErrServerClosed is expected on graceful shutdown.
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped", logger.Error(err))
		}
	}(s.http, s.done)

	s.logger.Infof("HTTP server listening on %s", ln.Addr())
	return nil
}

// Stop gracefully shuts down the server with the provided context deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http == nil {
		return nil
	}
	s.logger.Info("HTTP server shutting down...")
	err := s.http.Shutdown(ctx)
	<-s.done
	s.http, s.ln = nil, nil
	return err
}

// Addr is the bound address while running, empty otherwise.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}
