package plugins

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/katiya-cw/openesb-standalone/internal/config"
	"github.com/katiya-cw/openesb-standalone/internal/lifecycle"
	"github.com/katiya-cw/openesb-standalone/internal/logger"
)

const MetricsID = "metrics"

func init() { Register(MetricsID, newMetricsPlugin) }

// MetricsPlugin exposes the instance registry at /metrics on its own port.
type MetricsPlugin struct {
	addr    string
	handler http.Handler
	logger  logger.Logger

	mu   sync.Mutex
	srv  *http.Server
	ln   net.Listener
	done chan struct{}
}

func newMetricsPlugin(env Env) (lifecycle.Service, error) {
	reg := env.Metrics.Registry()
	if reg == nil {
		return nil, errors.New("metrics registry not configured")
	}
	port, err := env.Settings.GetAsInt(config.KeyMetricsPort, config.DefaultMetricsPort)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", config.KeyMetricsPort, err)
	}
	binding := env.Settings.Get(config.KeyMetricsBinding, "127.0.0.1")

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	return &MetricsPlugin{
		addr:    net.JoinHostPort(binding, strconv.Itoa(port)),
		handler: r,
		logger:  env.Logger,
	}, nil
}

func (p *MetricsPlugin) Name() string { return MetricsID }

func (p *MetricsPlugin) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.srv != nil {
		return nil
	}
	ln, err := net.Listen("tcp", p.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.addr, err)
	}
	p.ln = ln
	p.srv = &http.Server{
		Handler:           p.handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	p.done = make(chan struct{})
	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("metrics endpoint stopped", logger.Error(err))
		}
	}(p.srv, p.done)

	p.logger.Info("metrics endpoint listening", logger.String("addr", ln.Addr().String()))
	return nil
}

func (p *MetricsPlugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.srv == nil {
		return nil
	}
	err := p.srv.Shutdown(ctx)
	<-p.done
	p.srv, p.ln = nil, nil
	return err
}

// Addr is the bound address while started, empty otherwise.
func (p *MetricsPlugin) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ln == nil {
		return ""
	}
	return p.ln.Addr().String()
}
