package connector

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

	"github.com/katiya-cw/openesb-standalone/internal/httpserver/mw"
	"github.com/katiya-cw/openesb-standalone/internal/logger"
	"github.com/katiya-cw/openesb-standalone/internal/management"
)

// Environment keys understood by NewConnectorServer.
const (
	EnvAuthenticator = "jmx.remote.authenticator"
	EnvAuthenticate  = "com.sun.management.jmxremote.authenticate"
)

// Environment carries connector options, keyed like JMX connector
// environments.
type Environment map[string]interface{}

var (
	ErrNoAuthenticator = errors.New("connector: authentication enabled without an authenticator")
	ErrServerClosed    = errors.New("connector: server stopped")
)

// ConnectorServer serves the management directory to remote clients and
// advertises its endpoint in a registry.
type ConnectorServer struct {
	serviceURL string
	mbeans     *management.Server
	registry   Registry
	auth       Authenticator
	logger     logger.Logger

	mu       sync.Mutex
	srv      *http.Server
	done     chan struct{}
	endpoint string
	active   bool
	closed   bool
}

// NewConnectorServer prepares a connector for serviceURL. Requests need
// credentials when env[EnvAuthenticate] is "true"; the checker is
// env[EnvAuthenticator]. registry may be nil, in which case the endpoint is
// not advertised.
func NewConnectorServer(serviceURL string, env Environment, mbeans *management.Server, registry Registry, log logger.Logger) (*ConnectorServer, error) {
	if _, err := ParseServiceURL(serviceURL); err != nil {
		return nil, err
	}

	c := &ConnectorServer{
		serviceURL: serviceURL,
		mbeans:     mbeans,
		registry:   registry,
		logger:     log,
	}
	if a, ok := env[EnvAuthenticator].(Authenticator); ok && a != nil {
		c.auth = a
	}
	if required, _ := strconv.ParseBool(fmt.Sprint(env[EnvAuthenticate])); required && c.auth == nil {
		return nil, ErrNoAuthenticator
	}
	return c, nil
}

// Address is the service URL clients use to find the connector.
func (c *ConnectorServer) Address() string { return c.serviceURL }

// Endpoint is the base HTTP URL, empty until started.
func (c *ConnectorServer) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

func (c *ConnectorServer) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Start listens on an ephemeral loopback port and binds the endpoint in the
// registry. It returns once the connector accepts requests.
func (c *ConnectorServer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrServerClosed
	}
	if c.active {
		return nil
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to listen for connector: %w", err)
	}
	endpoint := "http://" + ln.Addr().String()

	if c.registry != nil {
		if err := c.registry.Bind(ctx, BindingName(c.serviceURL), endpoint); err != nil {
			_ = ln.Close()
			return fmt.Errorf("failed to bind connector endpoint: %w", err)
		}
	}

	c.srv = &http.Server{
		Handler:           c.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	c.done = make(chan struct{})
	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("connector stopped serving", logger.Error(err))
		}
	}(c.srv, c.done)

	c.endpoint = endpoint
	c.active = true
	return nil
}

// Stop unbinds the endpoint and shuts the listener down. A stopped server
// cannot be started again.
func (c *ConnectorServer) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if !c.active {
		return nil
	}
	c.active = false

	var errs []error
	if c.registry != nil {
		if err := c.registry.Unbind(ctx, BindingName(c.serviceURL)); err != nil && !errors.Is(err, ErrNotBound) {
			errs = append(errs, err)
		}
	}
	if err := c.srv.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	<-c.done
	return errors.Join(errs...)
}

type attributeBody struct {
	Name      string `json:"name"`
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
}

type invokeBody struct {
	Name      string      `json:"name"`
	Operation string      `json:"operation"`
	Result    interface{} `json:"result,omitempty"`
}

func (c *ConnectorServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(mw.Log(c.logger))
	r.Use(mw.RateLimit(mw.RateLimitConfig{Burst: 60, RefillPerMin: 600}))
	if c.auth != nil {
		r.Use(requireAuth(c.auth, c.logger))
	}

	r.Get("/mbeans", func(w http.ResponseWriter, req *http.Request) {
		recs, err := c.mbeans.Records(req.Context())
		if err != nil {
			c.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, recs)
	})
	r.Get("/mbeans/{name}", func(w http.ResponseWriter, req *http.Request) {
		rec, err := c.mbeans.Record(req.Context(), management.ObjectName(pathParam(req, "name")))
		if err != nil {
			c.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	})
	r.Get("/mbeans/{name}/attributes/{attr}", func(w http.ResponseWriter, req *http.Request) {
		name, attr := pathParam(req, "name"), pathParam(req, "attr")
		v, err := c.mbeans.GetAttribute(req.Context(), management.ObjectName(name), attr)
		if err != nil {
			c.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, attributeBody{Name: name, Attribute: attr, Value: v})
	})
	r.Post("/mbeans/{name}/operations/{op}", func(w http.ResponseWriter, req *http.Request) {
		name, op := pathParam(req, "name"), pathParam(req, "op")
		c.logger.Info("remote operation requested",
			logger.String("name", name),
			logger.String("operation", op))
		// operations run to completion even if the client hangs up
		out, err := c.mbeans.Invoke(context.WithoutCancel(req.Context()), management.ObjectName(name), op)
		if err != nil {
			c.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, invokeBody{Name: name, Operation: op, Result: out})
	})
	return r
}

// Reasons reported in error bodies.
const (
	reasonNotRegistered     = "not_registered"
	reasonAttributeNotFound = "attribute_not_found"
	reasonNotLocal          = "not_local"
	reasonUnknownOperation  = "unknown_operation"
)

func (c *ConnectorServer) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, management.ErrNotRegistered):
		writeReason(w, http.StatusNotFound, reasonNotRegistered, err)
	case errors.Is(err, management.ErrAttributeNotFound):
		writeReason(w, http.StatusNotFound, reasonAttributeNotFound, err)
	case errors.Is(err, management.ErrNotLocal):
		writeReason(w, http.StatusConflict, reasonNotLocal, err)
	case errors.Is(err, management.ErrUnknownOperation):
		writeReason(w, http.StatusBadRequest, reasonUnknownOperation, err)
	default:
		c.logger.Error("management request failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, err)
	}
}
