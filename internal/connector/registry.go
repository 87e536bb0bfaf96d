package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/katiya-cw/openesb-standalone/internal/httpserver/mw"
	"github.com/katiya-cw/openesb-standalone/internal/logger"
)

var (
	ErrNotBound     = errors.New("connector: name not bound")
	ErrAlreadyBound = errors.New("connector: name already bound")
	ErrNoRegistry   = errors.New("connector: no registry at this port")
)

const registryService = "openesb-registry"

// Registry maps names to connector endpoints.
type Registry interface {
	Bind(ctx context.Context, name, endpoint string) error
	Rebind(ctx context.Context, name, endpoint string) error
	Unbind(ctx context.Context, name string) error
	Lookup(ctx context.Context, name string) (string, error)
	List(ctx context.Context) ([]string, error)
}

// LocalRegistry is a registry served by this process on a loopback port.
type LocalRegistry struct {
	port   int
	ln     net.Listener
	srv    *http.Server
	logger logger.Logger
	done   chan struct{}

	mu    sync.RWMutex
	names map[string]string
}

// CreateRegistry starts a registry on localhost:port. It fails when the port
// is taken, typically by a registry another component already created.
func CreateRegistry(port int, log logger.Logger) (*LocalRegistry, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to create registry on port %d: %w", port, err)
	}

	r := &LocalRegistry{
		port:   ln.Addr().(*net.TCPAddr).Port,
		ln:     ln,
		logger: log,
		done:   make(chan struct{}),
		names:  make(map[string]string),
	}
	r.srv = &http.Server{
		Handler:           r.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		defer close(r.done)
		if err := r.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("registry stopped", logger.Int("port", r.port), logger.Error(err))
		}
	}()

	log.Info("name registry created", logger.Int("port", r.port))
	return r, nil
}

// Port is the port the registry listens on.
func (r *LocalRegistry) Port() int { return r.port }

func (r *LocalRegistry) Bind(_ context.Context, name, endpoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.names[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyBound, name)
	}
	r.names[name] = endpoint
	return nil
}

func (r *LocalRegistry) Rebind(_ context.Context, name, endpoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[name] = endpoint
	return nil
}

func (r *LocalRegistry) Unbind(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.names[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotBound, name)
	}
	delete(r.names, name)
	return nil
}

func (r *LocalRegistry) Lookup(_ context.Context, name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.names[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotBound, name)
	}
	return ep, nil
}

func (r *LocalRegistry) List(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.names))
	for name := range r.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Close stops serving and waits for the listener goroutine.
func (r *LocalRegistry) Close(ctx context.Context) error {
	err := r.srv.Shutdown(ctx)
	<-r.done
	r.logger.Info("name registry closed", logger.Int("port", r.port))
	return err
}

type bindingBody struct {
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	Replace  bool   `json:"replace,omitempty"`
}

func (r *LocalRegistry) routes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(mw.AllowOnlyCIDRS([]string{"127.0.0.0/8", "::1"}, false, r.logger))

	router.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"service": registryService})
	})
	router.Get("/names", func(w http.ResponseWriter, req *http.Request) {
		names, _ := r.List(req.Context())
		writeJSON(w, http.StatusOK, names)
	})
	router.Get("/names/{name}", func(w http.ResponseWriter, req *http.Request) {
		name := pathParam(req, "name")
		ep, err := r.Lookup(req.Context(), name)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, bindingBody{Name: name, Endpoint: ep})
	})
	router.Put("/names/{name}", func(w http.ResponseWriter, req *http.Request) {
		name := pathParam(req, "name")
		var body bindingBody
		if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, 1<<16)).Decode(&body); err != nil || body.Endpoint == "" {
			writeError(w, http.StatusBadRequest, errors.New("endpoint required"))
			return
		}
		var err error
		if body.Replace {
			err = r.Rebind(req.Context(), name, body.Endpoint)
		} else {
			err = r.Bind(req.Context(), name, body.Endpoint)
		}
		if err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	router.Delete("/names/{name}", func(w http.ResponseWriter, req *http.Request) {
		if err := r.Unbind(req.Context(), pathParam(req, "name")); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return router
}

// RegistryClient talks to a registry owned by another component or process.
type RegistryClient struct {
	base string
	http *http.Client
}

// GetRegistry connects to the registry on localhost:port and checks that it
// answers.
func GetRegistry(ctx context.Context, port int) (*RegistryClient, error) {
	c := &RegistryClient{
		base: "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
		http: &http.Client{Timeout: 5 * time.Second},
	}
	var pong map[string]string
	if err := c.do(ctx, http.MethodGet, "/ping", nil, &pong); err != nil {
		return nil, fmt.Errorf("%w %d: %v", ErrNoRegistry, port, err)
	}
	if pong["service"] != registryService {
		return nil, fmt.Errorf("%w %d: unexpected service %q", ErrNoRegistry, port, pong["service"])
	}
	return c, nil
}

func (c *RegistryClient) Bind(ctx context.Context, name, endpoint string) error {
	return c.put(ctx, name, endpoint, false)
}

func (c *RegistryClient) Rebind(ctx context.Context, name, endpoint string) error {
	return c.put(ctx, name, endpoint, true)
}

func (c *RegistryClient) put(ctx context.Context, name, endpoint string, replace bool) error {
	err := c.do(ctx, http.MethodPut, "/names/"+url.PathEscape(name), bindingBody{Endpoint: endpoint, Replace: replace}, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusConflict {
		return fmt.Errorf("%w: %s", ErrAlreadyBound, name)
	}
	return err
}

func (c *RegistryClient) Unbind(ctx context.Context, name string) error {
	err := c.do(ctx, http.MethodDelete, "/names/"+url.PathEscape(name), nil, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotBound, name)
	}
	return err
}

func (c *RegistryClient) Lookup(ctx context.Context, name string) (string, error) {
	var body bindingBody
	err := c.do(ctx, http.MethodGet, "/names/"+url.PathEscape(name), nil, &body)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s", ErrNotBound, name)
	}
	if err != nil {
		return "", err
	}
	return body.Endpoint, nil
}

func (c *RegistryClient) List(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.do(ctx, http.MethodGet, "/names", nil, &names); err != nil {
		return nil, err
	}
	return names, nil
}

func (c *RegistryClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	return doJSON(ctx, c.http, method, c.base+path, nil, in, out)
}

// LocateRegistry creates a registry on port or, when that fails because one
// is already there, connects to the existing one. The returned
// *LocalRegistry is non-nil only when this call created it.
func LocateRegistry(ctx context.Context, port int, log logger.Logger) (Registry, *LocalRegistry, error) {
	local, createErr := CreateRegistry(port, log)
	if createErr == nil {
		return local, local, nil
	}
	remote, err := GetRegistry(ctx, port)
	if err != nil {
		return nil, nil, errors.Join(createErr, err)
	}
	log.Info("using existing name registry", logger.Int("port", port))
	return remote, nil, nil
}

// StatusError is a non-2xx answer from a registry or connector.
type StatusError struct {
	Code    int
	Reason  string // machine readable cause, may be empty
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Code)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Message)
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func doJSON(ctx context.Context, client *http.Client, method, target string, auth func(*http.Request), in, out interface{}) error {
	var body *bytes.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if auth != nil {
		auth(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return &StatusError{Code: resp.StatusCode, Reason: eb.Reason, Message: eb.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeReason(w http.ResponseWriter, status int, reason string, err error) {
	writeJSON(w, status, errorBody{Error: err.Error(), Reason: reason})
}

func pathParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}
