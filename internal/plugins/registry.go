// Package plugins discovers the optional services an instance runs after
// its core is up. Plugins register a factory from init, the same way HTTP
// routes do, and the instance starts the enabled ones in registration order.
package plugins

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/katiya-cw/openesb-standalone/internal/config"
	"github.com/katiya-cw/openesb-standalone/internal/lifecycle"
	"github.com/katiya-cw/openesb-standalone/internal/logger"
	"github.com/katiya-cw/openesb-standalone/internal/metrics"
)

var (
	ErrUnknownPlugin = errors.New("plugins: unknown plugin")
	ErrNotEnabled    = errors.New("plugins: plugin not enabled")
)

// Env is what a factory gets to build its plugin.
type Env struct {
	Settings    *config.Settings
	InstallRoot string
	Metrics     *metrics.Metrics
	Logger      logger.Logger
}

// Factory builds one plugin instance.
type Factory func(env Env) (lifecycle.Service, error)

type entry struct {
	id      string
	factory Factory
}

var (
	registryMu sync.RWMutex
	registry   []entry
)

// Register adds a plugin factory. Registering an id twice panics.
func Register(id string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, e := range registry {
		if e.id == id {
			panic("plugins: duplicate registration of " + id)
		}
	}
	registry = append(registry, entry{id: id, factory: f})
}

// Registered lists every known plugin id in registration order.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ids := make([]string, 0, len(registry))
	for _, e := range registry {
		ids = append(ids, e.id)
	}
	return ids
}

func lookup(id string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, e := range registry {
		if e.id == id {
			return e.factory, true
		}
	}
	return nil, false
}

// Service is the instance's view of the registered plugins: which ones are
// enabled and their single instances. Starting and stopping them is the
// instance's job.
type Service struct {
	env     Env
	enabled []string // nil enables everything registered

	mu        sync.Mutex
	instances map[string]lifecycle.Service
}

func NewService(env Env, enabled []string) *Service {
	return &Service{
		env:       env,
		enabled:   enabled,
		instances: make(map[string]lifecycle.Service),
	}
}

// Services returns the ids of the enabled plugins, in registration order.
// Ids in the enabled list that nothing registered are ignored.
func (s *Service) Services() []string {
	all := Registered()
	if s.enabled == nil {
		return all
	}
	out := make([]string, 0, len(all))
	for _, id := range all {
		if slices.Contains(s.enabled, id) {
			out = append(out, id)
		}
	}
	return out
}

// Instance builds the plugin on first use and returns the same value after.
func (s *Service) Instance(id string) (lifecycle.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.instances[id]; ok {
		return p, nil
	}
	f, ok := lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, id)
	}
	if !slices.Contains(s.Services(), id) {
		return nil, fmt.Errorf("%w: %s", ErrNotEnabled, id)
	}
	env := s.env
	env.Logger = s.env.Logger.Named(id)
	p, err := f(env)
	if err != nil {
		return nil, fmt.Errorf("failed to create plugin %s: %w", id, err)
	}
	s.instances[id] = p
	return p, nil
}
