// Package node runs one standalone instance: it starts the core services
// and the enabled plugins in a fixed order, publishes the instance on the
// management registry with a guard against loading the same instance twice,
// and tears everything down in reverse.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/katiya-cw/openesb-standalone/internal/config"
	"github.com/katiya-cw/openesb-standalone/internal/lifecycle"
	"github.com/katiya-cw/openesb-standalone/internal/logger"
	"github.com/katiya-cw/openesb-standalone/internal/management"
	"github.com/katiya-cw/openesb-standalone/internal/metrics"
	"github.com/katiya-cw/openesb-standalone/internal/version"
)

// ErrAlreadyLoaded means another live instance holds this identity.
var ErrAlreadyLoaded = errors.New("instance already loaded")

// ObjectDomain is the management domain instances register under.
const ObjectDomain = "net.open-esb.standalone"

// Identity names an instance. It never changes after start-up.
type Identity struct {
	Name        string
	InstallRoot string
}

// IdentityFrom reads instance.name and install.root.
func IdentityFrom(s *config.Settings, installRoot string) Identity {
	return Identity{
		Name:        s.Get(config.KeyInstanceName, config.DefaultInstanceName),
		InstallRoot: s.Get(config.KeyInstallRoot, installRoot),
	}
}

// ObjectName is the management name of the instance record.
func (id Identity) ObjectName() management.ObjectName {
	return management.NewObjectName(ObjectDomain, "instance", id.Name)
}

// Services are the core services, started in field order. Nil entries are
// skipped.
type Services struct {
	Connector    lifecycle.Service
	Transactions lifecycle.Service
	Engine       lifecycle.Service
	Web          lifecycle.Service
}

type step struct {
	name string
	svc  lifecycle.Service
}

func (s Services) steps() []step {
	candidates := []step{
		{"connector", s.Connector},
		{"transactions", s.Transactions},
		{"engine", s.Engine},
		{"web", s.Web},
	}
	out := make([]step, 0, len(candidates))
	for _, c := range candidates {
		if c.svc != nil {
			out = append(out, step{name: lifecycle.NameOf(c.svc, c.name), svc: c.svc})
		}
	}
	return out
}

// PluginDiscovery enumerates the plugins to run after the core services.
type PluginDiscovery interface {
	Services() []string
	Instance(id string) (lifecycle.Service, error)
}

type Option func(*Node)

func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Node) { n.metrics = m }
}

// WithHeartbeat keeps the instance record alive every interval while
// started. Zero disables it.
func WithHeartbeat(interval time.Duration) Option {
	return func(n *Node) { n.heartbeatInterval = interval }
}

func withClock(now func() time.Time) Option {
	return func(n *Node) { n.now = now }
}

// Node is the instance orchestrator. It is also the management bean
// published under its identity.
type Node struct {
	identity Identity
	core     []step
	mbeans   *management.Server
	plugins  PluginDiscovery
	logger   logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	heartbeatInterval time.Duration

	// mu serializes Start and Stop.
	mu          sync.Mutex
	startedCore []step
	published   bool
	heartbeat   *management.Heartbeat

	// pluginsMu guards startedPlugins so it can be read during a transition.
	pluginsMu      sync.Mutex
	startedPlugins []step

	state     atomic.Int32
	loaded    atomic.Bool
	startedAt atomic.Pointer[time.Time]

	stopRequests chan struct{}
}

func New(identity Identity, services Services, mbeans *management.Server, plugins PluginDiscovery, log logger.Logger, opts ...Option) *Node {
	n := &Node{
		identity:     identity,
		core:         services.steps(),
		mbeans:       mbeans,
		plugins:      plugins,
		logger:       log,
		now:          time.Now,
		stopRequests: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.state.Store(int32(lifecycle.Created))
	return n
}

func (n *Node) Name() string { return n.identity.Name }

func (n *Node) Identity() Identity { return n.identity }

func (n *Node) State() lifecycle.State { return lifecycle.State(n.state.Load()) }

// Loaded reports whether this instance holds its management record.
func (n *Node) Loaded() bool { return n.loaded.Load() }

// Ready reports whether the node is started.
func (n *Node) Ready() bool { return n.State() == lifecycle.Started }

// StopRequested fires when a remote client asks the instance to stop.
func (n *Node) StopRequested() <-chan struct{} { return n.stopRequests }

func (n *Node) setState(s lifecycle.State) { n.state.Store(int32(s)) }

// Start starts every service, then publishes the instance. It is a no-op
// unless the node is created or stopped.
//
// A core service error is returned unchanged and the remaining services are
// not started; the node is left Started so Stop unwinds what did start.
// ErrAlreadyLoaded is returned the same way. Any other failure to publish
// the instance is logged and Start succeeds.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.State().CanStart() {
		n.logger.Debug("start ignored", logger.String("state", n.State().String()))
		return nil
	}
	n.setState(lifecycle.Starting)
	begin := n.now()

	if err := n.startAll(ctx); err != nil {
		n.setState(lifecycle.Started)
		return err
	}

	if err := n.publish(ctx); err != nil {
		n.setState(lifecycle.Started)
		return err
	}

	at := n.now()
	n.startedAt.Store(&at)
	n.setState(lifecycle.Started)
	if n.published {
		// the record was written while still starting
		if err := n.mbeans.Refresh(ctx, n.identity.ObjectName()); err != nil {
			n.logger.Warn("failed to refresh instance record", logger.Error(err))
		}
	}
	n.logger.Info("instance started",
		logger.String("instance", n.identity.Name),
		logger.String("version", version.Version),
		logger.Duration("took", at.Sub(begin)))
	return nil
}

func (n *Node) startAll(ctx context.Context) error {
	for _, s := range n.core {
		if err := n.startOne(ctx, s); err != nil {
			return err
		}
		n.startedCore = append(n.startedCore, s)
	}

	if n.plugins == nil {
		return nil
	}
	for _, id := range n.plugins.Services() {
		p, err := n.plugins.Instance(id)
		if err != nil {
			return err
		}
		s := step{name: id, svc: p}
		if err := n.startOne(ctx, s); err != nil {
			return fmt.Errorf("plugin %s: %w", id, err)
		}
		n.pluginsMu.Lock()
		n.startedPlugins = append(n.startedPlugins, s)
		n.pluginsMu.Unlock()
	}
	return nil
}

func (n *Node) startOne(ctx context.Context, s step) error {
	t0 := n.now()
	if err := s.svc.Start(ctx); err != nil {
		n.logger.Error("service start failed", logger.String("service", s.name), logger.Error(err))
		return err
	}
	n.metrics.ObserveStart(s.name, n.now().Sub(t0))
	n.logger.Debug("service started", logger.String("service", s.name))
	return nil
}

// publish is the load guard: a live record under our name is fatal, a stale
// one is replaced. The check and the create are separate calls, so two
// instances racing on the same name can both pass the check; the store
// lets only the first create win and the loser logs a warning.
func (n *Node) publish(ctx context.Context) error {
	name := n.identity.ObjectName()

	registered, err := n.mbeans.IsRegistered(ctx, name)
	if err != nil {
		n.logger.Warn("management registry unavailable, instance not published",
			logger.String("name", name.String()), logger.Error(err))
		return nil
	}

	if registered {
		loaded, err := n.recordLoaded(ctx, name)
		if err != nil {
			n.logger.Warn("cannot read existing instance record, instance not published",
				logger.String("name", name.String()), logger.Error(err))
			return nil
		}
		if loaded {
			return fmt.Errorf("%w: %s", ErrAlreadyLoaded, name)
		}
		if err := n.mbeans.UnregisterMBean(ctx, name); err != nil {
			n.logger.Warn("cannot remove stale instance record, instance not published",
				logger.String("name", name.String()), logger.Error(err))
			return nil
		}
		n.logger.Info("stale instance record removed", logger.String("name", name.String()))
	}

	n.loaded.Store(true)
	if err := n.mbeans.RegisterMBean(ctx, name, n); err != nil {
		n.loaded.Store(false)
		n.logger.Warn("instance registration rejected",
			logger.String("name", name.String()), logger.Error(err))
		return nil
	}
	n.published = true
	n.metrics.SetLoaded(true)

	if n.heartbeatInterval > 0 {
		n.heartbeat = management.NewHeartbeat(n.mbeans, name, n.logger, n.heartbeatInterval)
		n.heartbeat.Start(context.WithoutCancel(ctx))
	}
	return nil
}

// recordLoaded reads Loaded from an existing record. A record without a
// usable Loaded value was never completed and counts as not loaded.
func (n *Node) recordLoaded(ctx context.Context, name management.ObjectName) (bool, error) {
	loaded, err := n.mbeans.GetBoolAttribute(ctx, name, "Loaded")
	if errors.Is(err, management.ErrAttributeNotFound) || errors.Is(err, management.ErrNotBoolean) {
		n.logger.Warn("instance record is incomplete, treating it as stale",
			logger.String("name", name.String()), logger.Error(err))
		return false, nil
	}
	return loaded, err
}

// Stop stops the plugins, then the core services, each in reverse start
// order. A plugin that fails to stop is logged and skipped. Core service
// errors are all attempted and returned joined. The instance record is
// kept but marked not loaded. Stop is a no-op unless the node is started.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.State().CanStop() {
		n.logger.Debug("stop ignored", logger.String("state", n.State().String()))
		return nil
	}
	n.setState(lifecycle.Stopping)

	if n.heartbeat != nil {
		n.heartbeat.Stop()
		n.heartbeat = nil
	}

	n.pluginsMu.Lock()
	plugins := n.startedPlugins
	n.startedPlugins = nil
	n.pluginsMu.Unlock()

	for i := len(plugins) - 1; i >= 0; i-- {
		s := plugins[i]
		if err := s.svc.Stop(ctx); err != nil {
			n.metrics.StopFailed(s.name)
			n.logger.Warn("plugin stop failed", logger.String("plugin", s.name), logger.Error(err))
		}
	}

	var errs []error
	for i := len(n.startedCore) - 1; i >= 0; i-- {
		s := n.startedCore[i]
		if err := s.svc.Stop(ctx); err != nil {
			n.metrics.StopFailed(s.name)
			n.logger.Error("service stop failed", logger.String("service", s.name), logger.Error(err))
			errs = append(errs, err)
		}
	}
	n.startedCore = nil

	n.startedAt.Store(nil)
	n.setState(lifecycle.Stopped)
	n.unpublish(ctx)
	n.logger.Info("instance stopped", logger.String("instance", n.identity.Name))
	return errors.Join(errs...)
}

// unpublish mirrors Loaded=false into the record so the next start, here or
// in another process, sees it as stale.
func (n *Node) unpublish(ctx context.Context) {
	n.loaded.Store(false)
	n.metrics.SetLoaded(false)
	if !n.published {
		return
	}
	n.published = false
	if err := n.mbeans.Refresh(ctx, n.identity.ObjectName()); err != nil {
		n.logger.Warn("cannot mark instance record unloaded",
			logger.String("name", n.identity.ObjectName().String()), logger.Error(err))
	}
}

// Refresh republishes the instance attributes.
func (n *Node) Refresh(ctx context.Context) error {
	return n.mbeans.Refresh(ctx, n.identity.ObjectName())
}
