package connector

import (
	"context"
	"errors"
	"sync"

	"github.com/katiya-cw/openesb-standalone/internal/config"
	"github.com/katiya-cw/openesb-standalone/internal/logger"
	"github.com/katiya-cw/openesb-standalone/internal/management"
)

// StartMode selects how CreateConnector starts the connector server.
type StartMode int

const (
	// Synchronous starts on the caller's goroutine and returns start errors.
	Synchronous StartMode = iota
	// Threaded starts on a background goroutine; failures are only logged.
	Threaded
)

func (m StartMode) String() string {
	if m == Threaded {
		return "threaded"
	}
	return "synchronous"
}

// Factory creates, starts and destroys the connector of an instance.
type Factory struct {
	settings *config.Settings
	auth     Authenticator
	mbeans   *management.Server
	logger   logger.Logger

	mode   StartMode
	daemon bool

	mu         sync.Mutex
	port       int
	serviceURL string
	registry   Registry
	owned      *LocalRegistry
	server     *ConnectorServer
	starting   sync.WaitGroup
}

// NewFactory reads the start mode from connector.threaded and
// connector.daemon.
func NewFactory(settings *config.Settings, auth Authenticator, mbeans *management.Server, log logger.Logger) *Factory {
	mode := Synchronous
	if settings.GetAsBoolean(config.KeyConnectorThreaded, false) {
		mode = Threaded
	}
	return &Factory{
		settings: settings,
		auth:     auth,
		mbeans:   mbeans,
		logger:   log,
		mode:     mode,
		daemon:   settings.GetAsBoolean(config.KeyConnectorDaemon, true),
	}
}

// SetStartMode overrides the configured start mode. A non-daemon threaded
// start is waited for by Destroy; a daemon one is not.
func (f *Factory) SetStartMode(mode StartMode, daemon bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = mode
	f.daemon = daemon
}

// CreateConnector builds and starts the connector on the port from
// instance.port. A malformed port is logged and leaves the instance without
// a connector; it is not an error.
func (f *Factory) CreateConnector(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.server != nil {
		return nil
	}

	port, err := f.settings.GetAsInt(config.KeyInstancePort, config.DefaultConnectorPort)
	if err != nil || port < 0 || port > 65535 {
		f.logger.Warn("Invalid connector server port. JMX connector will not be created.",
			logger.String("value", f.settings.Get(config.KeyInstancePort, "")))
		return nil
	}
	serviceURL := ServiceURL(port)

	if NeedsLocalRegistry(serviceURL) {
		registryPort, err := LocalHostPort(serviceURL)
		if err != nil {
			f.logger.Warn("Invalid connector server port. JMX connector will not be created.", logger.Error(err))
			return nil
		}
		if registryPort > 0 {
			reg, owned, err := LocateRegistry(ctx, registryPort, f.logger)
			if err != nil {
				f.logger.Error("name registry unavailable", logger.Int("port", registryPort), logger.Error(err))
			} else {
				f.registry, f.owned = reg, owned
			}
		}
	}

	env := Environment{
		EnvAuthenticator: f.auth,
		EnvAuthenticate:  "true",
	}
	server, err := NewConnectorServer(serviceURL, env, f.mbeans, f.registry, f.logger)
	if err != nil {
		f.closeRegistry(ctx)
		return err
	}
	f.server = server
	f.port = port
	f.serviceURL = serviceURL

	if f.mode == Threaded {
		f.startInBackground(ctx, server)
		return nil
	}
	if err := server.Start(ctx); err != nil {
		f.server = nil
		f.closeRegistry(ctx)
		return err
	}
	f.logger.Info("JMX connector server started",
		logger.String("url", serviceURL),
		logger.String("endpoint", server.Endpoint()))
	return nil
}

func (f *Factory) startInBackground(ctx context.Context, server *ConnectorServer) {
	ctx = context.WithoutCancel(ctx)
	if !f.daemon {
		f.starting.Add(1)
	}
	daemon := f.daemon
	go func() {
		if !daemon {
			defer f.starting.Done()
		}
		defer func() {
			if r := recover(); r != nil {
				f.logger.Error("Start connector failure", logger.String("url", server.Address()), logger.Any("panic", r))
			}
		}()
		if err := server.Start(ctx); err != nil {
			if !errors.Is(err, ErrServerClosed) {
				f.logger.Error("Start connector failure", logger.String("url", server.Address()), logger.Error(err))
			}
			return
		}
		f.logger.Info("JMX connector server started",
			logger.String("url", server.Address()),
			logger.String("endpoint", server.Endpoint()),
			logger.Bool("daemon", daemon))
	}()
}

// Destroy stops the connector and any registry this factory created.
// Calling it again, or before CreateConnector, does nothing.
func (f *Factory) Destroy(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.server == nil {
		return nil
	}
	f.starting.Wait()

	err := f.server.Stop(ctx)
	f.logger.Info("JMX connector server stopped", logger.String("url", f.serviceURL))
	f.server = nil
	f.closeRegistry(ctx)
	return err
}

func (f *Factory) closeRegistry(ctx context.Context) {
	if f.owned != nil {
		if err := f.owned.Close(ctx); err != nil {
			f.logger.Warn("failed to close name registry", logger.Error(err))
		}
	}
	f.owned = nil
	f.registry = nil
}

// ServiceURL is the resolved service URL, empty before CreateConnector.
func (f *Factory) ServiceURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.serviceURL
}

// Port is the configured connector port.
func (f *Factory) Port() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.port
}

// Server is the connector server, nil when none was created.
func (f *Factory) Server() *ConnectorServer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.server
}

// MBeanServer is the management directory the connector serves.
func (f *Factory) MBeanServer() *management.Server { return f.mbeans }
