package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/katiya-cw/openesb-standalone/internal/config"
	"github.com/katiya-cw/openesb-standalone/internal/connector"
	"github.com/katiya-cw/openesb-standalone/internal/framework"
	"github.com/katiya-cw/openesb-standalone/internal/httpserver"
	"github.com/katiya-cw/openesb-standalone/internal/httpserver/deps"
	"github.com/katiya-cw/openesb-standalone/internal/jta"
	"github.com/katiya-cw/openesb-standalone/internal/logger"
	"github.com/katiya-cw/openesb-standalone/internal/management"
	"github.com/katiya-cw/openesb-standalone/internal/metrics"
	"github.com/katiya-cw/openesb-standalone/internal/node"
	"github.com/katiya-cw/openesb-standalone/internal/plugins"
	"github.com/katiya-cw/openesb-standalone/internal/redis"
	"github.com/katiya-cw/openesb-standalone/internal/scheduler"
	"github.com/katiya-cw/openesb-standalone/internal/utils"
	"github.com/katiya-cw/openesb-standalone/internal/version"
)

const (
	// DefaultUsername and DefaultPassword guard the connector when the
	// configuration names no credentials.
	DefaultUsername = "admin"
	DefaultPassword = "admin"

	// Records in a shared registry must expire, or a crashed instance
	// would keep its name forever.
	defaultRedisRecordTTL = time.Minute
)

// Options locate the instance on disk.
type Options struct {
	Home       string        // install root
	ConfigFile string        // defaults to <home>/config/openesb.yaml
	Logger     logger.Logger // built from logging.* when nil
}

type App struct {
	cfg         *config.Config
	settings    *config.Settings
	logger      logger.Logger
	ownLogger   bool
	redisClient *goredis.Client
	store       management.RecordStore
	mbeans      *management.Server
	framework   *framework.Framework
	connector   *connector.Service
	server      *httpserver.Server
	node        *node.Node
	gc          *scheduler.GarbageCollector
	gcStarted   bool
}

// New loads the configuration and wires every service. Nothing is started.
func New(ctx context.Context, opts Options) (*App, error) {
	if opts.Home == "" {
		return nil, errors.New("install root is required")
	}
	if opts.ConfigFile == "" {
		opts.ConfigFile = config.DefaultConfigFile(opts.Home)
	}

	log := opts.Logger
	bootLog := log
	if bootLog == nil {
		bootLog = logger.New("info", true)
	}

	settings, err := config.NewLoader(opts.ConfigFile, bootLog).Load()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Decode(settings, opts.Home)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, settings: settings}
	if log == nil {
		log = logger.New(cfg.Logging.Level, cfg.Logging.Pretty)
		a.ownLogger = true
	}
	a.logger = log

	if err := a.openRegistry(ctx); err != nil {
		return nil, err
	}

	auth, err := connector.NewPasswordAuthenticator(
		settings.Get(config.KeyConnectorUser, DefaultUsername),
		settings.Get(config.KeyConnectorPassword, DefaultPassword),
		bcrypt.DefaultCost,
	)
	if err != nil {
		a.closeRegistry()
		return nil, fmt.Errorf("failed to set up connector credentials: %w", err)
	}
	a.connector = connector.NewService(connector.NewFactory(settings, auth, a.mbeans, log.Named("connector")))

	m := metrics.New(metrics.NewRegistry())
	root := cfg.Install.Root

	a.framework = framework.New(root, cfg.Naming.Context, log.Named("framework"))
	a.server = httpserver.New(cfg.HTTP, log.Named("http"), a.httpDeps(root))

	discovery := plugins.NewService(plugins.Env{
		Settings:    settings,
		InstallRoot: root,
		Metrics:     m,
		Logger:      log,
	}, cfg.Plugins.Enabled)

	a.node = node.New(
		node.IdentityFrom(settings, root),
		node.Services{
			Connector:    a.connector,
			Transactions: jta.NewManager(cfg.Transaction.Timeout, log.Named("jta")),
			Engine:       a.framework,
			Web:          a.server,
		},
		a.mbeans,
		discovery,
		log,
		node.WithMetrics(m),
		node.WithHeartbeat(a.heartbeatInterval()),
	)

	a.gc = scheduler.NewGarbageCollector(a.store, log.Named("gc"), cfg.Management.GCInterval, cfg.Management.GCThreshold)
	return a, nil
}

func (a *App) openRegistry(ctx context.Context) error {
	ttl := a.cfg.Management.RecordTTL
	switch a.cfg.Management.Registry {
	case "redis":
		a.logger.Info("connecting to management registry", logger.String("addr", a.cfg.Management.Redis.Addr))
		client, err := redis.Connect(ctx, a.cfg.Management.Redis, a.logger.Named("redis"))
		if err != nil {
			return fmt.Errorf("failed to connect to management registry: %w", err)
		}
		a.redisClient = client
		a.store = management.NewRedisStore(client)
		if ttl == 0 {
			ttl = defaultRedisRecordTTL
		}
	default:
		a.store = management.PlatformStore()
	}
	a.mbeans = management.NewServer(a.store, a.logger.Named("management"), management.WithRecordTTL(ttl))
	return nil
}

func (a *App) heartbeatInterval() time.Duration {
	if a.cfg.Management.Heartbeat > 0 {
		return a.cfg.Management.Heartbeat
	}
	return a.mbeans.RecordTTL() / 3
}

func (a *App) httpDeps(root string) deps.Deps {
	return deps.Deps{
		Logger:       a.logger,
		StartTime:    time.Now(),
		Version:      version.Version,
		Commit:       version.Commit,
		BuildDate:    version.BuildDate,
		GoVersion:    version.GoVersion,
		TimeNow:      time.Now,
		AllowedCIDRS: a.cfg.HTTP.AllowedCIDRs,
		InstallRoot:  root,
		RedisClient:  a.redisClient,
		Instance:     func() map[string]interface{} { return a.node.Attributes() },
		Ready:        func() bool { return a.node.Ready() && a.framework.Ready() },
		Naming:       a.framework.Naming,
		Plugins:      pluginView{a},
		Refresh:      func(ctx context.Context) error { return a.node.Refresh(ctx) },
	}
}

// pluginView resolves the node lazily: the web service is built before it.
type pluginView struct{ a *App }

func (p pluginView) Services() []string { return p.a.node.Plugins().Services() }
func (p pluginView) Started() []string  { return p.a.node.Plugins().Started() }

func (a *App) Config() *config.Config { return a.cfg }

func (a *App) Node() *node.Node { return a.node }

// ServiceURL is the connector URL, empty until started or when disabled.
func (a *App) ServiceURL() string { return a.connector.Factory().ServiceURL() }

// HTTPAddr is the admin listener address once started.
func (a *App) HTTPAddr() string { return a.server.Addr() }

// Start starts the instance and the registry collector. On failure whatever
// did start is stopped again and the error is returned, node.ErrAlreadyLoaded
// included.
func (a *App) Start(ctx context.Context) error {
	a.logger.Info("starting " + version.String())
	if err := a.node.Start(ctx); err != nil {
		a.logger.Error("instance failed to start", logger.Error(err))
		_ = a.Shutdown()
		return err
	}
	if err := a.gc.Start(ctx); err != nil {
		a.logger.Warn("registry garbage collector not started", logger.Error(err))
		return nil
	}
	a.gcStarted = true
	return nil
}

// Run starts the instance and blocks until a signal, ctx ending, or a remote
// stop request, then shuts down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case <-a.node.StopRequested():
		a.logger.Info("shutting down on remote request")
	}
	return a.Shutdown()
}

// Shutdown stops everything within shutdown.timeout and releases the
// registry connection.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	if a.gcStarted {
		_ = a.gc.Stop(ctx)
		a.gcStarted = false
	}
	err := a.node.Stop(ctx)
	if err != nil {
		a.logger.Error("instance stopped with errors", logger.Error(err))
	}
	a.closeRegistry()

	if a.ownLogger {
		_ = a.logger.Sync()
	}
	return err
}

func (a *App) closeRegistry() {
	if a.redisClient == nil {
		return
	}
	utils.CloseLogged(a.redisClient, "management registry", a.logger)
	a.redisClient = nil
}
