package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// Recognized setting keys.
const (
	KeyInstanceName = "instance.name"
	KeyInstallRoot  = "install.root"
	KeyInstancePort = "instance.port"

	KeyConnectorThreaded = "connector.threaded"
	KeyConnectorDaemon   = "connector.daemon"
	KeyConnectorUser     = "connector.username"
	KeyConnectorPassword = "connector.password"

	KeyHTTPEnabled      = "http.enabled"
	KeyHTTPPort         = "http.port"
	KeyHTTPBinding      = "http.binding"
	KeyHTTPAllowedCIDRs = "http.allowed_cidrs"

	KeyRegistry    = "management.registry"
	KeyHeartbeat   = "management.heartbeat"
	KeyRecordTTL   = "management.record_ttl"
	KeyGCInterval  = "management.gc_interval"
	KeyGCThreshold = "management.gc_threshold"

	KeyLogLevel  = "logging.level"
	KeyLogPretty = "logging.pretty"

	KeyNamingContext  = "naming.context"
	KeyPluginsEnabled = "plugins.enabled"

	KeyMetricsPort    = "plugins.metrics.port"
	KeyMetricsBinding = "plugins.metrics.binding"

	KeyTransactionTimeout = "transaction.timeout"
	KeyShutdownTimeout    = "shutdown.timeout"
)

// Defaults.
const (
	DefaultInstanceName  = "server"
	DefaultConnectorPort = 8699
	DefaultHTTPPort      = 4848
	DefaultHTTPEnabled   = true
	DefaultHTTPBinding   = "0.0.0.0"
	DefaultMetricsPort   = 9699
)

// KnownKeys are checked for environment overrides even when absent from the file.
var KnownKeys = []string{
	KeyInstanceName, KeyInstallRoot, KeyInstancePort,
	KeyConnectorThreaded, KeyConnectorDaemon, KeyConnectorUser, KeyConnectorPassword,
	KeyHTTPEnabled, KeyHTTPPort, KeyHTTPBinding, KeyHTTPAllowedCIDRs,
	KeyRegistry, KeyHeartbeat, KeyRecordTTL, KeyGCInterval, KeyGCThreshold, "management.redis.addr", "management.redis.password",
	KeyLogLevel, KeyLogPretty,
	KeyNamingContext, KeyPluginsEnabled, KeyMetricsPort, KeyMetricsBinding,
	KeyTransactionTimeout, KeyShutdownTimeout,
}

// Config is the typed view of Settings used to wire the container.
// The connector reads its own keys straight from Settings.
type Config struct {
	Instance    InstanceConfig    `mapstructure:"instance"`
	Install     InstallConfig     `mapstructure:"install"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Management  ManagementConfig  `mapstructure:"management"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Naming      NamingConfig      `mapstructure:"naming"`
	Plugins     PluginsConfig     `mapstructure:"plugins"`
	Transaction TransactionConfig `mapstructure:"transaction"`
	Shutdown    ShutdownConfig    `mapstructure:"shutdown"`
}

type InstanceConfig struct {
	Name string `mapstructure:"name" validate:"required"`
}

type InstallConfig struct {
	Root string `mapstructure:"root" validate:"required"`
}

type HTTPConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Port         int      `mapstructure:"port" validate:"gte=0,lte=65535"`
	Binding      string   `mapstructure:"binding"`
	AllowedCIDRs []string `mapstructure:"allowed_cidrs"`
}

// Addr is the listen address (binding:port).
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Binding, h.Port)
}

type ManagementConfig struct {
	Registry    string        `mapstructure:"registry" validate:"oneof=memory redis"`
	Heartbeat   time.Duration `mapstructure:"heartbeat" validate:"gte=0"`
	RecordTTL   time.Duration `mapstructure:"record_ttl" validate:"gte=0"`
	GCInterval  time.Duration `mapstructure:"gc_interval" validate:"gte=0"`
	GCThreshold time.Duration `mapstructure:"gc_threshold" validate:"gte=0"`
	Redis       RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr           string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db" validate:"gte=0"`
	PoolSize       int           `mapstructure:"pool_size" validate:"gte=1"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
	MaxWait        time.Duration `mapstructure:"max_wait"`
	PingTimeout    time.Duration `mapstructure:"ping_timeout"`
	WarnThreshold  int           `mapstructure:"warn_threshold" validate:"gte=0"`
	Enabled        bool          `mapstructure:"-"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Pretty bool   `mapstructure:"pretty"`
}

type NamingConfig struct {
	Context string `mapstructure:"context"`
}

type PluginsConfig struct {
	Enabled []string `mapstructure:"enabled"`
}

type TransactionConfig struct {
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type ShutdownConfig struct {
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// Defaults returns the configuration used for keys the file omits.
func Defaults(installRoot string) *Config {
	return &Config{
		Instance: InstanceConfig{Name: DefaultInstanceName},
		Install:  InstallConfig{Root: installRoot},
		HTTP: HTTPConfig{
			Enabled: DefaultHTTPEnabled,
			Port:    DefaultHTTPPort,
			Binding: DefaultHTTPBinding,
		},
		Management: ManagementConfig{
			Registry:    "memory",
			GCInterval:  time.Hour,
			GCThreshold: 24 * time.Hour,
			Redis: RedisConfig{
				Addr:           "localhost:6379",
				PoolSize:       10,
				DialTimeout:    5 * time.Second,
				ReadTimeout:    3 * time.Second,
				WriteTimeout:   3 * time.Second,
				ConnectTimeout: 30 * time.Second,
				RetryInterval:  2 * time.Second,
				MaxWait:        10 * time.Second,
				PingTimeout:    5 * time.Second,
				WarnThreshold:  3,
			},
		},
		Logging: LoggingConfig{Level: "info", Pretty: true},
		Naming: NamingConfig{
			Context: filepath.Join(installRoot, "config", "context.yaml"),
		},
		Transaction: TransactionConfig{Timeout: 60 * time.Second},
		Shutdown:    ShutdownConfig{Timeout: 10 * time.Second},
	}
}

// Decode builds the typed Config from settings on top of Defaults.
func Decode(s *Settings, installRoot string) (*Config, error) {
	root := s.Get(KeyInstallRoot, installRoot)
	cfg := Defaults(root)

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build config decoder: %w", err)
	}
	if err := dec.Decode(nest(s)); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	cfg.Install.Root = root
	cfg.Management.Redis.Enabled = cfg.Management.Registry == "redis"
	cfg.Plugins.Enabled = trimAll(cfg.Plugins.Enabled)
	cfg.HTTP.AllowedCIDRs = trimAll(cfg.HTTP.AllowedCIDRs)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints declared on Config.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// nest turns dotted keys into the nested maps mapstructure expects. A key
// that is both a leaf and a parent keeps the parent.
func nest(s *Settings) map[string]interface{} {
	root := make(map[string]interface{})
	for _, key := range s.Keys() {
		value, _ := s.Lookup(key)
		parts := strings.Split(key, ".")
		m := root
		for _, p := range parts[:len(parts)-1] {
			next, exists := m[p]
			if !exists {
				child := make(map[string]interface{})
				m[p] = child
				m = child
				continue
			}
			child, isMap := next.(map[string]interface{})
			if !isMap {
				child = make(map[string]interface{})
				m[p] = child
			}
			m = child
		}
		last := parts[len(parts)-1]
		if _, isMap := m[last].(map[string]interface{}); isMap {
			continue
		}
		m[last] = value
	}
	return root
}

// trimAll keeps nil apart from empty: an explicit empty list disables
// plugins, a missing one enables them all.
func trimAll(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
