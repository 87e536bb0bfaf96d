package config

import (
	"testing"
	"time"
)

func TestSettingsGetAsInt(t *testing.T) {
	s := NewSettings(map[string]string{
		"instance.port": "9000",
		"bad.port":      "86x9",
		"spaced":        " 42 ",
	})

	tests := []struct {
		name     string
		key      string
		def      int
		expected int
		wantErr  bool
	}{
		{name: "valid integer", key: "instance.port", def: 8699, expected: 9000},
		{name: "missing key uses default", key: "missing", def: 8699, expected: 8699},
		{name: "malformed returns default and error", key: "bad.port", def: 8699, expected: 8699, wantErr: true},
		{name: "surrounding space trimmed", key: "spaced", def: 0, expected: 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.GetAsInt(tt.key, tt.def)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetAsInt() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.expected {
				t.Errorf("GetAsInt() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSettingsGetAsBoolean(t *testing.T) {
	s := NewSettings(map[string]string{
		"t":       "true",
		"f":       "false",
		"upper":   "TRUE",
		"garbage": "maybe",
	})

	tests := []struct {
		name     string
		key      string
		def      bool
		expected bool
	}{
		{name: "true value", key: "t", def: false, expected: true},
		{name: "false value", key: "f", def: true, expected: false},
		{name: "upper case", key: "upper", def: false, expected: true},
		{name: "invalid value uses default", key: "garbage", def: true, expected: true},
		{name: "missing uses default", key: "missing", def: true, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.GetAsBoolean(tt.key, tt.def); got != tt.expected {
				t.Errorf("GetAsBoolean() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSettingsSubAndList(t *testing.T) {
	s := NewSettings(map[string]string{
		"plugins.enabled":      "metrics, 'console' ,",
		"plugins.metrics.port": "9699",
		"pluginsx":             "no",
	})

	sub := s.Sub("plugins")
	if len(sub) != 2 || sub["metrics.port"] != "9699" {
		t.Errorf("Sub() = %v", sub)
	}

	list := s.GetAsList("plugins.enabled")
	if len(list) != 2 || list[0] != "metrics" || list[1] != "console" {
		t.Errorf("GetAsList() = %v", list)
	}
}

func TestSettingsImmutable(t *testing.T) {
	src := map[string]string{"instance.name": "a"}
	s := NewSettings(src)
	src["instance.name"] = "b"

	if got := s.Get("instance.name", ""); got != "a" {
		t.Errorf("Settings changed with source map: %q", got)
	}

	o := s.With(map[string]string{"instance.name": "c"})
	if s.Get("instance.name", "") != "a" || o.Get("instance.name", "") != "c" {
		t.Error("With() must not modify the receiver")
	}
}

func TestDecodeDefaults(t *testing.T) {
	cfg, err := Decode(Empty(), "/opt/openesb")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if cfg.Instance.Name != DefaultInstanceName {
		t.Errorf("Instance.Name = %q", cfg.Instance.Name)
	}
	if cfg.Install.Root != "/opt/openesb" {
		t.Errorf("Install.Root = %q", cfg.Install.Root)
	}
	if !cfg.HTTP.Enabled || cfg.HTTP.Port != DefaultHTTPPort {
		t.Errorf("HTTP = %+v", cfg.HTTP)
	}
	if cfg.Management.Registry != "memory" {
		t.Errorf("Management.Registry = %q", cfg.Management.Registry)
	}
	if cfg.Naming.Context != "/opt/openesb/config/context.yaml" {
		t.Errorf("Naming.Context = %q", cfg.Naming.Context)
	}
}

func TestDecodeOverrides(t *testing.T) {
	s := NewSettings(map[string]string{
		"instance.name":              "esb-1",
		"instance.port":              "not-used-here",
		"install.root":               "/srv/esb",
		"http.enabled":               "false",
		"http.port":                  "8080",
		"http.allowed_cidrs":         "10.0.0.0/8, 127.0.0.1",
		"management.registry":        "redis",
		"management.redis.addr":      "redis:6379",
		"management.heartbeat":       "15s",
		"plugins.enabled":            "metrics",
		"transaction.timeout":        "2m",
		"logging.level":              "debug",
		"management.redis.pool_size": "4",
	})

	cfg, err := Decode(s, "/ignored")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if cfg.Instance.Name != "esb-1" || cfg.Install.Root != "/srv/esb" {
		t.Errorf("identity = %+v %+v", cfg.Instance, cfg.Install)
	}
	if cfg.HTTP.Enabled || cfg.HTTP.Port != 8080 {
		t.Errorf("HTTP = %+v", cfg.HTTP)
	}
	if len(cfg.HTTP.AllowedCIDRs) != 2 || cfg.HTTP.AllowedCIDRs[1] != "127.0.0.1" {
		t.Errorf("AllowedCIDRs = %v", cfg.HTTP.AllowedCIDRs)
	}
	if !cfg.Management.Redis.Enabled || cfg.Management.Redis.Addr != "redis:6379" || cfg.Management.Redis.PoolSize != 4 {
		t.Errorf("Redis = %+v", cfg.Management.Redis)
	}
	if cfg.Management.Heartbeat != 15*time.Second {
		t.Errorf("Heartbeat = %v", cfg.Management.Heartbeat)
	}
	if cfg.Transaction.Timeout != 2*time.Minute {
		t.Errorf("Transaction.Timeout = %v", cfg.Transaction.Timeout)
	}
	if len(cfg.Plugins.Enabled) != 1 || cfg.Plugins.Enabled[0] != "metrics" {
		t.Errorf("Plugins.Enabled = %v", cfg.Plugins.Enabled)
	}
}

func TestDecodeValidation(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]string
	}{
		{name: "unknown registry", values: map[string]string{"management.registry": "etcd"}},
		{name: "port out of range", values: map[string]string{"http.port": "70000"}},
		{name: "bad log level", values: map[string]string{"logging.level": "trace"}},
		{name: "non numeric port", values: map[string]string{"http.port": "abc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(NewSettings(tt.values), "/opt/openesb"); err == nil {
				t.Error("Decode() should have failed")
			}
		})
	}
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		key      string
		expected string
	}{
		{key: "http.port", expected: "OPENESB_HTTP_PORT"},
		{key: "management.redis.pool_size", expected: "OPENESB_MANAGEMENT_REDIS_POOL_SIZE"},
		{key: "naming.context-file", expected: "OPENESB_NAMING_CONTEXT_FILE"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := EnvKey(tt.key); got != tt.expected {
				t.Errorf("EnvKey() = %v, want %v", got, tt.expected)
			}
		})
	}
}
