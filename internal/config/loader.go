package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/katiya-cw/openesb-standalone/internal/logger"
)

const (
	// EnvPrefix prefixes every environment override (OPENESB_HTTP_PORT).
	EnvPrefix = "OPENESB"

	defaultConfigFile = "config/openesb.yaml"
)

// DefaultConfigFile is the configuration path used when none is supplied.
func DefaultConfigFile(installRoot string) string {
	return filepath.Join(installRoot, filepath.FromSlash(defaultConfigFile))
}

// Loader reads the instance configuration file.
type Loader struct {
	filePath string
	environ  func() []string
	logger   logger.Logger
}

// NewLoader creates a loader for filePath.
func NewLoader(filePath string, log logger.Logger) *Loader {
	return &Loader{
		filePath: filePath,
		environ:  os.Environ,
		logger:   log,
	}
}

// Load parses the configuration file into Settings. A missing file is not an
// error: a warning is logged and only defaults and environment overrides apply.
func (l *Loader) Load() (*Settings, error) {
	l.logger.Info("loading configuration", logger.String("file", l.filePath))

	values := make(map[string]string)

	data, err := os.ReadFile(l.filePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		l.logger.Warn("configuration file not found, using defaults",
			logger.String("file", l.filePath))
	case err != nil:
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	default:
		if err := flattenDocument(data, values); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %s: %w", l.filePath, err)
		}
		l.logger.Info("configuration loaded",
			logger.String("file", l.filePath),
			logger.Int("keys", len(values)))
	}

	applyEnv(values, l.environ())
	return NewSettings(values), nil
}

// flattenDocument walks the YAML node tree instead of decoding into
// interface{} so every scalar keeps its literal text: "yes", "0x10" and
// "1e3" are never turned into bools or numbers.
func flattenDocument(data []byte, out map[string]string) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Kind == 0 {
		return nil // empty file
	}
	root := &doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return nil
		}
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("top-level node must be a mapping, got %s", kindName(root.Kind))
	}
	flattenNode("", root, out)
	return nil
}

func flattenNode(prefix string, n *yaml.Node, out map[string]string) {
	switch n.Kind {
	case yaml.AliasNode:
		flattenNode(prefix, n.Alias, out)
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			if prefix != "" {
				key = prefix + "." + key
			}
			flattenNode(key, n.Content[i+1], out)
		}
	case yaml.SequenceNode:
		if len(n.Content) == 0 {
			out[prefix] = ""
			return
		}
		scalars := make([]string, 0, len(n.Content))
		for i, item := range n.Content {
			if item.Kind == yaml.ScalarNode {
				scalars = append(scalars, item.Value)
				continue
			}
			flattenNode(prefix+"."+strconv.Itoa(i), item, out)
		}
		if len(scalars) > 0 {
			out[prefix] = strings.Join(scalars, ",")
		}
	case yaml.ScalarNode:
		out[prefix] = n.Value
	}
}

// applyEnv overrides keys from OPENESB_* variables. A dotted key maps to an
// upper-cased variable with dots and dashes replaced by underscores. Known
// keys are checked even when the file does not mention them.
func applyEnv(values map[string]string, environ []string) {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, EnvPrefix+"_") {
			env[k] = v
		}
	}
	if len(env) == 0 {
		return
	}

	candidates := make(map[string]struct{}, len(values)+len(KnownKeys))
	for k := range values {
		candidates[k] = struct{}{}
	}
	for _, k := range KnownKeys {
		candidates[k] = struct{}{}
	}
	for key := range candidates {
		if v, ok := env[EnvKey(key)]; ok {
			values[key] = v
		}
	}
}

// EnvKey returns the environment variable that overrides key.
func EnvKey(key string) string {
	r := strings.NewReplacer(".", "_", "-", "_")
	return EnvPrefix + "_" + strings.ToUpper(r.Replace(key))
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}
