package naming

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/katiya-cw/openesb-standalone/internal/logger"
	"github.com/katiya-cw/openesb-standalone/internal/utils"
	"gopkg.in/yaml.v3"
)

// contextFile is the layout of context.yaml.
type contextFile struct {
	DataSources []DataSourcePoolProperties `yaml:"datasources"`
}

// ReadContextFile parses the data source definitions in path.
func ReadContextFile(path string) ([]DataSourcePoolProperties, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc contextFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return doc.DataSources, nil
}

// Context binds pooled data sources to names.
type Context struct {
	factory *DataSourcePoolFactory
	logger  logger.Logger

	mu      sync.RWMutex
	entries map[string]*PooledDataSource
}

func NewContext(factory *DataSourcePoolFactory, log logger.Logger) *Context {
	return &Context{
		factory: factory,
		logger:  log,
		entries: make(map[string]*PooledDataSource),
	}
}

// Load builds and binds every definition in path. A missing file leaves the
// context empty. A definition that cannot be built is logged and skipped;
// it never fails the whole load.
func (c *Context) Load(path string) error {
	defs, err := ReadContextFile(path)
	if errors.Is(err, os.ErrNotExist) {
		c.logger.Info("no naming context file, no data sources bound", logger.String("path", path))
		return nil
	}
	if err != nil {
		return err
	}
	return c.LoadDefinitions(defs)
}

// LoadDefinitions builds and binds defs.
func (c *Context) LoadDefinitions(defs []DataSourcePoolProperties) error {
	for _, def := range defs {
		if def.Name == "" {
			c.logger.Warn("data source definition without a name skipped", logger.String("class", def.ClassName))
			continue
		}
		ds, err := c.factory.GetDataSource(def)
		if err != nil {
			c.logger.Warn("data source not bound",
				logger.String("name", def.Name),
				logger.Error(err))
			continue
		}
		if err := c.Bind(def.Name, ds); err != nil {
			c.logger.Warn("data source not bound", logger.String("name", def.Name), logger.Error(err))
			utils.CloseLogged(ds, def.Name, c.logger)
			continue
		}
		c.logger.Info("data source bound",
			logger.String("name", def.Name),
			logger.String("class", def.ClassName))
	}
	return nil
}

// Bind registers ds under name.
func (c *Context) Bind(name string, ds *PooledDataSource) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrNameBound, name)
	}
	c.entries[name] = ds
	return nil
}

// Unbind removes name and closes its pool.
func (c *Context) Unbind(name string) error {
	c.mu.Lock()
	ds, ok := c.entries[name]
	delete(c.entries, name)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNameNotBound, name)
	}
	return ds.Close()
}

func (c *Context) Lookup(name string) (*PooledDataSource, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ds, ok := c.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNameNotBound, name)
	}
	return ds, nil
}

// Names returns the bound names, sorted.
func (c *Context) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close unbinds everything and closes every pool.
func (c *Context) Close() error {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*PooledDataSource)
	c.mu.Unlock()

	var errs []error
	for name, ds := range entries {
		if err := ds.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
