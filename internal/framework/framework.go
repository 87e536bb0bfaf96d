// Package framework hosts the messaging engine of an instance. It owns the
// install-root layout the engine deploys into and the naming context that
// components look data sources up in.
package framework

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/katiya-cw/openesb-standalone/internal/logger"
	"github.com/katiya-cw/openesb-standalone/internal/naming"
)

// Directories created under the install root on start.
var Layout = []string{"components", "shared-libraries", "service-assemblies"}

type Framework struct {
	installRoot string
	contextFile string
	factory     *naming.DataSourcePoolFactory
	logger      logger.Logger

	ready atomic.Bool

	mu     sync.RWMutex
	naming *naming.Context
}

func New(installRoot, contextFile string, log logger.Logger) *Framework {
	return &Framework{
		installRoot: installRoot,
		contextFile: contextFile,
		factory:     naming.NewDataSourcePoolFactory(log.Named("naming")),
		logger:      log,
	}
}

func (f *Framework) Name() string { return "framework" }

func (f *Framework) Start(_ context.Context) error {
	for _, dir := range Layout {
		path := filepath.Join(f.installRoot, dir)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to prepare %s: %w", path, err)
		}
	}

	nc := naming.NewContext(f.factory, f.logger.Named("naming"))
	if err := nc.Load(f.contextFile); err != nil {
		return fmt.Errorf("failed to load naming context: %w", err)
	}

	f.mu.Lock()
	f.naming = nc
	f.mu.Unlock()
	f.ready.Store(true)

	f.logger.Info("framework ready",
		logger.String("install_root", f.installRoot),
		logger.Strings("datasources", nc.Names()))
	return nil
}

func (f *Framework) Stop(_ context.Context) error {
	f.ready.Store(false)

	f.mu.Lock()
	nc := f.naming
	f.naming = nil
	f.mu.Unlock()

	if nc == nil {
		return nil
	}
	if err := nc.Close(); err != nil {
		return fmt.Errorf("failed to close naming context: %w", err)
	}
	f.logger.Info("framework stopped")
	return nil
}

// Ready reports whether Start completed and Stop has not been called since.
func (f *Framework) Ready() bool { return f.ready.Load() }

// Naming is the live naming context, nil while stopped.
func (f *Framework) Naming() *naming.Context {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.naming
}

func (f *Framework) InstallRoot() string { return f.installRoot }
