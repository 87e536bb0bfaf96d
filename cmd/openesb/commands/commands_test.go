package commands

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katiya-cw/openesb-standalone/internal/app"
	"github.com/katiya-cw/openesb-standalone/internal/connector"
	"github.com/katiya-cw/openesb-standalone/internal/logger"
	"github.com/katiya-cw/openesb-standalone/internal/version"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func newHome(t *testing.T, name string) (home string, port int) {
	t.Helper()
	home = t.TempDir()
	port = freePort(t)
	cfg := fmt.Sprintf(`instance:
  name: %s
  port: %d
http:
  enabled: false
management:
  gc_interval: 0
plugins:
  enabled: []
logging:
  level: error
`, name, port)
	path := filepath.Join(home, "config", "openesb.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return home, port
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version.String()+"\n", out)

	out, err = run(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, version.String()+"\n", out)
}

func TestStatusAndStop(t *testing.T) {
	home, port := newHome(t, "cli-status")
	a, err := app.New(context.Background(), app.Options{Home: home, Logger: logger.NewTest(t)})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()
	require.Eventually(t, a.Node().Ready, 5*time.Second, 10*time.Millisecond)

	url := connector.ServiceURL(port)
	out, err := run(t, "status", "--url", url, "--instance", "cli-status")
	require.NoError(t, err)
	assert.Contains(t, out, "net.open-esb.standalone:instance=cli-status")
	assert.Regexp(t, `Loaded\s+true`, out)
	assert.Regexp(t, `State\s+started`, out)

	_, err = run(t, "status", "--url", url, "--instance", "cli-status", "--password", "wrong")
	assert.ErrorIs(t, err, connector.ErrUnauthorized)

	out, err = run(t, "stop", "--url", url, "--instance", "cli-status")
	require.NoError(t, err)
	assert.Contains(t, out, "stop requested")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("instance did not stop")
	}
}

func TestStatus_NothingRunning(t *testing.T) {
	_, err := run(t, "status", "--url", connector.ServiceURL(freePort(t)))
	assert.ErrorIs(t, err, connector.ErrNoRegistry)
}

func TestStatus_URLFromEnvironment(t *testing.T) {
	t.Setenv("OPENESB_URL", connector.ServiceURL(freePort(t)))
	_, err := run(t, "status")
	assert.ErrorIs(t, err, connector.ErrNoRegistry)
}

func TestExecute_AlreadyLoaded(t *testing.T) {
	home, _ := newHome(t, "cli-twice")
	a, err := app.New(context.Background(), app.Options{Home: home, Logger: logger.NewTest(t)})
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Shutdown() })

	other, _ := newHome(t, "cli-twice")
	assert.Equal(t, ExitAlreadyLoaded, Execute([]string{"start", "--home", other}))
	assert.Equal(t, ExitFailure, Execute([]string{"status", "--url", "not a url"}))
}
