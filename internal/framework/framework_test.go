package framework

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katiya-cw/openesb-standalone/internal/logger"
)

func TestFramework_StartStop(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	contextFile := filepath.Join(root, "config", "context.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(contextFile), 0o755))
	require.NoError(t, os.WriteFile(contextFile, []byte(`datasources:
  - name: jdbc/esb
    classname: org.sqlite.SQLiteDataSource
    datasource-properties:
      databaseName: `+filepath.Join(root, "esb.db")+`
`), 0o644))

	f := New(root, contextFile, logger.NewTest(t))
	assert.False(t, f.Ready())
	assert.Nil(t, f.Naming())

	require.NoError(t, f.Start(ctx))
	assert.True(t, f.Ready())
	for _, dir := range Layout {
		info, err := os.Stat(filepath.Join(root, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	require.NotNil(t, f.Naming())
	assert.Equal(t, []string{"jdbc/esb"}, f.Naming().Names())

	ds, err := f.Naming().Lookup("jdbc/esb")
	require.NoError(t, err)
	db, err := ds.DB(ctx)
	require.NoError(t, err)
	require.NoError(t, db.PingContext(ctx))

	require.NoError(t, f.Stop(ctx))
	assert.False(t, f.Ready())
	assert.Nil(t, f.Naming())
	require.NoError(t, f.Stop(ctx))
}

func TestFramework_NoContextFile(t *testing.T) {
	root := t.TempDir()
	f := New(root, filepath.Join(root, "missing.yaml"), logger.NewTest(t))
	require.NoError(t, f.Start(context.Background()))
	assert.Empty(t, f.Naming().Names())
	require.NoError(t, f.Stop(context.Background()))
}

func TestFramework_BadContextFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "context.yaml")
	require.NoError(t, os.WriteFile(path, []byte("datasources: [oops"), 0o644))

	f := New(root, path, logger.NewTest(t))
	assert.Error(t, f.Start(context.Background()))
	assert.False(t, f.Ready())
}

func TestFramework_InstallRootNotWritable(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	f := New(blocker, filepath.Join(root, "missing.yaml"), logger.NewTest(t))
	assert.Error(t, f.Start(context.Background()))
}
