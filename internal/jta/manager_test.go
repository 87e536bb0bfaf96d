package jta

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katiya-cw/openesb-standalone/internal/logger"
)

type recorder struct {
	mu  sync.Mutex
	log []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, s)
}

func (r *recorder) entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

type resource struct {
	name      string
	rec       *recorder
	commitErr error
}

func (r *resource) Commit(context.Context) error {
	r.rec.add("commit " + r.name)
	return r.commitErr
}

func (r *resource) Rollback(context.Context) error {
	r.rec.add("rollback " + r.name)
	return nil
}

func started(t *testing.T, timeout time.Duration) *Manager {
	t.Helper()
	m := NewManager(timeout, logger.NewTest(t))
	require.NoError(t, m.Start(context.Background()))
	return m
}

func TestBegin_RequiresStart(t *testing.T) {
	m := NewManager(time.Minute, logger.Nop())
	_, err := m.Begin(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestCommit(t *testing.T) {
	ctx := context.Background()
	m := started(t, time.Minute)
	rec := &recorder{}

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, tx.ID())
	assert.Equal(t, []string{tx.ID()}, m.Active())

	require.NoError(t, tx.Enlist(&resource{name: "a", rec: rec}))
	require.NoError(t, tx.Enlist(&resource{name: "b", rec: rec}))
	assert.ErrorIs(t, tx.Enlist(nil), ErrNilResource)

	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, StatusCommitted, tx.Status())
	assert.Equal(t, []string{"commit a", "commit b"}, rec.entries())
	assert.Empty(t, m.Active())

	assert.ErrorIs(t, tx.Commit(ctx), ErrNotActive)
	assert.ErrorIs(t, tx.Rollback(ctx), ErrNotActive)
}

func TestCommit_FailureRollsBackTheRest(t *testing.T) {
	ctx := context.Background()
	m := started(t, time.Minute)
	rec := &recorder{}

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Enlist(&resource{name: "a", rec: rec}))
	require.NoError(t, tx.Enlist(&resource{name: "b", rec: rec, commitErr: errors.New("disk full")}))
	require.NoError(t, tx.Enlist(&resource{name: "c", rec: rec}))
	require.NoError(t, tx.Enlist(&resource{name: "d", rec: rec}))

	err = tx.Commit(ctx)
	assert.ErrorIs(t, err, ErrRolledBack)
	assert.Equal(t, StatusRolledBack, tx.Status())
	assert.Equal(t, []string{"commit a", "commit b", "rollback d", "rollback c"}, rec.entries())
}

func TestRollback_ReverseOrder(t *testing.T) {
	ctx := context.Background()
	m := started(t, time.Minute)
	rec := &recorder{}

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Enlist(&resource{name: "a", rec: rec}))
	require.NoError(t, tx.Enlist(&resource{name: "b", rec: rec}))

	require.NoError(t, tx.Rollback(ctx))
	assert.Equal(t, []string{"rollback b", "rollback a"}, rec.entries())
	assert.Empty(t, m.Active())
}

func TestTimeout(t *testing.T) {
	ctx := context.Background()
	m := started(t, 20*time.Millisecond)
	rec := &recorder{}

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Enlist(&resource{name: "a", rec: rec}))

	require.Eventually(t, func() bool { return tx.Status() == StatusTimedOut }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, tx.Commit(ctx), ErrTimedOut)
	assert.ErrorIs(t, tx.Enlist(&resource{name: "b", rec: rec}), ErrTimedOut)
	assert.Equal(t, []string{"rollback a"}, rec.entries())
	assert.Empty(t, m.Active())
}

func TestStop_RollsBackInFlight(t *testing.T) {
	ctx := context.Background()
	m := started(t, time.Minute)
	rec := &recorder{}

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Enlist(&resource{name: "a", rec: rec}))

	require.NoError(t, m.Stop(ctx))
	assert.Equal(t, StatusRolledBack, tx.Status())
	assert.Equal(t, []string{"rollback a"}, rec.entries())

	_, err = m.Begin(ctx)
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "timed-out", StatusTimedOut.String())
	assert.Equal(t, "unknown", Status(42).String())
}
