package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/katiya-cw/openesb-standalone/internal/lifecycle"
	"github.com/katiya-cw/openesb-standalone/internal/logger"
	"github.com/katiya-cw/openesb-standalone/internal/management"
	"github.com/katiya-cw/openesb-standalone/internal/metrics"
)

// brokenStore fails every call, like an unreachable registry.
type brokenStore struct{ err error }

func (b brokenStore) Get(context.Context, management.ObjectName) (*management.Record, error) {
	return nil, b.err
}
func (b brokenStore) Create(context.Context, *management.Record, time.Duration) error { return b.err }
func (b brokenStore) Update(context.Context, *management.Record, time.Duration) error { return b.err }
func (b brokenStore) Delete(context.Context, management.ObjectName) error           { return b.err }
func (b brokenStore) List(context.Context) ([]*management.Record, error)            { return nil, b.err }
func (b brokenStore) Touch(context.Context, management.ObjectName, time.Duration) error {
	return b.err
}

func loadedAttr(t *testing.T, s *management.Server) string {
	t.Helper()
	v, err := s.GetAttribute(context.Background(), identity.ObjectName(), "Loaded")
	require.NoError(t, err)
	return v
}

func TestLoadGuard_DuplicateInSameProcess(t *testing.T) {
	ctx := context.Background()
	store := management.NewMemoryStore()
	first := New(identity, coreServices(&calls{}), management.NewServer(store, logger.NewTest(t)), nil, logger.NewTest(t))
	require.NoError(t, first.Start(ctx))

	c := &calls{}
	observerServer := management.NewServer(store, logger.NewTest(t))
	second := New(identity, coreServices(c), observerServer, nil, logger.NewTest(t))
	err := second.Start(ctx)
	require.ErrorIs(t, err, ErrAlreadyLoaded)
	assert.Contains(t, err.Error(), "net.open-esb.standalone:instance=server")
	assert.False(t, second.Loaded())
	assert.Equal(t, lifecycle.Started, second.State(), "services are up, the caller decides to stop")

	require.NoError(t, second.Stop(ctx))
	assert.Len(t, c.filter("stop "), 4)
	assert.Equal(t, "true", loadedAttr(t, observerServer), "the loser must not touch the winner's record")

	require.NoError(t, first.Stop(ctx))
}

func TestLoadGuard_StaleRecordIsReplaced(t *testing.T) {
	ctx := context.Background()
	store := management.NewMemoryStore()

	first := New(identity, Services{}, management.NewServer(store, logger.NewTest(t)), nil, logger.NewTest(t))
	require.NoError(t, first.Start(ctx))
	require.NoError(t, first.Stop(ctx))

	reader := management.NewServer(store, logger.NewTest(t))
	assert.Equal(t, "false", loadedAttr(t, reader), "stopped instance leaves a stale record")

	second := New(identity, Services{}, management.NewServer(store, logger.NewTest(t)), nil, logger.NewTest(t))
	require.NoError(t, second.Start(ctx))
	assert.True(t, second.Loaded())
	assert.Equal(t, "true", loadedAttr(t, reader))
	require.NoError(t, second.Stop(ctx))
}

func TestLoadGuard_AcrossProcessesWithRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	serverFor := func() *management.Server {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return management.NewServer(management.NewRedisStore(client), logger.NewTest(t),
			management.WithRecordTTL(30*time.Second))
	}

	a := New(identity, Services{}, serverFor(), nil, logger.NewTest(t))
	b := New(identity, Services{}, serverFor(), nil, logger.NewTest(t))

	require.NoError(t, a.Start(ctx))
	assert.ErrorIs(t, b.Start(ctx), ErrAlreadyLoaded)
	require.NoError(t, b.Stop(ctx))

	require.NoError(t, a.Stop(ctx))
	require.NoError(t, b.Start(ctx), "a stale record does not block the next instance")
	assert.True(t, b.Loaded())
	require.NoError(t, b.Stop(ctx))
}

func TestLoadGuard_CrashedInstanceExpires(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := management.NewRedisStore(client)

	crashed := New(identity, Services{}, management.NewServer(store, logger.NewTest(t), management.WithRecordTTL(time.Minute)), nil, logger.NewTest(t))
	require.NoError(t, crashed.Start(ctx))

	next := New(identity, Services{}, management.NewServer(store, logger.NewTest(t), management.WithRecordTTL(time.Minute)), nil, logger.NewTest(t))
	require.ErrorIs(t, next.Start(ctx), ErrAlreadyLoaded)
	require.NoError(t, next.Stop(ctx))

	mr.FastForward(2 * time.Minute)
	require.NoError(t, next.Start(ctx))
	assert.True(t, next.Loaded())
}

func TestLoadGuard_IncompleteRecordIsReplaced(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	// a claim cut short leaves a bare hash with no Loaded field and no TTL
	key := management.RecordKey(identity.ObjectName())
	mr.HSet(key, "name", string(identity.ObjectName()))

	mbeans := management.NewServer(management.NewRedisStore(client), logger.NewTest(t), management.WithRecordTTL(time.Minute))
	n := New(identity, Services{}, mbeans, nil, logger.NewTest(t))
	require.NoError(t, n.Start(ctx))
	t.Cleanup(func() { _ = n.Stop(ctx) })

	assert.True(t, n.Loaded())
	assert.Equal(t, "true", mr.HGet(key, "attr.Loaded"))
	assert.Equal(t, time.Minute, mr.TTL(key))
}

func TestLoadGuard_UnreadableLoadedIsStale(t *testing.T) {
	ctx := context.Background()
	store := management.NewMemoryStore()
	require.NoError(t, store.Create(ctx, &management.Record{
		Name:       identity.ObjectName(),
		Attributes: map[string]string{"Loaded": "garbage"},
	}, 0))

	n := New(identity, Services{}, management.NewServer(store, logger.NewTest(t)), nil, logger.NewTest(t))
	require.NoError(t, n.Start(ctx))
	assert.True(t, n.Loaded())
	require.NoError(t, n.Stop(ctx))
}

func TestStart_RecordShowsStartedState(t *testing.T) {
	ctx := context.Background()
	store := management.NewMemoryStore()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	n := New(identity, Services{}, management.NewServer(store, logger.NewTest(t)), nil, logger.NewTest(t),
		withClock(func() time.Time { return now }))
	require.NoError(t, n.Start(ctx))
	t.Cleanup(func() { _ = n.Stop(ctx) })

	rec, err := store.Get(ctx, identity.ObjectName())
	require.NoError(t, err)
	assert.Equal(t, "started", rec.Attributes["State"])
	assert.Equal(t, "2026-03-01T08:00:00Z", rec.Attributes["StartedAt"])
	assert.Equal(t, "true", rec.Attributes["Loaded"])
}

func TestLoadGuard_RegistryFailureIsOnlyLogged(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.WarnLevel)
	log := logger.FromZap(zap.New(core))
	c := &calls{}

	mbeans := management.NewServer(brokenStore{err: errors.New("connection refused")}, log)
	n := New(identity, coreServices(c), mbeans, nil, log)

	require.NoError(t, n.Start(ctx))
	assert.Equal(t, lifecycle.Started, n.State())
	assert.False(t, n.Loaded())
	assert.Equal(t, 1, logs.FilterMessage("management registry unavailable, instance not published").Len())

	require.NoError(t, n.Stop(ctx))
	assert.Len(t, c.filter("stop "), 4)
}

func TestStart_CoreErrorPropagatesUnchanged(t *testing.T) {
	ctx := context.Background()
	c := &calls{}
	boom := errors.New("engine failed")
	services := coreServices(c)
	services.Engine = fake(c, "engine", boom, nil)
	plugins := newDiscovery().add("p1", fake(c, "p1", nil, nil))

	n := New(identity, services, newServer(t), plugins, logger.NewTest(t))
	err := n.Start(ctx)
	assert.Same(t, boom, err)
	assert.Equal(t, []string{"connector", "transactions", "engine"}, c.filter("start "))
	assert.False(t, n.Loaded(), "a failed start publishes nothing")

	require.NoError(t, n.Stop(ctx))
	assert.Equal(t, []string{"transactions", "connector"}, c.filter("stop "))
}

func TestStart_PluginDiscoveryError(t *testing.T) {
	c := &calls{}
	plugins := newDiscovery().add("p1", nil)
	plugins.fails["p1"] = errors.New("no such plugin")

	n := New(identity, coreServices(c), newServer(t), plugins, logger.NewTest(t))
	assert.ErrorContains(t, n.Start(context.Background()), "no such plugin")
	require.NoError(t, n.Stop(context.Background()))
	assert.Len(t, c.filter("stop "), 4)
}

func TestStop_CoreErrorsAreJoined(t *testing.T) {
	ctx := context.Background()
	c := &calls{}
	webErr, txErr := errors.New("web"), errors.New("tx")
	services := coreServices(c)
	services.Web = fake(c, "web", nil, webErr)
	services.Transactions = fake(c, "transactions", nil, txErr)

	n := New(identity, services, newServer(t), nil, logger.NewTest(t))
	require.NoError(t, n.Start(ctx))
	err := n.Stop(ctx)
	assert.ErrorIs(t, err, webErr)
	assert.ErrorIs(t, err, txErr)
	assert.Equal(t, []string{"web", "engine", "transactions", "connector"}, c.filter("stop "))
	assert.Equal(t, lifecycle.Stopped, n.State())
}

func TestNode_MBean(t *testing.T) {
	ctx := context.Background()
	mbeans := newServer(t)
	m := metrics.New(prometheus.NewRegistry())
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	n := New(identity, Services{}, mbeans, nil, logger.NewTest(t), WithMetrics(m), withClock(func() time.Time { return now }))

	require.NoError(t, n.Start(ctx))
	assert.Equal(t, 1.0, sample(t, m, "openesb_instance_loaded", ""))

	attrs := n.Attributes()
	assert.Equal(t, "server", attrs["Name"])
	assert.Equal(t, "/opt/openesb", attrs["InstallRoot"])
	assert.Equal(t, true, attrs["Loaded"])
	assert.Equal(t, "started", attrs["State"])
	assert.Equal(t, "2026-03-01T08:00:00Z", attrs["StartedAt"])

	out, err := mbeans.Invoke(ctx, identity.ObjectName(), OpRefresh)
	require.NoError(t, err)
	assert.Equal(t, "refreshed", out)

	_, err = mbeans.Invoke(ctx, identity.ObjectName(), "explode")
	assert.ErrorIs(t, err, management.ErrUnknownOperation)

	out, err = mbeans.Invoke(ctx, identity.ObjectName(), OpStop)
	require.NoError(t, err)
	assert.Equal(t, "stop requested", out)
	select {
	case <-n.StopRequested():
	case <-time.After(time.Second):
		t.Fatal("stop request not delivered")
	}
	assert.Equal(t, lifecycle.Started, n.State(), "remote stop only posts a request")

	// Requests coalesce while nobody is listening.
	_, _ = n.Invoke(ctx, OpStop)
	_, _ = n.Invoke(ctx, OpStop)

	require.NoError(t, n.Stop(ctx))
	assert.Equal(t, 0.0, sample(t, m, "openesb_instance_loaded", ""))
	assert.NotContains(t, n.Attributes(), "StartedAt")
}

func TestNode_Heartbeat(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mbeans := management.NewServer(management.NewRedisStore(client), logger.NewTest(t), management.WithRecordTTL(3*time.Second))

	n := New(identity, Services{}, mbeans, nil, logger.NewTest(t), WithHeartbeat(10*time.Millisecond))
	require.NoError(t, n.Start(ctx))

	for i := 0; i < 20; i++ {
		time.Sleep(15 * time.Millisecond)
		mr.FastForward(500 * time.Millisecond)
	}
	registered, err := mbeans.IsRegistered(ctx, identity.ObjectName())
	require.NoError(t, err)
	assert.True(t, registered, "heartbeat keeps the record past its TTL")

	require.NoError(t, n.Stop(ctx))
}

func TestIdentityFrom(t *testing.T) {
	id := IdentityFrom(settingsOf(map[string]string{"instance.name": "node-a"}), "/srv/esb")
	assert.Equal(t, Identity{Name: "node-a", InstallRoot: "/srv/esb"}, id)
	assert.Equal(t, management.ObjectName("net.open-esb.standalone:instance=node-a"), id.ObjectName())

	id = IdentityFrom(settingsOf(nil), "/srv/esb")
	assert.Equal(t, "server", id.Name)
}
