package explorer

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chis/regview/internal/aggregate"
	"github.com/chis/regview/internal/events"
	"github.com/chis/regview/internal/logging"
	"github.com/chis/regview/internal/profiles"
	"github.com/chis/regview/internal/registry"
	"github.com/chis/regview/internal/storage"
)

const testDigest = "sha256:6c3c624b58dbbcd3c0dd82b4c53f04194d1247c6eebdaab7c610cf7d66709b3b"

// fakeRegistry serves two repositories, app (tagged) and empty (no tags).
type fakeRegistry struct {
	server      *httptest.Server
	catalogDown atomic.Bool
	deletes     atomic.Int32
}

func newFakeRegistry(t *testing.T) *fakeRegistry {
	t.Helper()
	f := &fakeRegistry{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/{$}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /v2/_catalog", func(w http.ResponseWriter, r *http.Request) {
		if f.catalogDown.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"repositories": []string{"app", "empty"}})
	})
	mux.HandleFunc("GET /v2/app/tags/list", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"name": "app", "tags": []string{"v1"}})
	})
	mux.HandleFunc("GET /v2/empty/tags/list", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"name": "empty", "tags": nil})
	})
	mux.HandleFunc("GET /v2/app/manifests/v1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(registry.HeaderContentDigest, testDigest)
		json.NewEncoder(w).Encode(map[string]any{
			"schemaVersion": 2,
			"config":        map[string]any{"digest": "sha256:cfg"},
			"layers":        []map[string]any{{"digest": "sha256:a", "size": 100}, {"digest": "sha256:b", "size": 50}},
		})
	})
	mux.HandleFunc("DELETE /v2/app/manifests/"+testDigest, func(w http.ResponseWriter, r *http.Request) {
		f.deletes.Add(1)
		w.WriteHeader(http.StatusAccepted)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRegistry) descriptor(t *testing.T) registry.Descriptor {
	t.Helper()
	u, err := url.Parse(f.server.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return registry.Descriptor{Name: "local", Host: host, Port: port, Username: "admin", Password: "secret"}
}

type testEnv struct {
	service *Service
	store   *storage.SQLiteStorage
	bus     *events.Bus
	reg     *fakeRegistry
	id      string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	kv, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "explorer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	bus := events.NewBus()
	t.Cleanup(bus.Close)

	factory := func(d registry.Descriptor) (registry.Client, error) {
		return registry.NewHTTPClient(d)
	}
	svc := New(profiles.NewStore(kv), factory, aggregate.New(aggregate.WithMaxConcurrency(2)),
		WithHistory(kv), WithEventBus(bus))

	reg := newFakeRegistry(t)
	added, err := svc.AddRegistry(context.Background(), reg.descriptor(t))
	require.NoError(t, err)

	return &testEnv{service: svc, store: kv, bus: bus, reg: reg, id: added.ID}
}

func TestAddRegistryRedactsAndValidates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	list, err := env.service.Registries(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "********", list[0].Password)

	full, err := env.service.Registry(ctx, env.id)
	require.NoError(t, err)
	assert.Equal(t, "secret", full.Password)

	_, err = env.service.AddRegistry(ctx, registry.Descriptor{Name: "bad", Host: "", Port: 5000})
	var badReq *BadRequestError
	assert.ErrorAs(t, err, &badReq)
	assert.ErrorIs(t, err, registry.ErrInvalidDescriptor)
}

func TestUnknownRegistry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	var notFound *NotFoundError

	_, err := env.service.Images(ctx, "missing", false)
	assert.ErrorAs(t, err, &notFound)

	_, err = env.service.Probe(ctx, "missing")
	assert.ErrorAs(t, err, &notFound)

	assert.ErrorAs(t, env.service.RemoveRegistry(ctx, "missing"), &notFound)
}

func TestImagesRecordsHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	summaries, err := env.service.Images(ctx, env.id, true)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "app", summaries[0].Name)
	assert.Equal(t, int64(150), summaries[0].Size)
	assert.Equal(t, "empty", summaries[1].Name)
	assert.Empty(t, summaries[1].Tags)

	env.reg.catalogDown.Store(true)
	_, err = env.service.Images(ctx, env.id, false)
	assert.ErrorIs(t, err, registry.ErrRegistryUnreachable)

	history, err := env.service.ScanHistory(ctx, env.id, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.NotEmpty(t, history[0].Error, "most recent scan failed")
	assert.Equal(t, 2, history[1].Repositories)
	assert.Empty(t, history[1].Error)
}

func TestScanHistoryUnsupported(t *testing.T) {
	svc := New(nil, nil, aggregate.New())
	_, err := svc.ScanHistory(context.Background(), "x", 0)
	assert.ErrorIs(t, err, ErrHistoryUnsupported)
}

func TestProbe(t *testing.T) {
	env := newTestEnv(t)
	report, err := env.service.Probe(context.Background(), env.id)
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, registry.APIVersion, report.APIVersion)
}

func TestDeleteTagPublishesEvent(t *testing.T) {
	env := newTestEnv(t)
	ch, unsubscribe := env.bus.Subscribe(events.EventTagDeleted)
	defer unsubscribe()

	dgst, err := env.service.DeleteTag(context.Background(), env.id, "app", "v1")
	require.NoError(t, err)
	assert.Equal(t, testDigest, dgst.String())
	assert.Equal(t, int32(1), env.reg.deletes.Load())

	select {
	case ev := <-ch:
		assert.Equal(t, "app", ev.Payload["repository"])
		assert.Equal(t, testDigest, ev.Payload["digest"])
	case <-time.After(time.Second):
		t.Fatal("no tag.deleted event")
	}
}

func TestDeleteTagLogsReference(t *testing.T) {
	kv, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "explorer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	var buf bytes.Buffer
	logger := logging.New()
	logger.SetOutput(&buf)
	logger.SetJSON(true)
	logger.SetLevel(logging.LevelInfo)

	factory := func(d registry.Descriptor) (registry.Client, error) {
		return registry.NewHTTPClient(d)
	}
	svc := New(profiles.NewStore(kv), factory, aggregate.New(), WithLogger(logger))
	reg := newFakeRegistry(t)
	added, err := svc.AddRegistry(context.Background(), reg.descriptor(t))
	require.NoError(t, err)
	buf.Reset()

	ctx := logging.WithCorrelationID(context.Background(), "req-42")
	_, err = svc.DeleteTag(ctx, added.ID, "app", "v1")
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry), buf.String())
	assert.Equal(t, added.ID, entry["registry_id"])
	assert.Equal(t, "app", entry["repository"])
	assert.Equal(t, "v1", entry["tag"])
	assert.Equal(t, "req-42", entry["correlation_id"])
	assert.Contains(t, entry["msg"], testDigest)
}

func TestDeleteTagRequiresReference(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.DeleteTag(context.Background(), env.id, "app", "")
	var badReq *BadRequestError
	assert.ErrorAs(t, err, &badReq)
	assert.Equal(t, int32(0), env.reg.deletes.Load())
}

func TestDeleteTagDigestUnavailable(t *testing.T) {
	env := newTestEnv(t)
	// The fake serves no manifest for v2, so phase one fails.
	_, err := env.service.DeleteTag(context.Background(), env.id, "app", "v2")
	assert.ErrorIs(t, err, registry.ErrDigestUnavailable)
	assert.Equal(t, int32(0), env.reg.deletes.Load())
}

func TestRefresherRunOnce(t *testing.T) {
	env := newTestEnv(t)
	r := NewRefresher(env.service, time.Hour)

	_, ok := r.Latest(env.id)
	assert.False(t, ok)

	r.RunOnce(context.Background())

	entry, ok := r.Latest(env.id)
	require.True(t, ok)
	assert.Empty(t, entry.Error)
	assert.Len(t, entry.Summaries, 2)

	scanning, lastRun := r.Status()
	assert.False(t, scanning)
	assert.False(t, lastRun.IsZero())

	require.NoError(t, env.service.RemoveRegistry(context.Background(), env.id))
	r.RunOnce(context.Background())
	_, ok = r.Latest(env.id)
	assert.False(t, ok, "removed registries are dropped from the cache")
}

func TestRefresherStartStop(t *testing.T) {
	env := newTestEnv(t)
	r := NewRefresher(env.service, time.Hour)
	r.Start()

	require.Eventually(t, func() bool {
		_, ok := r.Latest(env.id)
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	r.Stop()
	r.Stop()
}

func TestRefresherDisabled(t *testing.T) {
	env := newTestEnv(t)
	r := NewRefresher(env.service, 0)
	r.Start()
	r.Stop()
	_, ok := r.Latest(env.id)
	assert.False(t, ok)
}
