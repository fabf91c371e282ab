package aggregate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chis/regview/internal/events"
	"github.com/chis/regview/internal/registry"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeSource serves canned catalog, tag and manifest responses.
type fakeSource struct {
	repos       []string
	catalogErr  error
	tags        map[string][]string
	tagErrs     map[string]error
	manifests   map[string]*registry.Manifest
	manifestErr map[string]error
	panicOn     string
	getPanicOn  string
	delay       time.Duration

	tagCalls      atomic.Int32
	manifestCalls atomic.Int32
	inFlight      atomic.Int32
	maxInFlight   atomic.Int32

	mu           sync.Mutex
	manifestRefs map[string]string
}

func (f *fakeSource) ListRepositories(ctx context.Context) ([]string, error) {
	if f.catalogErr != nil {
		return nil, f.catalogErr
	}
	return f.repos, nil
}

func (f *fakeSource) ListTags(ctx context.Context, repo string) ([]string, error) {
	f.tagCalls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.maxInFlight.Load()
		if n <= peak || f.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if repo == f.panicOn {
		panic("boom")
	}
	if err := f.tagErrs[repo]; err != nil {
		return nil, err
	}
	return f.tags[repo], nil
}

func (f *fakeSource) GetManifest(ctx context.Context, repo, ref string) (*registry.Manifest, error) {
	f.manifestCalls.Add(1)
	f.mu.Lock()
	if f.manifestRefs == nil {
		f.manifestRefs = make(map[string]string)
	}
	f.manifestRefs[repo] = ref
	f.mu.Unlock()
	if repo == f.getPanicOn {
		panic("manifest boom")
	}
	if err := f.manifestErr[repo]; err != nil {
		return nil, err
	}
	return f.manifests[repo], nil
}

func byName(summaries []ImageSummary) map[string]ImageSummary {
	out := make(map[string]ImageSummary, len(summaries))
	for _, s := range summaries {
		out[s.Name] = s
	}
	return out
}

func newTestAggregator(opts ...Option) *Aggregator {
	return New(append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)...)
}

func TestAggregateScenario(t *testing.T) {
	src := &fakeSource{
		repos: []string{"app", "db"},
		tags: map[string][]string{
			"app": {"v1", "v2"},
			"db":  {},
		},
		manifests: map[string]*registry.Manifest{
			"app": {
				Config: &registry.ConfigRef{Digest: "sha256:cfg"},
				Layers: []registry.Layer{{Digest: "sha256:a", Size: 100}, {Digest: "sha256:b", Size: 250}},
			},
		},
	}

	summaries, err := newTestAggregator().Aggregate(context.Background(), "local", src)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	got := byName(summaries)
	app := got["app"]
	assert.Equal(t, "app", app.ID)
	assert.Equal(t, []string{"v1", "v2"}, app.Tags)
	assert.Equal(t, int64(350), app.Size)
	assert.Len(t, app.Layers, 2)
	require.NotNil(t, app.Metadata)
	assert.Equal(t, "sha256:cfg", app.Metadata.Digest)
	require.NotNil(t, app.LastUpdated)
	assert.Equal(t, fixedNow, *app.LastUpdated)
	assert.Equal(t, "2024-06-01T12:00:00Z", app.Created)
	assert.Empty(t, app.Error)

	db := got["db"]
	assert.Equal(t, []string{}, db.Tags)
	assert.Zero(t, db.Size)
	assert.Equal(t, []registry.Layer{}, db.Layers)
	assert.Nil(t, db.LastUpdated)
	assert.Empty(t, db.Error)

	assert.Equal(t, int32(1), src.manifestCalls.Load())
	assert.Equal(t, "v1", src.manifestRefs["app"])
}

func TestAggregateOneSummaryPerRepository(t *testing.T) {
	src := &fakeSource{
		tags:        map[string][]string{},
		tagErrs:     map[string]error{},
		manifests:   map[string]*registry.Manifest{},
		manifestErr: map[string]error{},
	}
	for i := 0; i < 40; i++ {
		repo := fmt.Sprintf("repo-%02d", i)
		src.repos = append(src.repos, repo)
		switch i % 4 {
		case 0:
			src.tagErrs[repo] = errors.New("tags unavailable")
		case 1:
			src.tags[repo] = []string{"latest"}
			src.manifestErr[repo] = errors.New("manifest unavailable")
		case 2:
			src.tags[repo] = []string{}
		default:
			src.tags[repo] = []string{"latest"}
			src.manifests[repo] = &registry.Manifest{Layers: []registry.Layer{{Size: int64(i)}}}
		}
	}

	summaries, err := newTestAggregator(WithMaxConcurrency(4)).Aggregate(context.Background(), "local", src)
	require.NoError(t, err)
	require.Len(t, summaries, 40)
	assert.Len(t, byName(summaries), 40)
	assert.Equal(t, 20, CountDegraded(summaries))
}

func TestAggregateTagFailureSkipsManifest(t *testing.T) {
	src := &fakeSource{
		repos:   []string{"broken"},
		tags:    map[string][]string{"broken": {"v1"}},
		tagErrs: map[string]error{"broken": &registry.RepoFetchError{Repository: "broken", Op: registry.OpTags, Status: 500, Message: "oops"}},
	}

	summaries, err := newTestAggregator().Aggregate(context.Background(), "local", src)
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	s := summaries[0]
	assert.Equal(t, []string{}, s.Tags)
	assert.NotEmpty(t, s.Error)
	assert.Zero(t, s.Size)
	assert.Nil(t, s.LastUpdated)
	assert.Nil(t, s.Metadata)
	assert.Equal(t, int32(0), src.manifestCalls.Load())
}

func TestAggregateManifestFailureKeepsTags(t *testing.T) {
	src := &fakeSource{
		repos:       []string{"app"},
		tags:        map[string][]string{"app": {"v3", "v2"}},
		manifestErr: map[string]error{"app": errors.New("manifest unknown")},
	}

	summaries, err := newTestAggregator().Aggregate(context.Background(), "local", src)
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	s := summaries[0]
	assert.Equal(t, []string{"v3", "v2"}, s.Tags)
	assert.Equal(t, "manifest unknown", s.Error)
	assert.Zero(t, s.Size)
	assert.Equal(t, []registry.Layer{}, s.Layers)
	assert.Nil(t, s.LastUpdated)
}

func TestAggregateCatalogFailure(t *testing.T) {
	catalogErr := &registry.UnreachableError{Op: registry.OpCatalog, Status: 503, Message: "down"}
	src := &fakeSource{catalogErr: catalogErr}

	bus := events.NewBus()
	failed, unsubscribe := bus.Subscribe(events.EventScanFailed)
	defer unsubscribe()

	summaries, err := newTestAggregator(WithEventBus(bus)).Aggregate(context.Background(), "local", src)
	assert.Nil(t, summaries)
	assert.ErrorIs(t, err, registry.ErrRegistryUnreachable)
	assert.Equal(t, int32(0), src.tagCalls.Load())

	select {
	case ev := <-failed:
		assert.Equal(t, "local", ev.Payload["registry_id"])
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected scan.failed event")
	}
}

func TestAggregateSizeIsSumOfLayers(t *testing.T) {
	tests := []struct {
		name   string
		layers []registry.Layer
		want   int64
	}{
		{"no layers", nil, 0},
		{"missing sizes count as zero", []registry.Layer{{Digest: "a"}, {Digest: "b", Size: 7}}, 7},
		{"many layers", []registry.Layer{{Size: 1}, {Size: 2}, {Size: 3}, {Size: 1 << 40}}, 6 + 1<<40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{
				repos:     []string{"app"},
				tags:      map[string][]string{"app": {"latest"}},
				manifests: map[string]*registry.Manifest{"app": {Layers: tt.layers}},
			}
			summaries, err := newTestAggregator().Aggregate(context.Background(), "local", src)
			require.NoError(t, err)
			require.Len(t, summaries, 1)
			assert.Equal(t, tt.want, summaries[0].Size)

			var sum int64
			for _, l := range summaries[0].Layers {
				sum += l.Size
			}
			assert.Equal(t, sum, summaries[0].Size)
		})
	}
}

func TestAggregateUsesManifestCreated(t *testing.T) {
	src := &fakeSource{
		repos: []string{"app", "odd"},
		tags:  map[string][]string{"app": {"v1"}, "odd": {"v1"}},
		manifests: map[string]*registry.Manifest{
			"app": {Created: "2023-11-05T08:30:00Z"},
			"odd": {Created: "last tuesday"},
		},
	}

	summaries, err := newTestAggregator().Aggregate(context.Background(), "local", src)
	require.NoError(t, err)
	got := byName(summaries)

	assert.Equal(t, "2023-11-05T08:30:00Z", got["app"].Created)
	assert.Equal(t, "last tuesday", got["odd"].Created, "created is passed through as reported")
	assert.Nil(t, got["app"].Metadata)
}

func TestAggregateBoundsConcurrency(t *testing.T) {
	src := &fakeSource{tags: map[string][]string{}, delay: 5 * time.Millisecond}
	for i := 0; i < 30; i++ {
		repo := fmt.Sprintf("r%d", i)
		src.repos = append(src.repos, repo)
		src.tags[repo] = []string{}
	}

	summaries, err := newTestAggregator(WithMaxConcurrency(3)).Aggregate(context.Background(), "local", src)
	require.NoError(t, err)
	assert.Len(t, summaries, 30)
	assert.LessOrEqual(t, src.maxInFlight.Load(), int32(3))
}

func TestAggregateRecoversPanics(t *testing.T) {
	src := &fakeSource{
		repos:   []string{"ok", "bad"},
		tags:    map[string][]string{"ok": {}},
		panicOn: "bad",
	}
	rec := &countingRecorder{}

	summaries, err := newTestAggregator(WithRecorder(rec)).Aggregate(context.Background(), "local", src)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	bad := byName(summaries)["bad"]
	assert.Contains(t, bad.Error, "panic")
	assert.Equal(t, []string{}, bad.Tags)
	assert.Equal(t, 1, rec.panics)
	assert.Equal(t, 2, rec.repositories)
	assert.Equal(t, 1, rec.degraded)
}

func TestAggregatePanicKeepsTags(t *testing.T) {
	src := &fakeSource{
		repos:      []string{"web"},
		tags:       map[string][]string{"web": {"1.2", "1.1"}},
		getPanicOn: "web",
	}

	summaries, err := newTestAggregator().Aggregate(context.Background(), "local", src)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Contains(t, summaries[0].Error, "manifest boom")
	assert.Equal(t, []string{"1.2", "1.1"}, summaries[0].Tags)
}

// blobSource adds configuration blobs to fakeSource.
type blobSource struct {
	*fakeSource
	blobs     map[string]string
	blobCalls atomic.Int32
}

func (b *blobSource) GetBlob(ctx context.Context, repo, ref string) ([]byte, error) {
	b.blobCalls.Add(1)
	body, ok := b.blobs[ref]
	if !ok {
		return nil, &registry.RepoFetchError{Repository: repo, Reference: ref, Op: registry.OpBlob, Status: 404, Message: "not found"}
	}
	return []byte(body), nil
}

func TestAggregateReadsConfigBlob(t *testing.T) {
	src := &blobSource{
		fakeSource: &fakeSource{
			repos: []string{"app", "stamped", "missing"},
			tags:  map[string][]string{"app": {"v1"}, "stamped": {"v1"}, "missing": {"v1"}},
			manifests: map[string]*registry.Manifest{
				"app":     {Config: &registry.ConfigRef{Digest: "sha256:appcfg"}},
				"stamped": {Created: "2022-01-02T03:04:05Z", Config: &registry.ConfigRef{Digest: "sha256:appcfg"}},
				"missing": {Config: &registry.ConfigRef{Digest: "sha256:gone"}},
			},
		},
		blobs: map[string]string{
			"sha256:appcfg": `{"created":"2023-05-06T07:08:09.123Z","architecture":"arm64","os":"linux"}`,
		},
	}

	summaries, err := newTestAggregator().Aggregate(context.Background(), "local", src)
	require.NoError(t, err)
	got := byName(summaries)

	app := got["app"]
	assert.Equal(t, "2023-05-06T07:08:09.123Z", app.Created)
	require.NotNil(t, app.Metadata)
	assert.Equal(t, "arm64", app.Metadata.Architecture)
	assert.Equal(t, "linux", app.Metadata.OS)

	assert.Equal(t, "2022-01-02T03:04:05Z", got["stamped"].Created)

	missing := got["missing"]
	assert.Empty(t, missing.Error, "a missing config blob must not degrade the summary")
	assert.Equal(t, "2024-06-01T12:00:00Z", missing.Created)

	assert.Equal(t, int32(2), src.blobCalls.Load(), "no blob fetch when the manifest has created")
}

func TestAggregatePublishesProgress(t *testing.T) {
	src := &fakeSource{
		repos: []string{"a", "b", "c"},
		tags:  map[string][]string{"a": {}, "b": {}, "c": {}},
	}
	bus := events.NewBus()
	all, unsubscribe := bus.Subscribe(events.Wildcard)
	defer unsubscribe()

	_, err := newTestAggregator(WithEventBus(bus)).Aggregate(context.Background(), "local", src)
	require.NoError(t, err)

	var types []string
	for len(all) > 0 {
		types = append(types, (<-all).Type)
	}
	require.Len(t, types, 5)
	assert.Equal(t, events.EventScanStarted, types[0])
	assert.Equal(t, events.EventScanCompleted, types[4])
	for _, typ := range types[1:4] {
		assert.Equal(t, events.EventScanRepository, typ)
	}
}

func TestAggregateCancelledContextStillSummarizesAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tags":["v1"]}`))
	}))
	defer srv.Close()

	c := clientFor(t, srv, "", "")
	src := &catalogOverride{HTTPClient: c, repos: []string{"a", "b"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summaries, err := newTestAggregator().Aggregate(ctx, "local", src)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	for _, s := range summaries {
		assert.True(t, s.Degraded())
	}
}

// catalogOverride answers the catalog locally and delegates the rest.
type catalogOverride struct {
	*registry.HTTPClient
	repos []string
}

func (c *catalogOverride) ListRepositories(ctx context.Context) ([]string, error) {
	return c.repos, nil
}

type countingRecorder struct {
	mu           sync.Mutex
	repositories int
	degraded     int
	failures     int
	panics       int
}

func (r *countingRecorder) ObserveAggregate(_ time.Duration, repositories, degraded int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repositories += repositories
	r.degraded += degraded
}

func (r *countingRecorder) ObserveAggregateFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
}

func (r *countingRecorder) ObservePanic(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.panics++
}

func clientFor(t *testing.T, srv *httptest.Server, username, password string) *registry.HTTPClient {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	d, err := registry.NewDescriptor(registry.Descriptor{Name: "test", Host: host, Port: port, Username: username, Password: password})
	require.NoError(t, err)
	c, err := registry.NewHTTPClient(d)
	require.NoError(t, err)
	return c
}

// TestAggregateOverHTTP runs the full scenario against a fake registry and
// checks that a username without password never sends credentials.
func TestAggregateOverHTTP(t *testing.T) {
	var manifestCalls, authHeaders atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/_catalog", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"repositories":["app","db","gone"]}`))
	})
	mux.HandleFunc("/v2/app/tags/list", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"app","tags":["v1","v2"]}`))
	})
	mux.HandleFunc("/v2/db/tags/list", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"db","tags":[]}`))
	})
	mux.HandleFunc("/v2/gone/tags/list", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	mux.HandleFunc("/v2/app/manifests/v1", func(w http.ResponseWriter, r *http.Request) {
		manifestCalls.Add(1)
		w.Write([]byte(`{"config":{"digest":"sha256:cfg"},"layers":[{"digest":"sha256:a","size":100},{"digest":"sha256:b","size":250}]}`))
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			authHeaders.Add(1)
		}
		mux.ServeHTTP(w, r)
	}))
	defer srv.Close()

	summaries, err := newTestAggregator().Aggregate(context.Background(), "local", clientFor(t, srv, "user", ""))
	require.NoError(t, err)
	require.Len(t, summaries, 3)

	got := byName(summaries)
	assert.Equal(t, int64(350), got["app"].Size)
	assert.Equal(t, []string{"v1", "v2"}, got["app"].Tags)
	assert.Equal(t, []string{}, got["db"].Tags)
	assert.Nil(t, got["db"].LastUpdated)
	assert.Equal(t, []string{}, got["gone"].Tags)
	assert.Contains(t, got["gone"].Error, "404")
	assert.Equal(t, int32(1), manifestCalls.Load())
	assert.Equal(t, int32(0), authHeaders.Load())
}

func TestSortByName(t *testing.T) {
	summaries := []ImageSummary{{Name: "db"}, {Name: "app"}, {Name: "cache"}}
	SortByName(summaries)
	assert.Equal(t, "app", summaries[0].Name)
	assert.Equal(t, "cache", summaries[1].Name)
	assert.Equal(t, "db", summaries[2].Name)
}
