package mirror

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KohoVolit/api.parldata.eu/internal/metrics"
	"github.com/KohoVolit/api.parldata.eu/internal/models"
	"github.com/KohoVolit/api.parldata.eu/internal/storage"
)

const baseURL = "http://files.test/files"

// remote serves a mutable body and counts requests per method.
type remote struct {
	mu          sync.Mutex
	body        string
	contentType string
	hideLength  bool
	heads, gets atomic.Int32
}

func (r *remote) set(body string) {
	r.mu.Lock()
	r.body = body
	r.mu.Unlock()
}

func (r *remote) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	body, ct, hide := r.body, r.contentType, r.hideLength
	r.mu.Unlock()
	if req.Method == http.MethodHead {
		r.heads.Add(1)
	} else {
		r.gets.Add(1)
	}
	w.Header().Set("Content-Type", ct)
	if !hide {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	}
	if req.Method == http.MethodHead {
		return
	}
	if hide {
		w.(http.Flusher).Flush()
	}
	_, _ = w.Write([]byte(body))
}

type fixture struct {
	mirror  *Mirror
	files   *storage.FS
	remote  *remote
	url     string
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, fullFetch ...string) *fixture {
	t.Helper()
	rem := &remote{body: "first image", contentType: "image/png"}
	srv := httptest.NewServer(rem)
	t.Cleanup(srv.Close)

	files, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	m := metrics.New(prometheus.NewRegistry())
	mir := New(
		Config{BaseURL: baseURL + "/", FullFetch: fullFetch},
		NewFetcher(FetcherConfig{AllowPrivate: true}),
		files, nil, m,
	)
	return &fixture{mirror: mir, files: files, remote: rem, url: srv.URL + "/Wiki.png", metrics: m}
}

// withFiles rebuilds the mirror over another file store.
func (f *fixture) withFiles(files storage.Provider) {
	f.mirror = New(
		Config{BaseURL: baseURL + "/"},
		NewFetcher(FetcherConfig{AllowPrivate: true}),
		files, nil, f.metrics,
	)
}

func readFile(t *testing.T, files storage.Provider, p string) string {
	t.Helper()
	r, err := files.Open(p)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

var errDisk = errors.New("disk failure")

// failingFiles fails the selected operations of an otherwise real store.
type failingFiles struct {
	*storage.FS
	create, stat bool
}

func (f *failingFiles) Create(p string, r io.Reader) (int64, error) {
	if f.create {
		return 0, errDisk
	}
	return f.FS.Create(p, r)
}

func (f *failingFiles) Stat(p string) (int64, bool, error) {
	if f.stat {
		return 0, false, errDisk
	}
	return f.FS.Stat(p)
}

func (f *fixture) relocate(t *testing.T, proposed, original models.Document) models.Document {
	t.Helper()
	f.mirror.Relocate(context.Background(), "people", "p1", "image", proposed, original)
	return proposed
}

func TestRelocate_FirstWrite(t *testing.T) {
	f := newFixture(t)
	doc := f.relocate(t, models.Document{"image": f.url}, models.Document{"id": "p1"})

	assert.Equal(t, baseURL+"/people/p1/image.png", doc["image"])
	assert.Equal(t, "first image", readFile(t, f.files, "people/p1/image.png"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AssetsStored.WithLabelValues("people", "new")))
}

func TestRelocate_UnchangedKeepsURL(t *testing.T) {
	f := newFixture(t)
	first := f.relocate(t, models.Document{"image": f.url}, models.Document{"id": "p1"})
	original := models.Document{"id": "p1", "image": first["image"]}

	second := f.relocate(t, models.Document{"image": f.url}, original)

	assert.Equal(t, first["image"], second["image"])
	versions, _ := f.files.Versions("people/p1/image")
	assert.Len(t, versions, 1)
	assert.Equal(t, int32(1), f.remote.gets.Load(), "no second download")
}

func TestRelocate_ChangedCreatesVersion(t *testing.T) {
	f := newFixture(t)
	first := f.relocate(t, models.Document{"image": f.url}, models.Document{"id": "p1"})

	f.remote.set("a changed, longer image")
	second := f.relocate(t, models.Document{"image": f.url}, models.Document{"id": "p1", "image": first["image"]})
	assert.Equal(t, baseURL+"/people/p1/image.2.png", second["image"])

	f.remote.set("third version of the image, longer again")
	third := f.relocate(t, models.Document{"image": f.url}, models.Document{"id": "p1", "image": second["image"]})
	assert.Equal(t, baseURL+"/people/p1/image.3.png", third["image"])

	versions, _ := f.files.Versions("people/p1/image")
	assert.Len(t, versions, 3)
	assert.Equal(t, "first image", readFile(t, f.files, "people/p1/image.png"), "superseded versions are retained")
}

func TestRelocate_SameLengthDetectedWithFullFetch(t *testing.T) {
	f := newFixture(t, "people.image")
	first := f.relocate(t, models.Document{"image": f.url}, models.Document{"id": "p1"})

	f.remote.set("FIRST IMAGE")
	second := f.relocate(t, models.Document{"image": f.url}, models.Document{"id": "p1", "image": first["image"]})
	assert.Equal(t, baseURL+"/people/p1/image.2.png", second["image"])
	assert.Zero(t, f.remote.heads.Load(), "full fetch fields are never probed with HEAD")
}

func TestRelocate_SameLengthMissedByHead(t *testing.T) {
	f := newFixture(t)
	first := f.relocate(t, models.Document{"image": f.url}, models.Document{"id": "p1"})

	f.remote.set("FIRST IMAGE")
	second := f.relocate(t, models.Document{"image": f.url}, models.Document{"id": "p1", "image": first["image"]})
	assert.Equal(t, first["image"], second["image"])
}

func TestRelocate_UnknownLengthComparesContent(t *testing.T) {
	f := newFixture(t)
	f.remote.mu.Lock()
	f.remote.hideLength = true
	f.remote.mu.Unlock()
	first := f.relocate(t, models.Document{"image": f.url}, models.Document{"id": "p1"})

	same := f.relocate(t, models.Document{"image": f.url}, models.Document{"id": "p1", "image": first["image"]})
	assert.Equal(t, first["image"], same["image"])

	f.remote.set("FIRST IMAGE")
	changed := f.relocate(t, models.Document{"image": f.url}, models.Document{"id": "p1", "image": first["image"]})
	assert.Equal(t, baseURL+"/people/p1/image.2.png", changed["image"])
}

func TestRelocate_NetworkErrorRestoresOriginal(t *testing.T) {
	f := newFixture(t)
	broken := "http://127.0.0.1:1/unreachable.png"

	doc := f.relocate(t, models.Document{"image": broken}, models.Document{"id": "p1", "image": baseURL + "/people/p1/image.png"})
	assert.Equal(t, baseURL+"/people/p1/image.png", doc["image"])

	doc = f.relocate(t, models.Document{"image": broken, "name": "Ann"}, models.Document{"id": "p1"})
	assert.NotContains(t, doc, "image")
	assert.Equal(t, "Ann", doc["name"])
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.MirrorFailures.WithLabelValues("people", "network")))
}

func TestRelocate_CreateFailureDropsNewField(t *testing.T) {
	f := newFixture(t)
	f.withFiles(&failingFiles{FS: f.files, create: true})

	proposed := models.Document{"image": f.url, "name": "Ann"}
	_, ok := f.mirror.Relocate(context.Background(), "people", "p1", "image", proposed, models.Document{"id": "p1"})

	assert.False(t, ok)
	assert.NotContains(t, proposed, "image")
	assert.Equal(t, "Ann", proposed["name"])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MirrorFailures.WithLabelValues("people", "filesystem")))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.MirrorFailures.WithLabelValues("people", "network")))
	versions, _ := f.files.Versions("people/p1/image")
	assert.Empty(t, versions)
}

func TestRelocate_StatFailureKeepsOriginal(t *testing.T) {
	f := newFixture(t)
	first := f.relocate(t, models.Document{"image": f.url}, models.Document{"id": "p1"})
	require.Equal(t, baseURL+"/people/p1/image.png", first["image"])

	f.withFiles(&failingFiles{FS: f.files, stat: true})
	f.remote.set("a changed, longer image")
	proposed := models.Document{"image": f.url}
	_, ok := f.mirror.Relocate(context.Background(), "people", "p1", "image", proposed,
		models.Document{"id": "p1", "image": first["image"]})

	assert.False(t, ok)
	assert.Equal(t, first["image"], proposed["image"])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MirrorFailures.WithLabelValues("people", "filesystem")))
	versions, _ := f.files.Versions("people/p1/image")
	assert.Len(t, versions, 1)
}

func TestRelocate_AbsentFieldIsNoop(t *testing.T) {
	f := newFixture(t)
	doc := f.relocate(t, models.Document{"name": "Ann"}, models.Document{"id": "p1", "image": "x"})
	assert.NotContains(t, doc, "image")
	assert.Zero(t, f.remote.heads.Load()+f.remote.gets.Load())
}

func TestRelocate_LocalURLIsKept(t *testing.T) {
	f := newFixture(t)
	local := baseURL + "/people/p1/image.png"
	doc := f.relocate(t, models.Document{"image": local}, models.Document{"id": "p1", "image": local})
	assert.Equal(t, local, doc["image"])
	assert.Zero(t, f.remote.heads.Load()+f.remote.gets.Load())
}

func TestRelocate_ConcurrentVersionsDoNotCollide(t *testing.T) {
	f := newFixture(t)
	first := f.relocate(t, models.Document{"image": f.url}, models.Document{"id": "p1"})
	f.remote.set("a changed, longer image")

	var wg sync.WaitGroup
	results := make([]string, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc := models.Document{"image": f.url}
			f.mirror.Relocate(context.Background(), "people", "p1", "image", doc, models.Document{"id": "p1", "image": first["image"]})
			results[i], _ = doc["image"].(string)
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, r := range results {
		assert.False(t, seen[r], "duplicate version %s", r)
		seen[r] = true
	}
	versions, _ := f.files.Versions("people/p1/image")
	assert.Len(t, versions, 5)
}

func TestRemoveEntityAndResource(t *testing.T) {
	f := newFixture(t)
	f.relocate(t, models.Document{"image": f.url}, models.Document{"id": "p1"})
	doc := models.Document{"image": f.url}
	f.mirror.Relocate(context.Background(), "people", "p2", "image", doc, models.Document{"id": "p2"})

	require.NoError(t, f.mirror.RemoveEntity("people", "p1"))
	assets, err := f.mirror.Assets("people", "p1")
	require.NoError(t, err)
	assert.Empty(t, assets)
	assets, _ = f.mirror.Assets("people", "p2")
	assert.Len(t, assets, 1)

	require.NoError(t, f.mirror.RemoveResource("people"))
	assets, _ = f.mirror.Assets("people", "p2")
	assert.Empty(t, assets)
}

func TestExtension(t *testing.T) {
	cases := map[string]string{
		"image/png":                "png",
		"image/jpeg; charset=x":    "jpg",
		"image/svg+xml":            "svg",
		"image/x-icon":             "x-icon",
		"application/vnd.ms-excel": "vnd-ms-excel",
		"":                         "bin",
		"garbage":                  "bin",
	}
	for in, want := range cases {
		assert.Equal(t, want, Extension(in), in)
	}
}

func TestFetcher_BlocksPrivateHosts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{})
	_, err := f.Head(context.Background(), srv.URL)
	assert.True(t, errors.Is(err, ErrBlockedHost), "got %v", err)

	_, err = f.Head(context.Background(), "ftp://example.org/file")
	assert.Error(t, err)
}

func TestFetcher_SizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{AllowPrivate: true, MaxSize: 4})
	_, err := f.Get(context.Background(), srv.URL)
	assert.Error(t, err)
}
