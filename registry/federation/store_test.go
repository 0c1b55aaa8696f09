package federation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packdock/packdock"
	"github.com/packdock/packdock/registry/storage"
	"github.com/packdock/packdock/registry/storage/driver/inmemory"
	"github.com/packdock/packdock/registry/uplink"
)

// upstream is a minimal fake registry serving one package with one version
// and its tarball.
type upstream struct {
	srv      *httptest.Server
	requests atomic.Int64
	etag     string
	shasum   string
	tarball  []byte
}

func newUpstream(t *testing.T, name, version string) *upstream {
	t.Helper()
	up := &upstream{
		etag:    `"v1"`,
		tarball: []byte("tarball-bytes-" + version),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/"+name, func(w http.ResponseWriter, r *http.Request) {
		up.requests.Add(1)
		if r.Header.Get("If-None-Match") == up.etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Etag", up.etag)
		fmt.Fprintf(w, `{
			"name": %q,
			"dist-tags": {"latest": %q},
			"versions": {%q: {
				"name": %q,
				"version": %q,
				"description": "remote copy",
				"dist": {
					"shasum": %q,
					"tarball": "%s/%s/-/%s-%s.tgz"
				}
			}}
		}`, name, version, version, name, version, up.shasum, up.srv.URL, name, name, version)
	})
	mux.HandleFunc("/"+name+"/-/", func(w http.ResponseWriter, r *http.Request) {
		w.Write(up.tarball)
	})
	up.srv = httptest.NewServer(mux)
	t.Cleanup(up.srv.Close)
	return up
}

func testStore(t *testing.T, cache bool, ups ...*upstream) *Store {
	t.Helper()
	local := storage.NewStore(inmemory.New())
	clients := make([]*uplink.Uplink, 0, len(ups))
	for i, up := range ups {
		u, err := uplink.New(fmt.Sprintf("up%d", i+1), uplink.Config{URL: up.srv.URL, Cache: cache})
		require.NoError(t, err)
		clients = append(clients, u)
	}
	return NewStore(local, clients)
}

func TestSyncUplinksCreatesCache(t *testing.T) {
	up := newUpstream(t, "react", "18.0.0")
	s := testStore(t, true, up)

	manifest, errs := s.SyncUplinks(context.Background(), "react")
	require.Empty(t, errs)
	require.NotNil(t, manifest)
	assert.Contains(t, manifest.Versions, "18.0.0")
	assert.Equal(t, `"v1"`, manifest.Uplinks["up1"].Etag)

	// The merge is durable.
	cached, err := s.Local().GetManifest(context.Background(), "react")
	require.NoError(t, err)
	assert.Contains(t, cached.Versions, "18.0.0")
	assert.Contains(t, cached.DistFiles, "react-18.0.0.tgz")
}

func TestSyncUplinksConditionalRefresh(t *testing.T) {
	up := newUpstream(t, "react", "18.0.0")
	s := testStore(t, true, up)
	ctx := context.Background()

	_, errs := s.SyncUplinks(ctx, "react")
	require.Empty(t, errs)
	before, err := s.Local().GetManifest(ctx, "react")
	require.NoError(t, err)

	// The second sync presents the stored etag and gets a 304 back: the
	// cached content stays as it is, but the revalidation is recorded so
	// the copy counts as freshly fetched.
	time.Sleep(10 * time.Millisecond)
	_, errs = s.SyncUplinks(ctx, "react")
	require.Empty(t, errs)
	after, err := s.Local().GetManifest(ctx, "react")
	require.NoError(t, err)
	assert.Equal(t, before.Versions, after.Versions, "a 304 must not change cached content")
	assert.Equal(t, before.Uplinks["up1"].Etag, after.Uplinks["up1"].Etag)
	assert.Greater(t, after.Uplinks["up1"].Fetched, before.Uplinks["up1"].Fetched,
		"a 304 must refresh the fetch time")
	assert.EqualValues(t, 2, up.requests.Load())
}

func TestSyncUplinksMergesBeforeSlowUplinkAnswers(t *testing.T) {
	up1 := newUpstream(t, "react", "18.0.0")
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		fmt.Fprint(w, `{"name":"react","dist-tags":{"latest":"19.0.0"},"versions":{"19.0.0":{"name":"react","version":"19.0.0"}}}`)
	}))
	defer slow.Close()

	local := storage.NewStore(inmemory.New())
	u1, err := uplink.New("up1", uplink.Config{URL: up1.srv.URL})
	require.NoError(t, err)
	u2, err := uplink.New("up2", uplink.Config{URL: slow.URL})
	require.NoError(t, err)
	s := NewStore(local, []*uplink.Uplink{u1, u2})

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.SyncUplinks(context.Background(), "react")
	}()

	// The first uplink's answer must land in the cache while the second
	// one is still hanging.
	require.Eventually(t, func() bool {
		m, err := local.GetManifest(context.Background(), "react")
		return err == nil && m.Versions["18.0.0"].Version == "18.0.0"
	}, 5*time.Second, 10*time.Millisecond)

	close(release)
	<-done

	m, err := local.GetManifest(context.Background(), "react")
	require.NoError(t, err)
	assert.Contains(t, m.Versions, "18.0.0")
	assert.Contains(t, m.Versions, "19.0.0")
}

func TestSyncUplinksFirstDeclaredWins(t *testing.T) {
	up1 := newUpstream(t, "react", "18.0.0")
	up1.shasum = "1111111111111111111111111111111111111111"
	up2 := newUpstream(t, "react", "18.0.0")
	up2.shasum = "2222222222222222222222222222222222222222"
	s := testStore(t, true, up1, up2)

	manifest, errs := s.SyncUplinks(context.Background(), "react")
	require.Empty(t, errs)
	assert.Equal(t, up1.shasum, manifest.DistFiles["react-18.0.0.tgz"].Sha,
		"merge order must follow uplink declaration order")
	assert.Equal(t, "up1", manifest.DistFiles["react-18.0.0.tgz"].Registry)
}

func TestSyncUplinksFailureKeepsCache(t *testing.T) {
	up := newUpstream(t, "react", "18.0.0")
	s := testStore(t, true, up)
	ctx := context.Background()

	_, errs := s.SyncUplinks(ctx, "react")
	require.Empty(t, errs)

	up.srv.Close()
	manifest, errs := s.SyncUplinks(ctx, "react")
	assert.NotEmpty(t, errs)
	require.NotNil(t, manifest, "a dead uplink must not mask the cache")
	assert.Contains(t, manifest.Versions, "18.0.0")
}

func TestGetPackageUnknownEverywhere(t *testing.T) {
	up := newUpstream(t, "react", "18.0.0")
	s := testStore(t, true, up)

	_, err := s.GetPackage(context.Background(), "no-such-package", GetOptions{UplinksLook: true})
	var unknown packdock.ErrPackageUnknown
	require.True(t, errors.As(err, &unknown))
}

func TestGetPackageLocalOnly(t *testing.T) {
	up := newUpstream(t, "react", "18.0.0")
	s := testStore(t, true, up)

	_, err := s.GetPackage(context.Background(), "react", GetOptions{UplinksLook: false})
	var unknown packdock.ErrPackageUnknown
	require.True(t, errors.As(err, &unknown), "without UplinksLook no upstream may be consulted")
	assert.EqualValues(t, 0, up.requests.Load())
}

type privatePolicy struct{}

func (privatePolicy) UplinksFor(string) []string { return nil }

func TestPrivatePackagesSkipUplinks(t *testing.T) {
	up := newUpstream(t, "react", "18.0.0")
	local := storage.NewStore(inmemory.New())
	u, err := uplink.New("up1", uplink.Config{URL: up.srv.URL})
	require.NoError(t, err)
	s := NewStore(local, []*uplink.Uplink{u}, WithPolicy(privatePolicy{}))

	_, gerr := s.GetPackage(context.Background(), "react", GetOptions{UplinksLook: true})
	var unknown packdock.ErrPackageUnknown
	require.True(t, errors.As(gerr, &unknown))
	assert.EqualValues(t, 0, up.requests.Load())
}

func TestGetPackageManifestRewritesDistURLs(t *testing.T) {
	up := newUpstream(t, "react", "18.0.0")
	local := storage.NewStore(inmemory.New())
	u, err := uplink.New("up1", uplink.Config{URL: up.srv.URL})
	require.NoError(t, err)
	s := NewStore(local, []*uplink.Uplink{u}, WithURLPrefix("/registry/"))

	manifest, err := s.GetPackageManifest(context.Background(), "react", GetOptions{
		UplinksLook: true,
		Request:     RequestOptions{Protocol: "https", Host: "registry.example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t,
		"https://registry.example.com/registry/react/-/react-18.0.0.tgz",
		manifest.Versions["18.0.0"].Dist.Tarball)

	// The stored copy keeps the upstream URL.
	cached, err := s.Local().GetManifest(context.Background(), "react")
	require.NoError(t, err)
	assert.Contains(t, cached.Versions["18.0.0"].Dist.Tarball, up.srv.URL)
}

func TestGetPackageByVersion(t *testing.T) {
	up := newUpstream(t, "react", "18.0.0")
	s := testStore(t, true, up)
	opts := GetOptions{UplinksLook: true, Request: RequestOptions{Protocol: "http", Host: "localhost:4873"}}
	ctx := context.Background()

	ver, err := s.GetPackageByVersion(ctx, "react", "18.0.0", opts)
	require.NoError(t, err)
	assert.Equal(t, "18.0.0", ver.Version)

	ver, err = s.GetPackageByVersion(ctx, "react", "latest", opts)
	require.NoError(t, err)
	assert.Equal(t, "18.0.0", ver.Version)

	_, err = s.GetPackageByVersion(ctx, "react", "0.0.1", opts)
	var unknown packdock.ErrVersionUnknown
	require.True(t, errors.As(err, &unknown))
}

func TestGetTarballReadThroughCaches(t *testing.T) {
	up := newUpstream(t, "react", "18.0.0")
	s := testStore(t, true, up)
	ctx := context.Background()

	rc, err := s.GetTarball(ctx, "react", "react-18.0.0.tgz")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, up.tarball, body)

	// The bytes are now cached locally.
	rc, err = s.Local().ReadTarball(ctx, "react", "react-18.0.0.tgz")
	require.NoError(t, err)
	cached, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, up.tarball, cached)
}

func TestGetTarballNoCacheWhenDisabled(t *testing.T) {
	up := newUpstream(t, "react", "18.0.0")
	s := testStore(t, false, up)
	ctx := context.Background()

	rc, err := s.GetTarball(ctx, "react", "react-18.0.0.tgz")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, up.tarball, body)

	_, err = s.Local().ReadTarball(ctx, "react", "react-18.0.0.tgz")
	var unknown packdock.ErrTarballUnknown
	require.True(t, errors.As(err, &unknown), "cache:false uplinks must not write through")
}

func TestGetTarballEarlyCloseKeepsOldBytes(t *testing.T) {
	up := newUpstream(t, "react", "18.0.0")
	s := testStore(t, true, up)
	ctx := context.Background()

	rc, err := s.GetTarball(ctx, "react", "react-18.0.0.tgz")
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = rc.Read(buf)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	// The aborted download must not have been committed.
	_, err = s.Local().ReadTarball(ctx, "react", "react-18.0.0.tgz")
	var unknown packdock.ErrTarballUnknown
	require.True(t, errors.As(err, &unknown))
}

func TestGetTarballUnknownFile(t *testing.T) {
	up := newUpstream(t, "react", "18.0.0")
	s := testStore(t, true, up)

	_, err := s.GetTarball(context.Background(), "react", "react-99.0.0.tgz")
	var unknown packdock.ErrTarballUnknown
	require.True(t, errors.As(err, &unknown))
}

func TestSearchProjectsManifests(t *testing.T) {
	s := testStore(t, true)
	ctx := context.Background()

	ver := packdock.Version{
		Name:        "webpack-cli",
		Version:     "5.1.4",
		Description: "CLI for webpack",
		Keywords:    []string{"webpack", "cli"},
	}
	require.NoError(t, s.AddVersion(ctx, "webpack-cli", "5.1.4", ver, ""))
	require.NoError(t, s.AddVersion(ctx, "@scope/webpack-plugin", "1.0.0", packdock.Version{
		Name:    "@scope/webpack-plugin",
		Version: "1.0.0",
	}, ""))
	require.NoError(t, s.AddVersion(ctx, "unrelated", "1.0.0", packdock.Version{
		Name:    "unrelated",
		Version: "1.0.0",
	}, ""))

	var got []SearchPackageBody
	require.NoError(t, s.Search(ctx, "webpack", func(body SearchPackageBody) error {
		got = append(got, body)
		return nil
	}))

	require.Len(t, got, 2)
	names := []string{got[0].Name, got[1].Name}
	assert.Contains(t, names, "webpack-cli")
	assert.Contains(t, names, "@scope/webpack-plugin")
	for _, body := range got {
		if body.Name == "webpack-cli" {
			assert.Equal(t, "5.1.4", body.Version)
			assert.Equal(t, "CLI for webpack", body.Description)
		}
		if body.Name == "@scope/webpack-plugin" {
			assert.Equal(t, "@scope", body.Scope)
		}
	}
}

func TestSearchCallbackStopsScan(t *testing.T) {
	s := testStore(t, true)
	ctx := context.Background()

	for _, name := range []string{"pkg-a", "pkg-b", "pkg-c"} {
		require.NoError(t, s.AddVersion(ctx, name, "1.0.0", packdock.Version{Name: name, Version: "1.0.0"}, ""))
	}

	stop := errors.New("enough")
	count := 0
	err := s.Search(ctx, "pkg", func(SearchPackageBody) error {
		count++
		return stop
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, count)
}
