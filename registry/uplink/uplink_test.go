package uplink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packdock/packdock"
)

func testUplink(t *testing.T, url string) *Uplink {
	t.Helper()
	u, err := New("npmjs", Config{URL: url, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return u
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("npmjs", Config{URL: "ftp://registry.npmjs.org"})
	require.Error(t, err)
}

func TestFetchManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/react", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Etag", `"abc"`)
		fmt.Fprint(w, `{
			"name": "react",
			"dist-tags": {"latest": "18.0.0"},
			"versions": {"18.0.0": {"name": "react", "version": "18.0.0"}}
		}`)
	}))
	defer srv.Close()

	u := testUplink(t, srv.URL)
	remote, err := u.FetchManifest(context.Background(), "react", FetchOptions{})
	require.NoError(t, err)

	assert.Equal(t, `"abc"`, remote.Etag)
	assert.False(t, remote.Fetched.IsZero())
	require.Contains(t, remote.Manifest.Versions, "18.0.0")
	assert.Equal(t, "npmjs", remote.Manifest.Versions["18.0.0"].Uplink,
		"versions must carry the uplink that served them")
	assert.Equal(t, `"abc"`, remote.Manifest.Uplinks["npmjs"].Etag)
}

func TestFetchManifestConditional(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"abc"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Etag", `"abc"`)
		fmt.Fprint(w, `{"name":"react"}`)
	}))
	defer srv.Close()

	u := testUplink(t, srv.URL)
	remote, err := u.FetchManifest(context.Background(), "react", FetchOptions{Etag: `"abc"`})
	require.ErrorIs(t, err, ErrNotModified)
	require.NotNil(t, remote, "a 304 still reports the revalidated state")
	assert.Nil(t, remote.Manifest)
	assert.Equal(t, `"abc"`, remote.Etag)
	assert.False(t, remote.Fetched.IsZero())

	remote, err = u.FetchManifest(context.Background(), "react", FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, remote.Etag)
}

func TestFetchManifestNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	u := testUplink(t, srv.URL)
	_, err := u.FetchManifest(context.Background(), "no-such-package", FetchOptions{})
	var unknown packdock.ErrPackageUnknown
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "no-such-package", unknown.Name)
}

func TestFetchManifestScopedPath(t *testing.T) {
	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.URL.EscapedPath()
		fmt.Fprint(w, `{"name":"@scope/demo"}`)
	}))
	defer srv.Close()

	u := testUplink(t, srv.URL)
	_, err := u.FetchManifest(context.Background(), "@scope/demo", FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "/@scope%2Fdemo", seen)
}

func TestFetchManifestBreakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	u, err := newWithClock("npmjs", Config{
		URL:      srv.URL,
		MaxFails: 2,
	}, clock.NewMock())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = u.FetchManifest(ctx, "react", FetchOptions{})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrOffline)

	_, err = u.FetchManifest(ctx, "react", FetchOptions{})
	require.Error(t, err)

	_, err = u.FetchManifest(ctx, "react", FetchOptions{})
	require.ErrorIs(t, err, ErrOffline, "breaker must fail fast after consecutive failures")
}

func TestFetchTarball(t *testing.T) {
	payload := strings.Repeat("x", 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, payload)
	}))
	defer srv.Close()

	var last int64
	u := testUplink(t, srv.URL)
	rc, err := u.FetchTarball(context.Background(), srv.URL+"/react/-/react-18.0.0.tgz", TarballOptions{
		OnProgress: func(received int64) { last = received },
	})
	require.NoError(t, err)
	defer rc.Close()

	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, string(body))
	assert.EqualValues(t, len(payload), last)
}

func TestFetchTarballNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	u := testUplink(t, srv.URL)
	_, err := u.FetchTarball(context.Background(), srv.URL+"/react/-/react-0.0.0.tgz", TarballOptions{})
	var unknown packdock.ErrTarballUnknown
	require.True(t, errors.As(err, &unknown))
}

func TestTarballReaderDetectsShortBody(t *testing.T) {
	r := &tarballReader{
		body:     io.NopCloser(strings.NewReader("short")),
		expected: 100,
		url:      "https://registry.npmjs.org/react/-/react-18.0.0.tgz",
	}
	_, err := io.ReadAll(r)
	var mismatch packdock.ErrContentMismatch
	require.True(t, errors.As(err, &mismatch))
	assert.EqualValues(t, 100, mismatch.Expected)
	assert.EqualValues(t, 5, mismatch.Actual)
}
