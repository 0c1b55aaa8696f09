package storage

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packdock/packdock"
	"github.com/packdock/packdock/registry/storage/driver/inmemory"
)

func remoteManifest(name string, versions ...string) *packdock.Manifest {
	m := packdock.NewManifest(name)
	for _, v := range versions {
		ver := testVersion(name, v)
		ver.Uplink = "npmjs"
		ver.Dist.Tarball = "https://registry.npmjs.org/" + name + "/-/" + name + "-" + v + ".tgz"
		ver.Readme = "remote readme"
		m.Versions[v] = ver
		m.Time[v] = "2024-01-01T00:00:00.000Z"
	}
	if len(versions) > 0 {
		m.DistTags["latest"] = versions[len(versions)-1]
	}
	m.Readme = "# remote"
	m.Uplinks["npmjs"] = packdock.UplinkState{Etag: `"abc"`, Fetched: 1700000000}
	return m
}

func npmjsURLs(scheme string) map[string]*url.URL {
	u, _ := url.Parse(scheme + "://registry.npmjs.org/")
	return map[string]*url.URL{"npmjs": u}
}

func TestMergeRemoteCreatesCache(t *testing.T) {
	ctx := context.Background()
	s := NewStore(inmemory.New())

	merged, err := s.MergeRemote(ctx, "react", remoteManifest("react", "18.0.0"), npmjsURLs("https"))
	require.NoError(t, err)

	assert.Contains(t, merged.Versions, "18.0.0")
	assert.Equal(t, "# remote", merged.Readme)
	assert.Empty(t, merged.Versions["18.0.0"].Readme, "version README must be stripped")
	assert.Equal(t, "18.0.0", merged.DistTags["latest"])
	assert.Equal(t, `"abc"`, merged.Uplinks["npmjs"].Etag)

	df, ok := merged.DistFiles["react-18.0.0.tgz"]
	require.True(t, ok)
	assert.Equal(t, "https://registry.npmjs.org/react/-/react-18.0.0.tgz", df.URL)
	assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", df.Sha)
	assert.Equal(t, "npmjs", df.Registry)

	// The merge persisted the cache.
	m, err := s.GetManifest(ctx, "react")
	require.NoError(t, err)
	assert.Contains(t, m.Versions, "18.0.0")
}

func TestMergeRemoteRewritesProtocol(t *testing.T) {
	ctx := context.Background()
	s := NewStore(inmemory.New())

	// Uplink configured as plain http, upstream advertises https.
	merged, err := s.MergeRemote(ctx, "react", remoteManifest("react", "18.0.0"), npmjsURLs("http"))
	require.NoError(t, err)

	df := merged.DistFiles["react-18.0.0.tgz"]
	assert.Equal(t, "http://registry.npmjs.org/react/-/react-18.0.0.tgz", df.URL)
}

func TestMergeRemoteFirstWins(t *testing.T) {
	ctx := context.Background()
	s := NewStore(inmemory.New())

	first := remoteManifest("react", "18.0.0")
	_, err := s.MergeRemote(ctx, "react", first, npmjsURLs("https"))
	require.NoError(t, err)

	// A second uplink reporting a different checksum for the same version
	// must not displace what was merged first.
	second := remoteManifest("react", "18.0.0")
	ver := second.Versions["18.0.0"]
	ver.Description = "conflicting copy"
	ver.Dist.Shasum = "ffffffffffffffffffffffffffffffffffffffff"
	second.Versions["18.0.0"] = ver

	merged, err := s.MergeRemote(ctx, "react", second, npmjsURLs("https"))
	require.NoError(t, err)
	assert.Equal(t, "test package", merged.Versions["18.0.0"].Description)
	assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", merged.DistFiles["react-18.0.0.tgz"].Sha)
}

func TestMergeRemoteUnchangedSkipsWrite(t *testing.T) {
	ctx := context.Background()
	s := NewStore(inmemory.New())

	remote := remoteManifest("react", "18.0.0")
	merged, err := s.MergeRemote(ctx, "react", remote, npmjsURLs("https"))
	require.NoError(t, err)
	revBefore := merged.Rev

	merged, err = s.MergeRemote(ctx, "react", remoteManifest("react", "18.0.0"), npmjsURLs("https"))
	require.NoError(t, err)
	assert.Equal(t, revBefore, merged.Rev, "identical remote must not bump the revision")
}

func TestMergeRemotePreservesLocalVersions(t *testing.T) {
	ctx := context.Background()
	s := NewStore(inmemory.New())

	require.NoError(t, s.AddVersion(ctx, "react", "1.0.0-local", testVersion("react", "1.0.0-local"), ""))
	_, err := s.MergeRemote(ctx, "react", remoteManifest("react", "18.0.0"), npmjsURLs("https"))
	require.NoError(t, err)

	m, err := s.GetManifest(ctx, "react")
	require.NoError(t, err)
	assert.Contains(t, m.Versions, "1.0.0-local")
	assert.Contains(t, m.Versions, "18.0.0")
}

func TestMergeRemoteEtagUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewStore(inmemory.New())

	_, err := s.MergeRemote(ctx, "react", remoteManifest("react", "18.0.0"), npmjsURLs("https"))
	require.NoError(t, err)

	refreshed := remoteManifest("react", "18.0.0")
	refreshed.Uplinks["npmjs"] = packdock.UplinkState{Etag: `"def"`, Fetched: 1700009999}
	merged, err := s.MergeRemote(ctx, "react", refreshed, npmjsURLs("https"))
	require.NoError(t, err)
	assert.Equal(t, `"def"`, merged.Uplinks["npmjs"].Etag)
	assert.EqualValues(t, 1700009999, merged.Uplinks["npmjs"].Fetched)
}
