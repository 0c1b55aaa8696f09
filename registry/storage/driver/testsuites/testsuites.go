// Package testsuites holds behavioral tests shared by every storage driver
// implementation.
package testsuites

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	storagedriver "github.com/packdock/packdock/registry/storage/driver"
)

// DriverConstructor returns a fresh, empty driver for each test.
type DriverConstructor func(t *testing.T) storagedriver.Driver

// Run exercises the full driver contract against the given constructor.
func Run(t *testing.T, newDriver DriverConstructor) {
	t.Run("ManifestRoundTrip", func(t *testing.T) { testManifestRoundTrip(t, newDriver(t)) })
	t.Run("ManifestNotFound", func(t *testing.T) { testManifestNotFound(t, newDriver(t)) })
	t.Run("ManifestOverwrite", func(t *testing.T) { testManifestOverwrite(t, newDriver(t)) })
	t.Run("UpdateSerialized", func(t *testing.T) { testUpdateSerialized(t, newDriver(t)) })
	t.Run("UpdateCreatesMissing", func(t *testing.T) { testUpdateCreatesMissing(t, newDriver(t)) })
	t.Run("UpdateTransformError", func(t *testing.T) { testUpdateTransformError(t, newDriver(t)) })
	t.Run("PackageIndex", func(t *testing.T) { testPackageIndex(t, newDriver(t)) })
	t.Run("TarballRoundTrip", func(t *testing.T) { testTarballRoundTrip(t, newDriver(t)) })
	t.Run("TarballAtomicity", func(t *testing.T) { testTarballAtomicity(t, newDriver(t)) })
	t.Run("TarballCancel", func(t *testing.T) { testTarballCancel(t, newDriver(t)) })
	t.Run("TarballDelete", func(t *testing.T) { testTarballDelete(t, newDriver(t)) })
	t.Run("ScopedNames", func(t *testing.T) { testScopedNames(t, newDriver(t)) })
}

func testManifestRoundTrip(t *testing.T, d storagedriver.Driver) {
	ctx := context.Background()
	payload := []byte(`{"name":"demo"}`)

	require.NoError(t, d.WriteManifest(ctx, "demo", payload))
	got, err := d.ReadManifest(ctx, "demo")
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func testManifestNotFound(t *testing.T, d storagedriver.Driver) {
	ctx := context.Background()
	_, err := d.ReadManifest(ctx, "missing")
	var nf storagedriver.PackageNotFoundError
	require.True(t, errors.As(err, &nf), "expected PackageNotFoundError, got %v", err)
	require.Equal(t, "missing", nf.Name)
}

func testManifestOverwrite(t *testing.T, d storagedriver.Driver) {
	ctx := context.Background()
	require.NoError(t, d.WriteManifest(ctx, "demo", []byte(`{"v":1}`)))
	require.NoError(t, d.WriteManifest(ctx, "demo", []byte(`{"v":2}`)))
	got, err := d.ReadManifest(ctx, "demo")
	require.NoError(t, err)
	require.JSONEq(t, `{"v":2}`, string(got))
}

// testUpdateSerialized runs concurrent increments through UpdateManifest;
// every increment must survive.
func testUpdateSerialized(t *testing.T, d storagedriver.Driver) {
	ctx := context.Background()
	require.NoError(t, d.WriteManifest(ctx, "demo", []byte("0")))

	const workers = 8
	const perWorker = 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := d.UpdateManifest(ctx, "demo", func(current []byte) ([]byte, error) {
					var n int
					fmt.Sscanf(string(current), "%d", &n)
					return []byte(fmt.Sprintf("%d", n+1)), nil
				})
				require.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	got, err := d.ReadManifest(ctx, "demo")
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("%d", workers*perWorker), string(got))
}

// testUpdateCreatesMissing checks that the transform sees nil for a package
// without a manifest and that its result is committed.
func testUpdateCreatesMissing(t *testing.T, d storagedriver.Driver) {
	ctx := context.Background()
	payload, err := d.UpdateManifest(ctx, "fresh", func(current []byte) ([]byte, error) {
		require.Nil(t, current)
		return []byte(`{"fresh":true}`), nil
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"fresh":true}`, string(payload))

	got, err := d.ReadManifest(ctx, "fresh")
	require.NoError(t, err)
	require.JSONEq(t, `{"fresh":true}`, string(got))
}

func testUpdateTransformError(t *testing.T, d storagedriver.Driver) {
	ctx := context.Background()
	require.NoError(t, d.WriteManifest(ctx, "demo", []byte("before")))

	boom := errors.New("boom")
	_, err := d.UpdateManifest(ctx, "demo", func([]byte) ([]byte, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	got, err := d.ReadManifest(ctx, "demo")
	require.NoError(t, err)
	require.Equal(t, "before", string(got))
}

func testPackageIndex(t *testing.T, d storagedriver.Driver) {
	ctx := context.Background()
	require.NoError(t, d.AddPackage(ctx, "alpha"))
	require.NoError(t, d.AddPackage(ctx, "beta"))
	require.NoError(t, d.AddPackage(ctx, "alpha"))

	names, err := d.Packages(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "beta"}, names)

	require.NoError(t, d.RemovePackage(ctx, "alpha"))
	names, err = d.Packages(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"beta"}, names)
}

func writeTarball(t *testing.T, d storagedriver.Driver, name, filename string, payload []byte) {
	ctx := context.Background()
	fw, err := d.WriteTarball(ctx, name, filename)
	require.NoError(t, err)
	_, err = fw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, fw.Commit(ctx))
	require.NoError(t, fw.Close())
}

func testTarballRoundTrip(t *testing.T, d storagedriver.Driver) {
	ctx := context.Background()
	payload := []byte("tarball-bytes")
	writeTarball(t, d, "demo", "demo-1.0.0.tgz", payload)

	rc, err := d.ReadTarball(ctx, "demo", "demo-1.0.0.tgz")
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

// testTarballAtomicity overwrites a tarball while holding a writer open; the
// old bytes must stay readable until Commit.
func testTarballAtomicity(t *testing.T, d storagedriver.Driver) {
	ctx := context.Background()
	writeTarball(t, d, "demo", "demo-1.0.0.tgz", []byte("old"))

	fw, err := d.WriteTarball(ctx, "demo", "demo-1.0.0.tgz")
	require.NoError(t, err)
	_, err = fw.Write([]byte("new-bytes"))
	require.NoError(t, err)

	rc, err := d.ReadTarball(ctx, "demo", "demo-1.0.0.tgz")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	require.Equal(t, "old", string(got), "reader must not observe a partial write")

	require.NoError(t, fw.Commit(ctx))
	require.NoError(t, fw.Close())

	rc, err = d.ReadTarball(ctx, "demo", "demo-1.0.0.tgz")
	require.NoError(t, err)
	got, err = io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	require.Equal(t, "new-bytes", string(got))
}

func testTarballCancel(t *testing.T, d storagedriver.Driver) {
	ctx := context.Background()
	writeTarball(t, d, "demo", "demo-1.0.0.tgz", []byte("old"))

	fw, err := d.WriteTarball(ctx, "demo", "demo-1.0.0.tgz")
	require.NoError(t, err)
	_, err = fw.Write([]byte("doomed"))
	require.NoError(t, err)
	require.NoError(t, fw.Cancel(ctx))

	rc, err := d.ReadTarball(ctx, "demo", "demo-1.0.0.tgz")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	require.Equal(t, "old", string(got))
}

func testTarballDelete(t *testing.T, d storagedriver.Driver) {
	ctx := context.Background()
	writeTarball(t, d, "demo", "demo-1.0.0.tgz", []byte("bytes"))
	require.NoError(t, d.DeleteTarball(ctx, "demo", "demo-1.0.0.tgz"))

	_, err := d.ReadTarball(ctx, "demo", "demo-1.0.0.tgz")
	var nf storagedriver.FileNotFoundError
	require.True(t, errors.As(err, &nf))

	err = d.DeleteTarball(ctx, "demo", "demo-1.0.0.tgz")
	require.True(t, errors.As(err, &nf))
}

func testScopedNames(t *testing.T, d storagedriver.Driver) {
	ctx := context.Background()
	payload := []byte(`{"name":"@scope/demo"}`)
	require.NoError(t, d.WriteManifest(ctx, "@scope/demo", payload))
	writeTarball(t, d, "@scope/demo", "demo-1.0.0.tgz", []byte("scoped"))

	got, err := d.ReadManifest(ctx, "@scope/demo")
	require.NoError(t, err)
	require.Equal(t, payload, got)

	rc, err := d.ReadTarball(ctx, "@scope/demo", "demo-1.0.0.tgz")
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "scoped", string(body))
}
