package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	storagedriver "github.com/packdock/packdock/registry/storage/driver"
	"github.com/packdock/packdock/registry/storage/driver/testsuites"
)

func newTestDriver(t *testing.T) *Driver {
	d, err := New(t.TempDir())
	require.NoError(t, err)
	return d
}

func TestFilesystemDriverSuite(t *testing.T) {
	testsuites.Run(t, func(t *testing.T) storagedriver.Driver {
		return newTestDriver(t)
	})
}

func BenchmarkFilesystemDriver(b *testing.B) {
	testsuites.RunBenchmarks(b, func(b *testing.B) storagedriver.Driver {
		d, err := New(b.TempDir())
		if err != nil {
			b.Fatal(err)
		}
		return d
	})
}

func TestDatabaseFileLayout(t *testing.T) {
	root := t.TempDir()
	d, err := New(root)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, d.AddPackage(ctx, "demo"))
	require.NoError(t, d.WriteManifest(ctx, "demo", []byte(`{"name":"demo"}`)))

	// Layout must match the verdaccio storage directory format.
	_, err = os.Stat(filepath.Join(root, ".verdaccio-db.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "demo", "package.json"))
	require.NoError(t, err)
}

func TestScopedPackageDirectory(t *testing.T) {
	root := t.TempDir()
	d, err := New(root)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, d.WriteManifest(ctx, "@scope/demo", []byte(`{}`)))
	_, err = os.Stat(filepath.Join(root, "@scope", "demo", "package.json"))
	require.NoError(t, err)
}

func TestCancelledWriterLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	d, err := New(root)
	require.NoError(t, err)

	ctx := context.Background()
	fw, err := d.WriteTarball(ctx, "demo", "demo-1.0.0.tgz")
	require.NoError(t, err)
	_, err = fw.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, fw.Cancel(ctx))

	entries, err := os.ReadDir(filepath.Join(root, "demo"))
	require.NoError(t, err)
	require.Empty(t, entries, "cancelled write must remove its temp file")
}

func TestAbandonedWriterCleansUpOnClose(t *testing.T) {
	root := t.TempDir()
	d, err := New(root)
	require.NoError(t, err)

	ctx := context.Background()
	fw, err := d.WriteTarball(ctx, "demo", "demo-1.0.0.tgz")
	require.NoError(t, err)
	_, err = fw.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, fw.Close())

	entries, err := os.ReadDir(filepath.Join(root, "demo"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestContextCancelAbortsCommit(t *testing.T) {
	root := t.TempDir()
	d, err := New(root)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	fw, err := d.WriteTarball(ctx, "demo", "demo-1.0.0.tgz")
	require.NoError(t, err)
	_, err = fw.Write([]byte("partial"))
	require.NoError(t, err)

	cancel()
	require.Error(t, fw.Commit(context.Background()))

	_, err = os.Stat(filepath.Join(root, "demo", "demo-1.0.0.tgz"))
	require.True(t, os.IsNotExist(err))
	entries, err := os.ReadDir(filepath.Join(root, "demo"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestTokenStore(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	tok := storagedriver.Token{User: "alice", Key: "k1", Token: "opaque", Created: 42}
	require.NoError(t, d.SaveToken(ctx, tok))
	require.NoError(t, d.SaveToken(ctx, storagedriver.Token{User: "alice", Key: "k2", Token: "other"}))

	tokens, err := d.ReadTokens(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, tokens, 2)

	// Same key overwrites in place.
	tok.Token = "rotated"
	require.NoError(t, d.SaveToken(ctx, tok))
	tokens, err = d.ReadTokens(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, tokens, 2)

	require.NoError(t, d.DeleteToken(ctx, "alice", "k1"))
	tokens, err = d.ReadTokens(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	require.Equal(t, "k2", tokens[0].Key)

	require.Error(t, d.DeleteToken(ctx, "alice", "k1"))
}

func TestSearchMatchesSubstring(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()
	for _, name := range []string{"react", "react-dom", "vue"} {
		require.NoError(t, d.AddPackage(ctx, name))
		require.NoError(t, d.WriteManifest(ctx, name, []byte(`{}`)))
	}

	var hits []string
	err := d.Search(ctx, "react", func(item storagedriver.SearchItem) error {
		hits = append(hits, item.Name)
		require.False(t, item.Modified.IsZero())
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"react", "react-dom"}, hits)
}
