package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storagedriver "github.com/packdock/packdock/registry/storage/driver"
	"github.com/packdock/packdock/registry/storage/driver/testsuites"
)

func TestInMemoryDriverSuite(t *testing.T) {
	testsuites.Run(t, func(t *testing.T) storagedriver.Driver {
		return New()
	})
}

func TestSearchSkipsPackagesRemovedMidScan(t *testing.T) {
	ctx := context.Background()
	d := New()
	require.NoError(t, d.AddPackage(ctx, "pkg-a"))
	require.NoError(t, d.AddPackage(ctx, "pkg-b"))

	// The callback removes a package the scan has not reached yet; the
	// removed name must be skipped, not visited with stale state.
	var seen []string
	err := d.Search(ctx, "pkg", func(item storagedriver.SearchItem) error {
		seen = append(seen, item.Name)
		if item.Name == "pkg-a" {
			return d.RemovePackage(ctx, "pkg-b")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg-a"}, seen)
}

func BenchmarkInMemoryDriver(b *testing.B) {
	testsuites.RunBenchmarks(b, func(b *testing.B) storagedriver.Driver {
		return New()
	})
}
