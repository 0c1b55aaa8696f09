package testsuites

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	storagedriver "github.com/packdock/packdock/registry/storage/driver"
)

// BenchDriverConstructor returns a fresh, empty driver for each benchmark.
type BenchDriverConstructor func(b *testing.B) storagedriver.Driver

// RunBenchmarks exercises the hot driver paths at several payload sizes.
func RunBenchmarks(b *testing.B, newDriver BenchDriverConstructor) {
	for _, size := range []int64{0, 1 << 10, 1 << 20} {
		size := size
		b.Run(fmt.Sprintf("TarballPutGet%dB", size), func(b *testing.B) {
			benchmarkTarballPutGet(b, newDriver(b), size)
		})
	}
	b.Run("ManifestPutGet", func(b *testing.B) {
		benchmarkManifestPutGet(b, newDriver(b))
	})
	b.Run("ManifestUpdate", func(b *testing.B) {
		benchmarkManifestUpdate(b, newDriver(b))
	})
}

func benchmarkTarballPutGet(b *testing.B, d storagedriver.Driver, size int64) {
	ctx := context.Background()
	payload := bytes.Repeat([]byte("x"), int(size))
	b.SetBytes(size)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		filename := fmt.Sprintf("bench-%d.tgz", i)
		fw, err := d.WriteTarball(ctx, "bench", filename)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := fw.Write(payload); err != nil {
			b.Fatal(err)
		}
		if err := fw.Commit(ctx); err != nil {
			b.Fatal(err)
		}
		fw.Close()

		rc, err := d.ReadTarball(ctx, "bench", filename)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := io.Copy(io.Discard, rc); err != nil {
			b.Fatal(err)
		}
		rc.Close()
	}
}

func benchmarkManifestPutGet(b *testing.B, d storagedriver.Driver) {
	ctx := context.Background()
	payload := []byte(`{"name":"bench","versions":{}}`)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := d.WriteManifest(ctx, "bench", payload); err != nil {
			b.Fatal(err)
		}
		if _, err := d.ReadManifest(ctx, "bench"); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkManifestUpdate(b *testing.B, d storagedriver.Driver) {
	ctx := context.Background()
	if err := d.WriteManifest(ctx, "bench", []byte(`{}`)); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_, err := d.UpdateManifest(ctx, "bench", func(current []byte) ([]byte, error) {
			return current, nil
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}
