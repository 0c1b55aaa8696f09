package driver

import (
	"context"
	"io"
	"time"
)

// Version is a string representing the storage driver version, of the form
// Major.Minor. The registry must accept storage drivers with equal major
// version and greater minor version, but may not be compatible with older
// storage driver versions.
type Version string

// CurrentVersion is the current storage driver Version.
const CurrentVersion Version = "0.1"

// TransformFunc is applied by UpdateManifest to the current manifest
// payload. It must be a pure function of its input: the driver may re-run it
// when an intermediate write is observed.
type TransformFunc func(current []byte) ([]byte, error)

// Driver is the per-package persistence contract the registry is built on.
// Each operation namespaces its state by package name; implementations may
// be remote and every call is expected to block on I/O, so all of them take
// a context.
type Driver interface {
	// Name returns the human-readable "name" of the driver, useful in
	// error messages and logging.
	Name() string

	// ReadManifest returns the stored manifest payload for the package.
	ReadManifest(ctx context.Context, name string) ([]byte, error)

	// WriteManifest atomically replaces the manifest payload for the
	// package. Readers observe either the prior payload or the new one,
	// never a partial write.
	WriteManifest(ctx context.Context, name string, payload []byte) error

	// UpdateManifest applies transform to the current manifest payload
	// under per-package serialization: concurrent calls against the same
	// name are linearizable, and transform is re-run if an intermediate
	// write is observed. When no manifest exists yet, transform receives
	// nil; the serialization covers creation, so two concurrent first
	// writes cannot both start from nil. The committed payload is
	// returned.
	UpdateManifest(ctx context.Context, name string, transform TransformFunc) ([]byte, error)

	// AddPackage registers the package in the global index used for
	// listing and search. Adding a name twice is not an error.
	AddPackage(ctx context.Context, name string) error

	// RemovePackage removes the index entry and the package directory,
	// including any remaining files.
	RemovePackage(ctx context.Context, name string) error

	// Packages returns every package name present in the global index.
	Packages(ctx context.Context) ([]string, error)

	// ReadTarball opens the stored tarball for reading.
	ReadTarball(ctx context.Context, name, filename string) (io.ReadCloser, error)

	// WriteTarball opens an atomic writer for the tarball. Bytes become
	// visible to readers only on Commit; Cancel (or context
	// cancellation) leaves previously stored bytes intact.
	WriteTarball(ctx context.Context, name, filename string) (FileWriter, error)

	// DeleteTarball removes the stored tarball.
	DeleteTarball(ctx context.Context, name, filename string) error
}

// FileWriter is an atomic blob writer. Content written through it is staged
// aside and only replaces the destination on Commit.
type FileWriter interface {
	io.WriteCloser

	// Size returns the number of bytes written to this FileWriter.
	Size() int64

	// Cancel removes any staged content. A writer abandoned without
	// Commit must be cancelled or closed to release its resources.
	Cancel(ctx context.Context) error

	// Commit flushes all content written to this FileWriter and makes
	// it available for future reads.
	Commit(ctx context.Context) error
}

// SearchItem is one hit produced by a driver's search capability.
type SearchItem struct {
	// Name is the package name.
	Name string

	// Modified is the package's last modification time, when the driver
	// tracks it.
	Modified time.Time
}

// Searcher is an optional capability: drivers able to answer package
// queries implement it. The engine reports search as unsupported when the
// configured driver does not.
type Searcher interface {
	// Search invokes fn for every package matching query, in index
	// order, stopping early when fn returns an error.
	Search(ctx context.Context, query string, fn func(SearchItem) error) error
}

// Token is an API token persisted on behalf of the auth layer. The core
// stores tokens opaquely and never interprets Key or Token contents.
type Token struct {
	User     string `json:"user"`
	Key      string `json:"key"`
	Token    string `json:"token"`
	Readonly bool   `json:"readonly,omitempty"`
	Created  int64  `json:"created"`
}

// TokenStore is an optional capability for drivers that persist API tokens.
type TokenStore interface {
	SaveToken(ctx context.Context, token Token) error
	DeleteToken(ctx context.Context, user, key string) error
	ReadTokens(ctx context.Context, user string) ([]Token, error)
}
