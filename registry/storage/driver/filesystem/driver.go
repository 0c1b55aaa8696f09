package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/mitchellh/mapstructure"

	storagedriver "github.com/packdock/packdock/registry/storage/driver"
	"github.com/packdock/packdock/registry/storage/driver/factory"
)

const (
	driverName           = "filesystem"
	defaultRootDirectory = "/var/lib/packdock/storage"

	manifestFilename = "package.json"
)

func init() {
	factory.Register(driverName, &filesystemDriverFactory{})
}

type filesystemDriverFactory struct{}

func (*filesystemDriverFactory) Create(parameters map[string]interface{}) (storagedriver.Driver, error) {
	return FromParameters(parameters)
}

// Driver is a storagedriver.Driver implementation backed by a local
// filesystem. Each package gets a directory under the root (scoped packages
// nest under their "@scope" directory) holding package.json and the raw
// tarballs. A single database file at the root indexes the known package
// names.
type Driver struct {
	rootDirectory string

	db *database

	// locks serializes manifest read-modify-write cycles per package.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ storagedriver.Driver = &Driver{}
var _ storagedriver.Searcher = &Driver{}
var _ storagedriver.TokenStore = &Driver{}

type driverParameters struct {
	RootDirectory string `mapstructure:"rootdirectory"`
}

// FromParameters constructs a new Driver with a given parameters map.
// Optional parameters:
// - rootdirectory
func FromParameters(parameters map[string]interface{}) (*Driver, error) {
	params := driverParameters{RootDirectory: defaultRootDirectory}
	if err := mapstructure.Decode(parameters, &params); err != nil {
		return nil, fmt.Errorf("parsing filesystem parameters: %w", err)
	}
	if params.RootDirectory == "" {
		params.RootDirectory = defaultRootDirectory
	}
	return New(params.RootDirectory)
}

// New constructs a new Driver rooted at rootDirectory.
func New(rootDirectory string) (*Driver, error) {
	if err := os.MkdirAll(rootDirectory, 0o755); err != nil {
		return nil, err
	}
	return &Driver{
		rootDirectory: rootDirectory,
		db:            newDatabase(filepath.Join(rootDirectory, databaseFilename)),
		locks:         map[string]*sync.Mutex{},
	}, nil
}

// Name implements storagedriver.Driver.
func (d *Driver) Name() string {
	return driverName
}

// packagePath returns the directory holding a package's files. Scoped names
// contain a slash and nest naturally.
func (d *Driver) packagePath(name string) string {
	return filepath.Join(d.rootDirectory, filepath.FromSlash(name))
}

func (d *Driver) manifestPath(name string) string {
	return filepath.Join(d.packagePath(name), manifestFilename)
}

func (d *Driver) lock(name string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[name]
	if !ok {
		l = &sync.Mutex{}
		d.locks[name] = l
	}
	return l
}

// ReadManifest implements storagedriver.Driver.
func (d *Driver) ReadManifest(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload, err := os.ReadFile(d.manifestPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storagedriver.PackageNotFoundError{Name: name, DriverName: driverName}
		}
		return nil, storagedriver.Error{DriverName: driverName, Enclosed: err}
	}
	return payload, nil
}

// WriteManifest implements storagedriver.Driver. The payload is staged into
// a temp file in the package directory and renamed over the destination, so
// concurrent readers observe either the old or the new manifest.
func (d *Driver) WriteManifest(ctx context.Context, name string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := d.packagePath(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return storagedriver.Error{DriverName: driverName, Enclosed: err}
	}
	return atomicWriteFile(d.manifestPath(name), payload)
}

// UpdateManifest implements storagedriver.Driver. The per-package mutex
// makes the read-transform-write cycle linearizable for a given name; the
// transform sees the freshest payload because the read happens under the
// lock.
func (d *Driver) UpdateManifest(ctx context.Context, name string, transform storagedriver.TransformFunc) ([]byte, error) {
	l := d.lock(name)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	current, err := d.ReadManifest(ctx, name)
	if err != nil {
		var notFound storagedriver.PackageNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		current = nil
	}

	next, err := transform(current)
	if err != nil {
		return nil, err
	}

	if err := d.WriteManifest(ctx, name, next); err != nil {
		return nil, err
	}
	return next, nil
}

// AddPackage implements storagedriver.Driver.
func (d *Driver) AddPackage(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(d.packagePath(name), 0o755); err != nil {
		return storagedriver.Error{DriverName: driverName, Enclosed: err}
	}
	return d.db.add(name)
}

// RemovePackage implements storagedriver.Driver.
func (d *Driver) RemovePackage(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.db.remove(name); err != nil {
		return err
	}
	if err := os.RemoveAll(d.packagePath(name)); err != nil {
		return storagedriver.Error{DriverName: driverName, Enclosed: err}
	}
	return nil
}

// Packages implements storagedriver.Driver.
func (d *Driver) Packages(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.db.list()
}

// ReadTarball implements storagedriver.Driver.
func (d *Driver) ReadTarball(ctx context.Context, name, filename string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(filepath.Join(d.packagePath(name), filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storagedriver.FileNotFoundError{Name: name, Filename: filename, DriverName: driverName}
		}
		return nil, storagedriver.Error{DriverName: driverName, Enclosed: err}
	}
	return file, nil
}

// WriteTarball implements storagedriver.Driver.
func (d *Driver) WriteTarball(ctx context.Context, name, filename string) (storagedriver.FileWriter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := d.packagePath(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storagedriver.Error{DriverName: driverName, Enclosed: err}
	}
	return newFileWriter(ctx, filepath.Join(dir, filename))
}

// DeleteTarball implements storagedriver.Driver.
func (d *Driver) DeleteTarball(ctx context.Context, name, filename string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(d.packagePath(name), filename))
	if err != nil {
		if os.IsNotExist(err) {
			return storagedriver.FileNotFoundError{Name: name, Filename: filename, DriverName: driverName}
		}
		return storagedriver.Error{DriverName: driverName, Enclosed: err}
	}
	return nil
}

// Search implements storagedriver.Searcher over the package index. The
// match is a substring match on the package name; modification times come
// from the manifest file on disk.
func (d *Driver) Search(ctx context.Context, query string, fn func(storagedriver.SearchItem) error) error {
	names, err := d.db.list()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !matchQuery(name, query) {
			continue
		}
		item := storagedriver.SearchItem{Name: name}
		if fi, err := os.Stat(d.manifestPath(name)); err == nil {
			item.Modified = fi.ModTime()
		}
		if err := fn(item); err != nil {
			return err
		}
	}
	return nil
}

// atomicWriteFile stages payload next to path and renames it into place.
func atomicWriteFile(path string, payload []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return storagedriver.Error{DriverName: driverName, Enclosed: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return storagedriver.Error{DriverName: driverName, Enclosed: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return storagedriver.Error{DriverName: driverName, Enclosed: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return storagedriver.Error{DriverName: driverName, Enclosed: err}
	}
	return nil
}
