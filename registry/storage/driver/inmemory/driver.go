package inmemory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	storagedriver "github.com/packdock/packdock/registry/storage/driver"
	"github.com/packdock/packdock/registry/storage/driver/factory"
)

const driverName = "inmemory"

func init() {
	factory.Register(driverName, &inMemoryDriverFactory{})
}

type inMemoryDriverFactory struct{}

func (*inMemoryDriverFactory) Create(map[string]interface{}) (storagedriver.Driver, error) {
	return New(), nil
}

type pkg struct {
	manifest []byte
	tarballs map[string][]byte
	modified time.Time
}

// Driver is a storagedriver.Driver that keeps all state in process memory.
// It exists for tests and for ephemeral registries; contents are lost on
// restart. It intentionally does not implement the optional token store so
// the capability-missing path stays reachable in tests.
type Driver struct {
	mu       sync.RWMutex
	packages map[string]*pkg
}

var _ storagedriver.Driver = &Driver{}
var _ storagedriver.Searcher = &Driver{}

// New constructs a new empty in-memory driver.
func New() *Driver {
	return &Driver{packages: map[string]*pkg{}}
}

// Name implements storagedriver.Driver.
func (d *Driver) Name() string {
	return driverName
}

// ReadManifest implements storagedriver.Driver.
func (d *Driver) ReadManifest(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.packages[name]
	if !ok || p.manifest == nil {
		return nil, storagedriver.PackageNotFoundError{Name: name, DriverName: driverName}
	}
	out := make([]byte, len(p.manifest))
	copy(out, p.manifest)
	return out, nil
}

// WriteManifest implements storagedriver.Driver.
func (d *Driver) WriteManifest(ctx context.Context, name string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ensure(name).manifest = append([]byte(nil), payload...)
	d.packages[name].modified = time.Now()
	return nil
}

// UpdateManifest implements storagedriver.Driver. The driver-wide write
// lock spans the whole read-transform-write cycle, which linearizes
// concurrent updates.
func (d *Driver) UpdateManifest(ctx context.Context, name string, transform storagedriver.TransformFunc) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var current []byte
	if p, ok := d.packages[name]; ok && p.manifest != nil {
		current = append([]byte(nil), p.manifest...)
	}
	next, err := transform(current)
	if err != nil {
		return nil, err
	}
	p := d.ensure(name)
	p.manifest = next
	p.modified = time.Now()
	return next, nil
}

func (d *Driver) ensure(name string) *pkg {
	p, ok := d.packages[name]
	if !ok {
		p = &pkg{tarballs: map[string][]byte{}}
		d.packages[name] = p
	}
	return p
}

// AddPackage implements storagedriver.Driver.
func (d *Driver) AddPackage(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ensure(name)
	return nil
}

// RemovePackage implements storagedriver.Driver.
func (d *Driver) RemovePackage(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.packages[name]; !ok {
		return storagedriver.PackageNotFoundError{Name: name, DriverName: driverName}
	}
	delete(d.packages, name)
	return nil
}

// Packages implements storagedriver.Driver.
func (d *Driver) Packages(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.packages))
	for name := range d.packages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ReadTarball implements storagedriver.Driver.
func (d *Driver) ReadTarball(ctx context.Context, name, filename string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.packages[name]
	if !ok {
		return nil, storagedriver.FileNotFoundError{Name: name, Filename: filename, DriverName: driverName}
	}
	payload, ok := p.tarballs[filename]
	if !ok {
		return nil, storagedriver.FileNotFoundError{Name: name, Filename: filename, DriverName: driverName}
	}
	return io.NopCloser(bytes.NewReader(payload)), nil
}

// WriteTarball implements storagedriver.Driver.
func (d *Driver) WriteTarball(ctx context.Context, name, filename string) (storagedriver.FileWriter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memWriter{ctx: ctx, driver: d, name: name, filename: filename}, nil
}

// DeleteTarball implements storagedriver.Driver.
func (d *Driver) DeleteTarball(ctx context.Context, name, filename string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.packages[name]
	if !ok {
		return storagedriver.FileNotFoundError{Name: name, Filename: filename, DriverName: driverName}
	}
	if _, ok := p.tarballs[filename]; !ok {
		return storagedriver.FileNotFoundError{Name: name, Filename: filename, DriverName: driverName}
	}
	delete(p.tarballs, filename)
	return nil
}

// Search implements storagedriver.Searcher.
func (d *Driver) Search(ctx context.Context, query string, fn func(storagedriver.SearchItem) error) error {
	names, err := d.Packages(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if query != "" && !strings.Contains(name, query) {
			continue
		}
		// The package may have been removed since the name snapshot was
		// taken; fn runs outside the lock and may itself mutate the driver.
		d.mu.RLock()
		p, ok := d.packages[name]
		var modified time.Time
		if ok {
			modified = p.modified
		}
		d.mu.RUnlock()
		if !ok {
			continue
		}
		if err := fn(storagedriver.SearchItem{Name: name, Modified: modified}); err != nil {
			return err
		}
	}
	return nil
}

// memWriter buffers bytes and publishes them into the driver's map on
// Commit, mirroring the temp-and-rename behavior of the filesystem driver.
type memWriter struct {
	ctx      context.Context
	driver   *Driver
	name     string
	filename string
	buf      bytes.Buffer

	closed    bool
	committed bool
	cancelled bool
}

var _ storagedriver.FileWriter = &memWriter{}

func (w *memWriter) Write(p []byte) (int, error) {
	switch {
	case w.closed:
		return 0, fmt.Errorf("already closed")
	case w.committed:
		return 0, fmt.Errorf("already committed")
	case w.cancelled:
		return 0, fmt.Errorf("already cancelled")
	}
	if err := w.ctx.Err(); err != nil {
		return 0, err
	}
	return w.buf.Write(p)
}

func (w *memWriter) Size() int64 {
	return int64(w.buf.Len())
}

func (w *memWriter) Close() error {
	if w.closed {
		return fmt.Errorf("already closed")
	}
	w.closed = true
	return nil
}

func (w *memWriter) Cancel(context.Context) error {
	if w.committed {
		return fmt.Errorf("already committed")
	}
	w.cancelled = true
	w.buf.Reset()
	return nil
}

func (w *memWriter) Commit(context.Context) error {
	switch {
	case w.closed:
		return fmt.Errorf("already closed")
	case w.committed:
		return fmt.Errorf("already committed")
	case w.cancelled:
		return fmt.Errorf("already cancelled")
	}
	if err := w.ctx.Err(); err != nil {
		return err
	}
	w.driver.mu.Lock()
	defer w.driver.mu.Unlock()
	p := w.driver.ensure(w.name)
	p.tarballs[w.filename] = append([]byte(nil), w.buf.Bytes()...)
	p.modified = time.Now()
	w.committed = true
	return nil
}
