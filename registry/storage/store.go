package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/packdock/packdock"
	"github.com/packdock/packdock/internal/dcontext"
	storagedriver "github.com/packdock/packdock/registry/storage/driver"
)

// errUnchanged aborts an update transform without failing it: the current
// manifest is kept and no write happens.
var errUnchanged = errors.New("manifest unchanged")

// Store owns manifest semantics on top of a storage driver: normalization,
// revision management, merge rules and checksum verification. All mutating
// operations run under the driver's per-package serialization, so Store
// itself holds no locks.
type Store struct {
	driver storagedriver.Driver

	// skipRevBump leaves _rev untouched on writes. Enabled by the
	// _debug configuration switch to keep fixtures reproducible.
	skipRevBump bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// SkipRevisionBump disables revision token generation on writes.
func SkipRevisionBump() StoreOption {
	return func(s *Store) {
		s.skipRevBump = true
	}
}

// NewStore builds a Store over the given driver.
func NewStore(d storagedriver.Driver, options ...StoreOption) *Store {
	s := &Store{driver: d}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Driver exposes the underlying storage driver for capability probing
// (search, token persistence) by upper layers.
func (s *Store) Driver() storagedriver.Driver {
	return s.driver
}

// GetManifest reads and normalizes the stored manifest for name. Missing
// packages surface as packdock.ErrPackageUnknown; structurally unreadable
// payloads as packdock.ErrManifestInvalid.
func (s *Store) GetManifest(ctx context.Context, name string) (*packdock.Manifest, error) {
	manifestOps.WithValues("read").Inc(1)
	payload, err := s.driver.ReadManifest(ctx, name)
	if err != nil {
		return nil, translateError(name, err)
	}
	return decodeManifest(name, payload)
}

// ReadOrCreate behaves like GetManifest, except that a missing package
// yields an empty manifest template instead of an error. Nothing is written.
func (s *Store) ReadOrCreate(ctx context.Context, name string) (*packdock.Manifest, error) {
	m, err := s.GetManifest(ctx, name)
	if err == nil {
		return m, nil
	}
	var unknown packdock.ErrPackageUnknown
	if errors.As(err, &unknown) {
		return packdock.NewManifest(name), nil
	}
	return nil, err
}

// update runs fn over the decoded manifest under per-package serialization.
// fn mutates the manifest in place; returning errUnchanged skips the write.
// On successful writes the revision token is advanced. With createIfMissing
// set, a missing package starts from an empty template and is registered in
// the global index afterwards; otherwise a missing package fails with
// packdock.ErrPackageUnknown.
func (s *Store) update(ctx context.Context, name string, createIfMissing bool, fn func(*packdock.Manifest) error) (*packdock.Manifest, error) {
	manifestOps.WithValues("write").Inc(1)
	var result *packdock.Manifest
	created := false
	_, err := s.driver.UpdateManifest(ctx, name, func(current []byte) ([]byte, error) {
		var m *packdock.Manifest
		if current == nil {
			if !createIfMissing {
				return nil, packdock.ErrPackageUnknown{Name: name}
			}
			m = packdock.NewManifest(name)
			created = true
		} else {
			created = false
			var err error
			if m, err = decodeManifest(name, current); err != nil {
				return nil, err
			}
		}
		if err := fn(m); err != nil {
			if errors.Is(err, errUnchanged) {
				result = m
			}
			return nil, err
		}
		normalizeDistTags(m)
		if !s.skipRevBump {
			m.Rev = packdock.NextRevision(m.Rev)
		}
		result = m
		return json.Marshal(m)
	})
	if err != nil {
		if errors.Is(err, errUnchanged) {
			return result, nil
		}
		return nil, translateError(name, err)
	}
	if created {
		if err := s.driver.AddPackage(ctx, name); err != nil {
			return nil, translateError(name, err)
		}
		dcontext.GetLoggerWithField(ctx, "package", name).Debug("package created")
	}
	return result, nil
}

func decodeManifest(name string, payload []byte) (*packdock.Manifest, error) {
	m := &packdock.Manifest{}
	if err := json.Unmarshal(payload, m); err != nil {
		return nil, packdock.ErrManifestInvalid{Name: name, Reason: err.Error()}
	}
	if m.Name == "" {
		m.Name = name
	}
	m.Normalize()
	return m, nil
}

// translateError maps driver-level failures onto the registry error
// taxonomy. Unexpected failures pass through wrapped by the driver.
func translateError(name string, err error) error {
	var pkgNotFound storagedriver.PackageNotFoundError
	if errors.As(err, &pkgNotFound) {
		return packdock.ErrPackageUnknown{Name: name}
	}
	var fileNotFound storagedriver.FileNotFoundError
	if errors.As(err, &fileNotFound) {
		return packdock.ErrTarballUnknown{Name: name, Filename: fileNotFound.Filename}
	}
	return err
}
