package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/packdock/packdock"
	"github.com/packdock/packdock/internal/dcontext"
	storagedriver "github.com/packdock/packdock/registry/storage/driver"
)

// ChangePackage reconciles the stored manifest with an incoming one. It
// implements unpublish-of-versions and deprecation: versions absent from
// incoming are deleted, deprecation messages are synchronized, and users
// and dist-tags are replaced wholesale. rev, when non-empty, must match the
// stored revision.
func (s *Store) ChangePackage(ctx context.Context, name string, incoming *packdock.Manifest, rev string) error {
	if incoming == nil || incoming.Versions == nil || incoming.DistTags == nil {
		return packdock.ErrManifestInvalid{Name: name, Reason: "versions and dist-tags are required"}
	}

	log := dcontext.GetLoggerWithField(ctx, "package", name)
	_, err := s.update(ctx, name, false, func(m *packdock.Manifest) error {
		if rev != "" && rev != m.Rev {
			return packdock.ErrRevisionMismatch{Name: name, Rev: rev}
		}

		now := time.Now()
		for version := range m.Versions {
			if _, keep := incoming.Versions[version]; keep {
				continue
			}
			delete(m.Versions, version)
			delete(m.Time, version)
			for filename, att := range m.Attachments {
				if att.Version == version {
					att.Version = ""
					m.Attachments[filename] = att
				}
			}
			m.Touch(now)
			log.Infof("version %s unpublished", version)
		}

		for version, ver := range m.Versions {
			in, ok := incoming.Versions[version]
			if !ok {
				continue
			}
			if in.Deprecated != ver.Deprecated {
				// An empty string clears the deprecation flag.
				ver.Deprecated = in.Deprecated
				m.Versions[version] = ver
				m.Touch(now)
			}
		}

		m.Users = incoming.Users
		m.DistTags = incoming.DistTags
		m.Normalize()
		return nil
	})
	return err
}

// RemoveTarball drops the attachment record for filename under a serialized
// update, then deletes the blob. A blob deletion failure is logged but not
// surfaced: the manifest is already consistent without the attachment.
func (s *Store) RemoveTarball(ctx context.Context, name, filename, rev string) error {
	_, err := s.update(ctx, name, false, func(m *packdock.Manifest) error {
		if rev != "" && rev != m.Rev {
			return packdock.ErrRevisionMismatch{Name: name, Rev: rev}
		}
		if _, ok := m.Attachments[filename]; !ok {
			return packdock.ErrTarballUnknown{Name: name, Filename: filename}
		}
		delete(m.Attachments, filename)
		m.Touch(time.Now())
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.driver.DeleteTarball(ctx, name, filename); err != nil {
		dcontext.GetLoggerWithFields(ctx, map[string]any{
			"package": name,
			"file":    filename,
		}).WithError(err).Warn("tarball blob deletion failed")
	}
	return nil
}

// RemovePackage unpublishes the whole package: every attachment blob, then
// the manifest, then the package directory and index entry.
func (s *Store) RemovePackage(ctx context.Context, name string) error {
	m, err := s.GetManifest(ctx, name)
	if err != nil {
		return err
	}

	for filename := range m.Attachments {
		if err := s.driver.DeleteTarball(ctx, name, filename); err != nil {
			var notFound storagedriver.FileNotFoundError
			if !errors.As(err, &notFound) {
				return packdock.ErrManifestInvalid{Name: name, Reason: err.Error()}
			}
		}
	}

	if err := s.driver.RemovePackage(ctx, name); err != nil {
		return packdock.ErrManifestInvalid{Name: name, Reason: err.Error()}
	}

	dcontext.GetLoggerWithField(ctx, "package", name).Info("package removed")
	return nil
}

// ReadTarball opens a locally stored tarball.
func (s *Store) ReadTarball(ctx context.Context, name, filename string) (io.ReadCloser, error) {
	tarballOps.WithValues("read").Inc(1)
	rc, err := s.driver.ReadTarball(ctx, name, filename)
	if err != nil {
		return nil, translateError(name, err)
	}
	return rc, nil
}

// WriteTarball opens an atomic writer for a tarball blob.
func (s *Store) WriteTarball(ctx context.Context, name, filename string) (storagedriver.FileWriter, error) {
	tarballOps.WithValues("write").Inc(1)
	w, err := s.driver.WriteTarball(ctx, name, filename)
	if err != nil {
		return nil, translateError(name, err)
	}
	return w, nil
}
