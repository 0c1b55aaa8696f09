package storage

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/packdock/packdock"
	"github.com/packdock/packdock/internal/dcontext"
)

// AddVersion publishes a version into the package manifest. The manifest is
// created on first publish. Republishing an existing version fails with
// packdock.ErrVersionExists; a tarball checksum that disagrees with a
// previously recorded attachment checksum fails with
// packdock.ErrShasumMismatch.
func (s *Store) AddVersion(ctx context.Context, name, version string, ver packdock.Version, tag string) error {
	if err := packdock.ValidateName(name); err != nil {
		return err
	}

	_, err := s.update(ctx, name, true, func(m *packdock.Manifest) error {
		if _, exists := m.Versions[version]; exists {
			return packdock.ErrVersionExists{Name: name, Version: version}
		}

		ver.Name = name
		ver.Version = version

		// One README per package: the manifest carries the README of
		// the version being published, the version record drops it.
		m.Readme = ver.Readme
		ver.Readme = ""

		if ver.Dist.Tarball != "" {
			filename := tarballFilename(ver.Dist.Tarball)
			att := m.Attachments[filename]
			if att.Shasum != "" && ver.Dist.Shasum != "" && att.Shasum != ver.Dist.Shasum {
				return packdock.ErrShasumMismatch{
					Filename: filename,
					Expected: att.Shasum,
					Actual:   ver.Dist.Shasum,
				}
			}
			if att.Shasum == "" {
				att.Shasum = ver.Dist.Shasum
			}
			att.Version = version
			m.Attachments[filename] = att
		}

		m.Versions[version] = ver

		now := time.Now()
		m.Time[version] = now.UTC().Format(time.RFC3339Nano)
		m.Touch(now)

		tagVersion(m, version, tag)
		return nil
	})
	if err != nil {
		return err
	}

	dcontext.GetLoggerWithFields(ctx, map[string]any{
		"package": name,
		"version": version,
		"tag":     tag,
	}).Info("version published")
	return nil
}

// tagVersion points tag at version. An empty tag defaults to "latest".
func tagVersion(m *packdock.Manifest, version, tag string) {
	if tag == "" {
		tag = packdock.DefaultTag
	}
	m.DistTags[tag] = version
}

// tarballFilename extracts the stored filename from a dist tarball URL or
// bare filename.
func tarballFilename(tarball string) string {
	name := path.Base(tarball)
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}
	return name
}
