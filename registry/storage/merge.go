package storage

import (
	"context"
	"net/url"
	"reflect"

	"github.com/packdock/packdock"
	"github.com/packdock/packdock/internal/dcontext"
)

// MergeRemote folds a manifest fetched from an uplink into the local cache
// and returns the resulting manifest. Versions already cached are never
// overwritten, so when several uplinks carry the same version the first
// merge wins. The write is skipped entirely when the remote carries nothing
// new.
//
// uplinkURLs maps uplink names to their configured base URLs; it drives the
// protocol rewrite of cached dist-file pointers so clients are handed the
// scheme the operator configured.
func (s *Store) MergeRemote(ctx context.Context, name string, remote *packdock.Manifest, uplinkURLs map[string]*url.URL) (*packdock.Manifest, error) {
	if remote == nil {
		return s.GetManifest(ctx, name)
	}
	remote.Normalize()

	merged, err := s.update(ctx, name, true, func(m *packdock.Manifest) error {
		changed := false

		if remote.Readme != "" && remote.Readme != m.Readme {
			m.Readme = remote.Readme
			changed = true
		}

		for version, ver := range remote.Versions {
			if _, exists := m.Versions[version]; exists {
				continue
			}
			ver.Readme = ""
			m.Versions[version] = ver
			changed = true

			if ver.Dist.Tarball == "" {
				continue
			}
			filename := tarballFilename(ver.Dist.Tarball)
			if _, exists := m.DistFiles[filename]; exists {
				// A dist-file pointer is monotonic with respect to
				// its checksum: later merges never replace it.
				continue
			}
			m.DistFiles[filename] = packdock.DistFile{
				URL:      rewriteProtocol(ver.Dist.Tarball, ver.Uplink, uplinkURLs),
				Sha:      ver.Dist.Shasum,
				Registry: ver.Uplink,
			}
		}

		for tag, version := range remote.DistTags {
			if m.DistTags[tag] != version {
				m.DistTags[tag] = version
				changed = true
			}
		}

		for uplink, state := range remote.Uplinks {
			current, ok := m.Uplinks[uplink]
			if !ok || current.Etag != state.Etag || current.Fetched != state.Fetched {
				m.Uplinks[uplink] = state
				changed = true
			}
		}

		if len(remote.Time) > 0 && !reflect.DeepEqual(m.Time, remote.Time) {
			m.Time = remote.Time
			changed = true
		}

		if !changed {
			return errUnchanged
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	dcontext.GetLoggerWithField(ctx, "package", name).Debug("remote metadata merged")
	return merged, nil
}

// rewriteProtocol aligns the scheme of a remote tarball URL with the scheme
// of the uplink it was fetched from, provided the hosts match. Upstreams
// occasionally advertise dist URLs with a different scheme than the one the
// operator configured for the uplink.
func rewriteProtocol(tarball, uplinkName string, uplinkURLs map[string]*url.URL) string {
	if uplinkName == "" {
		return tarball
	}
	base, ok := uplinkURLs[uplinkName]
	if !ok || base == nil {
		return tarball
	}
	parsed, err := url.Parse(tarball)
	if err != nil {
		return tarball
	}
	if parsed.Host == base.Host && parsed.Scheme != base.Scheme {
		parsed.Scheme = base.Scheme
		return parsed.String()
	}
	return tarball
}
