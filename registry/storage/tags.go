package storage

import (
	"context"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/packdock/packdock"
	"github.com/packdock/packdock/internal/dcontext"
)

// MergeTags applies a set of dist-tag changes in one serialized update. An
// empty version string deletes the tag (the wire layer maps JSON null to
// it); otherwise the target version must exist.
func (s *Store) MergeTags(ctx context.Context, name string, tags map[string]string) error {
	_, err := s.update(ctx, name, false, func(m *packdock.Manifest) error {
		for tag, version := range tags {
			if version == "" {
				delete(m.DistTags, tag)
				continue
			}
			if _, ok := m.Versions[version]; !ok {
				return packdock.ErrVersionUnknown{Name: name, Version: version}
			}
			m.DistTags[tag] = version
		}
		m.Touch(time.Now())
		return nil
	})
	if err != nil {
		return err
	}
	dcontext.GetLoggerWithField(ctx, "package", name).Debugf("dist-tags merged: %v", tags)
	return nil
}

// normalizeDistTags re-establishes the dist-tag invariants after a
// mutation: tags pointing at versions that no longer exist are dropped, and
// a package with versions but no latest tag gets latest pointed at its
// highest semver version.
func normalizeDistTags(m *packdock.Manifest) {
	for tag, version := range m.DistTags {
		if _, ok := m.Versions[version]; !ok {
			delete(m.DistTags, tag)
		}
	}

	if _, ok := m.DistTags[packdock.DefaultTag]; ok || len(m.Versions) == 0 {
		return
	}
	if highest := highestVersion(m.Versions); highest != "" {
		m.DistTags[packdock.DefaultTag] = highest
	}
}

// highestVersion returns the greatest semver key of versions. Keys that do
// not parse as semver are ignored; if none parse, the empty string is
// returned.
func highestVersion(versions map[string]packdock.Version) string {
	var best *semver.Version
	var bestRaw string
	for raw := range versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
			bestRaw = raw
		}
	}
	return bestRaw
}
