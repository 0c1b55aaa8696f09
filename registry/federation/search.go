package federation

import (
	"context"
	"fmt"

	"github.com/packdock/packdock"
	storagedriver "github.com/packdock/packdock/registry/storage/driver"
)

// SearchLinks carries the per-package link set served in search results.
type SearchLinks struct {
	NPM string `json:"npm,omitempty"`
}

// SearchPackageBody is the projection of a package served in search
// results, shaped like the public registry's search documents.
type SearchPackageBody struct {
	Name        string           `json:"name"`
	Scope       string           `json:"scope,omitempty"`
	Description string           `json:"description,omitempty"`
	Version     string           `json:"version"`
	Keywords    []string         `json:"keywords,omitempty"`
	Date        string           `json:"date,omitempty"`
	Author      *packdock.Person `json:"author,omitempty"`
	Maintainers packdock.People  `json:"maintainers,omitempty"`
	Links       SearchLinks      `json:"links"`
}

// Search streams every local package matching query through fn, enriching
// each hit with its manifest. Packages without versions are skipped. The
// callback is synchronous, so results are produced no faster than the
// consumer takes them; a callback error stops the scan and is returned.
// Search fails with packdock.ErrUnsupported when the configured storage
// driver has no search capability.
func (s *Store) Search(ctx context.Context, query string, fn func(SearchPackageBody) error) error {
	searcher, ok := s.local.Driver().(storagedriver.Searcher)
	if !ok {
		return fmt.Errorf("search: %w", packdock.ErrUnsupported)
	}

	return searcher.Search(ctx, query, func(item storagedriver.SearchItem) error {
		manifest, err := s.local.GetManifest(ctx, item.Name)
		if err != nil {
			// The index can be ahead of the manifests it points at.
			return nil
		}
		if len(manifest.Versions) == 0 {
			return nil
		}

		latest := manifest.DistTags[packdock.DefaultTag]
		ver, ok := manifest.Versions[latest]
		if !ok {
			return nil
		}

		scope, _ := packdock.SplitScope(manifest.Name)
		body := SearchPackageBody{
			Name:        manifest.Name,
			Scope:       scope,
			Description: ver.Description,
			Version:     latest,
			Keywords:    ver.Keywords,
			Date:        manifest.Time[packdock.TimeModified],
			Author:      ver.Author,
			Maintainers: ver.Maintainers,
		}
		return fn(body)
	})
}
