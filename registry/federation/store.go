// Package federation composes the local store with the configured uplink
// clients: manifests are read through the uplinks and merged into the local
// cache, tarballs are written through on first download, and all mutating
// operations go to the local store only.
package federation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/packdock/packdock"
	"github.com/packdock/packdock/internal/dcontext"
	"github.com/packdock/packdock/registry/storage"
	"github.com/packdock/packdock/registry/uplink"
)

// AccessPolicy decides which uplinks may be consulted for a package.
type AccessPolicy interface {
	// UplinksFor returns the names of the uplinks eligible for name, in
	// no particular order. An empty slice marks the package private: no
	// upstream is ever consulted for it.
	UplinksFor(name string) []string
}

// allowAll proxies every package through every configured uplink.
type allowAll struct {
	names []string
}

func (p allowAll) UplinksFor(string) []string {
	return p.names
}

// Store is the federated package store.
type Store struct {
	local     *storage.Store
	uplinks   []*uplink.Uplink
	byName    map[string]*uplink.Uplink
	urls      map[string]*url.URL
	policy    AccessPolicy
	urlPrefix string
}

// Option configures a Store.
type Option func(*Store)

// WithPolicy installs the per-package proxy policy. Without it every
// package is proxied through every uplink.
func WithPolicy(p AccessPolicy) Option {
	return func(s *Store) {
		s.policy = p
	}
}

// WithURLPrefix sets the path prefix under which this registry is mounted;
// it is included in rewritten tarball URLs.
func WithURLPrefix(prefix string) Option {
	return func(s *Store) {
		s.urlPrefix = "/" + strings.Trim(prefix, "/")
		if s.urlPrefix == "/" {
			s.urlPrefix = ""
		}
	}
}

// NewStore builds a federated store over local and the given uplinks. The
// slice order is the merge order: when several uplinks carry the same
// version, the earliest one wins.
func NewStore(local *storage.Store, uplinks []*uplink.Uplink, options ...Option) *Store {
	s := &Store{
		local:   local,
		uplinks: uplinks,
		byName:  make(map[string]*uplink.Uplink, len(uplinks)),
		urls:    make(map[string]*url.URL, len(uplinks)),
	}
	names := make([]string, 0, len(uplinks))
	for _, u := range uplinks {
		s.byName[u.Name()] = u
		s.urls[u.Name()] = u.URL()
		names = append(names, u.Name())
	}
	s.policy = allowAll{names: names}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Local exposes the underlying local store for operations that bypass
// federation, such as token persistence and maintenance tooling.
func (s *Store) Local() *storage.Store {
	return s.local
}

// eligible returns the uplink clients allowed for name, preserving the
// configured declaration order.
func (s *Store) eligible(name string) []*uplink.Uplink {
	allowed := make(map[string]bool)
	for _, n := range s.policy.UplinksFor(name) {
		allowed[n] = true
	}
	clients := make([]*uplink.Uplink, 0, len(s.uplinks))
	for _, u := range s.uplinks {
		if allowed[u.Name()] {
			clients = append(clients, u)
		}
	}
	return clients
}

type fetchResult struct {
	remote *uplink.RemoteManifest
	err    error
}

// SyncUplinks refreshes the local cache for name from every eligible
// uplink. Fetches fan out concurrently and each result is merged as soon as
// it arrives, in declaration order, so an answer from an earlier uplink is
// not held back by a slower later one and an earlier uplink's copy of a
// version is never displaced. Uplink failures are collected rather than
// raised: they only matter when there is no cached manifest and no uplink
// succeeded. A nil manifest with a non-empty error slice means the package
// is unknown everywhere.
func (s *Store) SyncUplinks(ctx context.Context, name string) (*packdock.Manifest, []error) {
	cached, err := s.local.GetManifest(ctx, name)
	if err != nil {
		var unknown packdock.ErrPackageUnknown
		if !errors.As(err, &unknown) {
			return nil, []error{err}
		}
		cached = nil
	}

	clients := s.eligible(name)
	if len(clients) == 0 {
		return cached, nil
	}

	results := make([]chan fetchResult, len(clients))
	for i, u := range clients {
		results[i] = make(chan fetchResult, 1)
		go func(ch chan<- fetchResult, u *uplink.Uplink) {
			var opts uplink.FetchOptions
			if cached != nil {
				opts.Etag = cached.Uplinks[u.Name()].Etag
			}
			remote, err := u.FetchManifest(ctx, name, opts)
			ch <- fetchResult{remote: remote, err: err}
		}(results[i], u)
	}

	manifest := cached
	var errs []error
	for i, u := range clients {
		res := <-results[i]
		switch {
		case res.err == nil:
			merged, err := s.local.MergeRemote(ctx, name, res.remote.Manifest, s.urls)
			if err != nil {
				errs = append(errs, fmt.Errorf("uplink %s: merging: %w", u.Name(), err))
				continue
			}
			manifest = merged
		case errors.Is(res.err, uplink.ErrNotModified):
			// The cached content is still fresh; record the revalidation
			// so freshness accounting counts it as a fetch.
			if res.remote == nil {
				continue
			}
			touched := packdock.NewManifest(name)
			touched.Uplinks[u.Name()] = packdock.UplinkState{
				Etag:    res.remote.Etag,
				Fetched: res.remote.Fetched.UnixMilli(),
			}
			merged, err := s.local.MergeRemote(ctx, name, touched, s.urls)
			if err != nil {
				errs = append(errs, fmt.Errorf("uplink %s: recording revalidation: %w", u.Name(), err))
				continue
			}
			manifest = merged
		default:
			errs = append(errs, res.err)
		}
	}

	if len(errs) > 0 {
		dcontext.GetLoggerWithField(ctx, "package", name).Warnf("%d of %d uplinks failed during sync", len(errs), len(clients))
	}
	return manifest, errs
}

// RequestOptions describes the client-facing address of this registry for
// one request; it drives the rewrite of tarball URLs in served manifests.
type RequestOptions struct {
	Protocol string
	Host     string
}

// GetOptions tune a federated package read.
type GetOptions struct {
	// UplinksLook enables the read-through refresh. When false the read
	// is served purely from the local cache.
	UplinksLook bool

	Request RequestOptions
}

// GetPackage returns the merged manifest for name, refreshing from uplinks
// first when opts.UplinksLook is set. Dist URLs are returned as stored; use
// GetPackageManifest for the client-facing form.
func (s *Store) GetPackage(ctx context.Context, name string, opts GetOptions) (*packdock.Manifest, error) {
	requests.WithValues("manifest").Inc(1)
	if !opts.UplinksLook {
		hits.WithValues("manifest").Inc(1)
		return s.local.GetManifest(ctx, name)
	}
	misses.WithValues("manifest").Inc(1)

	manifest, errs := s.SyncUplinks(ctx, name)
	if manifest != nil {
		return manifest, nil
	}
	for _, err := range errs {
		var unknown packdock.ErrPackageUnknown
		if !errors.As(err, &unknown) {
			return nil, err
		}
	}
	return nil, packdock.ErrPackageUnknown{Name: name}
}

// GetPackageManifest returns the manifest in the form served to clients:
// every version's dist URL points back at this registry, derived from the
// request's protocol and host plus the configured URL prefix.
func (s *Store) GetPackageManifest(ctx context.Context, name string, opts GetOptions) (*packdock.Manifest, error) {
	manifest, err := s.GetPackage(ctx, name, opts)
	if err != nil {
		return nil, err
	}
	s.rewriteDistURLs(manifest, opts.Request)
	// Cache bookkeeping stays server-side. Clients that round-trip the
	// manifest (npm deprecate does) must not echo it back.
	manifest.Attachments = nil
	manifest.DistFiles = nil
	manifest.Uplinks = nil
	return manifest, nil
}

// GetPackageByVersion resolves version first as a literal version, then as
// a dist-tag. The returned version carries a rewritten dist URL.
func (s *Store) GetPackageByVersion(ctx context.Context, name, version string, opts GetOptions) (*packdock.Version, error) {
	manifest, err := s.GetPackageManifest(ctx, name, opts)
	if err != nil {
		return nil, err
	}
	if ver, ok := manifest.Versions[version]; ok {
		return &ver, nil
	}
	if resolved, ok := manifest.DistTags[version]; ok {
		if ver, ok := manifest.Versions[resolved]; ok {
			return &ver, nil
		}
	}
	return nil, packdock.ErrVersionUnknown{Name: name, Version: version}
}

// rewriteDistURLs points every version's tarball URL at this registry.
// Versions whose stored URL is unparseable keep it as-is.
func (s *Store) rewriteDistURLs(m *packdock.Manifest, req RequestOptions) {
	if req.Host == "" {
		return
	}
	proto := req.Protocol
	if proto == "" {
		proto = "http"
	}
	for version, ver := range m.Versions {
		filename := distFilename(ver.Dist.Tarball)
		if filename == "" {
			continue
		}
		ver.Dist.Tarball = fmt.Sprintf("%s://%s%s/%s/-/%s", proto, req.Host, s.urlPrefix, m.Name, filename)
		m.Versions[version] = ver
	}
}

// distFilename extracts the tarball filename from a dist URL.
func distFilename(tarball string) string {
	if tarball == "" {
		return ""
	}
	parsed, err := url.Parse(tarball)
	if err != nil {
		return ""
	}
	path := parsed.Path
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		path = path[i+1:]
	}
	return path
}

// distHost extracts the host of a dist URL.
func distHost(tarball string) string {
	parsed, err := url.Parse(tarball)
	if err != nil {
		return ""
	}
	return parsed.Host
}

// AddVersion publishes a version into the local store. Uplinks are
// read-only and never see publishes.
func (s *Store) AddVersion(ctx context.Context, name, version string, ver packdock.Version, tag string) error {
	return s.local.AddVersion(ctx, name, version, ver, tag)
}

// ChangePackage applies an npm-style package mutation (unpublish version,
// deprecate, owner changes) against the local store.
func (s *Store) ChangePackage(ctx context.Context, name string, incoming *packdock.Manifest, rev string) error {
	return s.local.ChangePackage(ctx, name, incoming, rev)
}

// MergeTags applies dist-tag changes against the local store.
func (s *Store) MergeTags(ctx context.Context, name string, tags map[string]string) error {
	return s.local.MergeTags(ctx, name, tags)
}

// RemoveTarball removes one attachment from the local store.
func (s *Store) RemoveTarball(ctx context.Context, name, filename, rev string) error {
	return s.local.RemoveTarball(ctx, name, filename, rev)
}

// RemovePackage removes the package and its tarballs from the local store.
func (s *Store) RemovePackage(ctx context.Context, name string) error {
	return s.local.RemovePackage(ctx, name)
}
