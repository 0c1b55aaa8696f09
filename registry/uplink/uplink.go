// Package uplink implements the client side of the read-through federation
// protocol: conditional manifest fetches and tarball streaming against one
// configured upstream registry, with per-uplink failure isolation.
package uplink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/packdock/packdock"
	"github.com/packdock/packdock/internal/dcontext"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxFails   = 2
	defaultFailWindow = 5 * time.Minute
)

// ErrNotModified is returned by FetchManifest when the upstream answered
// 304 for the presented etag; the cached copy is still fresh. The returned
// RemoteManifest carries no manifest, only the revalidated etag and fetch
// time for the caller's freshness bookkeeping.
var ErrNotModified = errors.New("upstream manifest not modified")

// ErrOffline is returned while the uplink's circuit breaker is open:
// recent consecutive failures exceeded the configured threshold and the
// cool-down has not yet elapsed.
var ErrOffline = packdock.ErrUplinkOffline

// Config is the per-uplink configuration recognized by the core.
type Config struct {
	URL string `yaml:"url"`

	// Cache enables write-through caching of tarballs fetched from this
	// uplink.
	Cache bool `yaml:"cache"`

	Timeout    time.Duration `yaml:"timeout"`
	MaxFails   int           `yaml:"max_fails"`
	FailWindow time.Duration `yaml:"fail_window"`

	// MaxRetries bounds transport-level retries per request.
	MaxRetries int `yaml:"max_retries"`
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxFails == 0 {
		c.MaxFails = defaultMaxFails
	}
	if c.FailWindow == 0 {
		c.FailWindow = defaultFailWindow
	}
	return c
}

// Uplink is a client for one configured upstream registry.
type Uplink struct {
	name    string
	url     *url.URL
	config  Config
	client  *retryablehttp.Client
	breaker *breaker
}

// New builds an Uplink named name from its configuration.
func New(name string, config Config) (*Uplink, error) {
	return newWithClock(name, config, clock.New())
}

func newWithClock(name string, config Config, clk clock.Clock) (*Uplink, error) {
	config = config.withDefaults()
	base, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("uplink %s: invalid url: %w", name, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("uplink %s: unsupported url scheme %q", name, base.Scheme)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = config.MaxRetries
	client.HTTPClient.Timeout = config.Timeout
	client.Logger = nil

	return &Uplink{
		name:    name,
		url:     base,
		config:  config,
		client:  client,
		breaker: newBreaker(name, config.MaxFails, config.FailWindow, clk),
	}, nil
}

// Name returns the configured uplink name.
func (u *Uplink) Name() string {
	return u.name
}

// URL returns the uplink's configured base URL.
func (u *Uplink) URL() *url.URL {
	return u.url
}

// Cache reports whether tarballs fetched through this uplink should be
// cached locally.
func (u *Uplink) Cache() bool {
	return u.config.Cache
}

// RemoteManifest is a manifest fetched from the uplink together with its
// cache-validation state.
type RemoteManifest struct {
	Manifest *packdock.Manifest
	Etag     string
	Fetched  time.Time
}

// FetchOptions tune a single manifest fetch.
type FetchOptions struct {
	// Etag, when set, makes the fetch conditional via If-None-Match.
	Etag string
}

// FetchManifest performs a (conditional) GET for the package manifest.
// Every returned version is annotated with this uplink's name so the merge
// layer can rewrite dist URLs against the configured upstream address.
func (u *Uplink) FetchManifest(ctx context.Context, name string, opts FetchOptions) (*RemoteManifest, error) {
	if !u.breaker.allow() {
		return nil, ErrOffline
	}

	ctx, cancel := context.WithTimeout(ctx, u.config.Timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.manifestURL(name), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if opts.Etag != "" {
		req.Header.Set("If-None-Match", opts.Etag)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		u.breaker.fail()
		requestFailures.WithValues(u.name).Inc(1)
		return nil, fmt.Errorf("uplink %s: %w", u.name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		u.breaker.success()
		etag := resp.Header.Get("Etag")
		if etag == "" {
			etag = opts.Etag
		}
		return &RemoteManifest{Etag: etag, Fetched: time.Now()}, ErrNotModified
	case resp.StatusCode == http.StatusNotFound:
		// A 404 is an answer, not an outage.
		u.breaker.success()
		return nil, packdock.ErrPackageUnknown{Name: name}
	case resp.StatusCode >= 500:
		u.breaker.fail()
		requestFailures.WithValues(u.name).Inc(1)
		return nil, fmt.Errorf("uplink %s: unexpected status %d", u.name, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		u.breaker.success()
		return nil, fmt.Errorf("uplink %s: unexpected status %d", u.name, resp.StatusCode)
	}

	manifest := &packdock.Manifest{}
	if err := json.NewDecoder(resp.Body).Decode(manifest); err != nil {
		u.breaker.fail()
		return nil, fmt.Errorf("uplink %s: decoding manifest: %w", u.name, err)
	}
	u.breaker.success()

	manifest.Normalize()
	for version, ver := range manifest.Versions {
		ver.Uplink = u.name
		manifest.Versions[version] = ver
	}

	fetched := time.Now()
	manifest.Uplinks = map[string]packdock.UplinkState{
		u.name: {Etag: resp.Header.Get("Etag"), Fetched: fetched.UnixMilli()},
	}

	dcontext.GetLoggerWithFields(ctx, map[string]any{
		"uplink":  u.name,
		"package": name,
	}).Debug("manifest fetched from uplink")

	return &RemoteManifest{
		Manifest: manifest,
		Etag:     resp.Header.Get("Etag"),
		Fetched:  fetched,
	}, nil
}

func (u *Uplink) manifestURL(name string) string {
	escaped := url.PathEscape(name)
	// Scoped names keep their slash percent-encoded except for the "@",
	// matching what npm clients send.
	escaped = strings.ReplaceAll(escaped, "%40", "@")
	return strings.TrimSuffix(u.url.String(), "/") + "/" + escaped
}
