package packdock

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned when an optional backend capability (search,
// token persistence) is not implemented by the configured driver.
var ErrUnsupported = errors.New("operation unsupported")

// ErrUplinkOffline is returned for requests against an uplink whose circuit
// breaker is open.
var ErrUplinkOffline = errors.New("uplink is offline")

// ErrPackageUnknown is returned when a package is not present locally and
// could not be obtained from any uplink.
type ErrPackageUnknown struct {
	Name string
}

func (err ErrPackageUnknown) Error() string {
	return fmt.Sprintf("unknown package=%s", err.Name)
}

// ErrVersionUnknown is returned when a version or dist-tag cannot be
// resolved within a package.
type ErrVersionUnknown struct {
	Name    string
	Version string
}

func (err ErrVersionUnknown) Error() string {
	return fmt.Sprintf("unknown version=%s for package=%s", err.Version, err.Name)
}

// ErrVersionExists is returned on an attempt to publish a version that has
// already been published.
type ErrVersionExists struct {
	Name    string
	Version string
}

func (err ErrVersionExists) Error() string {
	return fmt.Sprintf("version=%s already exists for package=%s", err.Version, err.Name)
}

// ErrTagUnknown is returned when a dist-tag operation references a tag the
// package does not carry.
type ErrTagUnknown struct {
	Name string
	Tag  string
}

func (err ErrTagUnknown) Error() string {
	return fmt.Sprintf("unknown tag=%s for package=%s", err.Tag, err.Name)
}

// ErrTarballUnknown is returned when a tarball is not present locally and no
// upstream origin is recorded for it.
type ErrTarballUnknown struct {
	Name     string
	Filename string
}

func (err ErrTarballUnknown) Error() string {
	return fmt.Sprintf("unknown tarball=%s for package=%s", err.Filename, err.Name)
}

// ErrRevisionMismatch is returned when an optimistic-concurrency revision
// check fails.
type ErrRevisionMismatch struct {
	Name string
	Rev  string
}

func (err ErrRevisionMismatch) Error() string {
	return fmt.Sprintf("revision mismatch rev=%s for package=%s", err.Rev, err.Name)
}

// ErrShasumMismatch is returned when an uploaded tarball's checksum
// disagrees with the checksum already recorded for the same filename.
type ErrShasumMismatch struct {
	Filename string
	Expected string
	Actual   string
}

func (err ErrShasumMismatch) Error() string {
	return fmt.Sprintf("shasum mismatch for %s: expected %s, got %s", err.Filename, err.Expected, err.Actual)
}

// ErrManifestInvalid is returned when a caller-supplied or persisted
// manifest is structurally unusable.
type ErrManifestInvalid struct {
	Name   string
	Reason string
}

func (err ErrManifestInvalid) Error() string {
	return fmt.Sprintf("invalid manifest for package=%s: %s", err.Name, err.Reason)
}

// ErrNameInvalid is returned when a package name fails validation.
type ErrNameInvalid struct {
	Name string
}

func (err ErrNameInvalid) Error() string {
	return fmt.Sprintf("invalid package name %q", err.Name)
}

// ErrContentMismatch is returned when the number of bytes streamed from an
// uplink disagrees with the Content-Length it advertised.
type ErrContentMismatch struct {
	URL      string
	Expected int64
	Actual   int64
}

func (err ErrContentMismatch) Error() string {
	return fmt.Sprintf("content length mismatch for %s: expected %d bytes, transferred %d", err.URL, err.Expected, err.Actual)
}
