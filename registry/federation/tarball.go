package federation

import (
	"context"
	"errors"
	"io"

	"github.com/packdock/packdock"
	"github.com/packdock/packdock/internal/dcontext"
	storagedriver "github.com/packdock/packdock/registry/storage/driver"
	"github.com/packdock/packdock/registry/uplink"
)

// GetTarball streams a package tarball. Locally cached bytes are served
// directly; otherwise the recorded upstream origin is consulted and, when
// the owning uplink has caching enabled, the bytes are written through to
// local storage while they stream to the caller. A failed or cancelled
// download leaves any previously cached bytes intact.
func (s *Store) GetTarball(ctx context.Context, name, filename string) (io.ReadCloser, error) {
	requests.WithValues("tarball").Inc(1)

	rc, err := s.local.ReadTarball(ctx, name, filename)
	if err == nil {
		hits.WithValues("tarball").Inc(1)
		return rc, nil
	}
	if !isNotFound(err) {
		return nil, err
	}
	misses.WithValues("tarball").Inc(1)

	df, err := s.lookupDistFile(ctx, name, filename)
	if err != nil {
		return nil, err
	}

	origin := s.originUplink(df)
	if origin == nil {
		return nil, packdock.ErrTarballUnknown{Name: name, Filename: filename}
	}

	remote, err := origin.FetchTarball(ctx, df.URL, uplink.TarballOptions{})
	if err != nil {
		return nil, err
	}
	if !origin.Cache() {
		return remote, nil
	}

	fw, err := s.local.WriteTarball(ctx, name, filename)
	if err != nil {
		// Serving beats caching.
		dcontext.GetLoggerWithField(ctx, "package", name).Warnf("tarball write-through unavailable: %v", err)
		return remote, nil
	}
	return &cachingReader{ctx: ctx, body: remote, writer: fw, name: name}, nil
}

// lookupDistFile finds the recorded upstream origin for filename, forcing
// an uplink sync when the cached manifest does not know it yet.
func (s *Store) lookupDistFile(ctx context.Context, name, filename string) (packdock.DistFile, error) {
	manifest, err := s.local.GetManifest(ctx, name)
	if err != nil && !isNotFound(err) {
		return packdock.DistFile{}, err
	}
	if manifest != nil {
		if df, ok := manifest.DistFiles[filename]; ok {
			return df, nil
		}
	}

	manifest, _ = s.SyncUplinks(ctx, name)
	if manifest == nil {
		return packdock.DistFile{}, packdock.ErrPackageUnknown{Name: name}
	}
	if df, ok := manifest.DistFiles[filename]; ok {
		return df, nil
	}
	return packdock.DistFile{}, packdock.ErrTarballUnknown{Name: name, Filename: filename}
}

// originUplink resolves the uplink recorded in a dist-file pointer,
// falling back to any uplink serving the same host.
func (s *Store) originUplink(df packdock.DistFile) *uplink.Uplink {
	if u, ok := s.byName[df.Registry]; ok {
		return u
	}
	host := distHost(df.URL)
	for _, u := range s.uplinks {
		if u.URL().Host == host {
			return u
		}
	}
	return nil
}

// AddTarball opens a writable stream for a tarball being published. The
// write becomes visible atomically on Commit; publishing the matching
// version afterwards is the caller's responsibility.
func (s *Store) AddTarball(ctx context.Context, name, filename string) (storagedriver.FileWriter, error) {
	return s.local.WriteTarball(ctx, name, filename)
}

func isNotFound(err error) bool {
	var pkgUnknown packdock.ErrPackageUnknown
	var tarUnknown packdock.ErrTarballUnknown
	return errors.As(err, &pkgUnknown) || errors.As(err, &tarUnknown)
}

// cachingReader copies the upstream body into a staged local write as the
// caller consumes it. The staged write is committed only after the body
// ends cleanly; any error or early close cancels it, so a broken download
// never replaces cached bytes.
type cachingReader struct {
	ctx    context.Context
	body   io.ReadCloser
	writer storagedriver.FileWriter
	name   string
	done   bool
}

func (r *cachingReader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	if n > 0 && !r.done {
		if _, werr := r.writer.Write(p[:n]); werr != nil {
			r.abandon(werr)
		} else {
			pulledBytes.WithValues("tarball").Inc(float64(n))
		}
	}
	switch {
	case err == io.EOF && !r.done:
		if cerr := r.writer.Commit(r.ctx); cerr != nil {
			r.abandon(cerr)
		} else {
			r.writer.Close()
			r.done = true
			dcontext.GetLoggerWithField(r.ctx, "package", r.name).Debug("tarball cached from uplink")
		}
	case err != nil && err != io.EOF && !r.done:
		r.abandon(err)
	}
	return n, err
}

func (r *cachingReader) abandon(cause error) {
	dcontext.GetLoggerWithField(r.ctx, "package", r.name).Warnf("abandoning tarball cache write: %v", cause)
	r.writer.Cancel(r.ctx)
	r.writer.Close()
	r.done = true
}

func (r *cachingReader) Close() error {
	if !r.done {
		r.writer.Cancel(r.ctx)
		r.writer.Close()
		r.done = true
	}
	return r.body.Close()
}
