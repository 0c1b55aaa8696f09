package uplink

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/packdock/packdock"
)

// TarballOptions tune a single tarball fetch.
type TarballOptions struct {
	// OnProgress, when set, is invoked with the cumulative byte count as
	// the body is consumed.
	OnProgress func(received int64)
}

// FetchTarball streams a tarball from the given URL. The returned reader
// reports packdock.ErrContentMismatch at EOF when fewer bytes arrived than
// the upstream's Content-Length announced. The stream stays live after
// FetchTarball returns, so the caller owns closing it; cancelling ctx
// aborts the transfer.
func (u *Uplink) FetchTarball(ctx context.Context, tarballURL string, opts TarballOptions) (io.ReadCloser, error) {
	if !u.breaker.allow() {
		return nil, ErrOffline
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tarballURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/octet-stream")

	// Reuse the pooled transport but not the inner client: its overall
	// timeout would cut off large downloads mid-stream. Cancellation is
	// the caller's ctx.
	client := &http.Client{Transport: u.client.HTTPClient.Transport}
	resp, err := client.Do(req)
	if err != nil {
		u.breaker.fail()
		requestFailures.WithValues(u.name).Inc(1)
		return nil, fmt.Errorf("uplink %s: %w", u.name, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		u.breaker.success()
		return nil, packdock.ErrTarballUnknown{Filename: tarballURL}
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			u.breaker.fail()
			requestFailures.WithValues(u.name).Inc(1)
		}
		return nil, fmt.Errorf("uplink %s: unexpected status %d", u.name, resp.StatusCode)
	}
	u.breaker.success()

	return &tarballReader{
		body:       resp.Body,
		expected:   resp.ContentLength,
		url:        tarballURL,
		uplink:     u.name,
		onProgress: opts.OnProgress,
	}, nil
}

// tarballReader counts bytes as they pass through and verifies the total
// against the announced Content-Length once the stream ends.
type tarballReader struct {
	body       io.ReadCloser
	expected   int64
	received   int64
	url        string
	uplink     string
	onProgress func(int64)
}

func (r *tarballReader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	if n > 0 {
		r.received += int64(n)
		fetchedBytes.WithValues(r.uplink).Inc(float64(n))
		if r.onProgress != nil {
			r.onProgress(r.received)
		}
	}
	if err == io.EOF && r.expected >= 0 && r.received != r.expected {
		return n, packdock.ErrContentMismatch{
			URL:      r.url,
			Expected: r.expected,
			Actual:   r.received,
		}
	}
	return n, err
}

func (r *tarballReader) Close() error {
	return r.body.Close()
}
