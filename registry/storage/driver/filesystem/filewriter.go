package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	uuid "github.com/satori/go.uuid"

	storagedriver "github.com/packdock/packdock/registry/storage/driver"
)

// fileWriter stages tarball bytes in a hidden temp file beside the
// destination and renames it into place on Commit. A reader racing a writer
// therefore sees either the old bytes or the full new bytes.
type fileWriter struct {
	ctx      context.Context
	file     *os.File
	bw       *bufio.Writer
	path     string
	tempPath string
	size     int64

	closed    bool
	committed bool
	cancelled bool
}

var _ storagedriver.FileWriter = &fileWriter{}

func newFileWriter(ctx context.Context, path string) (*fileWriter, error) {
	tempPath := filepath.Join(filepath.Dir(path), ".tmp-"+uuid.NewV4().String())
	file, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, storagedriver.Error{DriverName: driverName, Enclosed: err}
	}
	return &fileWriter{
		ctx:      ctx,
		file:     file,
		bw:       bufio.NewWriter(file),
		path:     path,
		tempPath: tempPath,
	}, nil
}

func (fw *fileWriter) Write(p []byte) (int, error) {
	switch {
	case fw.closed:
		return 0, fmt.Errorf("already closed")
	case fw.committed:
		return 0, fmt.Errorf("already committed")
	case fw.cancelled:
		return 0, fmt.Errorf("already cancelled")
	}
	if err := fw.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := fw.bw.Write(p)
	fw.size += int64(n)
	return n, err
}

func (fw *fileWriter) Size() int64 {
	return fw.size
}

// Close releases the writer. An uncommitted writer is treated as abandoned
// and its staged bytes are discarded, so a caller that disconnects mid-write
// leaves no partial state behind.
func (fw *fileWriter) Close() error {
	if fw.closed {
		return fmt.Errorf("already closed")
	}
	fw.closed = true

	if fw.committed || fw.cancelled {
		return nil
	}
	fw.bw.Flush()
	fw.file.Close()
	os.Remove(fw.tempPath)
	return nil
}

// Cancel discards the staged bytes, leaving any previously committed file
// intact.
func (fw *fileWriter) Cancel(_ context.Context) error {
	if fw.committed {
		return fmt.Errorf("already committed")
	}
	if fw.cancelled || fw.closed {
		return nil
	}
	fw.cancelled = true
	fw.file.Close()
	if err := os.Remove(fw.tempPath); err != nil && !os.IsNotExist(err) {
		return storagedriver.Error{DriverName: driverName, Enclosed: err}
	}
	return nil
}

// Commit flushes and renames the staged file over the destination.
func (fw *fileWriter) Commit(_ context.Context) error {
	switch {
	case fw.closed:
		return fmt.Errorf("already closed")
	case fw.committed:
		return fmt.Errorf("already committed")
	case fw.cancelled:
		return fmt.Errorf("already cancelled")
	}
	if err := fw.ctx.Err(); err != nil {
		fw.Cancel(context.Background())
		return err
	}
	if err := fw.bw.Flush(); err != nil {
		return storagedriver.Error{DriverName: driverName, Enclosed: err}
	}
	if err := fw.file.Sync(); err != nil {
		return storagedriver.Error{DriverName: driverName, Enclosed: err}
	}
	if err := fw.file.Close(); err != nil {
		return storagedriver.Error{DriverName: driverName, Enclosed: err}
	}
	if err := os.Rename(fw.tempPath, fw.path); err != nil {
		os.Remove(fw.tempPath)
		return storagedriver.Error{DriverName: driverName, Enclosed: err}
	}
	fw.committed = true
	return nil
}
