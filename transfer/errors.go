package transfer

import (
	"errors"
	"fmt"
	"io/fs"
)

type transferError string

func (t transferError) Error() string {
	return string(t)
}

const (
	// ErrWouldBlock is returned by non-blocking sources and destinations when
	// no data or buffer space is available. It is a scheduling signal, not a
	// failure.
	ErrWouldBlock = transferError("operation would block")

	// ErrTruncated means the peer or the source ended before the declared
	// file size was exchanged.
	ErrTruncated = transferError("truncated transfer")

	// ErrStopped means the transfer was abandoned because its context was
	// canceled between chunks.
	ErrStopped = transferError("transfer stopped")
)

// TransportError wraps a socket failure other than would-block.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// FilesystemError wraps a failure to stat, open, create or write a file.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

// NewFilesystemError records op and path once, unwrapping an *fs.PathError
// that would repeat them.
func NewFilesystemError(op, path string, err error) *FilesystemError {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		err = pathErr.Err
	}
	return &FilesystemError{Op: op, Path: path, Err: err}
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}
