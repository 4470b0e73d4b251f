package transfer

import (
	"io"
	"os"
	"path/filepath"

	"ftransfer/packet"
)

// Store resolves header names to writable sinks.
type Store interface {
	// Create opens the sink for name and returns it along with the path it
	// was bound to.
	Create(name string) (io.WriteCloser, string, error)
	Remove(path string) error
}

// DirStore stores every upload directly under a single directory.
type DirStore string

// Create opens d/name for writing, creating d if needed and truncating an
// existing file.
func (d DirStore) Create(name string) (io.WriteCloser, string, error) {
	if err := packet.ValidName(name); err != nil {
		return nil, "", err
	}
	dir := string(d)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", NewFilesystemError("mkdir", dir, err)
	}
	path := filepath.Join(dir, name)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, "", NewFilesystemError("create", path, err)
	}
	return file, path, nil
}

// Remove deletes a file previously returned by Create.
func (d DirStore) Remove(path string) error {
	if err := os.Remove(path); err != nil {
		return NewFilesystemError("remove", path, err)
	}
	return nil
}
