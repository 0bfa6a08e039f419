// Package storage defines the file store holding mirrored assets.
package storage

import (
	"io"
	"time"
)

// FileInfo describes one stored file.
type FileInfo struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider is the interface for asset file operations. Paths are slash
// separated and relative to the store root.
type Provider interface {
	// List returns metadata for every file under dir.
	List(dir string) ([]FileInfo, error)
	// Stat returns the size of the file at path; ok is false when it is missing.
	Stat(path string) (size int64, ok bool, err error)
	// Open opens the file at path for reading.
	Open(path string) (io.ReadCloser, error)
	// Create atomically stores r at path and fails with fs.ErrExist when the
	// path is taken. It returns the number of bytes written.
	Create(path string, r io.Reader) (int64, error)
	// Versions returns the names in the directory of canonical that start
	// with the base name of canonical followed by a dot.
	Versions(canonical string) ([]string, error)
	// RemoveAll deletes dir and everything below it.
	RemoveAll(dir string) error
	// Root returns the absolute directory served as the public file tree.
	Root() string
}
