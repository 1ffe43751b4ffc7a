// Package storage defines the output-tree file-system abstraction.
package storage

import "time"

// Provider is the interface for artifact file operations. All paths are
// relative to the provider root.
type Provider interface {
	// Write atomically writes content to path, creating parent directories.
	Write(path string, content []byte) error
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// ModTime returns the modification time of the file at path. A missing
	// file yields an error matching os.ErrNotExist.
	ModTime(path string) (time.Time, error)
	// Sub returns a Provider rooted at dir, creating it if needed. An empty
	// dir returns the receiver.
	Sub(dir string) (Provider, error)
	// Root returns the absolute root directory.
	Root() string
}
