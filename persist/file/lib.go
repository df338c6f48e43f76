package file

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"context"

	"github.com/jrhy/manifest"
)

// Persist implements the manifest.Persist interface for storing and
// loading nodes as files.
type Persist struct {
	basepath string
}

// Load loads the bytes persisted in the named file.
func (p Persist) Load(ctx context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(p.basepath, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, manifest.ErrNotFound)
	}
	return data, err
}

// Store persists the given bytes in a file of the given name, if it
// doesn't exist already.
func (p Persist) Store(ctx context.Context, name string, bytes []byte) error {
	path := filepath.Join(p.basepath, name)
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return os.WriteFile(path, bytes, 0o644)
	}
	return nil
}

// NewPersistForPath returns a Persist that loads and stores nodes as
// files in the directory at the given path.
//
//	p := NewPersistForPath("/var/db/trees")
//	blob, err := p.Load(ctx, "0WyW7bOYWHejStFVPZqvBFjJrKGPDX32XZkpAb9Q5Ms")
func NewPersistForPath(path string) Persist {
	return Persist{path}
}
