package file

import (
	"context"
	"os"
	"path/filepath"
)

// Persist implements the grove.Persist interface for storing and
// loading objects as files.
type Persist struct {
	basepath string
}

// Load loads the bytes persisted in the named file.
func (p Persist) Load(ctx context.Context, name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(p.basepath, name))
}

// Store persists the given bytes in a file of the given name, if it
// doesn't exist already.
func (p Persist) Store(ctx context.Context, name string, bytes []byte) error {
	path := filepath.Join(p.basepath, name)
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return os.WriteFile(path, bytes, 0o644)
	}
	return err
}

// Has indicates whether a file of the given name exists.
func (p Persist) Has(ctx context.Context, name string) (bool, error) {
	_, err := os.Stat(filepath.Join(p.basepath, name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// NewPersistForPath returns a Persist that loads and stores objects
// as files in the directory at the given path.
//
//	p := NewPersistForPath("/var/db/users")
//	blob, err := p.Load(ctx, "98ea6e4f216f2fb4b69fff9b3a44842c38686ca685f3f55dc48c5d3fb1107be4")
func NewPersistForPath(path string) Persist {
	return Persist{path}
}
