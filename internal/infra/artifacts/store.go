// Package artifacts stores chore outputs on the local filesystem.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore writes and removes artifact files under a base directory.
type FileStore struct{ dir string }

// NewFileStore creates the base directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the absolute path an artifact with the given name will occupy.
func (s *FileStore) Path(name string) string { return filepath.Join(s.dir, name) }

// Write persists an artifact and returns its path.
func (s *FileStore) Write(_ context.Context, name string, data []byte) (string, error) {
	path := s.Path(name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact %s: %w", name, err)
	}
	return path, nil
}

// Remove deletes an artifact. A missing file is not an error; the chore may
// have been cancelled before its job produced anything.
func (s *FileStore) Remove(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove artifact %s: %w", path, err)
	}
	return nil
}
