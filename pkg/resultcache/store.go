package resultcache

import (
	"fmt"
	"os"
	"path/filepath"
)

// Store is the durable key-value backing for cross-session persistence.
type Store interface {
	Save(data []byte) error
	Load() ([]byte, error)
}

// FileStore persists the serialized cache to a single JSON file,
// written atomically (temp file then rename).
type FileStore struct {
	path string
}

// NewFileStore creates a file store at path, creating parent
// directories as needed.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Save writes data atomically.
func (s *FileStore) Save(data []byte) error {
	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

// Load reads the persisted document; a missing file yields nil data.
func (s *FileStore) Load() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}
