package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FileMediaStore writes voice-note blobs into the media directory.
type FileMediaStore struct {
	dir string
}

// NewFileMediaStore creates the media directory if needed.
func NewFileMediaStore(dir string) (*FileMediaStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &FileMediaStore{dir: dir}, nil
}

// Save stores one blob under a fresh name and returns its path.
func (s *FileMediaStore) Save(data []byte) (string, error) {
	path := filepath.Join(s.dir, "vn_"+uuid.NewString()+".raw")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("save media blob: %w", err)
	}
	return path, nil
}
