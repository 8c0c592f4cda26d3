package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps generated report files on local disk, confined to a base
// directory. Relative paths that try to escape the base are rejected.
type FileStore struct {
	baseDir string
}

// NewFileStore resolves and creates the base directory.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		baseDir = "./reports"
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve report directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create report directory: %w", err)
	}
	return &FileStore{baseDir: abs}, nil
}

// Save writes data under the given relative path, creating intermediate
// directories as needed.
func (s *FileStore) Save(relPath string, data []byte) error {
	path, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("prepare report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report file: %w", err)
	}
	return nil
}

// Delete removes a stored file. A missing file is not an error.
func (s *FileStore) Delete(relPath string) error {
	path, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete report file: %w", err)
	}
	return nil
}

// Path returns the absolute location of a stored file.
func (s *FileStore) Path(relPath string) (string, error) {
	return s.resolve(relPath)
}

func (s *FileStore) resolve(relPath string) (string, error) {
	path := filepath.Join(s.baseDir, filepath.Clean("/"+relPath))
	if path != s.baseDir && !strings.HasPrefix(path, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes report directory: %s", relPath)
	}
	return path, nil
}
