// Package local implements document storage on the local filesystem: the
// FileSystem used to persist downloads and a BlobStore that mirrors them into
// a second directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Config selects the mirror directory, storage.mirror_dir in the config file.
type Config struct {
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore copies each newly stored fund document to BaseDir under its key,
// which is the document path relative to the storage root, for example
// FundDatabase/Hansainvest/DE000A0RHHC8/jb_2023.pdf. It implements
// crawler.BlobStore.
type BlobStore struct {
	baseDir string
	fs      FileSystem
}

// New prepares the mirror directory and fails when it cannot be written.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, errors.New("mirror directory is required")
	}
	baseDir := filepath.Clean(cfg.BaseDir)
	if err := ensureWritableDir(baseDir); err != nil {
		return nil, err
	}
	return &BlobStore{baseDir: baseDir}, nil
}

func ensureWritableDir(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create mirror directory: %w", err)
		}
	case err != nil:
		return fmt.Errorf("stat mirror directory: %w", err)
	case !info.IsDir():
		return fmt.Errorf("mirror path %s is not a directory", dir)
	}

	marker, err := os.CreateTemp(dir, ".mirror-check-*")
	if err != nil {
		return fmt.Errorf("mirror directory is not writable: %w", err)
	}
	name := marker.Name()
	_ = marker.Close()
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("remove mirror check file: %w", err)
	}
	return nil
}

// resolve maps a document key to a file below baseDir. Keys that escape the
// mirror directory are rejected.
func (s *BlobStore) resolve(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("document key is required")
	}
	full := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("document key %q escapes the mirror directory", key)
	}
	return full, nil
}

// PutObject writes the document under key and returns its file:// URI. The
// content type is not kept on disk.
func (s *BlobStore) PutObject(ctx context.Context, key string, _ string, data io.Reader) (string, error) {
	full, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read document %s: %w", key, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.fs.EnsureParentDirs(full); err != nil {
		return "", err
	}
	if err := s.fs.WriteFile(full, body); err != nil {
		return "", fmt.Errorf("mirror document %s: %w", key, err)
	}
	return "file://" + filepath.ToSlash(full), nil
}
