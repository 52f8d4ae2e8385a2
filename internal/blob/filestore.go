// Package blob keeps uploaded scans on local disk.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mri-screening-server/internal/domain"
)

// FileStore implements domain.BlobStore under a single directory. Files are
// written to a temporary name, synced and renamed so readers never see a
// partial image.
type FileStore struct {
	dir string
}

// New creates the upload directory if needed.
func New(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create upload directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Save writes r and returns the storage key.
func (fs *FileStore) Save(ctx context.Context, r io.Reader, originalName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key := storageKey(originalName)
	fullPath := filepath.Join(fs.dir, key)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("%w: creating temporary file: %v", domain.ErrStorageUnavailable, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: writing image: %v", domain.ErrStorageUnavailable, err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: fsync: %v", domain.ErrStorageUnavailable, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: closing file: %v", domain.ErrStorageUnavailable, err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: renaming file: %v", domain.ErrStorageUnavailable, err)
	}

	return key, nil
}

// Open returns the stored bytes. A missing file is ErrNotFound.
func (fs *FileStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := fs.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("image file %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%w: opening %s: %v", domain.ErrStorageUnavailable, key, err)
	}
	return f, nil
}

// Exists reports whether a file is stored under key.
func (fs *FileStore) Exists(_ context.Context, key string) (bool, error) {
	path, err := fs.resolve(key)
	if err != nil {
		return false, nil
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("%w: stat %s: %v", domain.ErrStorageUnavailable, key, err)
}

// Delete removes the file; deleting a missing key is not an error.
func (fs *FileStore) Delete(_ context.Context, key string) error {
	path, err := fs.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: removing %s: %v", domain.ErrStorageUnavailable, key, err)
	}
	return nil
}

// Dir returns the upload directory.
func (fs *FileStore) Dir() string {
	return fs.dir
}

// Writable checks that the upload directory accepts new files.
func (fs *FileStore) Writable() error {
	f, err := os.CreateTemp(fs.dir, ".probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// resolve rejects keys that would escape the upload directory.
func (fs *FileStore) resolve(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("image file %q: %w", key, domain.ErrNotFound)
	}
	return filepath.Join(fs.dir, key), nil
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// storageKey builds a unique name that keeps a readable hint of the original.
func storageKey(originalName string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	name := strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))
	name = strings.Trim(unsafeChars.ReplaceAllString(name, "_"), "_")
	if len(name) > 50 {
		name = name[:50]
	}
	if name == "" {
		name = "scan"
	}
	ext = unsafeChars.ReplaceAllString(strings.TrimPrefix(ext, "."), "")
	if ext != "" {
		ext = "." + ext
	}
	return fmt.Sprintf("%s_%s_%s%s", time.Now().UTC().Format("20060102T150405"), uuid.New().String()[:8], name, ext)
}
