package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"shareit/internal/shareit"
)

// FileSystemStore is a filesystem-based implementation of the BlobStore
// interface. Each blob is one file in a flat directory:
//
//	<root>/
//	  <fileID>_<fileName>
//	  .tmp-*              (uploads in progress)
type FileSystemStore struct {
	root string
}

// NewFileSystemStore creates a new filesystem store rooted at the given path.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &FileSystemStore{root: root}, nil
}

// Write streams r into the object file using an atomic write (temp file +
// rename), replacing an existing object of the same name.
func (s *FileSystemStore) Write(ctx context.Context, fileID, fileName string, size int64, r io.Reader) (int64, error) {
	destPath := filepath.Join(s.root, ObjectName(fileID, fileName))

	// Create temp file in the same directory to ensure atomic rename works
	tmpFile, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on failure
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := copyExact(tmpFile, r, size)
	if err != nil {
		tmpFile.Close()
		return written, err
	}

	if err := tmpFile.Close(); err != nil {
		return written, fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return written, fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return written, nil
}

// Read opens the object file. On POSIX systems the open handle keeps the
// content readable after a concurrent Delete.
func (s *FileSystemStore) Read(ctx context.Context, fileID, fileName string) (io.ReadCloser, int64, error) {
	name := ObjectName(fileID, fileName)
	f, err := os.Open(filepath.Join(s.root, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, fmt.Errorf("blob %s: %w", name, shareit.ErrNotFound)
		}
		return nil, 0, fmt.Errorf("failed to open blob: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat blob: %w", err)
	}
	return f, info.Size(), nil
}

// Delete removes the object file. A missing file is not an error.
func (s *FileSystemStore) Delete(ctx context.Context, fileID, fileName string) error {
	err := os.Remove(filepath.Join(s.root, ObjectName(fileID, fileName)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// ValidateSetup verifies that the root directory is accessible.
func (s *FileSystemStore) ValidateSetup() error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("blob root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("blob root is not a directory: %s", s.root)
	}
	return nil
}

// Compile-time check that FileSystemStore implements shareit.BlobStore interface
var _ shareit.BlobStore = (*FileSystemStore)(nil)
