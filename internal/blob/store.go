package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a handle does not name a stored blob.
var ErrNotFound = errors.New("blob not found")

// Store keeps uploaded bytes on disk under opaque UUID names.
type Store struct {
	rootDir string
}

// NewStore creates a blob store rooted at rootDir.
func NewStore(rootDir string) (*Store, error) {
	rootDir = strings.TrimSpace(rootDir)
	if rootDir == "" {
		return nil, fmt.Errorf("blob root directory is required")
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	slog.Debug("blob store initialized", "dir", rootDir)
	return &Store{rootDir: rootDir}, nil
}

// Save streams r to disk and returns the handle of the new blob.
func (s *Store) Save(ctx context.Context, r io.Reader) (string, error) {
	if r == nil {
		return "", fmt.Errorf("blob reader is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()

	tempFile, err := os.CreateTemp(s.rootDir, ".blob-write-*")
	if err != nil {
		return "", fmt.Errorf("create temp blob file: %w", err)
	}
	tempPath := tempFile.Name()

	size, copyErr := io.Copy(tempFile, r)
	closeErr := tempFile.Close()
	if copyErr != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("write blob bytes: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("close blob file: %w", closeErr)
	}

	if err := os.Rename(tempPath, filepath.Join(s.rootDir, id)); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("move blob into place: %w", err)
	}
	slog.Info("blob stored", "blob_id", id, "size", size)
	return id, nil
}

// Open returns the blob's bytes. The caller closes the file.
func (s *Store) Open(handle string) (*os.File, error) {
	path, err := s.path(handle)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		slog.Error("blob file open failed", "blob_id", handle, "err", err)
		return nil, fmt.Errorf("open blob file: %w", err)
	}
	return f, nil
}

// Delete removes a blob. Deleting a missing blob is not an error.
func (s *Store) Delete(ctx context.Context, handle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(handle)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove blob: %w", err)
	}
	slog.Debug("blob deleted", "blob_id", handle)
	return nil
}

func (s *Store) path(handle string) (string, error) {
	id, err := uuid.Parse(handle)
	if err != nil {
		return "", ErrNotFound
	}
	return filepath.Join(s.rootDir, id.String()), nil
}
