package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/zonebnation/ebizimba-content/common"
	"github.com/zonebnation/ebizimba-content/interfaces"
)

// FileStorage implements interfaces.DurableStorage on a local directory.
// Writes go to a temporary file first and are renamed into place, so readers
// and concurrent writers of the same path always see one whole file.
type FileStorage struct {
	baseDir string
	log     *slog.Logger
}

// NewFileStorage creates a durable storage rooted at baseDir, creating it if
// needed.
func NewFileStorage(baseDir string, log *slog.Logger) (*FileStorage, error) {
	if baseDir == "" {
		return nil, errors.New("base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	info, err := os.Stat(baseDir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base path %s is not a directory", baseDir)
	}

	return &FileStorage{
		baseDir: baseDir,
		log:     common.OrDefault(log),
	}, nil
}

// BaseDir returns the storage root.
func (s *FileStorage) BaseDir() string {
	return s.baseDir
}

// resolve maps a slash-separated storage path to a file system path inside
// the base directory.
func (s *FileStorage) resolve(p string) (string, error) {
	clean := path.Clean("/" + p)
	if clean == "/" {
		return "", fmt.Errorf("invalid storage path %q", p)
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// ReadFile returns the contents stored at p, or ErrContentNotFound.
func (s *FileStorage) ReadFile(ctx context.Context, p string) ([]byte, error) {
	full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, interfaces.ErrContentNotFound
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// WriteFile stores data at p atomically.
func (s *FileStorage) WriteFile(ctx context.Context, p string, data []byte) error {
	full, err := s.resolve(p)
	if err != nil {
		return err
	}

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(full)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write file: %w", err)
	}

	if err := os.Rename(tmpPath, full); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move file into place: %w", err)
	}

	s.log.Debug("Stored file",
		slog.String("path", p),
		slog.Int("size", len(data)))
	return nil
}

// Stat reports whether p exists.
func (s *FileStorage) Stat(ctx context.Context, p string) (bool, error) {
	full, err := s.resolve(p)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Mkdir creates the directory p and its parents.
func (s *FileStorage) Mkdir(ctx context.Context, p string) error {
	full, err := s.resolve(p)
	if err != nil {
		return err
	}
	return os.MkdirAll(full, 0755)
}

// Remove deletes p. Removing a missing path is not an error.
func (s *FileStorage) Remove(ctx context.Context, p string) error {
	full, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(full); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// FileBackend serves file:// source locations below a base directory and
// publishes content into it.
type FileBackend struct {
	files       *FileStorage
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a file backend rooted at baseDir.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	files, err := NewFileStorage(abs, log)
	if err != nil {
		return nil, err
	}

	return &FileBackend{
		files:       files,
		log:         common.OrDefault(log),
		locationURI: "file://" + filepath.ToSlash(abs),
	}, nil
}

// Fetch reads the file named by a file:// location. The location must lie
// inside the backend's base directory.
func (b *FileBackend) Fetch(ctx context.Context, location string, id interfaces.ContentID) ([]byte, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	filePath := filepath.FromSlash(u.Host + u.Path)
	rel, err := filepath.Rel(b.files.BaseDir(), filePath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("%w: %s outside %s", interfaces.ErrInvalidLocationURI, location, b.locationURI)
	}

	data, err := b.files.ReadFile(ctx, filepath.ToSlash(rel))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", interfaces.ErrTransientFetch, location, err)
	}

	b.log.Debug("Fetched content from file",
		slog.String("content_id", id.Short()),
		slog.String("path", filePath),
		slog.Int("size", len(data)))
	return data, nil
}

// Publish stores data under its content id.
func (b *FileBackend) Publish(ctx context.Context, data []byte) (interfaces.ContentID, []string, error) {
	id := interfaces.ComputeID(data)
	if err := b.files.WriteFile(ctx, string(id), data); err != nil {
		return id, nil, err
	}
	return id, []string{b.locationURI + "/" + interfaces.IDPlaceholder}, nil
}

// Name returns a unique identifier for this backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.files.BaseDir()))
}

// LocationURI returns the URI that identifies this backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}
