// Package filestore keeps uploaded document bytes and hands out their public URLs.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrNotFound    = errors.New("file not found")
	ErrInvalidPath = errors.New("invalid storage path")
)

// Store is the storage collaborator used by ingestion and cleanup.
type Store interface {
	Upload(ctx context.Context, objectPath string, data []byte, contentType string) error
	Download(ctx context.Context, objectPath string) ([]byte, error)
	Remove(ctx context.Context, objectPath string) error
	PublicURL(objectPath string) string
}

var _ Store = (*Local)(nil)

// Local stores objects as files under a root directory. Public URLs point at
// the /files/ route of the site.
type Local struct {
	root    string
	baseURL string
}

// NewLocal creates the root directory if needed.
func NewLocal(root, baseURL string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating file root: %w", err)
	}
	return &Local{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Root is the directory served under /files/.
func (l *Local) Root() string {
	return l.root
}

// resolve maps a slash-separated object path to a file under root, rejecting
// anything that would escape it.
func (l *Local) resolve(objectPath string) (string, error) {
	clean := path.Clean("/" + objectPath)
	if clean == "/" || strings.Contains(objectPath, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, objectPath)
	}
	return filepath.Join(l.root, filepath.FromSlash(clean[1:])), nil
}

// Upload writes data atomically through a temp file and rename.
func (l *Local) Upload(_ context.Context, objectPath string, data []byte, _ string) error {
	dst, err := l.resolve(objectPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating object dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", objectPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", objectPath, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("storing %s: %w", objectPath, err)
	}
	return nil
}

func (l *Local) Download(_ context.Context, objectPath string) ([]byte, error) {
	src, err := l.resolve(objectPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(src)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, objectPath)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", objectPath, err)
	}
	return data, nil
}

// Remove deletes an object. Removing a missing object is not an error.
func (l *Local) Remove(_ context.Context, objectPath string) error {
	p, err := l.resolve(objectPath)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", objectPath, err)
	}
	return nil
}

func (l *Local) PublicURL(objectPath string) string {
	return l.baseURL + "/files/" + strings.TrimLeft(objectPath, "/")
}
