// Package vault provides access to the document vault that receives converted
// notes and their attachments.
//
// Paths handed to a Storage are vault-relative and always use forward slashes,
// e.g. "notes/Invoice.md" or "attachments/img-0.jpeg". The empty string names
// the vault root.
//
// Create operations never overwrite: creating a path that already exists is an
// error, and callers are expected to reconcile names first (see UniquePath and
// Deduplicate).
package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"ocrnote/internal/logger"
	"ocrnote/internal/pathutil"
)

// Storage is the set of vault operations the converter depends on.
type Storage interface {
	// Exists reports whether a file or folder exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// List returns the direct children of dir.
	List(ctx context.Context, dir string) (*Listing, error)

	// CreateFile creates a new text file. It fails if path already exists.
	CreateFile(ctx context.Context, path, content string) error

	// CreateBinary creates a new binary file. It fails if path already exists.
	CreateBinary(ctx context.Context, path string, data []byte) error

	// CreateFolder creates dir and any missing parents.
	CreateFolder(ctx context.Context, dir string) error

	// Read returns the content of the file at path.
	Read(ctx context.Context, path string) ([]byte, error)
}

// Listing holds the vault paths of the entries directly under a folder.
type Listing struct {
	Files   []string
	Folders []string
}

// FSStorage implements Storage on top of a directory of the local filesystem.
type FSStorage struct {
	root string
	log  zerolog.Logger
}

// NewFSStorage returns a Storage rooted at dir. The directory must exist.
func NewFSStorage(dir string) (*FSStorage, error) {
	const op = "open"

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, NewIOError(op, dir, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, NewIOError(op, dir, err)
	}
	if !info.IsDir() {
		return nil, NewIOError(op, dir, ErrNotAFolder)
	}

	return &FSStorage{
		root: abs,
		log:  logger.WithComponent("vault"),
	}, nil
}

// Root returns the absolute directory backing the vault.
func (s *FSStorage) Root() string {
	return s.root
}

// Exists reports whether a file or folder exists at path.
func (s *FSStorage) Exists(ctx context.Context, path string) (bool, error) {
	const op = "exists"

	if err := ctx.Err(); err != nil {
		return false, NewIOError(op, path, err)
	}

	full, err := s.resolve(path)
	if err != nil {
		return false, NewIOError(op, path, err)
	}

	_, err = os.Stat(full)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, NewIOError(op, path, err)
	}
}

// List returns the direct children of dir, sorted by name.
func (s *FSStorage) List(ctx context.Context, dir string) (*Listing, error) {
	const op = "list"

	if err := ctx.Err(); err != nil {
		return nil, NewIOError(op, dir, err)
	}

	full, err := s.resolve(dir)
	if err != nil {
		return nil, NewIOError(op, dir, err)
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, NewIOError(op, dir, err)
	}

	listing := &Listing{}
	for _, e := range entries {
		p := e.Name()
		if rel := s.clean(dir); rel != "" {
			p = pathutil.Join(rel, e.Name())
		}
		if e.IsDir() {
			listing.Folders = append(listing.Folders, p)
		} else {
			listing.Files = append(listing.Files, p)
		}
	}
	sort.Strings(listing.Files)
	sort.Strings(listing.Folders)

	return listing, nil
}

// CreateFile creates a new text file at path.
func (s *FSStorage) CreateFile(ctx context.Context, path, content string) error {
	return s.create(ctx, "create file", path, []byte(content))
}

// CreateBinary creates a new binary file at path.
func (s *FSStorage) CreateBinary(ctx context.Context, path string, data []byte) error {
	return s.create(ctx, "create binary", path, data)
}

// CreateFolder creates dir and any missing parents. An existing folder is not an error.
func (s *FSStorage) CreateFolder(ctx context.Context, dir string) error {
	const op = "create folder"

	if err := ctx.Err(); err != nil {
		return NewIOError(op, dir, err)
	}

	full, err := s.resolve(dir)
	if err != nil {
		return NewIOError(op, dir, err)
	}

	if err := os.MkdirAll(full, 0o755); err != nil {
		return NewIOError(op, dir, err)
	}

	s.log.Debug().Str("folder", dir).Msg("Folder ready")
	return nil
}

// Read returns the content of the file at path.
func (s *FSStorage) Read(ctx context.Context, path string) ([]byte, error) {
	const op = "read"

	if err := ctx.Err(); err != nil {
		return nil, NewIOError(op, path, err)
	}

	full, err := s.resolve(path)
	if err != nil {
		return nil, NewIOError(op, path, err)
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return nil, NewIOError(op, path, err)
	}
	return data, nil
}

func (s *FSStorage) create(ctx context.Context, op, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return NewIOError(op, path, err)
	}

	full, err := s.resolve(path)
	if err != nil {
		return NewIOError(op, path, err)
	}

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return NewIOError(op, path, err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(full)
		return NewIOError(op, path, err)
	}
	if err := f.Close(); err != nil {
		return NewIOError(op, path, err)
	}

	s.log.Debug().
		Str("path", path).
		Int("bytes", len(data)).
		Msg("File created")

	return nil
}

// clean normalises a vault path: no leading slash, no "." or empty segments.
func (s *FSStorage) clean(p string) string {
	return strings.TrimPrefix(pathutil.Join(p), "/")
}

// resolve maps a vault path to a host path, rejecting paths that leave the vault.
func (s *FSStorage) resolve(p string) (string, error) {
	rel := s.clean(p)
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %s", ErrOutsideVault, p)
		}
	}
	return filepath.Join(s.root, filepath.FromSlash(rel)), nil
}
