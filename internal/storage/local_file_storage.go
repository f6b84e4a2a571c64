package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalFileStorage is the default Engine implementation. Each content class
// gets its own directory under the storage root, holding flat files named
// "{identifier}{extension}" (and "{identifier}.json" sidecar documents for
// the archive class).
type LocalFileStorage struct {
	root string
}

// NewLocalFileStorage creates a LocalFileStorage rooted at root, creating the
// root and one directory per given content class.
func NewLocalFileStorage(root string, classes ...string) (*LocalFileStorage, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	for _, class := range classes {
		if err := validateName(class); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Join(abs, class), 0o755); err != nil {
			return nil, fmt.Errorf("create class dir %q: %w", class, err)
		}
	}
	return &LocalFileStorage{root: abs}, nil
}

// Root returns the absolute storage root directory.
func (s *LocalFileStorage) Root() string {
	return s.root
}

// validateName rejects names that could escape the class directory. Object
// names are server-generated, but stems arrive from request paths.
func validateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("invalid object name %q", name)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("invalid object name %q", name)
	}
	return nil
}

func (s *LocalFileStorage) objectPath(class string, name string) (string, error) {
	if err := validateName(class); err != nil {
		return "", err
	}
	if err := validateName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.root, class, name), nil
}

func entryFromInfo(name string, info fs.FileInfo) Entry {
	return Entry{Name: name, Size: info.Size(), ModTime: info.ModTime().UTC()}
}

func (s *LocalFileStorage) Commit(ctx context.Context, class string, name string, stagingPath string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	dst, err := s.objectPath(class, name)
	if err != nil {
		return Entry{}, err
	}

	if err := MoveFile(stagingPath, dst); err != nil {
		return Entry{}, fmt.Errorf("commit %s/%s: %w", class, name, err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		return Entry{}, fmt.Errorf("stat committed object: %w", err)
	}
	return entryFromInfo(name, info), nil
}

func (s *LocalFileStorage) Put(ctx context.Context, class string, name string, data []byte) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	dst, err := s.objectPath(class, name)
	if err != nil {
		return Entry{}, err
	}

	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return Entry{}, fmt.Errorf("write %s/%s: %w", class, name, err)
	}

	info, err := os.Stat(dst)
	if err != nil {
		return Entry{}, err
	}
	return entryFromInfo(name, info), nil
}

func (s *LocalFileStorage) Open(ctx context.Context, class string, name string) (io.ReadCloser, Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, Entry{}, err
	}

	path, err := s.objectPath(class, name)
	if err != nil {
		return nil, Entry{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, Entry{}, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, Entry{}, err
	}
	return f, entryFromInfo(name, info), nil
}

func (s *LocalFileStorage) Resolve(ctx context.Context, class string, stem string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if err := validateName(class); err != nil {
		return Entry{}, err
	}
	if err := validateName(stem); err != nil {
		return Entry{}, err
	}

	// Glob for "{stem}.*" plus a bare "{stem}" for extension-less blobs.
	// Glob output is sorted, which makes the stem-collision tie-break
	// deterministic.
	dir := filepath.Join(s.root, class)
	matches, err := filepath.Glob(filepath.Join(dir, stem+".*"))
	if err != nil {
		return Entry{}, err
	}
	if bare, err := filepath.Glob(filepath.Join(dir, stem)); err == nil {
		matches = append(matches, bare...)
	}

	for _, match := range matches {
		name := filepath.Base(match)
		if strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := os.Stat(match)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		return entryFromInfo(name, info), nil
	}

	return Entry{}, fmt.Errorf("resolve %s/%s: %w", class, stem, fs.ErrNotExist)
}

func (s *LocalFileStorage) List(ctx context.Context, class string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateName(class); err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(filepath.Join(s.root, class))
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Lost a race with a concurrent deletion; skip.
			continue
		}
		entries = append(entries, entryFromInfo(de.Name(), info))
	}
	return entries, nil
}

func (s *LocalFileStorage) Remove(ctx context.Context, class string, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.objectPath(class, name)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
