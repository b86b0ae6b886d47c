// Package filesystem provides a driven.ObjectStore on a local directory.
//
// Keys map to relative file paths. Writes go to a temporary file in the
// destination directory that is synced and renamed into place, so a crash
// never leaves a partially written blob under a real key.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// tempPrefix marks in-flight writes; List skips them.
const tempPrefix = ".tmp-"

// Ensure Store implements the interface.
var _ driven.ObjectStore = (*Store)(nil)

// Store keeps blobs as files below a root directory.
type Store struct {
	root string
}

// NewStore creates a store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: object store directory is required", domain.ErrInvalidInput)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", domain.ErrStoreUnavailable, dir, err)
	}
	return &Store{root: filepath.Clean(dir)}, nil
}

// Root returns the store directory.
func (s *Store) Root() string {
	return s.root
}

// pathFor maps a key to a file path, rejecting keys that escape the root.
func (s *Store) pathFor(key string) (string, error) {
	clean := path.Clean(key)
	if key == "" || clean == "." || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: object key %q", domain.ErrInvalidInput, key)
	}
	if strings.HasPrefix(path.Base(clean), tempPrefix) {
		return "", fmt.Errorf("%w: object key %q uses a reserved name", domain.ErrInvalidInput, key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Get returns the blob stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: object %s", domain.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	return data, nil
}

// Put writes data under key durably and atomically.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.pathFor(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("%w: creating directory for %s: %v", domain.ErrStoreUnavailable, key, err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file for %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("%w: writing %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: syncing %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return fmt.Errorf("%w: renaming %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	committed = true

	return syncDir(dir)
}

// syncDir flushes a directory entry so a completed rename survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", domain.ErrStoreUnavailable, dir, err)
	}
	defer d.Close()
	// Some platforms refuse to fsync directories; the rename is still atomic there.
	_ = d.Sync()
	return nil
}

// List returns the keys with the given prefix, sorted.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Walk only the deepest directory the prefix fully names.
	start := s.root
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dirKey := prefix[:i]
		if dirKey != "" {
			p, err := s.pathFor(dirKey)
			if err != nil {
				return nil, err
			}
			start = p
		}
	}

	var keys []string
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing %q: %v", domain.ErrStoreUnavailable, prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes the blob under key and prunes directories left empty.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: deleting %s: %v", domain.ErrStoreUnavailable, key, err)
	}

	for dir := filepath.Dir(p); dir != s.root && strings.HasPrefix(dir, s.root); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break // not empty
		}
	}
	return nil
}
