// Package filesystem provides a document source backed by a directory tree.
//
// A corpus ref is a directory. Every regular, non-hidden file below it is a
// document whose id is its slash-separated path relative to the ref and
// whose text is the file content, passed through the configured normaliser
// when one is set.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-indexer/internal/logger"
)

// Ensure Source implements the interface.
var _ driven.WatchableSource = (*Source)(nil)

// Defaults.
const (
	DefaultMaxFileSize = 10 * 1024 * 1024
	DefaultDebounce    = 2 * time.Second
)

// Options configures a Source.
type Options struct {
	// MaxFileSize skips larger files. Zero selects DefaultMaxFileSize.
	MaxFileSize int64

	// Debounce coalesces bursts of file events into one change
	// notification. Zero selects DefaultDebounce.
	Debounce time.Duration

	// Normaliser extracts text from formatted files. Nil keeps raw content.
	Normaliser driven.Normaliser
}

// Source reads documents from the local filesystem.
type Source struct {
	maxFileSize int64
	debounce    time.Duration
	normaliser  driven.Normaliser

	mu       sync.Mutex
	watchers []*fsnotify.Watcher
}

// New creates a filesystem document source.
func New(opts Options) *Source {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Source{maxFileSize: opts.MaxFileSize, debounce: opts.Debounce, normaliser: opts.Normaliser}
}

// ListIDs walks ref and returns the sorted relative path of every document.
func (s *Source) ListIDs(ctx context.Context, ref string) ([]string, error) {
	root, err := resolveRoot(ref)
	if err != nil {
		return nil, err
	}

	var ids []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("docsource: skipping %s: %v", path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path != root && isHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > s.maxFileSize {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		ids = append(ids, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", root, err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Fetch reads the documents with the given ids. Missing files are omitted.
// A file that is not valid UTF-8 is returned with empty text, so the
// embedding stage skips it as an invalid document.
func (s *Source) Fetch(ctx context.Context, ref string, ids []string) ([]domain.Document, error) {
	root, err := resolveRoot(ref)
	if err != nil {
		return nil, err
	}

	docs := make([]domain.Document, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path, err := pathFor(root, id)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("docsource: %s vanished since listing", id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", id, err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", id, err)
		}
		meta := map[string]string{
			"path":     path,
			"size":     strconv.FormatInt(info.Size(), 10),
			"modified": info.ModTime().UTC().Format(time.RFC3339),
		}
		docs = append(docs, domain.Document{
			ID:       id,
			Text:     s.extract(id, data, meta),
			Metadata: meta,
		})
	}
	return docs, nil
}

// extract returns the document text and records title and format in meta.
func (s *Source) extract(id string, data []byte, meta map[string]string) string {
	if !utf8.Valid(data) {
		return ""
	}
	if s.normaliser == nil {
		return string(data)
	}
	result, err := s.normaliser.Normalise(id, data)
	if err != nil {
		logger.Warn("docsource: normalising %s: %v", id, err)
		return string(data)
	}
	if result.Title != "" {
		meta["title"] = result.Title
	}
	if result.Format != "" {
		meta["format"] = result.Format
	}
	return result.Text
}

// Watch emits ref, debounced, whenever a file below it is created,
// written, removed or renamed. Directories created later are watched too.
func (s *Source) Watch(ctx context.Context, ref string) (<-chan string, error) {
	root, err := resolveRoot(ref)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := addRecursive(watcher, root); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	s.mu.Lock()
	s.watchers = append(s.watchers, watcher)
	s.mu.Unlock()

	changes := make(chan string, 1)
	go s.watchLoop(ctx, watcher, ref, changes)
	return changes, nil
}

func (s *Source) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, ref string, changes chan<- string) {
	defer close(changes)
	defer s.removeWatcher(watcher)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !s.relevant(watcher, event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(s.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(s.debounce)
			}
			fire = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("docsource: watch error on %s: %v", ref, err)

		case <-fire:
			fire = nil
			select {
			case changes <- ref:
			default:
				// A notification is already pending.
			}
		}
	}
}

// relevant filters chmod-only and hidden-file events and starts watching
// newly created directories.
func (s *Source) relevant(watcher *fsnotify.Watcher, event fsnotify.Event) bool {
	if isHidden(filepath.Base(event.Name)) {
		return false
	}
	if event.Op == fsnotify.Chmod {
		return false
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := addRecursive(watcher, event.Name); err != nil {
				logger.Warn("docsource: %v", err)
			}
		}
	}
	return true
}

func (s *Source) removeWatcher(w *fsnotify.Watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, x := range s.watchers {
		if x == w {
			s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
			break
		}
	}
	_ = w.Close()
}

// Close stops every active watch.
func (s *Source) Close() error {
	s.mu.Lock()
	watchers := s.watchers
	s.watchers = nil
	s.mu.Unlock()

	var errs []error
	for _, w := range watchers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && isHidden(d.Name()) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

func resolveRoot(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("%w: empty source ref", domain.ErrInvalidInput)
	}
	root, err := filepath.Abs(strings.TrimPrefix(ref, "file://"))
	if err != nil {
		return "", fmt.Errorf("%w: source ref %q: %v", domain.ErrInvalidInput, ref, err)
	}
	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: source directory %s", domain.ErrNotFound, root)
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", domain.ErrInvalidInput, root)
	}
	return root, nil
}

// pathFor maps a document id back to a path, refusing ids that leave root.
func pathFor(root, id string) (string, error) {
	p := filepath.Join(root, filepath.FromSlash(id))
	if p != root && !strings.HasPrefix(p, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: document id %q escapes source", domain.ErrInvalidInput, id)
	}
	return p, nil
}

func isHidden(name string) bool {
	return len(name) > 1 && name[0] == '.' && name != ".."
}
