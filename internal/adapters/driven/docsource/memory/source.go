// Package memory provides an in-memory document source for tests and demos.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// Ensure Source implements the interface.
var _ driven.WatchableSource = (*Source)(nil)

// Source holds corpora keyed by ref.
type Source struct {
	mu       sync.RWMutex
	corpora  map[string]map[string]domain.Document
	watchers map[string][]chan string
}

// NewSource creates an empty in-memory source.
func NewSource() *Source {
	return &Source{
		corpora:  make(map[string]map[string]domain.Document),
		watchers: make(map[string][]chan string),
	}
}

// Put adds or replaces documents of corpus ref and notifies watchers.
func (s *Source) Put(ref string, docs ...domain.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	corpus, ok := s.corpora[ref]
	if !ok {
		corpus = make(map[string]domain.Document)
		s.corpora[ref] = corpus
	}
	for _, d := range docs {
		corpus[d.ID] = d
	}
	// Sends happen under the lock so Watch cannot close a channel mid-send.
	for _, ch := range s.watchers[ref] {
		select {
		case ch <- ref:
		default:
		}
	}
}

// Remove deletes documents from corpus ref.
func (s *Source) Remove(ref string, ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.corpora[ref], id)
	}
}

// ListIDs returns the sorted ids of corpus ref.
func (s *Source) ListIDs(_ context.Context, ref string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	corpus, ok := s.corpora[ref]
	if !ok {
		return nil, fmt.Errorf("%w: corpus %q", domain.ErrNotFound, ref)
	}
	ids := make([]string, 0, len(corpus))
	for id := range corpus {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Fetch returns the requested documents in order, omitting missing ones.
func (s *Source) Fetch(_ context.Context, ref string, ids []string) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	corpus, ok := s.corpora[ref]
	if !ok {
		return nil, fmt.Errorf("%w: corpus %q", domain.ErrNotFound, ref)
	}
	docs := make([]domain.Document, 0, len(ids))
	for _, id := range ids {
		if d, ok := corpus[id]; ok {
			docs = append(docs, d)
		}
	}
	return docs, nil
}

// Watch notifies on every Put to ref until ctx is cancelled.
func (s *Source) Watch(ctx context.Context, ref string) (<-chan string, error) {
	ch := make(chan string, 1)
	s.mu.Lock()
	s.watchers[ref] = append(s.watchers[ref], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.watchers[ref]
		for i, x := range list {
			if x == ch {
				s.watchers[ref] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}
