package normalisers

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-indexer/internal/normalisers/html"
	"github.com/custodia-labs/sercha-indexer/internal/normalisers/markdown"
)

// Ensure Registry implements the interface.
var _ driven.Normaliser = (*Registry)(nil)

// Registry maps file extensions to normalisers and dispatches on them.
// It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	byExt map[string]driven.Normaliser
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string]driven.Normaliser)}
}

// Default returns a registry with every built-in normaliser.
func Default() *Registry {
	r := NewRegistry()
	r.Register(markdown.New())
	r.Register(html.New())
	return r
}

// Register adds n for each of its extensions, replacing earlier registrations.
func (r *Registry) Register(n driven.Normaliser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range n.Extensions() {
		r.byExt[strings.ToLower(ext)] = n
	}
}

// For returns the normaliser for name, or false when its extension has none.
func (r *Registry) For(name string) (driven.Normaliser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.byExt[strings.ToLower(filepath.Ext(name))]
	return n, ok
}

// Normalise runs the normaliser registered for name. Content of an
// unregistered format is returned unchanged.
func (r *Registry) Normalise(name string, content []byte) (driven.NormaliseResult, error) {
	n, ok := r.For(name)
	if !ok {
		return driven.NormaliseResult{Text: string(content)}, nil
	}
	return n.Normalise(name, content)
}

// Extensions returns every registered extension, sorted.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
