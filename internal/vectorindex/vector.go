package vectorindex

import (
	"container/heap"
	"math"
	"sort"

	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// normalize scales v in place to unit length. Zero vectors are left as is.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// dot returns the inner product of a and b, which must have equal length.
func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// flatten copies vectors into one contiguous, normalised slice.
func flatten(vectors [][]float32, dim int) []float32 {
	out := make([]float32, len(vectors)*dim)
	for i, v := range vectors {
		row := out[i*dim : (i+1)*dim]
		copy(row, v)
		normalize(row)
	}
	return out
}

// hitHeap is a min-heap on similarity used to keep the best k hits.
type hitHeap []driven.VectorHit

func (h hitHeap) Len() int { return len(h) }
func (h hitHeap) Less(i, j int) bool {
	if h[i].Similarity == h[j].Similarity {
		return h[i].Row > h[j].Row
	}
	return h[i].Similarity < h[j].Similarity
}
func (h hitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x any)   { *h = append(*h, x.(driven.VectorHit)) }
func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topK accumulates the k best hits.
type topK struct {
	k int
	h hitHeap
}

func newTopK(k int) *topK {
	return &topK{k: k, h: make(hitHeap, 0, k)}
}

func (t *topK) offer(row int, sim float32) {
	hit := driven.VectorHit{Row: row, Similarity: float64(sim)}
	if len(t.h) < t.k {
		heap.Push(&t.h, hit)
		return
	}
	worst := t.h[0]
	if hit.Similarity > worst.Similarity || (hit.Similarity == worst.Similarity && hit.Row < worst.Row) {
		t.h[0] = hit
		heap.Fix(&t.h, 0)
	}
}

// sorted returns hits ordered by descending similarity, ties by row.
func (t *topK) sorted() []driven.VectorHit {
	out := make([]driven.VectorHit, len(t.h))
	copy(out, t.h)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity == out[j].Similarity {
			return out[i].Row < out[j].Row
		}
		return out[i].Similarity > out[j].Similarity
	})
	return out
}
