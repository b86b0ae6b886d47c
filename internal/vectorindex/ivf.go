package vectorindex

import (
	"context"
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/custodia-labs/sercha-indexer/internal/core/domain"
	"github.com/custodia-labs/sercha-indexer/internal/core/ports/driven"
)

// Ensure IVF implements the interface.
var _ driven.VectorIndex = (*IVF)(nil)

// IVF defaults.
const (
	DefaultNProbe      = 8
	DefaultKMeansIters = 10
	trainPointsPerList = 64
	maxLists           = 4096
)

// IVFOptions configures IVF construction.
type IVFOptions struct {
	// NLists is the number of clusters. Zero picks sqrt(n), capped at 4096.
	NLists int

	// NProbe is the number of clusters scanned per query.
	NProbe int

	// Iterations is the number of k-means rounds.
	Iterations int
}

// IVF is an inverted-file index: rows are grouped by their nearest
// centroid and a query only scans the lists of its NProbe nearest centroids.
type IVF struct {
	dim       int
	n         int
	nprobe    int
	vectors   []float32
	centroids []float32
	lists     [][]int32
}

// NewIVF clusters the vectors and builds an IVF index.
// Training is deterministic: the same vectors always yield the same lists.
func NewIVF(dim int, vectors [][]float32, opts IVFOptions) (*IVF, error) {
	if err := checkVectors(dim, vectors); err != nil {
		return nil, err
	}
	n := len(vectors)
	flat := flatten(vectors, dim)

	nlists := opts.NLists
	if nlists <= 0 {
		nlists = int(math.Sqrt(float64(n)))
	}
	nlists = max(1, min(nlists, maxLists, n))
	if opts.NProbe <= 0 {
		opts.NProbe = DefaultNProbe
	}
	if opts.Iterations <= 0 {
		opts.Iterations = DefaultKMeansIters
	}

	idx := &IVF{
		dim:     dim,
		n:       n,
		nprobe:  min(opts.NProbe, nlists),
		vectors: flat,
	}
	if n == 0 {
		return idx, nil
	}

	idx.centroids = trainCentroids(flat, dim, n, nlists, opts.Iterations)
	assign := assignAll(flat, idx.centroids, dim, n)
	idx.lists = make([][]int32, nlists)
	for row, c := range assign {
		idx.lists[c] = append(idx.lists[c], int32(row))
	}
	return idx, nil
}

// trainCentroids runs spherical k-means on a strided sample of rows.
func trainCentroids(flat []float32, dim, n, nlists, iters int) []float32 {
	sample := sampleRows(n, nlists*trainPointsPerList)

	centroids := make([]float32, nlists*dim)
	stride := float64(len(sample)) / float64(nlists)
	for c := 0; c < nlists; c++ {
		row := sample[int(float64(c)*stride)]
		copy(centroids[c*dim:(c+1)*dim], flat[row*dim:(row+1)*dim])
	}

	sums := make([]float64, nlists*dim)
	counts := make([]int, nlists)
	for it := 0; it < iters; it++ {
		clear(sums)
		clear(counts)
		for _, row := range sample {
			v := flat[row*dim : (row+1)*dim]
			c := nearestCentroid(v, centroids, dim)
			counts[c]++
			for j, x := range v {
				sums[c*dim+j] += float64(x)
			}
		}
		for c := 0; c < nlists; c++ {
			if counts[c] == 0 {
				continue // keep the previous centroid for empty clusters
			}
			cent := centroids[c*dim : (c+1)*dim]
			for j := range cent {
				cent[j] = float32(sums[c*dim+j] / float64(counts[c]))
			}
			normalize(cent)
		}
	}
	return centroids
}

// sampleRows returns up to limit row numbers spread evenly over [0, n).
func sampleRows(n, limit int) []int {
	if limit <= 0 || limit >= n {
		rows := make([]int, n)
		for i := range rows {
			rows[i] = i
		}
		return rows
	}
	rows := make([]int, limit)
	step := float64(n) / float64(limit)
	for i := range rows {
		rows[i] = int(float64(i) * step)
	}
	return rows
}

// assignAll maps every row to its nearest centroid, in parallel.
func assignAll(flat, centroids []float32, dim, n int) []int {
	assign := make([]int, n)
	workers := runtime.NumCPU()
	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for row := start; row < end; row++ {
				assign[row] = nearestCentroid(flat[row*dim:(row+1)*dim], centroids, dim)
			}
		}(start, end)
	}
	wg.Wait()
	return assign
}

// nearestCentroid returns the centroid with the highest inner product.
func nearestCentroid(v, centroids []float32, dim int) int {
	best, bestSim := 0, float32(math.Inf(-1))
	for c := 0; c*dim < len(centroids); c++ {
		if s := dot(v, centroids[c*dim:(c+1)*dim]); s > bestSim {
			best, bestSim = c, s
		}
	}
	return best
}

// Search scans the NProbe lists closest to the query.
func (x *IVF) Search(ctx context.Context, query []float32, k int) ([]driven.VectorHit, error) {
	q, err := prepareQuery(query, x.dim)
	if err != nil {
		return nil, err
	}
	if k <= 0 || x.n == 0 {
		return nil, nil
	}

	nlists := len(x.lists)
	type scored struct {
		list int
		sim  float32
	}
	order := make([]scored, nlists)
	for c := 0; c < nlists; c++ {
		order[c] = scored{list: c, sim: dot(q, x.centroids[c*x.dim:(c+1)*x.dim])}
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].sim == order[j].sim {
			return order[i].list < order[j].list
		}
		return order[i].sim > order[j].sim
	})

	top := newTopK(min(k, x.n))
	for _, o := range order[:x.nprobe] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, row := range x.lists[o.list] {
			r := int(row)
			top.offer(r, dot(q, x.vectors[r*x.dim:(r+1)*x.dim]))
		}
	}
	return top.sorted(), nil
}

// Len returns the number of vectors.
func (x *IVF) Len() int { return x.n }

// Dimension returns the vector dimension.
func (x *IVF) Dimension() int { return x.dim }

// Kind returns IndexKindIVF.
func (x *IVF) Kind() domain.IndexKind { return domain.IndexKindIVF }

// NLists returns the number of inverted lists.
func (x *IVF) NLists() int { return len(x.lists) }
