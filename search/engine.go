// Package search implements the layered HNSW query path: single-entry
// greedy descent through the upper layers followed by a bounded
// candidate/result search at layer 0, backed by a dense visited filter and
// two array-based heaps, all sized once per call.
package search

import (
	"container/heap"
	"sort"

	"github.com/chassis-db/chassis/graph"
	"github.com/chassis-db/chassis/simd"
	"github.com/chassis-db/chassis/storage"
)

// Engine answers nearest-neighbor queries against a graph file's current
// published state.
type Engine struct {
	graph   *graph.File
	storage *storage.File
}

// New returns an Engine reading gf's node records and sf's vectors.
func New(gf *graph.File, sf *storage.File) *Engine {
	return &Engine{graph: gf, storage: sf}
}

// Search returns the k nodes nearest to query, ids sorted ascending by
// distance. ef is widened to k if smaller. An empty graph yields an empty,
// nil-error result; a query of the wrong dimension fails with
// storage.ErrDimensionMismatch.
func (e *Engine) Search(query []float32, k, ef int) ([]Result, error) {
	if uint32(len(query)) != e.storage.Dimension() {
		return nil, &storage.Error{Kind: storage.ErrDimensionMismatch, Context: "search: query dimension"}
	}
	if ef < k {
		ef = k
	}
	if ef < 1 {
		ef = 1
	}

	ng := e.graph.NodeCount()
	if ng == 0 {
		return nil, nil
	}

	entry := e.graph.EntryPoint()
	entryRec, err := e.graph.ReadNode(entry)
	if err != nil {
		return nil, err
	}
	topLayer := entryRec.LayerCount - 1

	current := entry
	for l := topLayer; l > 0; l-- {
		res, err := e.searchLayer(query, current, 1, l)
		if err != nil {
			return nil, err
		}
		current = res[0].ID
	}

	results, err := e.searchLayer(query, current, ef, 0)
	if err != nil {
		return nil, err
	}
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// SearchLayer exposes the single-layer bounded search directly: the
// insertion path (chassis.Index.Add) drives it layer by layer, with ef=1
// for the pure-navigation layers above a new node's own top layer and
// ef=EfConstruction for the layers where it collects link candidates,
// exactly the shape Search itself uses internally.
func (e *Engine) SearchLayer(query []float32, entry uint64, ef int, layer uint8) ([]Result, error) {
	return e.searchLayer(query, entry, ef, layer)
}

// searchLayer runs the standard bounded HNSW layer search from a single
// entry node: a min-heap frontier of candidates and a max-heap of the best
// ef results seen, guarded by a dense visited filter. It returns the
// surviving results sorted ascending by distance.
func (e *Engine) searchLayer(query []float32, entry uint64, ef int, layer uint8) ([]Result, error) {
	vis := newBitset(e.graph.NodeCount())

	entryVec, err := e.storage.VectorSlice(entry)
	if err != nil {
		return nil, err
	}
	entryDist, err := simd.Euclidean(query, entryVec)
	if err != nil {
		return nil, err
	}

	candidates := make(candidateHeap, 0, ef)
	results := make(resultHeap, 0, ef)
	heap.Push(&candidates, Result{ID: entry, Distance: entryDist})
	heap.Push(&results, Result{ID: entry, Distance: entryDist})
	vis.TestAndSet(entry)

	for candidates.Len() > 0 {
		cur := heap.Pop(&candidates).(Result)
		if results.Len() >= ef && lessTotal(results[0].Distance, cur.Distance) {
			break
		}

		it, err := e.graph.NeighborsIterMmap(cur.ID, layer)
		if err != nil {
			return nil, err
		}
		for {
			id, ok := it.Next()
			if !ok {
				break
			}
			if vis.TestAndSet(id) {
				continue
			}
			vec, err := e.storage.VectorSlice(id)
			if err != nil {
				return nil, err
			}
			d, err := simd.Euclidean(query, vec)
			if err != nil {
				return nil, err
			}
			if results.Len() < ef || lessTotal(d, results[0].Distance) {
				heap.Push(&candidates, Result{ID: id, Distance: d})
				heap.Push(&results, Result{ID: id, Distance: d})
				if results.Len() > ef {
					heap.Pop(&results)
				}
			}
		}
	}

	out := make([]Result, len(results))
	copy(out, results)
	sort.Slice(out, func(i, j int) bool { return lessTotal(out[i].Distance, out[j].Distance) })
	return out, nil
}
