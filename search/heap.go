package search

import (
	"container/heap"
	"math"
)

// Result is one hit returned by Search: a node id and its distance to the
// query, always populated together and never separated.
type Result struct {
	ID       uint64
	Distance float32
}

// lessTotal is the same NaN-safe total order used throughout distance
// comparisons: any NaN sorts last, -0 is less than +0. Kept local rather
// than imported so the heap types below have no dependency beyond the
// standard library.
func lessTotal(a, b float32) bool {
	na, nb := math.IsNaN(float64(a)), math.IsNaN(float64(b))
	if na && nb {
		return false
	}
	if na {
		return false
	}
	if nb {
		return true
	}
	if a == 0 && b == 0 {
		return math.Signbit(float64(a)) && !math.Signbit(float64(b))
	}
	return a < b
}

// candidateHeap is a min-heap of Results ordered by ascending distance: the
// frontier of nodes still to be explored, cheapest first.
type candidateHeap []Result

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return lessTotal(h[i].Distance, h[j].Distance) }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x interface{}) { *h = append(*h, x.(Result)) }
func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// resultHeap is a max-heap of Results ordered by descending distance: the
// worst-so-far sits at the root, ready to be evicted the moment a closer
// candidate is found and the heap is already at capacity ef.
type resultHeap []Result

func (h resultHeap) Len() int            { return len(h) }
func (h resultHeap) Less(i, j int) bool  { return lessTotal(h[j].Distance, h[i].Distance) }
func (h resultHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x interface{}) { *h = append(*h, x.(Result)) }
func (h *resultHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

var (
	_ heap.Interface = (*candidateHeap)(nil)
	_ heap.Interface = (*resultHeap)(nil)
)
