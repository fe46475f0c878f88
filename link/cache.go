// Package link implements the HNSW linking engine: the three-step
// bidirectional insertion protocol, Heuristic 2 diversity pruning backed
// by a lazy symmetric distance cache, and the idempotent backlink updates
// that make a crashed-mid-insert file recoverable.
package link

import (
	"math"

	"github.com/chassis-db/chassis/simd"
	"github.com/chassis-db/chassis/storage"
)

// MaxCachePoints bounds the distance cache: a base node plus at most
// MaxM candidates (the stack cache limit documented for the linking
// engine caps M0 at MaxM).
const MaxCachePoints = MaxM + 1

// MaxM is the largest neighbor-slot capacity the distance cache can serve
// without spilling to the heap.
const MaxM = 32

// distanceCache is a stack-resident, lazily populated, symmetric matrix of
// pairwise distances between up to MaxCachePoints vectors. Point 0 is
// always the base node; points 1..n-1 are candidates in caller-supplied
// order. Entries start at NaN ("not computed") and are filled — both
// (i,j) and (j,i) at once — the first time they are read.
type distanceCache struct {
	points [MaxCachePoints][]float32
	n      int
	cache  [MaxCachePoints][MaxCachePoints]float32
}

func newDistanceCache(points [][]float32) (*distanceCache, error) {
	if len(points) > MaxCachePoints {
		return nil, &storage.Error{Kind: storage.ErrCapacityExceeded, Context: "link: candidate set exceeds distance cache capacity"}
	}
	dc := &distanceCache{n: len(points)}
	copy(dc.points[:], points)
	for i := 0; i < MaxCachePoints; i++ {
		for j := 0; j < MaxCachePoints; j++ {
			dc.cache[i][j] = float32(math.NaN())
		}
	}
	return dc, nil
}

// dist returns the Euclidean distance between point i and point j,
// computing and caching it symmetrically on first access.
func (dc *distanceCache) dist(i, j int) (float32, error) {
	if i == j {
		return 0, nil
	}
	if !math.IsNaN(float64(dc.cache[i][j])) {
		return dc.cache[i][j], nil
	}
	d, err := simd.Euclidean(dc.points[i], dc.points[j])
	if err != nil {
		return 0, err
	}
	dc.cache[i][j] = d
	dc.cache[j][i] = d
	return d, nil
}
