package link

import (
	"math"
	"sort"

	"github.com/chassis-db/chassis/graph"
	"github.com/chassis-db/chassis/simd"
	"github.com/chassis-db/chassis/storage"
)

// Engine drives the graph file region to install a new node and its
// bidirectional edges.
type Engine struct {
	graph   *graph.File
	storage *storage.File
}

// New returns an Engine operating over gf's node records and sf's vectors.
func New(gf *graph.File, sf *storage.File) *Engine {
	return &Engine{graph: gf, storage: sf}
}

func (e *Engine) vectorAt(id uint64) ([]float32, error) {
	return e.storage.VectorSlice(id)
}

// WriteAndBacklink performs steps 1 and 2 of the three-step protocol: it
// writes node id's own record (candidates pruned to each layer's
// capacity) and then updates every chosen neighbor's backlink, without
// touching the graph header. A crash after this call returns but before
// Publish leaves id as a ghost node.
//
// candidatesPerLayer[l] is the set of already-present node ids considered
// for layer l; it is filtered here to id2 < id, id2 != id, id2 !=
// graph.InvalidNodeID before selection, per the edge-case policy.
func (e *Engine) WriteAndBacklink(id uint64, layerCount uint8, candidatesPerLayer [][]uint64) error {
	if id != e.graph.NodeCount() {
		return &storage.Error{Kind: storage.ErrNonMonotonicID, Context: "link: insert_node"}
	}
	baseVec, err := e.vectorAt(id)
	if err != nil {
		return err
	}

	params := e.graph.Params()
	rec := graph.NewRecord(id, layerCount, params)

	for l := uint8(0); l < layerCount; l++ {
		filtered := filterCandidates(candidatesPerLayer, l, id)
		target := params.MaxNeighbors(l)
		chosen, err := e.selectDiverse(baseVec, filtered, target, graph.InvalidNodeID)
		if err != nil {
			return err
		}
		rec.SetNeighbors(l, chosen)
	}

	if err := e.graph.WriteNode(rec); err != nil { // step 1
		return err
	}

	for l := uint8(0); l < layerCount; l++ {
		for _, nb := range rec.Layers[l] {
			if nb == graph.InvalidNodeID {
				continue
			}
			if err := e.addBackwardLinkWithPruning(nb, id, l); err != nil { // step 2
				return err
			}
		}
	}
	return nil
}

func filterCandidates(candidatesPerLayer [][]uint64, l uint8, id uint64) []uint64 {
	if int(l) >= len(candidatesPerLayer) {
		return nil
	}
	raw := candidatesPerLayer[l]
	out := make([]uint64, 0, len(raw))
	for _, c := range raw {
		if c == id || c == graph.InvalidNodeID || c >= id {
			continue
		}
		out = append(out, c)
	}
	return out
}

// addBackwardLinkWithPruning installs a backward edge neighborID -> newNodeID
// at layer, appending directly if there is room and otherwise re-running
// diversity selection over the neighbor's existing edges plus the new
// node. It is idempotent: repeating it after a successful completion is a
// no-op.
func (e *Engine) addBackwardLinkWithPruning(neighborID, newNodeID uint64, layer uint8) error {
	rec, err := e.graph.ReadNode(neighborID)
	if err != nil {
		return err
	}
	if int(layer) >= len(rec.Layers) {
		return nil // neighbor never reached this layer; nothing to link
	}
	for _, existing := range rec.Layers[layer] {
		if existing == newNodeID {
			return nil // already linked
		}
	}

	maxN := rec.Params.MaxNeighbors(layer)
	if rec.NeighborCount(layer) < maxN {
		rec.AddNeighbor(layer, newNodeID)
		return e.graph.WriteNode(rec)
	}

	baseVec, err := e.vectorAt(neighborID)
	if err != nil {
		return err
	}
	candidates := append(rec.NeighborsIter(layer), newNodeID)
	chosen, err := e.selectDiverse(baseVec, candidates, maxN, newNodeID)
	if err != nil {
		return err
	}
	rec.SetNeighbors(layer, chosen)
	return e.graph.WriteNode(rec)
}

// Publish performs step 3: it advances NodeCount and, if warranted,
// EntryPoint. Call it only after WriteAndBacklink has completed for the
// same id.
func (e *Engine) Publish(id uint64, layerCount uint8) error {
	return e.graph.Publish(id, layerCount)
}

// InsertNode is the convenience wrapper sequencing all three steps for
// callers that do not need to interleave them (e.g. to simulate or test a
// crash).
func (e *Engine) InsertNode(id uint64, layerCount uint8, candidatesPerLayer [][]uint64) error {
	if err := e.WriteAndBacklink(id, layerCount, candidatesPerLayer); err != nil {
		return err
	}
	return e.Publish(id, layerCount)
}

// selectDiverse implements Heuristic 2: sort candidates by distance to
// base ascending, then greedily accept a candidate only if it is strictly
// closer to base than to every already-accepted candidate. If diversity
// pruning starves the result below half of target, the closest remaining
// candidates are used to fill it back up. If preferNode is present among
// the target-closest candidates but was dropped by diversity filtering,
// it is force-included (evicting the least-close accepted candidate if
// necessary) to preserve graph connectivity for the node that triggered
// this selection.
func (e *Engine) selectDiverse(baseVec []float32, candidates []uint64, target int, preferNode uint64) ([]uint64, error) {
	if len(candidates) <= target {
		return candidates, nil
	}

	points := make([][]float32, 0, len(candidates)+1)
	points = append(points, baseVec)
	ids := make([]uint64, 0, MaxM)
	// Truncate to at most MaxM by distance to base before building the
	// cache, per the documented cache-capacity contract.
	type cd struct {
		id   uint64
		dist float32
	}
	all := make([]cd, len(candidates))
	for i, id := range candidates {
		vec, err := e.vectorAt(id)
		if err != nil {
			return nil, err
		}
		d, err := simd.Euclidean(baseVec, vec)
		if err != nil {
			return nil, err
		}
		all[i] = cd{id: id, dist: d}
	}
	sort.Slice(all, func(i, j int) bool { return lessTotal(all[i].dist, all[j].dist) })
	if len(all) > MaxM {
		all = all[:MaxM]
	}
	for _, c := range all {
		ids = append(ids, c.id)
		vec, _ := e.vectorAt(c.id)
		points = append(points, vec)
	}

	dc, err := newDistanceCache(points)
	if err != nil {
		return nil, err
	}

	n := len(ids)
	order := make([]int, n) // indices into ids, sorted by distance to base ascending
	for i := range order {
		order[i] = i
	}
	distToBase := make([]float32, n)
	for i := 0; i < n; i++ {
		d, err := dc.dist(0, i+1)
		if err != nil {
			return nil, err
		}
		distToBase[i] = d
	}
	sort.Slice(order, func(a, b int) bool { return lessTotal(distToBase[order[a]], distToBase[order[b]]) })

	selected := make([]int, 0, target)
	acceptedSet := make(map[int]bool, target)
	for _, idx := range order {
		if len(selected) >= target {
			break
		}
		accept := true
		for _, s := range selected {
			interDist, err := dc.dist(idx+1, s+1)
			if err != nil {
				return nil, err
			}
			if !lessTotal(distToBase[idx], interDist) {
				accept = false
				break
			}
		}
		if accept {
			selected = append(selected, idx)
			acceptedSet[idx] = true
		}
	}

	minAccept := target / 2
	if minAccept < 1 {
		minAccept = 1
	}
	if len(selected) < minAccept {
		for _, idx := range order {
			if len(selected) >= target {
				break
			}
			if acceptedSet[idx] {
				continue
			}
			selected = append(selected, idx)
			acceptedSet[idx] = true
		}
	}

	if preferNode != graph.InvalidNodeID {
		preferIdx := -1
		for i, id := range ids {
			if id == preferNode {
				preferIdx = i
				break
			}
		}
		if preferIdx >= 0 && !acceptedSet[preferIdx] {
			rank := -1
			for r, idx := range order {
				if idx == preferIdx {
					rank = r
					break
				}
			}
			if rank >= 0 && rank < target {
				if len(selected) < target {
					selected = append(selected, preferIdx)
				} else if len(selected) > 0 {
					selected[len(selected)-1] = preferIdx
				}
			}
		}
	}

	out := make([]uint64, len(selected))
	for i, idx := range selected {
		out[i] = ids[idx]
	}
	return out, nil
}

// lessTotal is the NaN-safe total order the spec requires throughout
// distance comparisons: any NaN sorts last, -0 is less than +0.
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
