package link

import (
	"path/filepath"
	"testing"

	"github.com/chassis-db/chassis/graph"
	"github.com/chassis-db/chassis/storage"
)

type harness struct {
	sf *storage.File
	gf *graph.File
	e  *Engine
}

func newHarness(t *testing.T, dim uint32, params graph.RecordParams) *harness {
	path := filepath.Join(t.TempDir(), "t.chassis")
	sf, err := storage.Open(path, dim)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sf.Close() })
	gf, err := graph.Open(sf, params)
	if err != nil {
		t.Fatal(err)
	}
	return &harness{sf: sf, gf: gf, e: New(gf, sf)}
}

func (h *harness) addVector(t *testing.T, v []float32) uint64 {
	id, err := h.sf.InsertVector(v)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func smallParams() graph.RecordParams {
	return graph.RecordParams{M: 4, M0: 4, MaxLayers: 4}
}

func TestTwoPhaseProtocolLeavesGhostUntilPublish(t *testing.T) {
	h := newHarness(t, 2, smallParams())
	h.addVector(t, []float32{0, 0})
	if err := h.e.InsertNode(0, 1, nil); err != nil {
		t.Fatal(err)
	}

	h.addVector(t, []float32{1, 0})
	if err := h.e.WriteAndBacklink(1, 1, [][]uint64{{0}}); err != nil {
		t.Fatal(err)
	}
	if h.gf.NodeCount() != 1 {
		t.Fatalf("NodeCount after WriteAndBacklink = %d, want 1 (node 1 should be a ghost)", h.gf.NodeCount())
	}
	if _, err := h.gf.ReadNode(1); err == nil {
		t.Fatal("expected ghost node 1 to be unreadable before Publish")
	}

	if err := h.e.Publish(1, 1); err != nil {
		t.Fatal(err)
	}
	if h.gf.NodeCount() != 2 {
		t.Fatalf("NodeCount after Publish = %d, want 2", h.gf.NodeCount())
	}
	rec, err := h.gf.ReadNode(1)
	if err != nil {
		t.Fatal(err)
	}
	if rec.NeighborCount(0) != 1 {
		t.Fatalf("node 1 forward neighbor count = %d, want 1", rec.NeighborCount(0))
	}
}

func TestBacklinkInstalledOnNeighbor(t *testing.T) {
	h := newHarness(t, 2, smallParams())
	h.addVector(t, []float32{0, 0})
	if err := h.e.InsertNode(0, 1, nil); err != nil {
		t.Fatal(err)
	}
	h.addVector(t, []float32{1, 0})
	if err := h.e.InsertNode(1, 1, [][]uint64{{0}}); err != nil {
		t.Fatal(err)
	}

	rec0, err := h.gf.ReadNode(0)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, nb := range rec0.NeighborsIter(0) {
		if nb == 1 {
			found = true
		}
	}
	if !found {
		t.Error("node 0 should have gained a backward link to node 1")
	}
}

func TestNonMonotonicIDRejected(t *testing.T) {
	h := newHarness(t, 2, smallParams())
	h.addVector(t, []float32{0, 0})
	h.addVector(t, []float32{1, 0})
	if err := h.e.InsertNode(1, 1, nil); err == nil {
		t.Fatal("expected NON_MONOTONIC_ID inserting id=1 before id=0")
	}
}

func TestIdempotentBacklink(t *testing.T) {
	h := newHarness(t, 2, smallParams())
	h.addVector(t, []float32{0, 0})
	h.addVector(t, []float32{1, 0})
	if err := h.e.InsertNode(0, 1, nil); err != nil {
		t.Fatal(err)
	}
	if err := h.e.InsertNode(1, 1, [][]uint64{{0}}); err != nil {
		t.Fatal(err)
	}
	rec, err := h.gf.ReadNode(0)
	if err != nil {
		t.Fatal(err)
	}
	before := rec.NeighborCount(0)

	if err := h.e.addBackwardLinkWithPruning(0, 1, 0); err != nil {
		t.Fatal(err)
	}
	rec2, err := h.gf.ReadNode(0)
	if err != nil {
		t.Fatal(err)
	}
	if rec2.NeighborCount(0) != before {
		t.Errorf("repeating a completed backlink changed neighbor count: before=%d after=%d", before, rec2.NeighborCount(0))
	}
}

func TestSelectDiverseShortCircuitsWhenWithinTarget(t *testing.T) {
	h := newHarness(t, 1, smallParams())
	h.addVector(t, []float32{0})
	h.addVector(t, []float32{1})
	h.addVector(t, []float32{2})
	if err := h.e.InsertNode(0, 1, nil); err != nil {
		t.Fatal(err)
	}
	if err := h.e.InsertNode(1, 1, nil); err != nil {
		t.Fatal(err)
	}
	if err := h.e.InsertNode(2, 1, nil); err != nil {
		t.Fatal(err)
	}

	base, err := h.sf.VectorSlice(2)
	if err != nil {
		t.Fatal(err)
	}
	chosen, err := h.e.selectDiverse(base, []uint64{0, 1}, 4, graph.InvalidNodeID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chosen) != 2 {
		t.Fatalf("expected short-circuit to return all 2 candidates, got %v", chosen)
	}
}

func TestSelectDiverseStarvationFallbackOnIdenticalVectors(t *testing.T) {
	h := newHarness(t, 1, smallParams())
	var ids []uint64
	for i := 0; i < 8; i++ {
		ids = append(ids, h.addVector(t, []float32{0}))
	}
	for _, id := range ids {
		if err := h.e.InsertNode(id, 1, nil); err != nil {
			t.Fatal(err)
		}
	}
	base, err := h.sf.VectorSlice(ids[0])
	if err != nil {
		t.Fatal(err)
	}
	target := 4
	chosen, err := h.e.selectDiverse(base, ids[1:], target, graph.InvalidNodeID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chosen) != target {
		t.Fatalf("starvation fallback on identical vectors: got %d neighbors, want %d", len(chosen), target)
	}
}

func TestSelectDiversePrefersConnectivityNode(t *testing.T) {
	h := newHarness(t, 1, smallParams())
	// Four collinear candidates where the second-closest is dropped by
	// diversity pruning (it sits behind the closest relative to base);
	// marking it as preferNode should force it back in.
	vecs := [][]float32{{0}, {1}, {2}, {3}, {100}}
	var ids []uint64
	for _, v := range vecs {
		ids = append(ids, h.addVector(t, v))
	}
	for _, id := range ids {
		if err := h.e.InsertNode(id, 1, nil); err != nil {
			t.Fatal(err)
		}
	}
	base, err := h.sf.VectorSlice(ids[0])
	if err != nil {
		t.Fatal(err)
	}
	prefer := ids[2]
	chosen, err := h.e.selectDiverse(base, ids[1:], 2, prefer)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, id := range chosen {
		if id == prefer {
			found = true
		}
	}
	if !found {
		t.Errorf("expected preferNode %d to survive selection, got %v", prefer, chosen)
	}
}

func TestDistanceCacheSymmetric(t *testing.T) {
	points := [][]float32{{0, 0}, {3, 4}, {1, 1}}
	dc, err := newDistanceCache(points)
	if err != nil {
		t.Fatal(err)
	}
	d1, err := dc.dist(0, 1)
	if err != nil {
		t.Fatal(err)
	}
	d2, err := dc.dist(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if d1 != d2 {
		t.Errorf("dist(0,1)=%v dist(1,0)=%v, want equal", d1, d2)
	}
	if d1 != 5 {
		t.Errorf("dist((0,0),(3,4))=%v, want 5", d1)
	}
}

func TestDistanceCacheRejectsOversizedCandidateSet(t *testing.T) {
	points := make([][]float32, MaxCachePoints+1)
	for i := range points {
		points[i] = []float32{float32(i)}
	}
	if _, err := newDistanceCache(points); err == nil {
		t.Fatal("expected CAPACITY_EXCEEDED for an oversized point set")
	}
}
