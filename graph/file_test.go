package graph

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/chassis-db/chassis/storage"
)

func openTestFile(t *testing.T, dim uint32) *storage.File {
	path := filepath.Join(t.TempDir(), "t.chassis")
	sf, err := storage.Open(path, dim)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sf.Close() })
	return sf
}

func testParams() RecordParams {
	return RecordParams{M: 16, M0: 32, MaxLayers: 4}
}

func TestRecordSizeMatchesFormula(t *testing.T) {
	p := testParams()
	// header(16) + M0*8 + (max_layers-1)*M*8 = 16 + 32*8 + 3*16*8 = 16+256+384 = 656
	if got, want := p.RecordSize(), int64(656); got != want {
		t.Errorf("RecordSize() = %d, want %d", got, want)
	}
}

func TestNodeOffsetIsSingleMultiplication(t *testing.T) {
	sf := openTestFile(t, 3)
	gf, err := Open(sf, testParams())
	if err != nil {
		t.Fatal(err)
	}
	base := gf.NodeOffset(0)
	r := gf.params.RecordSize()
	for i := uint64(1); i < 10; i++ {
		if got, want := gf.NodeOffset(i), base+int64(i)*r; got != want {
			t.Errorf("NodeOffset(%d) = %d, want %d", i, got, want)
		}
	}
}

func TestWriteReadPublishRoundtrip(t *testing.T) {
	sf := openTestFile(t, 3)
	gf, err := Open(sf, testParams())
	if err != nil {
		t.Fatal(err)
	}

	rec := NewRecord(0, 1, gf.Params())
	if err := gf.WriteNode(rec); err != nil {
		t.Fatal(err)
	}
	if gf.NodeCount() != 0 {
		t.Fatalf("NodeCount before Publish = %d, want 0", gf.NodeCount())
	}
	if err := gf.Publish(0, 1); err != nil {
		t.Fatal(err)
	}
	if gf.NodeCount() != 1 {
		t.Fatalf("NodeCount after Publish = %d, want 1", gf.NodeCount())
	}
	if gf.EntryPoint() != 0 {
		t.Fatalf("EntryPoint = %d, want 0", gf.EntryPoint())
	}

	got, err := gf.ReadNode(0)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != 0 || got.LayerCount != 1 {
		t.Errorf("ReadNode(0) = %+v", got)
	}
}

func TestToBytesFromBytesIdentity(t *testing.T) {
	p := testParams()
	rec := NewRecord(5, 2, p)
	rec.SetNeighbors(0, []uint64{1, 2, 3})
	rec.SetNeighbors(1, []uint64{0})

	b := rec.ToBytes()
	got, err := FromBytes(b, p)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != rec.ID || got.LayerCount != rec.LayerCount {
		t.Fatalf("roundtrip header mismatch: got %+v", got)
	}
	for l := uint8(0); l < rec.LayerCount; l++ {
		for i := range rec.Layers[l] {
			if got.Layers[l][i] != rec.Layers[l][i] {
				t.Errorf("layer %d slot %d: got %d want %d", l, i, got.Layers[l][i], rec.Layers[l][i])
			}
		}
	}
}

func TestFromBytesRejectsZeroLayerCount(t *testing.T) {
	p := testParams()
	rec := NewRecord(0, 1, p)
	b := rec.ToBytes()
	b[8] = 0
	_, err := FromBytes(b, p)
	serr, ok := err.(*storage.Error)
	if !ok || serr.Kind != storage.ErrCorruptRecord {
		t.Fatalf("FromBytes with layer_count=0: err = %v, want CORRUPT_RECORD", err)
	}
}

func TestFromBytesRejectsInvalidNodeIDSentinel(t *testing.T) {
	p := testParams()
	rec := NewRecord(0, 1, p)
	b := rec.ToBytes()
	binary.LittleEndian.PutUint64(b[0:8], InvalidNodeID)
	_, err := FromBytes(b, p)
	serr, ok := err.(*storage.Error)
	if !ok || serr.Kind != storage.ErrCorruptRecord {
		t.Fatalf("FromBytes with node_id=INVALID_NODE_ID: err = %v, want CORRUPT_RECORD", err)
	}
}

func TestGhostNodeNotVisibleUntilPublished(t *testing.T) {
	sf := openTestFile(t, 3)
	gf, err := Open(sf, testParams())
	if err != nil {
		t.Fatal(err)
	}
	rec := NewRecord(0, 1, gf.Params())
	if err := gf.WriteNode(rec); err != nil {
		t.Fatal(err)
	}
	// Simulate a crash between WriteNode and Publish: the bytes exist
	// but NodeCount was never advanced.
	if _, err := gf.ReadNode(0); err == nil {
		t.Fatal("expected INDEX_OUT_OF_BOUNDS for an unpublished ghost node")
	}
	if gf.NodeCount() != 0 {
		t.Fatalf("NodeCount = %d, want 0 before publish", gf.NodeCount())
	}
	// The next real insertion reuses id 0 and publishes normally.
	if err := gf.Publish(0, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := gf.ReadNode(0); err != nil {
		t.Fatalf("ReadNode(0) after publish: %v", err)
	}
}

func TestNeighborsIterMmapSkipsSentinels(t *testing.T) {
	sf := openTestFile(t, 3)
	gf, err := Open(sf, testParams())
	if err != nil {
		t.Fatal(err)
	}
	for i := uint64(0); i < 3; i++ {
		filler := NewRecord(i, 1, gf.Params())
		if err := gf.WriteNode(filler); err != nil {
			t.Fatal(err)
		}
		if err := gf.Publish(i, 1); err != nil {
			t.Fatal(err)
		}
	}

	rec := NewRecord(3, 1, gf.Params())
	rec.SetNeighbors(0, []uint64{0, 2})
	if err := gf.WriteNode(rec); err != nil {
		t.Fatal(err)
	}
	if err := gf.Publish(3, 1); err != nil {
		t.Fatal(err)
	}

	it, err := gf.NeighborsIterMmap(3, 0)
	if err != nil {
		t.Fatal(err)
	}
	var got []uint64
	for {
		id, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, id)
	}
	if len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Errorf("NeighborsIterMmap = %v, want [0 2]", got)
	}
}

func TestEnsureRoomForVectorsRelocatesGraphZone(t *testing.T) {
	sf := openTestFile(t, 3)
	gf, err := Open(sf, testParams())
	if err != nil {
		t.Fatal(err)
	}
	rec := NewRecord(0, 1, gf.Params())
	if err := gf.WriteNode(rec); err != nil {
		t.Fatal(err)
	}
	if err := gf.Publish(0, 1); err != nil {
		t.Fatal(err)
	}
	originalStart := gf.start

	// Force the vector zone past the small initial reservation.
	if err := gf.EnsureRoomForVectors(10000); err != nil {
		t.Fatal(err)
	}
	if gf.start <= originalStart {
		t.Fatalf("expected graph zone to relocate forward, start=%d original=%d", gf.start, originalStart)
	}
	if uint64(gf.start) != sf.GraphStart() {
		t.Errorf("storage header GraphStart=%d, graph.File start=%d out of sync", sf.GraphStart(), gf.start)
	}
	// The previously written node must have survived the move.
	got, err := gf.ReadNode(0)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != 0 {
		t.Errorf("ReadNode(0) after relocation: ID=%d", got.ID)
	}
}

func TestReopenWithDifferentMetricRejected(t *testing.T) {
	sf := openTestFile(t, 3)
	if _, err := Open(sf, testParams()); err != nil {
		t.Fatal(err)
	}

	mismatched := testParams()
	mismatched.Metric = Metric(1)
	_, err := Open(sf, mismatched)
	serr, ok := err.(*storage.Error)
	if !ok || serr.Kind != storage.ErrCorruptHeader {
		t.Fatalf("reopen with different metric: err = %v, want CORRUPT_HEADER", err)
	}
}
