// Package graph implements the fixed-width HNSW node record and the graph
// file region layered on top of a storage.File: the graph header, O(1)
// node addressing, and zero-copy neighbor iteration directly over the
// memory-mapped bytes.
package graph

import (
	"encoding/binary"

	"github.com/chassis-db/chassis/storage"
)

// InvalidNodeID is the sentinel filling unused adjacency slots.
const InvalidNodeID uint64 = ^uint64(0)

// nodeHeaderSize is the fixed 16-byte prefix of every node record: id (8),
// layer_count (1), 7 bytes reserved.
const nodeHeaderSize = 16

// RecordParams are the geometry parameters fixed for the lifetime of a
// file: they determine the constant record size R and must never change
// once a file has nodes in it.
type RecordParams struct {
	M         uint16 // neighbor capacity at layers > 0
	M0        uint16 // neighbor capacity at layer 0
	MaxLayers uint8  // maximum number of layers a node may span
	Metric    Metric // distance metric the graph was built under; doesn't affect record layout, only validated on open
}

// DefaultM, DefaultM0, and DefaultMaxLayers mirror the programmatic surface
// defaults (§6): M0 = 2M, a layer-selection multiplier of 1/ln(M).
const (
	DefaultM         uint16 = 16
	DefaultM0        uint16 = 2 * DefaultM
	DefaultMaxLayers uint8  = 16
)

// RecordSize returns R, the constant per-node record size in bytes,
// rounded up to an 8-byte boundary (it already is, since every term below
// is a multiple of 8, but the rounding is kept explicit to match the
// documented computation).
func (p RecordParams) RecordSize() int64 {
	size := int64(nodeHeaderSize) + int64(p.M0)*8 + int64(p.MaxLayers-1)*int64(p.M)*8
	if rem := size % 8; rem != 0 {
		size += 8 - rem
	}
	return size
}

// LayerOffset returns the byte offset of layer l's adjacency slot within
// a single node record.
func (p RecordParams) LayerOffset(l uint8) int64 {
	if l == 0 {
		return nodeHeaderSize
	}
	return nodeHeaderSize + int64(p.M0)*8 + int64(l-1)*int64(p.M)*8
}

// MaxNeighbors returns the adjacency slot capacity of layer l.
func (p RecordParams) MaxNeighbors(l uint8) int {
	if l == 0 {
		return int(p.M0)
	}
	return int(p.M)
}

// Record is the in-memory, mutable form of one node record: a header plus
// one neighbor slice per layer, each already sized to that layer's
// capacity and sentinel-padded.
type Record struct {
	ID         uint64
	LayerCount uint8
	Params     RecordParams
	Layers     [][]uint64 // Layers[l] has length Params.MaxNeighbors(l)
}

// NewRecord allocates a zeroed (all-INVALID_NODE_ID) record for id with
// layerCount layers.
func NewRecord(id uint64, layerCount uint8, params RecordParams) *Record {
	r := &Record{ID: id, LayerCount: layerCount, Params: params}
	r.Layers = make([][]uint64, layerCount)
	for l := uint8(0); l < layerCount; l++ {
		slot := make([]uint64, params.MaxNeighbors(l))
		for i := range slot {
			slot[i] = InvalidNodeID
		}
		r.Layers[l] = slot
	}
	return r
}

// NeighborCount returns the number of non-sentinel neighbors stored at
// layer l.
func (r *Record) NeighborCount(l uint8) int {
	if int(l) >= len(r.Layers) {
		return 0
	}
	n := 0
	for _, id := range r.Layers[l] {
		if id != InvalidNodeID {
			n++
		}
	}
	return n
}

// AddNeighbor appends id to layer l's slot if there is room. If id is
// already present it reports true without mutating anything, even when the
// slot is full; otherwise it reports false (without mutating anything) if
// the slot is already full.
func (r *Record) AddNeighbor(l uint8, id uint64) bool {
	if int(l) >= len(r.Layers) {
		return false
	}
	slot := r.Layers[l]
	for _, existing := range slot {
		if existing == id {
			return true // already present; idempotent no-op
		}
	}
	for i, existing := range slot {
		if existing == InvalidNodeID {
			slot[i] = id
			return true
		}
	}
	return false
}

// SetNeighbors overwrites layer l's slot with ids, sentinel-padding the
// remainder. It panics if l is out of range or len(ids) exceeds the
// layer's capacity — both are programmer errors (malformed candidate
// sets), not recoverable runtime conditions.
func (r *Record) SetNeighbors(l uint8, ids []uint64) {
	if int(l) >= len(r.Layers) {
		panic("graph: SetNeighbors: layer out of range")
	}
	slot := r.Layers[l]
	if len(ids) > len(slot) {
		panic("graph: SetNeighbors: too many neighbors for layer capacity")
	}
	copy(slot, ids)
	for i := len(ids); i < len(slot); i++ {
		slot[i] = InvalidNodeID
	}
}

// NeighborsIter returns the non-sentinel neighbor ids of layer l, in slot
// order. Unlike the mmap-backed iterator in file.go, this allocates — it
// is meant for already-materialized in-memory Records, not the search hot
// path.
func (r *Record) NeighborsIter(l uint8) []uint64 {
	if int(l) >= len(r.Layers) {
		return nil
	}
	out := make([]uint64, 0, len(r.Layers[l]))
	for _, id := range r.Layers[l] {
		if id != InvalidNodeID {
			out = append(out, id)
		}
	}
	return out
}

// ToBytes serializes the record to its fixed-width on-disk form.
func (r *Record) ToBytes() []byte {
	buf := make([]byte, r.Params.RecordSize())
	binary.LittleEndian.PutUint64(buf[0:8], r.ID)
	buf[8] = r.LayerCount
	for l := uint8(0); l < r.LayerCount; l++ {
		off := r.Params.LayerOffset(l)
		for i, id := range r.Layers[l] {
			binary.LittleEndian.PutUint64(buf[off+int64(i)*8:], id)
		}
	}
	// Slots for layers >= LayerCount stay INVALID_NODE_ID (0xFF bytes).
	for l := r.LayerCount; l < uint8(r.Params.MaxLayers); l++ {
		off := r.Params.LayerOffset(l)
		n := r.Params.MaxNeighbors(l)
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint64(buf[off+int64(i)*8:], InvalidNodeID)
		}
	}
	return buf
}

// FromBytes parses a fixed-width node record out of b, which must be at
// least params.RecordSize() bytes. It fails with storage.ErrCorruptRecord
// if layer_count is 0, exceeds MaxLayers, or id is the INVALID_NODE_ID
// sentinel reserved for empty slots.
func FromBytes(b []byte, params RecordParams) (*Record, error) {
	size := params.RecordSize()
	if int64(len(b)) < size {
		return nil, &storage.Error{Kind: storage.ErrCorruptRecord, Context: "graph: truncated node record"}
	}
	layerCount := b[8]
	if layerCount == 0 {
		return nil, &storage.Error{Kind: storage.ErrCorruptRecord, Context: "graph: layer_count is 0"}
	}
	if layerCount > params.MaxLayers {
		return nil, &storage.Error{Kind: storage.ErrCorruptRecord, Context: "graph: layer_count exceeds max_layers"}
	}
	id := binary.LittleEndian.Uint64(b[0:8])
	if id == InvalidNodeID {
		return nil, &storage.Error{Kind: storage.ErrCorruptRecord, Context: "graph: node_id is the INVALID_NODE_ID sentinel"}
	}
	r := &Record{
		ID:         id,
		LayerCount: layerCount,
		Params:     params,
		Layers:     make([][]uint64, layerCount),
	}
	for l := uint8(0); l < layerCount; l++ {
		off := params.LayerOffset(l)
		n := params.MaxNeighbors(l)
		slot := make([]uint64, n)
		for i := 0; i < n; i++ {
			slot[i] = binary.LittleEndian.Uint64(b[off+int64(i)*8:])
		}
		r.Layers[l] = slot
	}
	return r, nil
}
