package graph

import (
	"encoding/binary"

	"github.com/chassis-db/chassis/storage"
)

// initialReservedVectors sizes the gap left between the end of the
// Storage Header and the first placement of the graph zone, when a file
// is created fresh. It is deliberately modest (unlike the original
// implementation's fixed 1 GiB gap) so that ordinary test and demo
// workloads exercise relocation (EnsureRoomForVectors) rather than relying on an oversized sparse
// region to paper over the question; see DESIGN.md.
const initialReservedVectors = 256

// File owns the Graph Header and the Node Zone living inside a
// storage.File's mapping at storage.GraphStart(). It provides O(1) node
// addressing, record read/write, and zero-copy neighbor iteration
// straight out of the mapping.
type File struct {
	storage *storage.File
	params  RecordParams
	header  Header
	start   int64
}

// Open establishes (or reopens) the graph region on top of sf. On a brand
// new storage file (GraphStart() == 0) it reserves space and writes a
// fresh Graph Header; otherwise it validates the existing header's
// geometry against params.
func Open(sf *storage.File, params RecordParams) (*File, error) {
	start := int64(sf.GraphStart())
	if start == 0 {
		start = alignUp(int64(storage.HeaderSize)+initialReservedVectors*int64(sf.Dimension())*4, storage.PageSize)
		if err := sf.EnsureCapacity(start + GraphHeaderSize); err != nil {
			return nil, err
		}
		if err := sf.SetGraphStart(uint64(start)); err != nil {
			return nil, err
		}
		h := Header{
			Version:    CurrentGraphVersion,
			M:          params.M,
			M0:         params.M0,
			MaxLayers:  params.MaxLayers,
			Metric:     params.Metric,
			EntryPoint: InvalidNodeID,
		}
		gf := &File{storage: sf, params: params, header: h, start: start}
		if err := gf.writeHeader(); err != nil {
			return nil, err
		}
		return gf, nil
	}

	if err := sf.EnsureCapacity(start + GraphHeaderSize); err != nil {
		return nil, err
	}
	h, err := DecodeGraphHeader(sf.Bytes()[start : start+GraphHeaderSize])
	if err != nil {
		return nil, err
	}
	if h.M != params.M || h.M0 != params.M0 || h.MaxLayers != params.MaxLayers {
		return nil, &storage.Error{Kind: storage.ErrCorruptHeader, Context: "graph: geometry parameters changed since file creation"}
	}
	if h.Metric != params.Metric {
		return nil, &storage.Error{Kind: storage.ErrCorruptHeader, Context: "graph: file was created under a different distance metric"}
	}
	return &File{storage: sf, params: params, header: *h, start: start}, nil
}

func (gf *File) writeHeader() error {
	b := EncodeGraphHeader(&gf.header)
	copy(gf.storage.Bytes()[gf.start:gf.start+GraphHeaderSize], b)
	return nil
}

// NodeCount is N_g: the sole authority on how many node records are
// visible.
func (gf *File) NodeCount() uint64 { return gf.header.NodeCount }

// EntryPoint is the current search entry node id, or InvalidNodeID if the
// graph is empty.
func (gf *File) EntryPoint() uint64 { return gf.header.EntryPoint }

// Params returns the geometry this graph region was created with.
func (gf *File) Params() RecordParams { return gf.params }

// NodeOffset computes the file offset of node i in a single
// multiplication: no hash map, no indirection.
func (gf *File) NodeOffset(id uint64) int64 {
	return gf.start + GraphHeaderSize + int64(id)*gf.params.RecordSize()
}

// EnsureNodeCapacity grows the underlying file so that node ids up to (but
// not including) n fit in the mapping.
func (gf *File) EnsureNodeCapacity(n uint64) error {
	if n == 0 {
		return nil
	}
	end := gf.NodeOffset(n - 1) + gf.params.RecordSize()
	return gf.storage.EnsureCapacity(end)
}

// EnsureRoomForVectors relocates the graph zone further out in the file,
// if necessary, so that the vector zone can grow to hold newVectorCount
// vectors without overrunning the graph region. It is a no-op in the
// common case where the reserved gap has not been exhausted.
func (gf *File) EnsureRoomForVectors(newVectorCount uint64) error {
	required := int64(storage.HeaderSize) + int64(newVectorCount)*int64(gf.storage.Dimension())*4
	if required <= gf.start {
		return nil
	}
	newStart := alignUp(required*2, storage.PageSize)
	return gf.relocate(newStart)
}

func (gf *File) relocate(newStart int64) error {
	length := GraphHeaderSize + int64(gf.header.NodeCount)*gf.params.RecordSize()
	if err := gf.storage.RelocateGraphZone(newStart, length); err != nil {
		return err
	}
	gf.start = newStart
	return gf.writeHeader()
}

// ReadNode reads and decodes the node record for id. id must be < NodeCount.
func (gf *File) ReadNode(id uint64) (*Record, error) {
	if id >= gf.header.NodeCount {
		return nil, &storage.Error{Kind: storage.ErrIndexOutOfBounds, Context: "graph: read_node_record"}
	}
	off := gf.NodeOffset(id)
	size := gf.params.RecordSize()
	b := gf.storage.Bytes()
	if int64(len(b)) < off+size {
		return nil, &storage.Error{Kind: storage.ErrCorruptRecord, Context: "graph: node record outside mapped range"}
	}
	return FromBytes(b[off:off+size], gf.params)
}

// WriteNode persists r's bytes at its own offset, growing the file if
// needed. It never advances NodeCount — that is Publish's job, and the
// separation is exactly what makes the linking engine's three-step
// protocol crash-consistent.
func (gf *File) WriteNode(r *Record) error {
	if err := gf.EnsureNodeCapacity(r.ID + 1); err != nil {
		return err
	}
	off := gf.NodeOffset(r.ID)
	size := gf.params.RecordSize()
	copy(gf.storage.Bytes()[off:off+size], r.ToBytes())
	return nil
}

// Publish advances NodeCount to id+1 and, if the newly written node's
// layer count is strictly above the current entry point's, makes it the
// new entry point. This is the header-counter write that makes a node
// visible; it must only be called after WriteNode(id) and every backlink
// update have completed.
func (gf *File) Publish(id uint64, layerCount uint8) error {
	if id != gf.header.NodeCount {
		return &storage.Error{Kind: storage.ErrNonMonotonicID, Context: "graph: publish"}
	}
	becomesEntry := gf.header.EntryPoint == InvalidNodeID
	if !becomesEntry {
		entryRec, err := gf.readNodeUnpublished(gf.header.EntryPoint)
		if err != nil {
			return err
		}
		if layerCount > entryRec.LayerCount {
			becomesEntry = true
		}
	}
	gf.header.NodeCount = id + 1
	if becomesEntry {
		gf.header.EntryPoint = id
	}
	return gf.writeHeader()
}

// readNodeUnpublished reads a record regardless of NodeCount — needed by
// Publish, which must inspect the current entry point before NodeCount
// (and therefore ReadNode's visibility check) has advanced past it; the
// entry point, by construction, is always < NodeCount already.
func (gf *File) readNodeUnpublished(id uint64) (*Record, error) {
	off := gf.NodeOffset(id)
	size := gf.params.RecordSize()
	b := gf.storage.Bytes()
	if int64(len(b)) < off+size {
		return nil, &storage.Error{Kind: storage.ErrCorruptRecord, Context: "graph: node record outside mapped range"}
	}
	return FromBytes(b[off:off+size], gf.params)
}

// NeighborIter is a zero-allocation, stateful iterator over one node's
// adjacency slot at a given layer, skipping sentinel entries. It reads
// directly out of the live mapping.
type NeighborIter struct {
	data []byte
	off  int64
	n    int
	i    int
}

// Next returns the next non-sentinel neighbor id, or (0, false) when
// exhausted.
func (it *NeighborIter) Next() (uint64, bool) {
	for it.i < it.n {
		idx := it.i
		it.i++
		id := binary.LittleEndian.Uint64(it.data[it.off+int64(idx)*8:])
		if id != InvalidNodeID {
			return id, true
		}
	}
	return 0, false
}

// NeighborsIterMmap returns a zero-copy iterator over node id's layer-l
// adjacency slot. It is the hot-path primitive the search and linking
// engines use instead of materializing a Record: it reads only the
// layer_count byte out of the mapping, never decoding the rest of the
// node header or any other layer's slot.
func (gf *File) NeighborsIterMmap(id uint64, l uint8) (*NeighborIter, error) {
	nodeOff := gf.NodeOffset(id)
	size := gf.params.RecordSize()
	b := gf.storage.Bytes()
	if int64(len(b)) < nodeOff+size {
		return nil, &storage.Error{Kind: storage.ErrCorruptRecord, Context: "graph: node record outside mapped range"}
	}
	layerCount := b[nodeOff+8]
	if l >= layerCount {
		return &NeighborIter{}, nil
	}
	off := nodeOff + gf.params.LayerOffset(l)
	n := gf.params.MaxNeighbors(l)
	return &NeighborIter{data: b, off: off, n: n}, nil
}

func alignUp(x, align int64) int64 {
	if align <= 0 {
		return x
	}
	if rem := x % align; rem != 0 {
		return x + (align - rem)
	}
	return x
}
