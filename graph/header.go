package graph

import (
	"encoding/binary"
	"math"

	"github.com/chassis-db/chassis/storage"
)

const (
	// GraphHeaderSize is the fixed 64-byte, cache-line-aligned Graph
	// Header.
	GraphHeaderSize = 64

	// GraphMagic identifies the graph region within a Chassis file.
	GraphMagic = "CHGRAPH\x00"

	// CurrentGraphVersion is the only graph header version this package
	// writes or accepts.
	CurrentGraphVersion uint32 = 1
)

// Metric identifies the distance function a file's vectors were indexed
// with. It is recorded once at file creation and checked on every
// subsequent open, so a file can never be silently reinterpreted under a
// different metric than the one its graph was built with.
type Metric uint8

const (
	// MetricEuclidean is the only metric this engine computes distances
	// with. The tag exists for the other metrics the distance model was
	// designed to accommodate (cosine, dot product), not implemented here.
	MetricEuclidean Metric = 0
)

// Header is the bit-exact 64-byte Graph Header: magic, version, the fixed
// geometry parameters, the node count (sole authority on graph
// visibility), the entry-point id, and the construction defaults.
//
// There is deliberately no separate "current max layer" field: the
// highest populated layer is always the entry point node's own
// LayerCount - 1, read from its record, so storing it twice could only
// invite the two copies to drift.
type Header struct {
	Version        uint32
	M              uint16
	M0             uint16
	MaxLayers      uint8
	Metric         Metric
	NodeCount      uint64
	EntryPoint     uint64
	ML             float32
	EfConstruction uint32
}

// EncodeGraphHeader writes h to a fresh GraphHeaderSize-byte buffer using
// the exact field offsets the file format documents.
func EncodeGraphHeader(h *Header) []byte {
	b := make([]byte, GraphHeaderSize)
	copy(b[0:8], GraphMagic)
	binary.LittleEndian.PutUint32(b[8:12], h.Version)
	binary.LittleEndian.PutUint16(b[12:14], h.M)
	binary.LittleEndian.PutUint16(b[14:16], h.M0)
	b[16] = h.MaxLayers
	binary.LittleEndian.PutUint64(b[24:32], h.NodeCount)
	binary.LittleEndian.PutUint64(b[32:40], h.EntryPoint)
	binary.LittleEndian.PutUint32(b[40:44], math.Float32bits(h.ML))
	binary.LittleEndian.PutUint32(b[44:48], h.EfConstruction)
	b[48] = byte(h.Metric)
	return b
}

// DecodeGraphHeader parses and validates a Graph Header from b, which must
// be at least GraphHeaderSize bytes.
func DecodeGraphHeader(b []byte) (*Header, error) {
	if len(b) < GraphHeaderSize {
		return nil, &storage.Error{Kind: storage.ErrCorruptHeader, Context: "graph: truncated graph header"}
	}
	if string(b[0:8]) != GraphMagic {
		return nil, &storage.Error{Kind: storage.ErrCorruptHeader, Context: "graph: bad magic"}
	}
	h := &Header{
		Version:        binary.LittleEndian.Uint32(b[8:12]),
		M:              binary.LittleEndian.Uint16(b[12:14]),
		M0:             binary.LittleEndian.Uint16(b[14:16]),
		MaxLayers:      b[16],
		NodeCount:      binary.LittleEndian.Uint64(b[24:32]),
		EntryPoint:     binary.LittleEndian.Uint64(b[32:40]),
		ML:             math.Float32frombits(binary.LittleEndian.Uint32(b[40:44])),
		EfConstruction: binary.LittleEndian.Uint32(b[44:48]),
		Metric:         Metric(b[48]),
	}
	if h.Version == 0 || h.Version > CurrentGraphVersion {
		return nil, &storage.Error{Kind: storage.ErrCorruptHeader, Context: "graph: unsupported graph header version"}
	}
	return h, nil
}
