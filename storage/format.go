// Package storage implements the single memory-mapped file that backs a
// Chassis index: the Storage Header, the Vector Zone, and (as an opaque
// byte range delegated to the graph package) the Graph Zone.
package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	// HeaderSize is the fixed, page-sized Storage Header.
	HeaderSize = 4096

	// Magic identifies a Chassis data file.
	Magic = "CHASSIS\x00"

	// CurrentVersion is the format version this package writes and the
	// highest version it will open.
	CurrentVersion uint32 = 1

	// MaxDimension bounds the vector dimension a file may declare.
	MaxDimension = 4096

	// PageSize is the unit of file growth; file size is always a
	// multiple of it.
	PageSize = 4096
)

// Header is the bit-exact layout of the 4096-byte Storage Header described
// in the file format: magic, version, dimension, vector count, and the
// persisted start offset of the graph region. Everything past byte 32 is
// reserved and zeroed.
type Header struct {
	Magic       [8]byte
	Version     uint32
	Dimension   uint32
	VectorCount uint64
	GraphStart  uint64
	Reserved    [HeaderSize - 32]byte
}

var errHeaderNil = errors.New("storage: header is nil")

// EncodeHeader serializes h to exactly HeaderSize bytes in little-endian
// (native on every platform this module targets) byte order.
func EncodeHeader(h *Header) ([]byte, error) {
	if h == nil {
		return nil, errHeaderNil
	}
	copy(h.Magic[:], Magic)
	var w bytes.Buffer
	w.Grow(HeaderSize)
	if err := binary.Write(&w, binary.LittleEndian, h); err != nil {
		return nil, err
	}
	b := w.Bytes()
	if len(b) != HeaderSize {
		// binary.Write on a fixed-size struct always produces a fixed
		// number of bytes; this would only trip if the struct shape
		// above is edited without updating HeaderSize.
		padded := make([]byte, HeaderSize)
		copy(padded, b)
		return padded, nil
	}
	return b, nil
}

// DecodeHeader parses and validates the Storage Header from src, which
// must be at least HeaderSize bytes. It fails with ErrCorruptHeader if the
// magic or version do not match, or if the declared dimension is out of
// range.
func DecodeHeader(src []byte) (*Header, error) {
	if len(src) < HeaderSize {
		return nil, &Error{Kind: ErrCorruptHeader, Context: "storage: truncated header"}
	}
	var h Header
	if err := binary.Read(bytes.NewReader(src[:HeaderSize]), binary.LittleEndian, &h); err != nil {
		return nil, &Error{Kind: ErrCorruptHeader, Context: "storage: malformed header", Cause: err}
	}
	if string(h.Magic[:]) != Magic {
		return nil, &Error{Kind: ErrCorruptHeader, Context: "storage: bad magic"}
	}
	if h.Version == 0 || h.Version > CurrentVersion {
		return nil, &Error{Kind: ErrCorruptHeader, Context: "storage: unsupported format version"}
	}
	if h.Dimension == 0 || h.Dimension > MaxDimension {
		return nil, &Error{Kind: ErrCorruptHeader, Context: "storage: dimension out of range"}
	}
	return &h, nil
}

// alignUp rounds x up to the next multiple of align.
func alignUp(x, align int64) int64 {
	if align <= 0 {
		return x
	}
	if rem := x % align; rem != 0 {
		return x + (align - rem)
	}
	return x
}
