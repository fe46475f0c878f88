package storage

import (
	"os"
	"unsafe"

	"github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"
)

// File owns the single memory-mapped file backing a Chassis index: the
// Storage Header, the Vector Zone, and the raw bytes of whatever the graph
// package has placed at GraphStart. Apart from the exclusive OS file lock
// taken in Open, it performs no locking of its own — the SWMR contract (§5) is enforced by the chassis facade, which holds an
// exclusive lock around every mutator and a shared lock around readers,
// exactly as a single-process embedded engine with no internal concurrency
// needs.
type File struct {
	f          *os.File
	data       mmap.MMap
	header     Header
	generation uint64
	path       string
	locked     bool
}

// Open opens or creates the file at path. If dim is nonzero, it is
// validated against (or used to initialize) the file's declared
// dimension. The file is locked exclusively for the lifetime of the
// returned handle; a concurrent Open of the same path fails fast with
// ErrAlreadyLocked.
func Open(path string, dim uint32) (*File, error) {
	osFile, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, &Error{Kind: ErrIOFailure, Context: "storage: open", Cause: err}
	}

	if err := unix.Flock(int(osFile.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		osFile.Close()
		if err == unix.EWOULDBLOCK || err == unix.EAGAIN {
			return nil, &Error{Kind: ErrAlreadyLocked, Context: "storage: file is already open by another holder"}
		}
		return nil, &Error{Kind: ErrIOFailure, Context: "storage: flock", Cause: err}
	}

	info, err := osFile.Stat()
	if err != nil {
		unix.Flock(int(osFile.Fd()), unix.LOCK_UN)
		osFile.Close()
		return nil, &Error{Kind: ErrIOFailure, Context: "storage: stat", Cause: err}
	}

	if info.Size() < HeaderSize {
		if dim == 0 {
			unix.Flock(int(osFile.Fd()), unix.LOCK_UN)
			osFile.Close()
			return nil, &Error{Kind: ErrDimensionMismatch, Context: "storage: dimension required to create a new file"}
		}
		if dim > MaxDimension {
			unix.Flock(int(osFile.Fd()), unix.LOCK_UN)
			osFile.Close()
			return nil, &Error{Kind: ErrDimensionMismatch, Context: "storage: dimension exceeds MaxDimension"}
		}
		h := Header{Version: CurrentVersion, Dimension: dim}
		copy(h.Magic[:], Magic)
		hb, err := EncodeHeader(&h)
		if err != nil {
			unix.Flock(int(osFile.Fd()), unix.LOCK_UN)
			osFile.Close()
			return nil, err
		}
		if err := osFile.Truncate(HeaderSize); err != nil {
			unix.Flock(int(osFile.Fd()), unix.LOCK_UN)
			osFile.Close()
			return nil, &Error{Kind: ErrIOFailure, Context: "storage: truncate", Cause: err}
		}
		if _, err := osFile.WriteAt(hb, 0); err != nil {
			unix.Flock(int(osFile.Fd()), unix.LOCK_UN)
			osFile.Close()
			return nil, &Error{Kind: ErrIOFailure, Context: "storage: write header", Cause: err}
		}
		if err := osFile.Sync(); err != nil {
			unix.Flock(int(osFile.Fd()), unix.LOCK_UN)
			osFile.Close()
			return nil, &Error{Kind: ErrIOFailure, Context: "storage: sync", Cause: err}
		}
	}

	m, err := mmap.Map(osFile, mmap.RDWR, 0)
	if err != nil {
		unix.Flock(int(osFile.Fd()), unix.LOCK_UN)
		osFile.Close()
		return nil, &Error{Kind: ErrIOFailure, Context: "storage: mmap", Cause: err}
	}

	hdr, err := DecodeHeader(m)
	if err != nil {
		m.Unmap()
		unix.Flock(int(osFile.Fd()), unix.LOCK_UN)
		osFile.Close()
		return nil, err
	}
	if dim != 0 && hdr.Dimension != dim {
		m.Unmap()
		unix.Flock(int(osFile.Fd()), unix.LOCK_UN)
		osFile.Close()
		return nil, &Error{Kind: ErrDimensionMismatch, Context: "storage: dimension does not match existing file"}
	}

	return &File{
		f:      osFile,
		data:   m,
		header: *hdr,
		path:   path,
		locked: true,
	}, nil
}

// Close flushes, unmaps, unlocks, and closes the underlying file.
func (f *File) Close() error {
	if f.data != nil {
		if err := f.data.Unmap(); err != nil {
			return &Error{Kind: ErrIOFailure, Context: "storage: unmap", Cause: err}
		}
		f.data = nil
	}
	if f.locked {
		unix.Flock(int(f.f.Fd()), unix.LOCK_UN)
		f.locked = false
	}
	if f.f != nil {
		err := f.f.Close()
		f.f = nil
		if err != nil {
			return &Error{Kind: ErrIOFailure, Context: "storage: close", Cause: err}
		}
	}
	return nil
}

func (f *File) Dimension() uint32    { return f.header.Dimension }
func (f *File) VectorCount() uint64  { return f.header.VectorCount }
func (f *File) GraphStart() uint64   { return f.header.GraphStart }
func (f *File) Generation() uint64   { return f.generation }
func (f *File) Path() string         { return f.path }

// VectorZoneEnd returns the file offset one past the last byte of the
// densely packed vector zone, given the current vector count.
func (f *File) VectorZoneEnd() int64 {
	return int64(HeaderSize) + int64(f.header.VectorCount)*int64(f.header.Dimension)*4
}

// SetGraphStart persists a new graph-region start offset in the header.
// Called once by the graph package when it first establishes the graph
// zone, and again whenever the zone is relocated to make room for vector
// zone growth.
func (f *File) SetGraphStart(offset uint64) error {
	f.header.GraphStart = offset
	return f.writeHeader()
}

func (f *File) writeHeader() error {
	hb, err := EncodeHeader(&f.header)
	if err != nil {
		return err
	}
	copy(f.data[:HeaderSize], hb)
	return nil
}

// InsertVector appends v to the vector zone and advances the vector count.
// The count increment is the last write of the call, matching the
// data-before-header ordering the rest of the file format relies on.
func (f *File) InsertVector(v []float32) (uint64, error) {
	if uint32(len(v)) != f.header.Dimension {
		return 0, &Error{Kind: ErrDimensionMismatch, Context: "storage: insert_vector length"}
	}
	id := f.header.VectorCount
	end := int64(HeaderSize) + int64(id+1)*int64(f.header.Dimension)*4
	if err := f.EnsureCapacity(end); err != nil {
		return 0, err
	}
	off := int64(HeaderSize) + int64(id)*int64(f.header.Dimension)*4
	dst := unsafe.Slice((*float32)(unsafe.Pointer(&f.data[off])), len(v))
	copy(dst, v)
	f.header.VectorCount = id + 1
	if err := f.writeHeader(); err != nil {
		return 0, err
	}
	return id, nil
}

// VectorSlice returns a zero-copy view of vector id, backed directly by
// the live mapping. The slice must not be retained across any subsequent
// mutation, growth, or Commit: Generation reports the mapping's current
// generation so long-lived callers can detect invalidation.
func (f *File) VectorSlice(id uint64) ([]float32, error) {
	if id >= f.header.VectorCount {
		return nil, &Error{Kind: ErrIndexOutOfBounds, Context: "storage: vector_slice"}
	}
	off := int64(HeaderSize) + int64(id)*int64(f.header.Dimension)*4
	return unsafe.Slice((*float32)(unsafe.Pointer(&f.data[off])), f.header.Dimension), nil
}

// EnsureCapacity grows the file (and remaps it) so that it is at least
// bytes long, rounded up to the page size. Growth invalidates every
// outstanding zero-copy view by advancing the generation counter.
func (f *File) EnsureCapacity(bytes int64) error {
	if int64(len(f.data)) >= bytes {
		return nil
	}
	newSize := alignUp(bytes, PageSize)
	if err := f.data.Unmap(); err != nil {
		return &Error{Kind: ErrIOFailure, Context: "storage: unmap during growth", Cause: err}
	}
	if err := f.f.Truncate(newSize); err != nil {
		return &Error{Kind: ErrIOFailure, Context: "storage: truncate during growth", Cause: err}
	}
	m, err := mmap.Map(f.f, mmap.RDWR, 0)
	if err != nil {
		return &Error{Kind: ErrIOFailure, Context: "storage: remap during growth", Cause: err}
	}
	f.data = m
	f.generation++
	return nil
}

// Commit flushes the mapped region and forces the written bytes to the
// underlying device (fdatasync on Linux).
func (f *File) Commit() error {
	if err := f.data.Flush(); err != nil {
		return &Error{Kind: ErrIOFailure, Context: "storage: flush", Cause: err}
	}
	if err := unix.Fdatasync(int(f.f.Fd())); err != nil {
		return &Error{Kind: ErrIOFailure, Context: "storage: fdatasync", Cause: err}
	}
	return nil
}

// Bytes returns the entire live mapping. The graph package slices into it
// directly for zero-copy node record access; callers must not retain the
// slice across growth.
func (f *File) Bytes() []byte { return f.data }

// RelocateGraphZone copies length bytes from the current graph start to
// newStart (growing the file first if needed) and persists the new start
// offset. It is used when vector zone growth would otherwise collide with
// the graph zone reserved at file creation.
func (f *File) RelocateGraphZone(newStart int64, length int64) error {
	oldStart := int64(f.header.GraphStart)
	if err := f.EnsureCapacity(newStart + length); err != nil {
		return err
	}
	if length > 0 {
		copy(f.data[newStart:newStart+length], f.data[oldStart:oldStart+length])
		for i := oldStart; i < oldStart+length && i < newStart; i++ {
			f.data[i] = 0
		}
	}
	return f.SetGraphStart(uint64(newStart))
}
