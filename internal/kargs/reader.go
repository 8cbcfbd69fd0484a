package kargs

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Reader decodes an argument buffer the way the device does: every access
// goes through the index table rather than through host-side offsets.
type Reader struct {
	buf    []byte
	base   uint64
	width  uint64
	nslots int
	header Header
}

// NewReader wraps buf, which was loaded from device address base.
func NewReader(buf []byte, base uint64, width uint32, nslots int) (*Reader, error) {
	if width != 4 && width != 8 {
		return nil, fmt.Errorf("%w: word width %d", ErrInvalidArgument, width)
	}
	h, err := DecodeHeader(buf)
	if err != nil {
		return nil, err
	}
	r := &Reader{buf: buf, base: base, width: uint64(width), nslots: nslots, header: h}
	if end := r.tableOffset() + uint64(nslots)*r.width; end > uint64(len(buf)) {
		return nil, fmt.Errorf("%w: index table ends at %d, buffer is %d", ErrShortBuffer, end, len(buf))
	}
	return r, nil
}

func (r *Reader) Header() Header { return r.header }

func (r *Reader) NumSlots() int { return r.nslots }

func (r *Reader) tableOffset() uint64 { return AlignOffset(HeaderSize, r.width) }

func (r *Reader) word(off uint64) uint64 {
	if r.width == 4 {
		return uint64(binary.LittleEndian.Uint32(r.buf[off:]))
	}
	return binary.LittleEndian.Uint64(r.buf[off:])
}

// Slot returns the device address stored in index table slot i.
func (r *Reader) Slot(i int) uint64 {
	if i < 0 || i >= r.nslots {
		panic(fmt.Sprintf("kargs: slot %d out of range [0,%d)", i, r.nslots))
	}
	return r.word(r.tableOffset() + uint64(i)*r.width)
}

func (r *Reader) entry(i int, n uint64) []byte {
	addr := r.Slot(i)
	off := addr - r.base
	if addr < r.base || off+n > uint64(len(r.buf)) {
		panic(fmt.Sprintf("kargs: slot %d points outside the buffer (%#x)", i, addr))
	}
	return r.buf[off : off+n]
}

// Raw returns the first n bytes of slot i's data entry.
func (r *Reader) Raw(i int, n int) []byte { return r.entry(i, uint64(n)) }

func (r *Reader) U32(i int) uint32 { return binary.LittleEndian.Uint32(r.entry(i, 4)) }

func (r *Reader) I32(i int) int32 { return int32(r.U32(i)) }

func (r *Reader) U64(i int) uint64 { return binary.LittleEndian.Uint64(r.entry(i, 8)) }

func (r *Reader) F32(i int) float32 { return math.Float32frombits(r.U32(i)) }

// Pointer returns the device address held by pointer argument i.
func (r *Reader) Pointer(i int) uint64 {
	e := r.entry(i, r.width)
	if r.width == 4 {
		return uint64(binary.LittleEndian.Uint32(e))
	}
	return binary.LittleEndian.Uint64(e)
}

// LocalOffset returns the arena offset of local argument i.
func (r *Reader) LocalOffset(i int) uint32 { return r.U32(i) }

// LocalBytes returns the per-workgroup local arena size, or 0 when the
// kernel takes no local arguments.
func (r *Reader) LocalBytes(hasLocals bool) uint32 {
	if !hasLocals {
		return 0
	}
	off := r.tableOffset() + uint64(r.nslots)*r.width
	return binary.LittleEndian.Uint32(r.buf[off:])
}
