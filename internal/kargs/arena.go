package kargs

import "encoding/binary"

// AlignOffset rounds x up to a multiple of w, which must be a power of two.
func AlignOffset(x, w uint64) uint64 {
	if w <= 1 {
		return x
	}
	return (x + w - 1) &^ (w - 1)
}

// Arena is a growable little-endian byte buffer with a write cursor. All
// offset bookkeeping of the argument buffer goes through it.
type Arena struct {
	buf []byte
	pos uint64
}

func NewArena(capacity uint64) *Arena {
	return &Arena{buf: make([]byte, 0, capacity)}
}

// Pos is the current cursor offset.
func (a *Arena) Pos() uint64 { return a.pos }

// Len is the number of bytes the arena holds, including padding.
func (a *Arena) Len() uint64 { return uint64(len(a.buf)) }

// Bytes returns the arena contents. The slice aliases the arena.
func (a *Arena) Bytes() []byte { return a.buf }

// Seek moves the cursor, zero-filling any gap it opens up.
func (a *Arena) Seek(pos uint64) {
	a.grow(pos)
	a.pos = pos
}

// Align pads the cursor up to a multiple of n.
func (a *Arena) Align(n uint64) {
	a.Seek(AlignOffset(a.pos, n))
}

// WriteAligned writes p at the cursor and then advances the cursor to the
// next multiple of align. It returns the offset p was written at.
func (a *Arena) WriteAligned(p []byte, align uint64) uint64 {
	off := a.pos
	end := off + uint64(len(p))
	a.grow(end)
	copy(a.buf[off:end], p)
	a.Seek(AlignOffset(end, align))
	return off
}

// PutU32 writes v as four bytes.
func (a *Arena) PutU32(v uint32, align uint64) uint64 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return a.WriteAligned(b[:], align)
}

// PutWord writes v as a width-byte word (4 or 8).
func (a *Arena) PutWord(v uint64, width, align uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return a.WriteAligned(b[:width], align)
}

// Zero writes n zero bytes.
func (a *Arena) Zero(n, align uint64) uint64 {
	off := a.pos
	a.grow(off + n)
	clear(a.buf[off : off+n])
	a.Seek(AlignOffset(off+n, align))
	return off
}

func (a *Arena) grow(n uint64) {
	if n <= uint64(len(a.buf)) {
		return
	}
	if n <= uint64(cap(a.buf)) {
		a.buf = a.buf[:n]
		return
	}
	a.buf = append(a.buf, make([]byte, n-uint64(len(a.buf)))...)
}
