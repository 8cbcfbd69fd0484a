// Package kargs marshals kernel arguments into the single contiguous buffer
// the device reads at launch, and decodes it again on the device side.
//
// Layout of an argument buffer with word width W (4 or 8):
//
//	[0, 52)                 Header
//	[ctx, ctx+n*W)          index table, ctx = AlignOffset(52, W); slot i holds
//	                        the device address of argument i's data entry
//	[data, Size)            data region; every entry starts W-aligned. When
//	                        locals are present the first entry is the u32
//	                        per-workgroup local arena size.
package kargs

import (
	"fmt"
	"math"
)

// Layout is the precomputed shape of an argument buffer. It does not depend
// on the device address of the buffer, so it can be sized before allocation.
type Layout struct {
	Width uint64
	Slots []Arg

	TableOffset uint64
	DataOffset  uint64
	Size        uint64

	// LocalBytes is the per-workgroup local arena: every local argument
	// packed with 4-byte alignment.
	LocalBytes uint64
	// ArenaOffset is where the arena size word sits; valid when HasLocals.
	ArenaOffset uint64
	HasLocals   bool

	entries []uint64
	locals  []uint32
}

// NewLayout lays out args followed by the implicit local allocations.
func NewLayout(args []Arg, implicit []uint64, width uint32) (*Layout, error) {
	if width != 4 && width != 8 {
		return nil, fmt.Errorf("%w: word width %d", ErrInvalidArgument, width)
	}
	slots := make([]Arg, 0, len(args)+len(implicit))
	slots = append(slots, args...)
	for _, n := range implicit {
		slots = append(slots, Local(n))
	}

	w := uint64(width)
	l := &Layout{
		Width:   w,
		Slots:   slots,
		entries: make([]uint64, len(slots)),
		locals:  make([]uint32, len(slots)),
	}
	var arena uint64
	for i, a := range slots {
		if err := a.validate(i); err != nil {
			return nil, err
		}
		if a.Kind == KindLocal {
			l.HasLocals = true
			off := AlignOffset(arena, 4)
			l.locals[i] = uint32(off)
			arena = off + a.Size
			if arena > math.MaxUint32 {
				return nil, fmt.Errorf("%w: local arena exceeds 32 bits", ErrInvalidArgument)
			}
		}
	}
	l.LocalBytes = AlignOffset(arena, 4)

	l.TableOffset = AlignOffset(HeaderSize, w)
	l.DataOffset = l.TableOffset + uint64(len(slots))*w
	pos := l.DataOffset
	if l.HasLocals {
		l.ArenaOffset = pos
		pos = AlignOffset(pos+4, w)
	}
	for i, a := range slots {
		l.entries[i] = pos
		pos = AlignOffset(pos+l.entrySize(a), w)
	}
	l.Size = pos
	return l, nil
}

func (l *Layout) entrySize(a Arg) uint64 {
	switch a.Kind {
	case KindScalar:
		return uint64(len(a.Value))
	case KindPointer:
		return l.Width
	default:
		return 4
	}
}

// Entry returns the buffer-relative offset of slot i's data entry.
func (l *Layout) Entry(i int) uint64 { return l.entries[i] }

// LocalOffset returns the arena offset assigned to local slot i.
func (l *Layout) LocalOffset(i int) uint32 { return l.locals[i] }

// Build serializes the buffer for a device allocation at base. Calling it
// twice with the same inputs yields identical bytes.
func (l *Layout) Build(h Header, base uint64) ([]byte, error) {
	if l.Width == 4 {
		if base+l.Size > math.MaxUint32 || base+l.Size < base {
			return nil, fmt.Errorf("%w: buffer at %#x does not fit a 32-bit address space", ErrInvalidArgument, base)
		}
	}
	a := NewArena(l.Size)
	hb, _ := h.AppendBinary(make([]byte, 0, HeaderSize))
	a.WriteAligned(hb, 1)
	a.Seek(l.TableOffset)
	for i := range l.Slots {
		a.PutWord(base+l.entries[i], l.Width, l.Width)
	}
	if l.HasLocals {
		a.PutU32(uint32(l.LocalBytes), l.Width)
	}
	for i, s := range l.Slots {
		if a.Pos() != l.entries[i] {
			return nil, fmt.Errorf("kargs: layout drift at slot %d: %d != %d", i, a.Pos(), l.entries[i])
		}
		switch s.Kind {
		case KindScalar:
			a.WriteAligned(s.Value, l.Width)
		case KindPointer:
			addr, err := l.pointer(i, s)
			if err != nil {
				return nil, err
			}
			a.PutWord(addr, l.Width, l.Width)
		case KindLocal:
			a.PutU32(l.locals[i], l.Width)
		}
	}
	return a.Bytes(), nil
}

// CheckPointers verifies that every pointer argument is representable in
// the layout's word width. Build repeats the check; calling it early lets a
// caller reject a launch before any device memory is allocated.
func (l *Layout) CheckPointers() error {
	for i, s := range l.Slots {
		if s.Kind != KindPointer {
			continue
		}
		if _, err := l.pointer(i, s); err != nil {
			return err
		}
	}
	return nil
}

func (l *Layout) pointer(i int, s Arg) (uint64, error) {
	addr, ok, err := s.Target()
	if err != nil {
		return 0, fmt.Errorf("argument %d: %w", i, err)
	}
	if ok && l.Width == 4 && addr > math.MaxUint32 {
		return 0, fmt.Errorf("%w: argument %d address %#x exceeds 32 bits", ErrInvalidArgument, i, addr)
	}
	return addr, nil
}

// Total is the size of the whole local arena when maxResident workgroups
// are live at once.
func (l *Layout) Total(maxResident uint64) uint64 {
	return l.LocalBytes * maxResident
}
