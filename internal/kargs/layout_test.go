package kargs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

type addr uint64

func (a addr) Address() uint64 { return uint64(a) }

func testHeader() Header {
	return Header{
		NumGroups:    [3]uint32{4, 2, 1},
		GlobalOffset: [3]uint32{0, 0, 0},
		LocalSize:    [3]uint32{8, 1, 1},
		PrintfAddr:   0x9000,
		PrintfCap:    1 << 20,
		WorkDim:      2,
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	h := testHeader()
	b, err := h.AppendBinary(nil)
	require.NoError(t, err)
	require.Len(t, b, HeaderSize)
	got, err := DecodeHeader(b)
	require.NoError(t, err)
	require.Equal(t, h, got)
	require.Equal(t, uint64(8), got.Groups())
	require.Equal(t, uint64(8), got.GroupSize())

	_, err = DecodeHeader(b[:HeaderSize-1])
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestBuildIsIdempotent(t *testing.T) {
	t.Parallel()

	args := []Arg{Pointer(addr(0x1000), 0), U32(7), Local(12), F32(1.5)}
	l, err := NewLayout(args, []uint64{5}, 4)
	require.NoError(t, err)
	a, err := l.Build(testHeader(), 0x4000)
	require.NoError(t, err)
	b, err := l.Build(testHeader(), 0x4000)
	require.NoError(t, err)
	require.True(t, bytes.Equal(a, b))
	require.Equal(t, l.Size, uint64(len(a)))
}

func TestTableAndAlignment(t *testing.T) {
	t.Parallel()

	for _, w := range []uint32{4, 8} {
		args := []Arg{Bytes([]byte{1, 2, 3}), Pointer(addr(0x2000), 16), U64(42), Local(3), Local(6)}
		l, err := NewLayout(args, nil, w)
		require.NoError(t, err)
		const base = 0x10000
		buf, err := l.Build(testHeader(), base)
		require.NoError(t, err)

		require.Equal(t, AlignOffset(HeaderSize, uint64(w)), l.TableOffset)
		r, err := NewReader(buf, base, w, len(args))
		require.NoError(t, err)
		require.Equal(t, testHeader(), r.Header())
		for i := range args {
			slot := r.Slot(i)
			require.Zero(t, (slot-base)%uint64(w), "w=%d slot %d misaligned", w, i)
			require.Equal(t, base+l.Entry(i), slot)
		}
		require.Equal(t, []byte{1, 2, 3}, r.Raw(0, 3))
		require.Equal(t, uint64(0x2010), r.Pointer(1))
		require.Equal(t, uint64(42), r.U64(2))
		require.Equal(t, uint32(0), r.LocalOffset(3))
		require.Equal(t, uint32(4), r.LocalOffset(4))
		require.Equal(t, uint32(12), r.LocalBytes(true))
		require.Equal(t, uint64(12), l.LocalBytes)
		require.Equal(t, uint64(12*8), l.Total(8))
	}
}

func TestNullPointerIsZeroWord(t *testing.T) {
	t.Parallel()

	l, err := NewLayout([]Arg{Null(), Pointer(nil, 64)}, nil, 8)
	require.NoError(t, err)
	buf, err := l.Build(testHeader(), 0x100)
	require.NoError(t, err)
	for i := range 2 {
		off := l.Entry(i)
		require.Equal(t, make([]byte, 8), buf[off:off+8])
	}
}

type region struct{ base uint64 }

func (r *region) Address() uint64 { return r.base }

func TestTypedNilPointerIsNull(t *testing.T) {
	t.Parallel()

	var missing *region
	require.Equal(t, Null(), Pointer(missing, 16))

	for _, w := range []uint32{4, 8} {
		args := []Arg{Pointer(missing, 16), {Kind: KindPointer, Buffer: missing, Offset: 8}, Pointer(&region{base: 0x100}, 16)}
		l, err := NewLayout(args, nil, w)
		require.NoError(t, err)
		require.NoError(t, l.CheckPointers())
		buf, err := l.Build(testHeader(), 0x4000)
		require.NoError(t, err)
		for i := range 2 {
			off := l.Entry(i)
			require.Equal(t, make([]byte, w), buf[off:off+uint64(w)], "w=%d slot %d", w, i)
		}
		r, err := NewReader(buf, 0x4000, w, len(args))
		require.NoError(t, err)
		require.Equal(t, uint64(0x110), r.Pointer(2))
	}
}

func TestCheckPointers(t *testing.T) {
	t.Parallel()

	l, err := NewLayout([]Arg{Pointer(addr(0xffff_fff0), 0x10)}, nil, 4)
	require.NoError(t, err)
	require.ErrorIs(t, l.CheckPointers(), ErrInvalidArgument)
	_, err = l.Build(testHeader(), 0)
	require.ErrorIs(t, err, ErrInvalidArgument)

	l, err = NewLayout([]Arg{Pointer(addr(0xffff_fff0), 0x10)}, nil, 8)
	require.NoError(t, err)
	require.NoError(t, l.CheckPointers())

	l, err = NewLayout([]Arg{Pointer(addr(16), math.MaxUint64)}, nil, 8)
	require.NoError(t, err)
	require.ErrorIs(t, l.CheckPointers(), ErrInvalidArgument)
}

func TestImplicitLocalsFollowArgs(t *testing.T) {
	t.Parallel()

	l, err := NewLayout([]Arg{U32(1)}, []uint64{8, 4}, 4)
	require.NoError(t, err)
	require.Len(t, l.Slots, 3)
	require.True(t, l.HasLocals)
	require.Equal(t, l.DataOffset, l.ArenaOffset)
	require.Equal(t, uint32(0), l.LocalOffset(1))
	require.Equal(t, uint32(8), l.LocalOffset(2))

	buf, err := l.Build(testHeader(), 0)
	require.NoError(t, err)
	require.Equal(t, uint32(12), binary.LittleEndian.Uint32(buf[l.ArenaOffset:]))
}

func TestUnsupportedArguments(t *testing.T) {
	t.Parallel()

	for _, a := range []Arg{Image(), Sampler()} {
		_, err := NewLayout([]Arg{U32(1), a}, nil, 4)
		require.Error(t, err)
		if !errors.Is(err, ErrUnsupportedArgument) {
			t.Fatalf("%s: expected ErrUnsupportedArgument, got %v", a.Kind, err)
		}
	}
}

func TestInvalidArguments(t *testing.T) {
	t.Parallel()

	_, err := NewLayout([]Arg{Bytes(nil)}, nil, 4)
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewLayout([]Arg{Local(0)}, nil, 4)
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewLayout(nil, nil, 2)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBuild32BitRange(t *testing.T) {
	t.Parallel()

	l, err := NewLayout([]Arg{Pointer(addr(1<<33), 0)}, nil, 4)
	require.NoError(t, err)
	_, err = l.Build(testHeader(), 0x1000)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = l.Build(testHeader(), 1<<32)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestEmptyLayout(t *testing.T) {
	t.Parallel()

	l, err := NewLayout(nil, nil, 8)
	require.NoError(t, err)
	require.Equal(t, uint64(56), l.Size)
	buf, err := l.Build(testHeader(), 0)
	require.NoError(t, err)
	require.Len(t, buf, 56)
}

func TestArenaWriteAligned(t *testing.T) {
	t.Parallel()

	a := NewArena(0)
	require.Equal(t, uint64(0), a.WriteAligned([]byte{1}, 8))
	require.Equal(t, uint64(8), a.Pos())
	require.Equal(t, uint64(8), a.PutU32(0xdeadbeef, 4))
	require.Equal(t, uint64(12), a.PutWord(1, 8, 8))
	require.Equal(t, uint64(24), a.Len())
	require.Equal(t, uint64(0), AlignOffset(0, 8))
	require.Equal(t, uint64(56), AlignOffset(52, 8))
	require.Equal(t, uint64(52), AlignOffset(52, 4))
}
