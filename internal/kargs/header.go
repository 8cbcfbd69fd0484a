package kargs

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the encoded size of Header: thirteen little-endian u32s.
const HeaderSize = 13 * 4

var ErrShortBuffer = errors.New("kargs: buffer too short")

// Header is the fixed-size context block at the start of every argument
// buffer. Field order is the wire order.
type Header struct {
	NumGroups    [3]uint32 `json:"num_groups"`
	GlobalOffset [3]uint32 `json:"global_offset"`
	LocalSize    [3]uint32 `json:"local_size"`
	PrintfAddr   uint32    `json:"printf_addr"`
	PrintfPos    uint32    `json:"printf_pos"`
	PrintfCap    uint32    `json:"printf_cap"`
	WorkDim      uint32    `json:"work_dim"`
}

// Groups is the total number of workgroups in the grid.
func (h Header) Groups() uint64 {
	return uint64(h.NumGroups[0]) * uint64(h.NumGroups[1]) * uint64(h.NumGroups[2])
}

// GroupSize is the number of work-items in one workgroup.
func (h Header) GroupSize() uint64 {
	return uint64(h.LocalSize[0]) * uint64(h.LocalSize[1]) * uint64(h.LocalSize[2])
}

// AppendBinary implements encoding.BinaryAppender.
func (h Header) AppendBinary(b []byte) ([]byte, error) {
	le := binary.LittleEndian
	for _, v := range h.NumGroups {
		b = le.AppendUint32(b, v)
	}
	for _, v := range h.GlobalOffset {
		b = le.AppendUint32(b, v)
	}
	for _, v := range h.LocalSize {
		b = le.AppendUint32(b, v)
	}
	b = le.AppendUint32(b, h.PrintfAddr)
	b = le.AppendUint32(b, h.PrintfPos)
	b = le.AppendUint32(b, h.PrintfCap)
	b = le.AppendUint32(b, h.WorkDim)
	return b, nil
}

// DecodeHeader parses the header at the start of b.
func DecodeHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < HeaderSize {
		return h, fmt.Errorf("%w: header needs %d bytes, have %d", ErrShortBuffer, HeaderSize, len(b))
	}
	le := binary.LittleEndian
	u := func(i int) uint32 { return le.Uint32(b[i*4:]) }
	for i := range 3 {
		h.NumGroups[i] = u(i)
		h.GlobalOffset[i] = u(3 + i)
		h.LocalSize[i] = u(6 + i)
	}
	h.PrintfAddr = u(9)
	h.PrintfPos = u(10)
	h.PrintfCap = u(11)
	h.WorkDim = u(12)
	return h, nil
}
