// Package vxbin implements the kernel binary container loaded onto the
// accelerator.
//
// A .vxbin file is a fixed header, a set of 8-byte aligned sections and a
// section directory at the end. The Meta section (JSON) names the kernels
// and their argument signatures; kernel ids are indices into that list. The
// Code section is an opaque payload for the device loader.
package vxbin

import (
	"encoding/binary"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/blake2b"
)

// Format constants must never change.
const (
	Magic = "VXB\x00"

	CurrentMajor uint16 = 1
	CurrentMinor uint16 = 0

	// Flag64Bit marks binaries built for 64-bit pointers.
	Flag64Bit uint64 = 1 << 0

	headerSize  = 40
	sectionSize = 24
	align       = 8
)

type SectionType uint32

const (
	SectionMeta SectionType = 0x0001
	SectionCode SectionType = 0x0002
)

func (t SectionType) String() string {
	switch t {
	case SectionMeta:
		return "meta"
	case SectionCode:
		return "code"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidMagic     = errors.New("invalid vxbin magic")
	ErrUnsupportedMajor = errors.New("unsupported vxbin major version")
	ErrCorruptFile      = errors.New("corrupt vxbin file")
	ErrNoKernel         = errors.New("kernel not found in binary")
)

type Header struct {
	Magic            [4]byte
	Major            uint16
	Minor            uint16
	HeaderSize       uint32
	SectionCount     uint32
	SectionDirOffset uint64
	FileSize         uint64
	Flags            uint64
}

func (h *Header) Valid() bool {
	return string(h.Magic[:]) == Magic && h.HeaderSize >= headerSize
}

func (h *Header) Compatible() bool { return h.Major == CurrentMajor }

type Section struct {
	Type    uint32
	Version uint32
	Offset  uint64
	Size    uint64
}

func (s Section) End() uint64 { return s.Offset + s.Size }

func encodeHeader(dst []byte, h Header) bool {
	if len(dst) < headerSize {
		return false
	}
	le := binary.LittleEndian
	copy(dst[0:4], h.Magic[:])
	le.PutUint16(dst[4:], h.Major)
	le.PutUint16(dst[6:], h.Minor)
	le.PutUint32(dst[8:], h.HeaderSize)
	le.PutUint32(dst[12:], h.SectionCount)
	le.PutUint64(dst[16:], h.SectionDirOffset)
	le.PutUint64(dst[24:], h.FileSize)
	le.PutUint64(dst[32:], h.Flags)
	return true
}

func decodeHeader(src []byte) (Header, bool) {
	var h Header
	if len(src) < headerSize {
		return h, false
	}
	le := binary.LittleEndian
	copy(h.Magic[:], src[0:4])
	h.Major = le.Uint16(src[4:])
	h.Minor = le.Uint16(src[6:])
	h.HeaderSize = le.Uint32(src[8:])
	h.SectionCount = le.Uint32(src[12:])
	h.SectionDirOffset = le.Uint64(src[16:])
	h.FileSize = le.Uint64(src[24:])
	h.Flags = le.Uint64(src[32:])
	return h, true
}

func encodeSection(dst []byte, s Section) bool {
	if len(dst) < sectionSize {
		return false
	}
	le := binary.LittleEndian
	le.PutUint32(dst[0:], s.Type)
	le.PutUint32(dst[4:], s.Version)
	le.PutUint64(dst[8:], s.Offset)
	le.PutUint64(dst[16:], s.Size)
	return true
}

func decodeSection(src []byte) (Section, bool) {
	if len(src) < sectionSize {
		return Section{}, false
	}
	le := binary.LittleEndian
	return Section{
		Type:    le.Uint32(src[0:]),
		Version: le.Uint32(src[4:]),
		Offset:  le.Uint64(src[8:]),
		Size:    le.Uint64(src[16:]),
	}, true
}

// Digest identifies a binary by content. The driver compares digests to
// skip re-uploading the kernel that is already resident.
type Digest [blake2b.Size256]byte

func Sum(data []byte) Digest { return blake2b.Sum256(data) }

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

func (d Digest) IsZero() bool { return d == Digest{} }

func rangesOverlap(a0, a1, b0, b1 uint64) bool {
	return a0 < b1 && b0 < a1
}
