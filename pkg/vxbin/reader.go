package vxbin

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

type File struct {
	Data     []byte
	Header   *Header
	Sections []Section
	Meta     *Meta
	mmapped  bool
}

// Open maps a .vxbin read-only and validates it. Without mmap support it
// falls back to reading the file. The returned File must be closed.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := st.Size()
	if size64 < headerSize || size64 > int64(int(^uint(0)>>1)) {
		return nil, ErrCorruptFile
	}
	size := int(size64)

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		vf, perr := Parse(data)
		if perr != nil {
			_ = unix.Munmap(data)
			return nil, perr
		}
		vf.mmapped = true
		return vf, nil
	}

	data, err = readAllAt(f, size)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// OpenReaderAt loads a binary from a random-access reader without mmap.
func OpenReaderAt(r io.ReaderAt, size int64) (*File, error) {
	if size < 0 || size > int64(int(^uint(0)>>1)) {
		return nil, ErrCorruptFile
	}
	data, err := readAllAt(r, int(size))
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}

// Parse validates data as a .vxbin image. The File aliases data.
func Parse(data []byte) (*File, error) {
	hdr, ok := decodeHeader(data)
	if !ok {
		return nil, ErrCorruptFile
	}
	if !hdr.Valid() {
		return nil, ErrInvalidMagic
	}
	if !hdr.Compatible() {
		return nil, ErrUnsupportedMajor
	}
	if hdr.FileSize != uint64(len(data)) || uint64(hdr.HeaderSize) > uint64(len(data)) {
		return nil, ErrCorruptFile
	}

	dirStart := hdr.SectionDirOffset
	dirEnd := dirStart + uint64(hdr.SectionCount)*sectionSize
	if dirStart < uint64(hdr.HeaderSize) || dirEnd < dirStart || dirEnd > uint64(len(data)) {
		return nil, ErrCorruptFile
	}

	sections := make([]Section, hdr.SectionCount)
	for i := range sections {
		start := dirStart + uint64(i)*sectionSize
		s, ok := decodeSection(data[start : start+sectionSize])
		if !ok {
			return nil, ErrCorruptFile
		}
		end := s.End()
		switch {
		case end < s.Offset || end > uint64(len(data)):
			return nil, fmt.Errorf("%w: section %d out of bounds", ErrCorruptFile, i)
		case s.Offset < uint64(hdr.HeaderSize):
			return nil, fmt.Errorf("%w: section %d overlaps header", ErrCorruptFile, i)
		case rangesOverlap(s.Offset, end, dirStart, dirEnd):
			return nil, fmt.Errorf("%w: section %d overlaps section directory", ErrCorruptFile, i)
		case s.Offset%align != 0:
			return nil, fmt.Errorf("%w: section %d offset not %d-byte aligned", ErrCorruptFile, i, align)
		}
		sections[i] = s
	}

	vf := &File{Data: data, Header: &hdr, Sections: sections}
	meta := vf.Section(SectionMeta)
	if meta == nil {
		return nil, fmt.Errorf("%w: missing meta section", ErrCorruptFile)
	}
	m, err := decodeMeta(vf.SectionData(meta))
	if err != nil {
		return nil, err
	}
	if (m.XLen == 64) != (hdr.Flags&Flag64Bit != 0) {
		return nil, fmt.Errorf("%w: xlen %d disagrees with header flags", ErrCorruptFile, m.XLen)
	}
	vf.Meta = m
	return vf, nil
}

// Close releases the mapping, if any.
func (f *File) Close() error {
	if f == nil || f.Data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = unix.Munmap(f.Data)
	}
	f.Data = nil
	f.Header = nil
	f.Sections = nil
	f.mmapped = false
	return err
}

// Section returns the first section of type t, or nil.
func (f *File) Section(t SectionType) *Section {
	for i := range f.Sections {
		if SectionType(f.Sections[i].Type) == t {
			return &f.Sections[i]
		}
	}
	return nil
}

// SectionData returns a zero-copy view of a section payload. It must not be
// retained after Close.
func (f *File) SectionData(s *Section) []byte {
	if f == nil || s == nil || f.Data == nil {
		return nil
	}
	return f.Data[s.Offset:s.End()]
}

// Code returns the Code section payload, or nil.
func (f *File) Code() []byte { return f.SectionData(f.Section(SectionCode)) }

// Is64Bit reports whether the binary targets 64-bit pointers.
func (f *File) Is64Bit() bool { return f.Header.Flags&Flag64Bit != 0 }
