package vxbin

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
)

// Writer assembles a .vxbin in memory. Kernel binaries are small, so the
// whole image is built before anything touches the disk.
type Writer struct {
	buf      bytes.Buffer
	sections []Section
	seen     map[SectionType]struct{}
	flags    uint64
	closed   bool
}

func NewWriter() *Writer {
	w := &Writer{seen: make(map[SectionType]struct{})}
	w.buf.Write(make([]byte, headerSize))
	w.alignTo(align)
	return w
}

// WriteSection appends a section. A type may only be written once.
func (w *Writer) WriteSection(typ SectionType, version uint32, data []byte) error {
	if w.closed {
		return errors.New("vxbin: writer already finalised")
	}
	if _, ok := w.seen[typ]; ok {
		return fmt.Errorf("vxbin: duplicate %s section", typ)
	}
	w.alignTo(align)
	off := uint64(w.buf.Len())
	w.buf.Write(data)
	w.sections = append(w.sections, Section{
		Type:    uint32(typ),
		Version: version,
		Offset:  off,
		Size:    uint64(len(data)),
	})
	w.seen[typ] = struct{}{}
	return nil
}

// WriteMeta encodes m as the Meta section and sets the pointer-width flag.
func (w *Writer) WriteMeta(m *Meta) error {
	data, err := encodeMeta(m)
	if err != nil {
		return err
	}
	if m.XLen == 64 {
		w.flags |= Flag64Bit
	}
	return w.WriteSection(SectionMeta, 1, data)
}

// Finalise writes the section directory, patches the header and returns
// the complete image.
func (w *Writer) Finalise() ([]byte, error) {
	if w.closed {
		return nil, errors.New("vxbin: writer already finalised")
	}
	if _, ok := w.seen[SectionMeta]; !ok {
		return nil, errors.New("vxbin: meta section is required")
	}
	w.closed = true

	slices.SortFunc(w.sections, func(a, b Section) int { return int(a.Type) - int(b.Type) })
	w.alignTo(align)
	dirOff := uint64(w.buf.Len())
	var sec [sectionSize]byte
	for _, s := range w.sections {
		encodeSection(sec[:], s)
		w.buf.Write(sec[:])
	}

	out := w.buf.Bytes()
	var h Header
	copy(h.Magic[:], Magic)
	h.Major = CurrentMajor
	h.Minor = CurrentMinor
	h.HeaderSize = headerSize
	h.SectionCount = uint32(len(w.sections))
	h.SectionDirOffset = dirOff
	h.FileSize = uint64(len(out))
	h.Flags = w.flags
	encodeHeader(out[:headerSize], h)
	return out, nil
}

func (w *Writer) alignTo(n int) {
	if pad := w.buf.Len() % n; pad != 0 {
		w.buf.Write(make([]byte, n-pad))
	}
}

// Build is the one-shot form of Writer for a meta section plus code.
func Build(m *Meta, code []byte) ([]byte, error) {
	w := NewWriter()
	if err := w.WriteMeta(m); err != nil {
		return nil, err
	}
	if err := w.WriteSection(SectionCode, 1, code); err != nil {
		return nil, err
	}
	return w.Finalise()
}

// WriteFile writes an image next to path and renames it into place.
func WriteFile(path string, image []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".vxbin-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := io.Copy(tmp, bytes.NewReader(image)); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
