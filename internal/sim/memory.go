package sim

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/samcharles93/vxcl/internal/device"
)

const (
	// GlobalMemBase keeps address 0 free for null pointers.
	GlobalMemBase uint64 = 0x10000
	// LocalMemBase is where each core sees its local memory.
	LocalMemBase uint64 = 0xff000000

	allocAlign = 64
)

var (
	ErrBadAddress = errors.New("sim: address outside device memory")
	ErrDoubleFree = errors.New("sim: free of unallocated block")
)

// block is an allocated device region.
type block struct {
	addr uint64
	size uint64
	mode device.AccessMode
}

func (b *block) Address() uint64 { return b.addr }
func (b *block) Size() uint64    { return b.size }

type span struct{ start, end uint64 }

// memory is the global address space: one anonymous mapping carved up by a
// first-fit allocator.
type memory struct {
	data    []byte
	base    uint64
	mmapped bool

	mu   sync.Mutex
	free []span // sorted, coalesced
	live map[uint64]*block
	used uint64
	peak uint64
}

func newMemory(size uint64) (*memory, error) {
	if size == 0 || size > uint64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("sim: invalid global memory size %d", size)
	}
	m := &memory{base: GlobalMemBase, live: make(map[uint64]*block)}
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err == nil {
		m.data = data
		m.mmapped = true
	} else {
		m.data = make([]byte, size)
	}
	m.free = []span{{m.base, m.base + size}}
	return m, nil
}

func (m *memory) close() error {
	if m.mmapped && m.data != nil {
		err := unix.Munmap(m.data)
		m.data = nil
		return err
	}
	m.data = nil
	return nil
}

func (m *memory) alloc(size uint64, mode device.AccessMode) (*block, error) {
	if size == 0 {
		size = 1
	}
	n := (size + allocAlign - 1) &^ (allocAlign - 1)
	if n < size {
		return nil, device.ErrOutOfMemory
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.free {
		if s.end-s.start < n {
			continue
		}
		b := &block{addr: s.start, size: size, mode: mode}
		if s.start+n == s.end {
			m.free = slices.Delete(m.free, i, i+1)
		} else {
			m.free[i].start += n
		}
		m.live[b.addr] = b
		m.used += n
		m.peak = max(m.peak, m.used)
		return b, nil
	}
	return nil, fmt.Errorf("%w: %d bytes requested, %d in use", device.ErrOutOfMemory, size, m.used)
}

func (m *memory) release(addr uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.live[addr]
	if !ok {
		return fmt.Errorf("%w: %#x", ErrDoubleFree, addr)
	}
	delete(m.live, addr)
	n := (b.size + allocAlign - 1) &^ (allocAlign - 1)
	m.used -= n

	s := span{b.addr, b.addr + n}
	i, _ := slices.BinarySearchFunc(m.free, s.start, func(f span, t uint64) int {
		switch {
		case f.start < t:
			return -1
		case f.start > t:
			return 1
		}
		return 0
	})
	m.free = slices.Insert(m.free, i, s)
	// Coalesce with the right, then the left neighbour.
	if i+1 < len(m.free) && m.free[i].end == m.free[i+1].start {
		m.free[i].end = m.free[i+1].end
		m.free = slices.Delete(m.free, i+1, i+2)
	}
	if i > 0 && m.free[i-1].end == m.free[i].start {
		m.free[i-1].end = m.free[i].end
		m.free = slices.Delete(m.free, i, i+1)
	}
	return nil
}

// Bytes implements dispatch.Memory.
func (m *memory) Bytes(addr, n uint64) ([]byte, error) {
	if addr < m.base {
		return nil, fmt.Errorf("%w: %#x", ErrBadAddress, addr)
	}
	off := addr - m.base
	end := off + n
	if end < off || end > uint64(len(m.data)) {
		return nil, fmt.Errorf("%w: %#x+%d", ErrBadAddress, addr, n)
	}
	return m.data[off:end:end], nil
}

// MemStats reports allocator usage in bytes.
type MemStats struct {
	Total  uint64 `json:"total"`
	Used   uint64 `json:"used"`
	Peak   uint64 `json:"peak"`
	Blocks int    `json:"blocks"`
}

func (m *memory) stats() MemStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MemStats{Total: uint64(len(m.data)), Used: m.used, Peak: m.peak, Blocks: len(m.live)}
}
