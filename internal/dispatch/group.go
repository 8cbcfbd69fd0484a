package dispatch

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/samcharles93/vxcl/internal/kargs"
	"github.com/samcharles93/vxcl/internal/plan"
)

// Group is the view a kernel body gets of its workgroup.
type Group struct {
	// ID is the group position inside the grid, without global offset.
	ID     [3]uint32
	Linear uint64
	Lane   plan.Lane
	Args   *kargs.Reader

	hdr   *kargs.Header
	local []byte
	mem   Memory
	out   *printfSink
}

func (g *Group) WorkDim() uint32           { return g.hdr.WorkDim }
func (g *Group) NumGroups(d int) uint32    { return g.hdr.NumGroups[d] }
func (g *Group) LocalSize(d int) uint32    { return g.hdr.LocalSize[d] }
func (g *Group) GlobalOffset(d int) uint32 { return g.hdr.GlobalOffset[d] }

// World is the group coordinate in dimension d shifted by the global offset.
func (g *Group) World(d int) uint32 { return g.ID[d] + g.hdr.GlobalOffset[d] }

// GlobalID is the global work-item id of local id l in dimension d.
func (g *Group) GlobalID(d int, l uint32) uint64 {
	return uint64(g.ID[d])*uint64(g.hdr.LocalSize[d]) + uint64(l) + uint64(g.hdr.GlobalOffset[d])
}

// GlobalSize is the total number of work-items in dimension d.
func (g *Group) GlobalSize(d int) uint64 {
	return uint64(g.hdr.NumGroups[d]) * uint64(g.hdr.LocalSize[d])
}

// Items calls fn for every work-item of the group, x fastest.
func (g *Group) Items(fn func(l [3]uint32)) {
	ls := g.hdr.LocalSize
	for z := range ls[2] {
		for y := range ls[1] {
			for x := range ls[0] {
				fn([3]uint32{x, y, z})
			}
		}
	}
}

// Local returns the local allocation of argument slot i, running to the end
// of the group's arena.
func (g *Group) Local(i int) []byte {
	off := uint64(g.Args.LocalOffset(i))
	if off > uint64(len(g.local)) {
		g.fault(fmt.Errorf("local offset %d outside %d-byte arena", off, len(g.local)))
	}
	return g.local[off:]
}

// Bytes returns n bytes of global memory at addr. An invalid access faults
// the launch.
func (g *Group) Bytes(addr, n uint64) []byte {
	b, err := g.mem.Bytes(addr, n)
	if err != nil {
		g.fault(err)
	}
	return b
}

func (g *Group) LoadU32(addr, idx uint64) uint32 {
	return binary.LittleEndian.Uint32(g.Bytes(addr+idx*4, 4))
}

func (g *Group) StoreU32(addr, idx uint64, v uint32) {
	binary.LittleEndian.PutUint32(g.Bytes(addr+idx*4, 4), v)
}

func (g *Group) LoadF32(addr, idx uint64) float32 {
	return math.Float32frombits(g.LoadU32(addr, idx))
}

func (g *Group) StoreF32(addr, idx uint64, v float32) {
	g.StoreU32(addr, idx, math.Float32bits(v))
}

// Printf appends formatted text to the device printf buffer. Output that
// does not fit is dropped.
func (g *Group) Printf(format string, args ...any) {
	if g.out == nil {
		return
	}
	g.out.write(g, fmt.Sprintf(format, args...))
}

func (g *Group) fault(err error) {
	panic(&Fault{Lane: g.Lane, Group: g.Linear, Err: err})
}

// localPool hands out fixed-size slots of one core's local memory. Every
// lane holds at most one slot, so waiting for a slot cannot deadlock.
type localPool struct {
	mem  []byte
	size uint64
	sem  *semaphore.Weighted

	mu   sync.Mutex
	free []uint32
}

func newLocalPool(mem []byte, size, lanes uint64) (*localPool, error) {
	n := min(uint64(len(mem))/size, lanes)
	if n == 0 {
		return nil, fmt.Errorf("local arena of %d bytes does not fit %d bytes of local memory", size, len(mem))
	}
	p := &localPool{mem: mem, size: size, sem: semaphore.NewWeighted(int64(n))}
	p.free = make([]uint32, n)
	for i := range p.free {
		p.free[i] = uint32(n) - 1 - uint32(i)
	}
	return p, nil
}

func (p *localPool) acquire(ctx context.Context) (uint32, []byte, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return 0, nil, err
	}
	p.mu.Lock()
	slot := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.mu.Unlock()
	off := uint64(slot) * p.size
	return slot, p.mem[off : off+p.size : off+p.size], nil
}

func (p *localPool) release(slot uint32) {
	p.mu.Lock()
	p.free = append(p.free, slot)
	p.mu.Unlock()
	p.sem.Release(1)
}

// printfSink appends to the printf buffer described by the header: text at
// PrintfAddr, a u32 byte cursor at PrintfPos.
type printfSink struct {
	mu  sync.Mutex
	mem Memory
	buf uint64
	pos uint64
	cap uint64
}

func newPrintfSink(mem Memory, h kargs.Header) *printfSink {
	if h.PrintfAddr == 0 || h.PrintfCap == 0 {
		return nil
	}
	return &printfSink{mem: mem, buf: uint64(h.PrintfAddr), pos: uint64(h.PrintfPos), cap: uint64(h.PrintfCap)}
}

func (s *printfSink) write(g *Group, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.mem.Bytes(s.pos, 4)
	if err != nil {
		g.fault(err)
	}
	at := uint64(binary.LittleEndian.Uint32(cur))
	if at >= s.cap {
		return
	}
	n := min(uint64(len(text)), s.cap-at)
	dst, err := s.mem.Bytes(s.buf+at, n)
	if err != nil {
		g.fault(err)
	}
	copy(dst, text[:n])
	binary.LittleEndian.PutUint32(cur, uint32(at+n))
}
