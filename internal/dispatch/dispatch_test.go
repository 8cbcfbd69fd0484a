package dispatch

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/samcharles93/vxcl/internal/kargs"
	"github.com/samcharles93/vxcl/internal/plan"
)

// flatMem is a contiguous device address space starting at base.
type flatMem struct {
	base uint64
	data []byte
}

func (m *flatMem) Bytes(addr, n uint64) ([]byte, error) {
	if addr < m.base || addr-m.base+n > uint64(len(m.data)) {
		return nil, fmt.Errorf("access %#x+%d out of range", addr, n)
	}
	off := addr - m.base
	return m.data[off : off+n], nil
}

type region uint64

func (r region) Address() uint64 { return uint64(r) }

const (
	memBase  = 0x1000
	argsAddr = 0x1000
	outAddr  = 0x2000
	prAddr   = 0x8000
	prCap    = 256
)

func setup(t *testing.T, hdr kargs.Header, args []kargs.Arg, locals []uint64, width uint32) (*flatMem, Launch) {
	t.Helper()
	mem := &flatMem{base: memBase, data: make([]byte, 64<<10)}
	l, err := kargs.NewLayout(args, locals, width)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	buf, err := l.Build(hdr, argsAddr)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	dst, err := mem.Bytes(argsAddr, uint64(len(buf)))
	if err != nil {
		t.Fatalf("args do not fit: %v", err)
	}
	copy(dst, buf)
	return mem, Launch{Args: argsAddr, ArgsSize: l.Size, Slots: len(l.Slots), Locals: l.HasLocals}
}

func header(x, y, z uint32) kargs.Header {
	return kargs.Header{
		NumGroups: [3]uint32{x, y, z},
		LocalSize: [3]uint32{1, 1, 1},
		WorkDim:   3,
	}
}

func TestRunVisitsEveryGroupOnce(t *testing.T) {
	t.Parallel()

	hw := Hardware{Cores: 4, Warps: 4, Threads: 8, Width: 4}
	for _, dims := range [][3]uint32{{1, 1, 1}, {7, 1, 1}, {10, 10, 1}, {33, 5, 3}, {1001, 1, 1}} {
		mem, l := setup(t, header(dims[0], dims[1], dims[2]), []kargs.Arg{kargs.Pointer(region(outAddr), 0)}, nil, 4)
		l.Kernel = func(g *Group) {
			out := g.Args.Pointer(0)
			id := plan.Encode(uint64(g.ID[0]), uint64(g.ID[1]), uint64(g.ID[2]),
				uint64(g.NumGroups(0)), uint64(g.NumGroups(1)))
			if id != g.Linear {
				panic(fmt.Sprintf("decoded %d, linear %d", id, g.Linear))
			}
			g.StoreU32(out, id, g.LoadU32(out, id)+1)
		}
		if err := Run(context.Background(), hw, mem, l); err != nil {
			t.Fatalf("dims %v: Run: %v", dims, err)
		}
		q := uint64(dims[0]) * uint64(dims[1]) * uint64(dims[2])
		for id := range q {
			b, _ := mem.Bytes(outAddr+id*4, 4)
			if n := binary.LittleEndian.Uint32(b); n != 1 {
				t.Fatalf("dims %v: workgroup %d ran %d times", dims, id, n)
			}
		}
	}
}

func TestRunMatchesPlan(t *testing.T) {
	t.Parallel()

	hw := Hardware{Cores: 3, Warps: 2, Threads: 4, Width: 8}
	mem, l := setup(t, header(53, 1, 1), nil, nil, 8)
	var mu sync.Mutex
	got := map[uint64]plan.Lane{}
	l.Trace = func(ln plan.Lane, id uint64) {
		mu.Lock()
		got[id] = ln
		mu.Unlock()
	}
	l.Kernel = func(*Group) {}
	if err := Run(context.Background(), hw, mem, l); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := map[uint64]plan.Lane{}
	plan.New(53, 3, 2, 4).Walk(func(ln plan.Lane, id uint64) bool {
		want[id] = ln
		return true
	})
	if len(got) != len(want) {
		t.Fatalf("ran %d groups, plan has %d", len(got), len(want))
	}
	for id, ln := range want {
		if got[id] != ln {
			t.Fatalf("workgroup %d ran on %+v, plan says %+v", id, got[id], ln)
		}
	}
}

func TestGlobalOffsetAndItems(t *testing.T) {
	t.Parallel()

	hdr := kargs.Header{
		NumGroups:    [3]uint32{2, 1, 1},
		GlobalOffset: [3]uint32{5, 0, 0},
		LocalSize:    [3]uint32{4, 1, 1},
		WorkDim:      1,
	}
	hw := Hardware{Cores: 1, Warps: 1, Threads: 1, Width: 4}
	mem, l := setup(t, hdr, []kargs.Arg{kargs.Pointer(region(outAddr), 0)}, nil, 4)
	l.Kernel = func(g *Group) {
		out := g.Args.Pointer(0)
		g.Items(func(li [3]uint32) {
			gid := g.GlobalID(0, li[0])
			g.StoreU32(out, gid-uint64(g.GlobalOffset(0)), uint32(gid))
		})
		if g.World(0) != g.ID[0]+5 {
			panic("world coordinate lost the offset")
		}
	}
	if err := Run(context.Background(), hw, mem, l); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i := range uint64(8) {
		b, _ := mem.Bytes(outAddr+i*4, 4)
		if got := binary.LittleEndian.Uint32(b); got != uint32(i+5) {
			t.Fatalf("item %d: got global id %d, want %d", i, got, i+5)
		}
	}
}

func TestLocalArenaIsPrivatePerGroup(t *testing.T) {
	t.Parallel()

	hw := Hardware{Cores: 2, Warps: 2, Threads: 4, Width: 4}
	locals := [][]byte{make([]byte, 64), make([]byte, 64)}
	hw.Local = func(c uint32) []byte { return locals[c] }

	mem, l := setup(t, header(40, 1, 1), []kargs.Arg{kargs.Pointer(region(outAddr), 0), kargs.Local(8)}, nil, 4)
	l.Kernel = func(g *Group) {
		lm := g.Local(1)
		if len(lm) < 8 {
			panic("short local arena")
		}
		binary.LittleEndian.PutUint32(lm, uint32(g.Linear))
		binary.LittleEndian.PutUint32(lm[4:], uint32(g.Linear)*2)
		sum := binary.LittleEndian.Uint32(lm) + binary.LittleEndian.Uint32(lm[4:])
		g.StoreU32(g.Args.Pointer(0), g.Linear, sum)
	}
	if err := Run(context.Background(), hw, mem, l); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for id := range uint64(40) {
		b, _ := mem.Bytes(outAddr+id*4, 4)
		if got := binary.LittleEndian.Uint32(b); got != uint32(id*3) {
			t.Fatalf("workgroup %d: got %d, want %d", id, got, id*3)
		}
	}
}

func TestLocalArenaTooLarge(t *testing.T) {
	t.Parallel()

	hw := Hardware{Cores: 1, Warps: 1, Threads: 1, Width: 4, Local: func(uint32) []byte { return make([]byte, 4) }}
	mem, l := setup(t, header(1, 1, 1), []kargs.Arg{kargs.Local(16)}, nil, 4)
	l.Kernel = func(*Group) {}
	if err := Run(context.Background(), hw, mem, l); err == nil {
		t.Fatal("expected an error for a local arena larger than local memory")
	}
}

func TestPrintf(t *testing.T) {
	t.Parallel()

	hdr := header(3, 1, 1)
	hdr.PrintfAddr = prAddr
	hdr.PrintfPos = prAddr + prCap
	hdr.PrintfCap = prCap
	hw := Hardware{Cores: 1, Warps: 1, Threads: 1, Width: 4}
	mem, l := setup(t, hdr, nil, nil, 4)
	l.Kernel = func(g *Group) { g.Printf("hello from %d\n", g.Linear) }
	if err := Run(context.Background(), hw, mem, l); err != nil {
		t.Fatalf("Run: %v", err)
	}
	cur, _ := mem.Bytes(prAddr+prCap, 4)
	n := binary.LittleEndian.Uint32(cur)
	text, _ := mem.Bytes(prAddr, uint64(n))
	if want := "hello from 0\nhello from 1\nhello from 2\n"; string(text) != want {
		t.Fatalf("printf buffer = %q, want %q", text, want)
	}
}

func TestPrintfTruncates(t *testing.T) {
	t.Parallel()

	hdr := header(1, 1, 1)
	hdr.PrintfAddr = prAddr
	hdr.PrintfPos = prAddr + 8
	hdr.PrintfCap = 8
	hw := Hardware{Cores: 1, Warps: 1, Threads: 1, Width: 4}
	mem, l := setup(t, hdr, nil, nil, 4)
	l.Kernel = func(g *Group) {
		g.Printf("0123456789")
		g.Printf("more")
	}
	if err := Run(context.Background(), hw, mem, l); err != nil {
		t.Fatalf("Run: %v", err)
	}
	cur, _ := mem.Bytes(prAddr+8, 4)
	if n := binary.LittleEndian.Uint32(cur); n != 8 {
		t.Fatalf("cursor = %d, want 8", n)
	}
	text, _ := mem.Bytes(prAddr, 8)
	if string(text) != "01234567" {
		t.Fatalf("printf buffer = %q", text)
	}
}

func TestBadAccessFaults(t *testing.T) {
	t.Parallel()

	hw := Hardware{Cores: 2, Warps: 2, Threads: 2, Width: 4}
	mem, l := setup(t, header(16, 1, 1), nil, nil, 4)
	l.Kernel = func(g *Group) {
		if g.Linear == 9 {
			g.StoreU32(0xdead0000, 0, 1)
		}
	}
	err := Run(context.Background(), hw, mem, l)
	var f *Fault
	if !errors.As(err, &f) {
		t.Fatalf("expected a *Fault, got %v", err)
	}
	if f.Group != 9 {
		t.Fatalf("fault reported for workgroup %d, want 9", f.Group)
	}
	if !strings.Contains(err.Error(), "out of range") {
		t.Fatalf("fault lost the cause: %v", err)
	}
}

func TestKernelPanicFaults(t *testing.T) {
	t.Parallel()

	hw := Hardware{Cores: 1, Warps: 1, Threads: 1, Width: 4}
	mem, l := setup(t, header(1, 1, 1), nil, nil, 4)
	l.Kernel = func(*Group) { panic("illegal instruction") }
	var f *Fault
	if err := Run(context.Background(), hw, mem, l); !errors.As(err, &f) {
		t.Fatalf("expected a *Fault, got %v", err)
	}
}

func TestEmptyGridAndMissingKernel(t *testing.T) {
	t.Parallel()

	hw := Hardware{Cores: 1, Warps: 1, Threads: 1, Width: 4}
	mem, l := setup(t, header(0, 1, 1), nil, nil, 4)
	l.Kernel = func(*Group) { panic("must not run") }
	if err := Run(context.Background(), hw, mem, l); err != nil {
		t.Fatalf("empty grid: %v", err)
	}
	l.Kernel = nil
	if err := Run(context.Background(), hw, mem, l); !errors.Is(err, ErrNoKernel) {
		t.Fatalf("expected ErrNoKernel, got %v", err)
	}
}
