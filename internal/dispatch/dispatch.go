// Package dispatch is the device-side entry point of a kernel launch. It
// reads the argument buffer, recomputes the distribution plan from the
// hardware constants and runs every workgroup exactly once.
//
// Cores and warps run concurrently. The thread lanes of one warp execute
// in lockstep, which on a host CPU means one after another.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/vxcl/internal/kargs"
	"github.com/samcharles93/vxcl/internal/plan"
)

// Memory is the device address space seen by a running kernel.
type Memory interface {
	// Bytes returns the n bytes at addr. The slice aliases device memory.
	Bytes(addr, n uint64) ([]byte, error)
}

// Kernel is the body of one workgroup. It iterates its own work-items.
type Kernel func(g *Group)

// Hardware holds the constants a device binary is built against.
type Hardware struct {
	Cores   uint32
	Warps   uint32
	Threads uint32
	// Width is the pointer width in bytes.
	Width uint32
	// Local returns the local memory of core c.
	Local func(c uint32) []byte
}

// Launch locates the argument buffer and the kernel to run.
type Launch struct {
	Args     uint64
	ArgsSize uint64
	// Slots is the number of index table entries (arguments plus implicit
	// locals) the kernel was compiled with.
	Slots  int
	Locals bool
	Kernel Kernel
	// Trace, when set, observes every (lane, workgroup) pair before the
	// kernel body runs. It is called concurrently.
	Trace func(l plan.Lane, id uint64)
}

var ErrNoKernel = errors.New("dispatch: no kernel")

// Fault is a failure raised by device code.
type Fault struct {
	Lane  plan.Lane
	Group uint64
	Err   error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("device fault on core %d warp %d thread %d (workgroup %d): %v",
		f.Lane.Core, f.Lane.Warp, f.Lane.Thread, f.Group, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// spawn is the per-core state handed to every warp of that core.
type spawn struct {
	core   plan.CorePlan
	hdr    kargs.Header
	args   *kargs.Reader
	kernel Kernel
	trace  func(plan.Lane, uint64)
	local  *localPool
	mem    Memory
	out    *printfSink
}

// Run executes the launch to completion and returns the first fault.
func Run(ctx context.Context, hw Hardware, mem Memory, l Launch) error {
	if l.Kernel == nil {
		return ErrNoKernel
	}
	buf, err := mem.Bytes(l.Args, l.ArgsSize)
	if err != nil {
		return fmt.Errorf("dispatch: argument buffer: %w", err)
	}
	args, err := kargs.NewReader(buf, l.Args, hw.Width, l.Slots)
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	hdr := args.Header()
	p := plan.New(hdr.Groups(), hw.Cores, hw.Warps, hw.Threads)
	if p.ActiveCores == 0 {
		return nil
	}
	localBytes := uint64(args.LocalBytes(l.Locals))
	out := newPrintfSink(mem, hdr)

	pools := make([]*localPool, p.ActiveCores)
	if localBytes > 0 {
		for c := range p.ActiveCores {
			var lm []byte
			if hw.Local != nil {
				lm = hw.Local(c)
			}
			if pools[c], err = newLocalPool(lm, localBytes, uint64(hw.Warps)*uint64(hw.Threads)); err != nil {
				return fmt.Errorf("dispatch: core %d: %w", c, err)
			}
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for c := range p.ActiveCores {
		s := &spawn{
			core:   p.Core(c),
			hdr:    hdr,
			args:   args,
			kernel: l.Kernel,
			trace:  l.Trace,
			local:  pools[c],
			mem:    mem,
			out:    out,
		}
		g.Go(func() error { return s.runCore(ctx) })
	}
	return g.Wait()
}

func (s *spawn) runCore(ctx context.Context) error {
	warps, wctx := errgroup.WithContext(ctx)
	for w := range s.core.SpawnWarps {
		warps.Go(func() error { return s.runWarp(wctx, w) })
	}
	if err := warps.Wait(); err != nil {
		return err
	}
	// Remainder pass on warp 0 with exactly rT active lanes.
	off := s.core.RemainderOffset()
	for t := range s.core.ThreadRemainder {
		lane := plan.Lane{Core: s.core.Core, Thread: uint32(t), Remainder: true}
		if err := s.exec(ctx, lane, off+t); err != nil {
			return err
		}
	}
	return nil
}

// runWarp runs the full-warp phase of warp w. All lanes advance through
// their workgroups one iteration at a time.
func (s *spawn) runWarp(ctx context.Context, w uint32) error {
	first, tk := s.core.Warp(w)
	for it := range tk {
		for t := range s.core.Threads {
			lane := plan.Lane{Core: s.core.Core, Warp: w, Thread: t}
			if err := s.exec(ctx, lane, first+uint64(t)*tk+it); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *spawn) exec(ctx context.Context, lane plan.Lane, id uint64) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.trace != nil {
		s.trace(lane, id)
	}
	i, j, k := plan.Decode(id, uint64(s.hdr.NumGroups[0]), uint64(s.hdr.NumGroups[1]))
	g := &Group{
		ID:     [3]uint32{uint32(i), uint32(j), uint32(k)},
		Linear: id,
		Lane:   lane,
		Args:   s.args,
		hdr:    &s.hdr,
		mem:    s.mem,
		out:    s.out,
	}
	if s.local != nil {
		slot, lm, err := s.local.acquire(ctx)
		if err != nil {
			return err
		}
		defer s.local.release(slot)
		g.local = lm
	}
	defer func() {
		if r := recover(); r != nil {
			var f *Fault
			if e, ok := r.(error); ok && errors.As(e, &f) {
				err = f
				return
			}
			err = &Fault{Lane: lane, Group: id, Err: fmt.Errorf("%v", r)}
		}
	}()
	s.kernel(g)
	return nil
}
