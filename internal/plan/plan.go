// Package plan maps a grid of workgroups onto the core → warp → thread
// hierarchy of the accelerator. Everything here is pure integer arithmetic;
// the host planner and the device-side dispatch entry both call it so the two
// ends always agree on which hardware thread owns which workgroup.
package plan

import "fmt"

// Plan is the distribution of Q workgroups over the active cores.
type Plan struct {
	Groups  uint64 `json:"groups"`
	Cores   uint32 `json:"cores"`
	Warps   uint32 `json:"warps"`
	Threads uint32 `json:"threads"`

	ActiveCores uint32 `json:"active_cores"`
	// PerCore is the base workgroup count of every active core.
	PerCore uint64 `json:"per_core"`
	// Extra is absorbed entirely by the last active core.
	Extra uint64 `json:"extra"`
}

// New computes the plan for q workgroups on nc cores of nw warps with nt
// threads each. It never fails; q == 0 yields a plan with no active cores.
func New(q uint64, nc, nw, nt uint32) Plan {
	p := Plan{Groups: q, Cores: nc, Warps: nw, Threads: nt}
	if q == 0 || nc == 0 || nw == 0 || nt == 0 {
		return p
	}
	wt := uint64(nw) * uint64(nt)
	active := max(q/wt, 1)
	active = min(active, uint64(nc))

	p.ActiveCores = uint32(active)
	p.PerCore = q / active
	p.Extra = q - active*p.PerCore
	return p
}

// Last is the core that absorbs the remainder workgroups.
func (p Plan) Last() uint32 {
	if p.ActiveCores == 0 {
		return 0
	}
	return p.ActiveCores - 1
}

// Count returns the number of workgroups core c executes.
func (p Plan) Count(c uint32) uint64 {
	if c >= p.ActiveCores {
		return 0
	}
	if c == p.Last() {
		return p.PerCore + p.Extra
	}
	return p.PerCore
}

func (p Plan) String() string {
	return fmt.Sprintf("Q=%d cores=%d/%d per_core=%d extra=%d (warps=%d threads=%d)",
		p.Groups, p.ActiveCores, p.Cores, p.PerCore, p.Extra, p.Warps, p.Threads)
}

// CorePlan is the per-core split into a full-warp phase and a thread-level
// remainder phase.
type CorePlan struct {
	Core    uint32 `json:"core"`
	Offset  uint64 `json:"offset"`
	Count   uint64 `json:"count"`
	Threads uint32 `json:"threads"`

	// FullWarps (nW) is the number of thread-wide batches in Count.
	FullWarps uint64 `json:"full_warps"`
	// Iterations (K) is the base number of batches each spawned warp runs.
	Iterations uint64 `json:"iterations"`
	// WarpRemainder (R): warps below R run one extra batch.
	WarpRemainder uint64 `json:"warp_remainder"`
	SpawnWarps    uint32 `json:"spawn_warps"`
	// ThreadRemainder (rT) workgroups run one per thread in a narrower pass.
	ThreadRemainder uint64 `json:"thread_remainder"`
}

// Core returns the sub-plan of core c. Inactive cores get an empty plan.
func (p Plan) Core(c uint32) CorePlan {
	cp := CorePlan{Core: c, Threads: p.Threads}
	qc := p.Count(c)
	if qc == 0 {
		return cp
	}
	nt := uint64(p.Threads)
	nw := uint64(p.Warps)

	cp.Offset = uint64(c) * p.PerCore
	cp.Count = qc
	cp.FullWarps = qc / nt
	cp.ThreadRemainder = qc - cp.FullWarps*nt
	if cp.FullWarps >= nw {
		cp.Iterations = cp.FullWarps / nw
		cp.WarpRemainder = cp.FullWarps - cp.Iterations*nw
	} else {
		cp.Iterations = 1
	}
	cp.SpawnWarps = uint32(min(cp.FullWarps, nw))
	return cp
}

// Warp returns the first workgroup id of warp w and how many workgroups each
// of its threads owns. Warps that are not spawned own nothing.
func (cp CorePlan) Warp(w uint32) (first, perThread uint64) {
	if w >= cp.SpawnWarps {
		return 0, 0
	}
	wk := cp.Iterations*uint64(w) + min(cp.WarpRemainder, uint64(w))
	perThread = cp.Iterations
	if uint64(w) < cp.WarpRemainder {
		perThread++
	}
	return cp.Offset + wk*uint64(cp.Threads), perThread
}

// Thread returns the contiguous range [first, first+n) owned by thread t of
// warp w during the full-warp phase.
func (cp CorePlan) Thread(w, t uint32) (first, n uint64) {
	base, tk := cp.Warp(w)
	if tk == 0 || t >= cp.Threads {
		return 0, 0
	}
	return base + uint64(t)*tk, tk
}

// RemainderOffset is the first workgroup of the thread-level remainder pass.
func (cp CorePlan) RemainderOffset() uint64 {
	return cp.Offset + cp.Count - cp.ThreadRemainder
}

// Lane identifies one hardware thread. Remainder marks the narrower second
// pass.
type Lane struct {
	Core      uint32
	Warp      uint32
	Thread    uint32
	Remainder bool
}

// Walk reports every (lane, workgroup id) assignment of the plan in
// dispatch order. It stops early when fn returns false.
func (p Plan) Walk(fn func(l Lane, id uint64) bool) {
	for c := uint32(0); c < p.ActiveCores; c++ {
		cp := p.Core(c)
		for w := uint32(0); w < cp.SpawnWarps; w++ {
			for t := uint32(0); t < cp.Threads; t++ {
				first, n := cp.Thread(w, t)
				for id := first; id < first+n; id++ {
					if !fn(Lane{Core: c, Warp: w, Thread: t}, id) {
						return
					}
				}
			}
		}
		off := cp.RemainderOffset()
		for t := uint64(0); t < cp.ThreadRemainder; t++ {
			// rT < NT, so the remainder always fits in warp 0.
			if !fn(Lane{Core: c, Thread: uint32(t), Remainder: true}, off+t) {
				return
			}
		}
	}
}

// Decode splits a linear workgroup id into grid coordinates for a grid that
// is x groups wide and y groups high.
func Decode(id, x, y uint64) (i, j, k uint64) {
	xy := x * y
	k = id / xy
	r := id - k*xy
	j = r / x
	i = r - j*x
	return i, j, k
}

// Encode is the inverse of Decode.
func Encode(i, j, k, x, y uint64) uint64 {
	return k*x*y + j*x + i
}
