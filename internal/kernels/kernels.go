// Package kernels holds the built-in kernels the simulator can run, along
// with the signatures the binary metadata declares for them.
package kernels

import (
	"encoding/binary"
	"math"

	"github.com/samcharles93/vxcl/internal/dispatch"
	"github.com/samcharles93/vxcl/internal/sim"
	"github.com/samcharles93/vxcl/pkg/vxbin"
)

// Kernel pairs a signature with its body.
type Kernel struct {
	Info vxbin.KernelInfo
	Body dispatch.Kernel
}

var builtin = []Kernel{
	{
		Info: vxbin.KernelInfo{Name: "vecadd", Args: []string{vxbin.ArgPointer, vxbin.ArgPointer, vxbin.ArgPointer, vxbin.ArgScalar}},
		Body: vecadd,
	},
	{
		Info: vxbin.KernelInfo{Name: "saxpy", Args: []string{vxbin.ArgPointer, vxbin.ArgPointer, vxbin.ArgScalar, vxbin.ArgScalar}},
		Body: saxpy,
	},
	{
		Info: vxbin.KernelInfo{Name: "fill", Args: []string{vxbin.ArgPointer, vxbin.ArgScalar, vxbin.ArgScalar}},
		Body: fill,
	},
	{
		Info: vxbin.KernelInfo{
			Name:   "groupsum",
			Args:   []string{vxbin.ArgPointer, vxbin.ArgPointer, vxbin.ArgLocal, vxbin.ArgScalar},
			Locals: []uint64{4},
		},
		Body: groupsum,
	},
	{
		Info: vxbin.KernelInfo{Name: "hello"},
		Body: hello,
	},
}

// All returns the built-in kernels in id order.
func All() []Kernel { return append([]Kernel(nil), builtin...) }

// Register adds every built-in kernel to r.
func Register(r *sim.Registry) error {
	for _, k := range builtin {
		if err := r.Register(k.Info.Name, k.Body); err != nil {
			return err
		}
	}
	return nil
}

// Meta describes the built-in kernels for a binary of the given xlen.
func Meta(xlen int) *vxbin.Meta {
	m := &vxbin.Meta{XLen: xlen}
	for _, k := range builtin {
		m.Kernels = append(m.Kernels, k.Info)
	}
	return m
}

// Binary packs the built-in kernels into a .vxbin image.
func Binary(xlen int) ([]byte, error) {
	return vxbin.Build(Meta(xlen), []byte("vxcl-builtin"))
}

// vecadd: c[i] = a[i] + b[i] for i < n.
func vecadd(g *dispatch.Group) {
	a, b, c := g.Args.Pointer(0), g.Args.Pointer(1), g.Args.Pointer(2)
	n := uint64(g.Args.U32(3))
	g.Items(func(l [3]uint32) {
		i := g.GlobalID(0, l[0])
		if i < n {
			g.StoreF32(c, i, g.LoadF32(a, i)+g.LoadF32(b, i))
		}
	})
}

// saxpy: y[i] = alpha*x[i] + y[i] for i < n.
func saxpy(g *dispatch.Group) {
	x, y := g.Args.Pointer(0), g.Args.Pointer(1)
	alpha := g.Args.F32(2)
	n := uint64(g.Args.U32(3))
	g.Items(func(l [3]uint32) {
		i := g.GlobalID(0, l[0])
		if i < n {
			g.StoreF32(y, i, alpha*g.LoadF32(x, i)+g.LoadF32(y, i))
		}
	})
}

// fill: dst[i] = value for i < n, over a 2-D range of width GlobalSize(0).
func fill(g *dispatch.Group) {
	dst := g.Args.Pointer(0)
	v := g.Args.U32(1)
	n := uint64(g.Args.U32(2))
	w := g.GlobalSize(0)
	g.Items(func(l [3]uint32) {
		i := (g.GlobalID(1, l[1])-uint64(g.GlobalOffset(1)))*w + g.GlobalID(0, l[0]) - uint64(g.GlobalOffset(0))
		if i < n {
			g.StoreU32(dst, i, v)
		}
	})
}

// groupsum: out[group] = sum of in[] over the group's items. Partials are
// staged in the local scratch argument; the implicit local holds the count
// of contributing items.
func groupsum(g *dispatch.Group) {
	in, out := g.Args.Pointer(0), g.Args.Pointer(1)
	scratch := g.Local(2)
	count := g.Local(4)
	n := uint64(g.Args.U32(3))
	ls := g.LocalSize(0)

	binary.LittleEndian.PutUint32(count, 0)
	g.Items(func(l [3]uint32) {
		i := g.GlobalID(0, l[0])
		var v float32
		if i < n {
			v = g.LoadF32(in, i)
			binary.LittleEndian.PutUint32(count, binary.LittleEndian.Uint32(count)+1)
		}
		binary.LittleEndian.PutUint32(scratch[l[0]*4:], math.Float32bits(v))
	})
	var sum float32
	for i := range ls {
		sum += math.Float32frombits(binary.LittleEndian.Uint32(scratch[i*4:]))
	}
	if binary.LittleEndian.Uint32(count) > 0 {
		g.StoreF32(out, uint64(g.ID[0]), sum)
	}
}

func hello(g *dispatch.Group) {
	g.Items(func(l [3]uint32) {
		g.Printf("hello from group (%d,%d,%d) item (%d,%d,%d)\n",
			g.World(0), g.World(1), g.World(2), l[0], l[1], l[2])
	})
}
