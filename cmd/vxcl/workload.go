package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/samcharles93/vxcl/internal/device"
	"github.com/samcharles93/vxcl/internal/driver"
	"github.com/samcharles93/vxcl/internal/kargs"
)

// workload binds generated inputs to one built-in kernel and knows how to
// verify its output.
type workload struct {
	kernel string
	n      uint32
	nd     driver.NDRange
	args   []kargs.Arg
	bufs   []*driver.Buffer
	verify func(ctx context.Context) (string, error)
}

func (w *workload) free() {
	for _, b := range w.bufs {
		_ = b.Free()
	}
}

func f32Bytes(n uint32, f func(i uint32) float32) []byte {
	b := make([]byte, 4*n)
	for i := range n {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f(i)))
	}
	return b
}

func f32At(b []byte, i uint32) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
}

// newWorkload prepares kernel over n items in workgroups of local items.
func newWorkload(dev *driver.Device, kernel string, n, local uint32) (*workload, error) {
	if n == 0 || local == 0 {
		return nil, fmt.Errorf("item count and local size must be positive")
	}
	global := (n + local - 1) / local * local
	nd, err := driver.Grid([]uint32{global}, []uint32{local})
	if err != nil {
		return nil, err
	}
	w := &workload{kernel: kernel, n: n, nd: nd}
	ready := false
	defer func() {
		if !ready {
			w.free()
		}
	}()
	alloc := func(size uint64, mode device.AccessMode, data []byte) (*driver.Buffer, error) {
		b, err := dev.Alloc(size, mode, driver.AllocOptions{HostData: data})
		if err != nil {
			return nil, err
		}
		w.bufs = append(w.bufs, b)
		return b, nil
	}
	size := uint64(n) * 4

	switch kernel {
	case "vecadd":
		a, err := alloc(size, device.ReadOnly, f32Bytes(n, func(i uint32) float32 { return float32(i) }))
		if err != nil {
			return nil, err
		}
		b, err := alloc(size, device.ReadOnly, f32Bytes(n, func(i uint32) float32 { return float32(2 * i) }))
		if err != nil {
			return nil, err
		}
		c, err := alloc(size, device.WriteOnly, nil)
		if err != nil {
			return nil, err
		}
		w.args = []kargs.Arg{kargs.Pointer(a, 0), kargs.Pointer(b, 0), kargs.Pointer(c, 0), kargs.U32(n)}
		w.verify = func(ctx context.Context) (string, error) {
			return checkF32(ctx, c, n, func(i uint32) float32 { return float32(3 * i) })
		}
	case "saxpy":
		x, err := alloc(size, device.ReadOnly, f32Bytes(n, func(i uint32) float32 { return float32(i) }))
		if err != nil {
			return nil, err
		}
		y, err := alloc(size, device.ReadWrite, f32Bytes(n, func(uint32) float32 { return 1 }))
		if err != nil {
			return nil, err
		}
		w.args = []kargs.Arg{kargs.Pointer(x, 0), kargs.Pointer(y, 0), kargs.F32(2), kargs.U32(n)}
		w.verify = func(ctx context.Context) (string, error) {
			return checkF32(ctx, y, n, func(i uint32) float32 { return 2*float32(i) + 1 })
		}
	case "fill":
		dst, err := alloc(size, device.WriteOnly, nil)
		if err != nil {
			return nil, err
		}
		const v = 0xdeadbeef
		w.args = []kargs.Arg{kargs.Pointer(dst, 0), kargs.U32(v), kargs.U32(n)}
		w.verify = func(ctx context.Context) (string, error) {
			got, err := dst.Read(ctx, 0, size)
			if err != nil {
				return "", err
			}
			for i := range n {
				if x := binary.LittleEndian.Uint32(got[4*i:]); x != v {
					return "", fmt.Errorf("dst[%d] = %#x, want %#x", i, x, v)
				}
			}
			return fmt.Sprintf("%d words filled with %#x", n, v), nil
		}
	case "groupsum":
		in, err := alloc(size, device.ReadOnly, f32Bytes(n, func(uint32) float32 { return 1 }))
		if err != nil {
			return nil, err
		}
		groups := nd.NumGroups[0]
		out, err := alloc(uint64(groups)*4, device.WriteOnly, nil)
		if err != nil {
			return nil, err
		}
		w.args = []kargs.Arg{kargs.Pointer(in, 0), kargs.Pointer(out, 0), kargs.Local(uint64(local) * 4), kargs.U32(n)}
		w.verify = func(ctx context.Context) (string, error) {
			return checkF32(ctx, out, groups, func(g uint32) float32 {
				return float32(min(local, n-g*local))
			})
		}
	case "hello":
		w.verify = func(context.Context) (string, error) {
			return fmt.Sprintf("%d greetings requested", global), nil
		}
	default:
		return nil, fmt.Errorf("no workload for kernel %q", kernel)
	}
	ready = true
	return w, nil
}

func checkF32(ctx context.Context, b *driver.Buffer, n uint32, want func(i uint32) float32) (string, error) {
	got, err := b.Read(ctx, 0, uint64(n)*4)
	if err != nil {
		return "", err
	}
	for i := range n {
		if g, w := f32At(got, i), want(i); g != w {
			return "", fmt.Errorf("element %d = %v, want %v", i, g, w)
		}
	}
	return fmt.Sprintf("%d results verified", n), nil
}
