package driver

import (
	"context"
	"fmt"

	"github.com/samcharles93/vxcl/internal/device"
	"github.com/samcharles93/vxcl/internal/kargs"
	"github.com/samcharles93/vxcl/internal/plan"
	"github.com/samcharles93/vxcl/internal/sched"
	"github.com/samcharles93/vxcl/pkg/vxbin"
)

// Launch enqueues kernel k over nd with args, after waitFor. Configuration
// errors are returned here, before anything reaches the device. A launch
// with no work-items completes without touching the device.
func (d *Device) Launch(k *Kernel, nd NDRange, args []kargs.Arg, waitFor ...*Command) (*Command, error) {
	if err := d.Err(); err != nil {
		return nil, err
	}
	if k == nil || k.prog == nil || k.prog.dev != d {
		return nil, configError(fmt.Errorf("kernel does not belong to device %s", d.name))
	}
	if err := nd.Validate(d.caps); err != nil {
		return nil, err
	}
	if err := checkSignature(k.info, args); err != nil {
		return nil, err
	}
	layout, err := kargs.NewLayout(args, k.info.Locals, d.caps.PointerWidth)
	if err != nil {
		return nil, configError(err)
	}
	if err := layout.CheckPointers(); err != nil {
		return nil, configError(err)
	}
	res := plan.Occupancy(nd.Groups(), d.caps.NumCores, d.caps.NumWarps, d.caps.NumThreads,
		layout.LocalBytes, d.caps.LocalMemSize)
	if !res.OK {
		return nil, &LocalMemoryError{
			Resident:  res.MaxResident,
			PerGroup:  layout.LocalBytes,
			Needed:    res.Needed,
			Available: res.Available,
		}
	}

	if nd.Empty() {
		d.mu.Lock()
		d.stats.Skipped++
		d.mu.Unlock()
		return d.submit(sched.KindLaunch, k.Name(), func(context.Context) error { return nil }, waitFor)
	}
	l := &launch{dev: d, kernel: k, nd: nd, layout: layout, resident: res.MaxResident}
	return d.submit(sched.KindLaunch, k.Name(), l.run, waitFor)
}

func checkSignature(info vxbin.KernelInfo, args []kargs.Arg) error {
	if len(args) != len(info.Args) {
		return configError(fmt.Errorf("kernel %q takes %d arguments, got %d", info.Name, len(info.Args), len(args)))
	}
	for i, want := range info.Args {
		switch want {
		case vxbin.ArgImage, vxbin.ArgSampler:
			return configError(fmt.Errorf("%w: kernel %q argument %d is an %s", ErrUnsupportedArgument, info.Name, i, want))
		}
		if got := args[i].Kind.String(); got != want {
			return configError(fmt.Errorf("kernel %q argument %d: want %s, got %s", info.Name, i, want, got))
		}
	}
	return nil
}

// launch is the device-side half of one Launch, run by the scheduler.
type launch struct {
	dev    *Device
	kernel *Kernel
	nd     NDRange
	layout *kargs.Layout
	// resident is the per-core workgroup bound the occupancy check used.
	resident uint64
}

func (l *launch) run(ctx context.Context) error {
	d := l.dev
	code, err := d.upload(l.kernel.prog)
	if err != nil {
		return err
	}
	argsMem, err := d.rt.MemAlloc(l.layout.Size, device.ReadOnly)
	if err != nil {
		return d.fail("alloc arguments", err)
	}
	defer func() {
		if err := d.rt.MemFree(argsMem); err != nil {
			_ = d.poison("free arguments", err)
		}
	}()

	h := l.nd.header()
	h.PrintfAddr, h.PrintfPos, h.PrintfCap = d.printfHeader()
	buf, err := l.layout.Build(h, argsMem.Address())
	if err != nil {
		return configError(err)
	}
	if err := d.rt.CopyToDev(argsMem, buf, 0); err != nil {
		return d.poison("copy arguments", err)
	}

	d.log.Debug("kernel launch",
		"kernel", l.kernel.Name(), "id", l.kernel.ID(), "groups", l.nd.NumGroups, "local", l.nd.LocalSize,
		"args", argsMem.Address(), "args_size", len(buf), "local_bytes", l.layout.LocalBytes,
		"local_arena", l.layout.Total(l.resident))
	if err := d.rt.Start(code, l.kernel.ID(), argsMem); err != nil {
		return d.poison("start", err)
	}
	if err := d.rt.ReadyWait(ctx); err != nil {
		return d.poison("ready-wait", err)
	}
	d.mu.Lock()
	d.stats.Launches++
	d.mu.Unlock()
	return d.drainPrintf()
}

// upload makes p the resident binary, reusing the previous upload when the
// image is unchanged.
func (d *Device) upload(p *Program) (device.Mem, error) {
	d.mu.Lock()
	if d.kernel != nil && d.kernelSum == p.digest {
		m := d.kernel
		d.mu.Unlock()
		return m, nil
	}
	prev := d.kernel
	d.kernel = nil
	d.mu.Unlock()

	if prev != nil {
		if err := d.rt.MemFree(prev); err != nil {
			return nil, d.poison("free kernel", err)
		}
	}
	m, err := d.rt.UploadKernel(p.image)
	if err != nil {
		return nil, d.fail("upload", err)
	}
	d.mu.Lock()
	d.kernel = m
	d.kernelSum = p.digest
	d.stats.Uploads++
	d.mu.Unlock()
	d.log.Debug("kernel binary uploaded", "digest", p.digest, "addr", m.Address())
	return m, nil
}
