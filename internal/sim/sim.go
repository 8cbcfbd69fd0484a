// Package sim is a functional simulator of the accelerator runtime. It
// implements device.Runtime on top of host memory and runs kernels through
// the device-side dispatch entry, with Go functions standing in for the
// compiled kernel code.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samcharles93/vxcl/internal/device"
	"github.com/samcharles93/vxcl/internal/dispatch"
	"github.com/samcharles93/vxcl/internal/logger"
	"github.com/samcharles93/vxcl/pkg/vxbin"
)

var (
	ErrBusy          = errors.New("sim: a kernel is already running")
	ErrNotRunning    = errors.New("sim: no kernel started")
	ErrUnknownKernel = errors.New("sim: kernel not registered")
	ErrClosed        = errors.New("sim: device closed")
)

// DefaultCaps is a small four-core configuration.
func DefaultCaps() device.Caps {
	return device.Caps{
		Name:          "vortex-sim",
		NumCores:      4,
		NumWarps:      4,
		NumThreads:    4,
		LocalMemSize:  16 << 10,
		LocalMemBase:  LocalMemBase,
		GlobalMemSize: 64 << 20,
		PointerWidth:  4,
		Printf:        true,
	}
}

// Op names a runtime call for fault injection.
type Op string

const (
	OpAlloc     Op = "alloc"
	OpCopyTo    Op = "copy-to"
	OpCopyFrom  Op = "copy-from"
	OpUpload    Op = "upload"
	OpStart     Op = "start"
	OpReadyWait Op = "ready-wait"
)

type Config struct {
	Caps     device.Caps
	Registry *Registry
	Logger   logger.Logger
}

// program is a binary resident in device memory.
type program struct {
	mem     *block
	digest  vxbin.Digest
	meta    *vxbin.Meta
	kernels []dispatch.Kernel
}

type Device struct {
	caps  device.Caps
	reg   *Registry
	log   logger.Logger
	mem   *memory
	local [][]byte

	mu       sync.Mutex
	programs map[uint64]*program
	running  chan error
	faults   map[Op]error
	launches uint64
	closed   bool
}

var _ device.Runtime = (*Device)(nil)

// New opens a simulated device.
func New(cfg Config) (*Device, error) {
	if err := cfg.Caps.Validate(); err != nil {
		return nil, err
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	mem, err := newMemory(cfg.Caps.GlobalMemSize)
	if err != nil {
		return nil, err
	}
	d := &Device{
		caps:     cfg.Caps,
		reg:      cfg.Registry,
		log:      cfg.Logger.With("device", cfg.Caps.Name),
		mem:      mem,
		local:    make([][]byte, cfg.Caps.NumCores),
		programs: make(map[uint64]*program),
		faults:   make(map[Op]error),
	}
	for c := range d.local {
		d.local[c] = make([]byte, cfg.Caps.LocalMemSize)
	}
	d.log.Debug("simulator opened",
		"cores", cfg.Caps.NumCores, "warps", cfg.Caps.NumWarps, "threads", cfg.Caps.NumThreads,
		"global_mem", cfg.Caps.GlobalMemSize, "xlen", cfg.Caps.XLen(), "mmap", mem.mmapped)
	return d, nil
}

// Opener adapts New to device.Opener.
func Opener(cfg Config) device.Opener {
	return func() (device.Runtime, error) { return New(cfg) }
}

func (d *Device) Caps() device.Caps { return d.caps }

// FailNext makes the next call of op return err.
func (d *Device) FailNext(op Op, err error) {
	d.mu.Lock()
	d.faults[op] = err
	d.mu.Unlock()
}

func (d *Device) injected(op Op) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if err, ok := d.faults[op]; ok {
		delete(d.faults, op)
		return err
	}
	return nil
}

func (d *Device) MemAlloc(size uint64, mode device.AccessMode) (device.Mem, error) {
	if err := d.injected(OpAlloc); err != nil {
		return nil, err
	}
	return d.mem.alloc(size, mode)
}

func (d *Device) MemFree(m device.Mem) error {
	if m == nil {
		return nil
	}
	d.mu.Lock()
	delete(d.programs, m.Address())
	d.mu.Unlock()
	return d.mem.release(m.Address())
}

func (d *Device) CopyToDev(dst device.Mem, src []byte, off uint64) error {
	if err := d.injected(OpCopyTo); err != nil {
		return err
	}
	b, err := d.region(dst, off, uint64(len(src)))
	if err != nil {
		return err
	}
	copy(b, src)
	return nil
}

func (d *Device) CopyFromDev(dst []byte, src device.Mem, off uint64) error {
	if err := d.injected(OpCopyFrom); err != nil {
		return err
	}
	b, err := d.region(src, off, uint64(len(dst)))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

func (d *Device) region(m device.Mem, off, n uint64) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil region", ErrBadAddress)
	}
	if off+n < off || off+n > m.Size() {
		return nil, fmt.Errorf("%w: [%d,%d) outside %d-byte region", ErrBadAddress, off, off+n, m.Size())
	}
	return d.mem.Bytes(m.Address()+off, n)
}

// UploadKernel copies bin into device memory and resolves its kernels
// against the registry. Kernels the registry lacks fail at Start.
func (d *Device) UploadKernel(bin []byte) (device.Mem, error) {
	if err := d.injected(OpUpload); err != nil {
		return nil, err
	}
	f, err := vxbin.Parse(bin)
	if err != nil {
		return nil, err
	}
	if want := d.caps.XLen(); f.Meta.XLen != want {
		return nil, fmt.Errorf("sim: binary built for xlen %d, device is %d", f.Meta.XLen, want)
	}
	b, err := d.mem.alloc(uint64(len(bin)), device.ReadOnly)
	if err != nil {
		return nil, err
	}
	dst, _ := d.mem.Bytes(b.addr, uint64(len(bin)))
	copy(dst, bin)

	p := &program{mem: b, digest: vxbin.Sum(bin), meta: f.Meta, kernels: make([]dispatch.Kernel, len(f.Meta.Kernels))}
	for i, k := range f.Meta.Kernels {
		p.kernels[i], _ = d.reg.Lookup(k.Name)
	}
	d.mu.Lock()
	d.programs[b.addr] = p
	d.mu.Unlock()
	d.log.Debug("kernel binary uploaded", "addr", b.addr, "size", len(bin), "kernels", len(p.kernels), "digest", p.digest)
	return b, nil
}

// Start launches kernel id asynchronously; ReadyWait collects the result.
func (d *Device) Start(kernel device.Mem, id uint32, args device.Mem) error {
	if err := d.injected(OpStart); err != nil {
		return err
	}
	if kernel == nil || args == nil {
		return fmt.Errorf("%w: nil kernel or argument region", ErrBadAddress)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running != nil {
		return ErrBusy
	}
	p, ok := d.programs[kernel.Address()]
	if !ok {
		return fmt.Errorf("%w: no binary at %#x", ErrBadAddress, kernel.Address())
	}
	if int(id) >= len(p.kernels) {
		return fmt.Errorf("sim: kernel id %d out of range [0,%d)", id, len(p.kernels))
	}
	info := p.meta.Kernels[id]
	body := p.kernels[id]
	if body == nil {
		return fmt.Errorf("%w: %q", ErrUnknownKernel, info.Name)
	}

	hw := dispatch.Hardware{
		Cores:   d.caps.NumCores,
		Warps:   d.caps.NumWarps,
		Threads: d.caps.NumThreads,
		Width:   d.caps.PointerWidth,
		Local:   func(c uint32) []byte { return d.local[c] },
	}
	l := dispatch.Launch{
		Args:     args.Address(),
		ArgsSize: args.Size(),
		Slots:    info.Slots(),
		Locals:   info.HasLocals(),
		Kernel:   body,
	}
	done := make(chan error, 1)
	d.running = done
	d.launches++
	d.log.Debug("kernel started", "kernel", info.Name, "id", id, "args", args.Address())
	go func() { done <- dispatch.Run(context.Background(), hw, d.mem, l) }()
	return nil
}

// ReadyWait blocks until the running kernel finishes. Cancelling ctx
// abandons the wait; the kernel keeps running and a later ReadyWait still
// observes it.
func (d *Device) ReadyWait(ctx context.Context) error {
	if err := d.injected(OpReadyWait); err != nil {
		return err
	}
	d.mu.Lock()
	done := d.running
	d.mu.Unlock()
	if done == nil {
		return ErrNotRunning
	}
	select {
	case err := <-done:
		d.mu.Lock()
		d.running = nil
		d.mu.Unlock()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats describes simulator usage.
type Stats struct {
	Memory   MemStats `json:"memory"`
	Programs int      `json:"programs"`
	Launches uint64   `json:"launches"`
}

func (d *Device) Stats() Stats {
	d.mu.Lock()
	st := Stats{Programs: len(d.programs), Launches: d.launches}
	d.mu.Unlock()
	st.Memory = d.mem.stats()
	return st
}

// Registry returns the kernel registry the device resolves binaries with.
func (d *Device) Registry() *Registry { return d.reg }

func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	done := d.running
	d.mu.Unlock()
	if done != nil {
		<-done
	}
	d.log.Debug("simulator closed")
	return d.mem.close()
}
