// Package driver is the host side of the accelerator: it owns device
// handles, buffers and kernel programs, and turns launches into scheduled
// commands that marshal arguments, upload code and run the device.
package driver

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/samcharles93/vxcl/internal/device"
	"github.com/samcharles93/vxcl/internal/logger"
	"github.com/samcharles93/vxcl/internal/sched"
	"github.com/samcharles93/vxcl/pkg/vxbin"
)

// DefaultPrintfBufferSize is the device printf capacity when Options leaves
// it unset.
const DefaultPrintfBufferSize = 1 << 20

type Options struct {
	Logger logger.Logger
	// PrintfWriter receives device printf output after every launch. Nil
	// discards it.
	PrintfWriter io.Writer
	// PrintfBufferSize is the text capacity of the device printf buffer.
	// Zero selects DefaultPrintfBufferSize; a negative value disables
	// printf.
	PrintfBufferSize int64
}

// Stats counts driver activity on one device.
type Stats struct {
	Launches  uint64      `json:"launches"`
	Skipped   uint64      `json:"skipped"`
	Uploads   uint64      `json:"uploads"`
	BytesIn   uint64      `json:"bytes_in"`
	BytesOut  uint64      `json:"bytes_out"`
	Printf    uint64      `json:"printf_bytes"`
	Queue     sched.Stats `json:"queue"`
	Refs      int         `json:"refs"`
	Poisoned  bool        `json:"poisoned"`
	LastFault string      `json:"last_fault,omitempty"`
}

// Device is an open accelerator. It is shared by every Open of the same
// name and released when the last handle closes.
type Device struct {
	name  string
	rt    device.Runtime
	caps  device.Caps
	log   logger.Logger
	sched *sched.Scheduler
	out   io.Writer

	mu        sync.Mutex
	refs      int
	closed    bool
	fault     *DeviceFault
	kernel    device.Mem
	kernelSum vxbin.Digest
	printf    device.Mem
	printfCap uint64
	stats     Stats
}

var devices = struct {
	sync.Mutex
	open map[string]*Device
}{open: make(map[string]*Device)}

// Open returns the device registered under name, opening it with open on
// first use. Every successful Open must be paired with Close. Opening a
// poisoned device returns its fault until every handle has been closed.
func Open(name string, open device.Opener, opts Options) (*Device, error) {
	devices.Lock()
	defer devices.Unlock()

	if d, ok := devices.open[name]; ok {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.fault != nil {
			return nil, d.fault
		}
		d.refs++
		return d, nil
	}
	if open == nil {
		return nil, fmt.Errorf("driver: no runtime for device %q", name)
	}
	rt, err := open()
	if err != nil {
		return nil, fmt.Errorf("driver: open %q: %w", name, err)
	}
	caps := rt.Caps()
	if err := caps.Validate(); err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("driver: open %q: %w", name, err)
	}

	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	log = log.With("device", name)
	out := opts.PrintfWriter
	if out == nil {
		out = io.Discard
	}
	d := &Device{
		name:  name,
		rt:    rt,
		caps:  caps,
		log:   log,
		sched: sched.New(context.Background(), log),
		out:   out,
		refs:  1,
	}
	if err := d.openPrintf(opts.PrintfBufferSize); err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("driver: open %q: %w", name, err)
	}
	devices.open[name] = d
	log.Info("device opened",
		"cores", caps.NumCores, "warps", caps.NumWarps, "threads", caps.NumThreads,
		"local_mem", caps.LocalMemSize, "xlen", caps.XLen(), "printf", d.printfCap)
	return d, nil
}

func (d *Device) openPrintf(size int64) error {
	if !d.caps.Printf || size < 0 {
		return nil
	}
	if size == 0 {
		size = DefaultPrintfBufferSize
	}
	if size > math.MaxUint32 {
		return fmt.Errorf("printf buffer of %d bytes exceeds 32 bits", size)
	}
	m, err := d.rt.MemAlloc(uint64(size)+4, device.ReadWrite)
	if err != nil {
		return fmt.Errorf("printf buffer: %w", err)
	}
	if m.Address()+uint64(size)+4 > math.MaxUint32 {
		d.log.Warn("printf buffer above 4 GiB, device printf disabled", "addr", m.Address())
		return d.rt.MemFree(m)
	}
	var zero [4]byte
	if err := d.rt.CopyToDev(m, zero[:], uint64(size)); err != nil {
		_ = d.rt.MemFree(m)
		return fmt.Errorf("printf buffer: %w", err)
	}
	d.printf = m
	d.printfCap = uint64(size)
	return nil
}

// Close drops one reference. The last reference waits for queued work,
// fails anything still pending and releases the runtime.
func (d *Device) Close() error {
	devices.Lock()
	d.mu.Lock()
	if d.refs == 0 {
		d.mu.Unlock()
		devices.Unlock()
		return ErrDeviceClosed
	}
	d.refs--
	last := d.refs == 0
	if last && devices.open[d.name] == d {
		delete(devices.open, d.name)
	}
	d.mu.Unlock()
	devices.Unlock()
	if !last {
		return nil
	}

	d.sched.Join()
	d.sched.Close(ErrDeviceClosed)

	d.mu.Lock()
	d.closed = true
	var errs []error
	if d.fault == nil {
		if d.kernel != nil {
			errs = append(errs, d.rt.MemFree(d.kernel))
		}
		if d.printf != nil {
			errs = append(errs, d.rt.MemFree(d.printf))
		}
	}
	d.kernel, d.printf = nil, nil
	d.mu.Unlock()

	errs = append(errs, d.rt.Close())
	d.log.Info("device closed")
	return errors.Join(errs...)
}

func (d *Device) Name() string      { return d.name }
func (d *Device) Caps() device.Caps { return d.caps }

// Err returns the fault that poisoned the device, ErrDeviceClosed after
// the last Close, or nil.
func (d *Device) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errLocked()
}

func (d *Device) errLocked() error {
	switch {
	case d.fault != nil:
		return d.fault
	case d.closed:
		return ErrDeviceClosed
	}
	return nil
}

// Flush starts draining ready commands.
func (d *Device) Flush() { d.sched.Flush() }

// Join blocks until every ready command has executed.
func (d *Device) Join() { d.sched.Join() }

func (d *Device) Stats() Stats {
	d.mu.Lock()
	st := d.stats
	st.Refs = d.refs
	if d.fault != nil {
		st.Poisoned = true
		st.LastFault = d.fault.Error()
	}
	d.mu.Unlock()
	st.Queue = d.sched.Stats()
	return st
}

// poison records a runtime failure. Every later operation on the device
// returns the same fault.
func (d *Device) poison(op string, err error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fault == nil {
		d.fault = &DeviceFault{Device: d.name, Op: op, Err: err}
		d.log.Error("device poisoned", "op", op, "error", err)
	}
	return d.fault
}

// fail classifies a runtime error. Memory exhaustion leaves the device
// usable; anything else poisons it.
func (d *Device) fail(op string, err error) error {
	if errors.Is(err, device.ErrOutOfMemory) {
		return fmt.Errorf("%w: %s: %w", ErrOutOfResources, op, err)
	}
	return d.poison(op, err)
}

// submit schedules fn after waitFor. fn only runs while the device is
// healthy.
func (d *Device) submit(kind sched.Kind, label string, fn sched.Func, waitFor []*Command) (*Command, error) {
	if err := d.Err(); err != nil {
		return nil, err
	}
	body := func(ctx context.Context) error {
		if err := d.Err(); err != nil {
			return err
		}
		return fn(ctx)
	}
	n := sched.NewNode(kind, label, body)
	after := make([]*sched.Node, 0, len(waitFor))
	for _, c := range waitFor {
		if c != nil {
			after = append(after, c.node)
		}
	}
	if err := d.sched.Submit(n, after...); err != nil {
		return nil, err
	}
	return &Command{node: n}, nil
}

// printfHeader fills the printf descriptor of a launch header.
func (d *Device) printfHeader() (addr, pos, capacity uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.printf == nil {
		return 0, 0, 0
	}
	base := d.printf.Address()
	return uint32(base), uint32(base + d.printfCap), uint32(d.printfCap)
}

// drainPrintf copies device printf output to the writer and rewinds the
// cursor. It runs inside a launch command, after the kernel finished.
func (d *Device) drainPrintf() error {
	d.mu.Lock()
	m, capacity := d.printf, d.printfCap
	d.mu.Unlock()
	if m == nil {
		return nil
	}
	var cur [4]byte
	if err := d.rt.CopyFromDev(cur[:], m, capacity); err != nil {
		return d.poison("printf", err)
	}
	n := min(uint64(binary.LittleEndian.Uint32(cur[:])), capacity)
	if n == 0 {
		return nil
	}
	text := make([]byte, n)
	if err := d.rt.CopyFromDev(text, m, 0); err != nil {
		return d.poison("printf", err)
	}
	var zero [4]byte
	if err := d.rt.CopyToDev(m, zero[:], capacity); err != nil {
		return d.poison("printf", err)
	}
	d.mu.Lock()
	d.stats.Printf += n
	d.mu.Unlock()
	if _, err := d.out.Write(text); err != nil {
		d.log.Warn("printf output dropped", "bytes", n, "error", err)
	}
	return nil
}
