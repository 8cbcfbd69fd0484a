package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/samcharles93/vxcl/internal/device"
	"github.com/samcharles93/vxcl/internal/sched"
)

type AllocOptions struct {
	// HostData initialises the buffer. It may be shorter than the buffer.
	HostData []byte
	// Staged keeps a host mirror for Map and Unmap.
	Staged bool
}

// Buffer is a region of device global memory.
type Buffer struct {
	dev  *Device
	mem  device.Mem
	Size uint64
	Mode device.AccessMode

	mu    sync.Mutex
	freed bool
	host  []byte
}

// Alloc reserves size bytes of device memory. Exhaustion returns an error
// matching ErrOutOfResources and leaves the device usable.
func (d *Device) Alloc(size uint64, mode device.AccessMode, opts AllocOptions) (*Buffer, error) {
	if err := d.Err(); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, fmt.Errorf("%w: zero-sized buffer", ErrInvalidConfig)
	}
	if uint64(len(opts.HostData)) > size {
		return nil, fmt.Errorf("%w: %d bytes of host data for a %d-byte buffer", ErrInvalidConfig, len(opts.HostData), size)
	}
	m, err := d.rt.MemAlloc(size, mode)
	if err != nil {
		return nil, d.fail("alloc", err)
	}
	b := &Buffer{dev: d, mem: m, Size: size, Mode: mode}
	if opts.Staged {
		b.host = make([]byte, size)
		copy(b.host, opts.HostData)
	}
	if len(opts.HostData) > 0 {
		if err := b.Write(context.Background(), opts.HostData, 0); err != nil {
			_ = b.Free()
			return nil, err
		}
	}
	d.log.Debug("buffer allocated", "addr", m.Address(), "size", size, "mode", mode, "staged", opts.Staged)
	return b, nil
}

// Address is the device address of the first byte.
func (b *Buffer) Address() uint64 { return b.mem.Address() }

// Free returns the memory to the device. Commands still referencing the
// buffer must have completed.
func (b *Buffer) Free() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.freed {
		return ErrBufferFreed
	}
	b.freed = true
	b.host = nil
	if err := b.dev.Err(); err != nil {
		return err
	}
	if err := b.dev.rt.MemFree(b.mem); err != nil {
		return b.dev.poison("free", err)
	}
	return nil
}

func (b *Buffer) check(off, n uint64) error {
	b.mu.Lock()
	freed := b.freed
	b.mu.Unlock()
	if freed {
		return ErrBufferFreed
	}
	if off+n < off || off+n > b.Size {
		return fmt.Errorf("%w: [%d,%d) of a %d-byte buffer", ErrOutOfRange, off, off+n, b.Size)
	}
	return nil
}

// EnqueueWrite copies src into b at off once waitFor has completed. src is
// captured at call time.
func (d *Device) EnqueueWrite(b *Buffer, off uint64, src []byte, waitFor ...*Command) (*Command, error) {
	if err := b.check(off, uint64(len(src))); err != nil {
		return nil, err
	}
	data := append([]byte(nil), src...)
	return d.submit(sched.KindWrite, "", func(context.Context) error {
		if err := d.rt.CopyToDev(b.mem, data, off); err != nil {
			return d.poison("copy-to-device", err)
		}
		d.mu.Lock()
		d.stats.BytesIn += uint64(len(data))
		d.mu.Unlock()
		return nil
	}, waitFor)
}

// EnqueueRead fills dst from b at off once waitFor has completed. dst must
// not be touched until the command is done.
func (d *Device) EnqueueRead(b *Buffer, off uint64, dst []byte, waitFor ...*Command) (*Command, error) {
	if err := b.check(off, uint64(len(dst))); err != nil {
		return nil, err
	}
	return d.submit(sched.KindRead, "", func(context.Context) error {
		if err := d.rt.CopyFromDev(dst, b.mem, off); err != nil {
			return d.poison("copy-from-device", err)
		}
		d.mu.Lock()
		d.stats.BytesOut += uint64(len(dst))
		d.mu.Unlock()
		return nil
	}, waitFor)
}

// Write copies src into the buffer at off and waits for it.
func (b *Buffer) Write(ctx context.Context, src []byte, off uint64) error {
	cmd, err := b.dev.EnqueueWrite(b, off, src)
	if err != nil {
		return err
	}
	return cmd.Wait(ctx)
}

// Read returns n bytes from the buffer at off.
func (b *Buffer) Read(ctx context.Context, off, n uint64) ([]byte, error) {
	dst := make([]byte, n)
	cmd, err := b.dev.EnqueueRead(b, off, dst)
	if err != nil {
		return nil, err
	}
	if err := cmd.Wait(ctx); err != nil {
		return nil, err
	}
	return dst, nil
}

// Map refreshes the host mirror of a staged buffer from the device and
// returns it. Changes reach the device on Unmap.
func (b *Buffer) Map(ctx context.Context) ([]byte, error) {
	b.mu.Lock()
	host := b.host
	b.mu.Unlock()
	if host == nil {
		if err := b.check(0, 0); err != nil {
			return nil, err
		}
		return nil, ErrNotStaged
	}
	cmd, err := b.dev.EnqueueRead(b, 0, host)
	if err != nil {
		return nil, err
	}
	if err := cmd.Wait(ctx); err != nil {
		return nil, err
	}
	return host, nil
}

// Unmap writes the host mirror back to the device.
func (b *Buffer) Unmap(ctx context.Context) error {
	b.mu.Lock()
	host := b.host
	b.mu.Unlock()
	if host == nil {
		if err := b.check(0, 0); err != nil {
			return err
		}
		return ErrNotStaged
	}
	return b.Write(ctx, host, 0)
}
