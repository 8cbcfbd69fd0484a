// Package device describes an accelerator instance and the runtime API the
// host driver talks to. Implementations live elsewhere (internal/sim).
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// AccessMode is the device-side access permission of a memory region.
type AccessMode uint8

const (
	ReadWrite AccessMode = iota
	ReadOnly
	WriteOnly
)

func (m AccessMode) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case WriteOnly:
		return "write-only"
	default:
		return "read-write"
	}
}

// ParseAccessMode accepts "rw", "ro", "wo" and their long forms.
func ParseAccessMode(s string) (AccessMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rw", "read-write", "readwrite":
		return ReadWrite, nil
	case "ro", "read-only", "readonly", "read":
		return ReadOnly, nil
	case "wo", "write-only", "writeonly", "write":
		return WriteOnly, nil
	default:
		return ReadWrite, fmt.Errorf("unknown access mode %q (expected rw, ro, or wo)", s)
	}
}

// Caps is the static description of one accelerator, queried once at open.
type Caps struct {
	Name          string `json:"name"`
	NumCores      uint32 `json:"num_cores"`
	NumWarps      uint32 `json:"num_warps"`
	NumThreads    uint32 `json:"num_threads"`
	LocalMemSize  uint64 `json:"local_mem_size"`
	LocalMemBase  uint64 `json:"local_mem_base"`
	GlobalMemSize uint64 `json:"global_mem_size"`
	// PointerWidth is 4 on 32-bit targets and 8 on 64-bit targets.
	PointerWidth uint32 `json:"pointer_width"`
	// Printf reports device-side formatted output support.
	Printf bool `json:"printf"`
}

var ErrInvalidCaps = errors.New("invalid device capabilities")

func (c Caps) Validate() error {
	if c.NumCores == 0 || c.NumWarps == 0 || c.NumThreads == 0 {
		return fmt.Errorf("%w: cores=%d warps=%d threads=%d", ErrInvalidCaps, c.NumCores, c.NumWarps, c.NumThreads)
	}
	if c.PointerWidth != 4 && c.PointerWidth != 8 {
		return fmt.Errorf("%w: pointer width %d", ErrInvalidCaps, c.PointerWidth)
	}
	if c.GlobalMemSize == 0 {
		return fmt.Errorf("%w: no global memory", ErrInvalidCaps)
	}
	return nil
}

// MaxWorkGroupSize is the number of hardware threads on one core.
func (c Caps) MaxWorkGroupSize() uint32 {
	return c.NumWarps * c.NumThreads
}

// XLen is the target register width in bits.
func (c Caps) XLen() int {
	return int(c.PointerWidth) * 8
}

// Triple is the build hash the kernel compiler targets for this device.
func (c Caps) Triple() string {
	if c.PointerWidth == 8 {
		return "vortex-riscv64-unknown-unknown-elf"
	}
	return "vortex-riscv32-unknown-unknown-elf"
}

// Mem is a region of device memory owned by the runtime.
type Mem interface {
	Address() uint64
	Size() uint64
}

// Runtime is the accelerator runtime API. Every call is synchronous; any
// error it returns is a hardware or runtime failure unless documented
// otherwise.
type Runtime interface {
	Caps() Caps
	// MemAlloc returns ErrOutOfMemory when the request cannot be satisfied.
	MemAlloc(size uint64, mode AccessMode) (Mem, error)
	MemFree(m Mem) error
	CopyToDev(dst Mem, src []byte, off uint64) error
	CopyFromDev(dst []byte, src Mem, off uint64) error
	// UploadKernel copies a kernel binary into device memory.
	UploadKernel(bin []byte) (Mem, error)
	// Start begins executing kernel id of the uploaded binary with the
	// argument buffer at args.
	Start(kernel Mem, id uint32, args Mem) error
	// ReadyWait blocks until the device signals completion.
	ReadyWait(ctx context.Context) error
	Close() error
}

// ErrOutOfMemory is returned by MemAlloc on exhaustion. It is the only
// runtime error the driver treats as recoverable.
var ErrOutOfMemory = errors.New("device memory exhausted")

// Opener opens a runtime handle for one physical device.
type Opener func() (Runtime, error)
