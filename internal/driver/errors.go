package driver

import (
	"errors"
	"fmt"

	"github.com/samcharles93/vxcl/internal/kargs"
	"github.com/samcharles93/vxcl/internal/sched"
)

var (
	// ErrInvalidConfig is the root of every launch configuration error.
	// These are detected before the device is touched and are not retried.
	ErrInvalidConfig = errors.New("invalid launch configuration")

	ErrUnsupportedArgument = kargs.ErrUnsupportedArgument

	// ErrOutOfResources is returned when device memory is exhausted. The
	// device stays usable.
	ErrOutOfResources = errors.New("device out of resources")

	// ErrDeviceFault matches every *DeviceFault.
	ErrDeviceFault = errors.New("device fault")

	ErrUpstreamFailed = sched.ErrUpstreamFailed
	ErrDeviceClosed   = errors.New("device closed")
	ErrBufferFreed    = errors.New("buffer already freed")
	ErrNotStaged      = errors.New("buffer has no host staging mirror")
	ErrOutOfRange     = errors.New("access outside buffer")
)

// NDRangeError describes a malformed launch shape.
type NDRangeError struct {
	Field  string
	Dim    int
	Value  uint64
	Reason string
}

func (e *NDRangeError) Error() string {
	if e.Dim < 0 {
		return fmt.Sprintf("ndrange: %s=%d: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("ndrange: %s[%d]=%d: %s", e.Field, e.Dim, e.Value, e.Reason)
}

func (e *NDRangeError) Unwrap() error { return ErrInvalidConfig }

// LocalMemoryError reports a launch whose resident workgroups would not
// fit into local memory.
type LocalMemoryError struct {
	Resident  uint64
	PerGroup  uint64
	Needed    uint64
	Available uint64
}

func (e *LocalMemoryError) Error() string {
	return fmt.Sprintf("local memory overcommitted: %d resident workgroups x %d bytes = %d bytes needed, %d available",
		e.Resident, e.PerGroup, e.Needed, e.Available)
}

func (e *LocalMemoryError) Unwrap() error { return ErrInvalidConfig }

// DeviceFault is a hardware or runtime failure. It poisons the Device:
// every later operation returns the same fault.
type DeviceFault struct {
	Device string
	Op     string
	Err    error
}

func (e *DeviceFault) Error() string {
	return fmt.Sprintf("device %s: %s: %v", e.Device, e.Op, e.Err)
}

func (e *DeviceFault) Unwrap() error { return e.Err }

func (e *DeviceFault) Is(target error) bool { return target == ErrDeviceFault }

func configError(err error) error {
	if errors.Is(err, ErrInvalidConfig) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
}
