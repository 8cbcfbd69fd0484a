package main

import (
	"fmt"
	"io"

	"github.com/samcharles93/vxcl/internal/device"
	"github.com/samcharles93/vxcl/internal/driver"
	"github.com/samcharles93/vxcl/internal/kernels"
	"github.com/samcharles93/vxcl/internal/logger"
	"github.com/samcharles93/vxcl/internal/sim"
)

const deviceName = "sim0"

func u32Flag(name string, v int64) (uint32, error) {
	if v <= 0 || v > 1<<32-1 {
		return 0, fmt.Errorf("--%s must be in [1, 2^32), got %d", name, v)
	}
	return uint32(v), nil
}

// flagCaps builds the simulated device description from the device flags.
func flagCaps() (device.Caps, error) {
	caps := sim.DefaultCaps()
	var err error
	if caps.NumCores, err = u32Flag("cores", numCores); err != nil {
		return caps, err
	}
	if caps.NumWarps, err = u32Flag("warps", numWarps); err != nil {
		return caps, err
	}
	if caps.NumThreads, err = u32Flag("threads", numThreads); err != nil {
		return caps, err
	}
	if localMemSize < 0 || globalMemSize <= 0 {
		return caps, fmt.Errorf("memory sizes must be positive")
	}
	caps.LocalMemSize = uint64(localMemSize)
	caps.GlobalMemSize = uint64(globalMemSize)
	switch xlen {
	case 32:
		caps.PointerWidth = 4
	case 64:
		caps.PointerWidth = 8
	default:
		return caps, fmt.Errorf("--xlen must be 32 or 64, got %d", xlen)
	}
	caps.Printf = printfBuffer > 0
	return caps, caps.Validate()
}

// openDevice opens the simulator with every built-in kernel registered.
func openDevice(log logger.Logger, printf io.Writer) (*driver.Device, error) {
	caps, err := flagCaps()
	if err != nil {
		return nil, err
	}
	reg := sim.NewRegistry()
	if err := kernels.Register(reg); err != nil {
		return nil, err
	}
	open := sim.Opener(sim.Config{Caps: caps, Registry: reg, Logger: log})
	size := printfBuffer
	if size <= 0 {
		size = -1
	}
	return driver.Open(deviceName, open, driver.Options{
		Logger:           log,
		PrintfWriter:     printf,
		PrintfBufferSize: size,
	})
}
