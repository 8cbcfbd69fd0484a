package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/vxcl/internal/driver"
	"github.com/samcharles93/vxcl/internal/kernels"
	"github.com/samcharles93/vxcl/internal/logger"
)

// loadProgram opens binPath, or packs the built-in kernels when it is empty.
func loadProgram(dev *driver.Device, binPath string) (*driver.Program, error) {
	if binPath != "" {
		return dev.OpenProgram(binPath)
	}
	image, err := kernels.Binary(dev.Caps().XLen())
	if err != nil {
		return nil, err
	}
	return dev.LoadProgram(image)
}

func runCmd() *cli.Command {
	var (
		binPath string
		kernel  string
		items   int64
		local   int64
	)
	return &cli.Command{
		Name:  "run",
		Usage: "Launch one kernel on the simulator with generated inputs and verify the result",
		Flags: append(deviceFlags(),
			&cli.StringFlag{
				Name:        "binary",
				Aliases:     []string{"b"},
				Usage:       "path to a .vxbin (default: the built-in kernels)",
				Destination: &binPath,
			},
			&cli.StringFlag{
				Name:        "kernel",
				Aliases:     []string{"k"},
				Usage:       "kernel name (vecadd, saxpy, fill, groupsum, hello)",
				Value:       "vecadd",
				Destination: &kernel,
			},
			&cli.Int64Flag{
				Name:        "n",
				Usage:       "number of work-items",
				Value:       1024,
				Destination: &items,
			},
			&cli.Int64Flag{
				Name:        "local",
				Aliases:     []string{"l"},
				Usage:       "work-items per workgroup",
				Value:       16,
				Destination: &local,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyDeviceConfig(cmd, LoadConfig())
			log := logger.FromContext(ctx)
			n, err := u32Flag("n", items)
			if err != nil {
				return err
			}
			ls, err := u32Flag("local", local)
			if err != nil {
				return err
			}

			dev, err := openDevice(log, os.Stdout)
			if err != nil {
				return err
			}
			defer func() { _ = dev.Close() }()

			prog, err := loadProgram(dev, binPath)
			if err != nil {
				return err
			}
			k, err := prog.Kernel(kernel)
			if err != nil {
				return err
			}
			w, err := newWorkload(dev, kernel, n, ls)
			if err != nil {
				return err
			}
			defer w.free()

			start := time.Now()
			c, err := dev.Launch(k, w.nd, w.args)
			if err != nil {
				return err
			}
			if err := c.Wait(ctx); err != nil {
				return fmt.Errorf("launch %s: %w", c, err)
			}
			elapsed := time.Since(start)
			summary, err := w.verify(ctx)
			if err != nil {
				return fmt.Errorf("%s: %w", kernel, err)
			}
			log.Info("kernel completed",
				"kernel", kernel, "groups", w.nd.NumGroups[0], "local", ls, "elapsed", elapsed)
			fmt.Printf("%s: %s\n", kernel, summary)
			return nil
		},
	}
}
