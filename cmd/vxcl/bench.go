package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/profile"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/vxcl/internal/logger"
)

func benchCmd() *cli.Command {
	var (
		kernel     string
		items      int64
		local      int64
		warmupRuns int64
		benchRuns  int64
		profMode   string
		profDir    string
	)
	return &cli.Command{
		Name:  "bench",
		Usage: "Time repeated launches of a built-in kernel",
		Flags: append(deviceFlags(),
			&cli.StringFlag{
				Name:        "kernel",
				Aliases:     []string{"k"},
				Value:       "vecadd",
				Usage:       "kernel name",
				Destination: &kernel,
			},
			&cli.Int64Flag{
				Name:        "n",
				Usage:       "number of work-items",
				Value:       1 << 16,
				Destination: &items,
			},
			&cli.Int64Flag{
				Name:        "local",
				Aliases:     []string{"l"},
				Usage:       "work-items per workgroup",
				Value:       16,
				Destination: &local,
			},
			&cli.Int64Flag{
				Name:        "warmup",
				Usage:       "number of warmup launches",
				Value:       1,
				Destination: &warmupRuns,
			},
			&cli.Int64Flag{
				Name:        "runs",
				Usage:       "number of timed launches",
				Value:       10,
				Destination: &benchRuns,
			},
			&cli.StringFlag{
				Name:        "profile",
				Usage:       "write a profile while benchmarking (cpu, mem, block, mutex)",
				Destination: &profMode,
			},
			&cli.StringFlag{
				Name:        "profile-dir",
				Usage:       "directory for profile output",
				Value:       ".",
				Destination: &profDir,
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
			if benchRuns <= 0 || warmupRuns < 0 {
				return fmt.Errorf("--runs must be positive and --warmup not negative")
			}

			dev, err := openDevice(log, os.Stdout)
			if err != nil {
				return err
			}
			defer func() { _ = dev.Close() }()
			prog, err := loadProgram(dev, "")
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

			launch := func() error {
				c, err := dev.Launch(k, w.nd, w.args)
				if err != nil {
					return err
				}
				return c.Wait(ctx)
			}
			for range warmupRuns {
				if err := launch(); err != nil {
					return err
				}
			}

			if profMode != "" {
				var mode func(*profile.Profile)
				switch profMode {
				case "cpu":
					mode = profile.CPUProfile
				case "mem":
					mode = profile.MemProfile
				case "block":
					mode = profile.BlockProfile
				case "mutex":
					mode = profile.MutexProfile
				default:
					return fmt.Errorf("unknown profile mode %q", profMode)
				}
				defer profile.Start(mode, profile.ProfilePath(profDir), profile.NoShutdownHook, profile.Quiet).Stop()
			}

			times := make([]time.Duration, 0, benchRuns)
			for range benchRuns {
				start := time.Now()
				if err := launch(); err != nil {
					return err
				}
				times = append(times, time.Since(start))
			}

			var total, best time.Duration
			for i, d := range times {
				total += d
				if i == 0 || d < best {
					best = d
				}
			}
			avg := total / time.Duration(len(times))
			rate := float64(n) / avg.Seconds()
			fmt.Printf("%s n=%d local=%d runs=%d avg=%s best=%s items/s=%.0f\n",
				kernel, n, ls, len(times), avg, best, rate)
			log.Debug("benchmark finished", "stats", dev.Stats())
			return nil
		},
	}
}
