package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/vxcl/internal/kernels"
	"github.com/samcharles93/vxcl/internal/logger"
	"github.com/samcharles93/vxcl/pkg/vxbin"
)

// selectKernels returns the metadata of the named built-in kernels, or of
// all of them when names is empty.
func selectKernels(xlen int, names []string) (*vxbin.Meta, error) {
	all := kernels.Meta(xlen)
	if len(names) == 0 {
		return all, nil
	}
	m := &vxbin.Meta{XLen: xlen}
	for _, name := range names {
		_, info, err := all.Kernel(name)
		if err != nil {
			return nil, err
		}
		m.Kernels = append(m.Kernels, info)
	}
	return m, m.Validate()
}

func packCmd() *cli.Command {
	return &cli.Command{
		Name:      "pack",
		Usage:     "Write a .vxbin containing built-in kernels",
		ArgsUsage: "[kernel ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "output",
				Aliases:  []string{"out", "o"},
				Usage:    "output .vxbin path",
				Required: true,
			},
			&cli.Int64Flag{
				Name:    "xlen",
				Usage:   "target register width in bits (32 or 64)",
				Value:   32,
				Sources: cli.EnvVars("VXCL_XLEN"),
			},
			&cli.StringFlag{
				Name:  "code",
				Usage: "file to embed as the code section",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			width := int(cmd.Int64("xlen"))
			if width != 32 && width != 64 {
				return fmt.Errorf("--xlen must be 32 or 64, got %d", width)
			}
			meta, err := selectKernels(width, cmd.Args().Slice())
			if err != nil {
				return err
			}
			code := []byte("vxcl-builtin")
			if path := cmd.String("code"); path != "" {
				if code, err = os.ReadFile(path); err != nil {
					return err
				}
			}
			image, err := vxbin.Build(meta, code)
			if err != nil {
				return err
			}
			out := cmd.String("output")
			if err := vxbin.WriteFile(out, image); err != nil {
				return err
			}
			log.Info("binary written", "path", out, "kernels", len(meta.Kernels), "xlen", width,
				"size", len(image), "digest", vxbin.Sum(image).String())
			return nil
		},
	}
}
