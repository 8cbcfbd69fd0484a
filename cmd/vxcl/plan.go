package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/vxcl/internal/plan"
)

// parseDims parses "X", "X,Y" or "X,Y,Z".
func parseDims(s string) ([]uint32, error) {
	parts := strings.Split(s, ",")
	if len(parts) > 3 {
		return nil, fmt.Errorf("at most 3 dimensions, got %q", s)
	}
	dims := make([]uint32, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("dimension %d of %q: %w", i, s, err)
		}
		dims[i] = uint32(v)
	}
	return dims, nil
}

func product(dims []uint32) (uint64, error) {
	q := uint64(1)
	for _, d := range dims {
		q *= uint64(d)
		if q > math.MaxUint32 {
			return 0, fmt.Errorf("workgroup count exceeds 32 bits")
		}
	}
	return q, nil
}

func planCmd() *cli.Command {
	var (
		groups  string
		asJSON  bool
		walkOut bool
	)
	return &cli.Command{
		Name:  "plan",
		Usage: "Show how a grid of workgroups is distributed over cores, warps and threads",
		Flags: append(deviceFlags(),
			&cli.StringFlag{
				Name:        "groups",
				Aliases:     []string{"g"},
				Usage:       "workgroup counts per dimension, e.g. 1000 or 32,32",
				Required:    true,
				Destination: &groups,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the plan as JSON",
				Destination: &asJSON,
			},
			&cli.BoolFlag{
				Name:        "walk",
				Usage:       "list the lane of every workgroup",
				Destination: &walkOut,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyDeviceConfig(cmd, LoadConfig())
			dims, err := parseDims(groups)
			if err != nil {
				return err
			}
			q, err := product(dims)
			if err != nil {
				return err
			}
			caps, err := flagCaps()
			if err != nil {
				return err
			}
			p := plan.New(q, caps.NumCores, caps.NumWarps, caps.NumThreads)
			cores := make([]plan.CorePlan, 0, p.ActiveCores)
			for c := range p.ActiveCores {
				cores = append(cores, p.Core(c))
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Plan  plan.Plan       `json:"plan"`
					Cores []plan.CorePlan `json:"cores"`
				}{p, cores})
			}

			fmt.Println(p)
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "core\toffset\tcount\tnW\tK\tR\twarps\trT")
			for _, cp := range cores {
				_, _ = fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
					cp.Core, cp.Offset, cp.Count, cp.FullWarps, cp.Iterations, cp.WarpRemainder, cp.SpawnWarps, cp.ThreadRemainder)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if walkOut {
				p.Walk(func(l plan.Lane, id uint64) bool {
					pass := "warp"
					if l.Remainder {
						pass = "rem"
					}
					fmt.Printf("%d\tcore=%d warp=%d thread=%d %s\n", id, l.Core, l.Warp, l.Thread, pass)
					return true
				})
			}
			return nil
		},
	}
}

func occupancyCmd() *cli.Command {
	var (
		groups     string
		localBytes int64
	)
	return &cli.Command{
		Name:  "occupancy",
		Usage: "Check whether a launch's local memory fits on every core",
		Flags: append(deviceFlags(),
			&cli.StringFlag{
				Name:        "groups",
				Aliases:     []string{"g"},
				Usage:       "workgroup counts per dimension",
				Required:    true,
				Destination: &groups,
			},
			&cli.Int64Flag{
				Name:        "local-bytes",
				Usage:       "local memory per workgroup in bytes",
				Destination: &localBytes,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyDeviceConfig(cmd, LoadConfig())
			dims, err := parseDims(groups)
			if err != nil {
				return err
			}
			q, err := product(dims)
			if err != nil {
				return err
			}
			caps, err := flagCaps()
			if err != nil {
				return err
			}
			if localBytes < 0 {
				return fmt.Errorf("--local-bytes must not be negative")
			}
			r := plan.Occupancy(q, caps.NumCores, caps.NumWarps, caps.NumThreads, uint64(localBytes), caps.LocalMemSize)
			fmt.Println(r)
			if !r.OK {
				return cli.Exit("local memory overcommitted", 2)
			}
			return nil
		},
	}
}
