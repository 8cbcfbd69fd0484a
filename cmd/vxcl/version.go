package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/vxcl/internal/version"
)

func versionCmd() *cli.Command {
	var asJSON bool
	return &cli.Command{
		Name:  "version",
		Usage: "Print version and device ABI information",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print as JSON", Destination: &asJSON},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			info := version.Resolve()
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(tw, "version:\t%s\n", info.Version)
			if info.Commit != "" {
				_, _ = fmt.Fprintf(tw, "commit:\t%s\n", info.Commit)
			}
			if info.BuildTime != "" {
				_, _ = fmt.Fprintf(tw, "build time:\t%s\n", info.BuildTime)
			}
			_, _ = fmt.Fprintf(tw, "go:\t%s %s\n", info.GoVersion, info.Platform)
			_, _ = fmt.Fprintf(tw, "vxbin format:\t%s\n", info.Binary)
			_, _ = fmt.Fprintf(tw, "args header:\t%d bytes\n", info.ArgsHeader)
			return tw.Flush()
		},
	}
}
