package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/vxcl/pkg/vxbin"
)

func inspectCmd() *cli.Command {
	var asJSON bool
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Describe the contents of a .vxbin kernel binary",
		ArgsUsage: "<file.vxbin>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print the kernel metadata as JSON", Destination: &asJSON},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return cli.Exit("inspect takes exactly one .vxbin path", 2)
			}
			path := cmd.Args().First()
			f, err := vxbin.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer func() { _ = f.Close() }()

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(f.Meta)
			}

			h := f.Header
			fmt.Printf("file:     %s\n", path)
			fmt.Printf("version:  %d.%d\n", h.Major, h.Minor)
			fmt.Printf("size:     %d bytes\n", h.FileSize)
			fmt.Printf("xlen:     %d (64-bit flag %t)\n", f.Meta.XLen, f.Is64Bit())
			fmt.Printf("digest:   %s\n", vxbin.Sum(f.Data))

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "\nsection\tversion\toffset\tsize")
			for _, s := range f.Sections {
				_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", vxbin.SectionType(s.Type), s.Version, s.Offset, s.Size)
			}
			_, _ = fmt.Fprintln(tw, "\nid\tkernel\targs\tlocals")
			for i, k := range f.Meta.Kernels {
				locals := make([]string, len(k.Locals))
				for j, n := range k.Locals {
					locals[j] = fmt.Sprint(n)
				}
				_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i, k.Name, strings.Join(k.Args, ","), strings.Join(locals, ","))
			}
			return tw.Flush()
		},
	}
}
