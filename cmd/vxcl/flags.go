package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/vxcl/internal/logger"
)

var (
	logLevel  string
	logFormat string
	debug     bool

	numCores      int64
	numWarps      int64
	numThreads    int64
	localMemSize  int64
	globalMemSize int64
	xlen          int64
	printfBuffer  int64
)

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// deviceFlags describe the simulated accelerator. Defaults match
// sim.DefaultCaps.
func deviceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "cores",
			Usage:       "number of cores (NC)",
			Value:       4,
			Destination: &numCores,
		},
		&cli.Int64Flag{
			Name:        "warps",
			Usage:       "warps per core (NW)",
			Value:       4,
			Destination: &numWarps,
		},
		&cli.Int64Flag{
			Name:        "threads",
			Usage:       "threads per warp (NT)",
			Value:       4,
			Destination: &numThreads,
		},
		&cli.Int64Flag{
			Name:        "local-mem",
			Usage:       "local memory per core in bytes",
			Value:       16 << 10,
			Destination: &localMemSize,
		},
		&cli.Int64Flag{
			Name:        "global-mem",
			Usage:       "device global memory in bytes",
			Value:       64 << 20,
			Destination: &globalMemSize,
		},
		&cli.Int64Flag{
			Name:        "xlen",
			Usage:       "target register width in bits (32 or 64)",
			Value:       32,
			Sources:     cli.EnvVars("VXCL_XLEN"),
			Destination: &xlen,
		},
		&cli.Int64Flag{
			Name:        "printf-buffer",
			Usage:       "device printf buffer size in bytes (0 disables)",
			Value:       1 << 20,
			Destination: &printfBuffer,
		},
	}
}

// setupLogging applies the config file to the logging flags and stores the
// resulting logger in the context.
func setupLogging(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg := LoadConfig()
	if cfg.LogLevel != "" && !cmd.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !cmd.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	log, err := logger.Open(os.Stderr, logFormat, level)
	if err != nil {
		return ctx, err
	}
	return logger.WithContext(ctx, log), nil
}
