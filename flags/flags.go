package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "TESTPIPE"

// prefixEnvVars names the environment fallback for a flag.
func prefixEnvVars(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

var (
	HarnessCommand = &cli.StringFlag{
		Name:     "harness",
		Value:    "",
		Required: true,
		EnvVars:  prefixEnvVars("HARNESS"),
		Usage:    "Command to launch the test-execution harness (eg. 'pytest')",
	}
	HarnessArgs = &cli.StringSliceFlag{
		Name:    "harness-arg",
		EnvVars: prefixEnvVars("HARNESS_ARG"),
		Usage:   "Extra argument passed to the harness command (repeatable)",
	}
	ProjectDir = &cli.StringFlag{
		Name:    "project-dir",
		Value:   "",
		EnvVars: prefixEnvVars("PROJECT_DIR"),
		Usage:   "Project directory; discovered from the enclosing go.mod when omitted",
	}
	Profile = &cli.StringFlag{
		Name:    "profile",
		Value:   "",
		EnvVars: prefixEnvVars("PROFILE"),
		Usage:   "Path to a YAML run profile (eg. 'testpipe.yaml')",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: prefixEnvVars("RUN_INTERVAL"),
		Usage:   "Interval between test runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	LogDir = &cli.StringFlag{
		Name:    "logdir",
		Value:   "logs",
		EnvVars: prefixEnvVars("LOGDIR"),
		Usage:   "Directory to store run logs",
	}
	LogLevel = &cli.StringFlag{
		Name:    "log-level",
		Value:   "info",
		EnvVars: prefixEnvVars("LOG_LEVEL"),
		Usage:   "Log verbosity: trace, debug, info, warn, error, crit",
	}
	ChunkSize = &cli.IntFlag{
		Name:    "chunk-size",
		Value:   0,
		EnvVars: prefixEnvVars("CHUNK_SIZE"),
		Usage:   "Read chunk size in bytes for the harness output stream (0 = default)",
	}
	ShowProgress = &cli.BoolFlag{
		Name:    "show-progress",
		Value:   true,
		EnvVars: prefixEnvVars("SHOW_PROGRESS"),
		Usage:   "Log periodic progress updates during the run",
	}
	ProgressInterval = &cli.DurationFlag{
		Name:    "progress-interval",
		Value:   0,
		EnvVars: prefixEnvVars("PROGRESS_INTERVAL"),
		Usage:   "Interval between progress updates when --show-progress is set",
	}
	StdIndicators = &cli.BoolFlag{
		Name:    "std-indicators",
		Value:   false,
		EnvVars: prefixEnvVars("STD_INDICATORS"),
		Usage:   "Use conventional test runner outcome markers in the summary",
	}
	SurfaceWidth = &cli.IntFlag{
		Name:    "width",
		Value:   80,
		EnvVars: prefixEnvVars("WIDTH"),
		Usage:   "Rendering surface width used for progress grouping",
	}
	SurfaceHeight = &cli.IntFlag{
		Name:    "height",
		Value:   24,
		EnvVars: prefixEnvVars("HEIGHT"),
		Usage:   "Rendering surface height used for progress grouping",
	}
)

var requiredFlags = []cli.Flag{
	HarnessCommand,
}

var optionalFlags = []cli.Flag{
	HarnessArgs,
	ProjectDir,
	Profile,
	RunInterval,
	LogDir,
	LogLevel,
	ChunkSize,
	ShowProgress,
	ProgressInterval,
	StdIndicators,
	SurfaceWidth,
	SurfaceHeight,
}

var Flags []cli.Flag

func init() {
	Flags = append(requiredFlags, optionalFlags...)
}

// CheckRequired verifies that every required flag is set.
func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
