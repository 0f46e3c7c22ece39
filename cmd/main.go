package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	"github.com/testpipe/testpipe"
	"github.com/testpipe/testpipe/flags"
	"github.com/testpipe/testpipe/service"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "testpipe"
	app.Usage = "Test Run Reporting Pipeline"
	app.Description = "testpipe launches a test-execution harness and consumes its framed reporting stream"
	app.Flags = flags.Flags
	app.Action = run
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			// Use the exit code from the ExitCoder
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			// Check for typed runtime errors
			if testpipe.IsRuntimeError(err) {
				// For runtime errors, use exit code 2
				cli.HandleExitCoder(cli.Exit(err.Error(), 2))
			} else if testpipe.IsTestFailureError(err) {
				// For test failures, use exit code 1
				cli.HandleExitCoder(cli.Exit(err.Error(), 1))
			} else {
				// For other unspecified errors, default to exit code 1
				cli.HandleExitCoder(cli.Exit(err.Error(), 1))
			}
		}
	}

	// Start telemetry
	otelShutdown, err := otelconfig.ConfigureOpenTelemetry(
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer otelShutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(cliCtx *cli.Context) error {
	logger, err := newLogger(cliCtx.String(flags.LogLevel.Name))
	if err != nil {
		return testpipe.NewRuntimeError(err)
	}

	cfg, err := testpipe.NewConfig(cliCtx, logger)
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return testpipe.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	cfg.Log.Debug("Config",
		"harness", cfg.HarnessCommand,
		"projectDir", cfg.ProjectDir,
		"logDir", cfg.LogDir,
		"runOnce", cfg.RunOnce)

	appCtx, cancel := context.WithCancelCause(cliCtx.Context)
	defer cancel(nil)

	pipeline, err := testpipe.New(appCtx, cfg, Version, func(err error) {
		cancel(err)
	})
	if err != nil {
		return testpipe.NewRuntimeError(fmt.Errorf("failed to create pipeline: %w", err))
	}

	// Health, metrics and state servers
	svc := service.New(pipeline)
	svc.Start(appCtx)
	defer svc.Shutdown()

	if err := pipeline.Start(appCtx); err != nil {
		return err
	}

	// Block until the run-once shutdown callback fires or a signal arrives.
	<-appCtx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := pipeline.Stop(stopCtx); err != nil {
		cfg.Log.Error("Failed to stop pipeline cleanly", "error", err)
	}
	pipeline.WaitForShutdown()

	if cause := context.Cause(appCtx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

// newLogger builds the root logger at the requested verbosity and installs it
// as the process default.
func newLogger(levelStr string) (log.Logger, error) {
	level, err := log.LvlFromString(levelStr)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", levelStr, err)
	}
	logger := log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, level, false))
	log.SetDefault(logger)
	return logger, nil
}
