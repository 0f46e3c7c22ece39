// Package testpipe orchestrates a reporting pipeline around a test-execution
// harness: it launches the harness as a child process, reconstructs its
// framed output stream, and aggregates per-test lifecycle state.
package testpipe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/testpipe/testpipe/exitcodes"
	"github.com/testpipe/testpipe/logging"
	"github.com/testpipe/testpipe/metrics"
	"github.com/testpipe/testpipe/progress"
	"github.com/testpipe/testpipe/protocol"
	"github.com/testpipe/testpipe/runner"
	"github.com/testpipe/testpipe/state"
	"github.com/testpipe/testpipe/types"
)

// Pipeline runs the harness and consumes its reporting stream.
type Pipeline struct {
	ctx     context.Context
	config  *Config
	version string

	aggregator *state.Aggregator
	result     *RunResult

	// observers receive the same decoded messages the aggregator receives.
	observers []any

	mu     sync.RWMutex
	runID  string
	phase  string
	mapper *progress.Mapper

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*Pipeline, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating pipeline with config",
		"harness", config.HarnessCommand,
		"projectDir", config.ProjectDir,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce)

	return &Pipeline{
		ctx:              ctx,
		config:           config,
		version:          version,
		aggregator:       state.NewAggregator(config.Log.New("module", "state")),
		done:             make(chan struct{}),
		phase:            "idle",
		shutdownCallback: shutdownCallback,
	}, nil
}

// RegisterObserver adds a handler that will receive the decoded messages of
// every subsequent run. The handler may implement any subset of the
// dispatcher's handler interfaces.
func (p *Pipeline) RegisterObserver(handler any) {
	p.observers = append(p.observers, handler)
}

// Aggregator exposes the test state for rendering collaborators.
func (p *Pipeline) Aggregator() *state.Aggregator {
	return p.aggregator
}

// Mapper returns the progress grouping for the current test set, or nil
// before collection has finished.
func (p *Pipeline) Mapper() *progress.Mapper {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mapper
}

// Result returns the most recent run's result.
func (p *Pipeline) Result() *RunResult {
	return p.result
}

// Start runs the harness, once or periodically at the configured interval.
func (p *Pipeline) Start(ctx context.Context) error {
	// Set up panic recovery to ensure we exit with code 2 for runtime errors
	defer func() {
		if r := recover(); r != nil {
			p.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	p.ctx = ctx
	p.done = make(chan struct{})
	p.running.Store(true)

	if p.config.RunOnce {
		p.config.Log.Info("Starting testpipe in run-once mode")
	} else {
		p.config.Log.Info("Starting testpipe in continuous mode", "interval", p.config.RunInterval)
	}

	err := p.runTests()
	if err != nil {
		p.config.Log.Error("Runtime error running tests", "error", err)
		return cli.Exit(err.Error(), exitcodes.RuntimeErr)
	}

	if p.config.RunOnce {
		p.config.Log.Info("Tests completed, exiting (run-once mode)")

		if p.result != nil && !p.result.Passed() {
			p.config.Log.Warn("Run-once test run completed with failures, returning exit code 1")
			return NewTestFailureError(p.result.String())
		}

		go func() {
			p.shutdownCallback(nil)
		}()
		return nil
	}

	// Periodic test execution
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.config.Log.Debug("Starting periodic test runner goroutine", "interval", p.config.RunInterval)

		for {
			select {
			case <-time.After(p.config.RunInterval):
				if !p.running.Load() {
					p.config.Log.Debug("Service stopped, exiting periodic test runner")
					return
				}
				p.config.Log.Info("Running periodic tests")
				if err := p.runTests(); err != nil {
					p.config.Log.Error("Error running periodic tests", "error", err)
				}

			case <-p.done:
				p.config.Log.Debug("Done signal received, stopping periodic test runner")
				return

			case <-ctx.Done():
				p.config.Log.Debug("Context canceled, stopping periodic test runner")
				p.running.Store(false)
				return
			}
		}
	}()
	p.config.Log.Debug("testpipe started successfully")
	return nil
}

// Stop stops the pipeline service.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.config.Log.Info("Stopping testpipe")

	if !p.running.Load() {
		p.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}

	p.running.Store(false)
	close(p.done)

	p.config.Log.Info("testpipe stopped successfully")
	return nil
}

// Stopped returns true if the pipeline service is stopped.
func (p *Pipeline) Stopped() bool {
	return !p.running.Load()
}

// WaitForShutdown blocks until background goroutines have exited.
func (p *Pipeline) WaitForShutdown() {
	p.wg.Wait()
}

func (p *Pipeline) setPhase(phase string) {
	p.mu.Lock()
	p.phase = phase
	p.mu.Unlock()
}

func (p *Pipeline) setMapper(m *progress.Mapper) {
	p.mu.Lock()
	p.mapper = m
	p.mu.Unlock()
}

// runTests executes one harness run and processes the resulting stream.
// Errors returned here are operational; test failures land in p.result.
func (p *Pipeline) runTests() error {
	runID := uuid.New().String()
	p.mu.Lock()
	p.runID = runID
	p.mu.Unlock()
	start := time.Now()

	tracer := otel.Tracer("testpipe")
	ctx, span := tracer.Start(p.ctx, "testrun", trace.WithAttributes(
		attribute.String("testpipe.run_id", runID),
		attribute.String("testpipe.harness", p.config.HarnessCommand),
	))
	defer span.End()

	logger := p.config.Log.New("run_id", runID)
	logger.Info("Starting harness", "command", p.config.HarnessCommand, "args", p.config.HarnessArgs)

	fileLogger, err := logging.NewFileLogger(p.config.LogDir, runID)
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to create file logger: %w", err))
	}

	p.aggregator.PrepareForRun(nil)
	p.setPhase("starting")

	var indicator progress.Indicator
	if p.config.ShowProgress {
		indicator = progress.NewLogIndicator(logger.New("module", "progress"), p.config.ProgressInterval)
	} else {
		indicator = progress.NewNoOpIndicator()
	}

	codec := protocol.NewCodec(logger.New("module", "codec"))
	dispatcher := runner.NewDispatcher(logger.New("module", "dispatcher"), codec)

	obs := &runObserver{pipeline: p, indicator: indicator, runID: runID, log: logger}

	// Registration order matters: the aggregator mutates state first, then
	// the file logger persists, then observers see the updated state.
	dispatcher.Register(p.aggregator)
	dispatcher.Register(fileLogger)
	dispatcher.Register(obs)
	for _, extra := range p.observers {
		dispatcher.Register(extra)
	}

	cmd := exec.CommandContext(ctx, p.config.HarnessCommand, p.config.HarnessArgs...)
	cmd.Dir = p.config.ProjectDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to open stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to open stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return NewRuntimeError(fmt.Errorf("failed to start harness %q: %w", p.config.HarnessCommand, err))
	}

	// The second inherited channel carries passthrough text only; persist it
	// without dispatching.
	var stderrWG sync.WaitGroup
	stderrWG.Add(1)
	go func() {
		defer stderrWG.Done()
		sr := runner.NewStreamReconstructor(stderr, logger.New("module", "stderr"), p.config.ChunkSize)
		for {
			lines, err := sr.Next(ctx)
			for _, line := range lines {
				_ = fileLogger.LogStderr(line + "\n")
			}
			if err != nil {
				return
			}
		}
	}()

	// Main read/reconstruct/dispatch loop: single-threaded, so the
	// aggregator needs no locking.
	sr := runner.NewStreamReconstructor(stdout, logger.New("module", "reconstructor"), p.config.ChunkSize)
	var loopErr error
	for {
		lines, err := sr.Next(ctx)
		for _, line := range lines {
			if strings.HasPrefix(line, protocol.Sentinel) {
				_ = fileLogger.LogFrame(line)
			}
			dispatcher.Dispatch(line)
		}
		if err != nil {
			loopErr = err
			break
		}
	}

	// Final bookkeeping: the read loop has exactly one exit, so this runs
	// once per run.
	stderrWG.Wait()
	waitErr := cmd.Wait()
	exitCode := cmd.ProcessState.ExitCode()
	duration := time.Since(start)

	abrupt := !obs.sawShutdown()
	if abrupt {
		logger.Warn("Harness stream closed without shutdown frame", "exitCode", exitCode)
		p.aggregator.MarkInterrupted()
	}
	p.setPhase("done")

	if stopper, ok := indicator.(interface{ Stop() }); ok {
		stopper.Stop()
	}

	result := newRunResult(runID, duration, p.aggregator, abrupt, exitCode)
	p.result = result

	p.printResultsTable(result)
	fmt.Println(result.String())
	_ = fileLogger.WriteSummary(result.String() + "\n")
	if err := fileLogger.Close(); err != nil {
		logger.Warn("Failed to close file logger", "error", err)
	}

	runStatus := "pass"
	if !result.Passed() {
		runStatus = "fail"
	}
	metrics.RecordRun(runID, runStatus, duration)
	span.SetAttributes(
		attribute.Int("testpipe.total", result.Total),
		attribute.Int("testpipe.failures", result.FailureCount()),
		attribute.String("testpipe.status", runStatus),
	)
	logger.Info("Test run completed", "status", runStatus, "duration", duration)

	if ctxErr := contextError(loopErr); ctxErr != nil {
		return NewRuntimeError(ctxErr)
	}
	// Exit code 1 is the harness reporting test failures; those surface
	// through the result. Anything else non-zero is operational.
	if abrupt || exitCode > exitcodes.TestFailure || exitCode < 0 {
		return NewRuntimeError(NewChildProcessError(exitCode, abrupt, waitErr))
	}
	return nil
}

// contextError reports whether the read loop ended by cancellation rather
// than end-of-stream.
func contextError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// StateSnapshot implements the state endpoint's source: the current run id,
// phase, and per-outcome counts.
func (p *Pipeline) StateSnapshot() any {
	p.mu.RLock()
	runID, phase := p.runID, p.phase
	groups := 0
	if p.mapper != nil {
		groups = len(p.mapper.Groups)
	}
	p.mu.RUnlock()

	counts := make(map[string]int)
	for _, rec := range p.aggregator.Records() {
		counts[string(rec.Outcome())]++
	}
	finished, total := p.aggregator.CompletionCounts()

	return struct {
		RunID      string                 `json:"runId"`
		Phase      string                 `json:"phase"`
		Finished   int                    `json:"finished"`
		Total      int                    `json:"total"`
		Groups     int                    `json:"groups"`
		Outcomes   map[string]int         `json:"outcomes"`
		Collection state.CollectionCounts `json:"collection"`
	}{
		RunID:      runID,
		Phase:      phase,
		Finished:   finished,
		Total:      total,
		Groups:     groups,
		Outcomes:   counts,
		Collection: p.aggregator.CollectionProgress(),
	}
}

// runObserver bridges dispatcher messages to the progress indicator, the
// metrics, and the pipeline's phase tracking for one run.
type runObserver struct {
	pipeline  *Pipeline
	indicator progress.Indicator
	runID     string
	log       log.Logger

	mu       sync.Mutex
	shutdown bool
}

func (o *runObserver) sawShutdown() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.shutdown
}

func (o *runObserver) HandleInit(config protocol.ConfigRepresentation) {
	o.log.Info("Harness initialized", "rootPath", config.RootPath, "workers", config.NumWorkers)
}

func (o *runObserver) HandleSessionStart(session protocol.SessionRepresentation) {
	o.pipeline.setPhase("session")
}

func (o *runObserver) HandleSessionEnd(exitStatus int64) {
	o.log.Info("Harness session ended", "exitStatus", exitStatus)
}

func (o *runObserver) HandleCollectionStart() {
	o.pipeline.setPhase("collecting")
	o.indicator.StartCollection()
}

func (o *runObserver) HandleCollectReport(report protocol.CollectReportRepresentation) {
	counts := o.pipeline.aggregator.CollectionProgress()
	o.indicator.UpdateCollection(counts.Selected, counts.Deselected, counts.Failed)
}

func (o *runObserver) HandleDeselect(items []protocol.ItemRepresentation) {
	counts := o.pipeline.aggregator.CollectionProgress()
	o.indicator.UpdateCollection(counts.Selected, counts.Deselected, counts.Failed)
}

// HandleCollectionFinish builds the progress grouping for the collected set.
func (o *runObserver) HandleCollectionFinish(items []protocol.ItemRepresentation) {
	agg := o.pipeline.aggregator
	records := agg.Records()
	ids := make([]types.NodeID, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID())
	}
	cfg := o.pipeline.config
	o.pipeline.setMapper(progress.NewMapper(cfg.SurfaceWidth, cfg.SurfaceHeight, ids))

	counts := agg.CollectionProgress()
	o.indicator.UpdateCollection(counts.Selected, counts.Deselected, counts.Failed)
}

func (o *runObserver) HandleStartRunPhase() {
	o.pipeline.setPhase("running")
	_, total := o.pipeline.aggregator.CompletionCounts()
	o.indicator.StartRun(total)
}

func (o *runObserver) HandleStartTest(id types.NodeID) {
	o.indicator.StartTest(id)
}

func (o *runObserver) HandleTestReport(report protocol.TestReportRepresentation) {
	// State mutation already happened in the aggregator; nothing to do until
	// the test ends.
}

func (o *runObserver) HandleEndTest(id types.NodeID) {
	outcome := types.OutcomeUnknown
	if rec := o.pipeline.aggregator.Record(id); rec != nil {
		outcome = rec.Outcome()
	}
	o.indicator.UpdateTest(id, outcome)
	metrics.RecordTestOutcome(o.runID, outcome)
}

func (o *runObserver) HandleWarning(w protocol.WarningRepresentation) {
	o.log.Warn("Harness warning", "message", firstLine(w.Message), "nodeid", w.NodeID, "when", w.When)
}

func (o *runObserver) HandleInternalError(repr string) {
	o.log.Error("Harness internal error", "error", firstLine(repr))
	metrics.RecordError("harness internal error")
}

func (o *runObserver) HandleInterrupt(reason string) {
	o.log.Warn("Harness interrupted", "reason", reason)
}

func (o *runObserver) HandleUnconfigure() {
	o.mu.Lock()
	o.shutdown = true
	o.mu.Unlock()
	o.indicator.CompleteRun()
	o.pipeline.setPhase("done")
}
