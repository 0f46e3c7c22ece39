package progress

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/testpipe/testpipe/types"
)

// Indicator receives run lifecycle notifications for display purposes.
type Indicator interface {
	StartCollection()
	UpdateCollection(selected, deselected, failed int)
	StartRun(totalTests int)
	StartTest(id types.NodeID)
	UpdateTest(id types.NodeID, outcome types.Outcome)
	CompleteRun()
}

// noOpIndicator provides a no-op implementation of Indicator
type noOpIndicator struct{}

// NewNoOpIndicator creates an indicator that does nothing
func NewNoOpIndicator() Indicator {
	return &noOpIndicator{}
}

func (n *noOpIndicator) StartCollection()                                  {}
func (n *noOpIndicator) UpdateCollection(selected, deselected, failed int) {}
func (n *noOpIndicator) StartRun(totalTests int)                           {}
func (n *noOpIndicator) StartTest(id types.NodeID)                         {}
func (n *noOpIndicator) UpdateTest(id types.NodeID, outcome types.Outcome) {}
func (n *noOpIndicator) CompleteRun()                                      {}

// logIndicator reports progress through the structured log on a fixed
// interval, suitable for non-interactive runs and CI output.
type logIndicator struct {
	logger log.Logger
	ticker *time.Ticker
	stopCh chan struct{}
	mu     sync.RWMutex

	collecting     bool
	selected       int
	deselected     int
	collectFailed  int
	completedTests int
	totalTests     int
	runStartTime   time.Time

	// Track currently running tests
	runningTests map[string]time.Time // nodeid -> start time
}

// NewLogIndicator creates an indicator that logs progress updates on the
// given interval.
func NewLogIndicator(logger log.Logger, updateInterval time.Duration) Indicator {
	if updateInterval == 0 {
		updateInterval = 30 * time.Second
	}

	indicator := &logIndicator{
		logger:       logger,
		ticker:       time.NewTicker(updateInterval),
		stopCh:       make(chan struct{}),
		runningTests: make(map[string]time.Time),
	}

	go indicator.progressReporter()

	return indicator
}

func (c *logIndicator) StartCollection() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.collecting = true
	c.selected, c.deselected, c.collectFailed = 0, 0, 0
	c.logger.Info("Collecting tests")
}

func (c *logIndicator) UpdateCollection(selected, deselected, failed int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.selected = selected
	c.deselected = deselected
	c.collectFailed = failed
}

func (c *logIndicator) StartRun(totalTests int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.collecting = false
	c.totalTests = totalTests
	c.completedTests = 0
	c.runStartTime = time.Now()
	c.runningTests = make(map[string]time.Time)

	c.logger.Info("Starting test run", "totalTests", totalTests)
}

func (c *logIndicator) StartTest(id types.NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.runningTests[id.Raw] = time.Now()
	c.logger.Debug("Test started", "test", id.Raw, "runningTests", len(c.runningTests))
}

func (c *logIndicator) UpdateTest(id types.NodeID, outcome types.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.runningTests, id.Raw)
	c.completedTests++

	c.logger.Debug("Test completed", "test", id.Raw, "outcome", outcome,
		"completed", c.completedTests, "total", c.totalTests)
}

func (c *logIndicator) CompleteRun() {
	c.mu.Lock()
	defer c.mu.Unlock()

	duration := time.Since(c.runStartTime).Truncate(time.Second)
	c.logger.Info("Completed test run", "totalTests", c.totalTests,
		"completed", c.completedTests, "duration", duration)
	c.runningTests = make(map[string]time.Time)
}

// progressReporter runs in a goroutine and periodically reports progress
func (c *logIndicator) progressReporter() {
	for {
		select {
		case <-c.ticker.C:
			c.reportProgress()
		case <-c.stopCh:
			return
		}
	}
}

func (c *logIndicator) reportProgress() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.collecting {
		c.logger.Info("Collection progress",
			"selected", c.selected,
			"deselected", c.deselected,
			"failed", c.collectFailed)
		return
	}

	var percentComplete float64
	if c.totalTests > 0 {
		percentComplete = float64(c.completedTests) * 100.0 / float64(c.totalTests)
	}

	c.logger.Info("Progress update",
		"completed", c.completedTests,
		"total", c.totalTests,
		"percent", fmt.Sprintf("%.1f%%", percentComplete),
		"numRunning", len(c.runningTests),
		"longestRunning", formatRunningTests(c.runningTests, 3))
}

// Stop stops the indicator's reporting goroutine.
func (c *logIndicator) Stop() {
	if c.ticker != nil {
		c.ticker.Stop()
	}
	close(c.stopCh)
}

// formatRunningTests formats the longest-running tests into a display string.
func formatRunningTests(runningTests map[string]time.Time, maxShow int) string {
	if len(runningTests) == 0 {
		return ""
	}

	type runningTest struct {
		name     string
		duration time.Duration
	}

	var running []runningTest
	now := time.Now()
	for name, startTime := range runningTests {
		running = append(running, runningTest{name: name, duration: now.Sub(startTime)})
	}

	sort.Slice(running, func(i, j int) bool {
		return running[i].duration > running[j].duration
	})

	var runningStrs []string
	for i, test := range running {
		if i >= maxShow {
			break
		}
		runningStrs = append(runningStrs, fmt.Sprintf("%s (%v)", test.name, test.duration.Truncate(time.Second)))
	}
	if len(running) > maxShow {
		runningStrs = append(runningStrs, fmt.Sprintf("+%d more", len(running)-maxShow))
	}

	return strings.Join(runningStrs, ", ")
}
