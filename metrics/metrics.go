package metrics

import (
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/testpipe/testpipe/types"
)

const (
	MetricsNamespace = "testpipe"
)

var (
	Debug bool = true

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "frames_total",
		Help:      "Count of protocol frames dispatched",
	}, []string{
		"message",
	})

	decodeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "decode_errors_total",
		Help:      "Count of frame arguments that failed to decode",
	}, []string{
		"message",
	})

	protocolViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "protocol_violations_total",
		Help:      "Count of frames carrying an unknown message name",
	}, []string{
		"message",
	})

	lifecycleOrderErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "lifecycle_order_errors_total",
		Help:      "Count of phase reports arriving for unknown tests",
	}, []string{
		"phase",
	})

	testOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "test_outcomes_total",
		Help:      "Count of finished tests by outcome",
	}, []string{
		"run_id",
		"outcome",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Result of test runs",
	}, []string{
		"run_id",
		"result",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration",
		Help:      "Duration of test runs",
	}, []string{
		"run_id",
	})
)

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

func RecordFrame(message string) {
	framesTotal.WithLabelValues(message).Inc()
}

func RecordDecodeError(message string) {
	if Debug {
		log.Debug("metric inc",
			"m", "decode_errors_total",
			"message", message,
		)
	}
	decodeErrorsTotal.WithLabelValues(message).Inc()
}

func RecordProtocolViolation(message string) {
	if Debug {
		log.Debug("metric inc",
			"m", "protocol_violations_total",
			"message", message,
		)
	}
	protocolViolationsTotal.WithLabelValues(message).Inc()
}

func RecordLifecycleOrderError(phase types.Phase) {
	if Debug {
		log.Debug("metric inc",
			"m", "lifecycle_order_errors_total",
			"phase", phase,
		)
	}
	lifecycleOrderErrorsTotal.WithLabelValues(string(phase)).Inc()
}

func RecordTestOutcome(runID string, outcome types.Outcome) {
	testOutcomesTotal.WithLabelValues(runID, string(outcome)).Inc()
}

func RecordRun(runID string, result string, duration time.Duration) {
	runResults.WithLabelValues(runID, result).Set(1)
	runDuration.WithLabelValues(runID).Set(duration.Seconds())
}
