package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "gridrunner"
)

var (
	tunnelOpenSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "tunnel_open_seconds",
		Help:      "Time taken for the tunnel to report Connected.",
		Buckets:   []float64{1, 2, 5, 10, 20, 30, 45, 60},
	}, []string{
		"result",
	})

	tunnelsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "tunnels_open",
		Help:      "Number of tunnel processes currently open",
	})

	admissionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "admission_attempts_total",
		Help:      "Count of remote capacity probes made by the admission controller",
	}, []string{
		"result",
	})

	admissionWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "admission_wait_seconds",
		Help:      "Time a worker waited for a remote session slot",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8),
	})

	workersRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "workers_running",
		Help:      "Number of workers currently executing",
	})

	workerOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "worker_outcomes_total",
		Help:      "Count of finished workers by browser and exit code",
	}, []string{
		"browser",
		"exit_code",
	})

	workerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "worker_duration_seconds",
		Help:      "Wall time of a worker including admission",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{
		"browser",
	})

	runResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_total",
		Help:      "Count of finished runs by overall result",
	}, []string{
		"result",
	})

	accountRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "account_api_requests_total",
		Help:      "Count of account API requests by status",
	}, []string{
		"status",
	})
)

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// RecordTunnelOpen records how long the tunnel took to open or fail
func RecordTunnelOpen(d time.Duration, ok bool) {
	tunnelOpenSeconds.WithLabelValues(resultLabel(ok)).Observe(d.Seconds())
	if ok {
		tunnelsOpen.Inc()
	}
}

// RecordTunnelClosed marks an open tunnel as closed
func RecordTunnelClosed() {
	tunnelsOpen.Dec()
}

// RecordAdmissionAttempt counts a single capacity probe
func RecordAdmissionAttempt(admitted bool) {
	if admitted {
		admissionAttempts.WithLabelValues("admitted").Inc()
		return
	}
	admissionAttempts.WithLabelValues("rejected").Inc()
}

// RecordAdmissionWait records the total wait of one admission check
func RecordAdmissionWait(d time.Duration) {
	admissionWaitSeconds.Observe(d.Seconds())
}

// WorkerStarted increments the running workers gauge
func WorkerStarted() {
	workersRunning.Inc()
}

// RecordWorkerOutcome decrements the running gauge and records the outcome
func RecordWorkerOutcome(browser string, exitCode int, d time.Duration) {
	workersRunning.Dec()
	workerOutcomes.WithLabelValues(browser, strconv.Itoa(exitCode)).Inc()
	workerDuration.WithLabelValues(browser).Observe(d.Seconds())
}

// RecordRun records the overall result of a run
func RecordRun(exitCode int) {
	runResults.WithLabelValues(resultLabel(exitCode == 0)).Inc()
}

// RecordAccountRequest counts an account API response by status code, or
// "error" when no response was received
func RecordAccountRequest(status int) {
	if status == 0 {
		accountRequests.WithLabelValues("error").Inc()
		return
	}
	accountRequests.WithLabelValues(strconv.Itoa(status)).Inc()
}
