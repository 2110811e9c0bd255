package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cfdp",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cfdp",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	pdus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cfdp",
			Name:      "pdus_total",
			Help:      "PDUs handled by the engine.",
		},
		[]string{"direction", "kind"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cfdp",
			Name:      "decode_errors_total",
			Help:      "Inbound buffers that failed to decode.",
		},
		[]string{"kind"},
	)
	protocolViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cfdp",
			Name:      "protocol_violations_total",
			Help:      "Inbound PDUs dropped as protocol violations.",
		},
		[]string{"reason"},
	)
	transactionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cfdp",
			Name:      "transactions_started_total",
			Help:      "Transactions created.",
		},
		[]string{"role", "mode"},
	)
	transactionsTerminated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cfdp",
			Name:      "transactions_terminated_total",
			Help:      "Transactions that reached a terminal state.",
		},
		[]string{"role", "state", "condition"},
	)
	transactionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cfdp",
			Name:      "transactions_active",
			Help:      "Transactions not yet terminated.",
		},
		[]string{"role"},
	)
	retransmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cfdp",
			Name:      "retransmissions_total",
			Help:      "PDUs sent again after loss or timeout.",
		},
		[]string{"role"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			pdus, decodeErrors, protocolViolations,
			transactionsStarted, transactionsTerminated, transactionsActive,
			retransmissions,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordPDU counts one PDU; direction is "in" or "out".
func RecordPDU(direction, kind string) {
	RegisterMetrics()
	pdus.WithLabelValues(direction, kind).Inc()
}

func RecordDecodeError(kind string) {
	RegisterMetrics()
	decodeErrors.WithLabelValues(kind).Inc()
}

func RecordProtocolViolation(reason string) {
	RegisterMetrics()
	protocolViolations.WithLabelValues(reason).Inc()
}

func RecordTransactionStarted(role, mode string) {
	RegisterMetrics()
	transactionsStarted.WithLabelValues(role, mode).Inc()
	transactionsActive.WithLabelValues(role).Inc()
}

func RecordTransactionTerminated(role, state, condition string) {
	RegisterMetrics()
	transactionsTerminated.WithLabelValues(role, state, condition).Inc()
	transactionsActive.WithLabelValues(role).Dec()
}

// RecordTransactionAborted drops a transaction from the active gauge
// without counting a termination.
func RecordTransactionAborted(role string) {
	RegisterMetrics()
	transactionsActive.WithLabelValues(role).Dec()
}

func RecordRetransmissions(role string, n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	retransmissions.WithLabelValues(role).Add(float64(n))
}
