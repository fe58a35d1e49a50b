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
			Namespace: "replica",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "replica",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replica",
			Subsystem: "server",
			Name:      "messages_sent_total",
			Help:      "Replication messages sent per channel.",
		},
		[]string{"channel"},
	)
	bytesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replica",
			Subsystem: "server",
			Name:      "bytes_sent_total",
			Help:      "Replication bytes sent per channel.",
		},
		[]string{"channel"},
	)
	acksReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replica",
			Subsystem: "server",
			Name:      "acks_total",
			Help:      "Acks accepted from clients.",
		},
		[]string{"kind"},
	)
	clientsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "replica",
			Subsystem: "server",
			Name:      "clients",
			Help:      "Authorized replication clients.",
		},
	)
	stepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "replica",
			Subsystem: "server",
			Name:      "step_duration_seconds",
			Help:      "Time spent assembling and sending one replication step.",
			Buckets:   []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1},
		},
	)
	messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replica",
			Subsystem: "client",
			Name:      "messages_received_total",
			Help:      "Replication messages received by outcome.",
		},
		[]string{"channel", "result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			messagesSent,
			bytesSent,
			acksReceived,
			clientsConnected,
			stepDuration,
			messagesReceived,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordMessageSent(channel string, size int) {
	RegisterMetrics()
	messagesSent.WithLabelValues(channel).Inc()
	bytesSent.WithLabelValues(channel).Add(float64(size))
}

func RecordAck(kind string) {
	RegisterMetrics()
	acksReceived.WithLabelValues(kind).Inc()
}

func SetClients(n int) {
	RegisterMetrics()
	clientsConnected.Set(float64(n))
}

func ObserveStep(d time.Duration) {
	RegisterMetrics()
	stepDuration.Observe(d.Seconds())
}

// RecordMessageReceived counts a client-side message; result is one of
// applied, buffered, duplicate or stale.
func RecordMessageReceived(channel, result string) {
	RegisterMetrics()
	messagesReceived.WithLabelValues(channel, result).Inc()
}
