package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector using Prometheus metrics.
type PrometheusCollector struct {
	jobsSubmittedTotal *prometheus.CounterVec
	jobsQueued         *prometheus.GaugeVec

	commandsTotal    *prometheus.CounterVec
	commandDurations *prometheus.HistogramVec

	bytesTransferredTotal *prometheus.CounterVec

	callAttemptsTotal *prometheus.CounterVec
}

// NewPrometheusCollector creates a new PrometheusCollector with all metrics
// registered against reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		jobsSubmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uucp_jobs_submitted_total",
			Help: "Total number of work items queued by uux.",
		}, []string{"peer", "grade"}),
		jobsQueued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "uucp_jobs_queued",
			Help: "Current number of work items queued per peer.",
		}, []string{"peer"}),

		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uucp_commands_executed_total",
			Help: "Total number of local commands run by uuxqt.",
		}, []string{"command", "result"}),
		commandDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "uucp_command_duration_seconds",
			Help:    "Wall-clock time spent running a local command.",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),

		bytesTransferredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uucp_bytes_transferred_total",
			Help: "Total payload bytes moved to or from a peer.",
		}, []string{"peer", "direction"}),

		callAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uucp_call_attempts_total",
			Help: "Total number of transport call attempts, by resulting status.",
		}, []string{"peer", "status"}),
	}

	reg.MustRegister(
		c.jobsSubmittedTotal,
		c.jobsQueued,
		c.commandsTotal,
		c.commandDurations,
		c.bytesTransferredTotal,
		c.callAttemptsTotal,
	)

	return c
}

func (c *PrometheusCollector) JobSubmitted(peer string, grade byte) {
	c.jobsSubmittedTotal.WithLabelValues(peer, string(grade)).Inc()
}

func (c *PrometheusCollector) JobQueued(peer string, delta int) {
	c.jobsQueued.WithLabelValues(peer).Add(float64(delta))
}

func (c *PrometheusCollector) CommandExecuted(command string, success bool, duration float64) {
	result := "failure"
	if success {
		result = "success"
	}
	c.commandsTotal.WithLabelValues(command, result).Inc()
	c.commandDurations.WithLabelValues(command).Observe(duration)
}

func (c *PrometheusCollector) BytesTransferred(peer string, direction string, bytes int64) {
	c.bytesTransferredTotal.WithLabelValues(peer, direction).Add(float64(bytes))
}

func (c *PrometheusCollector) CallAttempt(peer string, status string) {
	c.callAttemptsTotal.WithLabelValues(peer, status).Inc()
}
