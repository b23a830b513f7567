package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	channelOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledmatrix_channel_ops_total",
		Help: "Request channel operations by backend and outcome",
	}, []string{"backend", "op", "outcome"}) // op=get|set|delete, outcome=success|failure|miss

	requestsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledmatrix_requests_processed_total",
		Help: "On-demand requests consumed from the channel by command and verdict",
	}, []string{"command", "verdict"}) // verdict=accepted|duplicate|invalid|ignored
)

// RecordChannelOp records one channel backend operation.
func RecordChannelOp(backend, op, outcome string) {
	channelOps.WithLabelValues(backend, op, outcome).Inc()
}

// RecordRequestProcessed records the verdict for a consumed request.
func RecordRequestProcessed(command, verdict string) {
	if command == "" {
		command = "unknown"
	}
	requestsProcessed.WithLabelValues(command, verdict).Inc()
}
