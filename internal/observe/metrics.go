package observe

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	openSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "etp_open_sessions",
		Help: "Number of open ETP sessions",
	})

	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etp_messages_total",
			Help: "Total ETP messages by direction and protocol",
		},
		[]string{"direction", "protocol"}, // in|out
	)

	protocolErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etp_protocol_errors_total",
			Help: "Total ProtocolException messages sent by error code",
		},
		[]string{"code"},
	)

	orphanRepliesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "etp_orphan_replies_total",
		Help: "Total replies dropped because no correlation entry matched",
	})

	multipartAssembliesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "etp_multipart_assemblies_total",
		Help: "Total completed multipart response sets",
	})

	correlationTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "etp_correlation_timeouts_total",
		Help: "Total correlations completed by deadline expiry",
	})
)

func init() {
	prometheus.MustRegister(
		openSessions,
		messagesTotal,
		protocolErrorsTotal,
		orphanRepliesTotal,
		multipartAssembliesTotal,
		correlationTimeoutsTotal,
	)
}

func IncMessage(direction, proto string) { messagesTotal.WithLabelValues(direction, proto).Inc() }
func IncProtocolError(code string)       { protocolErrorsTotal.WithLabelValues(code).Inc() }
func IncOrphan()                         { orphanRepliesTotal.Inc() }
func IncAssembly()                       { multipartAssembliesTotal.Inc() }
func IncCorrelationTimeout()             { correlationTimeoutsTotal.Inc() }
func AddOpenSessions(delta float64)      { openSessions.Add(delta) }
