package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors for the collaboration service, registered on the default
// registry and served by the API's /metrics endpoint.
var (
	ConnectedUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "staffroom_connected_users",
		Help: "Number of users with an authoritative live connection.",
	})

	ActiveLocks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "staffroom_active_locks",
		Help: "Number of documents currently lock-held.",
	})

	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staffroom_messages_total",
		Help: "Inbound collaboration messages processed, by envelope type.",
	}, []string{"type"})

	MalformedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "staffroom_malformed_messages_total",
		Help: "Inbound messages dropped as unparseable or unknown.",
	})
)
