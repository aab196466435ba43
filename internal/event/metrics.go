package event

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Subscriber result labels.
const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// EventsFired counts Fire calls on registered events.
var EventsFired = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cardinal_events_fired_total",
		Help: "Total number of events fired",
	},
	[]string{"event"},
)

// SubscriberResults counts subscriber outcomes during fan-out.
var SubscriberResults = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cardinal_event_subscriber_results_total",
		Help: "Total number of subscriber invocations by result",
	},
	[]string{"event", "result"},
)

// RegisterMetrics registers event package metrics with reg.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(EventsFired)
	reg.MustRegister(SubscriberResults)
}
