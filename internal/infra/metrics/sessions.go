package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(admissionsTotal, sessionsSweptTotal, sessionInfoUnreadableTotal)
}

var (
	admissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "device_admissions_total",
			Help: "Login admission decisions by tier and outcome.",
		},
		[]string{"tier", "outcome"}, // outcome: 'admitted', 'rejected', 'unmanaged'
	)

	sessionsSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "device_sessions_swept_total",
			Help: "Stale device sessions garbage-collected.",
		},
	)

	sessionInfoUnreadableTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "device_session_info_unreadable_total",
			Help: "Session rows read back without their device info (wrong key or bad payload).",
		},
	)
)

func IncAdmission(tier, outcome string) {
	if tier == "" {
		tier = "none"
	}
	admissionsTotal.WithLabelValues(norm(tier), norm(outcome)).Inc()
}

func AddSessionsSwept(n int) {
	sessionsSweptTotal.Add(float64(n))
}

func IncSessionInfoUnreadable() {
	sessionInfoUnreadableTotal.Inc()
}
