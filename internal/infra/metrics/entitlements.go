package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		entitlementResolutionsTotal,
		entitlementRevocationsTotal,
		entitlementRepairsTotal,
	)
}

var (
	entitlementResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_resolutions_total",
			Help: "Status resolutions by the source that answered.",
		},
		[]string{"source"}, // 'cache', 'snapshot', 'codes', 'none'
	)

	entitlementRevocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_revocations_total",
			Help: "Revoked entitlements by reason.",
		},
		[]string{"reason"}, // 'admin', 'erase', 'code_deleted', 'expired'
	)

	entitlementRepairsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entitlement_reconcile_repairs_total",
			Help: "Cache entries rewritten by the reconciliation job.",
		},
	)
)

func IncResolution(source string) {
	entitlementResolutionsTotal.WithLabelValues(norm(source)).Inc()
}

func AddRevocations(reason string, n int) {
	entitlementRevocationsTotal.WithLabelValues(norm(reason)).Add(float64(n))
}

func AddReconcileRepairs(n int) {
	entitlementRepairsTotal.Add(float64(n))
}
