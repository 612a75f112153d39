package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		codesGeneratedTotal,
		codeActivationsTotal,
		codesDeletedTotal,
		codesTotal,
	)
}

var (
	codesGeneratedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "premium_codes_generated_total",
			Help: "Premium codes issued, by kind.",
		},
		[]string{"kind"},
	)

	codeActivationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "premium_code_activations_total",
			Help: "Redemption attempts by kind and result.",
		},
		[]string{"kind", "result"}, // result: 'ok', 'not_found', 'not_yet_valid', 'expired', 'already_redeemed', 'error'
	)

	codesDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "premium_codes_deleted_total",
			Help: "Premium codes removed by issuers.",
		},
	)

	codesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "premium_codes",
			Help: "Current number of codes by state, refreshed on stats requests.",
		},
		[]string{"state"}, // 'total', 'active', 'redeemed', 'expired'
	)
)

func IncCodeGenerated(kind string) {
	codesGeneratedTotal.WithLabelValues(norm(kind)).Inc()
}

func IncCodeActivation(kind, result string) {
	if kind == "" {
		kind = "unknown"
	}
	codeActivationsTotal.WithLabelValues(norm(kind), norm(result)).Inc()
}

func AddCodesDeleted(n int) {
	codesDeletedTotal.Add(float64(n))
}

func SetCodeStats(total, active, redeemed, expired int) {
	codesTotal.WithLabelValues("total").Set(float64(total))
	codesTotal.WithLabelValues("active").Set(float64(active))
	codesTotal.WithLabelValues("redeemed").Set(float64(redeemed))
	codesTotal.WithLabelValues("expired").Set(float64(expired))
}
