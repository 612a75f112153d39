package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(workerRunsTotal) }

var workerRunsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "worker_runs_total",
		Help: "Background worker ticks, labeled by worker and status.",
	},
	[]string{"worker", "status"}, // status: 'ok', 'failed', 'skipped'
)

func IncWorkerRun(worker, status string) {
	workerRunsTotal.WithLabelValues(norm(worker), norm(status)).Inc()
}
