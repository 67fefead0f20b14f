package track

import "github.com/prometheus/client_golang/prometheus"

var (
	renderEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigia_render_events_total",
			Help: "Total render events emitted, by kind.",
		},
		[]string{"kind"},
	)

	jobsTerminalTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigia_jobs_terminal_total",
			Help: "Jobs that reached a terminal status, by status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(renderEventsTotal)
	prometheus.MustRegister(jobsTerminalTotal)
}
