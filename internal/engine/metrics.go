package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drafter_jobs_submitted_total",
			Help: "Jobs accepted and submitted to the remote engine.",
		},
		[]string{"template"},
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drafter_jobs_finished_total",
			Help: "Jobs that reached a terminal phase.",
		},
		[]string{"template", "phase"},
	)
)

func init() {
	prometheus.MustRegister(jobsSubmittedTotal)
	prometheus.MustRegister(jobsFinishedTotal)
}
