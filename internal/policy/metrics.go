package policy

import "github.com/prometheus/client_golang/prometheus"

var (
	authRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drafter_policy_auth_retries_total",
		Help: "Total number of call retries caused by an unauthorized response.",
	})

	rateLimitWaits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "drafter_policy_rate_limit_waits_total",
		Help: "Total number of backoff waits caused by a rate-limit response.",
	})

	inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "drafter_policy_in_flight_calls",
		Help: "Number of remote calls currently inside the bulkhead.",
	})
)

func init() {
	prometheus.MustRegister(authRetries)
	prometheus.MustRegister(rateLimitWaits)
	prometheus.MustRegister(inFlight)
}
