// Package metrics exposes Prometheus instrumentation for the job lifecycle.
// Label cardinality stays bounded: provider and job type are small fixed
// sets, and task ids never appear as labels.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// JobsSubmitted counts job submissions by type and provider.
	JobsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tryon_jobs_submitted_total",
			Help: "Total number of jobs submitted to providers.",
		},
		[]string{"job_type", "provider"},
	)

	// JobsFinished counts terminal job outcomes by provider and status.
	JobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tryon_jobs_finished_total",
			Help: "Total number of jobs reaching a terminal state.",
		},
		[]string{"provider", "status"},
	)

	// WebhooksReceived counts provider webhook deliveries by provider and
	// normalized status.
	WebhooksReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tryon_webhooks_received_total",
			Help: "Total number of provider webhook deliveries processed.",
		},
		[]string{"provider", "status"},
	)

	// Fallbacks counts automatic resubmissions to the alternate provider.
	Fallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tryon_fallbacks_total",
			Help: "Total number of fallback resubmissions.",
		},
		[]string{"from_provider", "to_provider"},
	)

	// CreditsSpent counts credits debited for job usage.
	CreditsSpent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tryon_credits_spent_total",
			Help: "Total credits debited for job usage.",
		},
	)

	// PaymentsSettled counts verified payment webhook settlements.
	PaymentsSettled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tryon_payments_settled_total",
			Help: "Total payment orders settled via the Midtrans webhook.",
		},
	)
)

func init() {
	prometheus.MustRegister(JobsSubmitted, JobsFinished, WebhooksReceived, Fallbacks, CreditsSpent, PaymentsSettled)
}
