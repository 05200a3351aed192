package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	WebhooksAccepted = prometheus.NewCounter(prometheus.CounterOpts{Name: "ci_webhooks_accepted_total", Help: "Deliveries that passed verification and queued a job"})
	WebhooksRejected = prometheus.NewCounter(prometheus.CounterOpts{Name: "ci_webhooks_rejected_total", Help: "Deliveries rejected for bad signature or payload"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "ci_rate_limit_rejects_total", Help: "Deliveries rejected by the per-repository rate limiter"})
	JobsSucceeded    = prometheus.NewCounter(prometheus.CounterOpts{Name: "ci_jobs_succeeded_total", Help: "Pipeline runs that reached success"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "ci_jobs_failed_total", Help: "Pipeline runs that reached failed"})
	JobsRunning      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "ci_jobs_running", Help: "Pipeline runs currently executing"})
	SandboxCommands  = prometheus.NewCounter(prometheus.CounterOpts{Name: "ci_sandbox_commands_total", Help: "Commands executed in sandbox containers"})
	LLMTurns         = prometheus.NewCounter(prometheus.CounterOpts{Name: "ci_llm_turns_total", Help: "Reasoning turns requested across all pipelines"})
	LogWriteDrops    = prometheus.NewCounter(prometheus.CounterOpts{Name: "ci_log_write_drops_total", Help: "Job log lines that failed to persist and were dropped"})
	ForcedReports    = prometheus.NewCounter(prometheus.CounterOpts{Name: "ci_forced_finalizations_total", Help: "Reports produced via the forced finalization fallback"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			WebhooksAccepted,
			WebhooksRejected,
			RateLimitRejects,
			JobsSucceeded,
			JobsFailed,
			JobsRunning,
			SandboxCommands,
			LLMTurns,
			LogWriteDrops,
			ForcedReports,
		)
	})
	return promhttp.Handler()
}
