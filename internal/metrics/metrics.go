// Package metrics holds the prometheus collectors shared by the HTTP
// facade and the background schedulers.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors groups the engine's operational metrics.
type Collectors struct {
	registry *prometheus.Registry

	LiquidityRatio  prometheus.Gauge
	EntriesSettled  prometheus.Counter
	LoansDefaulted  prometheus.Counter
	AccrualsPosted  prometheus.Counter
	SweepFailures   prometheus.Counter
	JobFailures     *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New builds and registers the collectors on a fresh registry.
func New() *Collectors {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := &Collectors{
		registry: registry,
		LiquidityRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vaultledger_liquidity_ratio",
			Help: "Current system liquidity ratio in whole percent.",
		}),
		EntriesSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaultledger_entries_settled_total",
			Help: "Ledger entries completed by the clearing scheduler.",
		}),
		LoansDefaulted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaultledger_loans_defaulted_total",
			Help: "Loans settled against the reserve fund.",
		}),
		AccrualsPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaultledger_accruals_posted_total",
			Help: "Daily interest postings credited.",
		}),
		SweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vaultledger_sweep_failures_total",
			Help: "Default sweep cycles that ended in error.",
		}),
		JobFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultledger_job_failures_total",
			Help: "Background job runs that returned an error.",
		}, []string{"job"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vaultledger_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
	registry.MustRegister(
		metrics.LiquidityRatio,
		metrics.EntriesSettled,
		metrics.LoansDefaulted,
		metrics.AccrualsPosted,
		metrics.SweepFailures,
		metrics.JobFailures,
		metrics.RequestDuration,
	)
	return metrics
}

// Handler serves the registry in the prometheus exposition format.
func (metrics *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{})
}
