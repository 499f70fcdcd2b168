// Package metrics is the engine's Prometheus instrumentation surface,
// grounded on aistore's `stats` package counter-naming convention
// (`*.n`, `*.ns`, `*.size`, `*.bps`, `*.id` suffixes), expressed with
// `github.com/prometheus/client_golang` collectors instead of aistore's
// own hand-rolled stats runner since this engine has no periodic
// node-to-node stats broadcast to piggyback on.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every collector the engine exposes, constructed once
// at process start and threaded into the scheduler, job runner and quota
// engine the way a logger would be.
type Registry struct {
	SchedulerTicksTotal   prometheus.Counter
	SchedulerJobsLeased   prometheus.Counter
	SchedulerJobsFailed   prometheus.Counter
	SchedulerTickDuration prometheus.Histogram

	JobItemsTotal    *prometheus.CounterVec // labels: job_type, status
	JobItemBytes     *prometheus.CounterVec // labels: job_type
	JobActiveWorkers prometheus.Gauge

	QuotaUsageBytes    *prometheus.GaugeVec // labels: storage_config_id
	QuotaUsagePercent  *prometheus.GaugeVec // labels: storage_config_id
	QuotaComputeErrors *prometheus.CounterVec
}

// NewRegistry builds a Registry and registers every collector against reg.
// Pass prometheus.NewRegistry() for test isolation or
// prometheus.DefaultRegisterer in production.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		SchedulerTicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "filehaven",
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Total number of scheduler tick passes.",
		}),
		SchedulerJobsLeased: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "filehaven",
			Subsystem: "scheduler",
			Name:      "jobs_leased_total",
			Help:      "Total number of scheduled jobs this process has leased and run.",
		}),
		SchedulerJobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "filehaven",
			Subsystem: "scheduler",
			Name:      "jobs_failed_total",
			Help:      "Total number of scheduled job runs that finished in a failed state.",
		}),
		SchedulerTickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "filehaven",
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Wall-clock duration of one scheduler tick pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		JobItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filehaven",
			Subsystem: "jobrunner",
			Name:      "items_total",
			Help:      "Total number of job items processed, by job type and outcome.",
		}, []string{"job_type", "status"}),
		JobItemBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filehaven",
			Subsystem: "jobrunner",
			Name:      "item_bytes_total",
			Help:      "Total bytes moved by completed job items, by job type.",
		}, []string{"job_type"}),
		JobActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "filehaven",
			Subsystem: "jobrunner",
			Name:      "active_workers",
			Help:      "Number of job items currently executing across all jobs.",
		}),
		QuotaUsageBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "filehaven",
			Subsystem: "quota",
			Name:      "usage_bytes",
			Help:      "Last computed usage in bytes for a storage config.",
		}, []string{"storage_config_id"}),
		QuotaUsagePercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "filehaven",
			Subsystem: "quota",
			Name:      "usage_percent",
			Help:      "Last computed usage as a percentage of quota for a storage config.",
		}, []string{"storage_config_id"}),
		QuotaComputeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "filehaven",
			Subsystem: "quota",
			Name:      "compute_errors_total",
			Help:      "Total number of failed usage computations, by storage config.",
		}, []string{"storage_config_id"}),
	}
	reg.MustRegister(
		r.SchedulerTicksTotal, r.SchedulerJobsLeased, r.SchedulerJobsFailed, r.SchedulerTickDuration,
		r.JobItemsTotal, r.JobItemBytes, r.JobActiveWorkers,
		r.QuotaUsageBytes, r.QuotaUsagePercent, r.QuotaComputeErrors,
	)
	return r
}

// RecordTick marks the completion of one scheduler tick pass, including
// how long the pass took to scan for and launch due jobs.
func (r *Registry) RecordTick(duration time.Duration) {
	if r == nil {
		return
	}
	r.SchedulerTicksTotal.Inc()
	r.SchedulerTickDuration.Observe(duration.Seconds())
}

// RecordJobRun marks the outcome of one scheduled job run.
func (r *Registry) RecordJobRun(failed bool) {
	if r == nil {
		return
	}
	r.SchedulerJobsLeased.Inc()
	if failed {
		r.SchedulerJobsFailed.Inc()
	}
}

// RecordJobItem updates both the outcome counter and the bytes counter in
// one call, the common case at the end of runItem.
func (r *Registry) RecordJobItem(jobType, status string, bytes int64) {
	if r == nil {
		return
	}
	r.JobItemsTotal.WithLabelValues(jobType, status).Inc()
	if bytes > 0 {
		r.JobItemBytes.WithLabelValues(jobType).Add(float64(bytes))
	}
}

// RecordQuotaUsage updates the usage gauges for one storage config after a
// successful Engine.ComputeUsage/Refresh call.
func (r *Registry) RecordQuotaUsage(storageConfigID string, usedBytes int64, percent float64) {
	if r == nil {
		return
	}
	r.QuotaUsageBytes.WithLabelValues(storageConfigID).Set(float64(usedBytes))
	r.QuotaUsagePercent.WithLabelValues(storageConfigID).Set(percent)
}

// RecordQuotaError increments the error counter for one storage config
// after a failed Engine.ComputeUsage/Refresh call.
func (r *Registry) RecordQuotaError(storageConfigID string) {
	if r == nil {
		return
	}
	r.QuotaComputeErrors.WithLabelValues(storageConfigID).Inc()
}

// JobActiveWorkersInc marks one more item worker as started.
func (r *Registry) JobActiveWorkersInc() {
	if r == nil {
		return
	}
	r.JobActiveWorkers.Inc()
}

// JobActiveWorkersDec marks one item worker as finished.
func (r *Registry) JobActiveWorkersDec() {
	if r == nil {
		return
	}
	r.JobActiveWorkers.Dec()
}
