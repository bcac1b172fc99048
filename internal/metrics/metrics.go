// Package metrics records reconciliation run statistics as Prometheus metrics.
//
// spx runs as a batch job, so nothing is scraped. A [Recorder] collects into its own registry
// and [Recorder.Push] sends the result to a pushgateway when one is configured.
// All Recorder methods are safe to call on a nil receiver, which records nothing.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Play outcomes.
const (
	OutcomeInserted   = "inserted"
	OutcomeDuplicate  = "skipped_duplicate"
	OutcomeLocal      = "skipped_local"
	OutcomeInvalid    = "skipped_invalid"
	OutcomeNotFound   = "not_found"
	OutcomeAbandoned  = "abandoned"
	OutcomeRolledBack = "rolled_back"
)

// Retry reasons.
const (
	RetryReasonRateLimit = "rate_limit"
	RetryReasonTransient = "transient"
)

const (
	commitResultCommitted = "committed"
	commitResultRollback  = "rolled_back"
)

// Recorder holds the metrics of one process.
type Recorder struct {
	Registry *prometheus.Registry

	plays          *prometheus.CounterVec
	lookups        *prometheus.CounterVec
	lookupDuration prometheus.Histogram
	lookupIDs      prometheus.Histogram
	retries        *prometheus.CounterVec
	commits        *prometheus.CounterVec
	tracksCreated  prometheus.Counter
	breakerState   prometheus.Gauge
	lastRun        prometheus.Gauge
}

// NewRecorder registers every metric on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		Registry: prometheus.NewRegistry(),
		plays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spx_plays_total",
			Help: "Streaming history records processed, by outcome",
		}, []string{"outcome"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spx_catalog_lookups_total",
			Help: "Catalog lookup calls, by result after retries",
		}, []string{"result"}),
		lookupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spx_catalog_lookup_duration_seconds",
			Help:    "Duration of catalog lookups including retry waits",
			Buckets: prometheus.DefBuckets,
		}),
		lookupIDs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spx_catalog_lookup_ids",
			Help:    "Track IDs per catalog lookup",
			Buckets: []float64{1, 5, 10, 25, 50},
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spx_catalog_retries_total",
			Help: "Catalog lookup retries, by reason",
		}, []string{"reason"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spx_commits_total",
			Help: "Reconciliation commit points, by result",
		}, []string{"result"}),
		tracksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spx_tracks_created_total",
			Help: "Tracks added to the catalog",
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spx_catalog_breaker_state",
			Help: "Catalog circuit breaker state (0=closed, 1=half-open, 2=open)",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spx_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
	}

	r.Registry.MustRegister(
		r.plays, r.lookups, r.lookupDuration, r.lookupIDs, r.retries,
		r.commits, r.tracksCreated, r.breakerState, r.lastRun,
	)
	return r
}

// Play counts n records with the given outcome.
func (r *Recorder) Play(outcome string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.plays.WithLabelValues(outcome).Add(float64(n))
}

// Lookup records one catalog lookup of size ids.
func (r *Recorder) Lookup(ids int, d time.Duration, err error) {
	if r == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	r.lookups.WithLabelValues(result).Inc()
	r.lookupDuration.Observe(d.Seconds())
	r.lookupIDs.Observe(float64(ids))
}

// Retry counts one retry.
func (r *Recorder) Retry(reason string) {
	if r == nil {
		return
	}
	r.retries.WithLabelValues(reason).Inc()
}

// Commit counts one commit point.
func (r *Recorder) Commit(ok bool) {
	if r == nil {
		return
	}
	if ok {
		r.commits.WithLabelValues(commitResultCommitted).Inc()
		return
	}
	r.commits.WithLabelValues(commitResultRollback).Inc()
}

// TrackCreated counts one new catalog track.
func (r *Recorder) TrackCreated() {
	if r == nil {
		return
	}
	r.tracksCreated.Inc()
}

// BreakerState sets the breaker gauge.
func (r *Recorder) BreakerState(state float64) {
	if r == nil {
		return
	}
	r.breakerState.Set(state)
}

// Finished stamps the end of a run.
func (r *Recorder) Finished(at time.Time) {
	if r == nil {
		return
	}
	r.lastRun.Set(float64(at.Unix()))
}

// Push replaces the job's metrics on the pushgateway at url.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if r == nil || url == "" {
		return nil
	}
	if job == "" {
		job = "spx"
	}
	if err := push.New(url, job).Gatherer(r.Registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
