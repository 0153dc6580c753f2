// Package metrics exposes Prometheus instrumentation for the media pipeline,
// session rotation and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mediahub"

// Recorder groups the service collectors. A nil *Recorder is valid and records nothing.
type Recorder struct {
	gatherer prometheus.Gatherer

	uploads             *prometheus.CounterVec
	compensatingDeletes *prometheus.CounterVec
	reconciliation      *prometheus.CounterVec
	orphansResolved     *prometheus.CounterVec
	tokenRotations      *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
}

// New registers the collectors on reg. Passing nil uses a fresh registry with
// the Go and process collectors attached.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	r := &Recorder{
		gatherer: reg,
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_uploads_total",
			Help:      "Remote media store uploads by asset kind and outcome.",
		}, []string{"kind", "outcome"}),
		compensatingDeletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensating_deletes_total",
			Help:      "Rollback deletes of remote assets by outcome.",
		}, []string{"outcome"}),
		reconciliation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_defects_total",
			Help:      "Failed rollbacks leaving remote state without a database reference.",
		}, []string{"operation"}),
		orphansResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphan_retries_total",
			Help:      "Reconciler delete attempts on orphaned assets by outcome.",
		}, []string{"outcome"}),
		tokenRotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_token_rotations_total",
			Help:      "Refresh attempts by outcome.",
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	reg.MustRegister(
		r.uploads,
		r.compensatingDeletes,
		r.reconciliation,
		r.orphansResolved,
		r.tokenRotations,
		r.httpRequests,
		r.httpDuration,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// Upload counts a media store upload.
func (r *Recorder) Upload(kind string, err error) {
	if r == nil {
		return
	}
	r.uploads.WithLabelValues(kind, outcome(err)).Inc()
}

// CompensatingDelete counts a rollback delete.
func (r *Recorder) CompensatingDelete(err error) {
	if r == nil {
		return
	}
	r.compensatingDeletes.WithLabelValues(outcome(err)).Inc()
}

// ReconciliationDefect counts a failed rollback for operation.
func (r *Recorder) ReconciliationDefect(operation string) {
	if r == nil {
		return
	}
	r.reconciliation.WithLabelValues(operation).Inc()
}

// OrphanRetry counts a reconciler delete attempt.
func (r *Recorder) OrphanRetry(err error) {
	if r == nil {
		return
	}
	r.orphansResolved.WithLabelValues(outcome(err)).Inc()
}

// TokenRotation counts a refresh attempt: rotated, replayed or invalid.
func (r *Recorder) TokenRotation(result string) {
	if r == nil {
		return
	}
	r.tokenRotations.WithLabelValues(result).Inc()
}

// HTTPRequest records a completed request.
func (r *Recorder) HTTPRequest(route, method string, status int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
