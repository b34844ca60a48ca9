// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cheques"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	transitions  *prometheus.CounterVec
	submissions  *prometheus.CounterVec
	decisions    *prometheus.CounterVec
	auditRelayed *prometheus.CounterVec
	sweepMarked  *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Committed state transitions by entity type and status pair.",
		}, []string{"entity_type", "from", "to"}),
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_submissions_total",
			Help:      "Approval requests submitted.",
		}, []string{"entity_type", "action"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_decisions_total",
			Help:      "Approval requests decided.",
		}, []string{"decision"}),
		auditRelayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_relay_messages_total",
			Help:      "Audit entries handed to the notification stream.",
		}, []string{"result"}),
		sweepMarked: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "due_sweep_marked_total",
			Help:      "Instruments moved to DUE by the daily sweep.",
		}, []string{"entity_type"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) Transition(entityType, from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(entityType, from, to).Inc()
}

func (m *Metrics) Submitted(entityType, action string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(entityType, action).Inc()
}

func (m *Metrics) Decided(decision string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) Relayed(ok bool) {
	if m == nil {
		return
	}
	result := "published"
	if !ok {
		result = "failed"
	}
	m.auditRelayed.WithLabelValues(result).Inc()
}

func (m *Metrics) SweepMarked(entityType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.sweepMarked.WithLabelValues(entityType).Add(float64(n))
}

// Middleware records request latency labelled by the chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
