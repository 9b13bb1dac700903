package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// httpRequests counts requests by route pattern, method and status.
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nebulon",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests by route, method and status",
	}, []string{"route", "method", "status"})

	// httpDuration measures request latency by route pattern.
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nebulon",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"route"})

	// rateLimited counts requests rejected by the per-IP limiter.
	rateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nebulon",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter",
	})

	// authFailures counts rejected callers.
	// Labels: reason (signature, key, admin_secret)
	authFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nebulon",
		Subsystem: "auth",
		Name:      "failures_total",
		Help:      "Rejected request authentications by reason",
	}, []string{"reason"})

	// operationErrors counts registry rule violations by error code.
	operationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nebulon",
		Subsystem: "registry",
		Name:      "rejections_total",
		Help:      "Registry operations rejected by error code",
	}, []string{"code"})

	// eventsPublished counts committed events by type.
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nebulon",
		Subsystem: "registry",
		Name:      "events_total",
		Help:      "Committed registry events by type",
	}, []string{"type"})

	// linkVerifications counts link verification attempts.
	// Labels: platform, result (verified, failed)
	linkVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nebulon",
		Subsystem: "linkverify",
		Name:      "attempts_total",
		Help:      "External link verification attempts",
	}, []string{"platform", "result"})

	// wsSubscribers tracks connected event feed subscribers.
	wsSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nebulon",
		Subsystem: "events",
		Name:      "subscribers",
		Help:      "Connected event feed subscribers",
	})

	// registryGauges mirror the aggregate, refreshed by the audit worker.
	// Labels: field (total_agents, total_score, vault_native, vault_tokens)
	registryGauges = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nebulon",
		Subsystem: "registry",
		Name:      "aggregate",
		Help:      "Registry aggregate values",
	}, []string{"field"})

	// invariantViolations counts failed aggregate audits.
	invariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nebulon",
		Subsystem: "registry",
		Name:      "invariant_violations_total",
		Help:      "Audits where total score did not match active identities",
	})

	// tierUpdates counts tier changes applied by the tier worker.
	tierUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nebulon",
		Subsystem: "workers",
		Name:      "tier_updates_total",
		Help:      "Identity tier changes applied by recalculation",
	})
)
