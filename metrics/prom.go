package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slugbin_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slugbin_paste_retrieved_total",
		Help: "no. of successful paste reads",
	})
	PasteUpdated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slugbin_paste_updated_total",
		Help: "no. of pastes updated",
	})
	PasteDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slugbin_paste_deleted_total",
		Help: "no. of pastes deleted by their owner",
	})
	PasteEvicted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slugbin_paste_evicted_total",
			Help: "no. of expired pastes purged, by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)
	AccessDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slugbin_access_denied_total",
			Help: "no. of token mismatches",
		},
		[]string{"operation"},
	)
	SlugCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slugbin_slug_collisions_total",
		Help: "no. of slug collisions retried on create",
	})
	BackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slugbin_backend_errors_total",
			Help: "no. of failed record backend operations",
		},
		[]string{"operation"},
	)
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "slugbin_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slugbin_rate_limit_hits_total",
			Help: "no. of rate limit rejections",
		},
		[]string{"endpoint", "scope"},
	)
	RateLimitKeys = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "slugbin_rate_limit_tracked_keys",
		Help: "no. of caller addresses currently tracked by the limiter",
	})
	CleanupCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slugbin_cleanup_cycles_total",
		Help: "no. of expired-paste sweeper cycles",
	})
)
