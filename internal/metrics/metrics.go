package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	reservationAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentbook",
			Name:      "reservation_attempts_total",
			Help:      "Count of reservation attempts by outcome.",
		},
		[]string{"outcome"},
	)

	reservationTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentbook",
			Name:      "reservation_transitions_total",
			Help:      "Count of reservation lifecycle transitions by target status.",
		},
		[]string{"status"},
	)

	sideEffectFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentbook",
			Name:      "side_effect_failures_total",
			Help:      "Count of failed post-commit notifications and broadcasts.",
		},
		[]string{"kind"},
	)

	slotGeneration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "agentbook",
			Name:      "slot_generation_seconds",
			Help:      "Latency of available slot computation.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)

	slotCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentbook",
			Name:      "slot_cache_lookups_total",
			Help:      "Count of slot cache lookups by result.",
		},
		[]string{"result"},
	)

	scheduleWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentbook",
			Name:      "schedule_writes_total",
			Help:      "Count of schedule and exception writes by kind.",
		},
		[]string{"kind"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentbook",
			Name:      "http_requests_total",
			Help:      "Count of API requests by endpoint and status code.",
		},
		[]string{"endpoint", "code"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			reservationAttempts,
			reservationTransitions,
			sideEffectFailures,
			slotGeneration,
			slotCache,
			scheduleWrites,
			httpRequests,
		)
	})
}

func IncReservationAttempt(outcome string) {
	reservationAttempts.WithLabelValues(outcome).Inc()
}

func IncReservationTransition(status string) {
	reservationTransitions.WithLabelValues(status).Inc()
}

func IncSideEffectFailure(kind string) {
	sideEffectFailures.WithLabelValues(kind).Inc()
}

func ObserveSlotGeneration(d time.Duration) {
	slotGeneration.Observe(d.Seconds())
}

func IncSlotCache(hit bool) {
	if hit {
		slotCache.WithLabelValues("hit").Inc()
		return
	}
	slotCache.WithLabelValues("miss").Inc()
}

func IncScheduleWrite(kind string) {
	scheduleWrites.WithLabelValues(kind).Inc()
}

func IncHTTP(endpoint string, code int) {
	httpRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}
