package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for paths the hub accepts silently on purpose: duplicate answer
// submissions and out-of-range slide navigation are dropped without a
// user-visible error, so these are the only way to see them happening.
var (
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slidewire_events_total",
		Help: "Inbound hub events by type.",
	}, []string{"type"})

	DuplicateAnswersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slidewire_duplicate_answers_total",
		Help: "Answer submissions ignored because the participant already answered the slide.",
	})

	OutOfRangeNavigationTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slidewire_out_of_range_navigation_total",
		Help: "Slide navigation commands ignored because the index was out of range.",
	})

	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slidewire_rate_limited_total",
		Help: "Events rejected by the rate limiter, by action class.",
	}, []string{"class"})
)
