package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pagesFetchedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "runtheworld",
		Subsystem: "sync",
		Name:      "pages_fetched_total",
		Help:      "Number of activity listing pages fetched from the provider.",
	})
	activitiesProcessedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "runtheworld",
		Subsystem: "sync",
		Name:      "activities_processed_total",
		Help:      "Number of activities enriched and persisted.",
	})
	throttleCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "runtheworld",
		Subsystem: "sync",
		Name:      "throttle_events_total",
		Help:      "Number of times a run aborted on a provider throttling signal.",
	})
	geocodeLookupCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "runtheworld",
		Subsystem: "geocode",
		Name:      "lookups_total",
		Help:      "Number of reverse geocoding lookups attempted.",
	})
	geocodeMissCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "runtheworld",
		Subsystem: "geocode",
		Name:      "misses_total",
		Help:      "Number of reverse geocoding lookups that returned no address.",
	})
	flushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "runtheworld",
		Subsystem: "sync",
		Name:      "batch_flush_duration_seconds",
		Help:      "Time spent persisting a batch and recomputing location stats.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	})
	lastActivityGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "runtheworld",
		Subsystem: "sync",
		Name:      "last_activity_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity batch persisted.",
	})
)

func init() {
	prometheus.MustRegister(
		pagesFetchedCounter,
		activitiesProcessedCounter,
		throttleCounter,
		geocodeLookupCounter,
		geocodeMissCounter,
		flushDuration,
		lastActivityGauge,
	)
}

// RecordPageFetched counts one listing page retrieved from the provider.
func RecordPageFetched() {
	pagesFetchedCounter.Inc()
}

// RecordActivitiesProcessed counts enriched activities.
func RecordActivitiesProcessed(n int) {
	activitiesProcessedCounter.Add(float64(n))
}

// RecordThrottle counts a run abort caused by provider throttling.
func RecordThrottle() {
	throttleCounter.Inc()
}

// RecordGeocodeLookup counts a reverse geocoding attempt and whether it
// produced an address.
func RecordGeocodeLookup(resolved bool) {
	geocodeLookupCounter.Inc()
	if !resolved {
		geocodeMissCounter.Inc()
	}
}

// ObserveBatchFlush records the duration of one batch flush.
func ObserveBatchFlush(d time.Duration) {
	flushDuration.Observe(d.Seconds())
}

// RecordActivityPersisted updates the persistence watermark gauge.
func RecordActivityPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastActivityGauge.Set(float64(ts.Unix()))
}
