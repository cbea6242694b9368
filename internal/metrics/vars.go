package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	FeeFast = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gasfund_fee_fast_gwei",
		Help: "Merged fast-tier gas price in gwei",
	})

	FeeStandard = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gasfund_fee_standard_gwei",
		Help: "Merged standard-tier gas price in gwei",
	})

	FeeSlow = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gasfund_fee_slow_gwei",
		Help: "Merged slow-tier gas price in gwei",
	})

	SourceErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gasfund_source_errors_total",
		Help: "Number of failed source polls after retries",
	}, []string{"source"})

	SourceLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gasfund_source_latency_seconds",
		Help:    "Time to obtain a sample from a source",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gasfund_quote_cache_hits_total",
		Help: "Quote requests served from the cached quote",
	})

	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gasfund_quote_cache_misses_total",
		Help: "Quote requests that triggered a source refresh",
	})

	Forecasts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gasfund_forecasts_total",
		Help: "Refreshes where the predictor contributed a forecast",
	})

	AlertsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gasfund_alerts_sent_total",
		Help: "Fee alerts dispatched to notification channels",
	})
)

func init() {
	prometheus.MustRegister(
		FeeFast,
		FeeStandard,
		FeeSlow,
		SourceErrors,
		SourceLatency,
		CacheHits,
		CacheMisses,
		Forecasts,
		AlertsSent,
	)
}
