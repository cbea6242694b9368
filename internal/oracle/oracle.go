package oracle

import (
	"context"
	"math"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gasfund/internal/feed"
	"gasfund/internal/gas"
	"gasfund/internal/metrics"
)

// Forecaster feeds observed samples into a prediction model and
// contributes a forecast to the merge as one more virtual source.
type Forecaster interface {
	Record(ctx context.Context, sample gas.Sample)
	Predict(now time.Time) *gas.Quote
}

// HistoryProvider serves daily fee averages for trend analysis.
type HistoryProvider interface {
	ListDailyAverageFees(ctx context.Context, days int) ([]gas.DailyFee, error)
}

// Options tune the oracle. Zero fields fall back to defaults.
type Options struct {
	// CacheTTL bounds how long a merged quote is served without
	// re-polling the sources.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// SourceTimeout caps a single poll attempt against one source.
	SourceTimeout time.Duration `mapstructure:"source_timeout"`
	// TrendDays is how many days of averages feed the trend.
	TrendDays int `mapstructure:"trend_days"`
	// TrendThresholdGwei is the mean daily move, in gwei, below which
	// the trend reads as stable.
	TrendThresholdGwei float64 `mapstructure:"trend_threshold_gwei"`
	// Retry governs per-source poll attempts.
	Retry feed.RetryPolicy `mapstructure:"retry"`
}

type cachedQuote struct {
	quote gas.Quote
	at    time.Time
}

// Oracle merges concurrent gas price sources and a forecast into a
// single cached quote per chain.
type Oracle struct {
	opts       Options
	sources    []feed.Source
	forecaster Forecaster
	history    HistoryProvider
	logger     zerolog.Logger

	cache      atomic.Pointer[cachedQuote]
	refreshMux sync.Mutex
}

// New constructs an Oracle. forecaster and history may be nil when the
// corresponding feature is not configured.
func New(sources []feed.Source, forecaster Forecaster, history HistoryProvider, opts Options, logger zerolog.Logger) *Oracle {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 15 * time.Second
	}
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = 5 * time.Second
	}
	if opts.TrendDays <= 0 {
		opts.TrendDays = 7
	}
	if opts.TrendThresholdGwei <= 0 {
		opts.TrendThresholdGwei = 5
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = feed.DefaultRetry()
	}

	return &Oracle{
		opts:       opts,
		sources:    sources,
		forecaster: forecaster,
		history:    history,
		logger:     logger.With().Str("component", "oracle").Logger(),
	}
}

// OptimalFee returns the current merged quote, refreshing the sources
// when the cached one has expired. A quote with no tiers set means
// every source and the forecast came up empty.
func (o *Oracle) OptimalFee(ctx context.Context) gas.Quote {
	if c := o.cache.Load(); c != nil && time.Since(c.at) < o.opts.CacheTTL {
		metrics.CacheHits.Inc()
		return c.quote
	}
	return o.refresh(ctx)
}

func (o *Oracle) refresh(ctx context.Context) gas.Quote {
	o.refreshMux.Lock()
	defer o.refreshMux.Unlock()

	// Another caller may have refreshed while we waited on the lock.
	if c := o.cache.Load(); c != nil && time.Since(c.at) < o.opts.CacheTTL {
		metrics.CacheHits.Inc()
		return c.quote
	}
	metrics.CacheMisses.Inc()

	samples := o.collect(ctx)

	var forecast *gas.Quote
	if o.forecaster != nil {
		for _, s := range samples {
			o.forecaster.Record(ctx, s)
		}
		forecast = o.forecaster.Predict(time.Now().UTC())
		if forecast != nil {
			metrics.Forecasts.Inc()
		}
	}

	quote := merge(samples, forecast)
	quote.At = time.Now().UTC()
	if quote.Empty() {
		o.logger.Error().Int("sources", len(o.sources)).Msg("all gas sources unavailable")
	}
	o.observe(quote)

	// Empty quotes are cached too, so dead sources are not hammered
	// inside one TTL window.
	o.cache.Store(&cachedQuote{quote: quote, at: time.Now()})
	return quote
}

// collect polls every source concurrently and keeps whatever answered.
func (o *Oracle) collect(ctx context.Context) []gas.Sample {
	var (
		wg      sync.WaitGroup
		mux     sync.Mutex
		samples []gas.Sample
	)
	for _, src := range o.sources {
		wg.Add(1)
		go func(src feed.Source) {
			defer wg.Done()
			sample, err := o.poll(ctx, src)
			if err != nil {
				metrics.SourceErrors.WithLabelValues(src.Name()).Inc()
				o.logger.Warn().Err(err).Str("source", src.Name()).Msg("gas source unavailable")
				return
			}
			mux.Lock()
			samples = append(samples, sample)
			mux.Unlock()
		}(src)
	}
	wg.Wait()
	return samples
}

func (o *Oracle) poll(ctx context.Context, src feed.Source) (gas.Sample, error) {
	var sample gas.Sample
	err := o.opts.Retry.Do(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, o.opts.SourceTimeout)
		defer cancel()

		start := time.Now()
		s, err := src.Sample(attemptCtx)
		metrics.SourceLatency.WithLabelValues(src.Name()).Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		sample = s
		return nil
	})
	return sample, err
}

// EstimateCost converts the quoted fee for a tier into an ETH cost for
// a transaction of gasLimit units. Zero when the tier is absent.
func (o *Oracle) EstimateCost(ctx context.Context, gasLimit uint64, tier gas.Tier) decimal.Decimal {
	quote := o.OptimalFee(ctx)
	v, ok := quote.Value(tier)
	if !ok {
		return decimal.Zero
	}
	return CostAt(v, gasLimit)
}

// IsReasonable reports whether the standard tier is at or under
// maxGwei. An empty quote is never reasonable.
func (o *Oracle) IsReasonable(ctx context.Context, maxGwei uint64) bool {
	standard, ok := o.OptimalFee(ctx).Value(gas.TierStandard)
	return ok && standard <= maxGwei
}

// Trend classifies fee movement from persisted daily averages, oldest
// first. Without history it is unknown.
func (o *Oracle) Trend(ctx context.Context) gas.Trend {
	if o.history == nil {
		return gas.TrendUnknown
	}
	fees, err := o.history.ListDailyAverageFees(ctx, o.opts.TrendDays)
	if err != nil {
		o.logger.Warn().Err(err).Msg("failed to load daily fee averages")
		return gas.TrendUnknown
	}
	if len(fees) < 2 {
		return gas.TrendUnknown
	}

	var sum float64
	for i := 1; i < len(fees); i++ {
		sum += fees[i].Standard - fees[i-1].Standard
	}
	avg := sum / float64(len(fees)-1)

	switch {
	case avg > o.opts.TrendThresholdGwei:
		return gas.TrendIncreasing
	case avg < -o.opts.TrendThresholdGwei:
		return gas.TrendDecreasing
	default:
		return gas.TrendStable
	}
}

func (o *Oracle) observe(q gas.Quote) {
	if v, ok := q.Value(gas.TierFast); ok {
		metrics.FeeFast.Set(float64(v))
	}
	if v, ok := q.Value(gas.TierStandard); ok {
		metrics.FeeStandard.Set(float64(v))
	}
	if v, ok := q.Value(gas.TierSlow); ok {
		metrics.FeeSlow.Set(float64(v))
	}
}

// merge takes the per-tier median across source samples plus the
// forecast. Tiers nobody answered for stay unset.
func merge(samples []gas.Sample, forecast *gas.Quote) gas.Quote {
	var quote gas.Quote
	for _, tier := range gas.Tiers() {
		pool := make([]uint64, 0, len(samples)+1)
		for _, s := range samples {
			if v := s.Value(tier); v > 0 {
				pool = append(pool, v)
			}
		}
		if forecast != nil {
			if v, ok := forecast.Value(tier); ok && v > 0 {
				pool = append(pool, v)
			}
		}
		if len(pool) == 0 {
			continue
		}
		quote.Set(tier, median(pool))
	}
	return quote
}

func median(pool []uint64) uint64 {
	sort.Slice(pool, func(i, j int) bool { return pool[i] < pool[j] })
	mid := len(pool) / 2
	if len(pool)%2 == 1 {
		return pool[mid]
	}
	return uint64(math.Round(float64(pool[mid-1]+pool[mid]) / 2))
}

// CostAt is the ETH cost of gasLimit units at a gwei price.
func CostAt(gwei, gasLimit uint64) decimal.Decimal {
	total := new(big.Int).Mul(new(big.Int).SetUint64(gwei), new(big.Int).SetUint64(gasLimit))
	return decimal.NewFromBigInt(total, -9)
}
