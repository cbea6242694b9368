package predict

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gasfund/internal/gas"
)

const (
	// Blend weights for the EMA component of a forecast. Volatile hours
	// lean on the smoothed series, calm hours on the hourly average.
	calmEMAWeight     = 0.3
	volatileEMAWeight = 0.7
)

// Options tune the forecaster. Zero fields fall back to defaults.
type Options struct {
	// Retention bounds the in-memory sample window.
	Retention time.Duration `mapstructure:"retention"`
	// EMAAlpha is the smoothing factor for the per-tier EMA.
	EMAAlpha float64 `mapstructure:"ema_alpha"`
	// SpikeThreshold is the relative deviation above which the newest
	// sample is treated as an outlier.
	SpikeThreshold float64 `mapstructure:"spike_threshold"`
	// VolatilityThreshold switches the blend towards the EMA when the
	// hourly series moves more than this fraction per step.
	VolatilityThreshold float64 `mapstructure:"volatility_threshold"`
}

// Sink receives every recorded sample for archival. Failures are logged
// and never interrupt the hot path.
type Sink interface {
	SaveFeeSample(ctx context.Context, sample gas.Sample) error
}

// Predictor keeps a rolling window of gas samples and produces per-tier
// fee forecasts for the current hour of day.
type Predictor struct {
	opts   Options
	logger zerolog.Logger
	sink   Sink

	mux     sync.Mutex
	history []gas.Sample
	newest  time.Time
	ema     map[gas.Tier]float64
}

// New constructs a Predictor. sink may be nil when persistence is not
// configured.
func New(opts Options, sink Sink, logger zerolog.Logger) *Predictor {
	if opts.Retention <= 0 {
		opts.Retention = 7 * 24 * time.Hour
	}
	if opts.EMAAlpha <= 0 || opts.EMAAlpha > 1 {
		opts.EMAAlpha = 0.2
	}
	if opts.SpikeThreshold <= 0 {
		opts.SpikeThreshold = 0.5
	}
	if opts.VolatilityThreshold <= 0 {
		opts.VolatilityThreshold = 0.3
	}

	return &Predictor{
		opts:   opts,
		logger: logger.With().Str("component", "predictor").Logger(),
		sink:   sink,
		ema:    make(map[gas.Tier]float64),
	}
}

// Record appends a sample to the window and prunes entries older than
// the retention period, measured from the newest sample seen.
func (p *Predictor) Record(ctx context.Context, sample gas.Sample) {
	p.mux.Lock()
	p.history = append(p.history, sample)
	if sample.At.After(p.newest) {
		p.newest = sample.At
	}
	cutoff := p.newest.Add(-p.opts.Retention)
	kept := p.history[:0]
	for _, s := range p.history {
		if !s.At.Before(cutoff) {
			kept = append(kept, s)
		}
	}
	p.history = kept
	p.mux.Unlock()

	if p.sink == nil {
		return
	}
	if err := p.sink.SaveFeeSample(ctx, sample); err != nil {
		p.logger.Warn().Err(err).Str("source", sample.Source).Msg("failed to persist fee sample")
	}
}

// Len reports the number of retained samples.
func (p *Predictor) Len() int {
	p.mux.Lock()
	defer p.mux.Unlock()
	return len(p.history)
}

// EMA returns the current smoothed value for a tier, if one has been
// seeded.
func (p *Predictor) EMA(tier gas.Tier) (float64, bool) {
	p.mux.Lock()
	defer p.mux.Unlock()
	v, ok := p.ema[tier]
	return v, ok
}

// DetectSpike reports whether current deviates from the mean of recent
// by more than the spike threshold.
func (p *Predictor) DetectSpike(current float64, recent []uint64) bool {
	if len(recent) == 0 {
		return false
	}
	var sum float64
	for _, v := range recent {
		sum += float64(v)
	}
	mean := sum / float64(len(recent))
	if mean == 0 {
		return false
	}
	return math.Abs(current-mean)/mean > p.opts.SpikeThreshold
}

// Predict forecasts per-tier fees from samples that share now's hour of
// day. Tiers without any usable history are left unset; a nil quote
// means no tier had history at all.
func (p *Predictor) Predict(now time.Time) *gas.Quote {
	hour := now.UTC().Hour()

	p.mux.Lock()
	defer p.mux.Unlock()

	var quote gas.Quote
	populated := false
	for _, tier := range gas.Tiers() {
		series := p.hourlySeries(tier, hour)
		if len(series) == 0 {
			continue
		}

		latest := float64(series[len(series)-1])
		prev, seeded := p.ema[tier]
		if seeded && p.DetectSpike(latest, series) {
			// Outlier sample: hold the smoothed value and leave the
			// EMA untouched so one spike cannot drag it.
			quote.Set(tier, uint64(math.Round(prev)))
			populated = true
			continue
		}

		wavg := timeWeightedAverage(series)
		ema := p.updateEMA(tier, wavg)

		emaWeight := calmEMAWeight
		if Volatility(series) > p.opts.VolatilityThreshold {
			emaWeight = volatileEMAWeight
		}
		forecast := emaWeight*ema + (1-emaWeight)*wavg
		quote.Set(tier, uint64(math.Round(forecast)))
		populated = true
	}

	if !populated {
		return nil
	}
	quote.At = now
	return &quote
}

// hourlySeries collects non-zero values for tier recorded during the
// given hour of day, oldest first. Caller holds the lock.
func (p *Predictor) hourlySeries(tier gas.Tier, hour int) []uint64 {
	var series []uint64
	for _, s := range p.history {
		if s.At.UTC().Hour() != hour {
			continue
		}
		if v := s.Value(tier); v > 0 {
			series = append(series, v)
		}
	}
	return series
}

// updateEMA folds value into the tier's EMA, seeding it on first use.
// Caller holds the lock.
func (p *Predictor) updateEMA(tier gas.Tier, value float64) float64 {
	prev, ok := p.ema[tier]
	if !ok {
		p.ema[tier] = value
		return value
	}
	next := p.opts.EMAAlpha*value + (1-p.opts.EMAAlpha)*prev
	p.ema[tier] = next
	return next
}

// timeWeightedAverage weights values linearly by recency, newest
// heaviest.
func timeWeightedAverage(series []uint64) float64 {
	var weighted, weights float64
	for i, v := range series {
		w := float64(i + 1)
		weighted += w * float64(v)
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return weighted / weights
}

// Volatility is the mean relative step size of consecutive values.
// Steps starting from zero are skipped.
func Volatility(series []uint64) float64 {
	if len(series) < 2 {
		return 0
	}
	var sum float64
	steps := 0
	for i := 1; i < len(series); i++ {
		prev := float64(series[i-1])
		if prev == 0 {
			continue
		}
		sum += math.Abs(float64(series[i])-prev) / prev
		steps++
	}
	if steps == 0 {
		return 0
	}
	return sum / float64(steps)
}
