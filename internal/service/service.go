package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"gasfund/internal/alerting"
	"gasfund/internal/config"
	"gasfund/internal/gas"
	"gasfund/internal/metrics"
	"gasfund/internal/scheduler"
	"gasfund/internal/storage"
)

// FeeOracle is the slice of the oracle the watch loop needs.
type FeeOracle interface {
	OptimalFee(ctx context.Context) gas.Quote
	Trend(ctx context.Context) gas.Trend
}

// Service orchestrates quoting, persistence, and alerting.
type Service struct {
	scheduler  *scheduler.Scheduler
	oracle     FeeOracle
	quotes     storage.QuoteStore
	samples    storage.FeeSampleStore
	alertStore storage.FeeAlertStore
	notifier   alerting.Notifier
	logger     zerolog.Logger

	thresholdGwei uint64
	cooldown      time.Duration
	channels      []string
	alertsOn      bool
	retention     time.Duration
	locker        storage.AdvisoryLocker
	lockKey       int64
}

// New constructs the watch service.
func New(cfg *config.Config, sched *scheduler.Scheduler, orc FeeOracle, quotes storage.QuoteStore, samples storage.FeeSampleStore, alertStore storage.FeeAlertStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := quotes.(storage.AdvisoryLocker); ok {
		locker = l
	}

	retention := cfg.Prediction.Retention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}

	return &Service{
		scheduler:     sched,
		oracle:        orc,
		quotes:        quotes,
		samples:       samples,
		alertStore:    alertStore,
		notifier:      notifier,
		logger:        logger.With().Str("component", "service").Logger(),
		thresholdGwei: cfg.Alerting.ThresholdGwei,
		cooldown:      cfg.Alerting.Cooldown,
		channels:      cfg.Alerting.Channels,
		alertsOn:      cfg.Alerting.Enabled,
		retention:     retention,
		locker:        locker,
		lockKey:       cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the aligned watch loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket 执行单个时间桶的报价逻辑。
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeBucket(ctx, bucket)
}

func (s *Service) executeBucket(ctx context.Context, bucket time.Time) error {
	quote := s.oracle.OptimalFee(ctx)

	row := storage.NewQuoteRow(bucket, quote)
	if s.quotes != nil {
		if err := s.quotes.UpsertQuote(ctx, row); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to upsert quote")
		}
	}

	s.pruneHistory(ctx, bucket)

	s.logger.Info().Time("bucket", bucket).
		Str("fast", formatTier(quote, gas.TierFast)).
		Str("standard", formatTier(quote, gas.TierStandard)).
		Str("slow", formatTier(quote, gas.TierSlow)).
		Str("status", row.Status).
		Msg("quote recorded")

	s.maybeAlert(ctx, bucket, quote)
	return nil
}

// pruneHistory drops samples and alert records past the retention
// window. Failures are logged and swallowed.
func (s *Service) pruneHistory(ctx context.Context, bucket time.Time) {
	if s.retention <= 0 {
		return
	}
	cutoff := bucket.Add(-s.retention)
	if s.samples != nil {
		if err := s.samples.DeleteFeeSamplesBefore(ctx, cutoff); err != nil {
			s.logger.Warn().Err(err).Msg("failed to prune fee samples")
		}
	}
	if s.alertStore != nil {
		if err := s.alertStore.DeleteFeeAlertsBefore(ctx, cutoff); err != nil {
			s.logger.Warn().Err(err).Msg("failed to prune fee alerts")
		}
	}
}

func (s *Service) maybeAlert(ctx context.Context, bucket time.Time, quote gas.Quote) {
	if !s.alertsOn || s.notifier == nil || s.thresholdGwei == 0 {
		return
	}
	standard, ok := quote.Value(gas.TierStandard)
	if !ok || standard <= s.thresholdGwei {
		return
	}

	if s.onCooldown(ctx, bucket) {
		s.logger.Debug().Time("bucket", bucket).Msg("alert suppressed by cooldown")
		return
	}

	trend := s.oracle.Trend(ctx)
	note := alerting.Notification{
		Bucket:        bucket,
		Quote:         quote,
		ThresholdGwei: s.thresholdGwei,
		Trend:         trend,
		Channels:      s.channels,
	}

	if s.alertStore != nil {
		record := storage.FeeAlertRow{
			Bucket:        bucket,
			StandardGwei:  int64(standard),
			ThresholdGwei: int64(s.thresholdGwei),
			Trend:         string(trend),
			Channels:      s.channels,
		}
		if _, err := s.alertStore.InsertFeeAlert(ctx, record); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to persist alert record")
		}
	}

	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to dispatch alert")
		return
	}
	metrics.AlertsSent.Inc()
}

// onCooldown reports whether the latest audit record is still inside
// the cooldown window. Store failures fail open: alerting is the
// primary duty.
func (s *Service) onCooldown(ctx context.Context, bucket time.Time) bool {
	if s.cooldown <= 0 || s.alertStore == nil {
		return false
	}
	recent, err := s.alertStore.ListRecentFeeAlerts(ctx, 1)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to check alert cooldown")
		return false
	}
	if len(recent) == 0 {
		return false
	}
	return bucket.Sub(recent[0].CreatedAt) < s.cooldown
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func formatTier(q gas.Quote, tier gas.Tier) string {
	if v, ok := q.Value(tier); ok {
		return strconv.FormatUint(v, 10)
	}
	return "-"
}
