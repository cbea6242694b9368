package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gasfund/internal/alerting"
	"gasfund/internal/config"
	"gasfund/internal/gas"
	"gasfund/internal/storage"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

type stubOracle struct {
	quote gas.Quote
	trend gas.Trend
}

func (o *stubOracle) OptimalFee(ctx context.Context) gas.Quote { return o.quote }

func (o *stubOracle) Trend(ctx context.Context) gas.Trend { return o.trend }

type stubQuoteStore struct {
	rows []storage.QuoteRow
	err  error
}

func (s *stubQuoteStore) UpsertQuote(ctx context.Context, row storage.QuoteRow) error {
	s.rows = append(s.rows, row)
	return s.err
}

func (s *stubQuoteStore) ListQuotesBetween(ctx context.Context, from, to time.Time) ([]storage.QuoteRow, error) {
	return nil, nil
}

func (s *stubQuoteStore) ListRecentQuotes(ctx context.Context, limit int) ([]storage.QuoteRow, error) {
	return nil, nil
}

func (s *stubQuoteStore) CountQuotes(ctx context.Context) (int64, error) { return 0, nil }

type stubSampleStore struct {
	prunedBefore time.Time
}

func (s *stubSampleStore) InsertFeeSample(ctx context.Context, row storage.FeeSampleRow) error {
	return nil
}

func (s *stubSampleStore) DeleteFeeSamplesBefore(ctx context.Context, olderThan time.Time) error {
	s.prunedBefore = olderThan
	return nil
}

func (s *stubSampleStore) ListDailyAverageFees(ctx context.Context, days int) ([]gas.DailyFee, error) {
	return nil, nil
}

func (s *stubSampleStore) CountFeeSamples(ctx context.Context) (int64, error) { return 0, nil }

type stubAlertStore struct {
	inserted []storage.FeeAlertRow
	recent   []storage.FeeAlertRow
}

func (s *stubAlertStore) InsertFeeAlert(ctx context.Context, row storage.FeeAlertRow) (storage.FeeAlertRow, error) {
	s.inserted = append(s.inserted, row)
	return row, nil
}

func (s *stubAlertStore) ListRecentFeeAlerts(ctx context.Context, limit int) ([]storage.FeeAlertRow, error) {
	return s.recent, nil
}

func (s *stubAlertStore) DeleteFeeAlertsBefore(ctx context.Context, olderThan time.Time) error {
	return nil
}

type stubNotifier struct {
	notes []alerting.Notification
	err   error
}

func (n *stubNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	n.notes = append(n.notes, note)
	return n.err
}

func quoteWithStandard(v uint64) gas.Quote {
	var q gas.Quote
	q.Set(gas.TierFast, v+10)
	q.Set(gas.TierStandard, v)
	q.Set(gas.TierSlow, v-5)
	return q
}

func testConfig() *config.Config {
	return &config.Config{
		Alerting: config.AlertingConfig{
			Enabled:       true,
			ThresholdGwei: 25,
			Cooldown:      30 * time.Minute,
			Channels:      []string{"telegram"},
		},
	}
}

var testBucket = time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC)

func TestProcessBucketPersistsQuote(t *testing.T) {
	quotes := &stubQuoteStore{}
	svc := New(testConfig(), nil, &stubOracle{quote: quoteWithStandard(20)}, quotes, nil, nil, nil, noopLogger())

	if err := svc.ProcessBucket(context.Background(), testBucket); err != nil {
		t.Fatalf("ProcessBucket 不应报错: %v", err)
	}
	if len(quotes.rows) != 1 {
		t.Fatalf("期望落库 1 行, 实际 %d", len(quotes.rows))
	}
	row := quotes.rows[0]
	if !row.Bucket.Equal(testBucket) {
		t.Fatalf("bucket 不匹配: %v", row.Bucket)
	}
	if row.Status != storage.QuoteStatusComplete {
		t.Fatalf("期望 status complete, 实际 %s", row.Status)
	}
	if row.Standard == nil || *row.Standard != 20 {
		t.Fatalf("standard 列错误: %+v", row.Standard)
	}
}

func TestProcessBucketEmptyQuote(t *testing.T) {
	quotes := &stubQuoteStore{}
	notifier := &stubNotifier{}
	svc := New(testConfig(), nil, &stubOracle{}, quotes, nil, nil, notifier, noopLogger())

	if err := svc.ProcessBucket(context.Background(), testBucket); err != nil {
		t.Fatalf("空报价不应报错: %v", err)
	}
	row := quotes.rows[0]
	if row.Status != storage.QuoteStatusEmpty {
		t.Fatalf("期望 status empty, 实际 %s", row.Status)
	}
	if row.Fast != nil || row.Standard != nil || row.Slow != nil {
		t.Fatalf("空报价不应有 tier 值: %+v", row)
	}
	if len(notifier.notes) != 0 {
		t.Fatal("空报价不应触发告警")
	}
}

func TestProcessBucketAlertsAboveThreshold(t *testing.T) {
	alertStore := &stubAlertStore{}
	notifier := &stubNotifier{}
	orc := &stubOracle{quote: quoteWithStandard(30), trend: gas.TrendIncreasing}
	svc := New(testConfig(), nil, orc, &stubQuoteStore{}, nil, alertStore, notifier, noopLogger())

	if err := svc.ProcessBucket(context.Background(), testBucket); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notifier.notes) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(notifier.notes))
	}
	note := notifier.notes[0]
	if note.ThresholdGwei != 25 {
		t.Fatalf("threshold not forwarded: %d", note.ThresholdGwei)
	}
	if note.Trend != gas.TrendIncreasing {
		t.Fatalf("trend not forwarded: %s", note.Trend)
	}
	if len(alertStore.inserted) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(alertStore.inserted))
	}
	if alertStore.inserted[0].StandardGwei != 30 {
		t.Fatalf("audit record carries wrong fee: %+v", alertStore.inserted[0])
	}
}

func TestProcessBucketAlertsOnlyStrictlyAbove(t *testing.T) {
	notifier := &stubNotifier{}
	svc := New(testConfig(), nil, &stubOracle{quote: quoteWithStandard(25)}, &stubQuoteStore{}, nil, nil, notifier, noopLogger())

	if err := svc.ProcessBucket(context.Background(), testBucket); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notifier.notes) != 0 {
		t.Fatal("standard at the threshold must not alert")
	}
}

func TestProcessBucketHonorsCooldown(t *testing.T) {
	notifier := &stubNotifier{}
	alertStore := &stubAlertStore{
		recent: []storage.FeeAlertRow{{CreatedAt: testBucket.Add(-10 * time.Minute)}},
	}
	svc := New(testConfig(), nil, &stubOracle{quote: quoteWithStandard(30)}, &stubQuoteStore{}, nil, alertStore, notifier, noopLogger())

	if err := svc.ProcessBucket(context.Background(), testBucket); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notifier.notes) != 0 {
		t.Fatal("cooldown 窗口内不应重复告警")
	}

	alertStore.recent = []storage.FeeAlertRow{{CreatedAt: testBucket.Add(-40 * time.Minute)}}
	if err := svc.ProcessBucket(context.Background(), testBucket); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notifier.notes) != 1 {
		t.Fatal("cooldown 窗口外应重新告警")
	}
}

func TestProcessBucketPrunesHistory(t *testing.T) {
	cfg := testConfig()
	cfg.Prediction.Retention = time.Hour
	samples := &stubSampleStore{}
	svc := New(cfg, nil, &stubOracle{quote: quoteWithStandard(20)}, &stubQuoteStore{}, samples, nil, nil, noopLogger())

	if err := svc.ProcessBucket(context.Background(), testBucket); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := testBucket.Add(-time.Hour)
	if !samples.prunedBefore.Equal(want) {
		t.Fatalf("expected prune cutoff %v, got %v", want, samples.prunedBefore)
	}
}

func TestProcessBucketSurvivesStoreFailure(t *testing.T) {
	quotes := &stubQuoteStore{err: errors.New("db down")}
	svc := New(testConfig(), nil, &stubOracle{quote: quoteWithStandard(20)}, quotes, nil, nil, nil, noopLogger())

	if err := svc.ProcessBucket(context.Background(), testBucket); err != nil {
		t.Fatalf("存储失败不应向上传播: %v", err)
	}
}
