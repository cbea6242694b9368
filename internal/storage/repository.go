package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gasfund/internal/gas"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertFeeSampleSQL = `INSERT INTO fee_samples (
        source,
        fast_gwei,
        standard_gwei,
        slow_gwei,
        sampled_at
    ) VALUES (
        $1,$2,$3,$4,$5
    );`

	deleteFeeSamplesBeforeSQL = `DELETE FROM fee_samples WHERE sampled_at < $1;`

	listDailyAverageFeesSQL = `SELECT
        date_trunc('day', sampled_at) AS day,
        AVG(standard_gwei)::float8 AS standard
    FROM fee_samples
    WHERE sampled_at >= $1
    GROUP BY day
    ORDER BY day;`

	countFeeSamplesSQL = `SELECT COUNT(*) FROM fee_samples;`

	upsertQuoteSQL = `INSERT INTO gas_quotes (
        bucket_ts,
        fast_gwei,
        standard_gwei,
        slow_gwei,
        status
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (bucket_ts) DO UPDATE
    SET
        fast_gwei     = EXCLUDED.fast_gwei,
        standard_gwei = EXCLUDED.standard_gwei,
        slow_gwei     = EXCLUDED.slow_gwei,
        status        = EXCLUDED.status;`

	listQuotesBetweenSQL = `SELECT
        bucket_ts,
        fast_gwei,
        standard_gwei,
        slow_gwei,
        status,
        created_at
    FROM gas_quotes
    WHERE bucket_ts >= $1
      AND bucket_ts < $2
    ORDER BY bucket_ts;`

	listRecentQuotesSQL = `SELECT
        bucket_ts,
        fast_gwei,
        standard_gwei,
        slow_gwei,
        status,
        created_at
    FROM gas_quotes
    ORDER BY bucket_ts DESC
    LIMIT $1;`

	countQuotesSQL = `SELECT COUNT(*) FROM gas_quotes;`

	insertFeeAlertSQL = `INSERT INTO fee_alerts (
        bucket_ts,
        standard_gwei,
        threshold_gwei,
        trend,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (bucket_ts) DO UPDATE
    SET standard_gwei  = EXCLUDED.standard_gwei,
        threshold_gwei = EXCLUDED.threshold_gwei,
        trend          = EXCLUDED.trend,
        channels       = EXCLUDED.channels
    RETURNING id, bucket_ts, standard_gwei, threshold_gwei, trend, channels, created_at;`

	listRecentFeeAlertsSQL = `SELECT
        id,
        bucket_ts,
        standard_gwei,
        threshold_gwei,
        trend,
        channels,
        created_at
    FROM fee_alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteFeeAlertsBeforeSQL = `DELETE FROM fee_alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// FeeSampleStore defines operations for raw fee sample persistence.
type FeeSampleStore interface {
	InsertFeeSample(ctx context.Context, row FeeSampleRow) error
	DeleteFeeSamplesBefore(ctx context.Context, olderThan time.Time) error
	ListDailyAverageFees(ctx context.Context, days int) ([]gas.DailyFee, error)
	CountFeeSamples(ctx context.Context) (int64, error)
}

// QuoteStore defines operations for merged quote persistence.
type QuoteStore interface {
	UpsertQuote(ctx context.Context, row QuoteRow) error
	ListQuotesBetween(ctx context.Context, from, to time.Time) ([]QuoteRow, error)
	ListRecentQuotes(ctx context.Context, limit int) ([]QuoteRow, error)
	CountQuotes(ctx context.Context) (int64, error)
}

// FeeAlertStore defines operations for alert auditing.
type FeeAlertStore interface {
	InsertFeeAlert(ctx context.Context, row FeeAlertRow) (FeeAlertRow, error)
	ListRecentFeeAlerts(ctx context.Context, limit int) ([]FeeAlertRow, error)
	DeleteFeeAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to fee samples, quotes and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertFeeSample persists one per-source observation.
func (s *Store) InsertFeeSample(ctx context.Context, row FeeSampleRow) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertFeeSampleSQL,
		row.Source,
		row.Fast,
		row.Standard,
		row.Slow,
		row.SampledAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert fee sample: %w", execErr)
	}
	return nil
}

// SaveFeeSample adapts a domain sample into a row. It satisfies the
// predictor's sink interface.
func (s *Store) SaveFeeSample(ctx context.Context, sample gas.Sample) error {
	return s.InsertFeeSample(ctx, FeeSampleRow{
		Source:    sample.Source,
		Fast:      int64(sample.Fast),
		Standard:  int64(sample.Standard),
		Slow:      int64(sample.Slow),
		SampledAt: sample.At,
	})
}

// DeleteFeeSamplesBefore prunes samples older than the given time.
func (s *Store) DeleteFeeSamplesBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteFeeSamplesBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete fee samples before: %w", execErr)
	}
	return nil
}

// ListDailyAverageFees returns per-day standard-tier averages for the
// last days days, oldest first.
func (s *Store) ListDailyAverageFees(ctx context.Context, days int) ([]gas.DailyFee, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	from := time.Now().UTC().AddDate(0, 0, -days)
	rows, queryErr := pool.Query(ctx, listDailyAverageFeesSQL, from)
	if queryErr != nil {
		return nil, fmt.Errorf("list daily average fees: %w", queryErr)
	}
	defer rows.Close()

	fees := make([]gas.DailyFee, 0, days)
	for rows.Next() {
		var fee gas.DailyFee
		if err := rows.Scan(&fee.Day, &fee.Standard); err != nil {
			return nil, err
		}
		fees = append(fees, fee)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return fees, nil
}

// CountFeeSamples counts stored samples.
func (s *Store) CountFeeSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countFeeSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count fee samples: %w", scanErr)
	}
	return count, nil
}

// UpsertQuote persists or updates a merged quote bucket.
func (s *Store) UpsertQuote(ctx context.Context, row QuoteRow) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertQuoteSQL,
		row.Bucket,
		row.Fast,
		row.Standard,
		row.Slow,
		row.Status,
	)
	if execErr != nil {
		return fmt.Errorf("upsert quote: %w", execErr)
	}
	return nil
}

// ListQuotesBetween lists quote buckets within a time window.
func (s *Store) ListQuotesBetween(ctx context.Context, from, to time.Time) ([]QuoteRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listQuotesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list quotes between: %w", queryErr)
	}
	defer rows.Close()

	quotes := make([]QuoteRow, 0)
	for rows.Next() {
		quote, scanErr := scanQuoteRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		quotes = append(quotes, quote)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return quotes, nil
}

// ListRecentQuotes lists the most recent quote buckets, newest first.
func (s *Store) ListRecentQuotes(ctx context.Context, limit int) ([]QuoteRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentQuotesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent quotes: %w", queryErr)
	}
	defer rows.Close()

	quotes := make([]QuoteRow, 0, limit)
	for rows.Next() {
		quote, scanErr := scanQuoteRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		quotes = append(quotes, quote)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return quotes, nil
}

// CountQuotes counts stored quote buckets.
func (s *Store) CountQuotes(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countQuotesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count quotes: %w", scanErr)
	}
	return count, nil
}

// InsertFeeAlert persists an alert emission.
func (s *Store) InsertFeeAlert(ctx context.Context, row FeeAlertRow) (FeeAlertRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return FeeAlertRow{}, err
	}

	var rec FeeAlertRow
	scanErr := pool.QueryRow(ctx, insertFeeAlertSQL,
		row.Bucket,
		row.StandardGwei,
		row.ThresholdGwei,
		row.Trend,
		row.Channels,
	).Scan(
		&rec.ID,
		&rec.Bucket,
		&rec.StandardGwei,
		&rec.ThresholdGwei,
		&rec.Trend,
		&rec.Channels,
		&rec.CreatedAt,
	)
	if scanErr != nil {
		return FeeAlertRow{}, fmt.Errorf("insert fee alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentFeeAlerts lists most recent alerts.
func (s *Store) ListRecentFeeAlerts(ctx context.Context, limit int) ([]FeeAlertRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentFeeAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent fee alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]FeeAlertRow, 0, limit)
	for rows.Next() {
		var rec FeeAlertRow
		if err := rows.Scan(
			&rec.ID,
			&rec.Bucket,
			&rec.StandardGwei,
			&rec.ThresholdGwei,
			&rec.Trend,
			&rec.Channels,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteFeeAlertsBefore deletes historical alerts.
func (s *Store) DeleteFeeAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteFeeAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete fee alerts before: %w", execErr)
	}
	return nil
}

func scanQuoteRow(rows pgx.Rows) (QuoteRow, error) {
	var (
		bucket    time.Time
		fast      sql.NullInt64
		standard  sql.NullInt64
		slow      sql.NullInt64
		status    string
		createdAt time.Time
	)

	if err := rows.Scan(&bucket, &fast, &standard, &slow, &status, &createdAt); err != nil {
		return QuoteRow{}, err
	}

	row := QuoteRow{
		Bucket:    bucket,
		Status:    status,
		CreatedAt: createdAt,
	}
	if fast.Valid {
		v := fast.Int64
		row.Fast = &v
	}
	if standard.Valid {
		v := standard.Int64
		row.Standard = &v
	}
	if slow.Valid {
		v := slow.Int64
		row.Slow = &v
	}
	return row, nil
}
