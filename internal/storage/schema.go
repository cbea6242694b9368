package storage

import (
	"context"
	"fmt"
)

const (
	createFeeSamplesSQL = `CREATE TABLE IF NOT EXISTS fee_samples (
        id            BIGSERIAL   PRIMARY KEY,
        source        TEXT        NOT NULL,
        fast_gwei     BIGINT      NOT NULL,
        standard_gwei BIGINT      NOT NULL,
        slow_gwei     BIGINT      NOT NULL,
        sampled_at    TIMESTAMPTZ NOT NULL,
        created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	createFeeSamplesIndexSQL = `CREATE INDEX IF NOT EXISTS fee_samples_sampled_at_idx
        ON fee_samples (sampled_at);`

	createGasQuotesSQL = `CREATE TABLE IF NOT EXISTS gas_quotes (
        bucket_ts     TIMESTAMPTZ PRIMARY KEY,
        fast_gwei     BIGINT,
        standard_gwei BIGINT,
        slow_gwei     BIGINT,
        status        TEXT        NOT NULL DEFAULT 'complete',
        created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	createFeeAlertsSQL = `CREATE TABLE IF NOT EXISTS fee_alerts (
        id             BIGSERIAL   PRIMARY KEY,
        bucket_ts      TIMESTAMPTZ NOT NULL UNIQUE,
        standard_gwei  BIGINT      NOT NULL,
        threshold_gwei BIGINT      NOT NULL,
        trend          TEXT        NOT NULL,
        channels       TEXT[]      NOT NULL DEFAULT '{}',
        created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
    );`
)

// EnsureSchema creates the tables the daemon writes to. Statements are
// idempotent, so running it on every start is safe.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	statements := []string{
		createFeeSamplesSQL,
		createFeeSamplesIndexSQL,
		createGasQuotesSQL,
		createFeeAlertsSQL,
	}
	for _, stmt := range statements {
		if _, execErr := pool.Exec(ctx, stmt); execErr != nil {
			return fmt.Errorf("ensure schema: %w", execErr)
		}
	}
	return nil
}
