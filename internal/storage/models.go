package storage

import (
	"time"

	"gasfund/internal/gas"
)

// Quote row statuses.
const (
	QuoteStatusComplete = "complete"
	QuoteStatusEmpty    = "empty"
)

// FeeSampleRow is one persisted per-source gas observation.
type FeeSampleRow struct {
	ID        int64
	Source    string
	Fast      int64
	Standard  int64
	Slow      int64
	SampledAt time.Time
	CreatedAt time.Time
}

// QuoteRow is a persisted merged quote for one poll bucket. Nil tiers
// mean nobody could answer for them that round.
type QuoteRow struct {
	Bucket    time.Time
	Fast      *int64
	Standard  *int64
	Slow      *int64
	Status    string
	CreatedAt time.Time
}

// Quote converts the row back into the domain representation.
func (r QuoteRow) Quote() gas.Quote {
	q := gas.Quote{At: r.Bucket}
	if r.Fast != nil {
		q.Set(gas.TierFast, uint64(*r.Fast))
	}
	if r.Standard != nil {
		q.Set(gas.TierStandard, uint64(*r.Standard))
	}
	if r.Slow != nil {
		q.Set(gas.TierSlow, uint64(*r.Slow))
	}
	return q
}

// NewQuoteRow flattens a merged quote into a row keyed by bucket.
func NewQuoteRow(bucket time.Time, quote gas.Quote) QuoteRow {
	row := QuoteRow{Bucket: bucket, Status: QuoteStatusComplete}
	if quote.Empty() {
		row.Status = QuoteStatusEmpty
	}
	if v, ok := quote.Value(gas.TierFast); ok {
		f := int64(v)
		row.Fast = &f
	}
	if v, ok := quote.Value(gas.TierStandard); ok {
		s := int64(v)
		row.Standard = &s
	}
	if v, ok := quote.Value(gas.TierSlow); ok {
		s := int64(v)
		row.Slow = &s
	}
	return row
}

// FeeAlertRow captures an emitted fee alert for de-duplication and
// auditing.
type FeeAlertRow struct {
	ID            int64
	Bucket        time.Time
	StandardGwei  int64
	ThresholdGwei int64
	Trend         string
	Channels      []string
	CreatedAt     time.Time
}
