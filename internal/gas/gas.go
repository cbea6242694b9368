package gas

import "time"

// Tier identifies a fee speed tier.
type Tier string

const (
	TierFast     Tier = "fast"
	TierStandard Tier = "standard"
	TierSlow     Tier = "slow"
)

// Tiers returns all tiers in display order.
func Tiers() []Tier {
	return []Tier{TierFast, TierStandard, TierSlow}
}

// Sample is a single observation of tiered gas prices, in gwei.
type Sample struct {
	Fast     uint64
	Standard uint64
	Slow     uint64
	At       time.Time
	Source   string
}

// Value returns the sample's price for a tier.
func (s Sample) Value(tier Tier) uint64 {
	switch tier {
	case TierFast:
		return s.Fast
	case TierStandard:
		return s.Standard
	case TierSlow:
		return s.Slow
	}
	return 0
}

// Quote is a merged gas price recommendation. A nil tier means no
// source or forecast could speak for it this round.
type Quote struct {
	Fast     *uint64
	Standard *uint64
	Slow     *uint64
	At       time.Time
}

// Value returns the quoted price for a tier when present.
func (q Quote) Value(tier Tier) (uint64, bool) {
	switch tier {
	case TierFast:
		if q.Fast != nil {
			return *q.Fast, true
		}
	case TierStandard:
		if q.Standard != nil {
			return *q.Standard, true
		}
	case TierSlow:
		if q.Slow != nil {
			return *q.Slow, true
		}
	}
	return 0, false
}

// Set assigns a tier value in place.
func (q *Quote) Set(tier Tier, v uint64) {
	switch tier {
	case TierFast:
		q.Fast = &v
	case TierStandard:
		q.Standard = &v
	case TierSlow:
		q.Slow = &v
	}
}

// Empty reports whether no tier carries a value.
func (q Quote) Empty() bool {
	return q.Fast == nil && q.Standard == nil && q.Slow == nil
}

// Trend classifies the direction of recent fee movement.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
	TrendUnknown    Trend = "unknown"
)

// DailyFee is one day's average standard-tier fee in gwei.
type DailyFee struct {
	Day      time.Time
	Standard float64
}
