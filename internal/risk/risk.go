package risk

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gasfund/internal/gas"
)

// ErrInvalidLeverage is returned when a requested leverage falls
// outside the engine's configured bounds.
var ErrInvalidLeverage = errors.New("risk: leverage exceeds maximum")

// RiskLevel grades current market conditions.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// CostSource supplies current fees, transaction costs and the fee
// trend. Satisfied by the gas oracle.
type CostSource interface {
	OptimalFee(ctx context.Context) gas.Quote
	EstimateCost(ctx context.Context, gasLimit uint64, tier gas.Tier) decimal.Decimal
	Trend(ctx context.Context) gas.Trend
}

// Multipliers scale a base value per risk level.
type Multipliers struct {
	Low    float64 `mapstructure:"low"`
	Medium float64 `mapstructure:"medium"`
	High   float64 `mapstructure:"high"`
}

// For picks the multiplier matching a level.
func (m Multipliers) For(level RiskLevel) float64 {
	switch level {
	case RiskLow:
		return m.Low
	case RiskHigh:
		return m.High
	default:
		return m.Medium
	}
}

func (m Multipliers) isZero() bool {
	return m.Low == 0 && m.Medium == 0 && m.High == 0
}

// Params tune the risk engine. Zero fields fall back to defaults.
type Params struct {
	MaxLeverage            float64     `mapstructure:"max_leverage"`
	MinMarginRatio         float64     `mapstructure:"min_margin_ratio"`
	MaintenanceMarginRatio float64     `mapstructure:"maintenance_margin_ratio"`
	VolatilityThreshold    float64     `mapstructure:"volatility_threshold"`
	HighFeeThresholdGwei   uint64      `mapstructure:"high_fee_threshold_gwei"`
	DefaultGasLimit        uint64      `mapstructure:"default_gas_limit"`
	SizeMultipliers        Multipliers `mapstructure:"size_multipliers"`
	LeverageMultipliers    Multipliers `mapstructure:"leverage_multipliers"`
}

// Engine sizes leveraged positions against wallet funds, current gas
// costs and market conditions. All position math is decimal.
type Engine struct {
	params Params
	costs  CostSource
	logger zerolog.Logger

	minMargin   decimal.Decimal
	maintenance decimal.Decimal
}

// NewEngine constructs an Engine. costs may be nil, in which case
// transaction costs read as zero and the fee trend as unknown.
func NewEngine(params Params, costs CostSource, logger zerolog.Logger) *Engine {
	if params.MaxLeverage <= 0 {
		params.MaxLeverage = 3
	}
	if params.MinMarginRatio <= 0 {
		params.MinMarginRatio = 0.15
	}
	if params.MaintenanceMarginRatio <= 0 {
		params.MaintenanceMarginRatio = 0.075
	}
	if params.VolatilityThreshold <= 0 {
		params.VolatilityThreshold = 0.02
	}
	if params.HighFeeThresholdGwei == 0 {
		params.HighFeeThresholdGwei = 100
	}
	if params.DefaultGasLimit == 0 {
		params.DefaultGasLimit = 350000
	}
	if params.SizeMultipliers.isZero() {
		params.SizeMultipliers = Multipliers{Low: 1.0, Medium: 0.7, High: 0.4}
	}
	if params.LeverageMultipliers.isZero() {
		params.LeverageMultipliers = Multipliers{Low: 1.0, Medium: 0.8, High: 0.6}
	}

	return &Engine{
		params:      params,
		costs:       costs,
		logger:      logger.With().Str("component", "risk_engine").Logger(),
		minMargin:   decimal.NewFromFloat(params.MinMarginRatio),
		maintenance: decimal.NewFromFloat(params.MaintenanceMarginRatio),
	}
}

// Params returns the engine's effective parameters after defaulting.
func (e *Engine) Params() Params { return e.params }

// AssessMarketRisk grades conditions from price volatility and the gas
// fee picture. Fewer than two history points always read as medium.
func (e *Engine) AssessMarketRisk(ctx context.Context, currentPrice decimal.Decimal, priceHistory []float64) RiskLevel {
	if len(priceHistory) < 2 {
		return RiskMedium
	}

	vol := priceVolatility(priceHistory)

	trend := gas.TrendUnknown
	var standard uint64
	if e.costs != nil {
		trend = e.costs.Trend(ctx)
		if v, ok := e.costs.OptimalFee(ctx).Value(gas.TierStandard); ok {
			standard = v
		}
	}

	feesClimbing := trend == gas.TrendIncreasing
	switch {
	case vol > 2*e.params.VolatilityThreshold,
		feesClimbing && standard > e.params.HighFeeThresholdGwei:
		return RiskHigh
	case vol > e.params.VolatilityThreshold, feesClimbing:
		return RiskMedium
	default:
		return RiskLow
	}
}

// SizingInput describes a prospective position.
type SizingInput struct {
	// Balance is the wallet balance available for the position.
	Balance decimal.Decimal
	// Price is the current market price of the asset.
	Price decimal.Decimal
	// Leverage is the requested leverage.
	Leverage float64
	// GasLimit overrides the default transaction gas limit when set.
	GasLimit uint64
	// PriceHistory feeds the market risk assessment.
	PriceHistory []float64
}

// Sizing is the engine's answer to "how large may this position be".
// All-zero size and margin mean the balance cannot cover even the
// transaction cost.
type Sizing struct {
	MaxSize          decimal.Decimal
	RequiredMargin   decimal.Decimal
	LiquidationPrice decimal.Decimal
	RiskLevel        RiskLevel
	EstimatedCost    decimal.Decimal
}

// MaxPositionSize computes the largest position the balance supports at
// the requested leverage, scaled down by market risk and net of the
// estimated transaction cost.
func (e *Engine) MaxPositionSize(ctx context.Context, in SizingInput) (*Sizing, error) {
	if in.Leverage <= 0 || in.Leverage > e.params.MaxLeverage {
		return nil, fmt.Errorf("%w: %.2fx (max %.2fx)", ErrInvalidLeverage, in.Leverage, e.params.MaxLeverage)
	}

	level := e.AssessMarketRisk(ctx, in.Price, in.PriceHistory)

	gasLimit := in.GasLimit
	if gasLimit == 0 {
		gasLimit = e.params.DefaultGasLimit
	}
	cost := decimal.Zero
	if e.costs != nil {
		cost = e.costs.EstimateCost(ctx, gasLimit, gas.TierStandard)
	}

	available := in.Balance.Sub(cost)
	if available.LessThanOrEqual(decimal.Zero) {
		e.logger.Debug().
			Str("balance", in.Balance.String()).
			Str("estimated_cost", cost.String()).
			Msg("balance cannot cover transaction cost")
		return &Sizing{RiskLevel: level, EstimatedCost: cost}, nil
	}

	sizeMult := e.params.SizeMultipliers.For(level)
	size := available.
		Mul(decimal.NewFromFloat(in.Leverage)).
		Mul(decimal.NewFromFloat(sizeMult))
	margin := available

	return &Sizing{
		MaxSize:          size,
		RequiredMargin:   margin,
		LiquidationPrice: e.LiquidationPrice(in.Price, size, margin, true),
		RiskLevel:        level,
		EstimatedCost:    cost,
	}, nil
}

// LiquidationPrice is the price at which a position's margin hits the
// maintenance requirement. The buffer (margin - size*entry*maintenance)
// spread over the size moves the entry price down for longs and up for
// shorts. Zero when size or entry price is zero. The result is not
// clamped: a long liquidation price above entry means the margin is
// already below maintenance.
func (e *Engine) LiquidationPrice(entry, size, margin decimal.Decimal, long bool) decimal.Decimal {
	if size.IsZero() || entry.IsZero() {
		return decimal.Zero
	}
	offset := margin.Sub(size.Mul(entry).Mul(e.maintenance)).Div(size)
	if long {
		return entry.Sub(offset)
	}
	return entry.Add(offset)
}

// LeverageQuote is the engine's recommended leverage for a desired
// position size.
type LeverageQuote struct {
	Leverage         float64
	RequiredMargin   decimal.Decimal
	LiquidationPrice decimal.Decimal
	RiskLevel        RiskLevel
}

// LeverageForPosition recommends a leverage for opening a long position
// of size units at the current price with the given available funds.
// The base leverage value/available is scaled down by market risk and
// capped at the configured maximum. A nil quote without error means the
// position is infeasible: either the inputs are non-positive, or the
// implied margin would fall below the minimum margin requirement.
func (e *Engine) LeverageForPosition(ctx context.Context, size, available, price decimal.Decimal, priceHistory []float64) (*LeverageQuote, error) {
	value := size.Mul(price)
	if value.LessThanOrEqual(decimal.Zero) || available.LessThanOrEqual(decimal.Zero) {
		return nil, nil
	}

	level := e.AssessMarketRisk(ctx, price, priceHistory)

	base := value.Div(available)
	adjusted := base.Mul(decimal.NewFromFloat(e.params.LeverageMultipliers.For(level)))
	if maxLev := decimal.NewFromFloat(e.params.MaxLeverage); adjusted.GreaterThan(maxLev) {
		adjusted = maxLev
	}
	if adjusted.LessThanOrEqual(decimal.Zero) {
		return nil, nil
	}

	margin := value.Div(adjusted)
	if margin.LessThan(value.Mul(e.minMargin)) {
		e.logger.Debug().
			Str("margin", margin.String()).
			Str("value", value.String()).
			Msg("implied margin below minimum requirement")
		return nil, nil
	}

	return &LeverageQuote{
		Leverage:         adjusted.InexactFloat64(),
		RequiredMargin:   margin,
		LiquidationPrice: e.LiquidationPrice(price, size, margin, true),
		RiskLevel:        level,
	}, nil
}

// priceVolatility is the mean relative step size of consecutive
// prices. Steps starting from zero are skipped.
func priceVolatility(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}
	var sum float64
	steps := 0
	for i := 1; i < len(series); i++ {
		prev := series[i-1]
		if prev == 0 {
			continue
		}
		sum += math.Abs(series[i]-prev) / prev
		steps++
	}
	if steps == 0 {
		return 0
	}
	return sum / float64(steps)
}
