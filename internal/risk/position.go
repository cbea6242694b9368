package risk

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Position is an open long position. The engine creates one per trade
// attempt; closing and monitoring it afterwards is the caller's
// business.
type Position struct {
	// Size is the position size in asset units.
	Size decimal.Decimal
	// Leverage is the leverage the position was opened with.
	Leverage float64
	// EntryPrice is the price the position was opened at.
	EntryPrice decimal.Decimal
	// LiquidationPrice is the liquidation price at creation.
	LiquidationPrice decimal.Decimal
	// Margin is the collateral backing the position.
	Margin decimal.Decimal
	// UnrealizedPnL is the profit or loss last valued by the caller.
	// Zero at creation.
	UnrealizedPnL decimal.Decimal
	// OpenedAt records when the position was opened.
	OpenedAt time.Time
}

// Notional is the position's current notional value at a price.
func (p Position) Notional(price decimal.Decimal) decimal.Decimal {
	return p.Size.Mul(price)
}

// OpenPosition constructs a long position of size units at the entry
// price, deriving the margin from the leverage so that margin times
// leverage equals the position's entry value.
func (e *Engine) OpenPosition(size decimal.Decimal, leverage float64, entry decimal.Decimal) (*Position, error) {
	if leverage <= 0 || leverage > e.params.MaxLeverage {
		return nil, fmt.Errorf("%w: %.2fx (max %.2fx)", ErrInvalidLeverage, leverage, e.params.MaxLeverage)
	}
	if size.LessThanOrEqual(decimal.Zero) || entry.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("risk: size and entry price must be positive")
	}

	margin := size.Mul(entry).Div(decimal.NewFromFloat(leverage))
	return &Position{
		Size:             size,
		Leverage:         leverage,
		EntryPrice:       entry,
		LiquidationPrice: e.LiquidationPrice(entry, size, margin, true),
		Margin:           margin,
		UnrealizedPnL:    decimal.Zero,
		OpenedAt:         time.Now().UTC(),
	}, nil
}

// PnLReport summarises a position's health at a price.
type PnLReport struct {
	// PnL is the unrealised profit or loss.
	PnL decimal.Decimal
	// ROE is the return on the position's margin, in percent.
	ROE decimal.Decimal
	// MarginRatio is remaining margin over current notional.
	MarginRatio decimal.Decimal
}

// PnL values a long position at the current price. A position without
// size reports all zeros; zero margin or notional leaves the dependent
// ratio at zero rather than dividing by it.
func (e *Engine) PnL(p Position, price decimal.Decimal) PnLReport {
	pnl := price.Sub(p.EntryPrice).Mul(p.Size)

	report := PnLReport{PnL: pnl}
	if !p.Margin.IsZero() {
		report.ROE = pnl.Div(p.Margin).Mul(decimal.NewFromInt(100))
	}
	if notional := p.Notional(price); !notional.IsZero() {
		report.MarginRatio = p.Margin.Add(pnl).Div(notional)
	}
	return report
}

// IsLiquidated reports whether the position's margin ratio has fallen
// to the maintenance requirement. Positions without size never
// liquidate.
func (e *Engine) IsLiquidated(p Position, price decimal.Decimal) bool {
	if p.Size.IsZero() {
		return false
	}
	ratio := e.PnL(p, price).MarginRatio
	return ratio.LessThanOrEqual(e.maintenance)
}
