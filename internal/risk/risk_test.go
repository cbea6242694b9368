package risk

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gasfund/internal/gas"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

type stubCosts struct {
	quote gas.Quote
	cost  decimal.Decimal
	trend gas.Trend
}

func (s *stubCosts) OptimalFee(ctx context.Context) gas.Quote { return s.quote }

func (s *stubCosts) EstimateCost(ctx context.Context, gasLimit uint64, tier gas.Tier) decimal.Decimal {
	return s.cost
}

func (s *stubCosts) Trend(ctx context.Context) gas.Trend { return s.trend }

func quoteWithStandard(v uint64) gas.Quote {
	var q gas.Quote
	q.Set(gas.TierStandard, v)
	return q
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// calmHistory keeps volatility far under the threshold so the risk
// level is driven by the fee picture alone.
var calmHistory = []float64{2000, 2000.5, 2001}

func TestMaxPositionSize(t *testing.T) {
	costs := &stubCosts{quote: quoteWithStandard(30), cost: dec("10"), trend: gas.TrendStable}
	e := NewEngine(Params{}, costs, noopLogger())

	sizing, err := e.MaxPositionSize(context.Background(), SizingInput{
		Balance:      dec("1000"),
		Price:        dec("2000"),
		Leverage:     2,
		PriceHistory: calmHistory,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sizing.RiskLevel != RiskLow {
		t.Fatalf("calm market should grade low, got %s", sizing.RiskLevel)
	}
	if sizing.MaxSize.String() != "1980" {
		t.Fatalf("期望 size 1980, 实际 %s", sizing.MaxSize)
	}
	if sizing.RequiredMargin.String() != "990" {
		t.Fatalf("期望 margin 990, 实际 %s", sizing.RequiredMargin)
	}
	if sizing.LiquidationPrice.String() != "2149.5" {
		t.Fatalf("期望清算价 2149.5, 实际 %s", sizing.LiquidationPrice)
	}
	if sizing.EstimatedCost.String() != "10" {
		t.Fatalf("期望成本 10, 实际 %s", sizing.EstimatedCost)
	}
}

func TestMaxPositionSizeInvalidLeverage(t *testing.T) {
	e := NewEngine(Params{}, nil, noopLogger())

	for _, lev := range []float64{5, 0, -1} {
		_, err := e.MaxPositionSize(context.Background(), SizingInput{
			Balance:  dec("1000"),
			Price:    dec("2000"),
			Leverage: lev,
		})
		if !errors.Is(err, ErrInvalidLeverage) {
			t.Fatalf("leverage %v should be rejected, got %v", lev, err)
		}
	}
}

func TestMaxPositionSizeBalanceBelowCost(t *testing.T) {
	costs := &stubCosts{cost: dec("10"), trend: gas.TrendStable}
	e := NewEngine(Params{}, costs, noopLogger())

	sizing, err := e.MaxPositionSize(context.Background(), SizingInput{
		Balance:  dec("0.005"),
		Price:    dec("2000"),
		Leverage: 2,
	})
	if err != nil {
		t.Fatalf("infeasible position is not an error: %v", err)
	}
	if !sizing.MaxSize.IsZero() || !sizing.RequiredMargin.IsZero() || !sizing.LiquidationPrice.IsZero() {
		t.Fatalf("expected all-zero sizing, got %+v", sizing)
	}
	if sizing.EstimatedCost.String() != "10" {
		t.Fatalf("cost should still be reported, got %s", sizing.EstimatedCost)
	}
}

func TestMaxPositionSizeScalesWithRisk(t *testing.T) {
	costs := &stubCosts{cost: dec("10"), trend: gas.TrendStable}
	e := NewEngine(Params{}, costs, noopLogger())

	cases := []struct {
		name     string
		history  []float64
		wantSize string
	}{
		// no history grades medium -> 990 * 2 * 0.7
		{name: "medium", history: nil, wantSize: "1386"},
		// 10% steps grade high -> 990 * 2 * 0.4
		{name: "high", history: []float64{100, 110, 121}, wantSize: "792"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sizing, err := e.MaxPositionSize(context.Background(), SizingInput{
				Balance:      dec("1000"),
				Price:        dec("2000"),
				Leverage:     2,
				PriceHistory: tc.history,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sizing.MaxSize.String() != tc.wantSize {
				t.Fatalf("expected size %s, got %s", tc.wantSize, sizing.MaxSize)
			}
		})
	}
}

func TestAssessMarketRisk(t *testing.T) {
	cases := []struct {
		name    string
		costs   CostSource
		history []float64
		want    RiskLevel
	}{
		{
			name:    "insufficient history",
			costs:   &stubCosts{trend: gas.TrendStable},
			history: []float64{100},
			want:    RiskMedium,
		},
		{
			name:    "calm market",
			costs:   &stubCosts{quote: quoteWithStandard(30), trend: gas.TrendStable},
			history: calmHistory,
			want:    RiskLow,
		},
		{
			name:    "moderate volatility",
			costs:   &stubCosts{trend: gas.TrendStable},
			history: []float64{100, 103},
			want:    RiskMedium,
		},
		{
			name:    "heavy volatility",
			costs:   &stubCosts{trend: gas.TrendStable},
			history: []float64{100, 105},
			want:    RiskHigh,
		},
		{
			name:    "climbing fees over threshold",
			costs:   &stubCosts{quote: quoteWithStandard(150), trend: gas.TrendIncreasing},
			history: calmHistory,
			want:    RiskHigh,
		},
		{
			name:    "climbing fees under threshold",
			costs:   &stubCosts{quote: quoteWithStandard(50), trend: gas.TrendIncreasing},
			history: calmHistory,
			want:    RiskMedium,
		},
		{
			name:    "no cost source",
			history: calmHistory,
			want:    RiskLow,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := NewEngine(Params{}, tc.costs, noopLogger())
			got := e.AssessMarketRisk(context.Background(), dec("2000"), tc.history)
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestLeverageForPosition(t *testing.T) {
	costs := &stubCosts{quote: quoteWithStandard(30), trend: gas.TrendStable}
	e := NewEngine(Params{}, costs, noopLogger())

	// size 2 @ 1500 = value 3000 against funds 1000: base leverage 3.
	quote, err := e.LeverageForPosition(context.Background(), dec("2"), dec("1000"), dec("1500"), calmHistory)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote == nil {
		t.Fatal("期望得到杠杆建议, 实际为 nil")
	}
	if quote.Leverage != 3 {
		t.Fatalf("expected leverage 3, got %v", quote.Leverage)
	}
	if quote.RequiredMargin.String() != "1000" {
		t.Fatalf("expected margin 1000, got %s", quote.RequiredMargin)
	}
	// 1500 - (1000 - 2*1500*0.075)/2
	if quote.LiquidationPrice.String() != "1112.5" {
		t.Fatalf("期望清算价 1112.5, 实际 %s", quote.LiquidationPrice)
	}
	if quote.RiskLevel != RiskLow {
		t.Fatalf("expected low risk, got %s", quote.RiskLevel)
	}
}

func TestLeverageForPositionScalesWithRisk(t *testing.T) {
	costs := &stubCosts{trend: gas.TrendStable}
	e := NewEngine(Params{}, costs, noopLogger())

	// no history grades medium: base 3 * 0.8 = 2.4
	quote, err := e.LeverageForPosition(context.Background(), dec("2"), dec("1000"), dec("1500"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.Leverage != 2.4 {
		t.Fatalf("expected leverage 2.4, got %v", quote.Leverage)
	}
	if quote.RequiredMargin.String() != "1250" {
		t.Fatalf("expected margin 1250, got %s", quote.RequiredMargin)
	}
}

func TestLeverageForPositionCapsAtMax(t *testing.T) {
	costs := &stubCosts{quote: quoteWithStandard(30), trend: gas.TrendStable}
	e := NewEngine(Params{}, costs, noopLogger())

	// base 9x in a calm market still caps at the 3x maximum.
	quote, err := e.LeverageForPosition(context.Background(), dec("6"), dec("1000"), dec("1500"), calmHistory)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote.Leverage != 3 {
		t.Fatalf("leverage should cap at 3, got %v", quote.Leverage)
	}
	if quote.RequiredMargin.String() != "3000" {
		t.Fatalf("expected margin 3000, got %s", quote.RequiredMargin)
	}
}

func TestLeverageForPositionInfeasible(t *testing.T) {
	e := NewEngine(Params{}, nil, noopLogger())

	quote, err := e.LeverageForPosition(context.Background(), decimal.Zero, dec("1000"), dec("2000"), nil)
	if err != nil || quote != nil {
		t.Fatalf("zero size should yield nil quote, got %+v err %v", quote, err)
	}
	quote, err = e.LeverageForPosition(context.Background(), dec("2"), decimal.Zero, dec("2000"), nil)
	if err != nil || quote != nil {
		t.Fatalf("zero funds should yield nil quote, got %+v err %v", quote, err)
	}
}

func TestLeverageForPositionRejectsThinMargin(t *testing.T) {
	costs := &stubCosts{quote: quoteWithStandard(30), trend: gas.TrendStable}
	e := NewEngine(Params{MaxLeverage: 10}, costs, noopLogger())

	// base 10x stays under the raised cap, but margin 300 < 3000*0.15.
	quote, err := e.LeverageForPosition(context.Background(), dec("1.5"), dec("300"), dec("2000"), calmHistory)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if quote != nil {
		t.Fatalf("margin below minimum should yield nil quote, got %+v", quote)
	}
}

func TestLiquidationPriceAtMaintenanceEqualsEntry(t *testing.T) {
	e := NewEngine(Params{}, nil, noopLogger())

	// margin exactly equals size*entry*maintenance: 10*100*0.075 = 75.
	liq := e.LiquidationPrice(dec("100"), dec("10"), dec("75"), true)
	if liq.String() != "100" {
		t.Fatalf("期望清算价等于开仓价 100, 实际 %s", liq)
	}
}

func TestLiquidationPriceSides(t *testing.T) {
	e := NewEngine(Params{}, nil, noopLogger())

	// buffer (150 - 75) / 10 = 7.5 moves down for longs, up for shorts.
	if liq := e.LiquidationPrice(dec("100"), dec("10"), dec("150"), true); liq.String() != "92.5" {
		t.Fatalf("期望多头清算价 92.5, 实际 %s", liq)
	}
	if liq := e.LiquidationPrice(dec("100"), dec("10"), dec("150"), false); liq.String() != "107.5" {
		t.Fatalf("期望空头清算价 107.5, 实际 %s", liq)
	}
}

func TestLiquidationPriceDegenerate(t *testing.T) {
	e := NewEngine(Params{}, nil, noopLogger())
	if liq := e.LiquidationPrice(dec("100"), decimal.Zero, dec("75"), true); !liq.IsZero() {
		t.Fatalf("zero size should price at zero, got %s", liq)
	}
	if liq := e.LiquidationPrice(decimal.Zero, dec("10"), dec("75"), true); !liq.IsZero() {
		t.Fatalf("zero entry should price at zero, got %s", liq)
	}
}

func TestOpenPosition(t *testing.T) {
	e := NewEngine(Params{}, nil, noopLogger())

	pos, err := e.OpenPosition(dec("2"), 2, dec("1500"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos.Margin.String() != "1500" {
		t.Fatalf("期望保证金 1500, 实际 %s", pos.Margin)
	}
	// 1500 - (1500 - 2*1500*0.075)/2
	if pos.LiquidationPrice.String() != "862.5" {
		t.Fatalf("期望清算价 862.5, 实际 %s", pos.LiquidationPrice)
	}
	if !pos.UnrealizedPnL.IsZero() {
		t.Fatalf("fresh position should carry zero pnl, got %s", pos.UnrealizedPnL)
	}
	if pos.OpenedAt.IsZero() {
		t.Fatal("OpenedAt should be stamped")
	}
	// margin*leverage buys back the full entry notional.
	entryValue := pos.Notional(pos.EntryPrice)
	if got := pos.Margin.Mul(decimal.NewFromFloat(pos.Leverage)); !got.Equal(entryValue) {
		t.Fatalf("margin*leverage %s != notional %s", got, entryValue)
	}
}

func TestOpenPositionRejectsBadInput(t *testing.T) {
	e := NewEngine(Params{}, nil, noopLogger())

	for _, lev := range []float64{5, 0, -1} {
		if _, err := e.OpenPosition(dec("2"), lev, dec("1500")); !errors.Is(err, ErrInvalidLeverage) {
			t.Fatalf("leverage %v should be rejected, got %v", lev, err)
		}
	}
	if _, err := e.OpenPosition(decimal.Zero, 2, dec("1500")); err == nil {
		t.Fatal("zero size should be rejected")
	}
	if _, err := e.OpenPosition(dec("2"), 2, decimal.Zero); err == nil {
		t.Fatal("zero entry price should be rejected")
	}
}

func TestPnL(t *testing.T) {
	e := NewEngine(Params{}, nil, noopLogger())
	pos := Position{Size: dec("1"), EntryPrice: dec("2000"), Margin: dec("1000"), Leverage: 2}

	up := e.PnL(pos, dec("2500"))
	if up.PnL.String() != "500" {
		t.Fatalf("expected pnl 500, got %s", up.PnL)
	}
	if up.ROE.String() != "50" {
		t.Fatalf("expected ROE 50%%, got %s", up.ROE)
	}
	if up.MarginRatio.String() != "0.6" {
		t.Fatalf("expected margin ratio 0.6, got %s", up.MarginRatio)
	}

	down := e.PnL(pos, dec("1500"))
	if down.PnL.String() != "-500" {
		t.Fatalf("expected pnl -500, got %s", down.PnL)
	}
	if down.ROE.String() != "-50" {
		t.Fatalf("expected ROE -50%%, got %s", down.ROE)
	}
	if down.MarginRatio.Round(4).String() != "0.3333" {
		t.Fatalf("expected margin ratio 0.3333, got %s", down.MarginRatio)
	}
}

func TestIsLiquidated(t *testing.T) {
	e := NewEngine(Params{}, nil, noopLogger())
	pos := Position{Size: dec("1"), EntryPrice: dec("2000"), Margin: dec("1000"), Leverage: 2}

	// ratio at 1081 is 81/1081 = 0.0749, just inside maintenance.
	if !e.IsLiquidated(pos, dec("1081")) {
		t.Fatal("position at 1081 should be liquidated")
	}
	// ratio at 1082 is 82/1082 = 0.0758, just outside.
	if e.IsLiquidated(pos, dec("1082")) {
		t.Fatal("position at 1082 should survive")
	}
	if e.IsLiquidated(Position{}, dec("1")) {
		t.Fatal("empty position can not be liquidated")
	}
}
