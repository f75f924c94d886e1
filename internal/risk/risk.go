// Package risk derives aggregate portfolio risk metrics from current
// holdings and the latest known prices.
//
// Volatility here is a fixed, non-statistical heuristic: each asset carries
// a hard-coded volatility constant (well-known symbols get a lower one,
// everything else a higher default) and the portfolio volatility is the
// value-weighted sum of those constants. This is a deliberate
// simplification — it is not an estimate from historical returns, and the
// Sharpe-like ratio built on top of it inherits the same caveat.
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/cryptosim/sim-engine/internal/model"
)

// Per-symbol volatility constants, keyed by lower-cased display symbol.
var (
	volBTC     = decimal.NewFromFloat(0.02)
	volETH     = decimal.NewFromFloat(0.04)
	volDefault = decimal.NewFromFloat(0.06)

	hundred = decimal.NewFromInt(100)
)

// assetVolatility returns the fixed volatility constant for a symbol.
func assetVolatility(symbol string) decimal.Decimal {
	switch symbol {
	case "btc":
		return volBTC
	case "eth":
		return volETH
	default:
		return volDefault
	}
}

// Metrics is the aggregate risk view of a portfolio.
type Metrics struct {
	Volatility    decimal.Decimal `json:"volatility"`     // percent
	SharpeRatio   decimal.Decimal `json:"sharpe_ratio"`
	TotalProfit   decimal.Decimal `json:"total_profit"`   // unrealized
	TotalInvested decimal.Decimal `json:"total_invested"` // Σ qty*avgCost
}

// Compute derives portfolio metrics from holdings, the price table, and the
// cash balance. Holdings with no known price are valued at zero. Both the
// Sharpe-like ratio and the weights are guarded against zero denominators.
func Compute(holdings []model.Holding, prices map[string]decimal.Decimal, cash decimal.Decimal) Metrics {
	netWorth := cash
	totalInvested := decimal.Zero
	for _, h := range holdings {
		netWorth = netWorth.Add(h.Quantity.Mul(prices[h.AssetID]))
		totalInvested = totalInvested.Add(h.Quantity.Mul(h.AvgCostBasis))
	}

	// Unrealized profit: what the holdings are worth now versus what was
	// paid for them.
	totalProfit := netWorth.Sub(totalInvested.Add(cash))

	volatility := decimal.Zero
	if netWorth.IsPositive() {
		for _, h := range holdings {
			weight := h.Quantity.Mul(prices[h.AssetID]).Div(netWorth)
			volatility = volatility.Add(weight.Mul(assetVolatility(h.Symbol)))
		}
	}
	volatility = volatility.Mul(hundred)

	sharpe := decimal.Zero
	if volatility.IsPositive() && totalInvested.IsPositive() {
		sharpe = totalProfit.Div(totalInvested).Div(volatility.Div(hundred))
	}

	return Metrics{
		Volatility:    volatility,
		SharpeRatio:   sharpe,
		TotalProfit:   totalProfit,
		TotalInvested: totalInvested,
	}
}
