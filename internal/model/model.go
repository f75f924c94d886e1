// Package model defines the core domain types shared across the simulator.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction kinds.
const (
	KindBuy  = "buy"
	KindSell = "sell"
)

// Asset identifies one tradable instrument. ID is the stable internal key
// (shared with the external snapshot source); Symbol and Name are display
// attributes, immutable once first observed.
type Asset struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// Holding is a current position in one asset. A Holding exists iff its
// quantity is strictly positive. AvgCostBasis is the quantity-weighted
// average purchase price across all buys; sells never change it.
type Holding struct {
	AssetID      string          `json:"asset_id" db:"asset_id"`
	Symbol       string          `json:"symbol" db:"symbol"`
	Name         string          `json:"name" db:"name"`
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"`
	AvgCostBasis decimal.Decimal `json:"avg_cost_basis" db:"avg_cost_basis"`
}

// Transaction is an immutable record of one executed buy or sell.
// Once created, these are never modified or deleted.
type Transaction struct {
	ID          string          `json:"id" db:"id"`
	Kind        string          `json:"kind" db:"kind"` // "buy" or "sell"
	AssetID     string          `json:"asset_id" db:"asset_id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	Name        string          `json:"name" db:"name"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price" db:"unit_price"`
	Total       decimal.Decimal `json:"total" db:"total"`
	RealizedPnL decimal.Decimal `json:"realized_pnl" db:"realized_pnl"` // sells only; zero for buys
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
}

// PortfolioState is the persisted ledger state: everything that must
// survive a restart. The price table is deliberately excluded — prices are
// re-learned from the stream after startup.
type PortfolioState struct {
	CashBalance  decimal.Decimal `json:"cash_balance"`
	Holdings     []Holding       `json:"holdings"`
	Transactions []Transaction   `json:"transactions"` // newest first
}

// Preferences holds user display preferences forwarded by presentation.
type Preferences struct {
	Currency string `json:"currency"`
	Theme    string `json:"theme"`
}

// DefaultPreferences returns the preferences in effect before a user has
// changed anything.
func DefaultPreferences() Preferences {
	return Preferences{Currency: "USD", Theme: "dark"}
}

// Tick is one normalized price update from the external stream.
type Tick struct {
	AssetID          string          `json:"asset_id"`
	Price            decimal.Decimal `json:"price"`
	ChangePercent24h decimal.Decimal `json:"change_percent_24h"`
}

// ProfitLoss is the unrealized P&L of one holding against the latest
// known price.
type ProfitLoss struct {
	Amount     decimal.Decimal `json:"amount"`
	Percentage decimal.Decimal `json:"percentage"`
}

// SnapshotAsset is one entry of a market snapshot from the external
// source (or the synthetic fallback dataset).
type SnapshotAsset struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Change24h    decimal.Decimal `json:"change_24h"`
}

// History is a historical price series for one asset.
type History struct {
	Times  []time.Time       `json:"times"`
	Prices []decimal.Decimal `json:"prices"`
}
