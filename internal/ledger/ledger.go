// Package ledger implements the portfolio ledger: authoritative bookkeeping
// of the simulated trader's cash balance, cost-basis-tracked holdings, the
// append-only transaction log, and the table of latest known prices.
//
// All state transitions are synchronous and serialized through a single
// mutex; a failed operation leaves state untouched.
package ledger

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cryptosim/sim-engine/internal/model"
)

var (
	// ErrInsufficientFunds is returned when a buy costs more than the
	// current cash balance. Spending the exact balance is allowed.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInsufficientHoldings is returned when a sell exceeds the held
	// quantity, or no holding exists for the asset.
	ErrInsufficientHoldings = errors.New("ledger: insufficient holdings")

	// ErrInvalidQuantity is returned when a trade quantity is not
	// strictly positive.
	ErrInvalidQuantity = errors.New("ledger: quantity must be positive")
)

// DefaultStartingCash is the cash balance a fresh ledger opens with.
var DefaultStartingCash = decimal.NewFromInt(10000)

// Ledger owns the simulated trader's state. Construct with New or Restore;
// mutate only through Buy, Sell, and UpsertPrice.
type Ledger struct {
	mu           sync.Mutex
	cash         decimal.Decimal
	holdings     map[string]*model.Holding // assetID → holding
	order        []string                  // holding insertion order
	transactions []model.Transaction       // newest first
	prices       map[string]decimal.Decimal
}

// New creates an empty ledger with the given starting cash balance.
func New(startingCash decimal.Decimal) *Ledger {
	return &Ledger{
		cash:     startingCash,
		holdings: make(map[string]*model.Holding),
		prices:   make(map[string]decimal.Decimal),
	}
}

// Restore creates a ledger from previously persisted state.
func Restore(state *model.PortfolioState) *Ledger {
	l := New(state.CashBalance)
	for i := range state.Holdings {
		h := state.Holdings[i]
		if !h.Quantity.IsPositive() {
			continue // zero-quantity holdings must not survive a restore
		}
		l.holdings[h.AssetID] = &h
		l.order = append(l.order, h.AssetID)
	}
	l.transactions = append(l.transactions, state.Transactions...)
	return l
}

// Buy debits cash by quantity*unitPrice and creates or grows the holding,
// recomputing the quantity-weighted average cost basis. Appends a buy
// transaction on success. All-or-nothing: on error nothing changes.
func (l *Ledger) Buy(assetID, symbol, name string, unitPrice, quantity decimal.Decimal) (model.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !quantity.IsPositive() {
		return model.Transaction{}, ErrInvalidQuantity
	}

	cost := quantity.Mul(unitPrice)
	if cost.GreaterThan(l.cash) {
		return model.Transaction{}, ErrInsufficientFunds
	}

	l.cash = l.cash.Sub(cost)

	if h, ok := l.holdings[assetID]; ok {
		newQty := h.Quantity.Add(quantity)
		// avg = (oldQty*oldAvg + qty*price) / (oldQty+qty)
		totalCost := h.Quantity.Mul(h.AvgCostBasis).Add(cost)
		h.AvgCostBasis = totalCost.Div(newQty)
		h.Quantity = newQty
	} else {
		l.holdings[assetID] = &model.Holding{
			AssetID:      assetID,
			Symbol:       symbol,
			Name:         name,
			Quantity:     quantity,
			AvgCostBasis: unitPrice,
		}
		l.order = append(l.order, assetID)
	}

	tx := model.Transaction{
		ID:        uuid.New().String(),
		Kind:      model.KindBuy,
		AssetID:   assetID,
		Symbol:    symbol,
		Name:      name,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		Total:     cost,
		Timestamp: time.Now().UTC(),
	}
	l.prepend(tx)
	return tx, nil
}

// Sell credits cash by quantity*unitPrice and shrinks the holding, removing
// it entirely when the quantity reaches exactly zero. Realized P&L is
// computed against the average cost basis before the holding is mutated;
// the cost basis itself is never changed by a sell.
func (l *Ledger) Sell(assetID, symbol, name string, unitPrice, quantity decimal.Decimal) (model.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !quantity.IsPositive() {
		return model.Transaction{}, ErrInvalidQuantity
	}

	h, ok := l.holdings[assetID]
	if !ok || quantity.GreaterThan(h.Quantity) {
		return model.Transaction{}, ErrInsufficientHoldings
	}

	revenue := quantity.Mul(unitPrice)
	realized := quantity.Mul(unitPrice.Sub(h.AvgCostBasis))

	l.cash = l.cash.Add(revenue)
	h.Quantity = h.Quantity.Sub(quantity)
	if h.Quantity.IsZero() {
		delete(l.holdings, assetID)
		l.dropFromOrder(assetID)
	}

	tx := model.Transaction{
		ID:          uuid.New().String(),
		Kind:        model.KindSell,
		AssetID:     assetID,
		Symbol:      symbol,
		Name:        name,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		Total:       revenue,
		RealizedPnL: realized,
		Timestamp:   time.Now().UTC(),
	}
	l.prepend(tx)
	return tx, nil
}

// UpsertPrice overwrites the latest known price for an asset. Entries are
// only ever upserted, never removed. Negative prices are dropped; the
// operation never fails.
func (l *Ledger) UpsertPrice(assetID string, price decimal.Decimal) {
	if price.IsNegative() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prices[assetID] = price
}

// Price returns the latest known price for an asset. The second return
// value distinguishes "no price known yet" from a genuine zero price.
func (l *Ledger) Price(assetID string) (decimal.Decimal, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.prices[assetID]
	return p, ok
}

// Prices returns a copy of the full price table.
func (l *Ledger) Prices() map[string]decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(l.prices))
	for id, p := range l.prices {
		out[id] = p
	}
	return out
}

// CashBalance returns the current cash balance.
func (l *Ledger) CashBalance() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

// Holdings returns the current holdings in insertion order.
func (l *Ledger) Holdings() []model.Holding {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holdingsLocked()
}

// Transactions returns the transaction log, newest first.
func (l *Ledger) Transactions() []model.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Transaction, len(l.transactions))
	copy(out, l.transactions)
	return out
}

// NetWorth is cash plus the mark-to-market value of every holding. A
// holding with no known price contributes zero.
func (l *Ledger) NetWorth() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.netWorthLocked()
}

// ProfitLoss computes the unrealized P&L of one holding against the latest
// known price. Percentage is defined as zero when the invested value is
// zero, which avoids the division-by-zero latent in a zero cost basis.
func (l *Ledger) ProfitLoss(h model.Holding) model.ProfitLoss {
	l.mu.Lock()
	price := l.prices[h.AssetID]
	l.mu.Unlock()

	amount := h.Quantity.Mul(price.Sub(h.AvgCostBasis))
	invested := h.Quantity.Mul(h.AvgCostBasis)

	var pct decimal.Decimal
	if invested.IsPositive() {
		pct = amount.Div(invested).Mul(decimal.NewFromInt(100))
	}
	return model.ProfitLoss{Amount: amount, Percentage: pct}
}

// Snapshot returns a serializable copy of the persisted portion of the
// ledger state, safe to hand to a store at any mutation boundary.
func (l *Ledger) Snapshot() *model.PortfolioState {
	l.mu.Lock()
	defer l.mu.Unlock()

	txs := make([]model.Transaction, len(l.transactions))
	copy(txs, l.transactions)
	return &model.PortfolioState{
		CashBalance:  l.cash,
		Holdings:     l.holdingsLocked(),
		Transactions: txs,
	}
}

func (l *Ledger) holdingsLocked() []model.Holding {
	out := make([]model.Holding, 0, len(l.holdings))
	for _, id := range l.order {
		if h, ok := l.holdings[id]; ok {
			out = append(out, *h)
		}
	}
	return out
}

func (l *Ledger) netWorthLocked() decimal.Decimal {
	total := l.cash
	for _, h := range l.holdings {
		if p, ok := l.prices[h.AssetID]; ok {
			total = total.Add(h.Quantity.Mul(p))
		}
	}
	return total
}

// prepend inserts a transaction at the head of the log (newest first, as
// displayed). True chronological order is recoverable from timestamps.
func (l *Ledger) prepend(tx model.Transaction) {
	l.transactions = append([]model.Transaction{tx}, l.transactions...)
}

func (l *Ledger) dropFromOrder(assetID string) {
	for i, id := range l.order {
		if id == assetID {
			l.order = append(l.order[:i], l.order[i+1:]...)
			return
		}
	}
}
