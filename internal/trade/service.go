// Package trade provides the HTTP handlers and coordination logic tying
// the portfolio ledger, the price stream, the market snapshot source, and
// persistence together.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cryptosim/sim-engine/internal/ledger"
	"github.com/cryptosim/sim-engine/internal/market"
	"github.com/cryptosim/sim-engine/internal/metrics"
	"github.com/cryptosim/sim-engine/internal/model"
	"github.com/cryptosim/sim-engine/internal/risk"
	"github.com/cryptosim/sim-engine/internal/store"
)

// SnapshotSource is the external market data dependency of the service.
// Satisfied by *market.Client; tests substitute stubs.
type SnapshotSource interface {
	TopAssets(ctx context.Context, limit int) (*market.Snapshot, error)
	History(ctx context.Context, assetID string, days int) (*model.History, error)
}

// Service handles simulator operations. Ledger mutations are serialized by
// the ledger itself; the service adds persistence after each mutation and
// the reconciliation path from stream ticks into the price table.
type Service struct {
	ledger *ledger.Ledger
	store  store.Store
	source SnapshotSource
	wsHub  *WSHub // optional hub for real-time tick broadcasts

	mu        sync.RWMutex
	universe  []model.SnapshotAsset
	synthetic bool
}

// NewService creates a new simulator service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(l *ledger.Ledger, st store.Store, source SnapshotSource, hub *WSHub) *Service {
	return &Service{
		ledger: l,
		store:  st,
		source: source,
		wsHub:  hub,
	}
}

// SetUniverse installs the current tradable asset universe (live or
// synthetic) and seeds the price table with the snapshot prices so
// valuations work before the first tick arrives.
func (s *Service) SetUniverse(snap *market.Snapshot) {
	s.mu.Lock()
	s.universe = snap.Assets
	s.synthetic = snap.Synthetic
	s.mu.Unlock()

	for _, a := range snap.Assets {
		s.ledger.UpsertPrice(a.ID, a.CurrentPrice)
	}
}

// Assets returns the current universe as stream-initializable assets.
func (s *Service) Assets() []model.Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assets := make([]model.Asset, 0, len(s.universe))
	for _, a := range s.universe {
		assets = append(assets, model.Asset{ID: a.ID, Symbol: a.Symbol, Name: a.Name})
	}
	return assets
}

// HandleTick is the reconciliation seam: the coordinator registers it as a
// stream subscriber. Each tick only upserts the price table (never trades),
// so streaming updates cannot race buy/sell read-modify-write cycles.
// Ticks do not touch the persistent store.
func (s *Service) HandleTick(tick model.Tick) {
	s.ledger.UpsertPrice(tick.AssetID, tick.Price)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:             "tick",
			AssetID:          tick.AssetID,
			Price:            tick.Price.String(),
			ChangePercent24h: tick.ChangePercent24h.String(),
		})
	}
}

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /buy and POST /sell.
type TradeRequest struct {
	AssetID   string          `json:"asset_id"`
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// TradeResponse is the JSON body returned from a successful trade.
type TradeResponse struct {
	Transaction model.Transaction `json:"transaction"`
	CashBalance decimal.Decimal   `json:"cash_balance"`
	NetWorth    decimal.Decimal   `json:"net_worth"`
}

// HoldingView is one holding decorated with its unrealized P&L.
type HoldingView struct {
	model.Holding
	CurrentPrice decimal.Decimal  `json:"current_price"`
	PriceKnown   bool             `json:"price_known"`
	ProfitLoss   model.ProfitLoss `json:"profit_loss"`
}

// PortfolioResponse is the JSON body for GET /portfolio.
type PortfolioResponse struct {
	CashBalance decimal.Decimal `json:"cash_balance"`
	NetWorth    decimal.Decimal `json:"net_worth"`
	Holdings    []HoldingView   `json:"holdings"`
	Risk        risk.Metrics    `json:"risk"`
	Synthetic   bool            `json:"synthetic"`
}

// MarketResponse is the JSON body for GET /market.
type MarketResponse struct {
	Assets    []model.SnapshotAsset `json:"assets"`
	Synthetic bool                  `json:"synthetic"`
}

// --- HTTP Handlers ---

// Buy handles POST /api/v1/buy.
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	s.executeTrade(w, r, model.KindBuy)
}

// Sell handles POST /api/v1/sell.
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	s.executeTrade(w, r, model.KindSell)
}

func (s *Service) executeTrade(w http.ResponseWriter, r *http.Request, kind string) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AssetID == "" {
		writeError(w, "asset_id is required", http.StatusBadRequest)
		return
	}
	if req.UnitPrice.IsNegative() {
		writeError(w, "unit_price must be non-negative", http.StatusBadRequest)
		return
	}

	var tx model.Transaction
	var err error
	if kind == model.KindBuy {
		tx, err = s.ledger.Buy(req.AssetID, req.Symbol, req.Name, req.UnitPrice, req.Quantity)
	} else {
		tx, err = s.ledger.Sell(req.AssetID, req.Symbol, req.Name, req.UnitPrice, req.Quantity)
	}
	if err != nil {
		metrics.TradesRejected.WithLabelValues(rejectReason(err)).Inc()
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	metrics.TradesTotal.WithLabelValues(kind).Inc()
	// The save must outlive the request: a client cancelling right after
	// the trade commits must not skip persistence.
	s.persist(context.WithoutCancel(r.Context()))

	slog.Info("trade executed",
		"id", tx.ID,
		"kind", tx.Kind,
		"asset", tx.AssetID,
		"qty", tx.Quantity.String(),
		"unit_price", tx.UnitPrice.String(),
		"total", tx.Total.String(),
	)

	writeJSON(w, http.StatusOK, TradeResponse{
		Transaction: tx,
		CashBalance: s.ledger.CashBalance(),
		NetWorth:    s.ledger.NetWorth(),
	})
}

// Portfolio handles GET /api/v1/portfolio.
func (s *Service) Portfolio(w http.ResponseWriter, r *http.Request) {
	holdings := s.ledger.Holdings()
	prices := s.ledger.Prices()

	views := make([]HoldingView, 0, len(holdings))
	for _, h := range holdings {
		price, known := prices[h.AssetID]
		views = append(views, HoldingView{
			Holding:      h,
			CurrentPrice: price,
			PriceKnown:   known,
			ProfitLoss:   s.ledger.ProfitLoss(h),
		})
	}

	s.mu.RLock()
	synthetic := s.synthetic
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, PortfolioResponse{
		CashBalance: s.ledger.CashBalance(),
		NetWorth:    s.ledger.NetWorth(),
		Holdings:    views,
		Risk:        risk.Compute(holdings, prices, s.ledger.CashBalance()),
		Synthetic:   synthetic,
	})
}

// Transactions handles GET /api/v1/transactions. Newest first.
func (s *Service) Transactions(w http.ResponseWriter, r *http.Request) {
	txs := s.ledger.Transactions()
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// Prices handles GET /api/v1/prices.
func (s *Service) Prices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Prices())
}

// Market handles GET /api/v1/market: the current asset universe with the
// latest known prices folded in.
func (s *Service) Market(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	assets := make([]model.SnapshotAsset, len(s.universe))
	copy(assets, s.universe)
	synthetic := s.synthetic
	s.mu.RUnlock()

	for i := range assets {
		if p, ok := s.ledger.Price(assets[i].ID); ok {
			assets[i].CurrentPrice = p
		}
	}

	writeJSON(w, http.StatusOK, MarketResponse{Assets: assets, Synthetic: synthetic})
}

// MarketHistory handles GET /api/v1/market/{assetID}/history?days=N.
func (s *Service) MarketHistory(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "assetID")

	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, "days must be a positive integer", http.StatusBadRequest)
			return
		}
		days = n
	}

	history, err := s.source.History(r.Context(), assetID, days)
	if err != nil {
		writeError(w, "history unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// GetPreferences handles GET /api/v1/preferences.
func (s *Service) GetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.store.LoadPreferences(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		prefs = model.DefaultPreferences()
	} else if err != nil {
		writeError(w, "failed to load preferences", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// PutPreferences handles PUT /api/v1/preferences.
func (s *Service) PutPreferences(w http.ResponseWriter, r *http.Request) {
	var prefs model.Preferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if prefs.Currency == "" || prefs.Theme == "" {
		writeError(w, "currency and theme are required", http.StatusBadRequest)
		return
	}

	if err := s.store.SavePreferences(r.Context(), prefs); err != nil {
		writeError(w, "failed to save preferences", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// persist saves the ledger state after a mutation. Persistence is
// best-effort: a failed save is logged but does not undo the in-memory
// mutation, which remains authoritative for the session.
func (s *Service) persist(ctx context.Context) {
	if err := s.store.SaveState(ctx, s.ledger.Snapshot()); err != nil {
		slog.Error("failed to persist portfolio state", "err", err)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ledger.ErrInsufficientHoldings):
		return "insufficient_holdings"
	case errors.Is(err, ledger.ErrInvalidQuantity):
		return "invalid_quantity"
	default:
		return "other"
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
