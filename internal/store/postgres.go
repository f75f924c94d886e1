package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cryptosim/sim-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
//
// Schema:
//
//	portfolio(id INT PK CHECK (id = 1), cash_balance NUMERIC)
//	holdings(asset_id TEXT PK, symbol TEXT, name TEXT,
//	         quantity NUMERIC, avg_cost_basis NUMERIC)
//	transactions(id TEXT PK, kind TEXT, asset_id TEXT, symbol TEXT,
//	             name TEXT, quantity NUMERIC, unit_price NUMERIC,
//	             total NUMERIC, realized_pnl NUMERIC, timestamp TIMESTAMPTZ)
//	preferences(id INT PK CHECK (id = 1), currency TEXT, theme TEXT)
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) LoadState(ctx context.Context) (*model.PortfolioState, error) {
	var cashS string
	err := s.pool.QueryRow(ctx,
		`SELECT cash_balance::TEXT FROM portfolio WHERE id = 1`).Scan(&cashS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load portfolio: %w", err)
	}

	state := &model.PortfolioState{}
	state.CashBalance, _ = decimal.NewFromString(cashS)

	rows, err := s.pool.Query(ctx,
		`SELECT asset_id, symbol, name, quantity::TEXT, avg_cost_basis::TEXT
		 FROM holdings ORDER BY asset_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var h model.Holding
		var qtyS, avgS string
		if err := rows.Scan(&h.AssetID, &h.Symbol, &h.Name, &qtyS, &avgS); err != nil {
			return nil, err
		}
		h.Quantity, _ = decimal.NewFromString(qtyS)
		h.AvgCostBasis, _ = decimal.NewFromString(avgS)
		state.Holdings = append(state.Holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	txRows, err := s.pool.Query(ctx,
		`SELECT id, kind, asset_id, symbol, name,
		        quantity::TEXT, unit_price::TEXT, total::TEXT, realized_pnl::TEXT,
		        timestamp
		 FROM transactions ORDER BY timestamp DESC`)
	if err != nil {
		return nil, err
	}
	defer txRows.Close()

	for txRows.Next() {
		var t model.Transaction
		var qtyS, priceS, totalS, pnlS string
		if err := txRows.Scan(&t.ID, &t.Kind, &t.AssetID, &t.Symbol, &t.Name,
			&qtyS, &priceS, &totalS, &pnlS, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Quantity, _ = decimal.NewFromString(qtyS)
		t.UnitPrice, _ = decimal.NewFromString(priceS)
		t.Total, _ = decimal.NewFromString(totalS)
		t.RealizedPnL, _ = decimal.NewFromString(pnlS)
		state.Transactions = append(state.Transactions, t)
	}
	return state, txRows.Err()
}

func (s *PostgresStore) SaveState(ctx context.Context, state *model.PortfolioState) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO portfolio (id, cash_balance) VALUES (1, $1::NUMERIC)
		 ON CONFLICT (id) DO UPDATE SET cash_balance = EXCLUDED.cash_balance`,
		state.CashBalance.String())
	if err != nil {
		return fmt.Errorf("save cash balance: %w", err)
	}

	// Holdings are replaced wholesale; the set is tiny.
	if _, err := tx.Exec(ctx, `DELETE FROM holdings`); err != nil {
		return err
	}
	for _, h := range state.Holdings {
		_, err := tx.Exec(ctx,
			`INSERT INTO holdings (asset_id, symbol, name, quantity, avg_cost_basis)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC)`,
			h.AssetID, h.Symbol, h.Name, h.Quantity.String(), h.AvgCostBasis.String())
		if err != nil {
			return fmt.Errorf("save holding %s: %w", h.AssetID, err)
		}
	}

	// Transactions are append-only; re-inserting existing rows is a no-op.
	for _, t := range state.Transactions {
		_, err := tx.Exec(ctx,
			`INSERT INTO transactions (id, kind, asset_id, symbol, name, quantity, unit_price, total, realized_pnl, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)
			 ON CONFLICT (id) DO NOTHING`,
			t.ID, t.Kind, t.AssetID, t.Symbol, t.Name,
			t.Quantity.String(), t.UnitPrice.String(), t.Total.String(), t.RealizedPnL.String(),
			t.Timestamp)
		if err != nil {
			return fmt.Errorf("save transaction %s: %w", t.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) LoadPreferences(ctx context.Context) (model.Preferences, error) {
	var prefs model.Preferences
	err := s.pool.QueryRow(ctx,
		`SELECT currency, theme FROM preferences WHERE id = 1`).
		Scan(&prefs.Currency, &prefs.Theme)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Preferences{}, ErrNotFound
	}
	if err != nil {
		return model.Preferences{}, fmt.Errorf("load preferences: %w", err)
	}
	return prefs, nil
}

func (s *PostgresStore) SavePreferences(ctx context.Context, prefs model.Preferences) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO preferences (id, currency, theme) VALUES (1, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET currency = EXCLUDED.currency, theme = EXCLUDED.theme`,
		prefs.Currency, prefs.Theme)
	return err
}
