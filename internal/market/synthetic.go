package market

import (
	"github.com/shopspring/decimal"

	"github.com/cryptosim/sim-engine/internal/model"
)

// SyntheticSnapshot returns the fixed fallback dataset used when the
// external source is unavailable. Prices are plausible but static; the
// Synthetic flag tells presentation to mark the data as demo data.
func SyntheticSnapshot() *Snapshot {
	mk := func(id, symbol, name string, price, change float64) model.SnapshotAsset {
		return model.SnapshotAsset{
			ID:           id,
			Symbol:       symbol,
			Name:         name,
			CurrentPrice: decimal.NewFromFloat(price),
			Change24h:    decimal.NewFromFloat(change),
		}
	}

	return &Snapshot{
		Synthetic: true,
		Assets: []model.SnapshotAsset{
			mk("bitcoin", "btc", "Bitcoin", 64250.00, 1.8),
			mk("ethereum", "eth", "Ethereum", 3150.40, -0.6),
			mk("solana", "sol", "Solana", 148.75, 3.2),
			mk("ripple", "xrp", "XRP", 0.52, 0.4),
			mk("cardano", "ada", "Cardano", 0.44, -1.1),
			mk("dogecoin", "doge", "Dogecoin", 0.12, 2.5),
			mk("polkadot", "dot", "Polkadot", 6.80, -0.3),
			mk("chainlink", "link", "Chainlink", 14.20, 1.2),
			mk("litecoin", "ltc", "Litecoin", 82.10, 0.1),
			mk("avalanche-2", "avax", "Avalanche", 34.60, -2.0),
		},
	}
}
