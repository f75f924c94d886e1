// Package market fetches point-in-time snapshots and historical series for
// tradable assets from an external HTTP source. When the source is
// unavailable, callers fall back to a fixed synthetic dataset flagged as
// such — the rest of the system treats both shapes identically.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cryptosim/sim-engine/internal/model"
)

// Snapshot is one fetch of the tradable asset universe.
type Snapshot struct {
	Assets    []model.SnapshotAsset `json:"assets"`
	Synthetic bool                  `json:"synthetic"`
}

// Client talks to a CoinGecko-style market data API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a snapshot client for the given API base URL, e.g.
// "https://api.coingecko.com/api/v3".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// coinMarket is the source's wire format for one market entry.
type coinMarket struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Change24h    decimal.Decimal `json:"price_change_percentage_24h"`
}

// TopAssets fetches the top assets by market cap.
func (c *Client) TopAssets(ctx context.Context, limit int) (*Snapshot, error) {
	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("order", "market_cap_desc")
	q.Set("per_page", fmt.Sprint(limit))
	q.Set("page", "1")
	q.Set("price_change_percentage", "24h")

	var coins []coinMarket
	if err := c.getJSON(ctx, "/coins/markets?"+q.Encode(), &coins); err != nil {
		return nil, err
	}

	snap := &Snapshot{Assets: make([]model.SnapshotAsset, 0, len(coins))}
	for _, coin := range coins {
		snap.Assets = append(snap.Assets, model.SnapshotAsset{
			ID:           coin.ID,
			Symbol:       coin.Symbol,
			Name:         coin.Name,
			CurrentPrice: coin.CurrentPrice,
			Change24h:    coin.Change24h,
		})
	}
	return snap, nil
}

// marketChart is the source's wire format for a historical series:
// arrays of [unix_ms, value] pairs.
type marketChart struct {
	Prices [][2]decimal.Decimal `json:"prices"`
}

// History fetches a historical price series for one asset over the given
// lookback window in days.
func (c *Client) History(ctx context.Context, assetID string, days int) (*model.History, error) {
	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("days", fmt.Sprint(days))
	if days == 1 {
		q.Set("interval", "hourly")
	} else {
		q.Set("interval", "daily")
	}

	var chart marketChart
	path := fmt.Sprintf("/coins/%s/market_chart?%s", url.PathEscape(assetID), q.Encode())
	if err := c.getJSON(ctx, path, &chart); err != nil {
		return nil, err
	}

	h := &model.History{
		Times:  make([]time.Time, 0, len(chart.Prices)),
		Prices: make([]decimal.Decimal, 0, len(chart.Prices)),
	}
	for _, point := range chart.Prices {
		ms := point[0].IntPart()
		h.Times = append(h.Times, time.UnixMilli(ms).UTC())
		h.Prices = append(h.Prices, point[1])
	}
	return h, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("market: unexpected status %d from %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
