package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/cryptosim/sim-engine/internal/metrics"
	"github.com/cryptosim/sim-engine/internal/model"
)

// DefaultBackoff is the fixed wait before an automatic reconnect attempt.
const DefaultBackoff = 5 * time.Second

// State is the connection lifecycle state of a Manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Conn is the minimal read side of a multiplexed ticker connection.
// Satisfied by *websocket.Conn; tests substitute scripted fakes.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens a connection to the given stream URL.
type Dialer func(url string) (Conn, error)

// tickerMessage is the inbound wire format of one ticker update.
// The source sends prices as strings.
type tickerMessage struct {
	Symbol        string `json:"s"` // e.g. "BTCUSDT"
	Price         string `json:"c"` // last price
	ChangePercent string `json:"P"` // 24h change, percent
}

type subscriber struct {
	id int
	fn func(model.Tick)
}

// Manager owns one multiplexed subscription to the external ticker source.
// It maps external tickers to internal asset IDs, normalizes inbound
// messages into Ticks, and delivers them synchronously to every subscriber
// in registration order.
//
// Reconnection is indefinite best-effort: an unexpected close schedules a
// single reconnect after a fixed backoff; Close or a new Init
// deterministically cancels any pending attempt. Managers are safe for
// concurrent use and independently constructible.
type Manager struct {
	baseURL string
	backoff time.Duration
	dial    Dialer

	mu        sync.Mutex
	symbols   map[string]string // stream symbol → asset ID
	subs      []subscriber
	nextSubID int
	conn      Conn
	state     State
	reconnect *time.Timer // single pending reconnect, nil when none
	gen       int         // connection generation; stale read loops are ignored
}

// NewManager creates a manager for the given stream base URL, e.g.
// "wss://stream.binance.com:9443". Connections open on Init, not here.
func NewManager(baseURL string, opts ...Option) *Manager {
	m := &Manager{
		baseURL: baseURL,
		backoff: DefaultBackoff,
		symbols: make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dial == nil {
		m.dial = wsDial
	}
	return m
}

// Option configures a Manager.
type Option func(*Manager)

// WithBackoff overrides the reconnect backoff interval.
func WithBackoff(d time.Duration) Option {
	return func(m *Manager) { m.backoff = d }
}

// WithDialer overrides the connection dialer. Used by tests.
func WithDialer(dial Dialer) Option {
	return func(m *Manager) { m.dial = dial }
}

func wsDial(url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Init builds the ticker→assetID mapping from the given asset list and
// opens a connection requesting updates for every mapped ticker. Calling
// Init again is safe: the previous mapping is cleared, any pending
// reconnect is cancelled, and the previous connection is torn down before
// the new one opens.
func (m *Manager) Init(assets []model.Asset) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelReconnectLocked()
	m.teardownLocked()

	m.symbols = make(map[string]string, len(assets))
	for _, a := range assets {
		m.symbols[StreamSymbol(a.Symbol)] = a.ID
	}

	m.connectLocked()
}

// Subscribe registers a callback invoked once per delivered Tick and
// returns its deregistration function. Deregistration is explicit and
// idempotent; it removes exactly the callback it was returned for.
func (m *Manager) Subscribe(fn func(model.Tick)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSubID++
	id := m.nextSubID
	m.subs = append(m.subs, subscriber{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

// Close tears down the active connection and cancels any pending
// reconnect. The subscriber set is left intact so a later Init can reuse
// it. Calling Close on an already-closed manager is a no-op.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelReconnectLocked()
	m.teardownLocked()
}

// State reports the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// streamURL builds the combined-stream URL for the current ticker set.
func (m *Manager) streamURL() string {
	streams := make([]string, 0, len(m.symbols))
	for sym := range m.symbols {
		streams = append(streams, sym+"@ticker")
	}
	return fmt.Sprintf("%s/ws/%s", m.baseURL, strings.Join(streams, "/"))
}

// connectLocked opens a connection and starts its read loop. Must be
// called with m.mu held.
func (m *Manager) connectLocked() {
	m.state = StateConnecting
	m.gen++
	gen := m.gen
	url := m.streamURL()

	conn, err := m.dial(url)
	if err != nil {
		// Transport errors are never surfaced to callers; schedule a
		// retry and report staleness through State instead.
		slog.Error("stream connect failed", "url", m.baseURL, "err", err)
		m.state = StateDisconnected
		m.scheduleReconnectLocked()
		return
	}

	m.conn = conn
	m.state = StateConnected
	slog.Info("stream connected", "tickers", len(m.symbols))

	go m.readLoop(conn, gen)
}

// readLoop consumes one connection until it fails. A read error from a
// connection that is no longer current (explicit Close or re-Init) is
// ignored; otherwise it triggers the reconnect path.
func (m *Manager) readLoop(conn Conn, gen int) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			if gen == m.gen {
				slog.Warn("stream connection lost", "err", err)
				m.conn = nil
				m.state = StateDisconnected
				m.scheduleReconnectLocked()
			}
			m.mu.Unlock()
			return
		}
		m.handleMessage(payload)
	}
}

// handleMessage normalizes one inbound payload and fans it out. Malformed
// payloads and unrecognized tickers are dropped per-message without
// affecting the connection.
func (m *Manager) handleMessage(payload []byte) {
	var msg tickerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		slog.Warn("dropping malformed tick payload", "err", err)
		metrics.MalformedTicks.Inc()
		return
	}

	symbol := strings.ToLower(msg.Symbol)

	m.mu.Lock()
	assetID, ok := m.symbols[symbol]
	subs := make([]subscriber, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	if !ok {
		// The source may multiplex tickers outside the requested set.
		return
	}

	price, err := decimal.NewFromString(msg.Price)
	if err != nil || price.IsNegative() {
		slog.Warn("dropping tick with bad price", "symbol", symbol, "price", msg.Price)
		metrics.MalformedTicks.Inc()
		return
	}
	change, err := decimal.NewFromString(msg.ChangePercent)
	if err != nil {
		slog.Warn("dropping tick with bad change percent", "symbol", symbol, "change", msg.ChangePercent)
		metrics.MalformedTicks.Inc()
		return
	}

	tick := model.Tick{AssetID: assetID, Price: price, ChangePercent24h: change}
	// Metrics are labelled by the display symbol, not the source's ticker.
	base, err := BaseSymbol(symbol)
	if err != nil {
		base = symbol
	}
	metrics.TicksTotal.WithLabelValues(base).Inc()

	// Synchronous fan-out, registration order.
	for _, s := range subs {
		s.fn(tick)
	}
}

// scheduleReconnectLocked arms the reconnect timer unless one is already
// pending. Must be called with m.mu held.
func (m *Manager) scheduleReconnectLocked() {
	if m.reconnect != nil {
		return
	}
	metrics.StreamReconnects.Inc()
	m.reconnect = time.AfterFunc(m.backoff, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.reconnect == nil {
			// Cancelled between firing and acquiring the lock.
			return
		}
		m.reconnect = nil
		if m.state != StateDisconnected {
			return
		}
		m.connectLocked()
	})
}

func (m *Manager) cancelReconnectLocked() {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

func (m *Manager) teardownLocked() {
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.gen++ // invalidate the old read loop
	m.state = StateDisconnected
}
