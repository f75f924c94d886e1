package stream_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/cryptosim/sim-engine/internal/metrics"
	"github.com/cryptosim/sim-engine/internal/model"
	"github.com/cryptosim/sim-engine/internal/stream"
)

// fakeConn is a scripted connection fed by the test. ReadMessage blocks
// until a message is pushed or the connection is failed/closed.
type fakeConn struct {
	msgs   chan []byte
	done   chan struct{}
	closed sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		msgs: make(chan []byte, 16),
		done: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-c.msgs:
		return 1, msg, nil
	case <-c.done:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeConn) Close() error {
	c.closed.Do(func() { close(c.done) })
	return nil
}

// push delivers one raw payload and waits for the read loop to pick it up.
func (c *fakeConn) push(t *testing.T, payload string) {
	t.Helper()
	select {
	case c.msgs <- []byte(payload):
	case <-time.After(time.Second):
		t.Fatal("read loop not consuming messages")
	}
}

// fakeDialer hands out fakeConns and records every dial.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	fail  bool
}

func (d *fakeDialer) dial(string) (stream.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return nil, errors.New("dial refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) latest() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

func testAssets() []model.Asset {
	return []model.Asset{
		{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin"},
		{ID: "ethereum", Symbol: "eth", Name: "Ethereum"},
	}
}

// collect subscribes and accumulates delivered ticks.
type collector struct {
	mu    sync.Mutex
	ticks []model.Tick
}

func (c *collector) record(tk model.Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = append(c.ticks, tk)
}

func (c *collector) wait(t *testing.T, n int) []model.Tick {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.ticks) >= n {
			out := make([]model.Tick, len(c.ticks))
			copy(out, c.ticks)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t.Fatalf("timed out waiting for %d ticks, got %d", n, len(c.ticks))
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ticks)
}

func newTestManager(t *testing.T, d *fakeDialer) *stream.Manager {
	t.Helper()
	m := stream.NewManager("wss://example.test",
		stream.WithDialer(d.dial),
		stream.WithBackoff(20*time.Millisecond),
	)
	t.Cleanup(m.Close)
	return m
}

func TestDeliversNormalizedTicks(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, d)

	var c collector
	m.Subscribe(c.record)
	m.Init(testAssets())

	if m.State() != stream.StateConnected {
		t.Fatalf("expected connected, got %s", m.State())
	}

	d.latest().push(t, `{"s":"BTCUSDT","c":"50000.5","P":"2.3"}`)
	ticks := c.wait(t, 1)

	if ticks[0].AssetID != "bitcoin" {
		t.Errorf("expected assetID=bitcoin, got %s", ticks[0].AssetID)
	}
	if !ticks[0].Price.Equal(decimal.NewFromFloat(50000.5)) {
		t.Errorf("expected price=50000.5, got %s", ticks[0].Price)
	}
	if !ticks[0].ChangePercent24h.Equal(decimal.NewFromFloat(2.3)) {
		t.Errorf("expected change=2.3, got %s", ticks[0].ChangePercent24h)
	}
}

func TestDropsUnknownAndMalformed(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, d)

	var c collector
	m.Subscribe(c.record)
	m.Init(testAssets())

	conn := d.latest()
	conn.push(t, `{"s":"DOGEUSDT","c":"0.1","P":"1"}`) // not in the requested set
	conn.push(t, `not json at all`)
	conn.push(t, `{"s":"BTCUSDT","c":"not-a-number","P":"1"}`)
	conn.push(t, `{"s":"BTCUSDT","c":"50000","P":"not-a-number"}`)
	conn.push(t, `{"s":"ETHUSDT","c":"3000","P":"-1.2"}`)

	ticks := c.wait(t, 1)
	if len(ticks) != 1 {
		t.Fatalf("expected exactly 1 delivered tick, got %d", len(ticks))
	}
	if ticks[0].AssetID != "ethereum" {
		t.Errorf("expected the valid eth tick, got %s", ticks[0].AssetID)
	}
	// Dropping must not kill the connection.
	if m.State() != stream.StateConnected {
		t.Errorf("expected still connected, got %s", m.State())
	}
}

func TestTickCounterLabelledByDisplaySymbol(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, d)

	var c collector
	m.Subscribe(c.record)
	m.Init(testAssets())

	before := testutil.ToFloat64(metrics.TicksTotal.WithLabelValues("btc"))
	d.latest().push(t, `{"s":"BTCUSDT","c":"50000","P":"0"}`)
	c.wait(t, 1)

	after := testutil.ToFloat64(metrics.TicksTotal.WithLabelValues("btc"))
	if after != before+1 {
		t.Errorf("expected btc tick counter to advance by 1, got %v -> %v", before, after)
	}
}

func TestSubscribeOrderAndUnsubscribe(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, d)

	var mu sync.Mutex
	var order []string
	first := m.Subscribe(func(model.Tick) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
	})
	m.Subscribe(func(model.Tick) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
	})

	m.Init(testAssets())
	d.latest().push(t, `{"s":"BTCUSDT","c":"1","P":"0"}`)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	})
	mu.Lock()
	if order[0] != "first" || order[1] != "second" {
		t.Errorf("delivery must follow registration order, got %v", order)
	}
	mu.Unlock()

	// Deregister the first subscriber; calling it twice is a no-op.
	first()
	first()

	d.latest().push(t, `{"s":"BTCUSDT","c":"2","P":"0"}`)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})
	mu.Lock()
	if order[2] != "second" {
		t.Errorf("unsubscribed callback still invoked: %v", order)
	}
	mu.Unlock()
}

func TestReconnectAfterAbruptClose(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, d)

	var c collector
	m.Subscribe(c.record)
	m.Init(testAssets())

	if d.dialCount() != 1 {
		t.Fatalf("expected 1 dial, got %d", d.dialCount())
	}

	// Abrupt closure not caused by Close(): exactly one reconnect fires.
	d.latest().Close()

	waitFor(t, func() bool { return d.dialCount() == 2 })
	waitFor(t, func() bool { return m.State() == stream.StateConnected })

	// Ticks flow again to the still-registered subscriber.
	d.latest().push(t, `{"s":"BTCUSDT","c":"100","P":"0"}`)
	d.latest().push(t, `{"s":"ETHUSDT","c":"10","P":"0"}`)
	c.wait(t, 2)

	// No duplicate reconnects piled up.
	time.Sleep(60 * time.Millisecond)
	if d.dialCount() != 2 {
		t.Errorf("expected exactly 2 dials, got %d", d.dialCount())
	}
}

func TestCloseDuringBackoffCancelsReconnect(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, d)
	m.Init(testAssets())

	d.latest().Close()
	m.Close() // inside the backoff window

	time.Sleep(80 * time.Millisecond)
	if d.dialCount() != 1 {
		t.Errorf("reconnect fired after Close: %d dials", d.dialCount())
	}
	if m.State() != stream.StateDisconnected {
		t.Errorf("expected disconnected, got %s", m.State())
	}
}

func TestInitReplacesConnectionAndMapping(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, d)

	var c collector
	m.Subscribe(c.record)
	m.Init(testAssets())
	old := d.latest()

	// Re-init with a different asset set: old conn torn down, mapping replaced.
	m.Init([]model.Asset{{ID: "solana", Symbol: "sol", Name: "Solana"}})

	waitFor(t, func() bool { return d.dialCount() == 2 })
	select {
	case <-old.done:
	case <-time.After(time.Second):
		t.Fatal("previous connection was not closed on re-init")
	}

	d.latest().push(t, `{"s":"SOLUSDT","c":"25","P":"0"}`)
	d.latest().push(t, `{"s":"BTCUSDT","c":"1","P":"0"}`) // no longer mapped

	ticks := c.wait(t, 1)
	if ticks[0].AssetID != "solana" {
		t.Errorf("expected solana tick, got %s", ticks[0].AssetID)
	}

	// The old connection's death must not schedule an extra reconnect.
	time.Sleep(60 * time.Millisecond)
	if d.dialCount() != 2 {
		t.Errorf("stale connection triggered reconnect: %d dials", d.dialCount())
	}
}

func TestCloseIsIdempotentAndKeepsSubscribers(t *testing.T) {
	d := &fakeDialer{}
	m := newTestManager(t, d)

	var c collector
	m.Subscribe(c.record)

	m.Close() // never connected: no-op
	m.Init(testAssets())
	m.Close()
	m.Close()

	// Subscribers survive Close and receive ticks after a later Init.
	m.Init(testAssets())
	d.latest().push(t, `{"s":"BTCUSDT","c":"5","P":"0"}`)
	c.wait(t, 1)
}

func TestDialFailureKeepsRetrying(t *testing.T) {
	d := &fakeDialer{fail: true}
	m := newTestManager(t, d)
	m.Init(testAssets())

	if m.State() != stream.StateDisconnected {
		t.Fatalf("expected disconnected after failed dial, got %s", m.State())
	}

	// Let the source come back; the scheduled retry should connect.
	d.mu.Lock()
	d.fail = false
	d.mu.Unlock()

	waitFor(t, func() bool { return m.State() == stream.StateConnected })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
