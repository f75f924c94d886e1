package trade_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cryptosim/sim-engine/internal/ledger"
	"github.com/cryptosim/sim-engine/internal/model"
	"github.com/cryptosim/sim-engine/internal/store"
	"github.com/cryptosim/sim-engine/internal/trade"
)

// dialTestHub serves HandleWS over httptest and connects a real client.
func dialTestHub(t *testing.T, hub *trade.WSHub) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("ws dial failed: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

// awaitMessage invokes send repeatedly until the client reads one message.
// Registration runs through the hub loop asynchronously, so the first send
// can race it; retrying makes delivery deterministic.
func awaitMessage(t *testing.T, conn *websocket.Conn, send func()) trade.WSMessage {
	t.Helper()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			send()
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("client read failed: %v", err)
	}
	var msg trade.WSMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("decode broadcast: %v", err)
	}
	return msg
}

func TestWSHub_BroadcastReachesClient(t *testing.T) {
	hub := trade.NewWSHub()
	go hub.Run()

	conn, cleanup := dialTestHub(t, hub)
	defer cleanup()

	want := trade.WSMessage{Type: "tick", AssetID: "bitcoin", Price: "50000.5", ChangePercent24h: "2.3"}
	got := awaitMessage(t, conn, func() { hub.Broadcast(want) })

	if got.Type != "tick" || got.AssetID != "bitcoin" {
		t.Errorf("unexpected message: %+v", got)
	}
	if got.Price != "50000.5" || got.ChangePercent24h != "2.3" {
		t.Errorf("expected string-encoded price fields, got %+v", got)
	}
}

func TestWSHub_TickFlowsFromServiceToClient(t *testing.T) {
	hub := trade.NewWSHub()
	go hub.Run()

	svc := trade.NewService(ledger.New(d(10000)), store.NewMemoryStore(), &stubSource{}, hub)

	conn, cleanup := dialTestHub(t, hub)
	defer cleanup()

	tick := model.Tick{AssetID: "ethereum", Price: d(3000), ChangePercent24h: d(-1.2)}
	got := awaitMessage(t, conn, func() { svc.HandleTick(tick) })

	if got.AssetID != "ethereum" || got.Price != "3000" {
		t.Errorf("expected ethereum tick at 3000, got %+v", got)
	}
}

func TestWSHub_DisconnectedClientIsDropped(t *testing.T) {
	hub := trade.NewWSHub()
	go hub.Run()

	msg := trade.WSMessage{Type: "tick", AssetID: "bitcoin", Price: "1"}

	conn1, cleanup1 := dialTestHub(t, hub)
	awaitMessage(t, conn1, func() { hub.Broadcast(msg) })
	cleanup1()

	// Broadcasting past a dead client must not wedge the hub; a fresh
	// client still receives messages.
	conn2, cleanup2 := dialTestHub(t, hub)
	defer cleanup2()

	got := awaitMessage(t, conn2, func() { hub.Broadcast(msg) })
	if got.AssetID != "bitcoin" {
		t.Errorf("second client did not receive broadcast: %+v", got)
	}
}

func TestWSHub_BroadcastDropsWhenBufferFull(t *testing.T) {
	hub := trade.NewWSHub() // Run never started: nothing drains the buffer

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			hub.Broadcast(trade.WSMessage{Type: "tick", AssetID: "bitcoin"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a full buffer")
	}
}

func TestWSHub_ConcurrentBroadcasts(t *testing.T) {
	hub := trade.NewWSHub()
	go hub.Run()

	conn, cleanup := dialTestHub(t, hub)
	defer cleanup()

	// Confirm registration before hammering.
	awaitMessage(t, conn, func() {
		hub.Broadcast(trade.WSMessage{Type: "tick", AssetID: "bitcoin"})
	})

	const writers, perWriter = 4, 30
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				hub.Broadcast(trade.WSMessage{Type: "tick", AssetID: "ethereum", Price: "3000"})
			}
		}()
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got := 0
	for got < writers*perWriter {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read after %d messages: %v", got, err)
		}
		var msg trade.WSMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("decode broadcast: %v", err)
		}
		if msg.AssetID == "ethereum" {
			got++
		}
	}
	wg.Wait()
}
