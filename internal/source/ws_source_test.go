package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// feedServer upgrades connections and writes each queued event as one frame.
func feedServer(t *testing.T, events []RawTradeEvent) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for _, ev := range events {
			data, _ := json.Marshal(ev)
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
		// Keep the connection open so the source does not reconnect-loop.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestWSSource_DecodesAndDelivers(t *testing.T) {
	good := validEvent()
	bad := validEvent()
	bad.TxHash = "not-a-signature!"
	second := validEvent()
	second.Buyer = ""
	second.Seller = "seller-1"

	srv := feedServer(t, []RawTradeEvent{good, bad, second})
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	src, err := NewWSSource(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("NewWSSource: %v", err)
	}
	defer src.Close()

	// The malformed event is skipped; two valid trades arrive in order.
	for i, wantSide := range []string{"buy", "sell"} {
		select {
		case trade := <-src.Trades():
			if string(trade.Side) != wantSide {
				t.Errorf("trade %d: Side = %s, want %s", i, trade.Side, wantSide)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("trade %d not delivered", i)
		}
	}
}

func TestWSSource_CloseClosesFeed(t *testing.T) {
	srv := feedServer(t, nil)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	src, err := NewWSSource(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("NewWSSource: %v", err)
	}

	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case _, ok := <-src.Trades():
		if ok {
			t.Error("feed delivered after Close")
		}
	case <-time.After(time.Second):
		t.Error("feed not closed after Close")
	}
}

func TestStubSource(t *testing.T) {
	src := NewStubSource(10)
	ev := validEvent()
	trade, err := ev.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !src.Emit(trade) {
		t.Fatal("Emit returned false on open source")
	}
	got := <-src.Trades()
	if got.TxHash != trade.TxHash {
		t.Errorf("TxHash = %s, want %s", got.TxHash, trade.TxHash)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if src.Emit(trade) {
		t.Error("Emit returned true on closed source")
	}
}

func TestStubSource_FullBufferNeverBlocksClose(t *testing.T) {
	src := NewStubSource(1)
	ev := validEvent()
	trade, err := ev.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if !src.Emit(trade) {
		t.Fatal("Emit returned false with buffer space available")
	}
	if src.Emit(trade) {
		t.Error("Emit returned true on a full buffer")
	}

	closed := make(chan struct{})
	go func() {
		src.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked with a full buffer")
	}
}
