package bitget

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"xhub/internal/application/port"
	"xhub/internal/domain/apperr"
	"xhub/internal/infrastructure/exchange"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/spot/public/symbols", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"00000","msg":"success","data":[{"symbol":"BTCUSDT","baseCoin":"BTC","quoteCoin":"USDT","status":"online"}]}`))
	})
	mux.HandleFunc("/api/v2/spot/market/tickers", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"00000","msg":"success","data":[{"symbol":"BTCUSDT","lastPr":"65000","change24h":"-0.015","ts":"1700000000000"}]}`))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req subReq
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			for _, arg := range req.Args {
				if arg.InstType != "SPOT" {
					continue
				}
				if arg.Channel == "ticker" {
					_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"snapshot","arg":{"instType":"SPOT","channel":"ticker","instId":"BTCUSDT"},"data":[{"instId":"BTCUSDT","lastPr":"65100","change24h":"0.02","ts":"1700000000001"}]}`))
				}
			}
		}
	})
	return httptest.NewServer(mux)
}

func newTestAdapter(t *testing.T, srv *httptest.Server) *Adapter {
	t.Helper()
	a := New(exchange.AdapterConfig{
		RestURL: srv.URL,
		WsURL:   "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	})
	if _, err := a.LoadMarkets(context.Background()); err != nil {
		t.Fatalf("LoadMarkets failed: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestCapabilities(t *testing.T) {
	a := New(exchange.AdapterConfig{})
	for _, m := range []port.Method{port.MethodWatchTickers, port.MethodFetchBalance, port.MethodSandbox} {
		if a.Has(m) {
			t.Errorf("bitget should not support %s", m)
		}
	}
	if !a.Has(port.MethodWatchTicker) || !a.Has(port.MethodWatchOrderBook) {
		t.Error("bitget should support ticker and order book streams")
	}

	_, err := a.WatchTickers(context.Background(), []string{"BTC/USDT"})
	if !errors.Is(err, apperr.ErrUnsupportedOperation) {
		t.Errorf("expected unsupported operation, got %v", err)
	}
	if _, err := a.FetchBalance(context.Background()); !errors.Is(err, apperr.ErrUnsupportedOperation) {
		t.Errorf("expected unsupported operation, got %v", err)
	}
}

func TestFetchTicker(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	a := newTestAdapter(t, srv)

	tk, err := a.FetchTicker(context.Background(), "btc/usdt")
	if err != nil {
		t.Fatalf("FetchTicker failed: %v", err)
	}
	if tk.Symbol != "BTC/USDT" || tk.Percentage.String() != "-1.5" || tk.Last.String() != "65000" {
		t.Errorf("unexpected ticker %+v", tk)
	}
}

func TestWatchTicker(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	a := newTestAdapter(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tk, err := a.WatchTicker(ctx, "BTC/USDT")
	if err != nil {
		t.Fatalf("WatchTicker failed: %v", err)
	}
	if tk.Last.String() != "65100" || tk.Percentage.String() != "2" {
		t.Errorf("unexpected ticker %+v", tk)
	}
}

func TestHandleErrorEvent(t *testing.T) {
	p := &protocol{a: New(exchange.AdapterConfig{})}
	topic, _, _, err := p.Handle([]byte(`{"event":"error","arg":{"instType":"SPOT","channel":"ticker","instId":"NOPE"},"code":30001,"msg":"instType:SPOT,channel:ticker,instId:NOPE doesn't exist"}`))
	var apiErr *exchange.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "30001" {
		t.Fatalf("expected APIError 30001, got %v", err)
	}
	if topic != "ticker:NOPE" {
		t.Errorf("topic = %q", topic)
	}
}

func TestHandleOrderBook(t *testing.T) {
	p := &protocol{a: New(exchange.AdapterConfig{})}
	topic, payload, ok, err := p.Handle([]byte(`{"action":"snapshot","arg":{"instType":"SPOT","channel":"books15","instId":"ETHUSDT"},"data":[{"asks":[["2001","1"]],"bids":[["2000","3"]],"ts":"1700000000000","seq":42}]}`))
	if err != nil || !ok || topic != "books15:ETHUSDT" {
		t.Fatalf("unexpected result topic=%q ok=%v err=%v", topic, ok, err)
	}
	if payload == nil {
		t.Fatal("expected order book payload")
	}
}
