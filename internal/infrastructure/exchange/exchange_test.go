package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"xhub/internal/application/port"
	"xhub/internal/domain/apperr"
	"xhub/internal/domain/model"
)

func candleAt(ts int64) model.OHLCV {
	return model.OHLCV{Timestamp: ts, Close: decimal.NewFromInt(ts)}
}

// echoProtocol: 订阅后服务端回推 {"topic": t, "v": n}
type echoProtocol struct{}

func (echoProtocol) SubscribeMessages(topics []string) ([][]byte, error) {
	b, err := json.Marshal(map[string]any{"sub": topics})
	return [][]byte{b}, err
}

func (echoProtocol) Handle(msg []byte) (string, any, bool, error) {
	var m struct {
		Topic string `json:"topic"`
		V     int    `json:"v"`
		Err   string `json:"err"`
	}
	if err := json.Unmarshal(msg, &m); err != nil {
		return "", nil, false, nil
	}
	if m.Err != "" {
		return m.Topic, nil, false, &APIError{Exchange: "echo", Status: 400, Msg: m.Err}
	}
	return m.Topic, m.V, m.Topic != "", nil
}

func (echoProtocol) KeepAlive() []byte { return nil }

func newEchoServer(t *testing.T, onSub func(conn *websocket.Conn, topics []string)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req struct {
				Sub []string `json:"sub"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			onSub(conn, req.Sub)
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStreamWatchDeliversTopicUpdate(t *testing.T) {
	srv := newEchoServer(t, func(conn *websocket.Conn, topics []string) {
		for i, tp := range topics {
			_ = conn.WriteJSON(map[string]any{"topic": tp, "v": i + 1})
		}
	})
	defer srv.Close()

	s := NewStream(StreamOptions{Name: "echo", URL: wsURL(srv)}, echoProtocol{})
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	topic, v, err := s.Watch(ctx, "a")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	if topic != "a" || v.(int) != 1 {
		t.Errorf("unexpected update %s=%v", topic, v)
	}
}

func TestStreamTopicErrorAllowsResubscribe(t *testing.T) {
	calls := 0
	srv := newEchoServer(t, func(conn *websocket.Conn, topics []string) {
		calls++
		if calls == 1 {
			_ = conn.WriteJSON(map[string]any{"topic": topics[0], "err": "bad topic"})
			return
		}
		_ = conn.WriteJSON(map[string]any{"topic": topics[0], "v": 7})
	})
	defer srv.Close()

	s := NewStream(StreamOptions{Name: "echo", URL: wsURL(srv)}, echoProtocol{})
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, _, err := s.Watch(ctx, "x")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}

	_, v, err := s.Watch(ctx, "x")
	if err != nil || v.(int) != 7 {
		t.Fatalf("expected resubscribe to succeed, got %v %v", v, err)
	}
}

func TestStreamDisconnectFailsWaiters(t *testing.T) {
	srv := newEchoServer(t, func(conn *websocket.Conn, topics []string) {
		_ = conn.Close()
	})
	defer srv.Close()

	s := NewStream(StreamOptions{Name: "echo", URL: wsURL(srv)}, echoProtocol{})
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, _, err := s.Watch(ctx, "a")
	if err == nil {
		t.Fatal("expected error after server closed connection")
	}
	if !errors.Is(InterpretError(err, "echo"), apperr.ErrNetwork) {
		t.Errorf("expected network classification, got %v", err)
	}
}

func TestStreamClosed(t *testing.T) {
	s := NewStream(StreamOptions{Name: "echo", URL: "ws://127.0.0.1:1"}, echoProtocol{})
	_ = s.Close()
	if _, _, err := s.Watch(context.Background(), "a"); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("expected ErrStreamClosed, got %v", err)
	}
}

func TestInterpretError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"api", fmt.Errorf("fetch: %w", &APIError{Exchange: "binance", Status: 400, Msg: "bad"}), apperr.ErrExchange},
		{"net", &net.OpError{Op: "dial", Err: errors.New("refused")}, apperr.ErrNetwork},
		{"eof", io.ErrUnexpectedEOF, apperr.ErrNetwork},
		{"ws close", &websocket.CloseError{Code: websocket.CloseAbnormalClosure}, apperr.ErrNetwork},
		{"domain", apperr.UnknownExchange("x"), apperr.ErrUnknownExchange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InterpretError(tt.err, "binance"); !errors.Is(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	plain := errors.New("something else")
	if got := InterpretError(plain, "binance"); got != plain {
		t.Errorf("unrecognized error should pass through, got %v", got)
	}
	if InterpretError(nil, "binance") != nil {
		t.Error("nil should stay nil")
	}
}

func TestSymbolMapper(t *testing.T) {
	m := NewSymbolMapper("okx", "-")

	if id, err := m.MarketID("btc/usdt"); err != nil || id != "BTC-USDT" {
		t.Errorf("fallback id: %s %v", id, err)
	}

	m.Load([]model.Market{{ID: "BTC-USDT", Base: "BTC", Quote: "USDT"}})
	if id, err := m.MarketID("BTC/USDT"); err != nil || id != "BTC-USDT" {
		t.Errorf("loaded id: %s %v", id, err)
	}
	if _, err := m.MarketID("ETH/USDT"); err == nil {
		t.Error("expected error for unknown market once loaded")
	}
	if s := m.Symbol("BTC-USDT"); s != "BTC/USDT" {
		t.Errorf("expected BTC/USDT, got %s", s)
	}
}

// fakeAdapter 用于网关测试
type fakeAdapter struct {
	*Base
	loadErr error
	closed  bool
}

func (f *fakeAdapter) LoadMarkets(context.Context) (map[string]model.Market, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return map[string]model.Market{"BTC/USDT": {ID: "BTCUSDT"}}, nil
}

func (f *fakeAdapter) Close() error {
	f.closed = true
	return nil
}

func TestGatewayInitializeExchange(t *testing.T) {
	var last *fakeAdapter
	Register("FakeEx", func(cfg AdapterConfig) port.ExchangeAdapter {
		last = &fakeAdapter{Base: NewBase("fakeex", cfg, Endpoints{}, "", port.MethodLoadMarkets, port.MethodSandbox)}
		if cfg.Credentials.APIKey == "bad" {
			last.loadErr = &APIError{Exchange: "fakeex", Status: 401, Msg: "invalid key"}
		}
		return last
	})

	g := NewGateway(true, nil, nil)
	ctx := context.Background()

	a, err := g.InitializeExchange(ctx, "fakeex-true", InitParams{Name: "FAKEEX", Key: "k", Secret: "s"})
	if err != nil {
		t.Fatalf("InitializeExchange failed: %v", err)
	}
	if !last.Sandbox() {
		t.Error("sandbox should be enabled when flag is on and supported")
	}
	if a.ID() != "fakeex" {
		t.Errorf("unexpected id %s", a.ID())
	}

	_, err = g.InitializeExchange(ctx, "fakeex-false", InitParams{Name: "fakeex", Key: "bad"})
	if !errors.Is(err, apperr.ErrExchange) {
		t.Fatalf("expected exchange error, got %v", err)
	}
	g.Evict("fakeex-false")
	if !last.closed {
		t.Error("evicted adapter should be closed")
	}

	if got := g.KnownExchanges(); len(got) != 1 || got[0] != "fakeex" {
		t.Errorf("unexpected known exchanges %v", got)
	}

	if _, err := g.InitializeExchange(ctx, "nope-true", InitParams{Name: "nope"}); !errors.Is(err, apperr.ErrUnknownExchange) {
		t.Errorf("expected ErrUnknownExchange, got %v", err)
	}

	g.Disable("FAKEEX")
	if _, err := g.InitializeExchange(ctx, "fakeex-true", InitParams{Name: "fakeex", Key: "k"}); !errors.Is(err, apperr.ErrUnknownExchange) {
		t.Errorf("disabled exchange should be unknown, got %v", err)
	}
}

func TestRequire(t *testing.T) {
	a := &fakeAdapter{Base: NewBase("fakeex", AdapterConfig{}, Endpoints{}, "", port.MethodLoadMarkets)}
	if err := Require(a, port.MethodLoadMarkets); err != nil {
		t.Errorf("unexpected error %v", err)
	}
	if err := Require(a, port.MethodWatchTickers); !errors.Is(err, apperr.ErrUnsupportedOperation) {
		t.Errorf("expected ErrUnsupportedOperation, got %v", err)
	}
}
