package exchange

import (
	"context"
	"strings"
	"sync"

	"xhub/internal/application/port"
	"xhub/internal/domain/apperr"
	"xhub/internal/domain/model"
)

// Endpoints 交易所默认地址
type Endpoints struct {
	RestURL        string
	WsURL          string
	SandboxRestURL string
	SandboxWsURL   string
}

// Base 各交易所适配器的公共部分：能力表、地址选择、符号表、行情缓存
// 未覆盖的方法返回 UnsupportedOperation
type Base struct {
	name      string
	caps      map[port.Method]bool
	endpoints Endpoints
	creds     Credentials

	REST    *RESTClient
	Markets *SymbolMapper
	Candles *CandleCache

	mu      sync.RWMutex
	sandbox bool
	tickers map[string]*model.Ticker
	streams map[string]*Stream
}

// NewBase defaults 为交易所默认地址，cfg 中的非空地址优先
func NewBase(name string, cfg AdapterConfig, defaults Endpoints, symbolSep string, caps ...port.Method) *Base {
	ep := defaults
	if s := strings.TrimSpace(cfg.RestURL); s != "" {
		ep.RestURL = s
	}
	if s := strings.TrimSpace(cfg.WsURL); s != "" {
		ep.WsURL = s
	}
	if s := strings.TrimSpace(cfg.SandboxRestURL); s != "" {
		ep.SandboxRestURL = s
	}
	if s := strings.TrimSpace(cfg.SandboxWsURL); s != "" {
		ep.SandboxWsURL = s
	}

	capSet := make(map[port.Method]bool, len(caps))
	for _, m := range caps {
		capSet[m] = true
	}

	return &Base{
		name:      name,
		caps:      capSet,
		endpoints: ep,
		creds:     cfg.Credentials,
		REST:      NewRESTClient(name, cfg.HTTPClient),
		Markets:   NewSymbolMapper(name, symbolSep),
		Candles:   NewCandleCache(0),
		tickers:   make(map[string]*model.Ticker),
		streams:   make(map[string]*Stream),
	}
}

func (b *Base) ID() string { return b.name }

func (b *Base) Has(m port.Method) bool { return b.caps[m] }

func (b *Base) SetSandboxMode(enabled bool) {
	b.mu.Lock()
	b.sandbox = enabled
	b.mu.Unlock()
}

func (b *Base) Sandbox() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sandbox
}

func (b *Base) Credentials() Credentials { return b.creds }

// RestURL 根据 sandbox 状态选择地址
func (b *Base) RestURL() string {
	if b.Sandbox() && b.endpoints.SandboxRestURL != "" {
		return b.endpoints.SandboxRestURL
	}
	return b.endpoints.RestURL
}

func (b *Base) WsURL() string {
	if b.Sandbox() && b.endpoints.SandboxWsURL != "" {
		return b.endpoints.SandboxWsURL
	}
	return b.endpoints.WsURL
}

// StoreTicker 更新最新 ticker 缓存
func (b *Base) StoreTicker(t *model.Ticker) {
	if t == nil || t.Symbol == "" {
		return
	}
	b.mu.Lock()
	b.tickers[t.Symbol] = t
	b.mu.Unlock()
}

// Tickers 返回 symbols 中已有缓存的 ticker
func (b *Base) Tickers(symbols []string) map[string]*model.Ticker {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]*model.Ticker, len(symbols))
	for _, s := range symbols {
		if t, ok := b.tickers[s]; ok {
			out[s] = t
		}
	}
	return out
}

func (b *Base) unsupported(m port.Method) error {
	return apperr.UnsupportedOperation(b.name, string(m))
}

func (b *Base) LoadMarkets(context.Context) (map[string]model.Market, error) {
	return nil, b.unsupported(port.MethodLoadMarkets)
}

func (b *Base) FetchTicker(context.Context, string) (*model.Ticker, error) {
	return nil, b.unsupported(port.MethodFetchTicker)
}

func (b *Base) FetchBalance(context.Context) (map[string]model.Balance, error) {
	return nil, b.unsupported(port.MethodFetchBalance)
}

func (b *Base) WatchOrderBook(context.Context, string, int) (*model.OrderBook, error) {
	return nil, b.unsupported(port.MethodWatchOrderBook)
}

func (b *Base) WatchTicker(context.Context, string) (*model.Ticker, error) {
	return nil, b.unsupported(port.MethodWatchTicker)
}

func (b *Base) WatchTickers(context.Context, []string) (map[string]*model.Ticker, error) {
	return nil, b.unsupported(port.MethodWatchTickers)
}

func (b *Base) WatchOHLCV(context.Context, string, string, int64, int) ([]model.OHLCV, error) {
	return nil, b.unsupported(port.MethodWatchOHLCV)
}

// Stream 按 url 复用连接，首次调用时创建
func (b *Base) Stream(url string, proto Protocol) *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.streams[url]; ok {
		return s
	}
	s := NewStream(StreamOptions{Name: b.name, URL: url}, proto)
	b.streams[url] = s
	return s
}

// Close 关闭全部 ws 连接
func (b *Base) Close() error {
	b.mu.Lock()
	streams := b.streams
	b.streams = make(map[string]*Stream)
	b.mu.Unlock()

	var firstErr error
	for _, s := range streams {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
