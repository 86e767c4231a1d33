package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"xhub/internal/application/port"
	"xhub/internal/domain/model"
	"xhub/internal/infrastructure/exchange"
)

const Name = "okx"

var defaultEndpoints = exchange.Endpoints{
	RestURL:        "https://www.okx.com",
	WsURL:          "wss://ws.okx.com:8443/ws/v5/public",
	SandboxRestURL: "https://www.okx.com",
	SandboxWsURL:   "wss://wspap.okx.com:8443/ws/v5/public",
}

// 统一周期 -> okx bar
var bars = map[string]string{
	"1m": "1m", "3m": "3m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1H", "2h": "2H", "4h": "4H", "6h": "6H", "12h": "12H",
	"1d": "1D", "1w": "1W", "1M": "1M",
}

func init() {
	exchange.Register(Name, func(cfg exchange.AdapterConfig) port.ExchangeAdapter {
		return New(cfg)
	})
}

// Adapter OKX V5 现货适配器；K 线走 business 频道
type Adapter struct {
	*exchange.Base
}

var _ port.ExchangeAdapter = (*Adapter)(nil)

func New(cfg exchange.AdapterConfig) *Adapter {
	return &Adapter{
		Base: exchange.NewBase(Name, cfg, defaultEndpoints, "-",
			port.MethodLoadMarkets,
			port.MethodFetchTicker,
			port.MethodFetchBalance,
			port.MethodWatchOrderBook,
			port.MethodWatchTicker,
			port.MethodWatchTickers,
			port.MethodWatchOHLCV,
			port.MethodSandbox,
		),
	}
}

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (a *Adapter) baseHeader() http.Header {
	h := http.Header{}
	if a.Sandbox() {
		h.Set("x-simulated-trading", "1")
	}
	return h
}

func (a *Adapter) call(ctx context.Context, path string, params url.Values, header http.Header) (json.RawMessage, error) {
	if header == nil {
		header = a.baseHeader()
	}
	body, err := a.REST.Get(ctx, a.RestURL(), path, params, header)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if env.Code != "0" {
		return nil, &exchange.APIError{Exchange: Name, Status: http.StatusBadRequest, Code: env.Code, Msg: env.Msg}
	}
	return env.Data, nil
}

func (a *Adapter) LoadMarkets(ctx context.Context) (map[string]model.Market, error) {
	data, err := a.call(ctx, "/api/v5/public/instruments", url.Values{"instType": {"SPOT"}}, nil)
	if err != nil {
		return nil, err
	}
	var list []struct {
		InstID   string `json:"instId"`
		BaseCcy  string `json:"baseCcy"`
		QuoteCcy string `json:"quoteCcy"`
		State    string `json:"state"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode instruments: %w", err)
	}

	markets := make([]model.Market, 0, len(list))
	for _, s := range list {
		markets = append(markets, model.Market{
			ID:     s.InstID,
			Base:   s.BaseCcy,
			Quote:  s.QuoteCcy,
			Active: s.State == "live",
		})
	}
	return a.Markets.Load(markets), nil
}

type tickerData struct {
	InstID  string `json:"instId"`
	Last    string `json:"last"`
	Open24h string `json:"open24h"`
	High24h string `json:"high24h"`
	Low24h  string `json:"low24h"`
	BidPx   string `json:"bidPx"`
	AskPx   string `json:"askPx"`
	Vol24h  string `json:"vol24h"`
	Ts      string `json:"ts"`
}

func (a *Adapter) parseTicker(raw json.RawMessage) (*model.Ticker, error) {
	var d tickerData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	info := map[string]any{}
	_ = json.Unmarshal(raw, &info)

	last := model.ParseDecimal(d.Last)
	open := model.ParseDecimal(d.Open24h)
	pct := last.Sub(open)
	if !open.IsZero() {
		pct = pct.Div(open).Shift(2).Round(4)
	}

	return &model.Ticker{
		Symbol:     a.Markets.Symbol(d.InstID),
		Last:       last,
		Percentage: pct,
		Bid:        model.ParseDecimal(d.BidPx),
		Ask:        model.ParseDecimal(d.AskPx),
		High:       model.ParseDecimal(d.High24h),
		Low:        model.ParseDecimal(d.Low24h),
		Volume:     model.ParseDecimal(d.Vol24h),
		Timestamp:  exchange.ParseMillis(d.Ts),
		Info:       info,
	}, nil
}

func (a *Adapter) FetchTicker(ctx context.Context, symbol string) (*model.Ticker, error) {
	id, err := a.Markets.MarketID(symbol)
	if err != nil {
		return nil, err
	}
	data, err := a.call(ctx, "/api/v5/market/ticker", url.Values{"instId": {id}}, nil)
	if err != nil {
		return nil, err
	}
	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode ticker: %w", err)
	}
	if len(list) == 0 {
		return nil, &exchange.APIError{Exchange: Name, Status: http.StatusNotFound, Msg: "ticker not found: " + symbol}
	}
	return a.parseTicker(list[0])
}

// FetchBalance GET /api/v5/account/balance（OK-ACCESS 签名 + passphrase）
func (a *Adapter) FetchBalance(ctx context.Context) (map[string]model.Balance, error) {
	creds := a.Credentials()
	path := "/api/v5/account/balance"
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	header := a.baseHeader()
	header.Set("OK-ACCESS-KEY", creds.APIKey)
	header.Set("OK-ACCESS-SIGN", creds.SignBase64(timestamp+http.MethodGet+path))
	header.Set("OK-ACCESS-TIMESTAMP", timestamp)
	header.Set("OK-ACCESS-PASSPHRASE", creds.Passphrase)

	data, err := a.call(ctx, path, nil, header)
	if err != nil {
		return nil, err
	}
	var list []struct {
		Details []struct {
			Ccy       string `json:"ccy"`
			CashBal   string `json:"cashBal"`
			AvailBal  string `json:"availBal"`
			FrozenBal string `json:"frozenBal"`
		} `json:"details"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}

	out := make(map[string]model.Balance)
	for _, acct := range list {
		for _, d := range acct.Details {
			total := model.ParseDecimal(d.CashBal)
			if total.IsZero() {
				continue
			}
			out[d.Ccy] = model.Balance{
				Asset: d.Ccy,
				Free:  model.ParseDecimal(d.AvailBal),
				Used:  model.ParseDecimal(d.FrozenBal),
				Total: total,
			}
		}
	}
	return out, nil
}

func (a *Adapter) publicStream() *exchange.Stream {
	return a.Stream(a.WsURL(), &protocol{a: a})
}

// businessStream candle 频道只在 /business 提供
func (a *Adapter) businessStream() *exchange.Stream {
	u := a.WsURL()
	if strings.HasSuffix(u, "/public") {
		u = strings.TrimSuffix(u, "/public") + "/business"
	}
	return a.Stream(u, &protocol{a: a})
}

func (a *Adapter) WatchOrderBook(ctx context.Context, symbol string, limit int) (*model.OrderBook, error) {
	id, err := a.Markets.MarketID(symbol)
	if err != nil {
		return nil, err
	}
	_, payload, err := a.publicStream().Watch(ctx, topicOf("books5", id))
	if err != nil {
		return nil, err
	}
	ob, ok := payload.(*model.OrderBook)
	if !ok {
		return nil, fmt.Errorf("okx: unexpected order book payload %T", payload)
	}
	if limit > 0 {
		if len(ob.Bids) > limit {
			ob.Bids = ob.Bids[:limit]
		}
		if len(ob.Asks) > limit {
			ob.Asks = ob.Asks[:limit]
		}
	}
	return ob, nil
}

func (a *Adapter) WatchTicker(ctx context.Context, symbol string) (*model.Ticker, error) {
	id, err := a.Markets.MarketID(symbol)
	if err != nil {
		return nil, err
	}
	_, payload, err := a.publicStream().Watch(ctx, topicOf("tickers", id))
	if err != nil {
		return nil, err
	}
	t, ok := payload.(*model.Ticker)
	if !ok {
		return nil, fmt.Errorf("okx: unexpected ticker payload %T", payload)
	}
	return t, nil
}

func (a *Adapter) WatchTickers(ctx context.Context, symbols []string) (map[string]*model.Ticker, error) {
	topics := make([]string, 0, len(symbols))
	for _, s := range symbols {
		id, err := a.Markets.MarketID(s)
		if err != nil {
			return nil, err
		}
		topics = append(topics, topicOf("tickers", id))
	}
	if _, _, err := a.publicStream().Watch(ctx, topics...); err != nil {
		return nil, err
	}
	return a.Tickers(symbols), nil
}

func (a *Adapter) WatchOHLCV(ctx context.Context, symbol, timeframe string, since int64, limit int) ([]model.OHLCV, error) {
	bar, ok := bars[timeframe]
	if !ok {
		return nil, &exchange.APIError{Exchange: Name, Status: http.StatusBadRequest, Msg: "unsupported timeframe " + timeframe}
	}
	id, err := a.Markets.MarketID(symbol)
	if err != nil {
		return nil, err
	}
	topic := topicOf("candle"+bar, id)
	if _, _, err := a.businessStream().Watch(ctx, topic); err != nil {
		return nil, err
	}
	return a.Candles.Get(topic, since, limit), nil
}
