package bitget

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"xhub/internal/application/port"
	"xhub/internal/domain/model"
	"xhub/internal/infrastructure/exchange"
)

const Name = "bitget"

// bitget 没有公开现货测试网，SandboxRestURL/SandboxWsURL 留空
var defaultEndpoints = exchange.Endpoints{
	RestURL: "https://api.bitget.com",
	WsURL:   "wss://ws.bitget.com/v2/ws/public",
}

// 统一周期 -> bitget candle 频道后缀
var granularities = map[string]string{
	"1m": "1m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1H", "4h": "4H", "6h": "6H", "12h": "12H",
	"1d": "1D", "1w": "1W",
}

func init() {
	exchange.Register(Name, func(cfg exchange.AdapterConfig) port.ExchangeAdapter {
		return New(cfg)
	})
}

// Adapter Bitget V2 现货适配器，仅公开行情；watchTickers/fetchBalance/sandbox 不支持
type Adapter struct {
	*exchange.Base
}

var _ port.ExchangeAdapter = (*Adapter)(nil)

func New(cfg exchange.AdapterConfig) *Adapter {
	return &Adapter{
		Base: exchange.NewBase(Name, cfg, defaultEndpoints, "",
			port.MethodLoadMarkets,
			port.MethodFetchTicker,
			port.MethodWatchOrderBook,
			port.MethodWatchTicker,
			port.MethodWatchOHLCV,
		),
	}
}

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (a *Adapter) call(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	body, err := a.REST.Get(ctx, a.RestURL(), path, params, nil)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if env.Code != "00000" {
		return nil, &exchange.APIError{Exchange: Name, Status: http.StatusBadRequest, Code: env.Code, Msg: env.Msg}
	}
	return env.Data, nil
}

func (a *Adapter) LoadMarkets(ctx context.Context) (map[string]model.Market, error) {
	data, err := a.call(ctx, "/api/v2/spot/public/symbols", nil)
	if err != nil {
		return nil, err
	}
	var list []struct {
		Symbol    string `json:"symbol"`
		BaseCoin  string `json:"baseCoin"`
		QuoteCoin string `json:"quoteCoin"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode symbols: %w", err)
	}

	markets := make([]model.Market, 0, len(list))
	for _, s := range list {
		markets = append(markets, model.Market{
			ID:     s.Symbol,
			Base:   s.BaseCoin,
			Quote:  s.QuoteCoin,
			Active: s.Status == "online",
		})
	}
	return a.Markets.Load(markets), nil
}

type tickerData struct {
	Symbol     string `json:"symbol"`
	InstID     string `json:"instId"`
	LastPr     string `json:"lastPr"`
	High24h    string `json:"high24h"`
	Low24h     string `json:"low24h"`
	BidPr      string `json:"bidPr"`
	AskPr      string `json:"askPr"`
	Change24h  string `json:"change24h"`
	BaseVolume string `json:"baseVolume"`
	Ts         string `json:"ts"`
}

// parseTicker REST 用 symbol 字段，ws 用 instId
func (a *Adapter) parseTicker(raw json.RawMessage) (*model.Ticker, error) {
	var d tickerData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	info := map[string]any{}
	_ = json.Unmarshal(raw, &info)

	id := d.Symbol
	if id == "" {
		id = d.InstID
	}
	return &model.Ticker{
		Symbol: a.Markets.Symbol(id),
		Last:   model.ParseDecimal(d.LastPr),
		// change24h 为比例
		Percentage: model.ParseDecimal(d.Change24h).Shift(2),
		Bid:        model.ParseDecimal(d.BidPr),
		Ask:        model.ParseDecimal(d.AskPr),
		High:       model.ParseDecimal(d.High24h),
		Low:        model.ParseDecimal(d.Low24h),
		Volume:     model.ParseDecimal(d.BaseVolume),
		Timestamp:  exchange.ParseMillis(d.Ts),
		Info:       info,
	}, nil
}

func (a *Adapter) FetchTicker(ctx context.Context, symbol string) (*model.Ticker, error) {
	id, err := a.Markets.MarketID(symbol)
	if err != nil {
		return nil, err
	}
	data, err := a.call(ctx, "/api/v2/spot/market/tickers", url.Values{"symbol": {id}})
	if err != nil {
		return nil, err
	}
	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode tickers: %w", err)
	}
	if len(list) == 0 {
		return nil, &exchange.APIError{Exchange: Name, Status: http.StatusNotFound, Msg: "ticker not found: " + symbol}
	}
	return a.parseTicker(list[0])
}

func (a *Adapter) stream() *exchange.Stream {
	return a.Stream(a.WsURL(), &protocol{a: a})
}

func (a *Adapter) WatchOrderBook(ctx context.Context, symbol string, limit int) (*model.OrderBook, error) {
	id, err := a.Markets.MarketID(symbol)
	if err != nil {
		return nil, err
	}
	_, payload, err := a.stream().Watch(ctx, topicOf("books15", id))
	if err != nil {
		return nil, err
	}
	ob, ok := payload.(*model.OrderBook)
	if !ok {
		return nil, fmt.Errorf("bitget: unexpected order book payload %T", payload)
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
	_, payload, err := a.stream().Watch(ctx, topicOf("ticker", id))
	if err != nil {
		return nil, err
	}
	t, ok := payload.(*model.Ticker)
	if !ok {
		return nil, fmt.Errorf("bitget: unexpected ticker payload %T", payload)
	}
	return t, nil
}

func (a *Adapter) WatchOHLCV(ctx context.Context, symbol, timeframe string, since int64, limit int) ([]model.OHLCV, error) {
	g, ok := granularities[timeframe]
	if !ok {
		return nil, &exchange.APIError{Exchange: Name, Status: http.StatusBadRequest, Msg: "unsupported timeframe " + timeframe}
	}
	id, err := a.Markets.MarketID(symbol)
	if err != nil {
		return nil, err
	}
	topic := topicOf("candle"+g, id)
	if _, _, err := a.stream().Watch(ctx, topic); err != nil {
		return nil, err
	}
	return a.Candles.Get(topic, since, limit), nil
}
