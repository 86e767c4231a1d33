package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"xhub/internal/application/port"
	"xhub/internal/domain/model"
	"xhub/internal/infrastructure/exchange"
)

const Name = "binance"

var defaultEndpoints = exchange.Endpoints{
	RestURL:        "https://api.binance.com",
	WsURL:          "wss://stream.binance.com:9443/stream",
	SandboxRestURL: "https://testnet.binance.vision",
	SandboxWsURL:   "wss://testnet.binance.vision/stream",
}

// binance 现货 kline 支持的周期
var timeframes = map[string]bool{
	"1s": true, "1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true, "1M": true,
}

func init() {
	exchange.Register(Name, func(cfg exchange.AdapterConfig) port.ExchangeAdapter {
		return New(cfg)
	})
}

// Adapter Binance 现货适配器
type Adapter struct {
	*exchange.Base
}

var _ port.ExchangeAdapter = (*Adapter)(nil)

func New(cfg exchange.AdapterConfig) *Adapter {
	return &Adapter{
		Base: exchange.NewBase(Name, cfg, defaultEndpoints, "",
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

type apiErrorBody struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// get 公共接口，解析 {"code","msg"} 错误体
func (a *Adapter) get(ctx context.Context, path string, params url.Values, header http.Header) ([]byte, error) {
	body, err := a.REST.Get(ctx, a.RestURL(), path, params, header)
	if err != nil {
		var apiErr *exchange.APIError
		if errors.As(err, &apiErr) {
			var eb apiErrorBody
			if json.Unmarshal([]byte(apiErr.Msg), &eb) == nil && eb.Msg != "" {
				apiErr.Code = strconv.Itoa(eb.Code)
				apiErr.Msg = eb.Msg
			}
		}
		return nil, err
	}
	return body, nil
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
	} `json:"symbols"`
}

func (a *Adapter) LoadMarkets(ctx context.Context) (map[string]model.Market, error) {
	body, err := a.get(ctx, "/api/v3/exchangeInfo", nil, nil)
	if err != nil {
		return nil, err
	}
	var info exchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode exchangeInfo: %w", err)
	}

	markets := make([]model.Market, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		markets = append(markets, model.Market{
			ID:     s.Symbol,
			Base:   s.BaseAsset,
			Quote:  s.QuoteAsset,
			Active: s.Status == "TRADING",
		})
	}
	return a.Markets.Load(markets), nil
}

type ticker24hr struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	BidPrice           string `json:"bidPrice"`
	AskPrice           string `json:"askPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	CloseTime          int64  `json:"closeTime"`
}

func (a *Adapter) FetchTicker(ctx context.Context, symbol string) (*model.Ticker, error) {
	id, err := a.Markets.MarketID(symbol)
	if err != nil {
		return nil, err
	}
	body, err := a.get(ctx, "/api/v3/ticker/24hr", url.Values{"symbol": {id}}, nil)
	if err != nil {
		return nil, err
	}

	var raw ticker24hr
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode ticker: %w", err)
	}
	info := map[string]any{}
	_ = json.Unmarshal(body, &info)

	return &model.Ticker{
		Symbol:     a.Markets.Symbol(raw.Symbol),
		Last:       model.ParseDecimal(raw.LastPrice),
		Percentage: model.ParseDecimal(raw.PriceChangePercent),
		Bid:        model.ParseDecimal(raw.BidPrice),
		Ask:        model.ParseDecimal(raw.AskPrice),
		High:       model.ParseDecimal(raw.HighPrice),
		Low:        model.ParseDecimal(raw.LowPrice),
		Volume:     model.ParseDecimal(raw.Volume),
		Timestamp:  raw.CloseTime,
		Info:       info,
	}, nil
}

type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// FetchBalance GET /api/v3/account（HMAC 签名）
func (a *Adapter) FetchBalance(ctx context.Context) (map[string]model.Balance, error) {
	creds := a.Credentials()
	params := url.Values{}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", "5000")
	query := params.Encode()
	params.Set("signature", creds.SignHex(query))

	header := http.Header{}
	header.Set("X-MBX-APIKEY", creds.APIKey)

	body, err := a.get(ctx, "/api/v3/account", params, header)
	if err != nil {
		return nil, err
	}
	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}

	out := make(map[string]model.Balance)
	for _, b := range resp.Balances {
		free := model.ParseDecimal(b.Free)
		used := model.ParseDecimal(b.Locked)
		total := free.Add(used)
		if total.IsZero() {
			continue
		}
		out[b.Asset] = model.Balance{Asset: b.Asset, Free: free, Used: used, Total: total}
	}
	return out, nil
}

func (a *Adapter) stream() *exchange.Stream {
	return a.Stream(a.WsURL(), &protocol{a: a})
}

func (a *Adapter) topic(symbol, channel string) (string, error) {
	id, err := a.Markets.MarketID(symbol)
	if err != nil {
		return "", err
	}
	return strings.ToLower(id) + "@" + channel, nil
}

func (a *Adapter) WatchOrderBook(ctx context.Context, symbol string, limit int) (*model.OrderBook, error) {
	topic, err := a.topic(symbol, "depth20@100ms")
	if err != nil {
		return nil, err
	}
	_, payload, err := a.stream().Watch(ctx, topic)
	if err != nil {
		return nil, err
	}
	ob, ok := payload.(*model.OrderBook)
	if !ok {
		return nil, fmt.Errorf("binance: unexpected order book payload %T", payload)
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
	topic, err := a.topic(symbol, "ticker")
	if err != nil {
		return nil, err
	}
	_, payload, err := a.stream().Watch(ctx, topic)
	if err != nil {
		return nil, err
	}
	t, ok := payload.(*model.Ticker)
	if !ok {
		return nil, fmt.Errorf("binance: unexpected ticker payload %T", payload)
	}
	return t, nil
}

func (a *Adapter) WatchTickers(ctx context.Context, symbols []string) (map[string]*model.Ticker, error) {
	topics := make([]string, 0, len(symbols))
	for _, s := range symbols {
		topic, err := a.topic(s, "ticker")
		if err != nil {
			return nil, err
		}
		topics = append(topics, topic)
	}
	if _, _, err := a.stream().Watch(ctx, topics...); err != nil {
		return nil, err
	}
	return a.Tickers(symbols), nil
}

func (a *Adapter) WatchOHLCV(ctx context.Context, symbol, timeframe string, since int64, limit int) ([]model.OHLCV, error) {
	if !timeframes[timeframe] {
		return nil, &exchange.APIError{Exchange: Name, Status: http.StatusBadRequest, Msg: "unsupported timeframe " + timeframe}
	}
	topic, err := a.topic(symbol, "kline_"+timeframe)
	if err != nil {
		return nil, err
	}
	if _, _, err := a.stream().Watch(ctx, topic); err != nil {
		return nil, err
	}
	return a.Candles.Get(topic, since, limit), nil
}
