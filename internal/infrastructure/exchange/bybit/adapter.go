package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"xhub/internal/application/port"
	"xhub/internal/domain/model"
	"xhub/internal/infrastructure/exchange"
)

const Name = "bybit"

var defaultEndpoints = exchange.Endpoints{
	RestURL:        "https://api.bybit.com",
	WsURL:          "wss://stream.bybit.com/v5/public/spot",
	SandboxRestURL: "https://api-testnet.bybit.com",
	SandboxWsURL:   "wss://stream-testnet.bybit.com/v5/public/spot",
}

// 统一周期 -> bybit interval
var intervals = map[string]string{
	"1m": "1", "3m": "3", "5m": "5", "15m": "15", "30m": "30",
	"1h": "60", "2h": "120", "4h": "240", "6h": "360", "12h": "720",
	"1d": "D", "1w": "W", "1M": "M",
}

const bookDepth = 50

func init() {
	exchange.Register(Name, func(cfg exchange.AdapterConfig) port.ExchangeAdapter {
		return New(cfg)
	})
}

// Adapter Bybit V5 现货适配器
type Adapter struct {
	*exchange.Base
	books *exchange.LocalBook
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
		books: exchange.NewLocalBook(),
	}
}

// envelope V5 通用响应
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

// call 发送请求并检查 retCode
func (a *Adapter) call(ctx context.Context, path string, params url.Values, header http.Header) (*envelope, error) {
	body, err := a.REST.Get(ctx, a.RestURL(), path, params, header)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if env.RetCode != 0 {
		return nil, &exchange.APIError{Exchange: Name, Status: http.StatusBadRequest, Code: strconv.Itoa(env.RetCode), Msg: env.RetMsg}
	}
	return &env, nil
}

func (a *Adapter) LoadMarkets(ctx context.Context) (map[string]model.Market, error) {
	env, err := a.call(ctx, "/v5/market/instruments-info", url.Values{"category": {"spot"}}, nil)
	if err != nil {
		return nil, err
	}
	var res struct {
		List []struct {
			Symbol    string `json:"symbol"`
			BaseCoin  string `json:"baseCoin"`
			QuoteCoin string `json:"quoteCoin"`
			Status    string `json:"status"`
		} `json:"list"`
	}
	if err := json.Unmarshal(env.Result, &res); err != nil {
		return nil, fmt.Errorf("decode instruments: %w", err)
	}

	markets := make([]model.Market, 0, len(res.List))
	for _, s := range res.List {
		markets = append(markets, model.Market{
			ID:     s.Symbol,
			Base:   s.BaseCoin,
			Quote:  s.QuoteCoin,
			Active: s.Status == "Trading",
		})
	}
	return a.Markets.Load(markets), nil
}

type tickerData struct {
	Symbol       string `json:"symbol"`
	LastPrice    string `json:"lastPrice"`
	Price24hPcnt string `json:"price24hPcnt"`
	Bid1Price    string `json:"bid1Price"`
	Ask1Price    string `json:"ask1Price"`
	HighPrice24h string `json:"highPrice24h"`
	LowPrice24h  string `json:"lowPrice24h"`
	Volume24h    string `json:"volume24h"`
}

func (a *Adapter) parseTicker(raw json.RawMessage, ts int64) (*model.Ticker, error) {
	var d tickerData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	info := map[string]any{}
	_ = json.Unmarshal(raw, &info)

	return &model.Ticker{
		Symbol: a.Markets.Symbol(d.Symbol),
		Last:   model.ParseDecimal(d.LastPrice),
		// price24hPcnt 为比例，0.0123 = 1.23%
		Percentage: model.ParseDecimal(d.Price24hPcnt).Shift(2),
		Bid:        model.ParseDecimal(d.Bid1Price),
		Ask:        model.ParseDecimal(d.Ask1Price),
		High:       model.ParseDecimal(d.HighPrice24h),
		Low:        model.ParseDecimal(d.LowPrice24h),
		Volume:     model.ParseDecimal(d.Volume24h),
		Timestamp:  ts,
		Info:       info,
	}, nil
}

func (a *Adapter) FetchTicker(ctx context.Context, symbol string) (*model.Ticker, error) {
	id, err := a.Markets.MarketID(symbol)
	if err != nil {
		return nil, err
	}
	env, err := a.call(ctx, "/v5/market/tickers", url.Values{"category": {"spot"}, "symbol": {id}}, nil)
	if err != nil {
		return nil, err
	}
	var res struct {
		List []json.RawMessage `json:"list"`
	}
	if err := json.Unmarshal(env.Result, &res); err != nil {
		return nil, fmt.Errorf("decode tickers: %w", err)
	}
	if len(res.List) == 0 {
		return nil, &exchange.APIError{Exchange: Name, Status: http.StatusNotFound, Msg: "ticker not found: " + symbol}
	}
	return a.parseTicker(res.List[0], env.Time)
}

// FetchBalance GET /v5/account/wallet-balance（X-BAPI 签名）
func (a *Adapter) FetchBalance(ctx context.Context) (map[string]model.Balance, error) {
	creds := a.Credentials()
	params := url.Values{"accountType": {"UNIFIED"}}
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	recvWindow := "5000"

	header := http.Header{}
	header.Set("X-BAPI-API-KEY", creds.APIKey)
	header.Set("X-BAPI-TIMESTAMP", timestamp)
	header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	header.Set("X-BAPI-SIGN", creds.SignHex(timestamp+creds.APIKey+recvWindow+params.Encode()))

	env, err := a.call(ctx, "/v5/account/wallet-balance", params, header)
	if err != nil {
		return nil, err
	}
	var res struct {
		List []struct {
			Coin []struct {
				Coin          string `json:"coin"`
				WalletBalance string `json:"walletBalance"`
				Locked        string `json:"locked"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := json.Unmarshal(env.Result, &res); err != nil {
		return nil, fmt.Errorf("decode wallet balance: %w", err)
	}

	out := make(map[string]model.Balance)
	for _, acct := range res.List {
		for _, c := range acct.Coin {
			total := model.ParseDecimal(c.WalletBalance)
			if total.IsZero() {
				continue
			}
			used := model.ParseDecimal(c.Locked)
			out[c.Coin] = model.Balance{Asset: c.Coin, Free: total.Sub(used), Used: used, Total: total}
		}
	}
	return out, nil
}

func (a *Adapter) stream() *exchange.Stream {
	return a.Stream(a.WsURL(), &protocol{a: a})
}

func (a *Adapter) WatchOrderBook(ctx context.Context, symbol string, limit int) (*model.OrderBook, error) {
	id, err := a.Markets.MarketID(symbol)
	if err != nil {
		return nil, err
	}
	topic := fmt.Sprintf("orderbook.%d.%s", bookDepth, id)
	if _, _, err := a.stream().Watch(ctx, topic); err != nil {
		return nil, err
	}
	ob := a.books.Book(topic, a.Markets.Symbol(id), limit, time.Now().UnixMilli())
	if ob == nil {
		return nil, fmt.Errorf("bybit: no order book for %s", symbol)
	}
	return ob, nil
}

func (a *Adapter) WatchTicker(ctx context.Context, symbol string) (*model.Ticker, error) {
	id, err := a.Markets.MarketID(symbol)
	if err != nil {
		return nil, err
	}
	_, payload, err := a.stream().Watch(ctx, "tickers."+id)
	if err != nil {
		return nil, err
	}
	t, ok := payload.(*model.Ticker)
	if !ok {
		return nil, fmt.Errorf("bybit: unexpected ticker payload %T", payload)
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
		topics = append(topics, "tickers."+id)
	}
	if _, _, err := a.stream().Watch(ctx, topics...); err != nil {
		return nil, err
	}
	return a.Tickers(symbols), nil
}

func (a *Adapter) WatchOHLCV(ctx context.Context, symbol, timeframe string, since int64, limit int) ([]model.OHLCV, error) {
	interval, ok := intervals[timeframe]
	if !ok {
		return nil, &exchange.APIError{Exchange: Name, Status: http.StatusBadRequest, Msg: "unsupported timeframe " + timeframe}
	}
	id, err := a.Markets.MarketID(symbol)
	if err != nil {
		return nil, err
	}
	topic := "kline." + interval + "." + id
	if _, _, err := a.stream().Watch(ctx, topic); err != nil {
		return nil, err
	}
	return a.Candles.Get(topic, since, limit), nil
}
