package realtime

import (
	"github.com/shopspring/decimal"

	"xhub/internal/domain/model"
)

type levelView struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

type OrderBookView struct {
	Exchange  string      `json:"exchange"`
	Symbol    string      `json:"symbol"`
	Bids      []levelView `json:"bids"`
	Asks      []levelView `json:"asks"`
	Timestamp int64       `json:"timestamp"`
}

type TickerView struct {
	Exchange   string          `json:"exchange"`
	Symbol     string          `json:"symbol"`
	Last       decimal.Decimal `json:"last"`
	Percentage decimal.Decimal `json:"percentage"`
	Info       map[string]any  `json:"info"`
}

type tickerEntry struct {
	Last       decimal.Decimal `json:"last"`
	Percentage decimal.Decimal `json:"percentage"`
	Info       map[string]any  `json:"info"`
}

type TickersView struct {
	Exchange string                 `json:"exchange"`
	Symbols  []string               `json:"symbols"`
	Tickers  map[string]tickerEntry `json:"tickers"`
}

type OHLCVView struct {
	Exchange  string        `json:"exchange"`
	Symbol    string        `json:"symbol"`
	Timeframe string        `json:"timeframe"`
	Candles   []model.OHLCV `json:"candles"`
}

// reshape 适配器原始数据 -> 推送给客户端的结构
// 订单簿 asks 按价格降序输出
func reshape(key model.CompositeKey, data any) (any, bool) {
	switch key.Kind {
	case model.KindOrderBook:
		ob, ok := data.(*model.OrderBook)
		if !ok || ob == nil {
			return nil, false
		}
		asks := append([]model.PriceLevel(nil), ob.Asks...)
		model.SortLevels(asks, true)
		return OrderBookView{
			Exchange:  key.Exchange,
			Symbol:    key.Symbol,
			Bids:      levels(ob.Bids),
			Asks:      levels(asks),
			Timestamp: ob.Timestamp,
		}, true

	case model.KindTicker:
		t, ok := data.(*model.Ticker)
		if !ok || t == nil {
			return nil, false
		}
		return TickerView{
			Exchange:   key.Exchange,
			Symbol:     key.Symbol,
			Last:       t.Last,
			Percentage: t.Percentage,
			Info:       t.Info,
		}, true

	case model.KindTickers:
		m, ok := data.(map[string]*model.Ticker)
		if !ok {
			return nil, false
		}
		view := TickersView{
			Exchange: key.Exchange,
			Symbols:  key.Symbols,
			Tickers:  make(map[string]tickerEntry, len(m)),
		}
		for sym, t := range m {
			if t == nil {
				continue
			}
			view.Tickers[sym] = tickerEntry{Last: t.Last, Percentage: t.Percentage, Info: t.Info}
		}
		return view, true

	case model.KindOHLCV:
		candles, ok := data.([]model.OHLCV)
		if !ok {
			return nil, false
		}
		if candles == nil {
			candles = []model.OHLCV{}
		}
		return OHLCVView{
			Exchange:  key.Exchange,
			Symbol:    key.Symbol,
			Timeframe: key.Timeframe,
			Candles:   candles,
		}, true
	}
	return nil, false
}

func levels(in []model.PriceLevel) []levelView {
	out := make([]levelView, len(in))
	for i, l := range in {
		out[i] = levelView{Price: l.Price, Amount: l.Amount}
	}
	return out
}
