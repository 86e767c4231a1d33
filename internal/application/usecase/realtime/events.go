package realtime

import (
	"strings"

	"xhub/internal/domain/model"
)

// 客户端 -> 服务端事件
const (
	EventSubscribeOrderBook = "subscribeOrderBook"
	EventSubscribeTicker    = "subscribeTicker"
	EventSubscribeTickers   = "subscribeTickers"
	EventSubscribeOHLCV     = "subscribeOHLCV"
	EventUnsubscribe        = "unsubscribeData"
)

// 服务端 -> 客户端事件；行情事件为 "<Kind>Data"
const (
	EventConnected = "connected"
	EventError     = "error"
)

const defaultTimeframe = "1m"

// subscribeEvents 订阅事件 -> 数据类型
var subscribeEvents = map[string]model.Kind{
	EventSubscribeOrderBook: model.KindOrderBook,
	EventSubscribeTicker:    model.KindTicker,
	EventSubscribeTickers:   model.KindTickers,
	EventSubscribeOHLCV:     model.KindOHLCV,
}

// DataEvent 行情推送事件名，例: TickerData
func DataEvent(kind model.Kind) string {
	return string(kind) + "Data"
}

// SubscribeRequest subscribe* 事件的 data
type SubscribeRequest struct {
	Exchange  string   `json:"exchange"`
	Symbol    string   `json:"symbol,omitempty"`
	Symbols   []string `json:"symbols,omitempty"`
	TimeFrame string   `json:"timeFrame,omitempty"`
	Since     int64    `json:"since,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

// UnsubscribeRequest unsubscribeData 事件的 data
type UnsubscribeRequest struct {
	Type      string   `json:"type"`
	Exchange  string   `json:"exchange"`
	Symbol    string   `json:"symbol,omitempty"`
	Symbols   []string `json:"symbols,omitempty"`
	TimeFrame string   `json:"timeFrame,omitempty"`
}

type ConnectedPayload struct {
	ClientID string `json:"clientId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// buildKey 交易所名转小写、符号转大写；OHLCV 缺省周期 1m
func buildKey(kind model.Kind, exchange, symbol string, symbols []string, timeframe string) (model.CompositeKey, error) {
	k := model.CompositeKey{
		Kind:     kind,
		Exchange: strings.ToLower(strings.TrimSpace(exchange)),
	}
	switch kind {
	case model.KindOrderBook, model.KindTicker:
		k.Symbol = normalizeSymbol(symbol)
	case model.KindOHLCV:
		k.Symbol = normalizeSymbol(symbol)
		k.Timeframe = strings.TrimSpace(timeframe)
		if k.Timeframe == "" {
			k.Timeframe = defaultTimeframe
		}
	case model.KindTickers:
		k.Symbols = make([]string, 0, len(symbols))
		for _, s := range symbols {
			if s = normalizeSymbol(s); s != "" {
				k.Symbols = append(k.Symbols, s)
			}
		}
	default:
		return model.CompositeKey{}, model.ErrUnknownKind
	}
	if _, err := k.Encode(); err != nil {
		return model.CompositeKey{}, err
	}
	return k, nil
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
