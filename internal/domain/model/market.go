package model

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Market 交易所市场元数据（统一符号 BASE/QUOTE）
type Market struct {
	ID     string `json:"id"`     // 交易所原始符号，例: BTCUSDT, BTC-USDT
	Symbol string `json:"symbol"` // 统一符号，例: BTC/USDT
	Base   string `json:"base"`
	Quote  string `json:"quote"`
	Active bool   `json:"active"`
}

// PriceLevel 盘口档位
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// OrderBook 订单簿快照，Bids 价格降序，Asks 价格升序（交易所原始顺序）
type OrderBook struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
	Nonce     int64        `json:"nonce,omitempty"`
}

// SortLevels 按价格排序，desc=true 时降序
func SortLevels(levels []PriceLevel, desc bool) {
	sort.SliceStable(levels, func(i, j int) bool {
		if desc {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
}

// Ticker 24h 行情
type Ticker struct {
	Symbol     string          `json:"symbol"`
	Last       decimal.Decimal `json:"last"`
	Percentage decimal.Decimal `json:"percentage"` // 24h 涨跌幅，百分比
	Bid        decimal.Decimal `json:"bid"`
	Ask        decimal.Decimal `json:"ask"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Volume     decimal.Decimal `json:"baseVolume"`
	Timestamp  int64           `json:"timestamp"`
	Info       map[string]any  `json:"info,omitempty"` // 交易所原始数据
}

// OHLCV K 线
type OHLCV struct {
	Timestamp int64           `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Balance 单币种余额
type Balance struct {
	Asset string          `json:"asset"`
	Free  decimal.Decimal `json:"free"`
	Used  decimal.Decimal `json:"used"`
	Total decimal.Decimal `json:"total"`
}

// ParseDecimal 宽松解析交易所返回的数字字符串，非法值视为 0
func ParseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
