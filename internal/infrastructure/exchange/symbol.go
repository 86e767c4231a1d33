package exchange

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"xhub/internal/domain/model"
)

// SymbolMapper 统一符号与交易所原始符号互转
// 例: BTC/USDT <-> BTCUSDT (binance/bybit/bitget), BTC/USDT <-> BTC-USDT (okx)
type SymbolMapper struct {
	exchange string
	sep      string // 无法查表时的回退拼接分隔符

	mu       sync.RWMutex
	byID     map[string]model.Market
	bySymbol map[string]model.Market
}

// NewSymbolMapper 创建转换器，sep 为交易所原始符号的 base/quote 分隔符
func NewSymbolMapper(exchange, sep string) *SymbolMapper {
	return &SymbolMapper{
		exchange: exchange,
		sep:      sep,
		byID:     make(map[string]model.Market),
		bySymbol: make(map[string]model.Market),
	}
}

// Load 用 LoadMarkets 的结果替换映射表
func (m *SymbolMapper) Load(markets []model.Market) map[string]model.Market {
	byID := make(map[string]model.Market, len(markets))
	bySymbol := make(map[string]model.Market, len(markets))
	for _, mk := range markets {
		if mk.ID == "" || mk.Base == "" || mk.Quote == "" {
			continue
		}
		mk.Symbol = mk.Base + "/" + mk.Quote
		byID[strings.ToUpper(mk.ID)] = mk
		bySymbol[mk.Symbol] = mk
	}

	m.mu.Lock()
	m.byID = byID
	m.bySymbol = bySymbol
	m.mu.Unlock()

	out := make(map[string]model.Market, len(bySymbol))
	for k, v := range bySymbol {
		out[k] = v
	}
	return out
}

// MarketID 统一符号 -> 交易所符号；市场已加载但符号不存在时返回交易所错误
func (m *SymbolMapper) MarketID(symbol string) (string, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	m.mu.RLock()
	mk, ok := m.bySymbol[symbol]
	loaded := len(m.bySymbol) > 0
	m.mu.RUnlock()
	if ok {
		return mk.ID, nil
	}
	if loaded {
		return "", &APIError{Exchange: m.exchange, Status: http.StatusBadRequest, Msg: fmt.Sprintf("unknown symbol %s", symbol)}
	}

	base, quote, found := strings.Cut(symbol, "/")
	if !found || base == "" || quote == "" {
		return "", &APIError{Exchange: m.exchange, Status: http.StatusBadRequest, Msg: fmt.Sprintf("bad symbol %s", symbol)}
	}
	return base + m.sep + quote, nil
}

// Symbol 交易所符号 -> 统一符号，未知时原样返回
func (m *SymbolMapper) Symbol(id string) string {
	m.mu.RLock()
	mk, ok := m.byID[strings.ToUpper(id)]
	m.mu.RUnlock()
	if ok {
		return mk.Symbol
	}
	if m.sep != "" {
		if base, quote, found := strings.Cut(id, m.sep); found {
			return base + "/" + quote
		}
	}
	return id
}
