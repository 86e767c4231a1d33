package port

import (
	"context"

	"xhub/internal/domain/model"
)

// Method 适配器能力名，与 has[method] 一一对应
type Method string

const (
	MethodLoadMarkets    Method = "loadMarkets"
	MethodFetchTicker    Method = "fetchTicker"
	MethodFetchBalance   Method = "fetchBalance"
	MethodWatchOrderBook Method = "watchOrderBook"
	MethodWatchTicker    Method = "watchTicker"
	MethodWatchTickers   Method = "watchTickers"
	MethodWatchOHLCV     Method = "watchOHLCV"
	MethodSandbox        Method = "sandbox"
)

// ExchangeAdapter 单个账户的交易所客户端
// Watch* 方法阻塞直到交易所推送下一次更新或出错
type ExchangeAdapter interface {
	ID() string
	Has(m Method) bool
	SetSandboxMode(enabled bool)

	LoadMarkets(ctx context.Context) (map[string]model.Market, error)
	FetchTicker(ctx context.Context, symbol string) (*model.Ticker, error)
	FetchBalance(ctx context.Context) (map[string]model.Balance, error)

	WatchOrderBook(ctx context.Context, symbol string, limit int) (*model.OrderBook, error)
	WatchTicker(ctx context.Context, symbol string) (*model.Ticker, error)
	WatchTickers(ctx context.Context, symbols []string) (map[string]*model.Ticker, error)
	WatchOHLCV(ctx context.Context, symbol, timeframe string, since int64, limit int) ([]model.OHLCV, error)

	Close() error
}

// InitParams 初始化单个账户客户端的参数
type InitParams struct {
	Name       string
	Key        string
	Secret     string
	Passphrase string
}

// AdapterGateway 按交易所名构造客户端并维护已初始化的标识
type AdapterGateway interface {
	InitializeExchange(ctx context.Context, identifier string, p InitParams) (ExchangeAdapter, error)
	Evict(identifier string)
	KnownExchanges() []string
}
