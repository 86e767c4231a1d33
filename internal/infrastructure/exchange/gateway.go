package exchange

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"xhub/internal/application/port"
	"xhub/internal/domain/apperr"
)

type InitParams = port.InitParams

// Gateway 交易所名 -> 工厂的映射，负责构造客户端并维护已知标识
type Gateway struct {
	sandbox    bool
	endpoints  map[string]Endpoints
	httpClient *http.Client

	mu        sync.RWMutex
	instances map[string]port.ExchangeAdapter
	disabled  map[string]struct{}
}

var _ port.AdapterGateway = (*Gateway)(nil)

// NewGateway endpoints 为按交易所名（小写）的地址覆盖，可为 nil
func NewGateway(sandbox bool, endpoints map[string]Endpoints, httpClient *http.Client) *Gateway {
	if endpoints == nil {
		endpoints = make(map[string]Endpoints)
	}
	return &Gateway{
		sandbox:    sandbox,
		endpoints:  endpoints,
		httpClient: httpClient,
		instances:  make(map[string]port.ExchangeAdapter),
		disabled:   make(map[string]struct{}),
	}
}

// Disable 关闭的交易所按未知交易所处理
func (g *Gateway) Disable(names ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range names {
		g.disabled[strings.ToLower(n)] = struct{}{}
	}
}

// InitializeExchange 构造客户端并加载市场信息
// 失败时缓存条目保留，由调用方 Evict
func (g *Gateway) InitializeExchange(ctx context.Context, identifier string, p InitParams) (port.ExchangeAdapter, error) {
	name := strings.ToLower(strings.TrimSpace(p.Name))
	g.mu.RLock()
	_, off := g.disabled[name]
	g.mu.RUnlock()
	factory, ok := Lookup(name)
	if !ok || off {
		return nil, apperr.UnknownExchange(p.Name)
	}

	ep := g.endpoints[name]
	adapter := factory(AdapterConfig{
		Credentials:    Credentials{APIKey: p.Key, Secret: p.Secret, Passphrase: p.Passphrase},
		RestURL:        ep.RestURL,
		WsURL:          ep.WsURL,
		SandboxRestURL: ep.SandboxRestURL,
		SandboxWsURL:   ep.SandboxWsURL,
		HTTPClient:     g.httpClient,
	})
	if g.sandbox && adapter.Has(port.MethodSandbox) {
		adapter.SetSandboxMode(true)
	}

	g.mu.Lock()
	g.instances[identifier] = adapter
	g.mu.Unlock()

	if err := Require(adapter, port.MethodLoadMarkets); err != nil {
		return nil, err
	}
	markets, err := adapter.LoadMarkets(ctx)
	if err != nil {
		return nil, InterpretError(err, name)
	}

	log.Info().
		Str("exchange", name).
		Str("identifier", identifier).
		Bool("sandbox", g.sandbox && adapter.Has(port.MethodSandbox)).
		Int("markets", len(markets)).
		Msg("exchange initialized")
	return adapter, nil
}

// Evict 移除标识并关闭对应客户端
func (g *Gateway) Evict(identifier string) {
	g.mu.Lock()
	adapter, ok := g.instances[identifier]
	delete(g.instances, identifier)
	g.mu.Unlock()

	if ok && adapter != nil {
		_ = adapter.Close()
		log.Warn().Str("identifier", identifier).Msg("exchange instance evicted")
	}
}

// KnownExchanges 已缓存标识中去重后的交易所名
func (g *Gateway) KnownExchanges() []string {
	g.mu.RLock()
	seen := make(map[string]struct{}, len(g.instances))
	for id := range g.instances {
		name := id
		if i := strings.LastIndex(id, "-"); i > 0 {
			name = id[:i]
		}
		seen[name] = struct{}{}
	}
	g.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Close 关闭全部客户端
func (g *Gateway) Close() error {
	g.mu.Lock()
	instances := g.instances
	g.instances = make(map[string]port.ExchangeAdapter)
	g.mu.Unlock()

	for _, a := range instances {
		_ = a.Close()
	}
	return nil
}
