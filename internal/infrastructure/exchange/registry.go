package exchange

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"xhub/internal/application/port"
)

// AdapterConfig 构造适配器所需参数
type AdapterConfig struct {
	Credentials    Credentials
	RestURL        string // 为空使用交易所默认地址
	WsURL          string
	SandboxRestURL string
	SandboxWsURL   string
	HTTPClient     *http.Client
}

// Factory 适配器工厂函数
type Factory func(cfg AdapterConfig) port.ExchangeAdapter

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register 注册交易所适配器工厂，由各交易所包的 init() 调用
func Register(name string, factory Factory) {
	name = strings.ToLower(strings.TrimSpace(name))
	if factory == nil || name == "" {
		log.Warn().Str("exchange", name).Msg("invalid adapter factory")
		return
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		log.Warn().Str("exchange", name).Msg("adapter factory already registered, overwriting")
	}
	registry[name] = factory
}

// Lookup 按名称查找工厂（大小写不敏感）
func Lookup(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	return f, ok
}

// Names 已注册的交易所
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
