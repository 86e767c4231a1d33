package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"xhub/internal/application/port"
	"xhub/internal/domain/model"
)

// errSubscriptionRetired 回调发现订阅已失效时返回，只用于结束循环
var errSubscriptionRetired = errors.New("subscription retired")

const defaultRetryDelay = time.Second

// DataCallback 每次上游推送后调用
type DataCallback func(key model.CompositeKey, data any) error

// SubscriptionRequest 一次订阅请求；Since/Limit 只对 OHLCV 与订单簿有效
type SubscriptionRequest struct {
	Key   model.CompositeKey
	Since int64
	Limit int
}

// AdapterResolver 按交易所与策略取客户端
type AdapterResolver interface {
	GetOne(ctx context.Context, exchange string, strategy Strategy) (port.ExchangeAdapter, error)
}

// ManagerOptions 流循环参数
type ManagerOptions struct {
	RetryDelay   time.Duration
	WatchTimeout time.Duration // 0 不限制
	// InterpretError 将适配器错误归类后再记录，nil 时原样记录
	InterpretError func(err error, exchange string) error
}

type subscription struct {
	active   bool
	gen      uint64
	starting *startCall // 非 nil 表示正在解析客户端
}

// startCall 启动中的订阅，后到的调用方等待 done 后共享 err
type startCall struct {
	done chan struct{}
	err  error
}

// SubscriptionManager 每个 CompositeKey 至多一个上游流循环
type SubscriptionManager struct {
	accounts AdapterResolver
	opts     ManagerOptions

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	active  map[string]*subscription
	nextGen uint64
}

func NewSubscriptionManager(accounts AdapterResolver, opts ManagerOptions) *SubscriptionManager {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.InterpretError == nil {
		opts.InterpretError = func(err error, _ string) error { return err }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SubscriptionManager{
		accounts: accounts,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		active:   make(map[string]*subscription),
	}
}

// HandleSubscription 若该键尚无活跃流则启动一个
// 已活跃返回 (false, nil)；取客户端或能力检查失败时回滚并返回错误
func (m *SubscriptionManager) HandleSubscription(ctx context.Context, req SubscriptionRequest, cb DataCallback) (bool, error) {
	key, err := req.Key.Encode()
	if err != nil {
		return false, err
	}
	w, ok := watchers[req.Key.Kind]
	if !ok {
		return false, model.ErrUnknownKind
	}

	m.mu.Lock()
	sub, exists := m.active[key]
	if exists && sub.active {
		call := sub.starting
		m.mu.Unlock()
		if call == nil {
			log.Debug().Str("key", key).Msg("subscription already active")
			return false, nil
		}
		select {
		case <-call.done:
		case <-ctx.Done():
			return false, ctx.Err()
		}
		return false, call.err
	}
	m.nextGen++
	gen := m.nextGen
	if !exists {
		sub = &subscription{}
		m.active[key] = sub
	}
	call := &startCall{done: make(chan struct{})}
	sub.active = true
	sub.gen = gen
	sub.starting = call
	m.mu.Unlock()

	adapter, err := m.accounts.GetOne(ctx, req.Key.Exchange, StrategyFirst)
	if err == nil && !adapter.Has(w.method) {
		err = unsupported(adapter, w.method)
	}
	m.finishStart(key, gen, err)
	call.err = err
	close(call.done)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("subscription rejected")
		return false, err
	}

	wrapped := func(data any) error {
		if !m.current(key, gen) {
			return errSubscriptionRetired
		}
		return cb(req.Key, data)
	}

	m.wg.Add(1)
	go m.run(key, gen, adapter, w, req, wrapped)

	log.Info().Str("key", key).Uint64("gen", gen).Msg("subscription started")
	return true, nil
}

// Unsubscribe 标记失效，循环在下一次回调或迭代边界退出
func (m *SubscriptionManager) Unsubscribe(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.active[key]; ok && sub.active {
		sub.active = false
		log.Info().Str("key", key).Msg("subscription retired")
	}
}

func (m *SubscriptionManager) IsSubscribed(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.active[key]
	return ok && sub.active
}

// ActiveKeys 已排序
func (m *SubscriptionManager) ActiveKeys() []string {
	m.mu.Lock()
	out := make([]string, 0, len(m.active))
	for k, sub := range m.active {
		if sub.active {
			out = append(out, k)
		}
	}
	m.mu.Unlock()
	sort.Strings(out)
	return out
}

// Close 取消全部循环并等待退出
func (m *SubscriptionManager) Close() error {
	m.cancel()
	m.wg.Wait()
	return nil
}

func (m *SubscriptionManager) current(key string, gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.active[key]
	return ok && sub.active && sub.gen == gen
}

// finishStart 清除启动状态；失败时回滚 active
func (m *SubscriptionManager) finishStart(key string, gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.active[key]
	if !ok || sub.gen != gen {
		return
	}
	sub.starting = nil
	if err != nil {
		sub.active = false
	}
}
