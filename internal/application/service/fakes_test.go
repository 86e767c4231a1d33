package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"xhub/internal/application/port"
	"xhub/internal/domain/apperr"
	"xhub/internal/domain/model"
)

type fakeStore struct {
	creds []model.AccountCredential
	calls atomic.Int32
}

func (s *fakeStore) find(exchange string, kind model.CredentialKind) []model.AccountCredential {
	var out []model.AccountCredential
	for _, c := range s.creds {
		if c.Exchange == exchange && c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func (s *fakeStore) FindCredentialsByExchange(_ context.Context, exchange string) ([]model.AccountCredential, error) {
	s.calls.Add(1)
	return s.find(exchange, model.CredentialTrading), nil
}

func (s *fakeStore) FindReadonlyCredentialsByExchange(_ context.Context, exchange string) ([]model.AccountCredential, error) {
	return s.find(exchange, model.CredentialReadonly), nil
}

func (s *fakeStore) FindCredentialsByOwner(_ context.Context, owner, exchange string) ([]model.AccountCredential, error) {
	var out []model.AccountCredential
	for _, c := range s.creds {
		if c.Exchange == exchange && c.OwnerID == owner {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeStore) InsertCredential(_ context.Context, c *model.AccountCredential) error {
	s.creds = append(s.creds, *c)
	return nil
}

func (s *fakeStore) Close() error { return nil }

// fakeCipher "enc:" 前缀即为密文
type fakeCipher struct{}

func (fakeCipher) Encrypt(_ context.Context, p string) (string, error) { return "enc:" + p, nil }

func (fakeCipher) Decrypt(_ context.Context, c string) (string, error) {
	if !strings.HasPrefix(c, "enc:") {
		return "", apperr.CipherFormat("missing prefix")
	}
	return strings.TrimPrefix(c, "enc:"), nil
}

type fakeGateway struct {
	mu       sync.Mutex
	inits    map[string]int
	evicted  []string
	known    map[string]bool
	failKeys map[string]bool
	adapter  func(p port.InitParams) *fakeAdapter
	block    chan struct{} // 非 nil 时初始化阻塞到关闭
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		inits:    make(map[string]int),
		known:    make(map[string]bool),
		failKeys: make(map[string]bool),
	}
}

func (g *fakeGateway) InitializeExchange(ctx context.Context, identifier string, p port.InitParams) (port.ExchangeAdapter, error) {
	if g.block != nil {
		<-g.block
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inits[identifier]++
	g.known[identifier] = true
	if g.failKeys[p.Key] {
		return nil, apperr.Network(p.Name, errors.New("connection refused"))
	}
	if g.adapter != nil {
		return g.adapter(p), nil
	}
	return newFakeAdapter(p.Name, p.Key), nil
}

func (g *fakeGateway) Evict(identifier string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.evicted = append(g.evicted, identifier)
	delete(g.known, identifier)
}

func (g *fakeGateway) KnownExchanges() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for id := range g.known {
		name := id[:strings.LastIndex(id, "-")]
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// fakeAdapter 每次 Watch* 从 updates 读取一条；watchErrs 非空时先依次返回错误
type fakeAdapter struct {
	port.ExchangeAdapter // 未实现的方法 panic

	name string
	key  string
	caps map[port.Method]bool

	updates   chan any
	mu        sync.Mutex
	watchErrs []error
	calls     atomic.Int32
	inflight  atomic.Int32
	maxFlight atomic.Int32
}

func newFakeAdapter(name, key string) *fakeAdapter {
	return &fakeAdapter{
		name: name,
		key:  key,
		caps: map[port.Method]bool{
			port.MethodWatchOrderBook: true,
			port.MethodWatchTicker:    true,
			port.MethodWatchTickers:   true,
			port.MethodWatchOHLCV:     true,
			port.MethodFetchTicker:    true,
		},
		updates: make(chan any, 64),
	}
}

func (a *fakeAdapter) ID() string             { return a.name }
func (a *fakeAdapter) Has(m port.Method) bool { return a.caps[m] }
func (a *fakeAdapter) SetSandboxMode(bool)    {}
func (a *fakeAdapter) Close() error           { return nil }

func (a *fakeAdapter) next(ctx context.Context) (any, error) {
	a.calls.Add(1)
	n := a.inflight.Add(1)
	defer a.inflight.Add(-1)
	for {
		cur := a.maxFlight.Load()
		if n <= cur || a.maxFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	a.mu.Lock()
	if len(a.watchErrs) > 0 {
		err := a.watchErrs[0]
		a.watchErrs = a.watchErrs[1:]
		a.mu.Unlock()
		return nil, err
	}
	a.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case v := <-a.updates:
		return v, nil
	}
}

func (a *fakeAdapter) WatchTicker(ctx context.Context, symbol string) (*model.Ticker, error) {
	v, err := a.next(ctx)
	if err != nil {
		return nil, err
	}
	return v.(*model.Ticker), nil
}

func (a *fakeAdapter) WatchOrderBook(ctx context.Context, symbol string, limit int) (*model.OrderBook, error) {
	v, err := a.next(ctx)
	if err != nil {
		return nil, err
	}
	return v.(*model.OrderBook), nil
}

func (a *fakeAdapter) WatchTickers(ctx context.Context, symbols []string) (map[string]*model.Ticker, error) {
	v, err := a.next(ctx)
	if err != nil {
		return nil, err
	}
	return v.(map[string]*model.Ticker), nil
}

func (a *fakeAdapter) WatchOHLCV(ctx context.Context, symbol, tf string, since int64, limit int) ([]model.OHLCV, error) {
	v, err := a.next(ctx)
	if err != nil {
		return nil, err
	}
	return v.([]model.OHLCV), nil
}

// fakeResolver 始终返回同一个 adapter
type fakeResolver struct {
	adapter port.ExchangeAdapter
	err     error
}

func (r *fakeResolver) GetOne(context.Context, string, Strategy) (port.ExchangeAdapter, error) {
	return r.adapter, r.err
}

func waitFor(d time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
