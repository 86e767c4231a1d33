package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"xhub/internal/application/port"
	"xhub/internal/domain/apperr"
	"xhub/internal/domain/model"
)

// initTimeout 单次交易所初始化的上限，与发起请求的生命周期无关
const initTimeout = 30 * time.Second

// Strategy 账户选择策略
type Strategy int

const (
	// StrategyFirst 池中该交易所的第一个账户
	StrategyFirst Strategy = iota
	// StrategyDefaultAccount 最后一个默认账户
	StrategyDefaultAccount
	// StrategyAllDefaultAccounts 全部默认账户
	StrategyAllDefaultAccounts
	// StrategyAdditionalAccount 最后一个非默认账户
	StrategyAdditionalAccount
)

func (s Strategy) String() string {
	switch s {
	case StrategyFirst:
		return "first"
	case StrategyDefaultAccount:
		return "default"
	case StrategyAllDefaultAccounts:
		return "all_default"
	case StrategyAdditionalAccount:
		return "additional"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// ParseStrategy REST 参数 -> Strategy，空串为 StrategyFirst
func ParseStrategy(s string) (Strategy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first":
		return StrategyFirst, true
	case "default":
		return StrategyDefaultAccount, true
	case "all_default", "all":
		return StrategyAllDefaultAccounts, true
	case "additional":
		return StrategyAdditionalAccount, true
	}
	return StrategyFirst, false
}

// PooledAccount 池中的一个已初始化账户
type PooledAccount struct {
	Identifier string
	Exchange   string
	IsDefault  bool
	Adapter    port.ExchangeAdapter
}

// Select 按策略从池（已按交易所过滤、保持插入顺序）中选取
func (s Strategy) Select(pool []PooledAccount) []PooledAccount {
	if len(pool) == 0 {
		return nil
	}
	switch s {
	case StrategyFirst:
		return pool[:1]
	case StrategyDefaultAccount:
		for i := len(pool) - 1; i >= 0; i-- {
			if pool[i].IsDefault {
				return pool[i : i+1]
			}
		}
	case StrategyAllDefaultAccounts:
		var out []PooledAccount
		for _, p := range pool {
			if p.IsDefault {
				out = append(out, p)
			}
		}
		return out
	case StrategyAdditionalAccount:
		for i := len(pool) - 1; i >= 0; i-- {
			if !pool[i].IsDefault {
				return pool[i : i+1]
			}
		}
	}
	return nil
}

// AccountRegistry 交易所账户池：按 "<exchange>-<isDefault>" 缓存已初始化的客户端
type AccountRegistry struct {
	store   port.CredentialStore
	cipher  port.SecretCipher
	gateway port.AdapterGateway

	mu    sync.RWMutex
	order []string
	pool  map[string]PooledAccount

	init singleflight.Group
}

func NewAccountRegistry(store port.CredentialStore, cipher port.SecretCipher, gateway port.AdapterGateway) *AccountRegistry {
	return &AccountRegistry{
		store:   store,
		cipher:  cipher,
		gateway: gateway,
		pool:    make(map[string]PooledAccount),
	}
}

func normalize(exchange string) string {
	return strings.ToLower(strings.TrimSpace(exchange))
}

// GetByName 返回按策略选出的客户端；池中没有该交易所时先初始化
func (r *AccountRegistry) GetByName(ctx context.Context, exchange string, strategy Strategy) ([]port.ExchangeAdapter, error) {
	name := normalize(exchange)
	if len(r.entries(name)) == 0 {
		if err := r.InitializeExchanges(ctx, name); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Err(err).Str("exchange", name).Msg("some accounts failed to initialize")
		}
	}

	selected := strategy.Select(r.entries(name))
	if len(selected) == 0 {
		return nil, apperr.NoAccount(name)
	}
	out := make([]port.ExchangeAdapter, 0, len(selected))
	for _, p := range selected {
		out = append(out, p.Adapter)
	}
	return out, nil
}

// GetOne GetByName 的第一个结果
func (r *AccountRegistry) GetOne(ctx context.Context, exchange string, strategy Strategy) (port.ExchangeAdapter, error) {
	adapters, err := r.GetByName(ctx, exchange, strategy)
	if err != nil {
		return nil, err
	}
	return adapters[0], nil
}

// InitializeExchanges 为该交易所的全部交易/只读凭证初始化客户端
// 单个凭证失败不影响其他凭证，返回合并后的错误
func (r *AccountRegistry) InitializeExchanges(ctx context.Context, exchange string) error {
	name := normalize(exchange)
	ch := r.init.DoChan(name, func() (any, error) {
		// 不继承调用方的取消，其他等待者共享同一次初始化
		initCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), initTimeout)
		defer cancel()
		return nil, r.initialize(initCtx, name)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *AccountRegistry) initialize(ctx context.Context, name string) error {
	trading, err := r.store.FindCredentialsByExchange(ctx, name)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	readonly, err := r.store.FindReadonlyCredentialsByExchange(ctx, name)
	if err != nil {
		return fmt.Errorf("load readonly credentials: %w", err)
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	// 单个凭证失败不取消其他凭证，故不用 WithContext
	var g errgroup.Group
	for _, cred := range append(trading, readonly...) {
		if cred.Removed {
			continue
		}
		g.Go(func() error {
			if err := r.initAccount(ctx, cred); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (r *AccountRegistry) initAccount(ctx context.Context, cred model.AccountCredential) error {
	name := normalize(cred.Exchange)
	identifier := model.PoolIdentifier(name, cred.IsDefaultAccount)

	secret, err := r.cipher.Decrypt(ctx, cred.EncryptedSecret)
	if err == nil {
		var adapter port.ExchangeAdapter
		adapter, err = r.gateway.InitializeExchange(ctx, identifier, port.InitParams{
			Name:       name,
			Key:        cred.APIKey,
			Secret:     secret,
			Passphrase: cred.Passphrase,
		})
		if err == nil {
			r.put(PooledAccount{Identifier: identifier, Exchange: name, IsDefault: cred.IsDefaultAccount, Adapter: adapter})
			return nil
		}
	}

	r.gateway.Evict(identifier)
	r.remove(identifier)
	log.Error().
		Err(err).
		Str("exchange", name).
		Str("identifier", identifier).
		Int64("credential_id", cred.ID).
		Msg("failed to initialize exchange account")
	return fmt.Errorf("%s: %w", identifier, err)
}

// put 同一标识后写覆盖，保持原有位置
func (r *AccountRegistry) put(p PooledAccount) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pool[p.Identifier]; !ok {
		r.order = append(r.order, p.Identifier)
	}
	r.pool[p.Identifier] = p
}

func (r *AccountRegistry) remove(identifier string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pool[identifier]; !ok {
		return
	}
	delete(r.pool, identifier)
	for i, id := range r.order {
		if id == identifier {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// entries 该交易所在池中的条目，按插入顺序
func (r *AccountRegistry) entries(name string) []PooledAccount {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []PooledAccount
	for _, id := range r.order {
		if p := r.pool[id]; p.Exchange == name {
			out = append(out, p)
		}
	}
	return out
}

// Identifiers 当前池中的全部标识
func (r *AccountRegistry) Identifiers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// GetAPIKeys 解密该交易所全部未删除的交易凭证
func (r *AccountRegistry) GetAPIKeys(ctx context.Context, exchange string) ([]model.APIKey, error) {
	creds, err := r.store.FindCredentialsByExchange(ctx, normalize(exchange))
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	return r.decryptAll(ctx, creds)
}

// GetAPIKeysForOwner 某用户在该交易所的凭证（通常为只读 key）
func (r *AccountRegistry) GetAPIKeysForOwner(ctx context.Context, ownerID, exchange string) ([]model.APIKey, error) {
	creds, err := r.store.FindCredentialsByOwner(ctx, ownerID, normalize(exchange))
	if err != nil {
		return nil, fmt.Errorf("load owner credentials: %w", err)
	}
	return r.decryptAll(ctx, creds)
}

func (r *AccountRegistry) decryptAll(ctx context.Context, creds []model.AccountCredential) ([]model.APIKey, error) {
	out := make([]model.APIKey, 0, len(creds))
	for _, c := range creds {
		if c.Removed {
			continue
		}
		secret, err := r.cipher.Decrypt(ctx, c.EncryptedSecret)
		if err != nil {
			return nil, fmt.Errorf("decrypt credential %d: %w", c.ID, err)
		}
		out = append(out, model.APIKey{
			Exchange:         c.Exchange,
			Key:              c.APIKey,
			Secret:           secret,
			Passphrase:       c.Passphrase,
			IsDefaultAccount: c.IsDefaultAccount,
		})
	}
	return out, nil
}

// GetSupportedExchanges 已初始化过的交易所名
func (r *AccountRegistry) GetSupportedExchanges() []string {
	return r.gateway.KnownExchanges()
}
