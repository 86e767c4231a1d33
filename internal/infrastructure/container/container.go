package container

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"xhub/internal/application/port"
	"xhub/internal/application/service"
	"xhub/internal/application/usecase/realtime"
	"xhub/internal/infrastructure/config"
	"xhub/internal/infrastructure/crypto"
	"xhub/internal/infrastructure/exchange"
	postgresrepo "xhub/internal/infrastructure/storage/postgres"
	redisrepo "xhub/internal/infrastructure/storage/redis"
	sqliterepo "xhub/internal/infrastructure/storage/sqlite"
	"xhub/internal/interfaces/httpapi"
	"xhub/internal/interfaces/ws"

	// 注册交易所适配器
	_ "xhub/internal/infrastructure/exchange/binance"
	_ "xhub/internal/infrastructure/exchange/bitget"
	_ "xhub/internal/infrastructure/exchange/bybit"
	_ "xhub/internal/infrastructure/exchange/okx"
)

// Container 包含所有应用依赖
type Container struct {
	cfg *config.Config

	store       port.CredentialStore
	redisClient *redis.Client
	redisRepo   *redisrepo.Repo
	cipher      *crypto.Cipher
	gateway     *exchange.Gateway
	accounts    *service.AccountRegistry
	manager     *service.SubscriptionManager
	realtime    *realtime.Gateway
	wsServer    *ws.Server
	router      *gin.Engine

	closeOnce   sync.Once
	closerChain []func() error
}

// New 按依赖顺序构建组件，任一步失败会回收已创建的资源
func New(cfg *config.Config) (*Container, error) {
	c := &Container{
		cfg:         cfg,
		closerChain: make([]func() error, 0),
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"storage", c.initStorage},
		{"redis", c.initRedis},
		{"cipher", c.initCipher},
		{"exchange", c.initExchange},
		{"realtime", c.initRealtime},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("%s init failed: %w", s.name, err)
		}
	}
	c.initRouter()
	return c, nil
}

func (c *Container) onClose(name string, fn func() error) {
	c.closerChain = append(c.closerChain, func() error {
		log.Info().Str("component", name).Msg("closing")
		return fn()
	})
}

// initStorage 凭证存储（sqlite 或 postgres）
func (c *Container) initStorage() error {
	switch c.cfg.Storage.Driver {
	case "postgres":
		repo, err := postgresrepo.New(c.cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		c.store = repo
		c.onClose("postgres", repo.Close)
		log.Info().Msg("postgres initialized")
	default:
		repo, err := sqliterepo.New(c.cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		c.store = repo
		c.onClose("sqlite", repo.Close)
		log.Info().Str("path", c.cfg.Storage.SQLitePath).Msg("sqlite initialized")
	}
	return nil
}

// initRedis 可选；用于密钥槽与行情镜像
func (c *Container) initRedis() error {
	if !c.cfg.Redis.Enabled {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.cfg.Redis.Addr,
		Password: c.cfg.Redis.Password,
		DB:       c.cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	c.redisClient = rdb
	c.redisRepo = redisrepo.New(rdb, c.cfg.Redis.Prefix, time.Duration(c.cfg.Redis.TTLSeconds)*time.Second)
	c.onClose("redis", rdb.Close)

	log.Info().
		Str("addr", c.cfg.Redis.Addr).
		Int("db", c.cfg.Redis.DB).
		Msg("redis initialized")
	return nil
}

func (c *Container) initCipher() error {
	var slot port.KeySlot = crypto.NewMemoryKeySlot()
	if c.cfg.Cipher.KeySlot == "redis" {
		if c.redisRepo == nil {
			return fmt.Errorf("redis key slot requires redis")
		}
		slot = c.redisRepo
	}
	c.cipher = crypto.NewCipher(slot)
	log.Info().Str("key_slot", c.cfg.Cipher.KeySlot).Msg("cipher initialized")
	return nil
}

func (c *Container) initExchange() error {
	c.gateway = exchange.NewGateway(c.cfg.App.Sandbox, c.cfg.ExchangeEndpoints(), &http.Client{Timeout: 15 * time.Second})
	c.gateway.Disable(c.cfg.Disabled()...)
	c.onClose("exchange gateway", c.gateway.Close)

	c.accounts = service.NewAccountRegistry(c.store, c.cipher, c.gateway)
	c.manager = service.NewSubscriptionManager(c.accounts, service.ManagerOptions{
		RetryDelay:     c.cfg.RetryDelay(),
		WatchTimeout:   c.cfg.WatchTimeout(),
		InterpretError: exchange.InterpretError,
	})
	c.onClose("subscription manager", c.manager.Close)

	log.Info().
		Strs("exchanges", exchange.Names()).
		Bool("sandbox", c.cfg.App.Sandbox).
		Msg("exchange layer initialized")
	return nil
}

func (c *Container) initRealtime() error {
	deps := realtime.Deps{Subscriptions: c.manager}
	if c.cfg.Redis.Mirror && c.redisRepo != nil {
		deps.Mirror = c.redisRepo
	}
	c.realtime = realtime.NewGateway(deps)
	c.wsServer = ws.NewServer(c.realtime, ws.Options{
		SendBuffer: c.cfg.Realtime.SendBuffer,
		RatePerSec: c.cfg.Realtime.RatePerSec,
		Burst:      c.cfg.Realtime.Burst,
		ReadLimit:  c.cfg.Realtime.ReadLimit,
	})
	// ws 连接先于订阅流关闭
	c.onClose("ws server", c.wsServer.Close)
	return nil
}

func (c *Container) initRouter() {
	if c.cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	deps := httpapi.Deps{
		Accounts:       c.accounts,
		Stats:          c.realtime,
		Connections:    c.wsServer,
		Realtime:       c.wsServer,
		RealtimePath:   c.cfg.Realtime.Path,
		InterpretError: exchange.InterpretError,
	}
	if c.redisRepo != nil {
		deps.Checks = map[string]httpapi.HealthCheck{"redis": c.redisRepo.Ping}
		if c.cfg.Redis.Mirror {
			deps.Snapshots = c.redisRepo
		}
	}
	c.router = httpapi.NewRouter(deps)
}

// Config 获取配置
func (c *Container) Config() *config.Config {
	return c.cfg
}

// Handler HTTP 入口（REST + ws）
func (c *Container) Handler() http.Handler {
	return c.router
}

// Accounts 获取账户池
func (c *Container) Accounts() *service.AccountRegistry {
	return c.accounts
}

// Cipher 获取密钥加解密器
func (c *Container) Cipher() *crypto.Cipher {
	return c.cipher
}

// Store 获取凭证存储
func (c *Container) Store() port.CredentialStore {
	return c.store
}

// Close 关闭所有资源（按后进先出顺序）
func (c *Container) Close() error {
	var err error
	c.closeOnce.Do(func() {
		for i := len(c.closerChain) - 1; i >= 0; i-- {
			if e := c.closerChain[i](); e != nil {
				log.Error().Err(e).Msg("error closing resource")
				if err == nil {
					err = e
				}
			}
		}
		log.Info().Msg("container closed")
	})
	return err
}
