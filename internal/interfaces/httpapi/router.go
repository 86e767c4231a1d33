package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"xhub/internal/application/port"
	"xhub/internal/application/service"
	"xhub/internal/application/usecase/realtime"
	"xhub/internal/domain/apperr"
	"xhub/internal/domain/model"
)

// Accounts 账户池中 REST 接口用到的部分
type Accounts interface {
	GetOne(ctx context.Context, exchange string, strategy service.Strategy) (port.ExchangeAdapter, error)
	GetSupportedExchanges() []string
}

type StatsSource interface {
	Stats() realtime.Stats
}

// ConnectionCounter ws 连接数
type ConnectionCounter interface {
	Clients() int
}

// SnapshotReader 读取镜像中的最新快照，不存在返回 nil
type SnapshotReader interface {
	Latest(ctx context.Context, key string) (json.RawMessage, error)
}

// HealthCheck 依赖探活，返回 nil 表示正常
type HealthCheck func(ctx context.Context) error

type Deps struct {
	Accounts       Accounts
	Stats          StatsSource
	Connections    ConnectionCounter
	Checks         map[string]HealthCheck
	Snapshots      SnapshotReader // 未启用镜像时为 nil
	Realtime       http.Handler   // ws 入口
	RealtimePath   string
	InterpretError func(err error, exchange string) error
}

const checkTimeout = 2 * time.Second

type handler struct {
	deps Deps
}

// NewRouter 注册 /healthz、/api/* 与 ws 路由
func NewRouter(deps Deps) *gin.Engine {
	if deps.RealtimePath == "" {
		deps.RealtimePath = "/ws"
	}
	if deps.InterpretError == nil {
		deps.InterpretError = func(err error, _ string) error { return err }
	}
	h := &handler{deps: deps}

	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), AccessLog())

	r.GET("/healthz", h.health)
	if deps.Realtime != nil {
		r.GET(deps.RealtimePath, gin.WrapH(deps.Realtime))
	}

	api := r.Group("/api")
	api.GET("/exchanges", h.exchanges)
	api.GET("/exchanges/:exchange/ticker", h.ticker)
	api.GET("/exchanges/:exchange/balance", h.balance)
	if deps.Snapshots != nil {
		api.GET("/snapshots", h.snapshot)
	}
	return r
}

// health 任一依赖探活失败时返回 503
func (h *handler) health(c *gin.Context) {
	status, code := "ok", http.StatusOK
	resp := gin.H{}

	if len(h.deps.Checks) > 0 {
		ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
		defer cancel()

		names := make([]string, 0, len(h.deps.Checks))
		for name := range h.deps.Checks {
			names = append(names, name)
		}
		sort.Strings(names)

		checks := make(map[string]string, len(names))
		for _, name := range names {
			if err := h.deps.Checks[name](ctx); err != nil {
				checks[name] = err.Error()
				status, code = "degraded", http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}
		resp["checks"] = checks
	}
	if h.deps.Stats != nil {
		s := h.deps.Stats.Stats()
		resp["sessions"] = s.Sessions
		resp["activeKeys"] = s.ActiveKeys
	}
	if h.deps.Connections != nil {
		resp["connections"] = h.deps.Connections.Clients()
	}
	resp["status"] = status
	c.JSON(code, resp)
}

func (h *handler) exchanges(c *gin.Context) {
	names := h.deps.Accounts.GetSupportedExchanges()
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"exchanges": names})
}

// adapter 解析 :exchange 与 ?account=，并检查能力
func (h *handler) adapter(c *gin.Context, m port.Method) (port.ExchangeAdapter, bool) {
	exchange := strings.ToLower(c.Param("exchange"))
	strategy, ok := service.ParseStrategy(c.Query("account"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account strategy", "kind": apperr.KindConfiguration})
		return nil, false
	}
	a, err := h.deps.Accounts.GetOne(c.Request.Context(), exchange, strategy)
	if err != nil {
		h.fail(c, exchange, err)
		return nil, false
	}
	if !a.Has(m) {
		h.fail(c, exchange, apperr.UnsupportedOperation(exchange, string(m)))
		return nil, false
	}
	return a, true
}

func (h *handler) ticker(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required", "kind": apperr.KindConfiguration})
		return
	}
	a, ok := h.adapter(c, port.MethodFetchTicker)
	if !ok {
		return
	}
	t, err := a.FetchTicker(c.Request.Context(), symbol)
	if err != nil {
		h.fail(c, a.ID(), err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *handler) balance(c *gin.Context) {
	a, ok := h.adapter(c, port.MethodFetchBalance)
	if !ok {
		return
	}
	b, err := a.FetchBalance(c.Request.Context())
	if err != nil {
		h.fail(c, a.ID(), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exchange": a.ID(), "balances": b})
}

// snapshot GET /api/snapshots?key=Ticker:binance:BTC/USDT
func (h *handler) snapshot(c *gin.Context) {
	key, err := model.DecodeKey(c.Query("key"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": apperr.KindConfiguration})
		return
	}
	raw, err := h.deps.Snapshots.Latest(c.Request.Context(), key.String())
	if err != nil {
		h.fail(c, key.Exchange, err)
		return
	}
	if raw == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot for " + key.String(), "kind": apperr.KindNotFound})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

// fail 按错误分类映射状态码，响应 {error, kind}
func (h *handler) fail(c *gin.Context, exchange string, err error) {
	err = h.deps.InterpretError(err, exchange)
	kind := apperr.KindOf(err)
	var de *apperr.Error
	if !errors.As(err, &de) {
		kind = "internal"
	}
	c.JSON(apperr.HTTPStatus(err), gin.H{"error": err.Error(), "kind": kind})
}
