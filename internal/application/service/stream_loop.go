package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"xhub/internal/application/port"
	"xhub/internal/domain/apperr"
	"xhub/internal/domain/model"
)

type watcher struct {
	method port.Method
	watch  func(ctx context.Context, a port.ExchangeAdapter, req SubscriptionRequest) (any, error)
}

// watchers kind -> 上游 watch 调用
var watchers = map[model.Kind]watcher{
	model.KindOrderBook: {
		method: port.MethodWatchOrderBook,
		watch: func(ctx context.Context, a port.ExchangeAdapter, req SubscriptionRequest) (any, error) {
			return a.WatchOrderBook(ctx, req.Key.Symbol, req.Limit)
		},
	},
	model.KindTicker: {
		method: port.MethodWatchTicker,
		watch: func(ctx context.Context, a port.ExchangeAdapter, req SubscriptionRequest) (any, error) {
			return a.WatchTicker(ctx, req.Key.Symbol)
		},
	},
	model.KindTickers: {
		method: port.MethodWatchTickers,
		watch: func(ctx context.Context, a port.ExchangeAdapter, req SubscriptionRequest) (any, error) {
			return a.WatchTickers(ctx, req.Key.Symbols)
		},
	},
	model.KindOHLCV: {
		method: port.MethodWatchOHLCV,
		watch: func(ctx context.Context, a port.ExchangeAdapter, req SubscriptionRequest) (any, error) {
			return a.WatchOHLCV(ctx, req.Key.Symbol, req.Key.Timeframe, req.Since, req.Limit)
		},
	},
}

func unsupported(a port.ExchangeAdapter, m port.Method) error {
	return apperr.UnsupportedOperation(a.ID(), string(m))
}

// run 订阅有效期间循环 watch；出错等待 RetryDelay 后重试，不限次数
func (m *SubscriptionManager) run(key string, gen uint64, adapter port.ExchangeAdapter, w watcher, req SubscriptionRequest, emit func(any) error) {
	defer m.wg.Done()
	exchange := req.Key.Exchange

	for m.current(key, gen) {
		data, err := m.watchOnce(adapter, w, req)
		if err != nil {
			if m.ctx.Err() != nil {
				return
			}
			log.Error().
				Err(m.opts.InterpretError(err, exchange)).
				Str("key", key).
				Dur("retry_in", m.opts.RetryDelay).
				Msg("watch failed")
			if !m.sleep(m.opts.RetryDelay) {
				return
			}
			continue
		}

		if err := emit(data); err != nil {
			if errors.Is(err, errSubscriptionRetired) {
				break
			}
			log.Error().Err(err).Str("key", key).Msg("subscription callback failed")
		}
	}
	log.Debug().Str("key", key).Uint64("gen", gen).Msg("stream loop exited")
}

func (m *SubscriptionManager) watchOnce(adapter port.ExchangeAdapter, w watcher, req SubscriptionRequest) (any, error) {
	ctx := m.ctx
	if m.opts.WatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.WatchTimeout)
		defer cancel()
	}
	return w.watch(ctx, adapter, req)
}

// sleep 返回 false 表示管理器已关闭
func (m *SubscriptionManager) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-m.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
