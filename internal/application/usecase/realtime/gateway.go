package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"xhub/internal/application/port"
	"xhub/internal/application/service"
	"xhub/internal/domain/model"
)

// Subscriptions 订阅管理器中本用例需要的部分
type Subscriptions interface {
	HandleSubscription(ctx context.Context, req service.SubscriptionRequest, cb service.DataCallback) (bool, error)
	Unsubscribe(key string)
	ActiveKeys() []string
}

type Deps struct {
	Subscriptions Subscriptions
	Mirror        port.SnapshotMirror // 可为 nil
	MirrorTimeout time.Duration
}

// Stats 健康检查用计数
type Stats struct {
	Sessions   int `json:"sessions"`
	ActiveKeys int `json:"activeKeys"`
}

// Gateway 客户端会话、兴趣集合与行情广播
// 客户端断开时不会退订其兴趣键，无人关注的流继续运行直到被显式退订
// 同一键的订阅与退订由 keys 串行化，兴趣检查与管理器调用不可被其他客户端穿插
type Gateway struct {
	deps Deps
	keys *keyLocks

	mu       sync.RWMutex
	sessions map[string]port.Emitter
	interest map[string]map[string]struct{}
}

func NewGateway(deps Deps) *Gateway {
	if deps.MirrorTimeout <= 0 {
		deps.MirrorTimeout = 2 * time.Second
	}
	return &Gateway{
		deps:     deps,
		keys:     newKeyLocks(),
		sessions: make(map[string]port.Emitter),
		interest: make(map[string]map[string]struct{}),
	}
}

// Connect 注册会话并发送 connected；id 为空时分配 uuid
func (g *Gateway) Connect(id string, e port.Emitter) string {
	if id == "" {
		id = uuid.NewString()
	}
	g.mu.Lock()
	g.sessions[id] = e
	g.interest[id] = make(map[string]struct{})
	g.mu.Unlock()

	if err := e.Emit(EventConnected, ConnectedPayload{ClientID: id}); err != nil {
		log.Warn().Err(err).Str("client", id).Msg("emit connected failed")
	}
	log.Info().Str("client", id).Msg("client connected")
	return id
}

// Disconnect 删除会话与兴趣集合
func (g *Gateway) Disconnect(clientID string) {
	g.mu.Lock()
	n := len(g.interest[clientID])
	delete(g.sessions, clientID)
	delete(g.interest, clientID)
	g.mu.Unlock()

	log.Info().Str("client", clientID).Int("interests", n).Msg("client disconnected")
}

// HandleEvent 分发客户端事件；错误只回给该客户端
func (g *Gateway) HandleEvent(ctx context.Context, clientID, event string, data json.RawMessage) {
	if kind, ok := subscribeEvents[event]; ok {
		var req SubscribeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			g.emitError(clientID, fmt.Errorf("invalid %s payload: %w", event, err))
			return
		}
		g.Subscribe(ctx, clientID, kind, req)
		return
	}
	if event == EventUnsubscribe {
		var req UnsubscribeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			g.emitError(clientID, fmt.Errorf("invalid %s payload: %w", event, err))
			return
		}
		if err := g.Unsubscribe(clientID, req); err != nil {
			g.emitError(clientID, err)
		}
		return
	}
	g.emitError(clientID, fmt.Errorf("unknown event %q", event))
}

// Subscribe 记录兴趣并确保上游流存在
func (g *Gateway) Subscribe(ctx context.Context, clientID string, kind model.Kind, req SubscribeRequest) {
	key, err := buildKey(kind, req.Exchange, req.Symbol, req.Symbols, req.TimeFrame)
	if err != nil {
		g.emitError(clientID, err)
		return
	}
	keyStr := key.String()
	defer g.keys.lock(keyStr)()

	g.mu.Lock()
	set, ok := g.interest[clientID]
	if ok {
		set[keyStr] = struct{}{}
	}
	g.mu.Unlock()
	if !ok {
		return
	}

	_, err = g.deps.Subscriptions.HandleSubscription(ctx, service.SubscriptionRequest{
		Key:   key,
		Since: req.Since,
		Limit: req.Limit,
	}, g.broadcast)
	if err != nil {
		g.mu.Lock()
		if set, ok := g.interest[clientID]; ok {
			delete(set, keyStr)
		}
		g.mu.Unlock()
		g.emitError(clientID, err)
	}
}

// Unsubscribe 移除兴趣；没有客户端关注时退订上游
func (g *Gateway) Unsubscribe(clientID string, req UnsubscribeRequest) error {
	kind, err := model.ParseKind(req.Type)
	if err != nil {
		return err
	}
	key, err := buildKey(kind, req.Exchange, req.Symbol, req.Symbols, req.TimeFrame)
	if err != nil {
		return err
	}
	keyStr := key.String()
	defer g.keys.lock(keyStr)()

	g.mu.Lock()
	if set, ok := g.interest[clientID]; ok {
		delete(set, keyStr)
	}
	remaining := g.interestedLocked(keyStr)
	g.mu.Unlock()

	if len(remaining) == 0 {
		g.deps.Subscriptions.Unsubscribe(keyStr)
	}
	return nil
}

// Stats 会话数与活跃订阅数
func (g *Gateway) Stats() Stats {
	g.mu.RLock()
	sessions := len(g.sessions)
	g.mu.RUnlock()
	return Stats{Sessions: sessions, ActiveKeys: len(g.deps.Subscriptions.ActiveKeys())}
}

// broadcast 作为订阅回调：整形后推送给所有关注该键的客户端
func (g *Gateway) broadcast(key model.CompositeKey, data any) error {
	payload, ok := reshape(key, data)
	if !ok {
		return fmt.Errorf("unexpected %s payload %T", key.Kind, data)
	}
	keyStr := key.String()
	event := DataEvent(key.Kind)

	g.mu.RLock()
	ids := g.interestedLocked(keyStr)
	targets := make([]port.Emitter, 0, len(ids))
	for _, id := range ids {
		if e, ok := g.sessions[id]; ok {
			targets = append(targets, e)
		}
	}
	g.mu.RUnlock()

	for _, e := range targets {
		if err := e.Emit(event, payload); err != nil {
			log.Debug().Err(err).Str("key", keyStr).Msg("emit failed")
		}
	}

	if g.deps.Mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), g.deps.MirrorTimeout)
		defer cancel()
		if err := g.deps.Mirror.UpsertSnapshot(ctx, keyStr, payload); err != nil {
			log.Warn().Err(err).Str("key", keyStr).Msg("mirror snapshot failed")
		}
	}
	return nil
}

// interestedLocked 调用方需持有 g.mu
func (g *Gateway) interestedLocked(key string) []string {
	var out []string
	for id, set := range g.interest {
		if _, ok := set[key]; ok {
			out = append(out, id)
		}
	}
	return out
}

func (g *Gateway) emitError(clientID string, err error) {
	g.mu.RLock()
	e, ok := g.sessions[clientID]
	g.mu.RUnlock()
	if !ok {
		return
	}
	if emitErr := e.Emit(EventError, ErrorPayload{Message: err.Error()}); emitErr != nil {
		log.Debug().Err(emitErr).Str("client", clientID).Msg("emit error failed")
	}
}
