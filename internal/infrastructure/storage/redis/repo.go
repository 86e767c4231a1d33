package redis

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"xhub/internal/application/port"
)

// Repo redis 存储：共享的 cipher 密钥槽 + 最新行情镜像
type Repo struct {
	rdb        *redis.Client
	prefix     string
	ttl        time.Duration
	keyLatest  string // prefix + ":latest"
	keyCipher  string // prefix + ":cipher:key"
	updateChan string // prefix + ":latest:pub"
}

func New(rdb *redis.Client, prefix string, ttl time.Duration) *Repo {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "xhub"
	}
	return &Repo{
		rdb:        rdb,
		prefix:     prefix,
		ttl:        ttl,
		keyLatest:  prefix + ":latest",
		keyCipher:  prefix + ":cipher:key",
		updateChan: prefix + ":latest:pub",
	}
}

// Get 读取密钥，未设置时 ok=false
func (r *Repo) Get(ctx context.Context) ([]byte, bool, error) {
	s, err := r.rdb.Get(ctx, r.keyCipher).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	key, err := decodeKey(s)
	if err != nil {
		return nil, false, err
	}
	return key, true, nil
}

// SetIfAbsent SETNX 写入；并发写入时以先到者为准，返回最终生效的密钥
func (r *Repo) SetIfAbsent(ctx context.Context, key []byte) ([]byte, error) {
	if _, err := r.rdb.SetNX(ctx, r.keyCipher, hex.EncodeToString(key), 0).Result(); err != nil {
		return nil, err
	}
	s, err := r.rdb.Get(ctx, r.keyCipher).Result()
	if err != nil {
		return nil, err
	}
	return decodeKey(s)
}

func (r *Repo) Clear(ctx context.Context) error {
	return r.rdb.Del(ctx, r.keyCipher).Err()
}

func decodeKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode cipher key: %w", err)
	}
	return key, nil
}

type snapshotMsg struct {
	Key     string `json:"key"`
	Payload any    `json:"payload"`
	Ts      int64  `json:"ts"`
}

// UpsertSnapshot Hash: field = 订阅键 (Ticker:binance:BTC/USDT) -> json，并发布更新通知
func (r *Repo) UpsertSnapshot(ctx context.Context, key string, payload any) error {
	b, err := json.Marshal(snapshotMsg{Key: key, Payload: payload, Ts: time.Now().UnixMilli()})
	if err != nil {
		return err
	}

	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, r.keyLatest, key, string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyLatest, r.ttl)
	}
	pipe.Publish(ctx, r.updateChan, string(b))
	_, err = pipe.Exec(ctx)
	return err
}

// Latest 读取镜像中的最新快照，不存在返回 nil
func (r *Repo) Latest(ctx context.Context, key string) (json.RawMessage, error) {
	s, err := r.rdb.HGet(ctx, r.keyLatest, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(s), nil
}

func (r *Repo) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

var (
	_ port.KeySlot        = (*Repo)(nil)
	_ port.SnapshotMirror = (*Repo)(nil)
)
