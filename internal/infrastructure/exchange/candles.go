package exchange

import (
	"sync"

	"xhub/internal/domain/model"
)

const defaultCandleCap = 1000

// CandleCache 按 topic 缓存最近的 K 线
type CandleCache struct {
	mu   sync.Mutex
	cap  int
	data map[string][]model.OHLCV
}

func NewCandleCache(capacity int) *CandleCache {
	if capacity <= 0 {
		capacity = defaultCandleCap
	}
	return &CandleCache{cap: capacity, data: make(map[string][]model.OHLCV)}
}

// Update 合并一根 K 线：同一开盘时间覆盖，否则追加
func (c *CandleCache) Update(topic string, k model.OHLCV) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.data[topic]
	n := len(list)
	switch {
	case n > 0 && list[n-1].Timestamp == k.Timestamp:
		list[n-1] = k
	case n > 0 && list[n-1].Timestamp > k.Timestamp:
		// 乱序到达的旧 K 线
		for i := n - 1; i >= 0; i-- {
			if list[i].Timestamp == k.Timestamp {
				list[i] = k
				break
			}
		}
	default:
		list = append(list, k)
	}
	if len(list) > c.cap {
		list = append([]model.OHLCV(nil), list[len(list)-c.cap:]...)
	}
	c.data[topic] = list
}

// Get 返回开盘时间 >= since 的最近 limit 根；since<=0 / limit<=0 表示不限制
func (c *CandleCache) Get(topic string, since int64, limit int) []model.OHLCV {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.data[topic]
	start := 0
	if since > 0 {
		for start < len(list) && list[start].Timestamp < since {
			start++
		}
	}
	out := list[start:]
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return append([]model.OHLCV(nil), out...)
}
