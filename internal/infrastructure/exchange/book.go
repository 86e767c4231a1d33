package exchange

import (
	"sync"

	"xhub/internal/domain/model"
)

// LocalBook 增量订单簿（snapshot + delta），数量为 0 的档位删除
type LocalBook struct {
	mu    sync.Mutex
	books map[string]*sideBook
}

type sideBook struct {
	bids map[string]model.PriceLevel
	asks map[string]model.PriceLevel
	seq  int64
}

func NewLocalBook() *LocalBook {
	return &LocalBook{books: make(map[string]*sideBook)}
}

// Snapshot 以全量数据替换 topic 对应的订单簿
func (b *LocalBook) Snapshot(topic string, bids, asks [][]string, seq int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sb := &sideBook{
		bids: make(map[string]model.PriceLevel, len(bids)),
		asks: make(map[string]model.PriceLevel, len(asks)),
		seq:  seq,
	}
	apply(sb.bids, bids)
	apply(sb.asks, asks)
	b.books[topic] = sb
}

// Delta 合并增量；尚无快照时返回 false
func (b *LocalBook) Delta(topic string, bids, asks [][]string, seq int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	sb, ok := b.books[topic]
	if !ok {
		return false
	}
	apply(sb.bids, bids)
	apply(sb.asks, asks)
	sb.seq = seq
	return true
}

// Book 返回排序后的副本，limit<=0 表示全部
func (b *LocalBook) Book(topic, symbol string, limit int, ts int64) *model.OrderBook {
	b.mu.Lock()
	defer b.mu.Unlock()
	sb, ok := b.books[topic]
	if !ok {
		return nil
	}
	ob := &model.OrderBook{
		Symbol:    symbol,
		Bids:      levels(sb.bids, true, limit),
		Asks:      levels(sb.asks, false, limit),
		Timestamp: ts,
		Nonce:     sb.seq,
	}
	return ob
}

func apply(side map[string]model.PriceLevel, raw [][]string) {
	for _, lv := range Levels(raw) {
		key := lv.Price.String()
		if lv.Amount.IsZero() {
			delete(side, key)
			continue
		}
		side[key] = lv
	}
}

func levels(side map[string]model.PriceLevel, desc bool, limit int) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, len(side))
	for _, lv := range side {
		out = append(out, lv)
	}
	model.SortLevels(out, desc)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
