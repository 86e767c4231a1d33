package exchange

import (
	"strconv"
	"strings"
	"time"

	"xhub/internal/domain/model"
)

// Levels 解析 [["price","amount",...]] 形式的盘口
func Levels(raw [][]string) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, len(raw))
	for _, lv := range raw {
		if len(lv) < 2 {
			continue
		}
		out = append(out, model.PriceLevel{
			Price:  model.ParseDecimal(lv[0]),
			Amount: model.ParseDecimal(lv[1]),
		})
	}
	return out
}

// ParseMillis 解析毫秒时间戳字符串，失败返回当前时间
func ParseMillis(s string) int64 {
	if v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil && v > 0 {
		return v
	}
	return time.Now().UnixMilli()
}
