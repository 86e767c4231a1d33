package model

import (
	"errors"
	"fmt"
	"strings"
)

// Kind 行情数据类型
type Kind string

const (
	KindOrderBook Kind = "OrderBook"
	KindTicker    Kind = "Ticker"
	KindOHLCV     Kind = "OHLCV"
	KindTickers   Kind = "Tickers"
)

const (
	keySep    = ":"
	symbolSep = ","
)

var (
	ErrUnknownKind  = errors.New("unknown market data kind")
	ErrMalformedKey = errors.New("malformed composite key")
)

// CompositeKey 行情订阅描述符，String() 为其规范编码
type CompositeKey struct {
	Kind      Kind     `json:"type"`
	Exchange  string   `json:"exchange"`
	Symbol    string   `json:"symbol,omitempty"`
	Symbols   []string `json:"symbols,omitempty"`
	Timeframe string   `json:"timeFrame,omitempty"`
}

type keyCodec struct {
	encode func(k CompositeKey) (string, error)
	decode func(exchange string, rest []string) (CompositeKey, error)
}

// 每种 kind 一对 encode/decode，未知 kind 直接报错
var codecs = map[Kind]keyCodec{
	KindOrderBook: {
		encode: func(k CompositeKey) (string, error) {
			return join(k.Kind, k.Exchange, k.Symbol)
		},
		decode: func(exchange string, rest []string) (CompositeKey, error) {
			if len(rest) != 1 || rest[0] == "" {
				return CompositeKey{}, ErrMalformedKey
			}
			return CompositeKey{Kind: KindOrderBook, Exchange: exchange, Symbol: rest[0]}, nil
		},
	},
	KindTicker: {
		encode: func(k CompositeKey) (string, error) {
			return join(k.Kind, k.Exchange, k.Symbol)
		},
		decode: func(exchange string, rest []string) (CompositeKey, error) {
			if len(rest) != 1 || rest[0] == "" {
				return CompositeKey{}, ErrMalformedKey
			}
			return CompositeKey{Kind: KindTicker, Exchange: exchange, Symbol: rest[0]}, nil
		},
	},
	KindOHLCV: {
		encode: func(k CompositeKey) (string, error) {
			return join(k.Kind, k.Exchange, k.Symbol, k.Timeframe)
		},
		decode: func(exchange string, rest []string) (CompositeKey, error) {
			if len(rest) != 2 || rest[0] == "" || rest[1] == "" {
				return CompositeKey{}, ErrMalformedKey
			}
			return CompositeKey{Kind: KindOHLCV, Exchange: exchange, Symbol: rest[0], Timeframe: rest[1]}, nil
		},
	},
	KindTickers: {
		encode: func(k CompositeKey) (string, error) {
			if len(k.Symbols) == 0 {
				return "", fmt.Errorf("%w: symbols empty", ErrMalformedKey)
			}
			for _, s := range k.Symbols {
				if s == "" || strings.Contains(s, symbolSep) {
					return "", fmt.Errorf("%w: invalid symbol %q", ErrMalformedKey, s)
				}
			}
			return join(k.Kind, k.Exchange, strings.Join(k.Symbols, symbolSep))
		},
		decode: func(exchange string, rest []string) (CompositeKey, error) {
			if len(rest) != 1 || rest[0] == "" {
				return CompositeKey{}, ErrMalformedKey
			}
			return CompositeKey{Kind: KindTickers, Exchange: exchange, Symbols: strings.Split(rest[0], symbolSep)}, nil
		},
	},
}

// Encode 生成规范字符串，例: OHLCV:binance:BTC/USDT:1m
func (k CompositeKey) Encode() (string, error) {
	c, ok := codecs[k.Kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, k.Kind)
	}
	return c.encode(k)
}

// String 便于日志输出，编码失败时返回空串
func (k CompositeKey) String() string {
	s, _ := k.Encode()
	return s
}

// DecodeKey 解析规范字符串
func DecodeKey(s string) (CompositeKey, error) {
	parts := strings.Split(s, keySep)
	if len(parts) < 3 {
		return CompositeKey{}, fmt.Errorf("%w: %q", ErrMalformedKey, s)
	}
	c, ok := codecs[Kind(parts[0])]
	if !ok {
		return CompositeKey{}, fmt.Errorf("%w: %q", ErrUnknownKind, parts[0])
	}
	if parts[1] == "" {
		return CompositeKey{}, fmt.Errorf("%w: %q", ErrMalformedKey, s)
	}
	k, err := c.decode(parts[1], parts[2:])
	if err != nil {
		return CompositeKey{}, fmt.Errorf("%w: %q", err, s)
	}
	return k, nil
}

// ParseKind 解析客户端传入的类型名（大小写不敏感）
func ParseKind(s string) (Kind, error) {
	for k := range codecs {
		if strings.EqualFold(string(k), strings.TrimSpace(s)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func join(kind Kind, fields ...string) (string, error) {
	for _, f := range fields {
		if f == "" {
			return "", fmt.Errorf("%w: %s key has empty field", ErrMalformedKey, kind)
		}
		if strings.Contains(f, keySep) {
			return "", fmt.Errorf("%w: field %q contains %q", ErrMalformedKey, f, keySep)
		}
	}
	return string(kind) + keySep + strings.Join(fields, keySep), nil
}
