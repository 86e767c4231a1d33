package binance

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"xhub/internal/domain/model"
	"xhub/internal/infrastructure/exchange"
)

// protocol 组合流协议: /stream + SUBSCRIBE，消息格式 {"stream": "...", "data": {...}}
type protocol struct {
	a  *Adapter
	id atomic.Int64
}

type subscribeReq struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type combined struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`

	// 订阅应答 / 错误
	ID   *int64 `json:"id"`
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type depthMsg struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

type tickerMsg struct {
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Last      string `json:"c"`
	Percent   string `json:"P"`
	Bid       string `json:"b"`
	Ask       string `json:"a"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
}

type klineMsg struct {
	Symbol string `json:"s"`
	K      struct {
		Start  int64  `json:"t"`
		Open   string `json:"o"`
		High   string `json:"h"`
		Low    string `json:"l"`
		Close  string `json:"c"`
		Volume string `json:"v"`
	} `json:"k"`
}

func (p *protocol) SubscribeMessages(topics []string) ([][]byte, error) {
	b, err := json.Marshal(subscribeReq{Method: "SUBSCRIBE", Params: topics, ID: p.id.Add(1)})
	if err != nil {
		return nil, err
	}
	return [][]byte{b}, nil
}

func (p *protocol) KeepAlive() []byte { return nil }

func (p *protocol) Handle(msg []byte) (string, any, bool, error) {
	var env combined
	if err := json.Unmarshal(msg, &env); err != nil {
		return "", nil, false, nil
	}
	if env.Stream == "" {
		if env.Code != 0 {
			return "", nil, false, &exchange.APIError{Exchange: Name, Status: 400, Code: strconv.Itoa(env.Code), Msg: env.Msg}
		}
		return "", nil, false, nil
	}

	id, channel, _ := strings.Cut(env.Stream, "@")
	symbol := p.a.Markets.Symbol(strings.ToUpper(id))

	switch {
	case strings.HasPrefix(channel, "depth"):
		var d depthMsg
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return env.Stream, nil, false, err
		}
		return env.Stream, &model.OrderBook{
			Symbol:    symbol,
			Bids:      exchange.Levels(d.Bids),
			Asks:      exchange.Levels(d.Asks),
			Timestamp: time.Now().UnixMilli(),
			Nonce:     d.LastUpdateID,
		}, true, nil

	case channel == "ticker":
		var t tickerMsg
		if err := json.Unmarshal(env.Data, &t); err != nil {
			return env.Stream, nil, false, err
		}
		info := map[string]any{}
		_ = json.Unmarshal(env.Data, &info)
		tk := &model.Ticker{
			Symbol:     symbol,
			Last:       model.ParseDecimal(t.Last),
			Percentage: model.ParseDecimal(t.Percent),
			Bid:        model.ParseDecimal(t.Bid),
			Ask:        model.ParseDecimal(t.Ask),
			High:       model.ParseDecimal(t.High),
			Low:        model.ParseDecimal(t.Low),
			Volume:     model.ParseDecimal(t.Volume),
			Timestamp:  t.EventTime,
			Info:       info,
		}
		p.a.StoreTicker(tk)
		return env.Stream, tk, true, nil

	case strings.HasPrefix(channel, "kline_"):
		var k klineMsg
		if err := json.Unmarshal(env.Data, &k); err != nil {
			return env.Stream, nil, false, err
		}
		candle := model.OHLCV{
			Timestamp: k.K.Start,
			Open:      model.ParseDecimal(k.K.Open),
			High:      model.ParseDecimal(k.K.High),
			Low:       model.ParseDecimal(k.K.Low),
			Close:     model.ParseDecimal(k.K.Close),
			Volume:    model.ParseDecimal(k.K.Volume),
		}
		p.a.Candles.Update(env.Stream, candle)
		return env.Stream, candle, true, nil
	}
	return "", nil, false, nil
}
