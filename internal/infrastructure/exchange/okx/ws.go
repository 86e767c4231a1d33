package okx

import (
	"encoding/json"
	"strings"

	"xhub/internal/domain/model"
	"xhub/internal/infrastructure/exchange"
)

type protocol struct {
	a *Adapter
}

type subArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type subReq struct {
	Op   string   `json:"op"`
	Args []subArg `json:"args"`
}

type wsMsg struct {
	Event string          `json:"event"`
	Code  string          `json:"code"`
	Msg   string          `json:"msg"`
	Arg   subArg          `json:"arg"`
	Data  json.RawMessage `json:"data"`
}

type bookData struct {
	Asks  [][]string `json:"asks"`
	Bids  [][]string `json:"bids"`
	Ts    string     `json:"ts"`
	SeqID int64      `json:"seqId"`
}

// topicOf channel:instId，例: books5:BTC-USDT
func topicOf(channel, instID string) string {
	return channel + ":" + instID
}

func (p *protocol) SubscribeMessages(topics []string) ([][]byte, error) {
	args := make([]subArg, 0, len(topics))
	for _, t := range topics {
		channel, instID, _ := strings.Cut(t, ":")
		args = append(args, subArg{Channel: channel, InstID: instID})
	}
	b, err := json.Marshal(subReq{Op: "subscribe", Args: args})
	if err != nil {
		return nil, err
	}
	return [][]byte{b}, nil
}

// KeepAlive okx 要求 30s 内发送文本 "ping"
func (p *protocol) KeepAlive() []byte { return []byte("ping") }

func (p *protocol) Handle(msg []byte) (string, any, bool, error) {
	if string(msg) == "pong" {
		return "", nil, false, nil
	}
	var m wsMsg
	if err := json.Unmarshal(msg, &m); err != nil {
		return "", nil, false, nil
	}
	if m.Event == "error" {
		topic := ""
		if m.Arg.Channel != "" {
			topic = topicOf(m.Arg.Channel, m.Arg.InstID)
		}
		return topic, nil, false, &exchange.APIError{Exchange: Name, Status: 400, Code: m.Code, Msg: m.Msg}
	}
	if m.Event != "" || m.Arg.Channel == "" || len(m.Data) == 0 {
		return "", nil, false, nil
	}

	topic := topicOf(m.Arg.Channel, m.Arg.InstID)
	symbol := p.a.Markets.Symbol(m.Arg.InstID)

	switch {
	case strings.HasPrefix(m.Arg.Channel, "books"):
		var list []bookData
		if err := json.Unmarshal(m.Data, &list); err != nil || len(list) == 0 {
			return topic, nil, false, err
		}
		d := list[0]
		return topic, &model.OrderBook{
			Symbol:    symbol,
			Bids:      exchange.Levels(d.Bids),
			Asks:      exchange.Levels(d.Asks),
			Timestamp: exchange.ParseMillis(d.Ts),
			Nonce:     d.SeqID,
		}, true, nil

	case m.Arg.Channel == "tickers":
		var list []json.RawMessage
		if err := json.Unmarshal(m.Data, &list); err != nil || len(list) == 0 {
			return topic, nil, false, err
		}
		tk, err := p.a.parseTicker(list[0])
		if err != nil {
			return topic, nil, false, err
		}
		p.a.StoreTicker(tk)
		return topic, tk, true, nil

	case strings.HasPrefix(m.Arg.Channel, "candle"):
		var rows [][]string
		if err := json.Unmarshal(m.Data, &rows); err != nil {
			return topic, nil, false, err
		}
		for _, r := range rows {
			if len(r) < 6 {
				continue
			}
			p.a.Candles.Update(topic, model.OHLCV{
				Timestamp: exchange.ParseMillis(r[0]),
				Open:      model.ParseDecimal(r[1]),
				High:      model.ParseDecimal(r[2]),
				Low:       model.ParseDecimal(r[3]),
				Close:     model.ParseDecimal(r[4]),
				Volume:    model.ParseDecimal(r[5]),
			})
		}
		return topic, nil, len(rows) > 0, nil
	}
	return "", nil, false, nil
}
