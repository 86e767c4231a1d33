package bybit

import (
	"encoding/json"
	"strings"

	"xhub/internal/domain/model"
	"xhub/internal/infrastructure/exchange"
)

type protocol struct {
	a *Adapter
}

type subReq struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

type wsMsg struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	Ts    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`

	// 订阅应答 / pong
	Op      string `json:"op"`
	Success *bool  `json:"success"`
	RetMsg  string `json:"ret_msg"`
}

type bookData struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
	Update int64      `json:"u"`
}

type klineData struct {
	Start  int64  `json:"start"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

// bybit 单次订阅最多 10 个 topic
const maxArgs = 10

func (p *protocol) SubscribeMessages(topics []string) ([][]byte, error) {
	var out [][]byte
	for i := 0; i < len(topics); i += maxArgs {
		end := min(i+maxArgs, len(topics))
		b, err := json.Marshal(subReq{Op: "subscribe", Args: topics[i:end]})
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (p *protocol) KeepAlive() []byte { return []byte(`{"op":"ping"}`) }

func (p *protocol) Handle(msg []byte) (string, any, bool, error) {
	var m wsMsg
	if err := json.Unmarshal(msg, &m); err != nil {
		return "", nil, false, nil
	}
	if m.Topic == "" {
		if m.Success != nil && !*m.Success && m.Op == "subscribe" {
			return "", nil, false, &exchange.APIError{Exchange: Name, Status: 400, Msg: m.RetMsg}
		}
		return "", nil, false, nil
	}

	switch {
	case strings.HasPrefix(m.Topic, "orderbook."):
		var d bookData
		if err := json.Unmarshal(m.Data, &d); err != nil {
			return m.Topic, nil, false, err
		}
		if m.Type == "snapshot" {
			p.a.books.Snapshot(m.Topic, d.Bids, d.Asks, d.Update)
		} else if !p.a.books.Delta(m.Topic, d.Bids, d.Asks, d.Update) {
			return "", nil, false, nil
		}
		return m.Topic, nil, true, nil

	case strings.HasPrefix(m.Topic, "tickers."):
		tk, err := p.a.parseTicker(m.Data, m.Ts)
		if err != nil {
			return m.Topic, nil, false, err
		}
		p.a.StoreTicker(tk)
		return m.Topic, tk, true, nil

	case strings.HasPrefix(m.Topic, "kline."):
		var list []klineData
		if err := json.Unmarshal(m.Data, &list); err != nil {
			return m.Topic, nil, false, err
		}
		for _, k := range list {
			p.a.Candles.Update(m.Topic, model.OHLCV{
				Timestamp: k.Start,
				Open:      model.ParseDecimal(k.Open),
				High:      model.ParseDecimal(k.High),
				Low:       model.ParseDecimal(k.Low),
				Close:     model.ParseDecimal(k.Close),
				Volume:    model.ParseDecimal(k.Volume),
			})
		}
		return m.Topic, nil, len(list) > 0, nil
	}
	return "", nil, false, nil
}
