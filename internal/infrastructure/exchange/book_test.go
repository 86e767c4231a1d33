package exchange

import "testing"

func TestLocalBookSnapshotAndDelta(t *testing.T) {
	b := NewLocalBook()
	if b.Delta("t", nil, nil, 1) {
		t.Fatal("delta before snapshot should be rejected")
	}

	b.Snapshot("t", [][]string{{"100", "1"}, {"101", "2"}}, [][]string{{"103", "1"}, {"102", "5"}}, 1)
	b.Delta("t", [][]string{{"101", "0"}, {"99", "3"}}, [][]string{{"102.0", "4"}}, 2)

	ob := b.Book("t", "BTC/USDT", 0, 123)
	if ob == nil {
		t.Fatal("expected book")
	}
	if len(ob.Bids) != 2 || ob.Bids[0].Price.String() != "100" || ob.Bids[1].Price.String() != "99" {
		t.Errorf("unexpected bids: %+v", ob.Bids)
	}
	if len(ob.Asks) != 2 || ob.Asks[0].Price.String() != "102" || ob.Asks[0].Amount.String() != "4" {
		t.Errorf("unexpected asks: %+v", ob.Asks)
	}
	if ob.Nonce != 2 || ob.Timestamp != 123 {
		t.Errorf("unexpected meta: %+v", ob)
	}

	if lim := b.Book("t", "BTC/USDT", 1, 0); len(lim.Bids) != 1 || len(lim.Asks) != 1 {
		t.Errorf("limit not applied: %+v", lim)
	}
}

func TestCandleCache(t *testing.T) {
	c := NewCandleCache(3)
	for _, ts := range []int64{1, 2, 2, 3, 4} {
		c.Update("k", candleAt(ts))
	}
	got := c.Get("k", 0, 0)
	if len(got) != 3 || got[0].Timestamp != 2 || got[2].Timestamp != 4 {
		t.Fatalf("unexpected candles: %+v", got)
	}
	if got := c.Get("k", 3, 0); len(got) != 2 {
		t.Errorf("since filter: %+v", got)
	}
	if got := c.Get("k", 0, 1); len(got) != 1 || got[0].Timestamp != 4 {
		t.Errorf("limit filter: %+v", got)
	}
}
