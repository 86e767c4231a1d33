package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"xhub/internal/application/port"
	"xhub/internal/domain/apperr"
	"xhub/internal/domain/model"
	"xhub/internal/infrastructure/exchange"
)

var tickerKey = model.CompositeKey{Kind: model.KindTicker, Exchange: "binance", Symbol: "BTC/USDT"}

func newTestManager(t *testing.T, a *fakeAdapter) *SubscriptionManager {
	t.Helper()
	m := NewSubscriptionManager(&fakeResolver{adapter: a}, ManagerOptions{RetryDelay: 10 * time.Millisecond})
	t.Cleanup(func() { _ = m.Close() })
	return m
}

type recorder struct {
	mu   sync.Mutex
	data []any
}

func (r *recorder) cb(_ model.CompositeKey, data any) error {
	r.mu.Lock()
	r.data = append(r.data, data)
	r.mu.Unlock()
	return nil
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

func TestHandleSubscriptionSingleFlight(t *testing.T) {
	a := newFakeAdapter("binance", "k")
	m := newTestManager(t, a)
	rec := &recorder{}
	ctx := context.Background()

	started, err := m.HandleSubscription(ctx, SubscriptionRequest{Key: tickerKey}, rec.cb)
	if err != nil || !started {
		t.Fatalf("first subscription should start: %v", err)
	}
	for range 5 {
		started, err = m.HandleSubscription(ctx, SubscriptionRequest{Key: tickerKey}, rec.cb)
		if err != nil || started {
			t.Fatalf("duplicate subscription should be a no-op: started=%v err=%v", started, err)
		}
	}

	a.updates <- &model.Ticker{Symbol: "BTC/USDT"}
	a.updates <- &model.Ticker{Symbol: "BTC/USDT"}
	if !waitFor(time.Second, func() bool { return rec.len() == 2 }) {
		t.Fatalf("expected 2 deliveries, got %d", rec.len())
	}
	if n := a.maxFlight.Load(); n != 1 {
		t.Errorf("expected one upstream stream, saw %d concurrent watches", n)
	}
	if keys := m.ActiveKeys(); len(keys) != 1 || keys[0] != "Ticker:binance:BTC/USDT" {
		t.Errorf("unexpected active keys %v", keys)
	}
}

func TestConcurrentSubscribeStartsOnce(t *testing.T) {
	a := newFakeAdapter("binance", "k")
	m := newTestManager(t, a)

	var started atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.HandleSubscription(context.Background(), SubscriptionRequest{Key: tickerKey}, func(model.CompositeKey, any) error { return nil })
			if err == nil && ok {
				started.Add(1)
			}
		}()
	}
	wg.Wait()
	if n := started.Load(); n != 1 {
		t.Fatalf("expected exactly one start, got %d", n)
	}
}

func TestUnsubscribeRetiresLoop(t *testing.T) {
	a := newFakeAdapter("binance", "k")
	m := newTestManager(t, a)
	rec := &recorder{}
	ctx := context.Background()

	if _, err := m.HandleSubscription(ctx, SubscriptionRequest{Key: tickerKey}, rec.cb); err != nil {
		t.Fatal(err)
	}
	a.updates <- &model.Ticker{}
	if !waitFor(time.Second, func() bool { return rec.len() == 1 }) {
		t.Fatal("first update not delivered")
	}

	key := tickerKey.String()
	m.Unsubscribe(key)
	if m.IsSubscribed(key) {
		t.Fatal("key should be inactive after Unsubscribe")
	}

	// 循环仍阻塞在 watch 中；下一条数据到达后退出且不再投递
	a.updates <- &model.Ticker{}
	time.Sleep(50 * time.Millisecond)
	if rec.len() != 1 {
		t.Errorf("retired subscription delivered data: %d", rec.len())
	}

	calls := a.calls.Load()
	time.Sleep(50 * time.Millisecond)
	if a.calls.Load() != calls {
		t.Error("retired loop kept calling upstream")
	}

	// 重新订阅启动新循环
	started, err := m.HandleSubscription(ctx, SubscriptionRequest{Key: tickerKey}, rec.cb)
	if err != nil || !started {
		t.Fatalf("resubscribe should start a new loop: %v", err)
	}
	a.updates <- &model.Ticker{}
	if !waitFor(time.Second, func() bool { return rec.len() == 2 }) {
		t.Fatal("new loop did not deliver")
	}
}

func TestGenerationGuardPreventsDoubleStreaming(t *testing.T) {
	a := newFakeAdapter("binance", "k")
	m := newTestManager(t, a)
	ctx := context.Background()

	var oldCalls, newCalls atomic.Int32
	if _, err := m.HandleSubscription(ctx, SubscriptionRequest{Key: tickerKey}, func(model.CompositeKey, any) error {
		oldCalls.Add(1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if !waitFor(time.Second, func() bool { return a.inflight.Load() == 1 }) {
		t.Fatal("first loop never reached upstream")
	}

	// 旧循环阻塞期间退订并立即重订
	m.Unsubscribe(tickerKey.String())
	if _, err := m.HandleSubscription(ctx, SubscriptionRequest{Key: tickerKey}, func(model.CompositeKey, any) error {
		newCalls.Add(1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	for range 4 {
		a.updates <- &model.Ticker{}
	}
	if !waitFor(time.Second, func() bool { return newCalls.Load() >= 3 }) {
		t.Fatalf("new loop delivered %d", newCalls.Load())
	}
	if oldCalls.Load() != 0 {
		t.Errorf("stale loop delivered %d updates", oldCalls.Load())
	}
}

func TestCapabilityMissingIsFatal(t *testing.T) {
	a := newFakeAdapter("bitget", "k")
	delete(a.caps, port.MethodWatchTickers)
	m := newTestManager(t, a)

	key := model.CompositeKey{Kind: model.KindTickers, Exchange: "bitget", Symbols: []string{"BTC/USDT"}}
	started, err := m.HandleSubscription(context.Background(), SubscriptionRequest{Key: key}, func(model.CompositeKey, any) error { return nil })
	if started || !errors.Is(err, apperr.ErrUnsupportedOperation) {
		t.Fatalf("expected unsupported operation, got started=%v err=%v", started, err)
	}
	if m.IsSubscribed(key.String()) {
		t.Error("flag should be rolled back")
	}
	if a.calls.Load() != 0 {
		t.Error("no upstream call expected")
	}
}

func TestResolverFailureRollsBack(t *testing.T) {
	m := NewSubscriptionManager(&fakeResolver{err: apperr.NoAccount("binance")}, ManagerOptions{})
	defer m.Close()

	_, err := m.HandleSubscription(context.Background(), SubscriptionRequest{Key: tickerKey}, func(model.CompositeKey, any) error { return nil })
	if !errors.Is(err, apperr.ErrNoAccount) {
		t.Fatalf("expected ErrNoAccount, got %v", err)
	}
	if m.IsSubscribed(tickerKey.String()) {
		t.Error("flag should be rolled back")
	}
}

// blockingResolver GetOne 阻塞到 release 关闭
type blockingResolver struct {
	adapter port.ExchangeAdapter
	err     error
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (r *blockingResolver) GetOne(context.Context, string, Strategy) (port.ExchangeAdapter, error) {
	r.calls.Add(1)
	select {
	case r.entered <- struct{}{}:
	default:
	}
	<-r.release
	return r.adapter, r.err
}

type subResult struct {
	started bool
	err     error
}

func subscribeConcurrently(t *testing.T, m *SubscriptionManager, r *blockingResolver) (subResult, subResult) {
	t.Helper()
	noop := func(model.CompositeKey, any) error { return nil }
	first, second := make(chan subResult, 1), make(chan subResult, 1)

	go func() {
		started, err := m.HandleSubscription(context.Background(), SubscriptionRequest{Key: tickerKey}, noop)
		first <- subResult{started, err}
	}()
	<-r.entered
	go func() {
		started, err := m.HandleSubscription(context.Background(), SubscriptionRequest{Key: tickerKey}, noop)
		second <- subResult{started, err}
	}()

	select {
	case res := <-second:
		t.Fatalf("second caller returned before the first start finished: %+v", res)
	case <-time.After(50 * time.Millisecond):
	}
	close(r.release)
	return <-first, <-second
}

func TestPendingStartFailureSharedWithWaiters(t *testing.T) {
	r := &blockingResolver{err: apperr.NoAccount("binance"), entered: make(chan struct{}, 1), release: make(chan struct{})}
	m := NewSubscriptionManager(r, ManagerOptions{})
	defer m.Close()

	a, b := subscribeConcurrently(t, m, r)
	if a.started || !errors.Is(a.err, apperr.ErrNoAccount) {
		t.Errorf("first caller: %+v", a)
	}
	if b.started || !errors.Is(b.err, apperr.ErrNoAccount) {
		t.Errorf("second caller must see the failed start, got %+v", b)
	}
	if m.IsSubscribed(tickerKey.String()) {
		t.Error("flag should be rolled back")
	}
	if n := r.calls.Load(); n != 1 {
		t.Errorf("resolver calls = %d", n)
	}
}

func TestPendingStartSuccessSharedWithWaiters(t *testing.T) {
	fa := newFakeAdapter("binance", "k")
	r := &blockingResolver{adapter: fa, entered: make(chan struct{}, 1), release: make(chan struct{})}
	m := NewSubscriptionManager(r, ManagerOptions{RetryDelay: 10 * time.Millisecond})
	defer m.Close()

	a, b := subscribeConcurrently(t, m, r)
	if !a.started || a.err != nil {
		t.Errorf("first caller: %+v", a)
	}
	if b.started || b.err != nil {
		t.Errorf("second caller should join the running stream, got %+v", b)
	}
	if !m.IsSubscribed(tickerKey.String()) {
		t.Error("stream should be active")
	}
}

func TestRetryAfterWatchError(t *testing.T) {
	a := newFakeAdapter("binance", "k")
	a.watchErrs = []error{
		&exchange.APIError{Exchange: "binance", Status: 400, Msg: "bad"},
		errors.New("boom"),
	}
	m := newTestManager(t, a)
	rec := &recorder{}

	if _, err := m.HandleSubscription(context.Background(), SubscriptionRequest{Key: tickerKey}, rec.cb); err != nil {
		t.Fatal(err)
	}
	a.updates <- &model.Ticker{Symbol: "BTC/USDT"}
	if !waitFor(time.Second, func() bool { return rec.len() == 1 }) {
		t.Fatal("loop did not recover after errors")
	}
	if n := a.calls.Load(); n < 3 {
		t.Errorf("expected at least 3 upstream calls, got %d", n)
	}
	if !m.IsSubscribed(tickerKey.String()) {
		t.Error("errors must not retire the subscription")
	}
}

func TestCallbackErrorDoesNotRetire(t *testing.T) {
	a := newFakeAdapter("binance", "k")
	m := newTestManager(t, a)

	var calls atomic.Int32
	_, err := m.HandleSubscription(context.Background(), SubscriptionRequest{Key: tickerKey}, func(model.CompositeKey, any) error {
		calls.Add(1)
		return errors.New("emit failed")
	})
	if err != nil {
		t.Fatal(err)
	}
	a.updates <- &model.Ticker{}
	a.updates <- &model.Ticker{}
	if !waitFor(time.Second, func() bool { return calls.Load() == 2 }) {
		t.Fatalf("callback called %d times", calls.Load())
	}
}

func TestWatchTimeout(t *testing.T) {
	a := newFakeAdapter("binance", "k")
	m := NewSubscriptionManager(&fakeResolver{adapter: a}, ManagerOptions{
		RetryDelay:   5 * time.Millisecond,
		WatchTimeout: 20 * time.Millisecond,
	})
	defer m.Close()

	if _, err := m.HandleSubscription(context.Background(), SubscriptionRequest{Key: tickerKey}, func(model.CompositeKey, any) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if !waitFor(time.Second, func() bool { return a.calls.Load() >= 3 }) {
		t.Errorf("timed out watches should be retried, got %d calls", a.calls.Load())
	}
}

func TestCloseStopsLoops(t *testing.T) {
	a := newFakeAdapter("binance", "k")
	m := NewSubscriptionManager(&fakeResolver{adapter: a}, ManagerOptions{})
	if _, err := m.HandleSubscription(context.Background(), SubscriptionRequest{Key: tickerKey}, func(model.CompositeKey, any) error { return nil }); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		_ = m.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
}
