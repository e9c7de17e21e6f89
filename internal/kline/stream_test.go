package kline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"klineflow/internal/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ingestFixture struct {
	ex       *fakeExchange
	store    *Store
	ingestor *Ingestor
	closed   chan string
}

func newIngestFixture(t *testing.T, now func() time.Time, opts StreamOptions) *ingestFixture {
	t.Helper()
	ex := newFakeExchange()
	store := NewStore(iv30m, 100, 2)
	resyncer := NewResyncer(ex, store, 100)
	health := NewHealthReporter(iv30m, func() []string { return []string{"BTCUSDT"} }, now)
	closed := make(chan string, 16)
	in := NewIngestor(opts, store, resyncer, health, now, func(_ context.Context, symbol string) {
		closed <- symbol
	})
	return &ingestFixture{ex: ex, store: store, ingestor: in, closed: closed}
}

func event(openTime int64, closePrice float64, closed bool) []byte {
	return []byte(fmt.Sprintf(`{"e":"kline","s":"BTCUSDT","k":{"t":%d,"o":"1","h":"2","l":"0.5","c":"%g","v":"10","x":%t}}`,
		openTime, closePrice, closed))
}

func TestOnUpdateSequence(t *testing.T) {
	f := newIngestFixture(t, fixedClock(1000+width30), StreamOptions{})
	ctx := context.Background()
	f.store.ReplaceAll("BTCUSDT", []model.Bar{{OpenTime: 1000, Close: 1}})

	// 同一开盘时间：原地更新，长度不变
	f.ingestor.OnUpdate(ctx, "BTCUSDT", event(1000, 1.5, false))
	bars := f.store.Snapshot("BTCUSDT")
	require.Len(t, bars, 1)
	assert.Equal(t, 1.5, bars[0].Close)

	// 下一个开盘时间：追加
	f.ingestor.OnUpdate(ctx, "BTCUSDT", event(1000+width30, 2, false))
	bars = f.store.Snapshot("BTCUSDT")
	require.Len(t, bars, 2)
	assert.Equal(t, 1000+width30, bars[1].OpenTime)
	assert.True(t, bars[0].Closed)
	assert.Zero(t, f.ex.callCount("BTCUSDT"))

	// 跳跃：触发重同步，缓冲区由 REST 重建
	rest := makeBars(5_000_000-2*width30, 3, width30)
	f.ex.bars["BTCUSDT"] = rest
	f.ingestor.OnUpdate(ctx, "BTCUSDT", event(5_000_000, 3, false))
	assert.Equal(t, 1, f.ex.callCount("BTCUSDT"))

	bars = f.store.Snapshot("BTCUSDT")
	require.Len(t, bars, 3)
	assert.Equal(t, rest[2].OpenTime, bars[2].OpenTime)
	assert.False(t, bars[2].Closed)
	assertInvariants(t, bars, width30, 100)
}

func TestOnUpdateEmptyBufferAppends(t *testing.T) {
	f := newIngestFixture(t, fixedClock(1000), StreamOptions{})
	f.ex.errs["BTCUSDT"] = errors.New("rest unavailable")
	f.ingestor.OnUpdate(context.Background(), "BTCUSDT", event(1000, 1, false))
	assert.Equal(t, 1, f.store.Len("BTCUSDT"))
	assert.Equal(t, 1, f.ex.callCount("BTCUSDT"))
}

func TestOnUpdateBackfillsBufferStartedFromStream(t *testing.T) {
	tailOpen := 99 * width30
	f := newIngestFixture(t, fixedClock(tailOpen), StreamOptions{})
	f.ex.bars["BTCUSDT"] = makeBars(0, 100, width30)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.ingestor.OnUpdate(ctx, "BTCUSDT", event(tailOpen, 199+float64(i), false))
	}

	assert.Equal(t, 1, f.ex.callCount("BTCUSDT"))
	bars := f.store.Snapshot("BTCUSDT")
	require.Len(t, bars, 100)
	assert.Equal(t, 201.0, bars[99].Close)
	assert.False(t, bars[99].Closed)
	assertInvariants(t, bars, width30, 100)
	ok, reason := f.store.HealthCheck("BTCUSDT", time.UnixMilli(tailOpen))
	assert.True(t, ok, reason)
}

func TestOnUpdateRetriesBackfillOnClose(t *testing.T) {
	tailOpen := 99 * width30
	f := newIngestFixture(t, fixedClock(tailOpen), StreamOptions{})
	f.ex.bars["BTCUSDT"] = makeBars(0, 100, width30)
	f.ex.errs["BTCUSDT"] = errors.New("rest unavailable")
	ctx := context.Background()

	f.ingestor.OnUpdate(ctx, "BTCUSDT", event(tailOpen, 1, false))
	f.ingestor.OnUpdate(ctx, "BTCUSDT", event(tailOpen, 2, false))
	assert.Equal(t, 1, f.ex.callCount("BTCUSDT"))
	assert.Equal(t, 1, f.store.Len("BTCUSDT"))

	// REST 恢复后，收盘推送再次补齐
	f.ex.mu.Lock()
	delete(f.ex.errs, "BTCUSDT")
	f.ex.mu.Unlock()
	f.ingestor.OnUpdate(ctx, "BTCUSDT", event(tailOpen, 3, true))
	assert.Equal(t, 2, f.ex.callCount("BTCUSDT"))
	assert.Equal(t, 100, f.store.Len("BTCUSDT"))

	// 补齐完成后不再请求
	f.ingestor.OnUpdate(ctx, "BTCUSDT", event(tailOpen+width30, 4, true))
	assert.Equal(t, 2, f.ex.callCount("BTCUSDT"))
	<-f.closed
	<-f.closed
}

func TestOnUpdateDropsMalformed(t *testing.T) {
	f := newIngestFixture(t, fixedClock(1000), StreamOptions{})
	f.store.ReplaceAll("BTCUSDT", []model.Bar{{OpenTime: 1000, Close: 1}})
	before := f.store.Snapshot("BTCUSDT")

	for _, raw := range []string{`not json`, `{"e":"kline"}`, `{"e":"kline","k":{"t":1000,"o":"x","h":"1","l":"1","c":"1","v":"1","x":false}}`} {
		f.ingestor.OnUpdate(context.Background(), "BTCUSDT", []byte(raw))
	}
	assert.Equal(t, before, f.store.Snapshot("BTCUSDT"))
	assert.Zero(t, f.ex.callCount("BTCUSDT"))
}

func TestOnUpdateClosedBarTriggersScan(t *testing.T) {
	f := newIngestFixture(t, fixedClock(1000), StreamOptions{})
	f.store.ReplaceAll("BTCUSDT", []model.Bar{{OpenTime: 1000, Close: 1}})

	f.ingestor.OnUpdate(context.Background(), "BTCUSDT", event(1000, 2, true))
	select {
	case sym := <-f.closed:
		assert.Equal(t, "BTCUSDT", sym)
	case <-time.After(time.Second):
		t.Fatal("closed bar did not trigger scan")
	}

	// 已收盘K线的重复推送被忽略
	f.ingestor.OnUpdate(context.Background(), "BTCUSDT", event(1000, 3, true))
	assert.Equal(t, 2.0, f.store.Snapshot("BTCUSDT")[0].Close)
	assert.Len(t, f.closed, 0)
}

func TestOnUpdateSpacingMismatchResyncs(t *testing.T) {
	f := newIngestFixture(t, fixedClock(3*width30), StreamOptions{})
	f.store.ReplaceAll("BTCUSDT", []model.Bar{{OpenTime: 0}, {OpenTime: 3 * width30}})
	f.ex.bars["BTCUSDT"] = makeBars(0, 4, width30)

	f.ingestor.OnUpdate(context.Background(), "BTCUSDT", event(3*width30, 1, false))
	assert.Equal(t, 1, f.ex.callCount("BTCUSDT"))
	assertInvariants(t, f.store.Snapshot("BTCUSDT"), width30, 100)
}

func TestOnUpdateLaggingResyncs(t *testing.T) {
	f := newIngestFixture(t, fixedClock(10*width30), StreamOptions{})
	f.store.ReplaceAll("BTCUSDT", []model.Bar{{OpenTime: 0}})
	f.ex.bars["BTCUSDT"] = makeBars(8*width30, 3, width30)

	f.ingestor.OnUpdate(context.Background(), "BTCUSDT", event(width30, 1, false))
	assert.Equal(t, 1, f.ex.callCount("BTCUSDT"))
	tail, ok := f.store.Tail("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 10*width30, tail.OpenTime)
}

func TestIngestorStreamsAndReconnects(t *testing.T) {
	var conns int32
	var paths sync.Map
	url := newWSServer(t, func(path string, conn *websocket.Conn) {
		n := atomic.AddInt32(&conns, 1)
		paths.Store(path, true)
		if n == 1 {
			_ = conn.WriteMessage(websocket.TextMessage, event(0, 1, false))
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
			_ = conn.WriteMessage(websocket.TextMessage, event(0, 2, true))
			return // 服务端断开，客户端应重连
		}
		_ = conn.WriteMessage(websocket.TextMessage, event(width30, 3, false))
		idleUntilClosed(path, conn)
	})

	f := newIngestFixture(t, fixedClock(width30), StreamOptions{
		WsURL:          url,
		IdleTimeout:    time.Second,
		Heartbeat:      50 * time.Millisecond,
		ReconnectDelay: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.ingestor.Run(ctx, "BTCUSDT")
		close(done)
	}()

	require.Eventually(t, func() bool { return f.store.Len("BTCUSDT") == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&conns), int32(2))
	_, ok := paths.Load("/btcusdt@kline_30m")
	assert.True(t, ok)

	bars := f.store.Snapshot("BTCUSDT")
	assert.Equal(t, 2.0, bars[0].Close)
	assert.True(t, bars[0].Closed)
	assert.Equal(t, 3.0, bars[1].Close)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ingestor did not stop after cancel")
	}
}

func TestIngestorIdleTimeoutReconnects(t *testing.T) {
	var conns int32
	url := newWSServer(t, func(path string, conn *websocket.Conn) {
		atomic.AddInt32(&conns, 1)
		idleUntilClosed(path, conn)
	})

	f := newIngestFixture(t, fixedClock(0), StreamOptions{
		WsURL:          url,
		IdleTimeout:    50 * time.Millisecond,
		Heartbeat:      time.Second,
		ReconnectDelay: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.ingestor.Run(ctx, "BTCUSDT")

	require.Eventually(t, func() bool { return atomic.LoadInt32(&conns) >= 3 }, 3*time.Second, 10*time.Millisecond)
}
