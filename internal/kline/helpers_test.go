package kline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"klineflow/internal/model"

	"github.com/gorilla/websocket"
)

var (
	iv30m   = model.MustParseInterval("30m")
	width30 = iv30m.Millis()
)

// makeBars n 根连续K线，收盘价递增，全部已收盘
func makeBars(start int64, n int, width int64) []model.Bar {
	bars := make([]model.Bar, n)
	for i := range bars {
		c := 100 + float64(i)
		bars[i] = model.Bar{
			OpenTime: start + int64(i)*width,
			Open:     c - 1,
			High:     c + 0.5,
			Low:      c - 0.5,
			Close:    c,
			Volume:   1000 + float64(i)*10,
			Closed:   true,
		}
	}
	return bars
}

type fakeExchange struct {
	mu         sync.Mutex
	symbols    []string
	symbolsErr error
	bars       map[string][]model.Bar
	errs       map[string]error
	calls      map[string]int
	inflight   int
	maxFlight  int
	block      chan struct{} // 非 nil 时 Klines 忽略 ctx 阻塞到关闭
	delay      time.Duration
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		bars:  make(map[string][]model.Bar),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeExchange) TradableSymbols(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.symbolsErr != nil {
		return nil, f.symbolsErr
	}
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out, nil
}

func (f *fakeExchange) Klines(ctx context.Context, symbol string, _ model.Interval, limit int) ([]model.Bar, error) {
	f.mu.Lock()
	f.calls[symbol]++
	f.inflight++
	if f.inflight > f.maxFlight {
		f.maxFlight = f.inflight
	}
	block, delay := f.block, f.delay
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if block != nil {
		<-block
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	bars, ok := f.bars[symbol]
	if !ok {
		return nil, errors.New("unknown symbol")
	}
	out := make([]model.Bar, len(bars))
	copy(out, bars)
	return out, nil
}

func (f *fakeExchange) callCount(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

// newWSServer 每个连接交给 handle 处理，返回 ws:// 基地址
func newWSServer(t *testing.T, handle func(path string, conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(r.URL.Path, conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// idleUntilClosed 保持连接直到客户端断开
func idleUntilClosed(_ string, conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
