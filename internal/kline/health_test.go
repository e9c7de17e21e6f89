package kline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestHealthReporterSummary(t *testing.T) {
	clock := &testClock{now: time.UnixMilli(100 * width30)}
	universe := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	h := NewHealthReporter(iv30m, func() []string { return universe }, clock.Now)

	open := 100 * width30
	h.Track("BTCUSDT", open)
	h.Track("ETHUSDT", open)
	h.Track("ETHUSDT", open)

	s := h.Summary(open)
	assert.Equal(t, 2, s.Updated)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, []string{"SOLUSDT"}, s.Missing)
	assert.False(t, s.Complete())

	h.Track("SOLUSDT", open)
	assert.True(t, h.Summary(open).Complete())
}

func TestHealthReporterReportsOncePerMinuteAndPrunes(t *testing.T) {
	clock := &testClock{now: time.UnixMilli(100 * width30)}
	h := NewHealthReporter(iv30m, func() []string { return []string{"BTCUSDT"} }, clock.Now)

	h.Track("BTCUSDT", 99*width30)
	h.Track("BTCUSDT", 100*width30)
	assert.Equal(t, 2, h.Tracked())

	// 跨分钟后输出汇总，并清理更早的开盘时间
	clock.Advance(time.Minute)
	h.Tick()
	assert.Equal(t, 1, h.Tracked())

	// 超过两个周期的记录被清理
	clock.Advance(2*iv30m.Duration() + time.Minute)
	h.Tick()
	assert.Equal(t, 0, h.Tracked())

	h.Track("BTCUSDT", 200*width30)
	h.Reset()
	assert.Equal(t, 0, h.Tracked())
}
