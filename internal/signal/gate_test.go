package signal

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateSerializesSameKey(t *testing.T) {
	g := NewDedupGate(100, 50)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := g.Acquire("BTCUSDT", 1000)
			defer h.Release()
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 1, g.Len())
}

func TestGateDifferentKeysDoNotBlock(t *testing.T) {
	g := NewDedupGate(100, 50)

	h1 := g.Acquire("BTCUSDT", 1000)
	defer h1.Release()

	done := make(chan struct{})
	go func() {
		h2 := g.Acquire("BTCUSDT", 2000)
		h3 := g.Acquire("ETHUSDT", 1000)
		h2.Release()
		h3.Release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquire on a different key blocked")
	}
}

func TestGateBlocksUntilRelease(t *testing.T) {
	g := NewDedupGate(100, 50)
	h1 := g.Acquire("BTCUSDT", 1000)

	acquired := make(chan *Handle)
	go func() { acquired <- g.Acquire("BTCUSDT", 1000) }()

	select {
	case <-acquired:
		t.Fatal("second acquire must wait")
	case <-time.After(50 * time.Millisecond):
	}

	h1.MarkDelivered()
	h1.Release()
	h1.Release() // 重复释放无副作用

	h2 := <-acquired
	assert.True(t, h2.Delivered())
	h2.Release()
}

func TestGateCleanupKeepsMostRecent(t *testing.T) {
	g := NewDedupGate(100, 50)
	for i := 0; i < 100; i++ {
		g.Acquire("BTCUSDT", int64(i)).Release()
	}
	require.Equal(t, 100, g.Len())

	g.Acquire("BTCUSDT", 100).Release()
	assert.Equal(t, 50, g.Len())

	// 最新的 key 保留，状态仍在
	h := g.Acquire("BTCUSDT", 100)
	h.MarkDelivered()
	h.Release()
	assert.Equal(t, 50, g.Len())

	// 最早的 key 已被回收，重新创建时是未投递状态
	old := g.Acquire("BTCUSDT", 0)
	assert.False(t, old.Delivered())
	old.Release()

	g.Reset()
	assert.Equal(t, 0, g.Len())
}
