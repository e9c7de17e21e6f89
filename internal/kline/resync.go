package kline

import (
	"context"
	"klineflow/internal/exchange"
	"klineflow/pkg/logger"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Resyncer 用 REST 重建某个 symbol 的缓冲区；同一 symbol 的并发请求合并为一次
type Resyncer struct {
	ex      exchange.MarketData
	store   *Store
	candles int
	group   singleflight.Group

	mu   sync.Mutex
	life context.Context
}

func NewResyncer(ex exchange.MarketData, store *Store, candles int) *Resyncer {
	return &Resyncer{ex: ex, store: store, candles: candles, life: context.Background()}
}

// Bind 合并后的请求运行在 ctx 上，与任一调用方的 ctx 无关；ctx 结束时进行中的请求一并取消
func (r *Resyncer) Bind(ctx context.Context) {
	r.mu.Lock()
	r.life = ctx
	r.mu.Unlock()
}

func (r *Resyncer) lifetime() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.life
}

// Resync 调用方取消只影响自己的等待，不影响同一次合并请求中的其他调用方
func (r *Resyncer) Resync(ctx context.Context, symbol string) error {
	life := r.lifetime()
	ch := r.group.DoChan(symbol, func() (interface{}, error) {
		bars, err := fetchWindow(life, r.ex, symbol, r.store.Interval(), r.candles)
		if err != nil {
			return nil, err
		}
		r.store.ReplaceAll(symbol, bars)
		return nil, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			logger.Errorf("[resync] %s failed: %v", symbol, res.Err)
			return res.Err
		}
		logger.Debugf("[resync] %s rebuilt from rest (shared=%v, bars=%d)", symbol, res.Shared, r.store.Len(symbol))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
