package kline

import (
	"context"
	"errors"
	"fmt"
	"klineflow/internal/exchange"
	"klineflow/internal/model"
	"klineflow/pkg/logger"
	"klineflow/pkg/utils"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

var ErrNoKlines = errors.New("kline: exchange returned no bars")

// fetchWindow 通过 REST 拉取最近 candles 根K线，末尾一根标记为未收盘
func fetchWindow(ctx context.Context, ex exchange.MarketData, symbol string, interval model.Interval, candles int) ([]model.Bar, error) {
	bars, err := ex.Klines(ctx, symbol, interval, candles)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoKlines, symbol)
	}
	bars[len(bars)-1].Closed = false
	return bars, nil
}

// Loader 启动时批量铺底，每批 concurrency 个，批次之间间隔 batchDelay
type Loader struct {
	ex          exchange.MarketData
	store       *Store
	candles     int
	concurrency int
	batchDelay  time.Duration
}

func NewLoader(ex exchange.MarketData, store *Store, candles, concurrency int, batchDelay time.Duration) *Loader {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Loader{ex: ex, store: store, candles: candles, concurrency: concurrency, batchDelay: batchDelay}
}

// Load 返回加载成功的 symbol；单个 symbol 失败不影响同批其他 symbol，错误汇总返回
func (l *Loader) Load(ctx context.Context, symbols []string) ([]string, error) {
	var (
		mu     sync.Mutex
		errs   error
		loaded = make([]string, 0, len(symbols))
	)

	for start := 0; start < len(symbols); start += l.concurrency {
		end := start + l.concurrency
		if end > len(symbols) {
			end = len(symbols)
		}
		batch := symbols[start:end]

		var g errgroup.Group
		g.SetLimit(l.concurrency)
		for _, symbol := range batch {
			g.Go(func() error {
				err := l.loadSymbol(ctx, symbol)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					logger.Warnf("[loader] %s initial load failed: %v", symbol, err)
					errs = multierr.Append(errs, fmt.Errorf("%s: %w", symbol, err))
					return nil
				}
				loaded = append(loaded, symbol)
				return nil
			})
		}
		_ = g.Wait()

		logger.Debugf("[loader] batch %d-%d done, loaded %d/%d", start, end, len(loaded), len(symbols))
		if ctx.Err() != nil {
			return loaded, multierr.Append(errs, ctx.Err())
		}
		if end < len(symbols) {
			if err := utils.Sleep(ctx, l.batchDelay); err != nil {
				return loaded, multierr.Append(errs, err)
			}
		}
	}
	return loaded, errs
}

func (l *Loader) loadSymbol(ctx context.Context, symbol string) error {
	bars, err := fetchWindow(ctx, l.ex, symbol, l.store.Interval(), l.candles)
	if err != nil {
		return err
	}
	l.store.ReplaceAll(symbol, bars)
	return nil
}
