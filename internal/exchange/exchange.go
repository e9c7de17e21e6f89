package exchange

import (
	"context"
	"klineflow/internal/model"
)

// MarketData 行情数据源：可交易合约列表和历史K线
type MarketData interface {
	// TradableSymbols 返回当前可交易的 USDT 永续合约
	TradableSymbols(ctx context.Context) ([]string, error)
	// Klines 返回最近 limit 根K线，按开盘时间升序，全部标记为已收盘
	Klines(ctx context.Context, symbol string, interval model.Interval, limit int) ([]model.Bar, error)
}
