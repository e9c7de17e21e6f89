package api

import (
	"context"
	"fmt"
	"klineflow/conf"
	"klineflow/internal/exchange/binance"
	"klineflow/internal/handler/status"
	"klineflow/internal/kline"
	"klineflow/internal/model"
	"klineflow/internal/router"
	"klineflow/internal/signal"
	"klineflow/pkg/cache"
	"klineflow/pkg/kafka"
	"klineflow/pkg/logger"
	"klineflow/pkg/recorder"
)

// App 进程内唯一的K线池及其信号输出
type App struct {
	Manager *kline.Manager
	Router  Router
	closers []func() error
}

// ManagerOptions 把配置映射为K线池参数
func ManagerOptions(cfg *conf.Config) (kline.Options, error) {
	interval, err := model.ParseInterval(cfg.Trading.Interval)
	if err != nil {
		return kline.Options{}, err
	}
	return kline.Options{
		Interval:     interval,
		FastPeriod:   cfg.Trading.FastPeriod,
		SlowPeriod:   cfg.Trading.SlowPeriod,
		MinScanBars:  cfg.Pool.MinScanBars,
		Candles:      cfg.Candles(),
		MaxBar:       cfg.Pool.MaxBar,
		Concurrency:  cfg.Pool.Concurrency,
		BatchDelay:   cfg.Pool.BatchDelay,
		LagTolerance: cfg.Pool.LagTolerance,
		Stream: kline.StreamOptions{
			WsURL:          cfg.Binance.WsURL,
			IdleTimeout:    cfg.Pool.WsIdleTimeout,
			Heartbeat:      cfg.Pool.WsHeartbeat,
			ReconnectDelay: cfg.Pool.WsReconnect,
			DialTimeout:    cfg.Binance.ConnectTimeout,
		},
		HealthInterval: cfg.Pool.HealthInterval,
		StopTimeout:    cfg.Pool.StopTimeout,
		Symbols:        cfg.Pool.SymbolWhitelist,
	}, nil
}

// BuildDispatcher 日志输出始终开启，其余按配置启用
func (a *App) BuildDispatcher(ctx context.Context, cfg *conf.Config) (*signal.Dispatcher, error) {
	interval := cfg.Trading.Interval
	d := signal.NewDispatcher(signal.LogObserver{})

	if cfg.Signal.RecordFile != "" {
		rec, err := recorder.NewJSONFileRecorder(cfg.Signal.RecordFile)
		if err != nil {
			return nil, fmt.Errorf("open signal record file: %w", err)
		}
		a.closers = append(a.closers, rec.Close)
		d.Register(signal.NewRecorderObserver(rec, interval))
	}

	if cfg.Signal.Redis.Enable {
		rdb, err := cache.NewRedis(ctx, cfg.Signal.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		d.Register(signal.NewRedisObserver(rdb, cfg.Signal.Redis.TTL, cfg.Signal.Redis.Channel, interval))
	}

	if cfg.Signal.Kafka.Enable {
		producer := kafka.NewKafkaProducer(cfg.Signal.Kafka.Broker, cfg.Signal.Kafka.Topic)
		a.closers = append(a.closers, producer.Close)
		d.Register(signal.NewKafkaObserver(producer, interval))
	}
	return d, nil
}

func InitApp(ctx context.Context, cfg *conf.Config) (*App, error) {
	app := &App{}

	client, err := binance.NewClient(binance.Options{
		RestURL:           cfg.Binance.RestURL,
		ConnectTimeout:    cfg.Binance.ConnectTimeout,
		ReadTimeout:       cfg.Binance.ReadTimeout,
		TotalTimeout:      cfg.Binance.TotalTimeout,
		RequestsPerSecond: cfg.Binance.RequestsPerSecond,
		RetryMax:          cfg.Pool.RetryMax,
		RetryBaseDelay:    cfg.Pool.RetryBaseDelay,
	})
	if err != nil {
		return nil, err
	}

	opts, err := ManagerOptions(cfg)
	if err != nil {
		return nil, err
	}
	dispatcher, err := app.BuildDispatcher(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}
	m, err := kline.NewManager(client, opts, dispatcher)
	if err != nil {
		app.Close()
		return nil, err
	}
	logger.Infof("signal observers: %d", dispatcher.Len())

	app.Manager = m
	app.Router = router.NewOpsRouter(status.NewHandler(m))
	return app, nil
}

// Close 释放信号输出占用的资源
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warnf("close resource: %v", err)
		}
	}
	a.closers = nil
}
