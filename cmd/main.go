package main

import (
	"context"
	"klineflow/cmd/klineflow"
	"klineflow/conf"
	"klineflow/internal/middleware"
	"klineflow/pkg/logger"
	"log"
)

func main() {

	// 加载配置文件
	err := conf.LoadConfig("conf/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	appCfg := conf.AppConfig
	logger.InitLogger(&appCfg.Log, appCfg.AppName)
	defer logger.Sync()

	ctx := context.Background()
	app, err := api.InitApp(ctx, &appCfg)
	if err != nil {
		logger.Fatalf("init app: %v", err)
	}

	// 后台启动K线池，进度通过 /status 查询
	if err := app.Manager.Start(ctx); err != nil {
		logger.Fatalf("start kline manager: %v", err)
	}

	// 创建并启动服务
	srv := api.NewServer(&appCfg)
	srv.RegisterOnShutdown(func() {
		if err := app.Manager.Stop(context.Background()); err != nil {
			logger.Warnf("stop kline manager: %v", err)
		}
		app.Close()
	})
	srv.Run(middleware.NewMiddleware(), app.Router)
}
