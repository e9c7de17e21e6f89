package logger

import (
	"klineflow/conf"
	"os"
	"strings"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	base    = zap.NewNop()
	sugared = base.Sugar()
)

// InitLogger 根据配置初始化全局日志：文件滚动 + 可选控制台输出
func InitLogger(cfg *conf.LogConfig, appName string) {
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = "2006-01-02 15:04:05.000"
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeFormat)
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.TimeKey = "time"

	level := parseLevel(cfg.Level)

	var cores []zapcore.Core
	if cfg.FileName != "" {
		writer := &lumberjack.Logger{
			Filename:   cfg.FileName,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
			LocalTime:  cfg.LocalTime,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(writer), level))
	}
	if cfg.Console || len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), level))
	}

	base = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)).
		With(zap.String("app", appName))
	sugared = base.Sugar()
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// L 返回底层 zap.Logger，用于结构化字段
func L() *zap.Logger {
	return base
}

// With 返回附带字段的 SugaredLogger
func With(args ...interface{}) *zap.SugaredLogger {
	return sugared.With(args...)
}

func Debugf(format string, args ...interface{}) {
	sugared.Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	sugared.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	sugared.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	sugared.Errorf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	sugared.Fatalf(format, args...)
}

// Sync 刷新缓冲日志，进程退出前调用
func Sync() {
	_ = base.Sync()
}
