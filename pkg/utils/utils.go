package utils

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Retry 尝试执行 fn，如果失败则重试，最多 retries 次
// delay 是两次重试之间的间隔，backoff=true 表示指数退避
func Retry(ctx context.Context, retries int, delay time.Duration, backoff bool, fn func() error) error {
	var err error
	for i := 0; i < retries; i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if i < retries-1 { // 最后一次就不用 sleep 了
			sleep := delay
			if backoff {
				sleep = Backoff(delay, i+1)
			}
			if serr := Sleep(ctx, sleep); serr != nil {
				return serr
			}
		}
	}
	return fmt.Errorf("after %d attempts, last error: %w", retries, err)
}

// Backoff base * 2^(attempt-1)，attempt 从 1 开始
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(1<<(attempt-1))
}

// Sleep 可被 ctx 打断的 sleep
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StreamSymbol 交易对转为订阅流使用的小写形式，如 BTCUSDT -> btcusdt
func StreamSymbol(symbol string) string {
	return strings.ToLower(strings.TrimSpace(symbol))
}

// FormatMinute 毫秒时间戳格式化为 HH:MM（本地时区）
func FormatMinute(ms int64) string {
	return time.UnixMilli(ms).Format("15:04")
}
