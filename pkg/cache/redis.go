package cache

import (
	"context"
	"klineflow/conf"
	"klineflow/pkg/utils"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedis 创建 redis client 并确认可连通
func NewRedis(ctx context.Context, redisCfg conf.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		DB:           redisCfg.Db,
		Addr:         redisCfg.Addr,
		Password:     redisCfg.Password,
		PoolSize:     redisCfg.PoolSize,
		MinIdleConns: redisCfg.MinIdleConns,
	})
	err := utils.Retry(ctx, 3, 500*time.Millisecond, true, func() error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
