package signal

import (
	"context"
	"fmt"
	"klineflow/internal/model"
	"klineflow/pkg/kafka"
	"klineflow/pkg/logger"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newEnvelope(interval string, res model.ScanResult) model.SignalEnvelope {
	return model.SignalEnvelope{
		EventID:  uuid.NewString(),
		Interval: interval,
		SentAt:   time.Now().UnixMilli(),
		Result:   res,
	}
}

// LogObserver 始终启用
type LogObserver struct{}

func (LogObserver) Name() string { return "log" }

func (LogObserver) Deliver(_ context.Context, res model.ScanResult) error {
	logger.Infof("[signal] %s %s trend=%s score=%d fast=%.6f slow=%.6f ma50=%.6f adx=%.2f time=%d",
		res.Symbol, res.State, res.Trend, res.Score, res.MaFast, res.MaSlow, res.Ma50, res.ADX, res.Time)
	return nil
}

type Recorder interface {
	Record(v any) error
}

// RecorderObserver 以 JSON Lines 追加写入文件
type RecorderObserver struct {
	rec      Recorder
	interval string
}

func NewRecorderObserver(rec Recorder, interval string) *RecorderObserver {
	return &RecorderObserver{rec: rec, interval: interval}
}

func (o *RecorderObserver) Name() string { return "recorder" }

func (o *RecorderObserver) Deliver(_ context.Context, res model.ScanResult) error {
	return o.rec.Record(newEnvelope(o.interval, res))
}

// RedisClient *redis.Client 的子集
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisObserver 保存每个合约最新的信号并发布到频道
type RedisObserver struct {
	client   RedisClient
	ttl      time.Duration
	channel  string
	interval string
}

func NewRedisObserver(client RedisClient, ttl time.Duration, channel, interval string) *RedisObserver {
	return &RedisObserver{client: client, ttl: ttl, channel: channel, interval: interval}
}

func (o *RedisObserver) Name() string { return "redis" }

func LatestSignalKey(interval, symbol string) string {
	return fmt.Sprintf("klineflow:signal:%s:%s", interval, symbol)
}

func (o *RedisObserver) Deliver(ctx context.Context, res model.ScanResult) error {
	data, err := json.Marshal(newEnvelope(o.interval, res))
	if err != nil {
		return err
	}
	if err := o.client.Set(ctx, LatestSignalKey(o.interval, res.Symbol), data, o.ttl).Err(); err != nil {
		return err
	}
	if o.channel == "" {
		return nil
	}
	return o.client.Publish(ctx, o.channel, data).Err()
}

// KafkaObserver 以 symbol 为 key 写入信号事件
type KafkaObserver struct {
	producer kafka.ProducerService
	interval string
}

func NewKafkaObserver(producer kafka.ProducerService, interval string) *KafkaObserver {
	return &KafkaObserver{producer: producer, interval: interval}
}

func (o *KafkaObserver) Name() string { return "kafka" }

func (o *KafkaObserver) Deliver(ctx context.Context, res model.ScanResult) error {
	return o.producer.Produce(ctx, []byte(res.Symbol), newEnvelope(o.interval, res))
}
