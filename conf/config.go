package conf

import (
	"fmt"
	"klineflow/internal/model"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// 配置加载（交易所地址、K线池参数、信号输出等）

type LogConfig struct {
	Level      string `yaml:"level"`
	FileName   string `yaml:"file-name"`
	TimeFormat string `yaml:"time-format"`
	MaxSize    int    `yaml:"max-size"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAge     int    `yaml:"max-age"`
	Compress   bool   `yaml:"compress"`
	LocalTime  bool   `yaml:"local-time"`
	Console    bool   `yaml:"console"`
}

type BinanceConfig struct {
	RestURL string `yaml:"rest-url" validate:"required,url"`
	WsURL   string `yaml:"ws-url" validate:"required"`
	// 单次 REST 请求的三个超时相互独立
	ConnectTimeout time.Duration `yaml:"connect-timeout" validate:"gt=0"`
	ReadTimeout    time.Duration `yaml:"read-timeout" validate:"gt=0"`
	TotalTimeout   time.Duration `yaml:"total-timeout" validate:"gt=0"`
	// 客户端限速，每秒请求数
	RequestsPerSecond float64 `yaml:"requests-per-second" validate:"gte=0"`
}

type TradingConfig struct {
	Interval   string `yaml:"interval" validate:"required"`
	FastPeriod int    `yaml:"fast-period" validate:"gt=0"`
	SlowPeriod int    `yaml:"slow-period" validate:"gt=0,gtfield=FastPeriod"`
	Candles    int    `yaml:"candles" validate:"gt=0"`
}

type PoolConfig struct {
	MaxBar          int           `yaml:"max-bar" validate:"gt=0"`
	Concurrency     int           `yaml:"concurrency" validate:"gt=0"`
	BatchDelay      time.Duration `yaml:"batch-delay" validate:"gte=0"`
	RetryMax        int           `yaml:"retry-max" validate:"gt=0"`
	RetryBaseDelay  time.Duration `yaml:"retry-base-delay" validate:"gt=0"`
	WsIdleTimeout   time.Duration `yaml:"ws-idle-timeout" validate:"gt=0"`
	WsHeartbeat     time.Duration `yaml:"ws-heartbeat" validate:"gt=0"`
	WsReconnect     time.Duration `yaml:"ws-reconnect" validate:"gt=0"`
	HealthInterval  time.Duration `yaml:"health-interval" validate:"gt=0"`
	StopTimeout     time.Duration `yaml:"stop-timeout" validate:"gt=0"`
	LagTolerance    int           `yaml:"lag-tolerance" validate:"gt=0"`
	MinScanBars     int           `yaml:"min-scan-bars" validate:"gte=60"`
	SymbolWhitelist []string      `yaml:"symbols"`
}

// RedisConfig is used to configure redis
type RedisConfig struct {
	Enable       bool          `yaml:"enable"`
	Addr         string        `yaml:"address" validate:"required_if=Enable true"`
	Password     string        `yaml:"password"`
	Db           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool-size"`
	MinIdleConns int           `yaml:"min-idle-conns"`
	TTL          time.Duration `yaml:"ttl"`
	Channel      string        `yaml:"channel"`
}

type KafkaConfig struct {
	Enable bool   `yaml:"enable"`
	Broker string `yaml:"broker" validate:"required_if=Enable true"`
	Topic  string `yaml:"topic" validate:"required_if=Enable true"`
}

type SignalConfig struct {
	RecordFile string      `yaml:"record-file"`
	Redis      RedisConfig `yaml:"redis"`
	Kafka      KafkaConfig `yaml:"kafka"`
}

type Config struct {
	AppName string `yaml:"app_name"`
	Listen  string `yaml:"listen"`
	Mode    string `yaml:"mode"`

	Log     LogConfig     `yaml:"log"`
	Binance BinanceConfig `yaml:"binance"`
	Trading TradingConfig `yaml:"trading"`
	Pool    PoolConfig    `yaml:"pool"`
	Signal  SignalConfig  `yaml:"signal"`
}

var AppConfig Config

// Default 返回带默认值的配置，yaml 中缺省的字段沿用这里的值
func Default() Config {
	return Config{
		AppName: "klineflow",
		Listen:  ":12180",
		Mode:    "release",
		Log: LogConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     30,
			Console:    true,
		},
		Binance: BinanceConfig{
			RestURL:           "https://fapi.binance.com",
			WsURL:             "wss://fstream.binance.com/ws",
			ConnectTimeout:    10 * time.Second,
			ReadTimeout:       60 * time.Second,
			TotalTimeout:      60 * time.Second,
			RequestsPerSecond: 20,
		},
		Trading: TradingConfig{
			Interval:   "30m",
			FastPeriod: 7,
			SlowPeriod: 25,
			Candles:    100,
		},
		Pool: PoolConfig{
			MaxBar:         100,
			Concurrency:    5,
			BatchDelay:     time.Second,
			RetryMax:       5,
			RetryBaseDelay: time.Second,
			WsIdleTimeout:  60 * time.Second,
			WsHeartbeat:    20 * time.Second,
			WsReconnect:    5 * time.Second,
			HealthInterval: 10 * time.Second,
			StopTimeout:    5 * time.Second,
			LagTolerance:   2,
			MinScanBars:    60,
		},
		Signal: SignalConfig{
			Redis: RedisConfig{
				TTL:     2 * time.Hour,
				Channel: "klineflow:signals",
			},
			Kafka: KafkaConfig{
				Topic: "klineflow_signals",
			},
		},
	}
}

func LoadConfig(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	AppConfig = *cfg
	return nil
}

// Load 读取 yaml，叠加环境变量，并做校验
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Read config file error %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("Unmarshal config yaml error: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TRADING_INTERVAL"); v != "" {
		c.Trading.Interval = v
	}
	if v := os.Getenv("TRADING_FAST_PERIOD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Trading.FastPeriod = n
		}
	}
	if v := os.Getenv("TRADING_SLOW_PERIOD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Trading.SlowPeriod = n
		}
	}

	redisHost := os.Getenv("REDIS_HOST")
	redisPort := os.Getenv("REDIS_PORT")
	if redisHost != "" && redisPort != "" {
		c.Signal.Redis.Addr = fmt.Sprintf("%s:%s", redisHost, redisPort)
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Signal.Redis.Password = v
	}
	if v := os.Getenv("KAFKA_BROKER"); v != "" {
		c.Signal.Kafka.Broker = v
	}
}

var validate = validator.New()

// Validate 配置错误在启动时直接失败，不做重试
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := model.ParseInterval(c.Trading.Interval); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Candles 初始加载与重同步拉取的K线数量，不超过缓冲上限
func (c *Config) Candles() int {
	if c.Trading.Candles > c.Pool.MaxBar {
		return c.Pool.MaxBar
	}
	return c.Trading.Candles
}
