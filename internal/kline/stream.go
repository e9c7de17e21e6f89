package kline

import (
	"context"
	"errors"
	"klineflow/internal/exchange/binance"
	"klineflow/internal/model"
	"klineflow/pkg/logger"
	"klineflow/pkg/utils"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type StreamOptions struct {
	WsURL          string
	IdleTimeout    time.Duration
	Heartbeat      time.Duration
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
}

// Ingestor 每个 symbol 一条 WS 订阅，按到达顺序写入缓冲区
// 任何不一致（间隔错误、落后）都交给 Resyncer 重建
type Ingestor struct {
	opts     StreamOptions
	store    *Store
	resyncer *Resyncer
	health   *HealthReporter
	dialer   *websocket.Dialer
	now      func() time.Time
	onClosed func(ctx context.Context, symbol string)
	// pending 缓冲区从推送开始建立、尚未用 REST 补齐历史的 symbol
	pending sync.Map
}

func NewIngestor(opts StreamOptions, store *Store, resyncer *Resyncer, health *HealthReporter,
	now func() time.Time, onClosed func(ctx context.Context, symbol string)) *Ingestor {
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	return &Ingestor{
		opts:     opts,
		store:    store,
		resyncer: resyncer,
		health:   health,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: dialTimeout,
		},
		now:      now,
		onClosed: onClosed,
	}
}

// Run 断线后等待 ReconnectDelay 重连，不限次数，直到 ctx 结束
func (in *Ingestor) Run(ctx context.Context, symbol string) {
	url := binance.StreamURL(in.opts.WsURL, symbol, in.store.Interval())
	for {
		err := in.session(ctx, symbol, url)
		if ctx.Err() != nil {
			logger.Debugf("[stream] %s stopped", symbol)
			return
		}
		logger.Warnf("[stream] %s disconnected: %v, reconnect in %s", symbol, err, in.opts.ReconnectDelay)
		if err := utils.Sleep(ctx, in.opts.ReconnectDelay); err != nil {
			return
		}
	}
}

// session 一次连接的生命周期：连接 -> 读取 -> 超时/关闭/错误
func (in *Ingestor) session(ctx context.Context, symbol, url string) error {
	conn, _, err := in.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Debugf("[stream] %s connected", symbol)

	done := make(chan struct{})
	defer close(done)

	// ctx 结束时关闭连接，打断阻塞中的 ReadMessage
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	go in.pingLoop(conn, symbol, done)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(in.opts.IdleTimeout)); err != nil {
			return err
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				return errors.New("idle timeout")
			}
			return err
		}
		in.OnUpdate(ctx, symbol, msg)
	}
}

func (in *Ingestor) pingLoop(conn *websocket.Conn, symbol string, done <-chan struct{}) {
	ticker := time.NewTicker(in.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(in.opts.Heartbeat)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logger.Debugf("[stream] %s ping failed: %v", symbol, err)
				return
			}
		case <-done:
			return
		}
	}
}

// OnUpdate 处理一条推送
func (in *Ingestor) OnUpdate(ctx context.Context, symbol string, raw []byte) {
	_, bar, err := binance.DecodeKlineEvent(raw)
	if err != nil {
		logger.Warnf("[stream] %s drop message: %v", symbol, err)
		return
	}
	in.Apply(ctx, symbol, bar)
}

// Apply 把一根K线写入缓冲区
func (in *Ingestor) Apply(ctx context.Context, symbol string, bar model.Bar) {
	tail, ok := in.store.Tail(symbol)
	started := false
	switch {
	case !ok:
		if err := in.store.Append(symbol, bar); err != nil {
			in.resync(ctx, symbol, err)
			return
		}
		in.pending.Store(symbol, struct{}{})
		started = true
	case bar.OpenTime == tail.OpenTime:
		err := in.store.ReplaceTail(symbol, bar)
		if errors.Is(err, ErrBarClosed) {
			// 已收盘的K线重复推送
			return
		}
		if err != nil {
			in.resync(ctx, symbol, err)
			return
		}
		in.health.Track(symbol, bar.OpenTime)
	default:
		if err := in.store.Append(symbol, bar); err != nil {
			in.resync(ctx, symbol, err)
			return
		}
		in.health.Track(symbol, bar.OpenTime)
	}

	if in.store.Lagging(symbol, in.now()) {
		in.resync(ctx, symbol, errors.New(ReasonLagging))
		return
	}

	// 首根之后只在收盘时重试补齐，REST 不可用时不会每条推送都请求
	if _, ok := in.pending.Load(symbol); ok && (started || bar.Closed) {
		in.backfill(ctx, symbol)
	}

	if bar.Closed && in.onClosed != nil {
		in.onClosed(ctx, symbol)
	}
}

func (in *Ingestor) resync(ctx context.Context, symbol string, cause error) {
	logger.Warnf("[stream] %s inconsistent (%v), resync", symbol, cause)
	// 失败已在 Resyncer 中记录，等待下一次推送或重连再修复
	if err := in.resyncer.Resync(ctx, symbol); err == nil {
		in.pending.Delete(symbol)
	}
}

// backfill 初始加载失败的 symbol 用 REST 补齐历史窗口
func (in *Ingestor) backfill(ctx context.Context, symbol string) {
	logger.Infof("[stream] %s started without history, backfill from rest", symbol)
	if err := in.resyncer.Resync(ctx, symbol); err == nil {
		in.pending.Delete(symbol)
	}
}
