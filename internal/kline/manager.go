package kline

import (
	"context"
	"errors"
	"fmt"
	"klineflow/internal/exchange"
	"klineflow/internal/model"
	"klineflow/internal/signal"
	"klineflow/internal/trend"
	"klineflow/pkg/logger"
	"sync"
	"time"
)

var (
	ErrRunning     = errors.New("kline: manager is running")
	ErrStopTimeout = errors.New("kline: tasks did not stop in time")
	ErrNoSymbols   = errors.New("kline: no tradable symbols")
)

type Options struct {
	Interval       model.Interval
	FastPeriod     int
	SlowPeriod     int
	MinScanBars    int
	Candles        int
	MaxBar         int
	Concurrency    int
	BatchDelay     time.Duration
	LagTolerance   int
	Stream         StreamOptions
	HealthInterval time.Duration
	StopTimeout    time.Duration
	GateMaxKeys    int
	GateKeep       int
	// Symbols 非空时只订阅其中可交易的合约
	Symbols []string
	Now     func() time.Time
}

func (o *Options) normalize() error {
	if o.Interval.IsZero() {
		return model.ErrUnsupportedInterval
	}
	if o.MaxBar <= 0 || o.Candles <= 0 {
		return fmt.Errorf("invalid buffer size max-bar=%d candles=%d", o.MaxBar, o.Candles)
	}
	if o.Candles > o.MaxBar {
		o.Candles = o.MaxBar
	}
	if o.LagTolerance <= 0 {
		o.LagTolerance = 2
	}
	if o.GateMaxKeys <= 0 {
		o.GateMaxKeys = 100
	}
	if o.GateKeep <= 0 {
		o.GateKeep = 50
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 5 * time.Second
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = 10 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return nil
}

// engine 同一份配置下的全部组件，UpdateConfig 时整体替换
type engine struct {
	opts     Options
	store    *Store
	loader   *Loader
	resyncer *Resyncer
	ingestor *Ingestor
	health   *HealthReporter
	scanner  *trend.Scanner
}

type run struct {
	cancel context.CancelFunc
	wg     *sync.WaitGroup
}

// runKey 运行期 ctx 中携带所属的 run
type runKey struct{}

// Manager K线池：合约列表 -> REST 铺底 -> WS 持续更新 -> 收盘扫描 -> 去重投递
type Manager struct {
	ex         exchange.MarketData
	gate       *signal.DedupGate
	dispatcher *signal.Dispatcher

	lifeMu sync.Mutex // 串行化 Start/Stop/UpdateConfig

	mu      sync.RWMutex
	eng     *engine
	cur     *run
	status  model.Status
	symbols []string
	lastErr error
}

func NewManager(ex exchange.MarketData, opts Options, dispatcher *signal.Dispatcher) (*Manager, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if dispatcher == nil {
		dispatcher = signal.NewDispatcher()
	}
	m := &Manager{
		ex:         ex,
		gate:       signal.NewDedupGate(opts.GateMaxKeys, opts.GateKeep),
		dispatcher: dispatcher,
		status:     model.StatusIdle,
	}
	m.eng = m.build(opts)
	return m, nil
}

func (m *Manager) build(opts Options) *engine {
	store := NewStore(opts.Interval, opts.MaxBar, opts.LagTolerance)
	resyncer := NewResyncer(m.ex, store, opts.Candles)
	health := NewHealthReporter(opts.Interval, m.Symbols, opts.Now)
	return &engine{
		opts:     opts,
		store:    store,
		loader:   NewLoader(m.ex, store, opts.Candles, opts.Concurrency, opts.BatchDelay),
		resyncer: resyncer,
		ingestor: NewIngestor(opts.Stream, store, resyncer, health, opts.Now, m.scanAsync),
		health:   health,
		scanner:  trend.NewScanner(opts.FastPeriod, opts.SlowPeriod, opts.MinScanBars),
	}
}

func (m *Manager) engine() *engine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.eng
}

func (m *Manager) Register(o signal.Observer) {
	m.dispatcher.Register(o)
}

func (m *Manager) Status() model.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// LastError 最近一次启动失败的原因
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

func (m *Manager) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.symbols))
	copy(out, m.symbols)
	return out
}

func (m *Manager) Interval() model.Interval {
	return m.engine().opts.Interval
}

// UpdateConfig 只能在停止状态下调用，替换全部组件
func (m *Manager) UpdateConfig(opts Options) error {
	if err := opts.normalize(); err != nil {
		return err
	}
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != nil {
		return ErrRunning
	}
	m.eng = m.build(opts)
	m.symbols = nil
	m.status = model.StatusIdle
	return nil
}

// Start 在后台启动；已在运行时先停止再启动。任务的生命周期与 ctx 无关，由 Stop 结束
func (m *Manager) Start(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	running := m.cur != nil
	m.mu.RUnlock()
	if running {
		logger.Infof("[manager] already running, restarting")
		if err := m.stopLocked(ctx); err != nil {
			logger.Warnf("[manager] stop before restart: %v", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{cancel: cancel, wg: &sync.WaitGroup{}}
	runCtx = context.WithValue(runCtx, runKey{}, r)
	m.engine().resyncer.Bind(runCtx)

	m.mu.Lock()
	m.cur = r
	m.lastErr = nil
	m.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		m.bootstrap(runCtx, r)
	}()
	return nil
}

func (m *Manager) bootstrap(ctx context.Context, r *run) {
	eng := m.engine()

	m.setStatus(r, model.StatusFetchingSymbols)
	symbols, err := m.resolveSymbols(ctx, eng.opts.Symbols)
	if err != nil {
		m.fail(ctx, r, fmt.Errorf("resolve symbols: %w", err))
		return
	}
	m.mu.Lock()
	if m.cur == r {
		m.symbols = symbols
	}
	m.mu.Unlock()
	logger.Infof("[manager] %d symbols on %s", len(symbols), eng.opts.Interval)

	m.setStatus(r, model.StatusLoadingRest)
	start := time.Now()
	loaded, err := eng.loader.Load(ctx, symbols)
	if len(loaded) == 0 {
		if err == nil {
			err = ErrNoSymbols
		}
		m.fail(ctx, r, fmt.Errorf("initial load: %w", err))
		return
	}
	if err != nil {
		logger.Warnf("[manager] initial load partial %d/%d: %v", len(loaded), len(symbols), err)
	}
	logger.Infof("[manager] initial load %d/%d in %s", len(loaded), len(symbols), time.Since(start).Round(time.Millisecond))

	m.setStatus(r, model.StatusStartingStream)
	m.spawn(ctx, r, func(c context.Context) { eng.health.Run(c, eng.opts.HealthInterval) })
	for _, symbol := range symbols {
		m.spawn(ctx, r, func(c context.Context) { eng.ingestor.Run(c, symbol) })
	}
	if ctx.Err() != nil {
		return
	}
	m.setStatus(r, model.StatusCompleted)
	logger.Infof("[manager] %d streams started", len(symbols))
}

func (m *Manager) resolveSymbols(ctx context.Context, whitelist []string) ([]string, error) {
	all, err := m.ex.TradableSymbols(ctx)
	if err != nil {
		return nil, err
	}
	if len(whitelist) > 0 {
		allowed := make(map[string]struct{}, len(whitelist))
		for _, s := range whitelist {
			allowed[s] = struct{}{}
		}
		filtered := all[:0:0]
		for _, s := range all {
			if _, ok := allowed[s]; ok {
				filtered = append(filtered, s)
			}
		}
		all = filtered
	}
	if len(all) == 0 {
		return nil, ErrNoSymbols
	}
	return all, nil
}

func (m *Manager) spawn(ctx context.Context, r *run, fn func(context.Context)) {
	if ctx.Err() != nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn(ctx)
	}()
}

func (m *Manager) setStatus(r *run, st model.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == r {
		m.status = st
	}
}

// fail 启动失败回到 idle；被 Stop 打断时由 Stop 负责清理
func (m *Manager) fail(ctx context.Context, r *run, err error) {
	if ctx.Err() != nil {
		return
	}
	logger.Errorf("[manager] start aborted: %v", err)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == r {
		m.lastErr = err
		m.status = model.StatusIdle
	}
}

// Stop 取消全部任务，最多等待 StopTimeout，然后无论是否退出都清空内存状态
func (m *Manager) Stop(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	return m.stopLocked(ctx)
}

func (m *Manager) stopLocked(ctx context.Context) error {
	eng := m.engine()

	m.mu.Lock()
	r := m.cur
	m.cur = nil
	m.mu.Unlock()

	var err error
	if r != nil {
		r.cancel()
		done := make(chan struct{})
		go func() {
			r.wg.Wait()
			close(done)
		}()

		timer := time.NewTimer(eng.opts.StopTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			err = ErrStopTimeout
			logger.Warnf("[manager] some tasks did not stop within %s, forcing cleanup", eng.opts.StopTimeout)
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	eng.resyncer.Bind(context.Background())
	eng.store.Clear()
	eng.health.Reset()
	m.gate.Reset()

	m.mu.Lock()
	m.symbols = nil
	m.status = model.StatusIdle
	m.mu.Unlock()
	logger.Infof("[manager] stopped")
	return err
}

// GetKlines 返回经过健康检查的K线快照，不健康时先用 REST 重建
func (m *Manager) GetKlines(ctx context.Context, symbol string) ([]model.Bar, error) {
	eng := m.engine()
	if ok, reason := eng.store.HealthCheck(symbol, eng.opts.Now()); !ok {
		logger.Infof("[manager] %s buffer unhealthy (%s), resync", symbol, reason)
		if err := eng.resyncer.Resync(ctx, symbol); err != nil {
			return nil, err
		}
	}
	return eng.store.Snapshot(symbol), nil
}

// GetAllSignals 扫描全部合约，跳过数据不足或无状态的
func (m *Manager) GetAllSignals(ctx context.Context) ([]model.ScanResult, error) {
	eng := m.engine()
	symbols := m.Symbols()
	if len(symbols) == 0 {
		logger.Warnf("[manager] no symbols available for signal scanning")
		return nil, nil
	}

	results := make([]model.ScanResult, 0)
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		bars := eng.store.Snapshot(symbol)
		if len(bars) < 2 {
			continue
		}
		res, err := eng.scanner.Scan(symbol, bars)
		if err != nil {
			logger.Errorf("[manager] scan %s: %v", symbol, err)
			continue
		}
		if res == nil {
			continue
		}
		results = append(results, *res)
	}
	return results, nil
}

// scanAsync 收盘触发，错误只记录；计入当前运行的 WaitGroup，Stop 会等待它结束
func (m *Manager) scanAsync(ctx context.Context, symbol string) {
	if ctx.Err() != nil {
		return
	}
	// 调用方是已计入 wg 的推送任务，此时计数不为 0，可以安全 Add
	r, _ := ctx.Value(runKey{}).(*run)
	if r != nil {
		r.wg.Add(1)
	}

	go func() {
		if r != nil {
			defer r.wg.Done()
		}
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[manager] scan %s panic: %v", symbol, r)
			}
		}()
		if err := m.processSignal(ctx, symbol); err != nil {
			logger.Errorf("[manager] signal %s: %v", symbol, err)
		}
	}()
}

func (m *Manager) processSignal(ctx context.Context, symbol string) error {
	eng := m.engine()
	bars := eng.store.Snapshot(symbol)
	if len(bars) < 2 {
		return nil
	}
	res, err := eng.scanner.Scan(symbol, bars)
	if err != nil || res == nil {
		return err
	}
	return m.deliver(ctx, *res)
}

// deliver 同一 (symbol, time) 只投递一次；投递失败不重试，key 保持未投递
func (m *Manager) deliver(ctx context.Context, res model.ScanResult) error {
	h := m.gate.Acquire(res.Symbol, res.Time)
	defer h.Release()

	if h.Delivered() {
		logger.Debugf("[manager] %s %d already delivered", res.Symbol, res.Time)
		return nil
	}
	// 已停止时不再投递，输出端可能已关闭
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.dispatcher.Dispatch(ctx, res); err != nil {
		return err
	}
	h.MarkDelivered()
	return nil
}
