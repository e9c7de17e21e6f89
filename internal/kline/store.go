package kline

import (
	"errors"
	"fmt"
	"klineflow/internal/model"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotContiguous = errors.New("kline: bar is not contiguous with buffer")
	ErrBarClosed     = errors.New("kline: tail bar already closed")
)

const (
	ReasonEmpty   = "empty"
	ReasonLagging = "lagging"
	ReasonGap     = "gap"
)

type buffer struct {
	mu     sync.RWMutex
	symbol string
	bars   []model.Bar
}

// Store 每个 symbol_interval 一个有界缓冲区
// 外层锁只保护缓冲区的创建和删除，读写各自的缓冲区只用缓冲区自己的锁
type Store struct {
	mu        sync.RWMutex
	buffers   map[string]*buffer
	interval  model.Interval
	maxBar    int
	tolerance int
}

func NewStore(interval model.Interval, maxBar, lagTolerance int) *Store {
	return &Store{
		buffers:   make(map[string]*buffer),
		interval:  interval,
		maxBar:    maxBar,
		tolerance: lagTolerance,
	}
}

func (s *Store) Interval() model.Interval {
	return s.interval
}

func (s *Store) get(symbol string) *buffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buffers[model.BufferKey(symbol, s.interval)]
}

func (s *Store) getOrCreate(symbol string) *buffer {
	key := model.BufferKey(symbol, s.interval)
	if b := s.get(symbol); b != nil {
		return b
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[key]
	if !ok {
		b = &buffer{symbol: symbol, bars: make([]model.Bar, 0, s.maxBar)}
		s.buffers[key] = b
	}
	return b
}

// Snapshot 返回副本，调用方可以随意修改
func (s *Store) Snapshot(symbol string) []model.Bar {
	b := s.get(symbol)
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.Bar, len(b.bars))
	copy(out, b.bars)
	return out
}

func (s *Store) Tail(symbol string) (model.Bar, bool) {
	b := s.get(symbol)
	if b == nil {
		return model.Bar{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bars) == 0 {
		return model.Bar{}, false
	}
	return b.bars[len(b.bars)-1], true
}

func (s *Store) Len(symbol string) int {
	b := s.get(symbol)
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bars)
}

// Append 追加新窗口的K线；必须紧接在末尾之后，上一根随之收盘
func (s *Store) Append(symbol string, bar model.Bar) error {
	b := s.getOrCreate(symbol)
	width := s.interval.Millis()

	b.mu.Lock()
	defer b.mu.Unlock()

	if n := len(b.bars); n > 0 {
		tail := b.bars[n-1]
		if bar.OpenTime != tail.OpenTime+width {
			return fmt.Errorf("%w: %s tail=%d next=%d", ErrNotContiguous, symbol, tail.OpenTime, bar.OpenTime)
		}
		b.bars[n-1].Closed = true
		if n >= s.maxBar {
			copy(b.bars, b.bars[n-s.maxBar+1:])
			b.bars = b.bars[:s.maxBar-1]
		}
	}
	b.bars = append(b.bars, bar)
	return nil
}

// ReplaceTail 原地更新末尾未收盘的K线
func (s *Store) ReplaceTail(symbol string, bar model.Bar) error {
	b := s.get(symbol)
	if b == nil {
		return fmt.Errorf("%w: %s empty buffer", ErrNotContiguous, symbol)
	}
	width := s.interval.Millis()

	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.bars)
	if n == 0 {
		return fmt.Errorf("%w: %s empty buffer", ErrNotContiguous, symbol)
	}
	tail := b.bars[n-1]
	if tail.OpenTime != bar.OpenTime {
		return fmt.Errorf("%w: %s tail=%d update=%d", ErrNotContiguous, symbol, tail.OpenTime, bar.OpenTime)
	}
	if n >= 2 && bar.OpenTime-b.bars[n-2].OpenTime != width {
		return fmt.Errorf("%w: %s prev=%d update=%d", ErrNotContiguous, symbol, b.bars[n-2].OpenTime, bar.OpenTime)
	}
	if tail.Closed {
		return ErrBarClosed
	}
	b.bars[n-1] = bar
	return nil
}

// ReplaceAll 整体替换：按开盘时间排序去重，除最后一根外全部视为已收盘，超出容量时丢弃最旧的
func (s *Store) ReplaceAll(symbol string, bars []model.Bar) {
	sorted := make([]model.Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].OpenTime < sorted[j].OpenTime })

	clean := make([]model.Bar, 0, len(sorted))
	for _, bar := range sorted {
		if n := len(clean); n > 0 && bar.OpenTime <= clean[n-1].OpenTime {
			clean[n-1] = bar
			continue
		}
		clean = append(clean, bar)
	}
	if len(clean) > s.maxBar {
		clean = clean[len(clean)-s.maxBar:]
	}
	for i := 0; i < len(clean)-1; i++ {
		clean[i].Closed = true
	}

	b := s.getOrCreate(symbol)
	b.mu.Lock()
	b.bars = clean
	b.mu.Unlock()
}

// HealthCheck 依次检查：为空、落后超过 tolerance 个周期、相邻间隔不一致
func (s *Store) HealthCheck(symbol string, now time.Time) (bool, string) {
	b := s.get(symbol)
	if b == nil {
		return false, ReasonEmpty
	}
	width := s.interval.Millis()

	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.bars) == 0 {
		return false, ReasonEmpty
	}
	if s.lagging(b.bars[len(b.bars)-1], now) {
		return false, ReasonLagging
	}
	for i := 1; i < len(b.bars); i++ {
		if b.bars[i].OpenTime-b.bars[i-1].OpenTime != width {
			return false, ReasonGap
		}
	}
	return true, ""
}

func (s *Store) Lagging(symbol string, now time.Time) bool {
	tail, ok := s.Tail(symbol)
	return ok && s.lagging(tail, now)
}

func (s *Store) lagging(tail model.Bar, now time.Time) bool {
	return now.UnixMilli()-tail.OpenTime > int64(s.tolerance)*s.interval.Millis()
}

func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.buffers))
	for _, b := range s.buffers {
		out = append(out, b.symbol)
	}
	sort.Strings(out)
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.buffers = make(map[string]*buffer)
	s.mu.Unlock()
}
