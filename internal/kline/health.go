package kline

import (
	"context"
	"klineflow/internal/model"
	"klineflow/pkg/logger"
	"klineflow/pkg/utils"
	"sort"
	"strings"
	"sync"
	"time"
)

// MinuteSummary 某个开盘时间上收到更新的 symbol 统计
type MinuteSummary struct {
	OpenTime int64
	Updated  int
	Total    int
	Missing  []string
}

func (m MinuteSummary) Complete() bool {
	return m.Updated >= m.Total
}

// HealthReporter 按开盘时间统计各 symbol 的更新情况，每分钟最多输出一次汇总，只用于监控
type HealthReporter struct {
	mu       sync.Mutex
	updates  map[int64]map[string]struct{}
	lastLog  time.Time
	interval model.Interval
	universe func() []string
	now      func() time.Time
}

func NewHealthReporter(interval model.Interval, universe func() []string, now func() time.Time) *HealthReporter {
	return &HealthReporter{
		updates:  make(map[int64]map[string]struct{}),
		lastLog:  now(),
		interval: interval,
		universe: universe,
		now:      now,
	}
}

// Track 记录一次 update/new
func (h *HealthReporter) Track(symbol string, openTime int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.updates[openTime]
	if !ok {
		set = make(map[string]struct{})
		h.updates[openTime] = set
	}
	set[symbol] = struct{}{}
	h.reportLocked(openTime, h.now())
}

// Run 每 every 检查一次，直到 ctx 结束
func (h *HealthReporter) Run(ctx context.Context, every time.Duration) {
	for {
		if err := utils.Sleep(ctx, every); err != nil {
			return
		}
		h.Tick()
	}
}

// Tick 跨分钟时为最新的开盘时间输出汇总，并清理超过两个周期的记录
func (h *HealthReporter) Tick() {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	if minuteOf(now) > minuteOf(h.lastLog) && len(h.updates) > 0 {
		var latest int64
		for t := range h.updates {
			if t > latest {
				latest = t
			}
		}
		h.reportLocked(latest, now)
	}

	limit := 2 * h.interval.Millis()
	for t := range h.updates {
		if now.UnixMilli()-t > limit {
			delete(h.updates, t)
		}
	}
}

func (h *HealthReporter) reportLocked(openTime int64, now time.Time) (MinuteSummary, bool) {
	if minuteOf(now) <= minuteOf(h.lastLog) {
		return MinuteSummary{}, false
	}

	summary := h.summaryLocked(openTime)
	if summary.Complete() {
		logger.Infof("upkline %s total %d/%d", utils.FormatMinute(openTime), summary.Updated, summary.Total)
	} else {
		logger.Warnf("upkline %s incomplete %d/%d missing=%s",
			utils.FormatMinute(openTime), summary.Updated, summary.Total, strings.Join(summary.Missing, ","))
	}
	h.lastLog = now
	for t := range h.updates {
		if t < openTime {
			delete(h.updates, t)
		}
	}
	return summary, true
}

func (h *HealthReporter) summaryLocked(openTime int64) MinuteSummary {
	universe := h.universe()
	updated := h.updates[openTime]
	missing := make([]string, 0)
	for _, s := range universe {
		if _, ok := updated[s]; !ok {
			missing = append(missing, s)
		}
	}
	sort.Strings(missing)
	return MinuteSummary{OpenTime: openTime, Updated: len(updated), Total: len(universe), Missing: missing}
}

// Summary 当前某个开盘时间的统计，不影响输出节奏
func (h *HealthReporter) Summary(openTime int64) MinuteSummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.summaryLocked(openTime)
}

func (h *HealthReporter) Tracked() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.updates)
}

func (h *HealthReporter) Reset() {
	h.mu.Lock()
	h.updates = make(map[int64]map[string]struct{})
	h.lastLog = h.now()
	h.mu.Unlock()
}

func minuteOf(t time.Time) int64 {
	return t.Unix() / 60
}
