package trend

import (
	"fmt"
	"klineflow/internal/model"
	"math"

	"github.com/markcheno/go-talib"
)

const (
	ma50Period   = 50
	adxPeriod    = 14
	volumePeriod = 20

	// MinClosedBars 扫描所需已收盘K线的下限，配置值只能调高
	MinClosedBars = 60

	adxTrend  = 20.0 // 趋势成立
	adxStrong = 25.0 // 强趋势
	watchBand = 0.01 // 慢线贴近 MA50 的范围
)

// Scanner 基于已收盘K线的趋势扫描，本身无状态，可并发调用
type Scanner struct {
	FastPeriod int
	SlowPeriod int
	MinBars    int // 最少已收盘K线数量
}

func NewScanner(fast, slow, minBars int) *Scanner {
	return &Scanner{FastPeriod: fast, SlowPeriod: slow, MinBars: minBars}
}

// snapshot 计算所需的最新指标值
type snapshot struct {
	fast, slow, ma50, adx         float64
	prevFast, prevSlow, prevMa50 float64
	fastSlope, slowSlope          float64
	volume, volumeMean            float64
}

// Scan 无可操作状态时返回 nil, nil
func (s *Scanner) Scan(symbol string, bars []model.Bar) (*model.ScanResult, error) {
	if s.FastPeriod <= 0 || s.SlowPeriod <= 0 {
		return nil, fmt.Errorf("invalid ma periods fast=%d slow=%d", s.FastPeriod, s.SlowPeriod)
	}

	closed := model.ClosedBars(bars)
	minBars := s.MinBars
	// talib 在预热期输出 0 而不是 NaN，这里保证数据量足够覆盖所有周期
	for _, p := range []int{MinClosedBars, s.FastPeriod + 1, s.SlowPeriod + 1, ma50Period + 1, 2*adxPeriod + 1, volumePeriod} {
		if p > minBars {
			minBars = p
		}
	}
	if len(closed) < minBars {
		return nil, nil
	}

	snap := s.compute(extractSeries(closed))
	if anyNaN(snap.fast, snap.slow, snap.ma50, snap.adx) {
		return nil, nil
	}

	res := classify(snap)
	if res.State == model.StateNone {
		return nil, nil
	}
	res.Symbol = symbol
	res.Time = closed[len(closed)-1].OpenTime
	return &res, nil
}

func (s *Scanner) compute(in series) snapshot {
	maFast := talib.Sma(in.closes, s.FastPeriod)
	maSlow := talib.Sma(in.closes, s.SlowPeriod)
	ma50 := talib.Sma(in.closes, ma50Period)
	adx := talib.Adx(in.highs, in.lows, in.closes, adxPeriod)

	snap := snapshot{
		fast:       last(maFast, 1),
		slow:       last(maSlow, 1),
		ma50:       last(ma50, 1),
		adx:        last(adx, 1),
		prevFast:   last(maFast, 2),
		prevSlow:   last(maSlow, 2),
		prevMa50:   last(ma50, 2),
		volume:     last(in.volumes, 1),
		volumeMean: mean(in.volumes, volumePeriod),
	}
	snap.fastSlope = snap.fast - snap.prevFast
	snap.slowSlope = snap.slow - snap.prevSlow
	return snap
}

// classify 评分与状态判定
// 评分: 均线排列 +3，动量一致 +2，ADX>=25 +2 / >=20 +1，放量 +1
func classify(s snapshot) model.ScanResult {
	longAligned := s.fast > s.slow && s.slow > s.ma50
	shortAligned := s.fast < s.slow && s.slow < s.ma50

	longMomentum := s.fastSlope > 0 && s.slowSlope > 0
	shortMomentum := s.fastSlope < 0 && s.slowSlope < 0

	trendOK := s.adx >= adxTrend

	prevLongAligned := s.prevFast > s.prevSlow && s.prevSlow > s.prevMa50
	prevShortAligned := s.prevFast < s.prevSlow && s.prevSlow < s.prevMa50

	nearMa50 := s.ma50 != 0 && math.Abs(s.slow-s.ma50)/s.ma50 < watchBand
	watchLong := s.fast > s.slow && nearMa50 && s.fastSlope > 0
	watchShort := s.fast < s.slow && nearMa50 && s.fastSlope < 0

	score := 0
	if longAligned || shortAligned {
		score += 3
	}
	if longMomentum || shortMomentum {
		score += 2
	}
	if s.adx >= adxStrong {
		score += 2
	} else if s.adx >= adxTrend {
		score += 1
	}
	if !math.IsNaN(s.volumeMean) && s.volume > s.volumeMean {
		score++
	}

	res := model.ScanResult{
		Trend:  model.TrendNone,
		State:  model.StateNone,
		MaFast: s.fast,
		MaSlow: s.slow,
		Ma50:   s.ma50,
		ADX:    s.adx,
	}

	switch {
	case longAligned && longMomentum && trendOK:
		res.Trend = model.TrendLong
		res.State = model.StateLongContinue
		if !prevLongAligned {
			res.State = model.StateLongStart
		}
	case shortAligned && shortMomentum && trendOK:
		res.Trend = model.TrendShort
		res.State = model.StateShortContinue
		if !prevShortAligned {
			res.State = model.StateShortStart
		}
	case watchLong || watchShort:
		res.State = model.StateWatch
		if score < 2 {
			score = 2
		}
	}
	res.Score = score
	return res
}
