package trend

import (
	"klineflow/internal/model"
	"math"
)

type series struct {
	closes  []float64
	highs   []float64
	lows    []float64
	volumes []float64
}

func extractSeries(bars []model.Bar) series {
	s := series{
		closes:  make([]float64, len(bars)),
		highs:   make([]float64, len(bars)),
		lows:    make([]float64, len(bars)),
		volumes: make([]float64, len(bars)),
	}
	for i, b := range bars {
		s.closes[i] = b.Close
		s.highs[i] = b.High
		s.lows[i] = b.Low
		s.volumes[i] = b.Volume
	}
	return s
}

// last 取倒数第 n 个值（n=1 为最后一个）
func last(vals []float64, n int) float64 {
	if len(vals) < n || n < 1 {
		return math.NaN()
	}
	return vals[len(vals)-n]
}

// mean 最后 period 个值的均值，不足时返回 NaN
func mean(vals []float64, period int) float64 {
	if period <= 0 || len(vals) < period {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range vals[len(vals)-period:] {
		sum += v
	}
	return sum / float64(period)
}

func anyNaN(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}
