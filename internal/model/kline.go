package model

// Bar 一根K线，OpenTime 为毫秒时间戳
// Closed=false 表示当前仍在形成中的K线，只可能出现在缓冲区末尾
type Bar struct {
	OpenTime int64   `json:"open_time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	Closed   bool    `json:"closed"`
}

// BufferKey 缓冲区的 key: symbol_interval
func BufferKey(symbol string, interval Interval) string {
	return symbol + "_" + interval.String()
}

// ClosedBars 过滤掉未收盘的K线，返回新切片
func ClosedBars(bars []Bar) []Bar {
	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if b.Closed {
			out = append(out, b)
		}
	}
	return out
}
