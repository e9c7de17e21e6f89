package model

// Trend 趋势方向，空串表示无方向（WATCH）
type Trend string

const (
	TrendLong  Trend = "LONG"
	TrendShort Trend = "SHORT"
	TrendNone  Trend = ""
)

type State string

const (
	StateLongStart     State = "LONG_START"
	StateLongContinue  State = "LONG_CONTINUE"
	StateShortStart    State = "SHORT_START"
	StateShortContinue State = "SHORT_CONTINUE"
	StateWatch         State = "WATCH"
	StateNone          State = "NONE"
)

// ScanResult 单次扫描的结果，生成后不再修改
// Time 为最后一根已收盘K线的开盘时间（毫秒）
type ScanResult struct {
	Symbol string  `json:"symbol"`
	Time   int64   `json:"time"`
	Trend  Trend   `json:"trend"`
	State  State   `json:"state"`
	Score  int     `json:"score"`
	MaFast float64 `json:"ma_fast"`
	MaSlow float64 `json:"ma_slow"`
	Ma50   float64 `json:"ma_50"`
	ADX    float64 `json:"adx"`
}

// SignalEnvelope 投递给下游的信号，EventID 全局唯一
type SignalEnvelope struct {
	EventID  string     `json:"event_id"`
	Interval string     `json:"interval"`
	SentAt   int64      `json:"sent_at"`
	Result   ScanResult `json:"result"`
}
