package binance

import (
	"errors"
	"fmt"
	"klineflow/internal/model"
	"klineflow/pkg/utils"
	"math"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"
)

var ErrMalformed = errors.New("binance: malformed kline payload")

// parseRow REST K线行: [openTime, "o", "h", "l", "c", "v", closeTime, ...]
// 开盘时间必须是整数，价格与成交量必须是字符串
func parseRow(row []interface{}) (model.Bar, error) {
	if len(row) < 6 {
		return model.Bar{}, fmt.Errorf("%w: %d fields", ErrMalformed, len(row))
	}
	openTime, err := parseOpenTime(row[0])
	if err != nil {
		return model.Bar{}, err
	}
	var vals [5]float64
	for i := 0; i < 5; i++ {
		s, ok := row[i+1].(string)
		if !ok {
			return model.Bar{}, fmt.Errorf("%w: field %d is %T", ErrMalformed, i+1, row[i+1])
		}
		if vals[i], err = parseDecimal(s); err != nil {
			return model.Bar{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, i+1, err)
		}
	}
	return model.Bar{
		OpenTime: openTime,
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
		Closed:   true,
	}, nil
}

func parseOpenTime(v interface{}) (int64, error) {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: open time %v", ErrMalformed, v)
	}
	return cast.ToInt64E(f)
}

// parseDecimal 交易所以字符串下发数值，NaN/Inf 视为损坏
func parseDecimal(s string) (float64, error) {
	v, err := cast.ToFloat64E(s)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return v, nil
}

// 字段类型与交易所推送一致，类型不符在解码阶段直接失败
type wsKline struct {
	T *int64  `json:"t"`
	O *string `json:"o"`
	H *string `json:"h"`
	L *string `json:"l"`
	C *string `json:"c"`
	V *string `json:"v"`
	X *bool   `json:"x"`
}

type wsEvent struct {
	Event  string   `json:"e"`
	Symbol string   `json:"s"`
	K      *wsKline `json:"k"`
}

// DecodeKlineEvent 解析 kline 推送，任一字段缺失或无法解析都返回 ErrMalformed
func DecodeKlineEvent(raw []byte) (string, model.Bar, error) {
	var ev wsEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return "", model.Bar{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ev.K == nil {
		return "", model.Bar{}, fmt.Errorf("%w: missing k", ErrMalformed)
	}
	k := ev.K
	if k.T == nil || k.X == nil {
		return "", model.Bar{}, fmt.Errorf("%w: missing t/x", ErrMalformed)
	}

	fields := []*string{k.O, k.H, k.L, k.C, k.V}
	var vals [5]float64
	for i, f := range fields {
		if f == nil {
			return "", model.Bar{}, fmt.Errorf("%w: missing field %d", ErrMalformed, i)
		}
		v, err := parseDecimal(*f)
		if err != nil {
			return "", model.Bar{}, fmt.Errorf("%w: field %d: %v", ErrMalformed, i, err)
		}
		vals[i] = v
	}

	return ev.Symbol, model.Bar{
		OpenTime: *k.T,
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
		Closed:   *k.X,
	}, nil
}

// StreamURL 单个合约的 K 线订阅地址：{base}/{symbol}@kline_{interval}
func StreamURL(wsBase, symbol string, interval model.Interval) string {
	return fmt.Sprintf("%s/%s@kline_%s", strings.TrimRight(wsBase, "/"), utils.StreamSymbol(symbol), interval)
}
