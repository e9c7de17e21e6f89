package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrUnsupportedInterval = errors.New("unsupported interval")

// Interval K线周期，只支持分钟(m)和小时(h)
type Interval struct {
	raw   string
	width time.Duration
}

func ParseInterval(s string) (Interval, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return Interval{}, fmt.Errorf("%w: %q", ErrUnsupportedInterval, s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return Interval{}, fmt.Errorf("%w: %q", ErrUnsupportedInterval, s)
	}
	var unit time.Duration
	switch s[len(s)-1] {
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	default:
		return Interval{}, fmt.Errorf("%w: %q", ErrUnsupportedInterval, s)
	}
	return Interval{raw: s, width: time.Duration(n) * unit}, nil
}

// MustParseInterval 仅用于常量和测试
func MustParseInterval(s string) Interval {
	iv, err := ParseInterval(s)
	if err != nil {
		panic(err)
	}
	return iv
}

func (i Interval) String() string {
	return i.raw
}

func (i Interval) Duration() time.Duration {
	return i.width
}

// Millis 周期宽度（毫秒）
func (i Interval) Millis() int64 {
	return i.width.Milliseconds()
}

func (i Interval) IsZero() bool {
	return i.width == 0
}
