package binance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"klineflow/internal/model"
	"klineflow/pkg/logger"
	"klineflow/pkg/utils"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

var ErrRateLimited = errors.New("binance: rate limited")

// APIError 非 200 且不可重试的响应
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: http %d: %s", e.StatusCode, e.Body)
}

type Options struct {
	RestURL           string
	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration
	TotalTimeout      time.Duration
	RequestsPerSecond float64
	RetryMax          int
	RetryBaseDelay    time.Duration
}

// Client USDT 本位合约公共行情 REST 客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retryMax   int
	retryBase  time.Duration
}

func NewClient(opts Options) (*Client, error) {
	parsed, err := url.Parse(opts.RestURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid URL: %s", opts.RestURL)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
	transport.ResponseHeaderTimeout = opts.ReadTimeout

	limit := rate.Inf
	burst := 1
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		burst = int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	retryMax := opts.RetryMax
	if retryMax < 1 {
		retryMax = 1
	}

	return &Client{
		baseURL: strings.TrimRight(parsed.String(), "/"),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   opts.TotalTimeout,
		},
		limiter:   rate.NewLimiter(limit, burst),
		retryMax:  retryMax,
		retryBase: opts.RetryBaseDelay,
	}, nil
}

// doGet 429 时按 Retry-After 或指数退避重试；网络错误同样重试
func (c *Client) doGet(ctx context.Context, path string, query url.Values, result interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryMax; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		wait, err := c.once(ctx, endpoint, result)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) || ctx.Err() != nil {
			return err
		}
		lastErr = err

		if attempt == c.retryMax {
			break
		}
		if wait <= 0 {
			wait = utils.Backoff(c.retryBase, attempt)
		}
		logger.Debugf("[binance] %s attempt %d failed: %v, retry in %s", path, attempt, err, wait)
		if err := utils.Sleep(ctx, wait); err != nil {
			return err
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", path, c.retryMax, lastErr)
}

// once 单次请求；返回服务端要求的等待时间（仅 429 时有意义）
func (c *Client) once(ctx context.Context, endpoint string, result interface{}) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, &APIError{Body: err.Error()}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.Unmarshal(body, result); err != nil {
			return 0, &APIError{StatusCode: resp.StatusCode, Body: "decode: " + err.Error()}
		}
		return 0, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return retryAfter(resp.Header.Get("Retry-After")), ErrRateLimited
	default:
		return 0, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

type symbolInfo struct {
	Symbol       string `json:"symbol"`
	ContractType string `json:"contractType"`
	Status       string `json:"status"`
	QuoteAsset   string `json:"quoteAsset"`
}

type exchangeInfo struct {
	Symbols []symbolInfo `json:"symbols"`
}

// TradableSymbols 永续 + 交易中 + USDT 计价
func (c *Client) TradableSymbols(ctx context.Context) ([]string, error) {
	var info exchangeInfo
	if err := c.doGet(ctx, "/fapi/v1/exchangeInfo", nil, &info); err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.ContractType == "PERPETUAL" && s.Status == "TRADING" && s.QuoteAsset == "USDT" {
			symbols = append(symbols, s.Symbol)
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

func (c *Client) Klines(ctx context.Context, symbol string, interval model.Interval, limit int) ([]model.Bar, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("interval", interval.String())
	query.Set("limit", strconv.Itoa(limit))

	var rows [][]interface{}
	if err := c.doGet(ctx, "/fapi/v1/klines", query, &rows); err != nil {
		return nil, fmt.Errorf("klines %s: %w", symbol, err)
	}

	bars := make([]model.Bar, 0, len(rows))
	for i, row := range rows {
		bar, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("klines %s row %d: %w", symbol, i, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}
