package api

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"klineflow/conf"
	"klineflow/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerOptions(t *testing.T) {
	cfg := conf.Default()
	cfg.Trading.Interval = "1h"
	cfg.Trading.Candles = 300
	cfg.Pool.SymbolWhitelist = []string{"BTCUSDT"}

	opts, err := ManagerOptions(&cfg)
	require.NoError(t, err)
	assert.Equal(t, model.MustParseInterval("1h"), opts.Interval)
	assert.Equal(t, 100, opts.Candles)
	assert.Equal(t, 60*time.Second, opts.Stream.IdleTimeout)
	assert.Equal(t, 20*time.Second, opts.Stream.Heartbeat)
	assert.Equal(t, 5*time.Second, opts.Stream.ReconnectDelay)
	assert.Equal(t, "wss://fstream.binance.com/ws", opts.Stream.WsURL)
	assert.Equal(t, []string{"BTCUSDT"}, opts.Symbols)

	cfg.Trading.Interval = "1w"
	_, err = ManagerOptions(&cfg)
	assert.ErrorIs(t, err, model.ErrUnsupportedInterval)
}

func TestBuildDispatcher(t *testing.T) {
	cfg := conf.Default()
	app := &App{}
	d, err := app.BuildDispatcher(context.Background(), &cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Len())

	cfg.Signal.RecordFile = filepath.Join(t.TempDir(), "signals", "out.jsonl")
	cfg.Signal.Kafka.Enable = true
	cfg.Signal.Kafka.Broker = "127.0.0.1:9092"
	d, err = app.BuildDispatcher(context.Background(), &cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Len())
	assert.Len(t, app.closers, 2)

	app.Close()
	assert.Empty(t, app.closers)
}

func TestInitApp(t *testing.T) {
	cfg := conf.Default()
	app, err := InitApp(context.Background(), &cfg)
	require.NoError(t, err)
	defer app.Close()

	assert.Equal(t, model.StatusIdle, app.Manager.Status())
	assert.NotNil(t, app.Router)
}
