package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/llm/tools"
)

func rising(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func newRegistry(t *testing.T, source KlineSource) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(zap.NewNop())
	require.NoError(t, Register(reg, source))
	return reg
}

func TestStaticKlineSource(t *testing.T) {
	src := NewStaticKlineSource()
	src.Set("btcusdt", SyntheticKlines(92000, 10, 50, time.Hour, time.Unix(0, 0)))

	got, err := src.Klines(context.Background(), "BTCUSDT", "1h", 20)
	require.NoError(t, err)
	require.Len(t, got, 20)
	assert.True(t, got[0].OpenTime.Before(got[19].OpenTime))

	all, err := src.Klines(context.Background(), "BTCUSDT", "1h", 0)
	require.NoError(t, err)
	assert.Len(t, all, 50)
	assert.Equal(t, got[19], all[49])

	_, err = src.Klines(context.Background(), "ETHUSDT", "1h", 10)
	assert.ErrorIs(t, err, ErrUnknownSymbol)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Klines(ctx, "BTCUSDT", "1h", 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKlinesTool(t *testing.T) {
	src := NewStaticKlineSource()
	src.Set("BTCUSDT", SyntheticKlines(92000, 10, 150, time.Hour, time.Unix(0, 0)))
	reg := newRegistry(t, src)

	tool, ok := reg.Get(KlinesToolName)
	require.True(t, ok)
	assert.Equal(t, tools.CapabilityNetwork, tool.Capability)
	assert.Equal(t, []string{"symbol"}, tool.Required)

	res := reg.Invoke(context.Background(), KlinesToolName, map[string]any{"symbol": "btcusdt", "limit": float64(30)})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "BTCUSDT", res.Payload["symbol"])
	assert.Equal(t, "1h", res.Payload["interval"])
	assert.Equal(t, 30, res.Payload["count"])
	assert.Len(t, res.Payload["closes"], 30)

	res = reg.Invoke(context.Background(), KlinesToolName, map[string]any{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "symbol")

	res = reg.Invoke(context.Background(), KlinesToolName, map[string]any{"symbol": "BTCUSDT", "limit": 5000})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "limit")

	res = reg.Invoke(context.Background(), KlinesToolName, map[string]any{"symbol": "DOGEUSDT"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown symbol")
}

func TestIndicatorsTool(t *testing.T) {
	reg := newRegistry(t, NewStaticKlineSource())

	tool, ok := reg.Get(IndicatorsToolName)
	require.True(t, ok)
	assert.Equal(t, tools.CapabilityCompute, tool.Capability)

	t.Run("rising series is overbought and above ema", func(t *testing.T) {
		closes := make([]any, 0, 60)
		for _, c := range rising(60, 100, 1) {
			closes = append(closes, c)
		}
		res := reg.Invoke(context.Background(), IndicatorsToolName, map[string]any{"closes": closes})
		require.True(t, res.Success, res.Error)
		assert.InDelta(t, 100, res.Payload["rsi"], 0.01)
		assert.Equal(t, "overbought", res.Payload["rsi_signal"])
		assert.Equal(t, "above", res.Payload["price_vs_ema"])
		macd, ok := res.Payload["macd"].(map[string]any)
		require.True(t, ok)
		assert.Greater(t, macd["macd"].(float64), 0.0)
	})

	t.Run("falling series is oversold", func(t *testing.T) {
		res := reg.Invoke(context.Background(), IndicatorsToolName, map[string]any{"closes": rising(40, 200, -1)})
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "oversold", res.Payload["rsi_signal"])
		assert.Equal(t, "below", res.Payload["price_vs_ema"])
	})

	t.Run("short series omits macd", func(t *testing.T) {
		res := reg.Invoke(context.Background(), IndicatorsToolName, map[string]any{"closes": rising(16, 100, 1)})
		require.True(t, res.Success, res.Error)
		assert.Contains(t, res.Payload, "rsi")
		assert.NotContains(t, res.Payload, "macd")
		assert.NotContains(t, res.Payload, "ema")
	})

	t.Run("not enough data", func(t *testing.T) {
		res := reg.Invoke(context.Background(), IndicatorsToolName, map[string]any{"closes": rising(5, 100, 1)})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "not enough data")
	})

	t.Run("bad input", func(t *testing.T) {
		res := reg.Invoke(context.Background(), IndicatorsToolName, map[string]any{"closes": []any{1.0, "x"}})
		assert.False(t, res.Success)

		res = reg.Invoke(context.Background(), IndicatorsToolName, map[string]any{})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "closes")

		res = reg.Invoke(context.Background(), IndicatorsToolName, map[string]any{"closes": rising(40, 1, 1), "rsi_period": 1})
		assert.False(t, res.Success)
	})
}

// 行情拉取超时不影响指标计算
func TestTradingTurn_KlinesTimeoutIndicatorsSucceed(t *testing.T) {
	hanging := KlineSourceFunc(func(context.Context, string, string, int) ([]Kline, error) {
		time.Sleep(300 * time.Millisecond)
		return nil, nil
	})
	reg := tools.NewRegistry(zap.NewNop())
	klines := NewKlinesTool(hanging)
	klines.Timeout = 30 * time.Millisecond
	require.NoError(t, reg.Register(klines))
	require.NoError(t, reg.Register(NewIndicatorsTool()))

	res := reg.Invoke(context.Background(), KlinesToolName, map[string]any{"symbol": "BTCUSDT"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timeout")

	res = reg.Invoke(context.Background(), IndicatorsToolName, map[string]any{"closes": rising(30, 92000, -50)})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "oversold", res.Payload["rsi_signal"])
}
