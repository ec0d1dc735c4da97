package market

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/markcheno/go-talib"

	"github.com/BaSui01/agentcouncil/llm/tools"
)

// 工具名
const (
	KlinesToolName     = "get_klines"
	IndicatorsToolName = "calc_indicators"
)

const (
	defaultInterval = "1h"
	defaultLimit    = 100
	maxLimit        = 1000

	defaultRSIPeriod  = 14
	defaultEMAPeriod  = 20
	defaultMACDFast   = 12
	defaultMACDSlow   = 26
	defaultMACDSignal = 9
)

var klinesSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "symbol": {"type": "string", "description": "trading pair, e.g. BTCUSDT"},
    "interval": {"type": "string", "description": "candle interval, default 1h"},
    "limit": {"type": "integer", "description": "number of candles, default 100, max 1000"}
  },
  "required": ["symbol"]
}`)

var indicatorsSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "closes": {"type": "array", "items": {"type": "number"}, "description": "close prices, oldest first"},
    "rsi_period": {"type": "integer"},
    "ema_period": {"type": "integer"}
  },
  "required": ["closes"]
}`)

// NewKlinesTool 构造 get_klines 工具
func NewKlinesTool(source KlineSource) tools.Tool {
	return tools.Tool{
		Name:        KlinesToolName,
		Description: "Fetch recent OHLCV candles for a trading pair",
		Parameters:  klinesSchema,
		Required:    []string{"symbol"},
		Capability:  tools.CapabilityNetwork,
		Timeout:     10 * time.Second,
		RateLimit:   &tools.RateLimit{PerSecond: 5, Burst: 5},
		Func: func(ctx context.Context, params map[string]any) (tools.Result, error) {
			symbol, ok := tools.ParamString(params, "symbol")
			if !ok || strings.TrimSpace(symbol) == "" {
				return tools.Failf("symbol must be a non-empty string"), nil
			}
			interval, _ := tools.ParamString(params, "interval")
			if interval == "" {
				interval = defaultInterval
			}
			limit := tools.ParamInt(params, "limit", defaultLimit)
			if limit <= 0 || limit > maxLimit {
				return tools.Failf("limit must be in [1, %d], got %d", maxLimit, limit), nil
			}

			klines, err := source.Klines(ctx, strings.ToUpper(symbol), interval, limit)
			if err != nil {
				return tools.Result{}, fmt.Errorf("fetch klines %s: %w", symbol, err)
			}
			if len(klines) == 0 {
				return tools.Failf("no klines for %s", symbol), nil
			}
			last := klines[len(klines)-1]
			return tools.OK(map[string]any{
				"symbol":     strings.ToUpper(symbol),
				"interval":   interval,
				"count":      len(klines),
				"last_close": last.Close,
				"closes":     Closes(klines),
				"klines":     klines,
			}), nil
		},
	}
}

// NewIndicatorsTool 构造 calc_indicators 工具。
// 每个指标只在数据足够时输出，全部不足时返回失败。
func NewIndicatorsTool() tools.Tool {
	return tools.Tool{
		Name:        IndicatorsToolName,
		Description: "Compute RSI, MACD and EMA from close prices",
		Parameters:  indicatorsSchema,
		Required:    []string{"closes"},
		Capability:  tools.CapabilityCompute,
		Timeout:     5 * time.Second,
		Func: func(ctx context.Context, params map[string]any) (tools.Result, error) {
			closes, err := tools.ParamFloats(params, "closes")
			if err != nil {
				return tools.Failf("%v", err), nil
			}
			rsiPeriod := tools.ParamInt(params, "rsi_period", defaultRSIPeriod)
			emaPeriod := tools.ParamInt(params, "ema_period", defaultEMAPeriod)
			if rsiPeriod < 2 || emaPeriod < 2 {
				return tools.Failf("periods must be >= 2"), nil
			}
			return Indicators(closes, rsiPeriod, emaPeriod), nil
		},
	}
}

// Indicators 计算最新一根的指标值
func Indicators(closes []float64, rsiPeriod, emaPeriod int) tools.Result {
	payload := map[string]any{"count": len(closes)}
	if n := len(closes); n > 0 {
		payload["last_close"] = closes[n-1]
	}

	if len(closes) > rsiPeriod {
		rsi := last(talib.Rsi(closes, rsiPeriod))
		payload["rsi"] = round(rsi)
		payload["rsi_signal"] = rsiSignal(rsi)
	}
	if len(closes) >= emaPeriod {
		ema := last(talib.Ema(closes, emaPeriod))
		payload["ema"] = round(ema)
		payload["ema_period"] = emaPeriod
		payload["price_vs_ema"] = "below"
		if closes[len(closes)-1] > ema {
			payload["price_vs_ema"] = "above"
		}
	}
	if len(closes) >= defaultMACDSlow+defaultMACDSignal-1 {
		macd, signal, hist := talib.Macd(closes, defaultMACDFast, defaultMACDSlow, defaultMACDSignal)
		payload["macd"] = map[string]any{
			"macd":      round(last(macd)),
			"signal":    round(last(signal)),
			"histogram": round(last(hist)),
		}
	}

	if _, hasRSI := payload["rsi"]; !hasRSI {
		if _, hasEMA := payload["ema"]; !hasEMA {
			return tools.Failf("not enough data: %d closes, need more than %d", len(closes), rsiPeriod)
		}
	}
	return tools.OK(payload)
}

// Register 把行情工具注册到注册表
func Register(reg *tools.Registry, source KlineSource) error {
	if err := reg.Register(NewKlinesTool(source)); err != nil {
		return err
	}
	return reg.Register(NewIndicatorsTool())
}

func rsiSignal(rsi float64) string {
	switch {
	case rsi >= 70:
		return "overbought"
	case rsi <= 30:
		return "oversold"
	default:
		return "neutral"
	}
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}
