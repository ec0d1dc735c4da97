package market

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// ErrUnknownSymbol 数据源没有该交易对
var ErrUnknownSymbol = errors.New("unknown symbol")

// Kline 单根 K 线
type Kline struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// KlineSource 行情数据源，返回按时间升序排列的最近 limit 根 K 线
type KlineSource interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
}

// KlineSourceFunc 把函数适配为 KlineSource
type KlineSourceFunc func(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)

func (f KlineSourceFunc) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	return f(ctx, symbol, interval, limit)
}

// StaticKlineSource 内存数据源，用于测试与演示。interval 被忽略。
type StaticKlineSource struct {
	mu   sync.RWMutex
	data map[string][]Kline
}

// NewStaticKlineSource 创建内存数据源
func NewStaticKlineSource() *StaticKlineSource {
	return &StaticKlineSource{data: make(map[string][]Kline)}
}

// Set 设置交易对的 K 线
func (s *StaticKlineSource) Set(symbol string, klines []Kline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[strings.ToUpper(symbol)] = append([]Kline(nil), klines...)
}

// Klines 返回最近 limit 根 K 线，limit<=0 时返回全部
func (s *StaticKlineSource) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	all, ok := s.data[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	if limit > 0 && limit < len(all) {
		all = all[len(all)-limit:]
	}
	return append([]Kline(nil), all...), nil
}

// SyntheticKlines 生成确定性的演示行情：以 start 为起点按 drift 漂移，并叠加正弦波动
func SyntheticKlines(start, drift float64, n int, interval time.Duration, from time.Time) []Kline {
	out := make([]Kline, 0, n)
	price := start
	for i := 0; i < n; i++ {
		open := price
		price = start + drift*float64(i+1) + start*0.01*math.Sin(float64(i)/3)
		hi := math.Max(open, price) * 1.002
		lo := math.Min(open, price) * 0.998
		out = append(out, Kline{
			OpenTime: from.Add(time.Duration(i) * interval),
			Open:     open,
			High:     hi,
			Low:      lo,
			Close:    price,
			Volume:   1000 + float64(i%7)*50,
		})
	}
	return out
}

// Closes 提取收盘价序列
func Closes(klines []Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Close
	}
	return out
}
