package safety

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Ledger 交易台账，Guard 只读
type Ledger interface {
	// OpenPosition 返回资源上的未平仓头寸
	OpenPosition(ctx context.Context, resource string) (Position, bool, error)
	// RealizedLossToday 返回 day 所在自然日（UTC）净已实现亏损，盈利时为 0
	RealizedLossToday(ctx context.Context, day time.Time) (decimal.Decimal, error)
	// RecentClosed 返回最近 n 笔平仓，最新的在前
	RecentClosed(ctx context.Context, n int) ([]ClosedTrade, error)
}

// MemoryLedger 进程内台账
type MemoryLedger struct {
	mu        sync.RWMutex
	positions map[string]Position
	closed    []ClosedTrade
}

// NewMemoryLedger 创建空台账
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{positions: make(map[string]Position)}
}

// SetPosition 记录或替换头寸
func (l *MemoryLedger) SetPosition(p Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions[p.Resource] = p
}

// RecordClose 平掉资源上的头寸并记录盈亏
func (l *MemoryLedger) RecordClose(t ClosedTrade) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.positions, t.Resource)
	l.closed = append(l.closed, t)
	sort.SliceStable(l.closed, func(i, j int) bool { return l.closed[i].ClosedAt.Before(l.closed[j].ClosedAt) })
}

func (l *MemoryLedger) OpenPosition(_ context.Context, resource string) (Position, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[resource]
	return p, ok, nil
}

func (l *MemoryLedger) RealizedLossToday(_ context.Context, day time.Time) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	y, m, d := day.UTC().Date()
	net := decimal.Zero
	for _, t := range l.closed {
		ty, tm, td := t.ClosedAt.UTC().Date()
		if ty == y && tm == m && td == d {
			net = net.Add(t.PnL)
		}
	}
	if net.IsNegative() {
		return net.Neg(), nil
	}
	return decimal.Zero, nil
}

func (l *MemoryLedger) RecentClosed(_ context.Context, n int) ([]ClosedTrade, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 {
		return nil, nil
	}
	out := make([]ClosedTrade, 0, n)
	for i := len(l.closed) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.closed[i])
	}
	return out, nil
}

var _ Ledger = (*MemoryLedger)(nil)
