package reflection

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// 权重默认值与边界
const (
	DefaultWeight    = 1.0
	DefaultMinWeight = 0.5
	DefaultMaxWeight = 2.0
)

// WeightStore 跨会话的 Agent 权重存储。未出现过的 Agent 权重为 DefaultWeight。
// Adjust 必须原子地完成读改写，并把结果钳制在 Bounds 内。
type WeightStore interface {
	Get(ctx context.Context, agentID string) (float64, error)
	Adjust(ctx context.Context, agentID string, delta float64) (float64, error)
	All(ctx context.Context) (map[string]float64, error)
}

// Bounds 权重上下限
type Bounds struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// DefaultBounds 返回 [0.5, 2.0]
func DefaultBounds() Bounds {
	return Bounds{Min: DefaultMinWeight, Max: DefaultMaxWeight}
}

// Validate 校验边界，默认权重必须落在区间内
func (b Bounds) Validate() error {
	if math.IsNaN(b.Min) || math.IsNaN(b.Max) || b.Min <= 0 || b.Min > b.Max {
		return fmt.Errorf("invalid weight bounds [%v, %v]", b.Min, b.Max)
	}
	if DefaultWeight < b.Min || DefaultWeight > b.Max {
		return fmt.Errorf("weight bounds [%v, %v] exclude default weight %v", b.Min, b.Max, DefaultWeight)
	}
	return nil
}

// Clamp 把 w 钳制到区间内，NaN 视为默认权重
func (b Bounds) Clamp(w float64) float64 {
	if math.IsNaN(w) {
		return DefaultWeight
	}
	return math.Max(b.Min, math.Min(b.Max, w))
}

// MemoryWeightStore 进程内权重存储
type MemoryWeightStore struct {
	mu      sync.Mutex
	bounds  Bounds
	weights map[string]float64
}

// NewMemoryWeightStore 创建内存存储，initial 中的值会被钳制
func NewMemoryWeightStore(bounds Bounds, initial map[string]float64) (*MemoryWeightStore, error) {
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	s := &MemoryWeightStore{bounds: bounds, weights: make(map[string]float64, len(initial))}
	for id, w := range initial {
		s.weights[id] = bounds.Clamp(w)
	}
	return s, nil
}

func (s *MemoryWeightStore) Get(_ context.Context, agentID string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.weights[agentID]; ok {
		return w, nil
	}
	return DefaultWeight, nil
}

func (s *MemoryWeightStore) Adjust(_ context.Context, agentID string, delta float64) (float64, error) {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return 0, fmt.Errorf("invalid weight delta %v", delta)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.weights[agentID]
	if !ok {
		w = DefaultWeight
	}
	w = s.bounds.Clamp(w + delta)
	s.weights[agentID] = w
	return w, nil
}

func (s *MemoryWeightStore) All(context.Context) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.weights))
	for k, v := range s.weights {
		out[k] = v
	}
	return out, nil
}

var _ WeightStore = (*MemoryWeightStore)(nil)
