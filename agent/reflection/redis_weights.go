package reflection

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/internal/cache"
)

// adjustScript 在一次往返内读取、相加、钳制并写回权重。
// KEYS[1] 权重哈希；ARGV: agent, delta, min, max, default
const adjustScript = `
local cur = redis.call('HGET', KEYS[1], ARGV[1])
local w = tonumber(ARGV[5])
if cur then
	w = tonumber(cur)
end
w = w + tonumber(ARGV[2])
local lo = tonumber(ARGV[3])
local hi = tonumber(ARGV[4])
if w < lo then w = lo end
if w > hi then w = hi end
local s = string.format('%.17g', w)
redis.call('HSET', KEYS[1], ARGV[1], s)
return s
`

// RedisWeightStore 把权重存放在一个 Redis 哈希中，所有进程共享
type RedisWeightStore struct {
	client *redis.Client
	key    string
	bounds Bounds
	script *redis.Script
	logger *zap.Logger
}

// NewRedisWeightStore 使用 cache.Manager 的客户端，键为 "<prefix>weights"
func NewRedisWeightStore(mgr *cache.Manager, bounds Bounds, logger *zap.Logger) (*RedisWeightStore, error) {
	if mgr == nil {
		return nil, fmt.Errorf("redis weight store requires a cache manager")
	}
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisWeightStore{
		client: mgr.Client(),
		key:    mgr.Key("weights"),
		bounds: bounds,
		script: redis.NewScript(adjustScript),
		logger: logger.With(zap.String("component", "weight_store")),
	}, nil
}

func (s *RedisWeightStore) Get(ctx context.Context, agentID string) (float64, error) {
	raw, err := s.client.HGet(ctx, s.key, agentID).Result()
	if err == redis.Nil {
		return DefaultWeight, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get weight %s: %w", agentID, err)
	}
	w, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		s.logger.Warn("corrupt weight value, using default", zap.String("agent_id", agentID), zap.String("raw", raw))
		return DefaultWeight, nil
	}
	return s.bounds.Clamp(w), nil
}

func (s *RedisWeightStore) Adjust(ctx context.Context, agentID string, delta float64) (float64, error) {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return 0, fmt.Errorf("invalid weight delta %v", delta)
	}
	raw, err := s.script.Run(ctx, s.client, []string{s.key},
		agentID,
		formatFloat(delta),
		formatFloat(s.bounds.Min),
		formatFloat(s.bounds.Max),
		formatFloat(DefaultWeight),
	).Text()
	if err != nil {
		return 0, fmt.Errorf("adjust weight %s: %w", agentID, err)
	}
	w, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("adjust weight %s: parse %q: %w", agentID, raw, err)
	}
	s.logger.Debug("weight adjusted", zap.String("agent_id", agentID), zap.Float64("delta", delta), zap.Float64("weight", w))
	return w, nil
}

func (s *RedisWeightStore) All(ctx context.Context) (map[string]float64, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list weights: %w", err)
	}
	out := make(map[string]float64, len(raw))
	for id, v := range raw {
		w, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		out[id] = s.bounds.Clamp(w)
	}
	return out, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

var _ WeightStore = (*RedisWeightStore)(nil)
