package consensus

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/internal/metrics"
	"github.com/BaSui01/agentcouncil/types"
)

// scoreEpsilon 判定两个聚合置信度是否并列
const scoreEpsilon = 1e-9

// 并列裁决方式，记录在 ConsensusResult.TieBreak
const (
	TieBreakNeutral    = "neutral"
	TieBreakVoteCount  = "vote_count"
	TieBreakMaxWeight  = "max_weight"
	TieBreakLexical    = "lexical"
	defaultStoreWeight = 1.0
)

// WeightSource 提供 Agent 的学习权重
type WeightSource interface {
	Get(ctx context.Context, agentID string) (float64, error)
}

// StaticWeights 固定权重表，未登记的 Agent 权重为 1.0
type StaticWeights map[string]float64

// Get 实现 WeightSource
func (s StaticWeights) Get(_ context.Context, agentID string) (float64, error) {
	if w, ok := s[agentID]; ok {
		return w, nil
	}
	return defaultStoreWeight, nil
}

// Option 聚合器可选项
type Option func(*Aggregator)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger.With(zap.String("component", "consensus"))
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(a *Aggregator) { a.metrics = c }
}

// Aggregator 加权投票聚合器，无内部可变状态，可并发使用
type Aggregator struct {
	weights     WeightSource
	baseWeights map[types.AgentRole]float64
	directions  types.DirectionSet
	logger      *zap.Logger
	metrics     *metrics.Collector
}

// NewAggregator 创建聚合器。weights 为 nil 时所有 Agent 学习权重为 1.0；
// baseWeights 中缺失的角色基础权重为 1.0。
func NewAggregator(weights WeightSource, baseWeights map[types.AgentRole]float64, directions types.DirectionSet, opts ...Option) *Aggregator {
	if weights == nil {
		weights = StaticWeights(nil)
	}
	base := make(map[types.AgentRole]float64, len(baseWeights))
	for role, w := range baseWeights {
		base[role] = w
	}
	a := &Aggregator{
		weights:     weights,
		baseWeights: base,
		directions:  directions,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Directions 返回聚合器使用的方向集合
func (a *Aggregator) Directions() types.DirectionSet { return a.directions }

type tally struct {
	direction types.Direction
	score     float64
	votes     int
	maxWeight float64
}

// Aggregate 合成投票。零票或总权重为零时返回中性方向、置信度 0。
func (a *Aggregator) Aggregate(ctx context.Context, votes []types.AgentVote) types.ConsensusResult {
	result := types.ConsensusResult{
		Direction:         a.directions.Neutral,
		ContributingVotes: []types.WeightedVote{},
		DissentNotes:      []types.DissentNote{},
		Scores:            map[types.Direction]float64{},
	}
	if len(votes) == 0 {
		a.record(result)
		return result
	}

	var totalWeight float64
	tallies := make(map[types.Direction]*tally)
	for _, vote := range votes {
		vote = a.sanitize(vote)
		store := a.storeWeight(ctx, vote.AgentID)
		base := a.baseWeight(vote.Role)
		eff := store * base
		result.ContributingVotes = append(result.ContributingVotes, types.WeightedVote{
			Vote:            vote,
			StoreWeight:     store,
			BaseWeight:      base,
			EffectiveWeight: eff,
		})
		totalWeight += eff

		t, ok := tallies[vote.Direction]
		if !ok {
			t = &tally{direction: vote.Direction}
			tallies[vote.Direction] = t
		}
		t.score += eff * vote.Confidence
		t.votes++
		if eff > t.maxWeight {
			t.maxWeight = eff
		}
	}

	if totalWeight <= 0 {
		a.logger.Warn("total vote weight is zero, returning neutral", zap.Int("votes", len(votes)))
		for _, wv := range result.ContributingVotes {
			if wv.Vote.Direction != result.Direction {
				result.DissentNotes = append(result.DissentNotes, dissent(wv.Vote))
			}
		}
		a.record(result)
		return result
	}

	candidates := make([]*tally, 0, len(tallies))
	for _, t := range tallies {
		t.score /= totalWeight
		result.Scores[t.direction] = t.score
		candidates = append(candidates, t)
	}

	winner, tieBreak := a.pick(candidates)
	result.Direction = winner.direction
	result.AggregateConfidence = winner.score
	result.TieBreak = tieBreak

	for _, wv := range result.ContributingVotes {
		if wv.Vote.Direction != result.Direction {
			result.DissentNotes = append(result.DissentNotes, dissent(wv.Vote))
		}
	}

	a.logger.Debug("consensus aggregated",
		zap.String("direction", string(result.Direction)),
		zap.Float64("confidence", result.AggregateConfidence),
		zap.Int("votes", len(votes)),
		zap.Int("dissent", len(result.DissentNotes)),
		zap.String("tie_break", tieBreak),
	)
	a.record(result)
	return result
}

// pick 选出最高分方向，并列时按中性、票数、单票最高权重、字典序裁决
func (a *Aggregator) pick(candidates []*tally) (*tally, string) {
	best := candidates[0].score
	for _, t := range candidates[1:] {
		if t.score > best {
			best = t.score
		}
	}
	tied := make([]*tally, 0, len(candidates))
	for _, t := range candidates {
		if math.Abs(t.score-best) <= scoreEpsilon {
			tied = append(tied, t)
		}
	}
	if len(tied) == 1 {
		return tied[0], ""
	}

	for _, t := range tied {
		if t.direction == a.directions.Neutral {
			return t, TieBreakNeutral
		}
	}

	tied = keepMax(tied, func(t *tally) float64 { return float64(t.votes) })
	if len(tied) == 1 {
		return tied[0], TieBreakVoteCount
	}

	tied = keepMax(tied, func(t *tally) float64 { return t.maxWeight })
	if len(tied) == 1 {
		return tied[0], TieBreakMaxWeight
	}

	sort.Slice(tied, func(i, j int) bool { return tied[i].direction < tied[j].direction })
	return tied[0], TieBreakLexical
}

func keepMax(ts []*tally, key func(*tally) float64) []*tally {
	best := math.Inf(-1)
	for _, t := range ts {
		if k := key(t); k > best {
			best = k
		}
	}
	out := ts[:0:0]
	for _, t := range ts {
		if math.Abs(key(t)-best) <= scoreEpsilon {
			out = append(out, t)
		}
	}
	return out
}

// sanitize 非法方向按保守默认处理，置信度截断到 [0,100]
func (a *Aggregator) sanitize(v types.AgentVote) types.AgentVote {
	if !a.directions.Contains(v.Direction) {
		a.logger.Warn("vote direction outside set, using conservative default",
			zap.String("agent_id", v.AgentID),
			zap.String("direction", string(v.Direction)),
			zap.String("set", a.directions.Name),
		)
		v.Direction = a.directions.Neutral
		v.Confidence = 0
	}
	v.Confidence = clampConfidence(v.Confidence)
	return v
}

func (a *Aggregator) storeWeight(ctx context.Context, agentID string) float64 {
	w, err := a.weights.Get(ctx, agentID)
	if err != nil {
		a.logger.Warn("weight lookup failed, using default",
			zap.String("agent_id", agentID),
			zap.Error(err),
		)
		return defaultStoreWeight
	}
	if w < 0 || math.IsNaN(w) {
		return 0
	}
	return w
}

func (a *Aggregator) baseWeight(role types.AgentRole) float64 {
	if w, ok := a.baseWeights[role]; ok {
		return w
	}
	return 1.0
}

func (a *Aggregator) record(r types.ConsensusResult) {
	a.metrics.RecordConsensus(string(r.Direction), r.AggregateConfidence)
}

func dissent(v types.AgentVote) types.DissentNote {
	return types.DissentNote{AgentID: v.AgentID, Direction: v.Direction, Rationale: v.Rationale}
}

func clampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c) || c < 0:
		return 0
	case c > 100:
		return 100
	}
	return c
}
