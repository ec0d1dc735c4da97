package consensus

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentcouncil/testutil"
	"github.com/BaSui01/agentcouncil/types"
)

type failingWeights struct{}

func (failingWeights) Get(context.Context, string) (float64, error) {
	return 0, errors.New("redis: connection refused")
}

func vote(id string, role types.AgentRole, d types.Direction, conf float64) types.AgentVote {
	return types.AgentVote{AgentID: id, Role: role, Direction: d, Confidence: conf, Rationale: id + " says " + string(d)}
}

func TestAggregate_ZeroVotes(t *testing.T) {
	agg := NewAggregator(nil, nil, types.TradingDirections)
	res := agg.Aggregate(context.Background(), nil)

	assert.Equal(t, types.DirectionHold, res.Direction)
	assert.Zero(t, res.AggregateConfidence)
	assert.Empty(t, res.DissentNotes)
	assert.NotNil(t, res.DissentNotes)
	assert.Empty(t, res.ContributingVotes)
	assert.Empty(t, res.TieBreak)
}

func TestAggregate_ThreeWayTiePrefersNeutral(t *testing.T) {
	agg := NewAggregator(nil, nil, types.TradingDirections)
	res := agg.Aggregate(context.Background(), []types.AgentVote{
		vote("a", types.RoleTechnicalAnalyst, types.DirectionLong, 60),
		vote("b", types.RoleSentimentAnalyst, types.DirectionShort, 60),
		vote("c", types.RoleOnchainAnalyst, types.DirectionHold, 60),
	})

	assert.Equal(t, types.DirectionHold, res.Direction)
	assert.InDelta(t, 20.0, res.AggregateConfidence, 1e-9)
	assert.Equal(t, TieBreakNeutral, res.TieBreak)
	require.Len(t, res.DissentNotes, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, []string{res.DissentNotes[0].AgentID, res.DissentNotes[1].AgentID})
	assert.Len(t, res.ContributingVotes, 3)
}

func TestAggregate_TieBrokenByVoteCount(t *testing.T) {
	agg := NewAggregator(nil, nil, types.TradingDirections)
	// long: 2 票 × 30 = 60，short: 1 票 × 60 = 60
	res := agg.Aggregate(context.Background(), []types.AgentVote{
		vote("a", types.RoleTechnicalAnalyst, types.DirectionLong, 30),
		vote("b", types.RoleSentimentAnalyst, types.DirectionLong, 30),
		vote("c", types.RoleOnchainAnalyst, types.DirectionShort, 60),
	})

	assert.Equal(t, types.DirectionLong, res.Direction)
	assert.Equal(t, TieBreakVoteCount, res.TieBreak)
	assert.InDelta(t, 20.0, res.AggregateConfidence, 1e-9)
}

func TestAggregate_TieBrokenByMaxWeight(t *testing.T) {
	weights := StaticWeights{"a": 1.5, "b": 0.5, "c": 1.0, "d": 1.0}
	agg := NewAggregator(weights, nil, types.TradingDirections)
	// long: 1.5×40 + 0.5×40 = 80，short: 1.0×40 + 1.0×40 = 80；票数相同，long 单票权重更高
	res := agg.Aggregate(context.Background(), []types.AgentVote{
		vote("a", types.RoleTechnicalAnalyst, types.DirectionLong, 40),
		vote("b", types.RoleSentimentAnalyst, types.DirectionLong, 40),
		vote("c", types.RoleOnchainAnalyst, types.DirectionShort, 40),
		vote("d", types.RoleRiskManager, types.DirectionShort, 40),
	})

	assert.Equal(t, types.DirectionLong, res.Direction)
	assert.Equal(t, TieBreakMaxWeight, res.TieBreak)
}

func TestAggregate_LexicalTieBreakIsDeterministic(t *testing.T) {
	agg := NewAggregator(nil, nil, types.TradingDirections)
	votes := []types.AgentVote{
		vote("a", types.RoleTechnicalAnalyst, types.DirectionShort, 50),
		vote("b", types.RoleSentimentAnalyst, types.DirectionLong, 50),
	}
	for i := 0; i < 20; i++ {
		res := agg.Aggregate(context.Background(), votes)
		assert.Equal(t, types.DirectionLong, res.Direction)
		assert.Equal(t, TieBreakLexical, res.TieBreak)
	}
}

func TestAggregate_EffectiveWeights(t *testing.T) {
	weights := StaticWeights{"fin": 1.5}
	base := map[types.AgentRole]float64{types.RoleFinancialExpert: 1.2, types.RoleTeamEvaluator: 0.8}
	agg := NewAggregator(weights, base, types.InvestmentDirections)

	res := agg.Aggregate(context.Background(), []types.AgentVote{
		vote("fin", types.RoleFinancialExpert, types.DirectionBuy, 80),
		vote("team", types.RoleTeamEvaluator, types.DirectionPass, 90),
		vote("legal", types.RoleLegalAdvisor, types.DirectionBuy, 50),
	})

	require.Len(t, res.ContributingVotes, 3)
	assert.InDelta(t, 1.8, res.ContributingVotes[0].EffectiveWeight, 1e-9)
	assert.InDelta(t, 0.8, res.ContributingVotes[1].EffectiveWeight, 1e-9)
	assert.InDelta(t, 1.0, res.ContributingVotes[2].EffectiveWeight, 1e-9)
	assert.Equal(t, 1.0, res.ContributingVotes[2].BaseWeight)

	total := 1.8 + 0.8 + 1.0
	assert.Equal(t, types.DirectionBuy, res.Direction)
	assert.InDelta(t, (1.8*80+1.0*50)/total, res.AggregateConfidence, 1e-9)
	assert.InDelta(t, 0.8*90/total, res.Scores[types.DirectionPass], 1e-9)
	require.Len(t, res.DissentNotes, 1)
	assert.Equal(t, "team", res.DissentNotes[0].AgentID)
	assert.Equal(t, "team says pass", res.DissentNotes[0].Rationale)
}

func TestAggregate_IdenticalVotesYieldWeightedAverage(t *testing.T) {
	agg := NewAggregator(StaticWeights{"a": 2.0, "b": 0.5}, nil, types.TradingDirections)
	res := agg.Aggregate(context.Background(), []types.AgentVote{
		vote("a", types.RoleTechnicalAnalyst, types.DirectionShort, 90),
		vote("b", types.RoleSentimentAnalyst, types.DirectionShort, 40),
	})
	assert.Equal(t, types.DirectionShort, res.Direction)
	assert.InDelta(t, (2.0*90+0.5*40)/2.5, res.AggregateConfidence, 1e-9)
	assert.Empty(t, res.TieBreak)
	assert.Empty(t, res.DissentNotes)
}

func TestAggregate_WeightErrorFallsBackToDefault(t *testing.T) {
	logger, logs := testutil.ObservedLogger()
	agg := NewAggregator(failingWeights{}, nil, types.TradingDirections, WithLogger(logger))

	res := agg.Aggregate(context.Background(), []types.AgentVote{
		vote("a", types.RoleTechnicalAnalyst, types.DirectionLong, 70),
	})

	assert.Equal(t, types.DirectionLong, res.Direction)
	assert.Equal(t, 1.0, res.ContributingVotes[0].StoreWeight)
	assert.Equal(t, 1, logs.FilterMessage("weight lookup failed, using default").Len())
}

func TestAggregate_InvalidDirectionAndConfidence(t *testing.T) {
	agg := NewAggregator(nil, nil, types.TradingDirections)
	res := agg.Aggregate(context.Background(), []types.AgentVote{
		vote("a", types.RoleTechnicalAnalyst, types.DirectionBuy, 90),
		vote("b", types.RoleSentimentAnalyst, types.DirectionLong, 250),
	})

	assert.Equal(t, types.DirectionHold, res.ContributingVotes[0].Vote.Direction)
	assert.Zero(t, res.ContributingVotes[0].Vote.Confidence)
	assert.Equal(t, 100.0, res.ContributingVotes[1].Vote.Confidence)
	assert.Equal(t, types.DirectionLong, res.Direction)
	assert.InDelta(t, 50.0, res.AggregateConfidence, 1e-9)
}

func TestAggregate_ZeroTotalWeight(t *testing.T) {
	agg := NewAggregator(StaticWeights{"a": 0, "b": 0}, nil, types.TradingDirections)
	res := agg.Aggregate(context.Background(), []types.AgentVote{
		vote("a", types.RoleTechnicalAnalyst, types.DirectionLong, 70),
		vote("b", types.RoleSentimentAnalyst, types.DirectionHold, 70),
	})
	assert.Equal(t, types.DirectionHold, res.Direction)
	assert.Zero(t, res.AggregateConfidence)
	require.Len(t, res.DissentNotes, 1)
	assert.Equal(t, "a", res.DissentNotes[0].AgentID)
}

func TestProperty_AggregateBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	dirs := types.TradingDirections.Directions

	properties.Property("confidence stays within [0,100] and winner has the top score", prop.ForAll(
		func(picks []int, confs []float64, weights []float64) bool {
			n := len(picks)
			if len(confs) < n {
				n = len(confs)
			}
			if len(weights) < n {
				n = len(weights)
			}
			store := StaticWeights{}
			votes := make([]types.AgentVote, 0, n)
			for i := 0; i < n; i++ {
				id := string(rune('a' + i%26)) + string(rune('0'+i/26))
				store[id] = weights[i]
				votes = append(votes, vote(id, types.RoleTechnicalAnalyst, dirs[picks[i]], confs[i]))
			}

			res := NewAggregator(store, nil, types.TradingDirections).Aggregate(context.Background(), votes)
			if !types.TradingDirections.Contains(res.Direction) {
				return false
			}
			if res.AggregateConfidence < 0 || res.AggregateConfidence > 100 {
				return false
			}
			if len(votes) == 0 {
				return res.Direction == types.DirectionHold && res.AggregateConfidence == 0
			}
			var sum float64
			for d, s := range res.Scores {
				sum += s
				if s > res.AggregateConfidence+scoreEpsilon {
					t.Logf("direction %s scored %f above winner %f", d, s, res.AggregateConfidence)
					return false
				}
			}
			if sum > 100+1e-6 {
				return false
			}
			dissent := 0
			for _, wv := range res.ContributingVotes {
				if wv.Vote.Direction != res.Direction {
					dissent++
				}
			}
			return dissent == len(res.DissentNotes) && !math.IsNaN(res.AggregateConfidence)
		},
		gen.SliceOf(gen.IntRange(0, len(dirs)-1)),
		gen.SliceOf(gen.Float64Range(0, 100)),
		gen.SliceOf(gen.Float64Range(0.5, 2.0)),
	))

	properties.TestingRun(t)
}
