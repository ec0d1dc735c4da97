package reflection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentcouncil/agent/consensus"
	"github.com/BaSui01/agentcouncil/internal/metrics"
	"github.com/BaSui01/agentcouncil/internal/pool"
	"github.com/BaSui01/agentcouncil/testutil"
	"github.com/BaSui01/agentcouncil/testutil/fixtures"
	"github.com/BaSui01/agentcouncil/types"
)

// tech long 80, sentiment long 60, onchain short 70 -> long
func longConsensus(t *testing.T) types.ConsensusResult {
	agg := consensus.NewAggregator(nil, nil, types.TradingDirections)
	res := agg.Aggregate(context.Background(), fixtures.TradingVotes())
	require.Equal(t, types.DirectionLong, res.Direction)
	return res
}

func chanJournal() (Journal, <-chan Record) {
	ch := make(chan Record, 8)
	return JournalFunc(func(_ context.Context, rec Record) error {
		ch <- rec
		return nil
	}), ch
}

func newEngine(t *testing.T, policy Policy, opts ...Option) (*Engine, *MemoryWeightStore) {
	store := newMemoryStore(t)
	e, err := NewEngine(store, policy, opts...)
	require.NoError(t, err)
	return e, store
}

func TestTradeOutcome(t *testing.T) {
	long := types.ConsensusResult{Direction: types.DirectionLong}
	hold := types.ConsensusResult{Direction: types.DirectionHold}

	tests := []struct {
		name      string
		consensus types.ConsensusResult
		pnl       string
		want      types.Direction
	}{
		{"profit confirms consensus", long, "12.5", types.DirectionLong},
		{"loss favors opposite", long, "-3", types.DirectionShort},
		{"flat is neutral", long, "0", ""},
		{"hold profit", hold, "1", types.DirectionHold},
		{"hold loss has no opposite", hold, "-1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := TradeOutcome("s", tt.consensus, decimal.RequireFromString(tt.pnl))
			assert.Equal(t, tt.want, out.FavorableDirection)
			assert.False(t, out.At.IsZero())
		})
	}
}

func TestEngine_RewardsCorrectWinners(t *testing.T) {
	t.Parallel()
	e, store := newEngine(t, DefaultPolicy())
	ctx := context.Background()

	rec, err := e.Reflect(ctx, TradeOutcome("s-1", longConsensus(t), decimal.NewFromInt(40)))
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{"tech": 0.05, "sentiment": 0.05}, rec.AgentCredit)
	assert.InDelta(t, 1.05, rec.Weights["tech"], 1e-9)

	w, _ := store.Get(ctx, "onchain")
	assert.Equal(t, DefaultWeight, w, "dissenter is left untouched")
	w, _ = store.Get(ctx, "sentiment")
	assert.InDelta(t, 1.05, w, 1e-9)
}

func TestEngine_PenalizesWrongWinners(t *testing.T) {
	t.Parallel()
	e, store := newEngine(t, DefaultPolicy())
	ctx := context.Background()

	rec, err := e.Reflect(ctx, TradeOutcome("s-2", longConsensus(t), decimal.NewFromInt(-15)))
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"tech": -0.03, "sentiment": -0.03}, rec.AgentCredit)
	assert.Equal(t, types.DirectionShort, rec.FavorableDirection)

	w, _ := store.Get(ctx, "tech")
	assert.InDelta(t, 0.97, w, 1e-9)
	w, _ = store.Get(ctx, "onchain")
	assert.Equal(t, DefaultWeight, w)
}

func TestEngine_RewardCorrectDissent(t *testing.T) {
	t.Parallel()
	policy := DefaultPolicy()
	policy.RewardCorrectDissent = true
	e, store := newEngine(t, policy)
	ctx := context.Background()

	rec, err := e.Reflect(ctx, TradeOutcome("s-3", longConsensus(t), decimal.NewFromInt(-15)))
	require.NoError(t, err)
	assert.Equal(t, 0.05, rec.AgentCredit["onchain"])

	w, _ := store.Get(ctx, "onchain")
	assert.InDelta(t, 1.05, w, 1e-9)
}

func TestEngine_ConfigurableAsymmetry(t *testing.T) {
	t.Parallel()
	e, store := newEngine(t, Policy{Reward: 0.1, Penalty: -0.1})
	ctx := context.Background()

	_, err := e.Reflect(ctx, TradeOutcome("s-4", longConsensus(t), decimal.NewFromInt(-1)))
	require.NoError(t, err)
	w, _ := store.Get(ctx, "tech")
	assert.InDelta(t, 0.9, w, 1e-9)
}

func TestEngine_NeutralOutcomeStillJournals(t *testing.T) {
	t.Parallel()
	journal, written := chanJournal()
	e, store := newEngine(t, DefaultPolicy(), WithJournal(journal))

	rec, err := e.Reflect(context.Background(), TradeOutcome("s-5", longConsensus(t), decimal.Zero))
	require.NoError(t, err)
	assert.Empty(t, rec.AgentCredit)

	got, ok := testutil.WaitForChannel[Record](written, time.Second)
	require.True(t, ok)
	assert.Equal(t, "s-5", got.SessionID)

	all, _ := store.All(context.Background())
	assert.Empty(t, all)
}

func TestEngine_JournalThroughPoolDoesNotBlock(t *testing.T) {
	t.Parallel()
	p := pool.NewGoroutinePool(pool.Config{MaxWorkers: 1, QueueSize: 4}, nil)
	release := make(chan struct{})
	written := make(chan Record, 1)
	slow := JournalFunc(func(_ context.Context, rec Record) error {
		<-release
		written <- rec
		return nil
	})
	reg := prometheus.NewRegistry()
	e, _ := newEngine(t, DefaultPolicy(),
		WithJournal(slow),
		WithPool(p),
		WithMetrics(metrics.NewCollector("reflection_test", nil, reg)),
	)

	start := time.Now()
	rec, err := e.Reflect(context.Background(), TradeOutcome("s-6", longConsensus(t), decimal.NewFromInt(1)))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Len(t, rec.Weights, 2)

	close(release)
	got, ok := testutil.WaitForChannel[Record](written, time.Second)
	require.True(t, ok)
	assert.Equal(t, rec.AgentCredit, got.AgentCredit)
	p.Close()

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if f.GetName() == "reflection_test_agent_weight" {
			found = true
			assert.Len(t, f.GetMetric(), 2)
		}
	}
	assert.True(t, found)
}

type flakyStore struct {
	*MemoryWeightStore
	failFor string
}

func (s *flakyStore) Adjust(ctx context.Context, id string, delta float64) (float64, error) {
	if id == s.failFor {
		return 0, errors.New("store unavailable")
	}
	return s.MemoryWeightStore.Adjust(ctx, id, delta)
}

func TestEngine_AdjustFailureDoesNotStopOthers(t *testing.T) {
	t.Parallel()
	logger, logs := testutil.ObservedLogger()
	store := &flakyStore{MemoryWeightStore: newMemoryStore(t), failFor: "tech"}
	e, err := NewEngine(store, DefaultPolicy(), WithLogger(logger))
	require.NoError(t, err)

	rec, err := e.Reflect(context.Background(), TradeOutcome("s-7", longConsensus(t), decimal.NewFromInt(1)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent tech")
	assert.Equal(t, map[string]float64{"sentiment": 0.05}, rec.AgentCredit)
	assert.Equal(t, 1, logs.FilterMessage("weight adjust failed").Len())
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(nil, DefaultPolicy())
	assert.Error(t, err)

	_, err = NewEngine(newMemoryStore(t), Policy{Reward: -1})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
	_, err = NewEngine(newMemoryStore(t), Policy{Reward: 0.05, Penalty: 0.03})
	assert.Error(t, err)
}
