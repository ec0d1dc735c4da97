package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/agentcouncil/internal/metrics"
	"github.com/BaSui01/agentcouncil/llm"
	"github.com/BaSui01/agentcouncil/llm/retry"
	"github.com/BaSui01/agentcouncil/llm/tools"
	"github.com/BaSui01/agentcouncil/testutil"
	"github.com/BaSui01/agentcouncil/testutil/fixtures"
	"github.com/BaSui01/agentcouncil/testutil/mocks"
	"github.com/BaSui01/agentcouncil/types"
)

func isPlanRequest(req *llm.ChatRequest) bool {
	return len(req.Messages) > 0 && strings.Contains(req.Messages[0].Content, "planning stage")
}

// routedProvider 对 Plan 请求返回固定计划，Solve 请求交给 solve 处理并记录提示词
type routedProvider struct {
	*mocks.MockProvider
	mu          sync.Mutex
	solvePrompt string
}

func newRoutedProvider(plan string, solve func(req *llm.ChatRequest) (string, error)) *routedProvider {
	p := &routedProvider{}
	p.MockProvider = mocks.NewMockProvider().WithCompletionFunc(func(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		if isPlanRequest(req) {
			return &llm.ChatResponse{Content: plan, Usage: llm.ChatUsage{TotalTokens: 5}}, nil
		}
		p.mu.Lock()
		p.solvePrompt = req.Messages[len(req.Messages)-1].Content
		p.mu.Unlock()
		if solve == nil {
			return &llm.ChatResponse{Content: "final analysis", Usage: llm.ChatUsage{TotalTokens: 7}}, nil
		}
		content, err := solve(req)
		if err != nil {
			return nil, err
		}
		return &llm.ChatResponse{Content: content}, nil
	})
	return p
}

func (p *routedProvider) SolvePrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.solvePrompt
}

func fastRetry(attempts int) *retry.RetryPolicy {
	return retry.PolicyFromAttempts(attempts, time.Millisecond, 2*time.Millisecond, 2)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PlanRetry = fastRetry(3)
	cfg.SolveRetry = fastRetry(2)
	cfg.PartialSolveTimeout = time.Second
	return cfg
}

func newRegistry(t *testing.T, ts ...tools.Tool) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry(nil)
	for _, tool := range ts {
		require.NoError(t, r.Register(tool))
	}
	return r
}

func testTurn() Turn {
	return Turn{
		SessionID: "s-1",
		AgentID:   "tech",
		Role:      types.RoleTechnicalAnalyst,
		Task:      "Assess BTCUSDT on the 1h timeframe",
	}
}

func TestExecutor_ToolTimeoutIsolatedFromOtherSteps(t *testing.T) {
	klines := mocks.HangingTool("get_klines")
	klines.Required = []string{"symbol"}
	indicators := mocks.StaticTool("calc_indicators", map[string]any{"rsi": 61.5}, "closes")

	plan := fixtures.FencedPlan(
		fixtures.PlanStep{Tool: "get_klines", Params: map[string]any{"symbol": "BTCUSDT"}},
		fixtures.PlanStep{Tool: "calc_indicators", Params: map[string]any{"closes": []float64{1, 2, 3}}},
	)
	provider := newRoutedProvider(plan, nil)

	cfg := testConfig()
	cfg.ToolTimeout = 50 * time.Millisecond
	exec := NewExecutor(provider, newRegistry(t, klines, indicators), cfg)

	start := time.Now()
	res, err := exec.Run(testutil.TestContext(t), testTurn())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Equal(t, StrategyJSONFence, res.PlanStrategy)
	require.Len(t, res.Observations, 2)
	assert.False(t, res.Observations[0].Success)
	assert.Contains(t, res.Observations[0].Error, "timeout")
	assert.True(t, res.Observations[1].Success)
	assert.Equal(t, 61.5, res.Observations[1].Payload["rsi"])
	assert.Equal(t, 1, res.SuccessCount)
	assert.False(t, res.Degraded)
	assert.Equal(t, "final analysis", res.Answer)
	assert.Equal(t, 12, res.TotalTokens)

	prompt := provider.SolvePrompt()
	assert.Contains(t, prompt, "Step 1: get_klines")
	assert.Contains(t, prompt, "tool failed: timeout")
	assert.Contains(t, prompt, `{"rsi":61.5}`)
	assert.Less(t, strings.Index(prompt, "get_klines"), strings.Index(prompt, "calc_indicators"))
	assert.NotContains(t, prompt, "ANALYSIS DEGRADED")
}

func TestExecutor_AllToolsFailedIsDegraded(t *testing.T) {
	plan := fixtures.PlanJSON(fixtures.PlanStep{Tool: "a"}, fixtures.PlanStep{Tool: "b"})
	provider := newRoutedProvider(plan, nil)
	exec := NewExecutor(provider, newRegistry(t,
		mocks.FailingTool("a", "exchange unavailable"),
		mocks.FailingTool("b", "rate limited upstream"),
	), testConfig())

	res, err := exec.Run(testutil.TestContext(t), testTurn())
	require.NoError(t, err)
	assert.Equal(t, 0, res.SuccessCount)
	assert.True(t, res.Degraded)
	assert.False(t, res.SolveFallback)

	prompt := provider.SolvePrompt()
	assert.Contains(t, prompt, "ANALYSIS DEGRADED")
	assert.Contains(t, prompt, "tool failed: exchange unavailable")
	assert.Contains(t, prompt, "tool failed: rate limited upstream")
}

func TestExecutor_EmptyPlanSkipsExecute(t *testing.T) {
	recorder := mocks.NewToolRecorder()
	provider := newRoutedProvider(fixtures.EmptyPlan, nil)
	exec := NewExecutor(provider, newRegistry(t, recorder.Wrap(mocks.EchoTool("a"))), testConfig())

	res, err := exec.Run(testutil.TestContext(t), testTurn())
	require.NoError(t, err)
	assert.Empty(t, res.Plan)
	assert.Empty(t, res.Observations)
	assert.False(t, res.Degraded)
	assert.Equal(t, 0, recorder.GetCallCount())
	assert.Contains(t, provider.SolvePrompt(), "No tools were used")
	assert.Equal(t, 2, provider.GetCallCount())
}

func TestExecutor_UnparseablePlanFallsBackToSolve(t *testing.T) {
	logger, logs := testutil.ObservedLogger()
	provider := newRoutedProvider("Let me think about the chart first.", nil)
	exec := NewExecutor(provider, newRegistry(t, mocks.EchoTool("a")), testConfig(), WithLogger(logger))

	res, err := exec.Run(testutil.TestContext(t), testTurn())
	require.NoError(t, err)
	assert.Empty(t, res.Plan)
	assert.Empty(t, res.PlanStrategy)
	assert.Equal(t, "final analysis", res.Answer)

	entries := logs.FilterMessage("plan unparseable, falling back to no-tool solve").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Let me think about the chart first.", entries[0].ContextMap()["raw_response"])
}

func TestExecutor_InvalidStepsBecomeFailedObservations(t *testing.T) {
	recorder := mocks.NewToolRecorder()
	plan := fixtures.PlanJSON(
		fixtures.PlanStep{Tool: "nope"},
		fixtures.PlanStep{Tool: "get_klines"},
		fixtures.PlanStep{Tool: "get_klines", Params: map[string]any{"symbol": "BTCUSDT"}},
	)
	provider := newRoutedProvider(plan, nil)
	exec := NewExecutor(provider, newRegistry(t, recorder.Wrap(mocks.EchoTool("get_klines", "symbol"))), testConfig())

	res, err := exec.Run(testutil.TestContext(t), testTurn())
	require.NoError(t, err)
	require.Len(t, res.Observations, 3)

	assert.Equal(t, "unknown tool: nope", res.Observations[0].Error)
	assert.False(t, res.Observations[0].Dispatched)
	assert.Contains(t, res.Observations[1].Error, "missing required")
	assert.False(t, res.Observations[1].Dispatched)
	assert.True(t, res.Observations[2].Success)
	assert.True(t, res.Observations[2].Dispatched)

	assert.Equal(t, 1, recorder.GetCallCount())
	assert.Equal(t, 1, res.SuccessCount)
	assert.False(t, res.Degraded)
}

func TestExecutor_PlanRetryExhausted(t *testing.T) {
	upstream := types.NewError(types.ErrUpstreamError, "503 from provider").WithRetryable(true)
	provider := mocks.NewErrorProvider(upstream)
	exec := NewExecutor(provider, nil, testConfig())

	res, err := exec.Run(testutil.TestContext(t), testTurn())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, types.IsErrorCode(err, types.ErrPlanFailed))
	assert.ErrorIs(t, err, upstream)
	assert.Equal(t, 3, provider.GetCallCount())
}

func TestExecutor_PlanNonTransientErrorNotRetried(t *testing.T) {
	provider := mocks.NewErrorProvider(types.NewError(types.ErrInvalidRequest, "invalid api key"))
	exec := NewExecutor(provider, nil, testConfig())

	_, err := exec.Run(testutil.TestContext(t), testTurn())
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrPlanFailed))
	assert.Equal(t, 1, provider.GetCallCount())
}

func TestExecutor_PlanRecoversAfterTransientFailure(t *testing.T) {
	provider := mocks.NewMockProvider().WithScript(
		mocks.Reply{Err: errors.New("connection reset")},
		mocks.Reply{Content: fixtures.EmptyPlan},
		mocks.Reply{Content: "answer"},
	)
	exec := NewExecutor(provider, nil, testConfig())

	res, err := exec.Run(testutil.TestContext(t), testTurn())
	require.NoError(t, err)
	assert.Equal(t, "answer", res.Answer)
	assert.Equal(t, 3, provider.GetCallCount())
}

func TestExecutor_SolveFailureComposesFallback(t *testing.T) {
	plan := fixtures.PlanJSON(fixtures.PlanStep{Tool: "calc_indicators"})
	provider := newRoutedProvider(plan, func(*llm.ChatRequest) (string, error) {
		return "", errors.New("provider overloaded")
	})
	exec := NewExecutor(provider, newRegistry(t, mocks.StaticTool("calc_indicators", map[string]any{"ema": 42.0})), testConfig())

	res, err := exec.Run(testutil.TestContext(t), testTurn())
	require.NoError(t, err)
	assert.True(t, res.SolveFallback)
	assert.True(t, res.Degraded)
	assert.True(t, strings.HasPrefix(res.Answer, "ANALYSIS DEGRADED"))
	assert.Contains(t, res.Answer, `"ema":42`)
	// Plan 1 次 + Solve 2 次尝试
	assert.Equal(t, 3, provider.GetCallCount())
}

func TestExecutor_CancelledTurnRunsPartialSolve(t *testing.T) {
	plan := fixtures.PlanJSON(fixtures.PlanStep{Tool: "fast"}, fixtures.PlanStep{Tool: "hang"})
	provider := newRoutedProvider(plan, nil)
	exec := NewExecutor(provider, newRegistry(t,
		mocks.StaticTool("fast", map[string]any{"ok": true}),
		mocks.HangingTool("hang"),
	), testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	res, err := exec.Run(ctx, testTurn())
	require.NoError(t, err)
	assert.True(t, res.Partial)
	require.Len(t, res.Observations, 2)
	assert.True(t, res.Observations[0].Success)
	assert.Equal(t, "cancelled", res.Observations[1].Error)
	assert.Equal(t, "final analysis", res.Answer)

	prompt := provider.SolvePrompt()
	assert.Contains(t, prompt, "tool failed: cancelled")
	assert.Contains(t, prompt, "cancelled before all tools finished")
}

func TestExecutor_MaxConcurrencyBound(t *testing.T) {
	recorder := mocks.NewToolRecorder()
	var steps []fixtures.PlanStep
	var ts []tools.Tool
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("slow_%d", i)
		steps = append(steps, fixtures.PlanStep{Tool: name})
		ts = append(ts, recorder.Wrap(mocks.SlowTool(name, 20*time.Millisecond, map[string]any{"i": i})))
	}
	cfg := testConfig()
	cfg.MaxConcurrency = 2
	exec := NewExecutor(newRoutedProvider(fixtures.PlanJSON(steps...), nil), newRegistry(t, ts...), cfg)

	res, err := exec.Run(testutil.TestContext(t), testTurn())
	require.NoError(t, err)
	assert.Equal(t, 5, res.SuccessCount)
	assert.Equal(t, 5, recorder.GetCallCount())
	assert.LessOrEqual(t, recorder.MaxInFlight(), 2)
}

func TestExecutor_PlanTruncatedToMaxSteps(t *testing.T) {
	steps := []fixtures.PlanStep{{Tool: "a"}, {Tool: "a"}, {Tool: "a"}}
	cfg := testConfig()
	cfg.MaxPlanSteps = 2
	exec := NewExecutor(newRoutedProvider(fixtures.PlanJSON(steps...), nil), newRegistry(t, mocks.EchoTool("a")), cfg)

	res, err := exec.Run(testutil.TestContext(t), testTurn())
	require.NoError(t, err)
	assert.Len(t, res.Plan, 2)
	assert.Len(t, res.Observations, 2)
}

func TestExecutor_EmitsToolEventsAndMetrics(t *testing.T) {
	var mu sync.Mutex
	var events []types.Event
	sink := types.EventSinkFunc(func(_ context.Context, e types.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})
	collector := metrics.NewCollector("reasoning_events_test", nil, prometheus.NewRegistry())

	plan := fixtures.PlanJSON(fixtures.PlanStep{Tool: "a"}, fixtures.PlanStep{Tool: "b"})
	exec := NewExecutor(newRoutedProvider(plan, nil),
		newRegistry(t, mocks.EchoTool("a"), mocks.FailingTool("b", "boom")),
		testConfig(), WithEventSink(sink), WithMetrics(collector))

	_, err := exec.Run(testutil.TestContext(t), testTurn())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	counts := map[types.EventType]int{}
	for _, e := range events {
		counts[e.Type]++
		assert.Equal(t, "s-1", e.SessionID)
		assert.Equal(t, "tech", e.AgentID)
	}
	assert.Equal(t, 2, counts[types.EventToolDispatched])
	assert.Equal(t, 2, counts[types.EventToolCompleted])
}

// 无论工具完成顺序如何，观察结果都与计划步骤一一对应
func TestExecutor_ObservationOrderMatchesPlan(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(rt, "tools")
		r := tools.NewRegistry(nil)
		for i := 0; i < n; i++ {
			delay := time.Duration(rapid.IntRange(0, 5).Draw(rt, "delay_ms")) * time.Millisecond
			name := fmt.Sprintf("t%d", i)
			require.NoError(rt, r.Register(mocks.SlowTool(name, delay, map[string]any{"name": name})))
		}

		order := rapid.Permutation(makeRange(n)).Draw(rt, "order")
		steps := make([]fixtures.PlanStep, 0, n)
		for _, i := range order {
			steps = append(steps, fixtures.PlanStep{Tool: fmt.Sprintf("t%d", i)})
		}

		exec := NewExecutor(newRoutedProvider(fixtures.PlanJSON(steps...), nil), r, testConfig())
		res, err := exec.Run(context.Background(), testTurn())
		require.NoError(rt, err)
		require.Len(rt, res.Observations, n)
		for i, step := range res.Plan {
			obs := res.Observations[i]
			require.Equal(rt, step.Tool, obs.Tool)
			require.Equal(rt, step.Index, obs.StepIndex)
			require.Equal(rt, step.Tool, obs.Payload["name"])
		}
	})
}

func makeRange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestObservation_Render(t *testing.T) {
	assert.Equal(t, "tool failed: timeout after 30s", Observation{Error: "timeout after 30s"}.Render())
	assert.Equal(t, "tool failed: unknown error", Observation{}.Render())
	assert.Equal(t, `{"x":1}`, Observation{Success: true, Payload: map[string]any{"x": 1}}.Render())
}

func TestObservationsByTool(t *testing.T) {
	got := ObservationsByTool([]Observation{
		{Tool: "a", Success: true, Payload: map[string]any{"v": 1}},
		{Tool: "a", Success: false},
		{Tool: "b", Success: true, Payload: map[string]any{"v": 2}},
	})
	assert.Len(t, got["a"], 1)
	assert.Len(t, got["b"], 1)
}
