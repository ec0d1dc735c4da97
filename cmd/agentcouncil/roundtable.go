package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/agent"
	"github.com/BaSui01/agentcouncil/agent/collaboration"
	"github.com/BaSui01/agentcouncil/agent/consensus"
	"github.com/BaSui01/agentcouncil/agent/persistence"
	"github.com/BaSui01/agentcouncil/agent/safety"
	"github.com/BaSui01/agentcouncil/internal/ctxkeys"
	"github.com/BaSui01/agentcouncil/llm"
	"github.com/BaSui01/agentcouncil/llm/tools"
	"github.com/BaSui01/agentcouncil/tools/market"
	"github.com/BaSui01/agentcouncil/types"
)

// =============================================================================
// 🏛️ roundtable 命令
// =============================================================================

// scenario 一种会议形态：参与角色、leader 与投票方向集合
type scenario struct {
	name       string
	roles      []types.AgentRole
	leader     types.AgentRole
	directions types.DirectionSet
}

var scenarios = map[string]scenario{
	"trading": {
		name: "trading",
		roles: []types.AgentRole{
			types.RoleTechnicalAnalyst, types.RoleSentimentAnalyst,
			types.RoleOnchainAnalyst, types.RoleRiskManager,
		},
		leader:     types.RoleTradeLeader,
		directions: types.TradingDirections,
	},
	"investment": {
		name: "investment",
		roles: []types.AgentRole{
			types.RoleFinancialExpert, types.RoleMarketAnalyst, types.RoleTeamEvaluator,
			types.RoleRiskAssessor, types.RoleLegalAdvisor,
		},
		leader:     types.RoleLeader,
		directions: types.InvestmentDirections,
	},
}

// roundtableOptions 一次会议的输入
type roundtableOptions struct {
	Scenario    string
	Task        string
	Symbol      string
	SessionID   string
	EventsTopic string

	// 交易参数，仅 trading 场景使用
	Size     float64
	Leverage float64
	StopPct  float64
	TakePct  float64
}

// roundtableReport 输出到 stdout 的结果
type roundtableReport struct {
	SessionID       string                `json:"session_id"`
	Scenario        string                `json:"scenario"`
	State           collaboration.State   `json:"state"`
	Turns           int                   `json:"turns"`
	Consensus       types.ConsensusResult `json:"consensus"`
	Summary         string                `json:"summary"`
	SummaryFallback bool                  `json:"summary_fallback"`
	FailedAgents    map[string]int        `json:"failed_agents,omitempty"`
	Action          *safety.Action        `json:"action,omitempty"`
	Safety          *types.SafetyDecision `json:"safety,omitempty"`
	Duration        string                `json:"duration"`
}

// runRoundtable 召集一次会议：构建角色与工具、运行会议、聚合共识，
// 交易场景下再经安全闸门检查
func (a *app) runRoundtable(ctx context.Context, opts roundtableOptions) (*roundtableReport, error) {
	sc, ok := scenarios[opts.Scenario]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q (trading|investment)", opts.Scenario)
	}
	if err := requireFlag("task", opts.Task); err != nil {
		return nil, err
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	ctx = ctxkeys.WithSessionID(ctx, opts.SessionID)
	logger := a.logger.With(zap.String("session_id", opts.SessionID), zap.String("scenario", sc.name))

	provider, err := a.provider(ctx)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry(logger)
	source := demoKlineSource(opts.Symbol)
	if err := market.Register(registry, source); err != nil {
		return nil, err
	}

	snapshot, lastClose, err := buildSnapshot(ctx, sc, opts, source)
	if err != nil {
		return nil, err
	}

	roster, err := agent.NewRoster(a.profiles()...)
	if err != nil {
		return nil, err
	}
	sink := a.eventSink(opts.EventsTopic)
	agents, err := a.buildAgents(sc, roster, provider, registry, sink)
	if err != nil {
		return nil, err
	}

	weights, err := a.weightStore()
	if err != nil {
		return nil, err
	}
	aggregator := consensus.NewAggregator(weights, roster.BaseWeights(), sc.directions,
		consensus.WithLogger(logger),
		consensus.WithMetrics(a.metrics),
	)

	store, err := a.sessionStore()
	if err != nil {
		return nil, err
	}

	meeting, err := collaboration.NewMeeting(opts.SessionID, agents, aggregator, a.meetingConfig(string(sc.leader)),
		collaboration.WithLogger(logger),
		collaboration.WithEventSink(sink),
		collaboration.WithMetrics(a.metrics),
		collaboration.WithSanitizer(a.sanitizer),
		collaboration.WithBusOptions(collaboration.WithRecorder(persistence.NewRecorder(store, opts.SessionID))),
	)
	if err != nil {
		return nil, err
	}

	result, err := meeting.Convene(ctx, opts.Task, snapshot)
	if err != nil {
		return nil, err
	}

	if err := store.SaveVotes(ctx, opts.SessionID, result.Votes); err != nil {
		logger.Warn("failed to persist votes", zap.Error(err))
	}
	if err := store.SaveConsensus(ctx, opts.SessionID, result.Consensus); err != nil {
		logger.Warn("failed to persist consensus", zap.Error(err))
	}

	report := &roundtableReport{
		SessionID:       result.SessionID,
		Scenario:        sc.name,
		State:           result.State,
		Turns:           result.Turns,
		Consensus:       result.Consensus,
		Summary:         result.Summary,
		SummaryFallback: result.SummaryFallback,
		FailedAgents:    result.FailedAgents,
		Duration:        result.Duration.Round(time.Millisecond).String(),
	}

	if sc.name == "trading" {
		action, ok := tradeAction(opts, result.Consensus.Direction, lastClose)
		if ok {
			guard, err := a.guard(sink)
			if err != nil {
				return nil, err
			}
			decision, release := guard.Check(ctx, action)
			release()
			report.Action = &action
			report.Safety = &decision
		}
	}
	return report, nil
}

// buildAgents 为场景中的每个角色创建 ReWOOAgent，Agent ID 即角色名
func (a *app) buildAgents(sc scenario, roster *agent.Roster, provider llm.Provider, registry *tools.Registry, sink types.EventSink) ([]agent.Agent, error) {
	rc := a.reasoningConfig()
	roles := append(append([]types.AgentRole(nil), sc.roles...), sc.leader)

	agents := make([]agent.Agent, 0, len(roles))
	for _, role := range roles {
		profile, err := roster.Profile(role)
		if err != nil {
			return nil, err
		}
		ag, err := agent.NewReWOOAgent(string(role), profile, provider, registry, rc,
			agent.WithLogger(a.logger),
			agent.WithEventSink(sink),
			agent.WithMetrics(a.metrics),
		)
		if err != nil {
			return nil, err
		}
		agents = append(agents, ag)
	}
	return agents, nil
}

// demoKlineSource 命令行没有接入交易所行情，使用确定性的合成 K 线
func demoKlineSource(symbol string) *market.StaticKlineSource {
	src := market.NewStaticKlineSource()
	if symbol == "" {
		return src
	}
	from := time.Now().UTC().Truncate(time.Hour).Add(-200 * time.Hour)
	src.Set(symbol, market.SyntheticKlines(100, -0.004, 200, time.Hour, from))
	return src
}

// buildSnapshot 交易场景预取行情与指标写入共享上下文，所有 Agent 看到同一份数据
func buildSnapshot(ctx context.Context, sc scenario, opts roundtableOptions, source market.KlineSource) (agent.Snapshot, decimal.Decimal, error) {
	values := map[string]any{"scenario": sc.name}
	if sc.name != "trading" {
		return agent.NewSnapshot(values), decimal.Zero, nil
	}
	if err := requireFlag("symbol", opts.Symbol); err != nil {
		return agent.Snapshot{}, decimal.Zero, err
	}
	symbol := strings.ToUpper(opts.Symbol)
	klines, err := source.Klines(ctx, symbol, "1h", 100)
	if err != nil {
		return agent.Snapshot{}, decimal.Zero, err
	}
	closes := market.Closes(klines)
	if len(closes) == 0 {
		return agent.Snapshot{}, decimal.Zero, fmt.Errorf("no market data for %s", symbol)
	}
	last := closes[len(closes)-1]

	values["symbol"] = symbol
	values["price"] = last
	ind := market.Indicators(closes, 14, 20)
	if ind.Success {
		for _, k := range []string{"rsi", "rsi_signal", "ema", "price_vs_ema"} {
			if v, ok := ind.Payload[k]; ok {
				values[k] = v
			}
		}
	}
	return agent.NewSnapshot(values), decimal.NewFromFloat(last), nil
}

// tradeAction 把共识方向转换为开仓动作；hold 不产生动作
func tradeAction(opts roundtableOptions, direction types.Direction, entry decimal.Decimal) (safety.Action, bool) {
	side, ok := safety.SideFor(direction)
	if !ok || side == safety.SideClose || entry.IsZero() {
		return safety.Action{}, false
	}
	stop := decimal.NewFromFloat(opts.StopPct)
	take := decimal.NewFromFloat(opts.TakePct)
	one := decimal.NewFromInt(1)

	action := safety.Action{
		SessionID:      opts.SessionID,
		Resource:       strings.ToUpper(opts.Symbol),
		Side:           side,
		RiskIncreasing: true,
		Leverage:       decimal.NewFromFloat(opts.Leverage),
		Size:           decimal.NewFromFloat(opts.Size),
		EntryPrice:     entry,
	}
	if side == safety.SideLong {
		action.StopLoss = entry.Mul(one.Sub(stop))
		action.TakeProfit = entry.Mul(one.Add(take))
	} else {
		action.StopLoss = entry.Mul(one.Add(stop))
		action.TakeProfit = entry.Mul(one.Sub(take))
	}
	if stop.IsZero() {
		action.StopLoss = decimal.Zero
	}
	if take.IsZero() {
		action.TakeProfit = decimal.Zero
	}
	return action, true
}
