package collaboration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentcouncil/agent"
	"github.com/BaSui01/agentcouncil/agent/consensus"
	"github.com/BaSui01/agentcouncil/internal/ctxkeys"
	"github.com/BaSui01/agentcouncil/internal/hosterr"
	"github.com/BaSui01/agentcouncil/internal/metrics"
	"github.com/BaSui01/agentcouncil/internal/telemetry"
	"github.com/BaSui01/agentcouncil/types"
)

// State 会议状态
type State string

const (
	StateInit        State = "INIT"
	StateRunning     State = "RUNNING"
	StateSummarizing State = "SUMMARIZING"
	StateDone        State = "DONE"
	StateError       State = "ERROR"
)

var transitions = map[State][]State{
	StateInit:        {StateRunning},
	StateRunning:     {StateSummarizing, StateError},
	StateSummarizing: {StateDone},
}

// CanTransition 报告 from → to 是否合法
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrSessionFailed 整轮所有 Agent 都失败且没有任何投票
var ErrSessionFailed = errors.New("session failed: no agent completed a turn")

// 消息元数据键
const (
	MetaSummary  = "summary"
	MetaFallback = "fallback"
	MetaFailed   = "turn_failed"
)

// Config 会议配置
type Config struct {
	MaxTurns       int           // Agent 回合总数上限
	MaxDuration    time.Duration // 回合阶段的墙钟预算，进行中的回合在到期时被取消
	LeaderID       string        // 负责总结的 Agent，不参与轮转；为空时使用统计总结
	SummaryRetries int           // leader 失败后的重试次数
	SummaryTimeout time.Duration // 总结阶段预算，不受回合阶段取消影响
	ParallelTurns  int           // 同一轮内并发执行的回合数，<=1 表示严格顺序
	Termination    Predicate     // 额外的终止条件
}

// DefaultConfig 返回默认会议配置
func DefaultConfig() Config {
	return Config{
		MaxTurns:       10,
		MaxDuration:    10 * time.Minute,
		SummaryRetries: 1,
		SummaryTimeout: 2 * time.Minute,
		ParallelTurns:  1,
	}
}

// SessionResult 会议结果
type SessionResult struct {
	SessionID       string                `json:"session_id"`
	State           State                 `json:"state"`
	Turns           int                   `json:"turns"`
	Votes           []types.AgentVote     `json:"votes"`
	Consensus       types.ConsensusResult `json:"consensus"`
	Summary         string                `json:"summary"`
	SummaryFallback bool                  `json:"summary_fallback"`
	History         []types.Message       `json:"history"`
	FailedAgents    map[string]int        `json:"failed_agents,omitempty"`
	Facts           map[string]any        `json:"facts,omitempty"`
	Duration        time.Duration         `json:"duration"`
}

// Option 会议可选项
type Option func(*Meeting)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(m *Meeting) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithEventSink 设置生命周期事件输出
func WithEventSink(sink types.EventSink) Option {
	return func(m *Meeting) {
		if sink != nil {
			m.sink = sink
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Meeting) { m.metrics = c }
}

// WithSanitizer 设置错误脱敏器，Agent 失败消息中只出现引用 ID
func WithSanitizer(s *hosterr.Sanitizer) Option {
	return func(m *Meeting) {
		if s != nil {
			m.sanitizer = s
		}
	}
}

// WithBusOptions 透传消息总线选项（例如 WithRecorder）
func WithBusOptions(opts ...BusOption) Option {
	return func(m *Meeting) { m.busOpts = append(m.busOpts, opts...) }
}

// Meeting 圆桌会议编排器。一个 Meeting 只运行一次。
type Meeting struct {
	id           string
	cfg          Config
	participants []agent.Agent
	leader       agent.Agent
	aggregator   *consensus.Aggregator
	bus          *MessageBus
	busOpts      []BusOption

	mu       sync.RWMutex
	state    State
	task     string
	snapshot agent.Snapshot
	started  time.Time
	turns    int
	votes    map[string]types.AgentVote
	failed   map[string]int

	sink      types.EventSink
	metrics   *metrics.Collector
	sanitizer *hosterr.Sanitizer
	tracer    trace.Tracer
	logger    *zap.Logger
}

// NewMeeting 创建会议。agents 的顺序即轮转顺序；cfg.LeaderID 指定的 Agent 只在总结阶段发言。
func NewMeeting(sessionID string, agents []agent.Agent, aggregator *consensus.Aggregator, cfg Config, opts ...Option) (*Meeting, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if aggregator == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "meeting requires a consensus aggregator")
	}
	def := DefaultConfig()
	if cfg.SummaryRetries < 0 {
		cfg.SummaryRetries = 0
	}
	if cfg.SummaryTimeout <= 0 {
		cfg.SummaryTimeout = def.SummaryTimeout
	}
	if cfg.MaxTurns <= 0 && cfg.MaxDuration <= 0 && cfg.Termination == nil {
		cfg.MaxTurns = def.MaxTurns
	}
	if cfg.ParallelTurns < 1 {
		cfg.ParallelTurns = 1
	}

	m := &Meeting{
		id:         sessionID,
		cfg:        cfg,
		aggregator: aggregator,
		state:      StateInit,
		votes:      make(map[string]types.AgentVote),
		failed:     make(map[string]int),
		sink:       types.NopSink{},
		tracer:     telemetry.Tracer("collaboration"),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "meeting"), zap.String("session_id", sessionID))
	if m.sanitizer == nil {
		m.sanitizer = hosterr.NewSanitizer(m.logger)
	}

	seen := make(map[string]bool, len(agents))
	for _, a := range agents {
		if a == nil {
			continue
		}
		if seen[a.ID()] {
			return nil, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("duplicate agent id: %s", a.ID()))
		}
		if a.ID() == ModeratorID {
			return nil, types.NewError(types.ErrInvalidRequest, "agent id is reserved: "+ModeratorID)
		}
		seen[a.ID()] = true
		if cfg.LeaderID != "" && a.ID() == cfg.LeaderID {
			m.leader = a
			continue
		}
		m.participants = append(m.participants, a)
	}
	if cfg.LeaderID != "" && m.leader == nil {
		return nil, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("leader %s not in roster", cfg.LeaderID))
	}
	if len(m.participants) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "meeting requires at least one participant")
	}

	m.bus = NewMessageBus(sessionID, m.logger, m.busOpts...)
	for _, a := range m.participants {
		m.bus.Register(a.ID())
	}
	if m.leader != nil {
		m.bus.Register(m.leader.ID())
	}
	return m, nil
}

// ID 返回会话 ID
func (m *Meeting) ID() string { return m.id }

// Bus 返回会议的消息总线
func (m *Meeting) Bus() *MessageBus { return m.bus }

// State 返回当前状态
func (m *Meeting) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Meeting) transition(ctx context.Context, to State) error {
	m.mu.Lock()
	from := m.state
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return types.NewError(types.ErrInvalidTransition, fmt.Sprintf("invalid meeting transition %s -> %s", from, to))
	}
	m.state = to
	m.mu.Unlock()

	m.logger.Info("meeting state changed", zap.String("from", string(from)), zap.String("to", string(to)))
	m.sink.Emit(ctx, types.NewEvent(types.EventSessionState, m.id, "", map[string]any{
		"from": string(from),
		"to":   string(to),
	}))
	if to == StateDone || to == StateError {
		m.metrics.RecordSession(string(to))
	}
	return nil
}

// Start 注入任务（主持人广播）并进入 RUNNING
func (m *Meeting) Start(ctx context.Context, task string, snapshot agent.Snapshot) error {
	if strings.TrimSpace(task) == "" {
		return types.NewError(types.ErrInvalidRequest, "meeting task is empty")
	}
	if err := m.transition(ctx, StateRunning); err != nil {
		return err
	}
	m.mu.Lock()
	m.task = task
	m.snapshot = snapshot
	m.started = time.Now()
	m.mu.Unlock()

	m.bus.SendContext(ctx, types.NewBroadcast(ModeratorID, types.MessageBroadcast, task))
	return nil
}

// Convene 依次执行 Start 与 Run
func (m *Meeting) Convene(ctx context.Context, task string, snapshot agent.Snapshot) (*SessionResult, error) {
	if err := m.Start(ctx, task, snapshot); err != nil {
		return nil, err
	}
	return m.Run(ctx)
}

// Run 推进回合直到终止条件成立，然后汇总投票并生成总结。
// 返回 ErrSessionFailed 时结果仍包含已有历史。
func (m *Meeting) Run(ctx context.Context) (*SessionResult, error) {
	if st := m.State(); st != StateRunning {
		return nil, types.NewError(types.ErrInvalidTransition, fmt.Sprintf("meeting not running (state %s)", st))
	}
	ctx = ctxkeys.WithSessionID(ctx, m.id)
	ctx, span := m.tracer.Start(ctx, "meeting.run", trace.WithAttributes(
		attribute.String("session_id", m.id),
		attribute.Int("participants", len(m.participants)),
	))
	defer span.End()

	runCtx := ctx
	if m.cfg.MaxDuration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(ctx, m.started.Add(m.cfg.MaxDuration))
		defer cancel()
	}

	if err := m.runTurns(runCtx); err != nil {
		telemetry.RecordError(span, err)
		if terr := m.transition(ctx, StateError); terr != nil {
			m.logger.Error("enter error state failed", zap.Error(terr))
		}
		return m.result(types.ConsensusResult{}, "", false), err
	}

	if err := m.transition(ctx, StateSummarizing); err != nil {
		return nil, err
	}
	// 总结阶段使用独立预算，回合阶段超时或宿主取消后仍要产出总结
	sumCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.SummaryTimeout)
	defer cancel()

	result := m.aggregator.Aggregate(sumCtx, m.orderedVotes())
	m.sink.Emit(sumCtx, types.NewEvent(types.EventConsensusReached, m.id, "", map[string]any{
		"direction":  string(result.Direction),
		"confidence": result.AggregateConfidence,
		"votes":      len(result.ContributingVotes),
		"dissent":    len(result.DissentNotes),
		"tie_break":  result.TieBreak,
	}))

	summary, fallback := m.summarize(sumCtx, result)
	if err := m.transition(ctx, StateDone); err != nil {
		return nil, err
	}
	res := m.result(result, summary, fallback)
	span.SetAttributes(
		attribute.Int("turns", res.Turns),
		attribute.Int("votes", len(res.Votes)),
		attribute.String("direction", string(result.Direction)),
	)
	m.logger.Info("meeting finished",
		zap.Int("turns", res.Turns),
		zap.Int("votes", len(res.Votes)),
		zap.String("direction", string(result.Direction)),
		zap.Bool("summary_fallback", fallback),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

type turnOutcome struct {
	agent agent.Agent
	out   *agent.TurnOutput
	err   error
}

// runTurns 按轮次推进。一轮内所有有待处理消息的 Agent 各执行一个回合；
// 没有任何 Agent 有待处理消息时回合阶段结束。
func (m *Meeting) runTurns(ctx context.Context) error {
	for round := 1; ; round++ {
		if m.shouldStop(ctx) {
			return nil
		}
		attempted, failed, progressed := 0, 0, false

		if m.cfg.ParallelTurns > 1 {
			outcomes := m.parallelRound(ctx, round)
			for _, o := range outcomes {
				progressed = true
				attempted++
				if !m.apply(ctx, o) {
					failed++
				}
			}
		} else {
			for _, a := range m.participants {
				if m.shouldStop(ctx) {
					break
				}
				inbox := m.bus.Messages(a.ID())
				if len(inbox) == 0 {
					continue
				}
				progressed = true
				attempted++
				if !m.apply(ctx, m.turn(ctx, round, a, inbox)) {
					failed++
				}
			}
		}

		if !progressed {
			m.logger.Debug("no agent has pending messages, ending turns", zap.Int("round", round))
			return nil
		}
		if attempted > 0 && failed == attempted && m.voteCount() == 0 {
			m.logger.Error("every agent failed in round and no vote exists",
				zap.Int("round", round), zap.Int("failed", failed))
			return fmt.Errorf("%w (round %d, %d agents failed)", ErrSessionFailed, round, failed)
		}
	}
}

// parallelRound 在轮开始时取走所有收件箱，并发执行，结果按轮转顺序返回
func (m *Meeting) parallelRound(ctx context.Context, round int) []turnOutcome {
	budget := len(m.participants)
	if m.cfg.MaxTurns > 0 {
		budget = m.cfg.MaxTurns - m.turnCount()
	}
	type ready struct {
		agent agent.Agent
		inbox []types.Message
	}
	var batch []ready
	for _, a := range m.participants {
		if len(batch) >= budget {
			break
		}
		if inbox := m.bus.Messages(a.ID()); len(inbox) > 0 {
			batch = append(batch, ready{agent: a, inbox: inbox})
		}
	}

	outcomes := make([]turnOutcome, len(batch))
	var g errgroup.Group
	g.SetLimit(m.cfg.ParallelTurns)
	for i, r := range batch {
		g.Go(func() error {
			outcomes[i] = m.turn(ctx, round, r.agent, r.inbox)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (m *Meeting) turn(ctx context.Context, round int, a agent.Agent, inbox []types.Message) turnOutcome {
	m.mu.Lock()
	m.turns++
	task, snap := m.task, m.snapshot
	m.mu.Unlock()

	ctx = ctxkeys.WithRound(ctxkeys.WithAgentID(ctx, a.ID()), round)
	ctx, span := m.tracer.Start(ctx, "meeting.turn", trace.WithAttributes(
		attribute.String("agent_id", a.ID()),
		attribute.Int("round", round),
	))
	defer span.End()

	out, err := a.Respond(ctx, agent.TurnInput{SessionID: m.id, Task: task, Context: snap, Inbox: inbox})
	if err != nil {
		telemetry.RecordError(span, err)
	}
	return turnOutcome{agent: a, out: out, err: err}
}

// apply 发布回合结果；失败的回合记为一条 thinking 消息。返回回合是否成功。
func (m *Meeting) apply(ctx context.Context, o turnOutcome) bool {
	id := o.agent.ID()
	if o.err != nil || o.out == nil {
		err := o.err
		if err == nil {
			err = errors.New("agent returned no output")
		}
		pub := m.sanitizer.Sanitize(ctxkeys.WithAgentID(ctx, id), err)
		m.mu.Lock()
		m.failed[id]++
		m.mu.Unlock()
		m.logger.Warn("agent turn failed, session continues",
			zap.String("agent_id", id), zap.String("reference_id", pub.ReferenceID))
		m.bus.SendContext(ctx, types.NewBroadcast(id, types.MessageThinking, "turn failed: "+pub.Error()).
			WithMetadata(MetaFailed, "true"))
		return false
	}

	for _, msg := range o.out.Messages {
		if !m.bus.SendContext(ctx, msg) {
			m.logger.Warn("agent message rejected by bus", zap.String("agent_id", id), zap.String("msg_id", msg.ID))
		}
	}

	m.mu.Lock()
	if o.out.Vote != nil {
		m.votes[id] = *o.out.Vote
	}
	if len(o.out.Facts) > 0 {
		m.snapshot = m.snapshot.Merge(o.out.Facts)
	}
	m.mu.Unlock()

	if v := o.out.Vote; v != nil {
		m.sink.Emit(ctx, types.NewEvent(types.EventVoteRecorded, m.id, id, map[string]any{
			"direction":  string(v.Direction),
			"confidence": v.Confidence,
			"degraded":   o.out.Degraded,
		}))
	}
	return true
}

func (m *Meeting) shouldStop(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	view := m.view()
	if MaxTurns(m.cfg.MaxTurns)(view) || MaxDuration(m.cfg.MaxDuration)(view) {
		return true
	}
	return m.cfg.Termination != nil && m.cfg.Termination(view)
}

func (m *Meeting) view() View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	votes := make(map[string]types.AgentVote, len(m.votes))
	for k, v := range m.votes {
		votes[k] = v
	}
	return View{
		Turns:   m.turns,
		Elapsed: time.Since(m.started),
		History: m.bus.History(),
		Votes:   votes,
	}
}

func (m *Meeting) turnCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.turns
}

func (m *Meeting) voteCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.votes)
}

// orderedVotes 按轮转顺序返回每个 Agent 的最新投票
func (m *Meeting) orderedVotes() []types.AgentVote {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.AgentVote, 0, len(m.votes))
	for _, a := range m.participants {
		if v, ok := m.votes[a.ID()]; ok {
			out = append(out, v)
		}
	}
	return out
}

// summarize 由 leader 生成总结，失败重试 SummaryRetries 次，仍失败时使用统计总结
func (m *Meeting) summarize(ctx context.Context, result types.ConsensusResult) (string, bool) {
	if m.leader != nil {
		m.mu.RLock()
		task, snap := m.task, m.snapshot
		m.mu.RUnlock()

		in := agent.TurnInput{
			SessionID: m.id,
			Task:      SummaryTask(task, result),
			Context:   snap.With("consensus", consensusFacts(result)),
			Inbox:     m.bus.Messages(m.leader.ID()),
		}
		lctx := ctxkeys.WithAgentID(ctx, m.leader.ID())
		for attempt := 0; attempt <= m.cfg.SummaryRetries; attempt++ {
			out, err := m.leader.Respond(lctx, in)
			if err == nil && out != nil && strings.TrimSpace(out.Answer) != "" {
				msg := types.NewBroadcast(m.leader.ID(), types.MessageBroadcast, out.Answer).
					WithMetadata(MetaSummary, "true")
				m.bus.SendContext(ctx, msg)
				return out.Answer, false
			}
			if err == nil {
				err = errors.New("leader returned empty summary")
			}
			m.logger.Warn("leader summary failed",
				zap.String("leader_id", m.leader.ID()),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		}
	}

	summary := m.statisticalSummary(result)
	m.bus.SendContext(ctx, types.NewBroadcast(ModeratorID, types.MessageBroadcast, summary).
		WithMetadata(MetaSummary, "true").
		WithMetadata(MetaFallback, "true"))
	return summary, true
}

// SummaryTask 渲染交给 leader 的总结任务
func SummaryTask(task string, result types.ConsensusResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original task: %s\n\n", task)
	fmt.Fprintf(&b, "Weighted consensus: %s at %.1f confidence", result.Direction, result.AggregateConfidence)
	if result.TieBreak != "" {
		fmt.Fprintf(&b, " (tie broken by %s)", result.TieBreak)
	}
	b.WriteString("\nVotes:\n")
	for _, wv := range result.ContributingVotes {
		fmt.Fprintf(&b, "- %s (%s, weight %.2f): %s %.0f. %s\n",
			wv.Vote.AgentID, wv.Vote.Role, wv.EffectiveWeight, wv.Vote.Direction, wv.Vote.Confidence, wv.Vote.Rationale)
	}
	if len(result.DissentNotes) > 0 {
		b.WriteString("Dissent:\n")
		for _, d := range result.DissentNotes {
			fmt.Fprintf(&b, "- %s argued %s: %s\n", d.AgentID, d.Direction, d.Rationale)
		}
	}
	b.WriteString("\nWrite the final recommendation for the committee, addressing the dissenting views.")
	return b.String()
}

func consensusFacts(r types.ConsensusResult) map[string]any {
	return map[string]any{
		"direction":  string(r.Direction),
		"confidence": r.AggregateConfidence,
		"votes":      len(r.ContributingVotes),
		"dissent":    len(r.DissentNotes),
	}
}

// statisticalSummary 不依赖 LLM 的兜底总结
func (m *Meeting) statisticalSummary(result types.ConsensusResult) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	participants := make([]string, 0, len(m.participants))
	for _, a := range m.participants {
		participants = append(participants, a.ID())
	}
	failed := make([]string, 0, len(m.failed))
	for id, n := range m.failed {
		failed = append(failed, fmt.Sprintf("%s x%d", id, n))
	}
	sort.Strings(failed)

	var b strings.Builder
	fmt.Fprintf(&b, "Session %s summary (statistical): %d turns by %d participants [%s]. ",
		m.id, m.turns, len(participants), strings.Join(participants, ", "))
	fmt.Fprintf(&b, "Consensus %s at %.1f from %d votes with %d dissenting.",
		result.Direction, result.AggregateConfidence, len(result.ContributingVotes), len(result.DissentNotes))
	if len(failed) > 0 {
		fmt.Fprintf(&b, " Failed turns: %s.", strings.Join(failed, ", "))
	}
	return b.String()
}

func (m *Meeting) result(c types.ConsensusResult, summary string, fallback bool) *SessionResult {
	votes := m.orderedVotes()
	m.mu.RLock()
	defer m.mu.RUnlock()
	failed := make(map[string]int, len(m.failed))
	for k, v := range m.failed {
		failed[k] = v
	}
	return &SessionResult{
		SessionID:       m.id,
		State:           m.state,
		Turns:           m.turns,
		Votes:           votes,
		Consensus:       c,
		Summary:         summary,
		SummaryFallback: fallback,
		History:         m.bus.History(),
		FailedAgents:    failed,
		Facts:           m.snapshot.ToMap(),
		Duration:        time.Since(m.started),
	}
}
