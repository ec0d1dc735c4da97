package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/BaSui01/agentcouncil/agent/persistence"
	"github.com/BaSui01/agentcouncil/agent/reflection"
	"github.com/BaSui01/agentcouncil/internal/ctxkeys"
)

// =============================================================================
// 📼 replay / reflect 命令
// =============================================================================

// replaySession 按追加顺序打印会话历史与投票
func (a *app) replaySession(ctx context.Context, sessionID string, w io.Writer) error {
	if err := requireFlag("session", sessionID); err != nil {
		return err
	}
	store, err := a.sessionStore()
	if err != nil {
		return err
	}
	log, err := store.Load(ctx, sessionID)
	if err != nil {
		return err
	}

	history, votes := persistence.Replay(log)
	fmt.Fprintf(w, "session %s (%d messages, %d votes)\n", log.SessionID, len(history), len(votes))
	for _, m := range history {
		fmt.Fprintf(w, "[%s] %s -> %s (%s): %s\n",
			m.Timestamp.Format(time.RFC3339), m.Sender, m.Recipient, m.Type, oneLine(m.Content))
	}
	for _, v := range votes {
		fmt.Fprintf(w, "vote %s (%s): %s %.0f\n", v.AgentID, v.Role, v.Direction, v.Confidence)
	}
	if log.Consensus != nil {
		fmt.Fprintf(w, "consensus: %s %.1f\n", log.Consensus.Direction, log.Consensus.AggregateConfidence)
	}
	if log.Outcome != nil {
		fmt.Fprintf(w, "outcome: pnl %s favorable %q\n", log.Outcome.PnL, log.Outcome.FavorableDirection)
	}
	return nil
}

// reflectSession 用已平仓盈亏对会话做反思：保存结果、调整权重并写入反思记录
func (a *app) reflectSession(ctx context.Context, sessionID, pnl string) (*reflection.Record, error) {
	if err := requireFlag("session", sessionID); err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(pnl)
	if err != nil {
		return nil, fmt.Errorf("invalid --pnl %q: %w", pnl, err)
	}
	ctx = ctxkeys.WithSessionID(ctx, sessionID)

	store, err := a.sessionStore()
	if err != nil {
		return nil, err
	}
	log, err := store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if log.Consensus == nil {
		return nil, fmt.Errorf("session %s has no consensus to reflect on", sessionID)
	}

	engine, err := a.reflectionEngine()
	if err != nil {
		return nil, err
	}
	outcome := reflection.TradeOutcome(sessionID, *log.Consensus, amount)
	if err := store.SaveOutcome(ctx, sessionID, outcome); err != nil {
		return nil, err
	}
	rec, err := engine.Reflect(ctx, outcome)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 160 {
		return string(r[:157]) + "..."
	}
	return s
}
