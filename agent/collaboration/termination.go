package collaboration

import (
	"time"

	"github.com/BaSui01/agentcouncil/types"
)

// View 终止条件判断时可见的会议状态
type View struct {
	Turns   int
	Elapsed time.Duration
	History []types.Message
	Votes   map[string]types.AgentVote
}

// Predicate 返回 true 表示会议应结束回合阶段
type Predicate func(View) bool

// MaxTurns 回合数达到 n 时结束
func MaxTurns(n int) Predicate {
	return func(v View) bool { return n > 0 && v.Turns >= n }
}

// MaxDuration 耗时达到 d 时结束
func MaxDuration(d time.Duration) Predicate {
	return func(v View) bool { return d > 0 && v.Elapsed >= d }
}

// ConsecutiveAgreements 历史末尾连续 n 条 agreement 消息时结束
func ConsecutiveAgreements(n int) Predicate {
	return func(v View) bool {
		if n <= 0 {
			return false
		}
		count := 0
		for i := len(v.History) - 1; i >= 0 && count < n; i-- {
			if v.History[i].Type != types.MessageAgreement {
				return false
			}
			count++
		}
		return count >= n
	}
}

// AllVoted 所有指定 Agent 都已投票时结束
func AllVoted(agentIDs ...string) Predicate {
	return func(v View) bool {
		if len(agentIDs) == 0 {
			return false
		}
		for _, id := range agentIDs {
			if _, ok := v.Votes[id]; !ok {
				return false
			}
		}
		return true
	}
}

// AnyOf 任一条件成立即结束
func AnyOf(preds ...Predicate) Predicate {
	return func(v View) bool {
		for _, p := range preds {
			if p != nil && p(v) {
				return true
			}
		}
		return false
	}
}
