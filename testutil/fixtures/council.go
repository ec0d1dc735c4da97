// =============================================================================
// 📦 测试数据工厂 - 会议与投票测试数据
// =============================================================================
// 提供预定义的计划文本、投票与 Solve 回答，用于测试
// =============================================================================
package fixtures

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/agentcouncil/types"
)

// PlanStep 构造计划 JSON 时使用的最小步骤描述
type PlanStep struct {
	Tool   string
	Params map[string]any
}

// PlanJSON 把步骤渲染为模型风格的 JSON 数组（序号从 1 开始）
func PlanJSON(steps ...PlanStep) string {
	items := make([]map[string]any, 0, len(steps))
	for i, s := range steps {
		params := s.Params
		if params == nil {
			params = map[string]any{}
		}
		items = append(items, map[string]any{
			"step":    i + 1,
			"tool":    s.Tool,
			"params":  params,
			"purpose": "collect " + s.Tool,
		})
	}
	data, _ := json.Marshal(items)
	return string(data)
}

// FencedPlan 把计划包在 ```json 代码块里，前后带说明文字
func FencedPlan(steps ...PlanStep) string {
	return "Here is my plan:\n```json\n" + PlanJSON(steps...) + "\n```\nI will now wait for results."
}

// EmptyPlan 不需要任何工具的计划
const EmptyPlan = "[]"

// VoteAnswer 渲染 Solve 阶段带投票的回答
func VoteAnswer(direction types.Direction, confidence float64, rationale string) string {
	return fmt.Sprintf("Analysis complete.\n```json\n{\"direction\": %q, \"confidence\": %g, \"rationale\": %q, \"key_factors\": [\"trend\"]}\n```",
		direction, confidence, rationale)
}

// Vote 构造一张投票
func Vote(agentID string, role types.AgentRole, direction types.Direction, confidence float64) types.AgentVote {
	return types.AgentVote{
		AgentID:    agentID,
		Role:       role,
		Direction:  direction,
		Confidence: confidence,
		Rationale:  strings.ToUpper(string(direction)) + " by " + agentID,
	}
}

// TradingVotes 三位分析师投票：两票 long、一票 short
func TradingVotes() []types.AgentVote {
	return []types.AgentVote{
		Vote("tech", types.RoleTechnicalAnalyst, types.DirectionLong, 80),
		Vote("sentiment", types.RoleSentimentAnalyst, types.DirectionLong, 60),
		Vote("onchain", types.RoleOnchainAnalyst, types.DirectionShort, 70),
	}
}
