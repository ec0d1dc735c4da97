package types

import "fmt"

// AgentRole 封闭的 Agent 角色集合
// 角色在 Agent 构建时解析为绑定的配置对象，运行期不再做字符串匹配
type AgentRole string

const (
	// 投资尽调圆桌
	RoleFinancialExpert AgentRole = "financial_expert"
	RoleMarketAnalyst   AgentRole = "market_analyst"
	RoleTeamEvaluator   AgentRole = "team_evaluator"
	RoleRiskAssessor    AgentRole = "risk_assessor"
	RoleLegalAdvisor    AgentRole = "legal_advisor"
	RoleLeader          AgentRole = "leader"

	// 交易决策
	RoleTechnicalAnalyst AgentRole = "technical_analyst"
	RoleSentimentAnalyst AgentRole = "sentiment_analyst"
	RoleOnchainAnalyst   AgentRole = "onchain_analyst"
	RoleRiskManager      AgentRole = "risk_manager"
	RoleTradeLeader      AgentRole = "trade_leader"
)

// AllRoles 返回全部角色，顺序固定，便于测试枚举
func AllRoles() []AgentRole {
	return []AgentRole{
		RoleFinancialExpert, RoleMarketAnalyst, RoleTeamEvaluator, RoleRiskAssessor, RoleLegalAdvisor, RoleLeader,
		RoleTechnicalAnalyst, RoleSentimentAnalyst, RoleOnchainAnalyst, RoleRiskManager, RoleTradeLeader,
	}
}

// Valid 判断角色是否属于封闭集合
func (r AgentRole) Valid() bool {
	for _, role := range AllRoles() {
		if r == role {
			return true
		}
	}
	return false
}

// IsLeader 判断是否为负责最终综合的角色
func (r AgentRole) IsLeader() bool {
	return r == RoleLeader || r == RoleTradeLeader
}

// ParseAgentRole 解析角色字符串，未知角色返回错误
func ParseAgentRole(s string) (AgentRole, error) {
	r := AgentRole(s)
	if !r.Valid() {
		return "", NewError(ErrInvalidRequest, fmt.Sprintf("unknown agent role: %q", s))
	}
	return r, nil
}
