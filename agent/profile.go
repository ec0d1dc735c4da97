package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/agentcouncil/types"
)

// RoleProfile 是 AgentRole 在构建期解析出的绑定配置：提示词、工具子集与权重先验。
// 运行期只通过 Profile 访问角色配置，不再按角色字符串做匹配。
type RoleProfile struct {
	Role        types.AgentRole    `yaml:"role" json:"role"`
	Name        string             `yaml:"name" json:"name"`
	Instruction string             `yaml:"instruction" json:"instruction"`
	Tools       []string           `yaml:"tools" json:"tools"`
	BaseWeight  float64            `yaml:"base_weight" json:"base_weight"`
	Model       string             `yaml:"model" json:"model"` // 为空时使用全局 Solve 模型
	Votes       bool               `yaml:"votes" json:"votes"` // 是否在回答末尾给出投票
	Directions  types.DirectionSet `yaml:"-" json:"-"`
}

// AnswerSpec 返回 Solve 阶段的输出格式要求
func (p RoleProfile) AnswerSpec() string {
	if !p.Votes {
		return "Write a concise, well-structured synthesis in plain text."
	}
	opts := make([]string, 0, len(p.Directions.Directions))
	for _, d := range p.Directions.Directions {
		opts = append(opts, string(d))
	}
	return fmt.Sprintf("Write your analysis, then end with a ```json block containing exactly one object: "+
		`{"direction": "<%s>", "confidence": <0-100>, "rationale": "<one paragraph>", "key_factors": ["<factor>", ...]}`,
		strings.Join(opts, "|"))
}

// Validate 校验配置完整性
func (p RoleProfile) Validate() error {
	if !p.Role.Valid() {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("unknown agent role: %q", p.Role))
	}
	if p.BaseWeight <= 0 {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("role %s: base weight must be positive", p.Role))
	}
	if p.Votes && len(p.Directions.Directions) == 0 {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("role %s votes but has no direction set", p.Role))
	}
	return nil
}

// Roster 角色到配置的封闭映射
type Roster struct {
	profiles map[types.AgentRole]RoleProfile
}

// NewRoster 校验并登记角色配置，同一角色只能出现一次
func NewRoster(profiles ...RoleProfile) (*Roster, error) {
	r := &Roster{profiles: make(map[types.AgentRole]RoleProfile, len(profiles))}
	for _, p := range profiles {
		if p.Name == "" {
			p.Name = string(p.Role)
		}
		if p.Votes && len(p.Directions.Directions) == 0 {
			p.Directions = DirectionsFor(p.Role)
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.profiles[p.Role]; dup {
			return nil, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("duplicate role profile: %s", p.Role))
		}
		p.Tools = append([]string(nil), p.Tools...)
		r.profiles[p.Role] = p
	}
	return r, nil
}

// Profile 返回角色配置
func (r *Roster) Profile(role types.AgentRole) (RoleProfile, error) {
	p, ok := r.profiles[role]
	if !ok {
		return RoleProfile{}, types.NewError(types.ErrInvalidRequest, fmt.Sprintf("role %s not in roster", role))
	}
	p.Tools = append([]string(nil), p.Tools...)
	return p, nil
}

// Roles 返回已登记的角色，按字典序
func (r *Roster) Roles() []types.AgentRole {
	out := make([]types.AgentRole, 0, len(r.profiles))
	for role := range r.profiles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// BaseWeights 返回每个角色的静态权重先验，供共识聚合使用
func (r *Roster) BaseWeights() map[types.AgentRole]float64 {
	out := make(map[types.AgentRole]float64, len(r.profiles))
	for role, p := range r.profiles {
		out[role] = p.BaseWeight
	}
	return out
}

// DirectionsFor 返回角色所属决策域的方向集合
func DirectionsFor(role types.AgentRole) types.DirectionSet {
	switch role {
	case types.RoleTechnicalAnalyst, types.RoleSentimentAnalyst, types.RoleOnchainAnalyst,
		types.RoleRiskManager, types.RoleTradeLeader:
		return types.TradingDirections
	default:
		return types.InvestmentDirections
	}
}

// DefaultProfiles 返回全部角色的默认配置
func DefaultProfiles() []RoleProfile {
	tradingTools := []string{"get_klines", "calc_indicators"}
	return []RoleProfile{
		{
			Role:        types.RoleFinancialExpert,
			Name:        "Financial Expert",
			Instruction: "You are a financial expert evaluating the target company's financial statements, valuation and unit economics.",
			BaseWeight:  1.2,
			Votes:       true,
		},
		{
			Role:        types.RoleMarketAnalyst,
			Name:        "Market Analyst",
			Instruction: "You are a market analyst assessing market size, growth, competition and positioning.",
			BaseWeight:  1.0,
			Votes:       true,
		},
		{
			Role:        types.RoleTeamEvaluator,
			Name:        "Team Evaluator",
			Instruction: "You evaluate the founding team, execution record and organisational risks.",
			BaseWeight:  0.8,
			Votes:       true,
		},
		{
			Role:        types.RoleRiskAssessor,
			Name:        "Risk Assessor",
			Instruction: "You identify and grade the principal business, financial and regulatory risks.",
			BaseWeight:  1.0,
			Votes:       true,
		},
		{
			Role:        types.RoleLegalAdvisor,
			Name:        "Legal Advisor",
			Instruction: "You review legal structure, compliance exposure and contractual red flags.",
			BaseWeight:  0.9,
			Votes:       true,
		},
		{
			Role:        types.RoleLeader,
			Name:        "Investment Committee Leader",
			Instruction: "You chair the investment committee and synthesise the experts' views into a final recommendation.",
			BaseWeight:  1.0,
		},
		{
			Role:        types.RoleTechnicalAnalyst,
			Name:        "Technical Analyst",
			Instruction: "You analyse price action, trend and momentum indicators for the given symbol.",
			Tools:       tradingTools,
			BaseWeight:  1.0,
			Votes:       true,
		},
		{
			Role:        types.RoleSentimentAnalyst,
			Name:        "Sentiment Analyst",
			Instruction: "You assess market sentiment, funding and positioning for the given symbol.",
			Tools:       tradingTools,
			BaseWeight:  0.8,
			Votes:       true,
		},
		{
			Role:        types.RoleOnchainAnalyst,
			Name:        "On-chain Analyst",
			Instruction: "You interpret on-chain flows and holder behaviour for the given asset.",
			Tools:       tradingTools,
			BaseWeight:  0.9,
			Votes:       true,
		},
		{
			Role:        types.RoleRiskManager,
			Name:        "Risk Manager",
			Instruction: "You judge whether the current setup justifies risk, preferring hold when evidence is weak.",
			Tools:       tradingTools,
			BaseWeight:  1.2,
			Votes:       true,
		},
		{
			Role:        types.RoleTradeLeader,
			Name:        "Trade Leader",
			Instruction: "You lead the trading desk and synthesise the analysts' votes into a single trade plan.",
			BaseWeight:  1.0,
		},
	}
}
