package consensus

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/BaSui01/agentcouncil/internal/jsonextract"
	"github.com/BaSui01/agentcouncil/types"
)

// UnparseableRationale 投票无法解析时的默认理由
const UnparseableRationale = "vote unparseable"

// directionAliases 模型常见的同义表达
var directionAliases = map[string]types.Direction{
	"bullish":               types.DirectionLong,
	"buy_long":              types.DirectionLong,
	"bearish":               types.DirectionShort,
	"sell":                  types.DirectionShort,
	"wait":                  types.DirectionHold,
	"invest":                types.DirectionBuy,
	"approve":               types.DirectionBuy,
	"reject":                types.DirectionPass,
	"decline":               types.DirectionPass,
	"further_due_diligence": types.DirectionFurtherDD,
	"more_dd":               types.DirectionFurtherDD,
}

type rawVote struct {
	Direction  *string         `json:"direction"`
	Decision   *string         `json:"decision"`
	Confidence json.RawMessage `json:"confidence"`
	Rationale  string          `json:"rationale"`
	Reasoning  string          `json:"reasoning"`
	KeyFactors json.RawMessage `json:"key_factors"`
}

// DefaultVote 返回保守默认投票：中性方向，置信度 0
func DefaultVote(agentID string, role types.AgentRole, set types.DirectionSet) types.AgentVote {
	return types.AgentVote{
		AgentID:    agentID,
		Role:       role,
		Direction:  set.Neutral,
		Confidence: 0,
		Rationale:  UnparseableRationale,
	}
}

// ParseVote 从模型输出中提取投票。依次尝试 ```json 代码块、任意代码块、
// 括号平衡的 JSON 对象、整段文本；方向或置信度缺失、非法时返回默认投票和 false。
func ParseVote(agentID string, role types.AgentRole, raw string, set types.DirectionSet) (types.AgentVote, bool) {
	var candidates []string
	candidates = append(candidates, jsonextract.JSONFences(raw)...)
	candidates = append(candidates, jsonextract.AnyFences(raw)...)
	candidates = append(candidates, jsonextract.Balanced(raw, '{')...)
	candidates = append(candidates, strings.TrimSpace(raw))

	for _, c := range candidates {
		if vote, ok := decodeVote(c, set); ok {
			vote.AgentID = agentID
			vote.Role = role
			return vote, true
		}
	}
	return DefaultVote(agentID, role, set), false
}

func decodeVote(text string, set types.DirectionSet) (types.AgentVote, bool) {
	var rv rawVote
	if err := json.Unmarshal([]byte(text), &rv); err != nil {
		return types.AgentVote{}, false
	}

	dirText := rv.Direction
	if dirText == nil {
		dirText = rv.Decision
	}
	if dirText == nil {
		return types.AgentVote{}, false
	}
	dir, ok := NormalizeDirection(*dirText, set)
	if !ok {
		return types.AgentVote{}, false
	}

	conf, ok := parseConfidence(rv.Confidence)
	if !ok {
		return types.AgentVote{}, false
	}

	rationale := rv.Rationale
	if rationale == "" {
		rationale = rv.Reasoning
	}
	return types.AgentVote{
		Direction:  dir,
		Confidence: conf,
		Rationale:  strings.TrimSpace(rationale),
		KeyFactors: parseKeyFactors(rv.KeyFactors),
	}, true
}

// NormalizeDirection 把方向文本映射到集合内，支持常见别名；"neutral" 映射为集合的中性方向
func NormalizeDirection(raw string, set types.DirectionSet) (types.Direction, bool) {
	if d, ok := set.Normalize(raw); ok {
		return d, true
	}
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if key == "neutral" {
		return set.Neutral, true
	}
	if d, ok := directionAliases[key]; ok && set.Contains(d) {
		return d, true
	}
	return "", false
}

// parseConfidence 支持数字与 "75%" 形式的字符串，结果截断到 [0,100]。
// 严格小于 1 的正小数视为比例（0.65 → 65）；整数 1 仍是 0-100 刻度上的 1。
func parseConfidence(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		if isFraction(num) {
			num *= 100
		}
		return clampConfidence(num), true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	s = strings.TrimSpace(s)
	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if !percent && isFraction(f) {
		f *= 100
	}
	return clampConfidence(f), true
}

func isFraction(f float64) bool { return f > 0 && f < 1 }

func parseKeyFactors(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		var out []string
		for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' || r == '\n' }) {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}
