package reasoning

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/BaSui01/agentcouncil/internal/jsonextract"
)

// Strategy 标识计划 JSON 是通过哪种方式从模型输出中提取出来的
type Strategy string

const (
	StrategyJSONFence Strategy = "json_fence" // ```json ... ```
	StrategyAnyFence  Strategy = "any_fence"  // ``` ... ```（任意语言标记）
	StrategyBracket   Strategy = "bracket"    // 文本中第一个可解析的顶层 JSON 数组
	StrategyRaw       Strategy = "raw"        // 整个响应
)

// ErrPlanUnparseable 四种提取策略全部失败
var ErrPlanUnparseable = errors.New("plan: no parseable JSON array in response")

// PlanStep 计划中的一步
type PlanStep struct {
	Index   int            `json:"step"`
	Tool    string         `json:"tool"`
	Params  map[string]any `json:"params"`
	Purpose string         `json:"purpose,omitempty"`
}

// UnmarshalJSON 兼容模型常见的字段别名：
// step_index / tool_name / parameters / arguments / rationale
func (s *PlanStep) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*s = PlanStep{}
	if v, ok := pick(raw, "step", "step_index", "index"); ok {
		idx, err := decodeIndex(v)
		if err != nil {
			return fmt.Errorf("step index: %w", err)
		}
		s.Index = idx
	}
	if v, ok := pick(raw, "tool", "tool_name", "name"); ok {
		if err := json.Unmarshal(v, &s.Tool); err != nil {
			return fmt.Errorf("tool: %w", err)
		}
	}
	if v, ok := pick(raw, "params", "parameters", "arguments", "args"); ok && !isNull(v) {
		params, err := decodeParams(v)
		if err != nil {
			return fmt.Errorf("params: %w", err)
		}
		s.Params = params
	}
	if v, ok := pick(raw, "purpose", "rationale", "reason"); ok && !isNull(v) {
		if err := json.Unmarshal(v, &s.Purpose); err != nil {
			return fmt.Errorf("purpose: %w", err)
		}
	}
	if s.Params == nil {
		s.Params = map[string]any{}
	}
	return nil
}

func pick(raw map[string]json.RawMessage, keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func decodeIndex(v json.RawMessage) (int, error) {
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	var anyVal any
	if err := dec.Decode(&anyVal); err != nil {
		return 0, err
	}
	switch x := anyVal.(type) {
	case json.Number:
		n = x
	case string:
		n = json.Number(strings.TrimPrefix(strings.TrimSpace(x), "#"))
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported step index %s", string(v))
	}
	if i, err := strconv.Atoi(n.String()); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// decodeParams 接受对象，或被模型转义成字符串的对象
func decodeParams(v json.RawMessage) (map[string]any, error) {
	var params map[string]any
	if err := json.Unmarshal(v, &params); err == nil {
		return params, nil
	}
	var str string
	if err := json.Unmarshal(v, &str); err != nil {
		return nil, fmt.Errorf("expected object, got %s", string(v))
	}
	if strings.TrimSpace(str) == "" {
		return map[string]any{}, nil
	}
	if err := json.Unmarshal([]byte(str), &params); err != nil {
		return nil, fmt.Errorf("expected object, got string %q", str)
	}
	return params, nil
}

// ExtractPlan 依次尝试四种策略，返回第一段能解码为计划的 JSON 文本。
// 对返回的文本再次调用 ParsePlan 会得到相同的计划。
func ExtractPlan(raw string) (string, Strategy, bool) {
	for _, c := range jsonextract.JSONFences(raw) {
		if decodes(c) {
			return c, StrategyJSONFence, true
		}
	}
	for _, c := range jsonextract.AnyFences(raw) {
		if decodes(c) {
			return c, StrategyAnyFence, true
		}
	}
	for _, c := range balancedArrays(raw) {
		if decodes(c) {
			return c, StrategyBracket, true
		}
	}
	if c := strings.TrimSpace(raw); decodes(c) {
		return c, StrategyRaw, true
	}
	return "", "", false
}

// ParsePlan 从模型输出中解析计划。解析失败返回 ErrPlanUnparseable，
// 调用方应把它当作空计划处理而不是中止会话。
func ParsePlan(raw string) ([]PlanStep, Strategy, error) {
	text, strategy, ok := ExtractPlan(raw)
	if !ok {
		return nil, "", ErrPlanUnparseable
	}
	steps, err := decodePlan(text)
	if err != nil {
		return nil, "", err
	}
	return steps, strategy, nil
}

func decodes(text string) bool {
	if text == "" {
		return false
	}
	_, err := decodePlan(text)
	return err == nil
}

// decodePlan 解码 JSON 数组；也接受 {"plan": [...]} / {"steps": [...]} 包装。
// 缺失的 step 序号按位置补齐（从 1 开始）。
func decodePlan(text string) ([]PlanStep, error) {
	text = strings.TrimSpace(text)
	var steps []PlanStep
	switch {
	case strings.HasPrefix(text, "["):
		if err := json.Unmarshal([]byte(text), &steps); err != nil {
			return nil, err
		}
	case strings.HasPrefix(text, "{"):
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal([]byte(text), &wrapper); err != nil {
			return nil, err
		}
		inner, ok := pick(wrapper, "plan", "steps")
		if !ok {
			return nil, ErrPlanUnparseable
		}
		if err := json.Unmarshal(inner, &steps); err != nil {
			return nil, err
		}
	default:
		return nil, ErrPlanUnparseable
	}

	if steps == nil {
		steps = []PlanStep{}
	}
	for i := range steps {
		if steps[i].Index <= 0 {
			steps[i].Index = i + 1
		}
	}
	return steps, nil
}

// balancedArrays 按出现顺序返回文本中所有括号平衡的顶层 [...] 片段
func balancedArrays(s string) []string {
	return jsonextract.Balanced(s, '[')
}
