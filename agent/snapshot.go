package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Snapshot 是一回合可见的不可变上下文（历史结论、结构化事实）。
// 读取返回深拷贝，With/Merge 返回新快照，原快照不受影响，
// 因此一个 Agent 的工具输出不会在会话中途改写其他 Agent 的视图。
type Snapshot struct {
	values map[string]any
}

// NewSnapshot 以 values 的深拷贝创建快照
func NewSnapshot(values map[string]any) Snapshot {
	s := Snapshot{values: make(map[string]any, len(values))}
	for k, v := range values {
		s.values[k] = cloneValue(v)
	}
	return s
}

// Get 返回 key 对应值的深拷贝
func (s Snapshot) Get(key string) (any, bool) {
	v, ok := s.values[key]
	if !ok {
		return nil, false
	}
	return cloneValue(v), true
}

// GetString 读取字符串值
func (s Snapshot) GetString(key string) string {
	v, _ := s.values[key].(string)
	return v
}

// With 返回设置了 key 的新快照
func (s Snapshot) With(key string, value any) Snapshot {
	return s.Merge(map[string]any{key: value})
}

// Merge 返回合并了 values 的新快照，同名键以 values 为准
func (s Snapshot) Merge(values map[string]any) Snapshot {
	next := Snapshot{values: make(map[string]any, len(s.values)+len(values))}
	for k, v := range s.values {
		// 已有值不会被修改，可以共享
		next.values[k] = v
	}
	for k, v := range values {
		next.values[k] = cloneValue(v)
	}
	return next
}

// Keys 返回排序后的键
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len 返回键数量
func (s Snapshot) Len() int { return len(s.values) }

// ToMap 返回全部键值的深拷贝
func (s Snapshot) ToMap() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = cloneValue(v)
	}
	return out
}

// Render 以稳定顺序渲染为提示词文本
func (s Snapshot) Render() string {
	if len(s.values) == 0 {
		return ""
	}
	var b strings.Builder
	for _, k := range s.Keys() {
		v := s.values[k]
		switch x := v.(type) {
		case string:
			fmt.Fprintf(&b, "- %s: %s\n", k, x)
		default:
			data, err := json.Marshal(x)
			if err != nil {
				fmt.Fprintf(&b, "- %s: %v\n", k, x)
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", k, data)
		}
	}
	return b.String()
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = cloneValue(item)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(x))
		for i, item := range x {
			out[i], _ = cloneValue(item).(map[string]any)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(x))
		for k, item := range x {
			out[k] = item
		}
		return out
	case []string:
		return append([]string(nil), x...)
	case []float64:
		return append([]float64(nil), x...)
	case []int:
		return append([]int(nil), x...)
	default:
		return v
	}
}
