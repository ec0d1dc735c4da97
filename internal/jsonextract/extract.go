// Package jsonextract 从模型输出中提取候选 JSON 片段：代码块与括号平衡的顶层值。
package jsonextract

import (
	"regexp"
	"sort"
	"strings"
)

var (
	jsonFenceRe = regexp.MustCompile("(?s)```[ \t]*(?i:json)[ \t]*\r?\n?(.*?)```")
	anyFenceRe  = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \t]*\r?\n?(.*?)```")
)

// JSONFences 返回所有 ```json 代码块的内容（已去除首尾空白），按出现顺序
func JSONFences(s string) []string {
	return fences(jsonFenceRe, s)
}

// AnyFences 返回所有代码块的内容，语言标记任意
func AnyFences(s string) []string {
	return fences(anyFenceRe, s)
}

func fences(re *regexp.Regexp, s string) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(s, -1) {
		if c := strings.TrimSpace(m[1]); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// Balanced 按出现顺序返回以 open（'[' 或 '{'）开头、括号平衡的顶层片段，
// 忽略 JSON 字符串内部的括号。非贪婪：不会把两个独立片段连成一段。
// 单遍扫描：未闭合或类型不匹配的括号不会导致回溯。
func Balanced(s string, open byte) []string {
	type frame struct {
		ch  byte
		pos int
	}
	var (
		stack    []frame
		spans    [][2]int
		inString bool
		escaped  bool
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			// 括号之外的引号属于正文
			inString = len(stack) > 0
		case '[', '{':
			stack = append(stack, frame{ch: c, pos: i})
		case ']', '}':
			if len(stack) == 0 {
				continue
			}
			top := stack[len(stack)-1]
			if top.ch != pairOf(c) {
				// 不匹配的括号使所有外层片段失效
				stack = stack[:0]
				continue
			}
			stack = stack[:len(stack)-1]
			if top.ch == open {
				spans = append(spans, [2]int{top.pos, i})
			}
		}
	}

	// 内层片段先于外层闭合；按起点排序后贪心保留最外层
	sort.Slice(spans, func(a, b int) bool { return spans[a][0] < spans[b][0] })
	var out []string
	last := -1
	for _, sp := range spans {
		if sp[0] <= last {
			continue
		}
		out = append(out, s[sp[0]:sp[1]+1])
		last = sp[1]
	}
	return out
}

func pairOf(closeCh byte) byte {
	if closeCh == ']' {
		return '['
	}
	return '{'
}
