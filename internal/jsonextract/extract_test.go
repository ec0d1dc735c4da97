package jsonextract

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFences(t *testing.T) {
	s := "a\n```json\n{\"x\":1}\n```\nb\n```python\nprint(1)\n```\n```\n[2]\n```"
	assert.Equal(t, []string{`{"x":1}`}, JSONFences(s))
	assert.Equal(t, []string{`{"x":1}`, "print(1)", "[2]"}, AnyFences(s))
	assert.Empty(t, JSONFences("no fences"))
}

func TestBalanced(t *testing.T) {
	assert.Equal(t, []string{"[1,[2]]", `["]"]`}, Balanced(`x [1,[2]] y ["]"] z [unclosed`, '['))
	assert.Equal(t, []string{`{"a":{"b":"}"}}`, `{}`}, Balanced(`pre {"a":{"b":"}"}} mid {} post {`, '{'))
	assert.Empty(t, Balanced("[ { ] }", '['))
	assert.Equal(t, []string{`{"q":"\"]"}`}, Balanced(`{"q":"\"]"}`, '{'))
}

func TestBalanced_UnclosedOpeners(t *testing.T) {
	assert.Equal(t, []string{"[1]"}, Balanced("[ [1]", '['))
	assert.Equal(t, []string{"[2]"}, Balanced(`{ "plan": [2] `, '['))
	assert.Equal(t, []string{`{"a":[1]}`}, Balanced(`[ {"a":[1]} }`, '{'))

	// 大量未闭合的括号必须线性完成
	input := strings.Repeat("[", 200_000) + "tail"
	start := time.Now()
	assert.Empty(t, Balanced(input, '['))
	assert.Less(t, time.Since(start), time.Second)
}
